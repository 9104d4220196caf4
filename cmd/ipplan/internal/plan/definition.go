package plan

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// A Definition is the parsed content of an input file. It declares the
// address blocks and vlan pools to carve from, the reusable allocation
// schemas and the ipam sections that instantiate them.
type Definition struct {
	Subnets   SubnetDefs             `yaml:"subnet"`
	VlanPools map[string]VlanPoolDef `yaml:"vlan_pool"`
	Schemas   map[string]Schema      `yaml:"schema"`
	Sections  Sections               `yaml:"ipam"`
}

// A SubnetDef declares a named address block, either as a literal cidr or
// derived from a parent block by prefix length.
type SubnetDef struct {
	Name      string `yaml:"-"`
	CIDR      string `yaml:"cidr"`
	From      string `yaml:"from"`
	PrefixLen int    `yaml:"prefixlen"`
}

// SubnetDefs keeps the subnet definitions in declaration order. Order
// matters because sibling blocks derived from the same parent are carved
// in declaration order.
type SubnetDefs []SubnetDef

// A VlanPoolDef declares an inclusive range of vlan ids.
type VlanPoolDef struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// A Schema is an ordered, reusable list of allocation slots. Schemas are
// immutable templates, shared by name between sections.
type Schema []SlotSpec

// A SlotSpec is one named allocation request within a schema. Exactly one
// of PrefixLen and Size must be set. A negative size selects a relative
// sizing policy, see the allocation engine.
type SlotSpec struct {
	Name      string                 `yaml:"name"`
	Label     string                 `yaml:"label"`
	From      string                 `yaml:"from"`
	PrefixLen *int                   `yaml:"prefixlen"`
	Size      *int                   `yaml:"size"`
	Metadata  map[string]interface{} `yaml:"metadata"`
}

// A Section is one named allocation target. The label bindings select
// which block, pool or previously allocated slot each schema slot draws
// from. Section metadata is merged into every slot, slot keys win.
type Section struct {
	Name      string                 `yaml:"-"`
	Schema    string                 `yaml:"schema"`
	Subnets   map[string]string      `yaml:"subnet"`
	VlanPools map[string]string      `yaml:"vlan_pool"`
	IPRanges  map[string]string      `yaml:"ip_range"`
	Metadata  map[string]interface{} `yaml:"metadata"`
}

// Sections keeps the ipam sections in declaration order. Order is
// significant, later sections may carve from slots of earlier ones.
type Sections []Section

func (s *Sections) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return DefinitionError("ipam must be a mapping of section names")
	}
	seen := map[string]bool{}
	for i := 0; i < len(value.Content); i += 2 {
		name := value.Content[i].Value
		if seen[name] {
			return DefinitionError("duplicate ipam section %q", name)
		}
		seen[name] = true

		var sec Section
		if err := value.Content[i+1].Decode(&sec); err != nil {
			return DefinitionError("ipam section %q is malformed: %v", name, err)
		}
		sec.Name = name
		*s = append(*s, sec)
	}
	return nil
}

func (d SubnetDefs) Get(name string) (SubnetDef, bool) {
	for _, def := range d {
		if def.Name == name {
			return def, true
		}
	}
	return SubnetDef{}, false
}

func (d *SubnetDefs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return DefinitionError("subnet must be a mapping of block names")
	}
	for i := 0; i < len(value.Content); i += 2 {
		name := value.Content[i].Value
		if _, ok := d.Get(name); ok {
			return DefinitionError("duplicate subnet %q", name)
		}

		var def SubnetDef
		if err := value.Content[i+1].Decode(&def); err != nil {
			return DefinitionError("subnet %q is malformed: %v", name, err)
		}
		def.Name = name
		*d = append(*d, def)
	}
	return nil
}

// SectionByName returns the section with the given name, nil if there is none.
func (d *Definition) SectionByName(name string) *Section {
	for i := range d.Sections {
		if d.Sections[i].Name == name {
			return &d.Sections[i]
		}
	}
	return nil
}

// ParseDefinition parses and validates an input file.
func ParseDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, DefinitionError("cannot parse input: %v", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the definition for inconsistencies that can be detected
// without allocating anything, so that a faulty definition never produces
// a partially correct plan. Everything it finds is a definition error.
func (d *Definition) Validate() error {
	for _, def := range d.Subnets {
		switch {
		case def.CIDR != "" && def.From != "":
			return DefinitionError("subnet %q must not combine cidr and from", def.Name)
		case def.CIDR == "" && def.From == "":
			return DefinitionError("subnet %q needs either a cidr or a from/prefixlen derivation", def.Name)
		case def.From != "" && def.PrefixLen <= 0:
			return DefinitionError("subnet %q is derived from %q and needs a positive prefixlen", def.Name, def.From)
		}
	}

	for name, schema := range d.Schemas {
		if err := validateSchema(name, schema); err != nil {
			return err
		}
	}

	for i := range d.Sections {
		if err := d.validateSection(&d.Sections[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateSchema(name string, schema Schema) error {
	if len(schema) == 0 {
		return DefinitionError("schema %q has no slots", name)
	}
	seen := map[string]bool{}
	for _, s := range schema {
		if s.Name == "" {
			return DefinitionError("schema %q contains a slot without a name", name)
		}
		if seen[s.Name] {
			return DefinitionError("schema %q contains slot %q more than once", name, s.Name)
		}
		seen[s.Name] = true

		switch {
		case s.PrefixLen != nil && s.Size != nil:
			return DefinitionError("schema %q slot %q must not combine prefixlen and size", name, s.Name)
		case s.PrefixLen == nil && s.Size == nil:
			return DefinitionError("schema %q slot %q needs either a prefixlen or a size", name, s.Name)
		case s.Size != nil && *s.Size == 0:
			return DefinitionError("schema %q slot %q requests a size of zero", name, s.Name)
		case s.From != "" && s.PrefixLen != nil:
			return DefinitionError("schema %q slot %q must use size when carving from slot %q", name, s.Name, s.From)
		case s.From == "" && s.Label == "":
			return DefinitionError("schema %q slot %q needs a label", name, s.Name)
		}

		if s.From != "" {
			if !seen[s.From] {
				return DefinitionError("schema %q slot %q carves from undefined or later slot %q", name, s.Name, s.From)
			}
		}
	}
	return nil
}

func (d *Definition) validateSection(sec *Section) error {
	schema, ok := d.Schemas[sec.Schema]
	if !ok {
		return DefinitionError("section %q references undefined schema %q", sec.Name, sec.Schema)
	}
	_ = schema

	for label, subnet := range sec.Subnets {
		if _, ok := d.Subnets.Get(subnet); !ok {
			return DefinitionError("section %q binds label %q to undefined subnet %q", sec.Name, label, subnet)
		}
	}
	for label, pool := range sec.VlanPools {
		if _, ok := d.VlanPools[pool]; !ok {
			return DefinitionError("section %q binds label %q to undefined vlan pool %q", sec.Name, label, pool)
		}
	}
	for label, ref := range sec.IPRanges {
		if err := d.validateRangeRef(sec, label, ref); err != nil {
			return err
		}
	}
	return nil
}

// validateRangeRef checks an ip_range binding, either a bare block name or
// a section.slot path into another section.
func (d *Definition) validateRangeRef(sec *Section, label, ref string) error {
	if !strings.Contains(ref, ".") {
		if _, ok := d.Subnets.Get(ref); !ok {
			return DefinitionError("section %q binds label %q to undefined subnet %q", sec.Name, label, ref)
		}
		return nil
	}

	parts := strings.SplitN(ref, ".", 2)
	target := d.SectionByName(parts[0])
	if target == nil {
		return DefinitionError("section %q binds label %q to slot %q of undefined section %q", sec.Name, label, ref, parts[0])
	}
	schema, ok := d.Schemas[target.Schema]
	if !ok {
		// reported for the target section itself as well
		return DefinitionError("section %q references undefined schema %q", target.Name, target.Schema)
	}
	for _, s := range schema {
		if s.Name == parts[1] {
			return nil
		}
	}
	return DefinitionError("section %q binds label %q to %q, but schema %q has no slot %q", sec.Name, label, ref, target.Schema, parts[1])
}
