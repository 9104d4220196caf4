package engine

import (
	"github.com/imdario/mergo"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

// resolveSchema expands the schema referenced by a section into the
// concrete slot list the section must satisfy. Section metadata is merged
// into every slot's metadata, slot keys win on conflict. Schemas are shared
// immutable templates, the expansion never mutates them.
func resolveSchema(def *plan.Definition, sec *plan.Section) ([]plan.SlotSpec, error) {
	schema, ok := def.Schemas[sec.Schema]
	if !ok {
		return nil, plan.DefinitionError("section %q references undefined schema %q", sec.Name, sec.Schema)
	}

	slots := make([]plan.SlotSpec, 0, len(schema))
	for _, s := range schema {
		merged, err := mergeMetadata(s.Metadata, sec.Metadata)
		if err != nil {
			return nil, plan.DefinitionError("section %q slot %q: %v", sec.Name, s.Name, err)
		}
		s.Metadata = merged
		slots = append(slots, s)
	}
	return slots, nil
}

func mergeMetadata(slot, section map[string]interface{}) (map[string]interface{}, error) {
	if len(slot) == 0 && len(section) == 0 {
		return nil, nil
	}
	merged := map[string]interface{}{}
	for k, v := range slot {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, section); err != nil {
		return nil, err
	}
	return merged, nil
}
