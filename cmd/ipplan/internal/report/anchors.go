package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

// YAMLAnchors renders the plan as a list of yaml anchors so that other yaml
// documents, e.g. deployment templates, can refer to the allocated values
// by name. Anchor names are <section>_<slot>_<field>. Reserved slots are
// not emitted.
func YAMLAnchors(p *plan.Plan) string {
	lines := []string{"ipam:"}

	anchor := func(path []string, value interface{}) {
		lines = append(lines, fmt.Sprintf("- &%s %v", strings.Join(path, "_"), value))
	}

	for _, sec := range p.Sections {
		for _, slot := range sec.Slots {
			if slot.Reserved() {
				continue
			}
			path := []string{sec.Name, slot.Name}

			if slot.VLAN != nil {
				anchor(append(path, "vlan"), *slot.VLAN)
			}
			if slot.Label != "" {
				anchor(append(path, "label"), slot.Label)
			}
			anchor(append(path, "ip_range", "start"), slot.Range.From())
			anchor(append(path, "ip_range", "end"), slot.Range.To())
			anchor(append(path, "ip_range", "str"), slot.Range)
			anchor(append(path, "ip_range", "size"), plan.RangeSize(slot.Range))
			if slot.HasGateway() {
				anchor(append(path, "gateway"), slot.Gateway)
			}
			anchor(append(path, "cidr"), slot.CIDR)
			anchor(append(path, "prefixlen"), slot.CIDR.Bits())
			anchor(append(path, "netmask"), plan.Netmask(slot.CIDR))
			anchor(append(path, "kind"), slot.Kind)

			for _, k := range sortedScalarKeys(slot.Metadata) {
				anchor(append(path, "metadata", k), slot.Metadata[k])
			}
		}
	}

	return strings.Join(lines, "\n")
}

// sortedScalarKeys returns the metadata keys holding scalar values in a
// stable order. Nested structures are not representable as anchors.
func sortedScalarKeys(md map[string]interface{}) []string {
	var keys []string
	for k, v := range md {
		switch v.(type) {
		case string, int, int64, uint64, float64, bool:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
