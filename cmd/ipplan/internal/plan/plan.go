package plan

import (
	"net/netip"

	"go4.org/netipx"
)

// Kind describes how a slot's space was carved.
type Kind string

const (
	// KindSubnet is a whole child prefix carved out of a block.
	KindSubnet Kind = "subnet"
	// KindIPRangeGlobal is an address range carved directly out of a block.
	KindIPRangeGlobal Kind = "ip_range_global"
	// KindIPRangeLocal is an address range carved out of another slot.
	KindIPRangeLocal Kind = "ip_range_local"
)

// An AllocatedSlot is the resolved result for one schema slot within one
// section. It is immutable once produced.
type AllocatedSlot struct {
	Name    string
	Kind    Kind
	Label   string
	CIDR    netip.Prefix
	Range   netipx.IPRange
	Gateway netip.Addr // zero value when the net is too small for one
	VLAN    *int

	// Source is the block the slot was carved from, or a section.slot
	// path when it was carved from another slot.
	Source     string
	VLANSource string

	// Size and From record the request that produced the slot. They are
	// needed to detect incompatible definition changes on incremental runs.
	Size *int
	From string

	Metadata map[string]interface{}
}

// A SectionPlan holds the ordered allocations of one ipam section.
type SectionPlan struct {
	Name     string
	Metadata map[string]interface{}
	Slots    []*AllocatedSlot
}

// A Plan is the full output of one allocation run, sections in processing
// order. It is the unit persisted as the previous allocation state.
type Plan struct {
	Sections []*SectionPlan
}

// Section returns the section plan with the given name, nil if there is none.
func (p *Plan) Section(name string) *SectionPlan {
	for _, s := range p.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Slot returns the allocated slot with the given name, nil if there is none.
func (s *SectionPlan) Slot(name string) *AllocatedSlot {
	for _, sl := range s.Slots {
		if sl.Name == name {
			return sl
		}
	}
	return nil
}

// SlotCount returns the total number of allocated slots across all sections.
func (p *Plan) SlotCount() int {
	n := 0
	for _, s := range p.Sections {
		n += len(s.Slots)
	}
	return n
}

// HasGateway reports whether the slot's net was big enough for a gateway.
func (s *AllocatedSlot) HasGateway() bool {
	return s.Gateway.IsValid()
}

// Reserved reports whether the slot is marked as reserved in its metadata.
// Reserved slots occupy space but are hidden from the rendered reports.
func (s *AllocatedSlot) Reserved() bool {
	v, ok := s.Metadata["reserved"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
