package engine

import (
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"go4.org/netipx"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/ipam"
	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

type (
	// An Allocator computes a concrete plan from a definition. It owns the
	// reservation state of all blocks and pools for the duration of the
	// run, processes sections and slots strictly in declaration order and
	// is good for exactly one Run.
	Allocator struct {
		log      *slog.Logger
		def      *plan.Definition
		previous *plan.Plan

		blocks map[string]*ipam.Block
		pools  map[string]*ipam.IDPool

		// windows are the carving targets backed by already allocated
		// slots, keyed by section.slot path.
		windows   map[string]*ipam.Block
		allocated map[string]*plan.AllocatedSlot

		result *plan.Plan
	}
	Config struct {
		Log        *slog.Logger
		Definition *plan.Definition
		// Previous is the plan of an earlier run. When set, all of its
		// assignments are preserved and only new slots are allocated.
		Previous *plan.Plan
	}
)

// New validates the definition and resolves the blocks and pools to
// allocate from. A faulty definition is rejected here, before any
// allocation is attempted.
func New(c *Config) (*Allocator, error) {
	if c.Definition == nil {
		return nil, plan.DefinitionError("no definition given")
	}
	if err := c.Definition.Validate(); err != nil {
		return nil, err
	}

	blocks, err := ipam.ResolveBlocks(c.Definition.Subnets)
	if err != nil {
		return nil, err
	}
	pools, err := ipam.ResolvePools(c.Definition.VlanPools)
	if err != nil {
		return nil, err
	}

	log := c.Log
	if log == nil {
		log = slog.Default()
	}

	return &Allocator{
		log:       log,
		def:       c.Definition,
		previous:  c.Previous,
		blocks:    blocks,
		pools:     pools,
		windows:   map[string]*ipam.Block{},
		allocated: map[string]*plan.AllocatedSlot{},
		result:    &plan.Plan{},
	}, nil
}

// Run computes the plan. Sections are processed in declaration order and
// slots in schema order, so a later slot can carve from an earlier one and
// re-running with the same input always numbers space identically. On any
// error no plan is returned at all.
func (a *Allocator) Run() (*plan.Plan, error) {
	if a.previous != nil {
		if err := a.replayPrevious(); err != nil {
			return nil, err
		}
	}

	for i := range a.def.Sections {
		sec := &a.def.Sections[i]
		slots, err := resolveSchema(a.def, sec)
		if err != nil {
			return nil, err
		}

		out := a.result.Section(sec.Name)
		if out == nil {
			out = &plan.SectionPlan{Name: sec.Name, Metadata: sec.Metadata}
			a.result.Sections = append(a.result.Sections, out)
		}

		for _, spec := range slots {
			path := sec.Name + "." + spec.Name
			if _, ok := a.allocated[path]; ok {
				// preserved from the previous plan
				continue
			}
			slot, err := a.allocateSlot(sec, spec)
			if err != nil {
				return nil, err
			}
			out.Slots = append(out.Slots, slot)
			a.allocated[path] = slot
			a.log.Debug("allocated slot",
				"section", sec.Name, "slot", spec.Name, "kind", slot.Kind,
				"cidr", slot.CIDR.String(), "range", slot.Range.String(), "source", slot.Source)
		}
	}

	return a.result, nil
}

func (a *Allocator) allocateSlot(sec *plan.Section, spec plan.SlotSpec) (*plan.AllocatedSlot, error) {
	target, source, local, err := a.bind(sec, spec)
	if err != nil {
		return nil, err
	}

	slot := &plan.AllocatedSlot{
		Name:     spec.Name,
		Label:    spec.Label,
		Source:   source,
		From:     spec.From,
		Size:     spec.Size,
		Metadata: spec.Metadata,
	}

	if spec.PrefixLen != nil {
		child, err := target.AllocateChildPrefix(*spec.PrefixLen)
		if err != nil {
			return nil, wrapSlot(err, sec, spec)
		}
		slot.Kind = plan.KindSubnet
		slot.CIDR = child
		slot.Range = plan.SlotRange(child)
		if gw, ok := plan.Gateway(child); ok {
			slot.Gateway = gw
		}
	} else {
		r, err := a.carveRange(target, *spec.Size, local)
		if err != nil {
			return nil, wrapSlot(err, sec, spec)
		}
		if local {
			slot.Kind = plan.KindIPRangeLocal
		} else {
			slot.Kind = plan.KindIPRangeGlobal
		}
		slot.Range = r
		slot.CIDR = target.Prefix()
		if gw, ok := plan.Gateway(target.Prefix()); ok {
			slot.Gateway = gw
		}
	}

	if spec.From == "" && spec.Label != "" {
		if poolName, ok := sec.VlanPools[spec.Label]; ok {
			vid, err := a.pools[poolName].Next()
			if err != nil {
				return nil, wrapSlot(err, sec, spec)
			}
			slot.VLAN = &vid
			slot.VLANSource = poolName
		}
	}

	return slot, nil
}

// carveRange applies the sizing policy of a size request. A non-negative
// size allocates exactly that many addresses, scanning from the front. A
// negative size is relative: carving from another slot it takes the last
// |size| addresses of that slot's window, carving from a block it holds
// back |size| addresses and allocates the remaining free space.
func (a *Allocator) carveRange(target *ipam.Block, size int, local bool) (netipx.IPRange, error) {
	switch {
	case size > 0:
		return target.AllocateRange(uint64(size), false)
	case local:
		return target.AllocateRange(uint64(-size), true)
	default:
		free := target.FreeUsableCount()
		hold := uint64(-size)
		if free <= hold {
			return netipx.IPRange{}, plan.PoolExhaustedError(
				"cannot hold back %d of %d free addresses in block %q", hold, free, target.Name())
		}
		return target.AllocateRange(free-hold, false)
	}
}

// bind resolves a slot's label to its carving target: the slot named by
// from, the ip_range binding (a block or a section.slot path), or the
// subnet binding, in that order.
func (a *Allocator) bind(sec *plan.Section, spec plan.SlotSpec) (target *ipam.Block, source string, local bool, err error) {
	source, err = staticSource(sec, spec)
	if err != nil {
		return nil, "", false, err
	}

	if strings.Contains(source, ".") {
		w, err := a.window(source)
		if err != nil {
			return nil, "", false, wrapSlot(err, sec, spec)
		}
		return w, source, true, nil
	}

	b, ok := a.blocks[source]
	if !ok {
		return nil, "", false, plan.BindingError("section %q slot %q: %q is not a known block", sec.Name, spec.Name, source)
	}
	return b, source, false, nil
}

// staticSource determines the binding target of a slot without touching
// any allocation state. The incremental merger uses it to compare binding
// definitions against a previous plan.
func staticSource(sec *plan.Section, spec plan.SlotSpec) (string, error) {
	if spec.From != "" {
		return sec.Name + "." + spec.From, nil
	}
	if ref, ok := sec.IPRanges[spec.Label]; ok {
		return ref, nil
	}
	if name, ok := sec.Subnets[spec.Label]; ok {
		return name, nil
	}
	return "", plan.BindingError("section %q slot %q: label %q has no subnet or ip_range binding", sec.Name, spec.Name, spec.Label)
}

// window returns the carving target backed by an already allocated slot.
// Forward references fail, dependencies must be allocated before their
// dependents.
func (a *Allocator) window(path string) (*ipam.Block, error) {
	if w, ok := a.windows[path]; ok {
		return w, nil
	}
	slot, ok := a.allocated[path]
	if !ok {
		return nil, plan.BindingError("slot %q has not been allocated yet, dependencies must be declared before their dependents", path)
	}

	var w *ipam.Block
	if slot.Kind == plan.KindSubnet {
		w = ipam.NewChildBlock(path, slot.CIDR)
	} else {
		w = ipam.NewRangeBlock(path, slot.CIDR, slot.Range)
	}
	a.windows[path] = w
	return w, nil
}

func wrapSlot(err error, sec *plan.Section, spec plan.SlotSpec) error {
	return errors.Wrapf(err, "section %q slot %q", sec.Name, spec.Name)
}
