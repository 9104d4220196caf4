package engine

import (
	"strings"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

// replayPrevious merges the previous plan into the current run: it verifies
// that every previously allocated slot still has an unchanged definition,
// seeds the reservation trackers with all previous assignments and emits
// the previous slots unchanged, ahead of anything allocated in this run.
// Allocated values are preserved bit for bit, only metadata follows the
// current definitions.
func (a *Allocator) replayPrevious() error {
	for _, psec := range a.previous.Sections {
		cur := a.def.SectionByName(psec.Name)
		if cur == nil {
			return plan.IncompatibleChangeError("section %q from the previous plan no longer exists", psec.Name)
		}
		slots, err := resolveSchema(a.def, cur)
		if err != nil {
			return err
		}

		out := &plan.SectionPlan{Name: psec.Name, Metadata: cur.Metadata}
		a.result.Sections = append(a.result.Sections, out)

		for _, prev := range psec.Slots {
			spec, ok := findSpec(slots, prev.Name)
			if !ok {
				return plan.IncompatibleChangeError("section %q slot %q from the previous plan no longer exists in schema %q",
					psec.Name, prev.Name, cur.Schema)
			}
			if err := checkShape(cur, spec, prev); err != nil {
				return err
			}
			if err := a.seed(psec.Name, prev); err != nil {
				return err
			}

			replayed := *prev
			replayed.Metadata = spec.Metadata
			out.Slots = append(out.Slots, &replayed)
			a.allocated[psec.Name+"."+prev.Name] = &replayed
			a.log.Debug("preserved slot from previous plan",
				"section", psec.Name, "slot", prev.Name, "cidr", prev.CIDR.String(), "range", prev.Range.String())
		}
	}
	return nil
}

func findSpec(slots []plan.SlotSpec, name string) (plan.SlotSpec, bool) {
	for _, s := range slots {
		if s.Name == name {
			return s, true
		}
	}
	return plan.SlotSpec{}, false
}

// checkShape compares the current definition of a slot to the shape
// recorded in the previous plan. Comparison is on definitions, never on
// allocated values; any difference means the plan cannot be reproduced and
// the run is aborted instead of silently reallocating.
func checkShape(sec *plan.Section, spec plan.SlotSpec, prev *plan.AllocatedSlot) error {
	fail := func(format string, args ...interface{}) error {
		args = append([]interface{}{sec.Name, prev.Name}, args...)
		return plan.IncompatibleChangeError("section %q slot %q: "+format, args...)
	}

	if spec.Label != prev.Label {
		return fail("label changed from %q to %q", prev.Label, spec.Label)
	}
	if spec.From != prev.From {
		return fail("from changed from %q to %q", prev.From, spec.From)
	}

	if spec.PrefixLen != nil {
		if prev.Kind != plan.KindSubnet {
			return fail("sizing changed from a range to a /%d subnet", *spec.PrefixLen)
		}
		if prev.CIDR.Bits() != *spec.PrefixLen {
			return fail("prefixlen changed from /%d to /%d", prev.CIDR.Bits(), *spec.PrefixLen)
		}
	} else {
		if prev.Size == nil {
			return fail("sizing changed from a /%d subnet to a range of %d", prev.CIDR.Bits(), *spec.Size)
		}
		if *prev.Size != *spec.Size {
			return fail("size changed from %d to %d", *prev.Size, *spec.Size)
		}
	}

	source, err := staticSource(sec, spec)
	if err != nil {
		return err
	}
	if source != prev.Source {
		return fail("binding changed from %q to %q", prev.Source, source)
	}

	vlanSource := ""
	if spec.From == "" {
		if pn, ok := sec.VlanPools[spec.Label]; ok {
			vlanSource = pn
		}
	}
	if vlanSource != prev.VLANSource {
		return fail("vlan binding changed from %q to %q", prev.VLANSource, vlanSource)
	}

	return nil
}

// seed marks a previous assignment as reserved in its source block, source
// slot window and vlan pool, so new allocations cannot collide with it.
func (a *Allocator) seed(section string, prev *plan.AllocatedSlot) error {
	fail := func(format string, args ...interface{}) error {
		args = append([]interface{}{section, prev.Name}, args...)
		return plan.IncompatibleChangeError("section %q slot %q: "+format, args...)
	}

	if strings.Contains(prev.Source, ".") {
		w, err := a.window(prev.Source)
		if err != nil {
			return fail("%v", err)
		}
		if prev.Kind == plan.KindSubnet {
			w.ReservePrefix(prev.CIDR)
		} else {
			w.Reserve(prev.Range)
		}
	} else {
		b, ok := a.blocks[prev.Source]
		if !ok {
			return fail("block %q no longer exists", prev.Source)
		}
		if prev.Kind == plan.KindSubnet {
			if prev.CIDR.Bits() < b.Prefix().Bits() || !b.Contains(prev.CIDR.Addr()) {
				return fail("cidr %s no longer lies within block %q (%s)", prev.CIDR, prev.Source, b.Prefix())
			}
			b.ReservePrefix(prev.CIDR)
		} else {
			if !b.Contains(prev.Range.From()) || !b.Contains(prev.Range.To()) {
				return fail("range %s no longer lies within block %q (%s)", prev.Range, prev.Source, b.Prefix())
			}
			b.Reserve(prev.Range)
		}
	}

	if prev.VLAN != nil {
		pool, ok := a.pools[prev.VLANSource]
		if !ok {
			return fail("vlan pool %q no longer exists", prev.VLANSource)
		}
		if err := pool.Reserve(*prev.VLAN); err != nil {
			return fail("vlan %d cannot be reserved in pool %q: %v", *prev.VLAN, prev.VLANSource, err)
		}
	}

	return nil
}
