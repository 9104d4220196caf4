package ipam

import (
	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

// An IDPool hands out unique numeric identifiers, e.g. vlan ids, from an
// inclusive range. Like a Block it owns its reservation state and is
// exclusively owned by one allocation run.
type IDPool struct {
	name       string
	start, end int
	used       map[int]bool
}

// ResolvePools builds the named identifier pools from their definitions.
func ResolvePools(defs map[string]plan.VlanPoolDef) (map[string]*IDPool, error) {
	pools := map[string]*IDPool{}
	for name, def := range defs {
		if def.Start < 0 || def.End < def.Start {
			return nil, plan.DefinitionError("vlan pool %q has an empty or inverted range %d-%d", name, def.Start, def.End)
		}
		pools[name] = &IDPool{
			name:  name,
			start: def.Start,
			end:   def.End,
			used:  map[int]bool{},
		}
	}
	return pools, nil
}

// Name returns the pool name.
func (p *IDPool) Name() string { return p.name }

// Start returns the inclusive lower bound of the pool.
func (p *IDPool) Start() int { return p.start }

// End returns the inclusive upper bound of the pool.
func (p *IDPool) End() int { return p.end }

// FreeCount returns the number of unreserved identifiers left in the pool.
func (p *IDPool) FreeCount() int {
	return p.end - p.start + 1 - len(p.used)
}

// Next reserves and returns the lowest unreserved identifier.
func (p *IDPool) Next() (int, error) {
	for id := p.start; id <= p.end; id++ {
		if p.used[id] {
			continue
		}
		p.used[id] = true
		return id, nil
	}
	return 0, plan.PoolExhaustedError("vlan pool %q (%d-%d) is exhausted", p.name, p.start, p.end)
}

// Reserve marks an identifier as consumed. It is used to seed the pool with
// the assignments of a previous run.
func (p *IDPool) Reserve(id int) error {
	if id < p.start || id > p.end {
		return plan.DefinitionError("id %d is outside of vlan pool %q (%d-%d)", id, p.name, p.start, p.end)
	}
	if p.used[id] {
		return plan.DefinitionError("id %d of vlan pool %q is already reserved", id, p.name)
	}
	p.used[id] = true
	return nil
}
