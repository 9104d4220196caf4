package ipam

import (
	"net/netip"

	"go4.org/netipx"

	"github.com/ipam-tools/ipplan/cmd/ipplan/internal/plan"
)

// A Block is a named address pool to carve subnets and ranges from. It owns
// the reservation tracker for its address space: every allocation is marked
// reserved immediately, so subsequent allocations in the same run see it as
// consumed. A block is exclusively owned by one allocation run.
type Block struct {
	name   string
	prefix netip.Prefix
	parent string

	// free tracks the unreserved part of the block. Child prefixes may use
	// all of it, range carving is additionally clipped to carve.
	free  netipx.IPSetBuilder
	carve netipx.IPRange
}

// NewChildBlock creates a carving target backed by an already allocated
// subnet, e.g. the cidr of a previously allocated slot.
func NewChildBlock(name string, prefix netip.Prefix) *Block {
	return newBlock(name, prefix, "")
}

// NewRangeBlock creates a carving target backed by a plain address range,
// e.g. the range of a previously allocated range slot. The prefix is the
// enclosing net, reported for allocations from this block.
func NewRangeBlock(name string, prefix netip.Prefix, r netipx.IPRange) *Block {
	b := &Block{
		name:   name,
		prefix: prefix,
		carve:  r,
	}
	b.free.AddRange(r)
	return b
}

func newBlock(name string, prefix netip.Prefix, parent string) *Block {
	b := &Block{
		name:   name,
		prefix: prefix,
		parent: parent,
		carve:  plan.CarveWindow(prefix),
	}
	b.free.AddPrefix(prefix)
	return b
}

// ResolveBlocks builds the named blocks from their definitions. Derived
// blocks are carved out of their parent's free space in declaration order,
// so siblings can never overlap. Literal blocks must not overlap either.
func ResolveBlocks(defs plan.SubnetDefs) (map[string]*Block, error) {
	blocks := map[string]*Block{}
	visiting := map[string]bool{}
	var literals []*Block

	var resolve func(name string) (*Block, error)
	resolve = func(name string) (*Block, error) {
		if b, ok := blocks[name]; ok {
			return b, nil
		}
		def, ok := defs.Get(name)
		if !ok {
			return nil, plan.DefinitionError("subnet %q is not defined", name)
		}
		if visiting[name] {
			return nil, plan.DefinitionError("subnet derivations contain a cycle involving %q", name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		var b *Block
		if def.CIDR != "" {
			p, err := netip.ParsePrefix(def.CIDR)
			if err != nil {
				return nil, plan.DefinitionError("subnet %q has an invalid cidr %q: %v", name, def.CIDR, err)
			}
			p = p.Masked()
			for _, other := range literals {
				if other.prefix.Overlaps(p) {
					return nil, plan.DefinitionError("subnet %q (%s) overlaps subnet %q (%s)", name, p, other.name, other.prefix)
				}
			}
			b = newBlock(name, p, "")
			literals = append(literals, b)
		} else {
			parent, err := resolve(def.From)
			if err != nil {
				return nil, err
			}
			if def.PrefixLen < parent.prefix.Bits() {
				return nil, plan.DefinitionError("subnet %q requests a /%d, which is larger than its parent %q (%s)",
					name, def.PrefixLen, parent.name, parent.prefix)
			}
			child, err := parent.AllocateChildPrefix(def.PrefixLen)
			if err != nil {
				return nil, plan.DefinitionError("cannot derive subnet %q as a /%d from %q: %v",
					name, def.PrefixLen, parent.name, err)
			}
			b = newBlock(name, child, parent.name)
		}

		blocks[name] = b
		return b, nil
	}

	for _, def := range defs {
		if _, err := resolve(def.Name); err != nil {
			return nil, err
		}
	}
	return blocks, nil
}

// Name returns the block name.
func (b *Block) Name() string { return b.name }

// Prefix returns the block's enclosing net.
func (b *Block) Prefix() netip.Prefix { return b.prefix }

// Parent returns the name of the block this one was derived from, empty for
// literal blocks.
func (b *Block) Parent() string { return b.parent }

// Contains reports whether the given address lies within the block.
func (b *Block) Contains(ip netip.Addr) bool {
	return b.prefix.Contains(ip)
}

// FreeCount returns the number of unreserved addresses in the block.
func (b *Block) FreeCount() uint64 {
	var n uint64
	for _, r := range b.freeRanges() {
		n += plan.RangeSize(r)
	}
	return n
}

// FreeUsableCount returns the number of unreserved addresses available for
// range carving, i.e. without the network, broadcast and gateway addresses.
func (b *Block) FreeUsableCount() uint64 {
	var n uint64
	for _, r := range b.usableRanges() {
		n += plan.RangeSize(r)
	}
	return n
}

// AllocateChildPrefix reserves and returns the next unused, aligned child
// prefix of the requested length, scanning from the lowest address upward
// and skipping reserved space.
func (b *Block) AllocateChildPrefix(bits int) (netip.Prefix, error) {
	if bits < b.prefix.Bits() || bits > b.prefix.Addr().BitLen() {
		return netip.Prefix{}, plan.DefinitionError("a /%d cannot be carved out of block %q (%s)", bits, b.name, b.prefix)
	}
	// The minimal cidr cover of the free set consists of maximal aligned
	// prefixes in address order, so the first cover entry that is at least
	// as big as the request starts at the lowest aligned fit.
	for _, p := range b.freePrefixes() {
		if p.Bits() <= bits {
			child := netip.PrefixFrom(p.Addr(), bits)
			b.free.RemovePrefix(child)
			return child, nil
		}
	}
	return netip.Prefix{}, plan.PoolExhaustedError("no free /%d left in block %q (%s)", bits, b.name, b.prefix)
}

// AllocateRange reserves and returns a contiguous run of exactly n usable
// addresses. It scans the free space from the lowest address upward, or
// downward from the highest when fromBack is set.
func (b *Block) AllocateRange(n uint64, fromBack bool) (netipx.IPRange, error) {
	if n == 0 {
		return netipx.IPRange{}, plan.DefinitionError("a range must contain at least one address")
	}

	var found netipx.IPRange
	for _, r := range b.usableRanges() {
		if plan.RangeSize(r) < n {
			continue
		}
		if fromBack {
			// remember the last fit
			found = r
			continue
		}
		found = r
		break
	}
	if !found.IsValid() {
		return netipx.IPRange{}, plan.PoolExhaustedError("no free range of %d addresses left in block %q (%s)", n, b.name, b.prefix)
	}

	var carved netipx.IPRange
	if fromBack {
		carved = netipx.IPRangeFrom(plan.AddrSub(found.To(), n-1), found.To())
	} else {
		carved = netipx.IPRangeFrom(found.From(), plan.AddrAdd(found.From(), n-1))
	}
	b.free.RemoveRange(carved)
	return carved, nil
}

// Reserve marks an address range as consumed. It is used to seed the block
// with the allocations of a previous run.
func (b *Block) Reserve(r netipx.IPRange) {
	b.free.RemoveRange(r)
}

// ReservePrefix marks a whole child prefix as consumed.
func (b *Block) ReservePrefix(p netip.Prefix) {
	b.free.RemovePrefix(p)
}

func (b *Block) freePrefixes() []netip.Prefix {
	set, err := b.free.IPSet()
	if err != nil {
		return nil
	}
	return set.Prefixes()
}

func (b *Block) freeRanges() []netipx.IPRange {
	set, err := b.free.IPSet()
	if err != nil {
		return nil
	}
	return set.Ranges()
}

// usableRanges returns the free ranges clipped to the carving window,
// lowest address first.
func (b *Block) usableRanges() []netipx.IPRange {
	var out []netipx.IPRange
	for _, r := range b.freeRanges() {
		from, to := r.From(), r.To()
		if from.Compare(b.carve.From()) < 0 {
			from = b.carve.From()
		}
		if to.Compare(b.carve.To()) > 0 {
			to = b.carve.To()
		}
		if from.Compare(to) > 0 {
			continue
		}
		out = append(out, netipx.IPRangeFrom(from, to))
	}
	return out
}
