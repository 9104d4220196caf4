package plan

import (
	"encoding/binary"
	"math"
	"net"
	"net/netip"

	"go4.org/netipx"
)

// RangeSize returns the number of addresses covered by r,
// capped at MaxUint64 for very large IPv6 ranges.
func RangeSize(r netipx.IPRange) uint64 {
	if !r.IsValid() {
		return 0
	}
	from, to := r.From().As16(), r.To().As16()

	var (
		out    [16]byte
		borrow byte
	)
	for i := 15; i >= 0; i-- {
		v := int(to[i]) - int(from[i]) - int(borrow)
		if v < 0 {
			v += 256
			borrow = 1
		} else {
			borrow = 0
		}
		out[i] = byte(v)
	}
	for i := 0; i < 8; i++ {
		if out[i] != 0 {
			return math.MaxUint64
		}
	}
	diff := binary.BigEndian.Uint64(out[8:])
	if diff == math.MaxUint64 {
		return math.MaxUint64
	}
	return diff + 1
}

// AddrAdd returns the address n addresses above a.
func AddrAdd(a netip.Addr, n uint64) netip.Addr {
	b := a.As16()
	for i := 15; i >= 0 && n > 0; i-- {
		sum := uint64(b[i]) + n&0xff
		b[i] = byte(sum)
		n = n>>8 + sum>>8
	}
	out := netip.AddrFrom16(b)
	if a.Is4() {
		return out.Unmap()
	}
	return out
}

// AddrSub returns the address n addresses below a.
func AddrSub(a netip.Addr, n uint64) netip.Addr {
	b := a.As16()
	var borrow uint64
	for i := 15; i >= 0 && (n > 0 || borrow > 0); i-- {
		d := n&0xff + borrow
		n >>= 8
		v := uint64(b[i]) + 0x100 - d
		b[i] = byte(v)
		if v < 0x100 {
			borrow = 1
		} else {
			borrow = 0
		}
	}
	out := netip.AddrFrom16(b)
	if a.Is4() {
		return out.Unmap()
	}
	return out
}

// Netmask renders the netmask of a prefix, e.g. 255.255.255.248 for a /29.
func Netmask(p netip.Prefix) string {
	m := net.CIDRMask(p.Bits(), p.Addr().BitLen())
	return net.IP(m).String()
}

// SlotRange returns the address range reported for an allocated subnet.
// The network and broadcast addresses are skipped if the subnet has at
// least 4 addresses, otherwise the full range is usable.
func SlotRange(p netip.Prefix) netipx.IPRange {
	r := netipx.RangeOfPrefix(p)
	if RangeSize(r) >= 4 {
		return netipx.IPRangeFrom(r.From().Next(), r.To().Prev())
	}
	return r
}

// CarveWindow returns the part of a prefix that range allocations may be
// carved from. On top of the network and broadcast addresses it holds back
// the last usable address, which is reserved for the gateway.
func CarveWindow(p netip.Prefix) netipx.IPRange {
	r := netipx.RangeOfPrefix(p)
	if RangeSize(r) >= 4 {
		return netipx.IPRangeFrom(r.From().Next(), AddrSub(r.To(), 2))
	}
	return r
}

// Gateway returns the gateway address of a prefix, the last usable one.
// Prefixes with fewer than 4 addresses have no room for a gateway.
func Gateway(p netip.Prefix) (netip.Addr, bool) {
	r := netipx.RangeOfPrefix(p)
	if RangeSize(r) >= 4 {
		return r.To().Prev(), true
	}
	return netip.Addr{}, false
}
