package parser

import (
	"net/netip"

	"lukechampine.com/uint128"
)

// Key normalizes an address into the 128-bit IPv6 space. IPv4 addresses
// land in ::ffff:0:0/96 so both families share one ordering.
func Key(addr netip.Addr) uint128.Uint128 {
	b := addr.Unmap().As16()
	return uint128.FromBytesBE(b[:])
}

// AddrFromKey reverses Key. Keys inside ::ffff:0:0/96 come back as IPv4.
func AddrFromKey(k uint128.Uint128) netip.Addr {
	var b [16]byte
	k.PutBytesBE(b[:])
	return netip.AddrFrom16(b).Unmap()
}
