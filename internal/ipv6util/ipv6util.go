// Package ipv6util implements the IPv6 predicates and checksum arithmetic
// the ND proxy needs: solicited-node and multicast-MAC derivation, and the
// upper-layer pseudo-header checksum used by ICMPv6.
package ipv6util

import (
	"encoding/binary"
	"net/netip"

	"github.com/ndproxyd/ndproxyd/internal/lladdr"
)

// solicitedNodePrefix is the first 13 bytes of ff02::1:ff00:0/104.
var solicitedNodePrefix = [13]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0xff}

// IsSolicitedNode reports whether addr is the solicited-node multicast
// address derived from target, i.e. addr has prefix ff02::1:ff00:0/104 and
// its low 24 bits equal target's low 24 bits.
func IsSolicitedNode(addr, target netip.Addr) (ok bool) {
	if !addr.Is6() || !target.Is6() {
		return false
	}

	a := addr.As16()
	if [13]byte(a[:13]) != solicitedNodePrefix {
		return false
	}

	t := target.As16()

	return a[13] == t[13] && a[14] == t[14] && a[15] == t[15]
}

// MulticastMAC derives the Ethernet multicast MAC address for an IPv6
// multicast address: 33:33 followed by the low 32 bits of addr.  It returns
// an invalid address if addr is not a multicast address.
func MulticastMAC(addr netip.Addr) (mac lladdr.Addr) {
	if !addr.Is6() || !addr.IsMulticast() {
		return lladdr.Addr{}
	}

	a := addr.As16()
	raw := [6]byte{0x33, 0x33, a[12], a[13], a[14], a[15]}

	return lladdr.New(lladdr.Eui48, raw[:])
}

// UpperLayerChecksum16 computes the 16-bit ones-complement Internet checksum
// over the IPv6 pseudo-header (RFC 8200 §8.1) followed by data, the
// upper-layer bytes of nextHeader.  The checksum field inside data, if any,
// must be zeroed by the caller before calling this function.  The result is
// returned in network byte order; callers write its bitwise complement into
// the wire checksum field.  A running sum of 0xffff is normalized to 0x0000.
func UpperLayerChecksum16(src, dst netip.Addr, nextHeader uint8, data []byte) (checksum uint16) {
	var sum uint32

	srcBytes := src.As16()
	dstBytes := dst.As16()
	for i := 0; i < 16; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(srcBytes[i : i+2]))
		sum += uint32(binary.BigEndian.Uint16(dstBytes[i : i+2]))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	sum += uint32(binary.BigEndian.Uint16(lenBuf[0:2]))
	sum += uint32(binary.BigEndian.Uint16(lenBuf[2:4]))

	// Next Header occupies the low byte of the last pseudo-header word; the
	// preceding 3 bytes are zero-filled.
	sum += uint32(nextHeader)

	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}

	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}

	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}

	if sum == 0xffff {
		sum = 0
	}

	return uint16(sum)
}
