// Package lladdr implements typed link-layer addresses for the ND proxy:
// EUI-48 and EUI-64 hardware addresses, their textual and kernel-supplied
// forms, and the routing-scheme predicates used to rewrite proxied frames.
package lladdr

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Type is the tag of an [Addr]'s underlying byte representation.
type Type uint8

// Link-layer address types.
const (
	// Invalid marks an address that failed to parse or was constructed from
	// mismatched type and byte length.
	Invalid Type = iota

	// Eui48 is a 6-byte IEEE 802 MAC-48/EUI-48 address.
	Eui48

	// Eui64 is an 8-byte EUI-64 address.
	Eui64
)

// String implements the [fmt.Stringer] interface for Type.
func (t Type) String() (s string) {
	switch t {
	case Eui48:
		return "EUI-48"
	case Eui64:
		return "EUI-64"
	default:
		return "invalid"
	}
}

// length returns the expected byte length for t, or -1 if t is Invalid.
func (t Type) length() (n int) {
	switch t {
	case Eui48:
		return 6
	case Eui64:
		return 8
	default:
		return -1
	}
}

// arpHardwareType returns the kernel ARPHRD_* constant for t.
func (t Type) arpHardwareType() (hatype uint16) {
	switch t {
	case Eui48:
		return unix.ARPHRD_ETHER
	case Eui64:
		return unix.ARPHRD_EUI64
	default:
		return unix.ARPHRD_VOID
	}
}

// Addr is a link-layer address.  The zero Addr is Invalid.
type Addr struct {
	typ Type
	raw [8]byte
}

// New returns the address built from raw.  The result is [Invalid] unless
// len(raw) matches typ's expected length.
func New(typ Type, raw []byte) (a Addr) {
	if typ.length() != len(raw) {
		return Addr{}
	}

	a.typ = typ
	copy(a.raw[:], raw)

	return a
}

// Parse parses s, a colon- or dash-separated sequence of lowercase- or
// uppercase-hex octets, into an address of the given type.  Each octet must
// be exactly two hex digits; a missing leading zero (e.g. "f" instead of
// "0f") is a parse failure, as is mixing separators or having the wrong
// octet count for typ.  It returns [Invalid] on any failure.
func Parse(typ Type, s string) (a Addr) {
	n := typ.length()
	if n <= 0 {
		return Addr{}
	}

	sep := byte(':')
	if strings.ContainsRune(s, '-') {
		sep = '-'
	}

	octets := strings.Split(s, string(sep))
	if len(octets) != n {
		return Addr{}
	}

	var raw [8]byte
	for i, oct := range octets {
		if len(oct) != 2 {
			return Addr{}
		}

		hi, ok := hexDigit(oct[0])
		if !ok {
			return Addr{}
		}

		lo, ok := hexDigit(oct[1])
		if !ok {
			return Addr{}
		}

		raw[i] = hi<<4 | lo
	}

	return New(typ, raw[:n])
}

// hexDigit returns the value of a single lowercase or uppercase hex digit.
func hexDigit(c byte) (v byte, ok bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// FromSockaddrLL builds an address from a kernel sockaddr_ll as reported by
// the hardware-type and address-length fields.  Any hardware type other than
// Ethernet (ARPHRD_ETHER) or EUI-64 (ARPHRD_EUI64) yields [Invalid].
func FromSockaddrLL(hatype uint16, halen int, addr []byte) (a Addr) {
	switch {
	case hatype == Eui48.arpHardwareType() && halen == 6:
		return New(Eui48, addr[:6])
	case hatype == Eui64.arpHardwareType() && halen == 8:
		return New(Eui64, addr[:8])
	default:
		return Addr{}
	}
}

// Type returns a's type tag.
func (a Addr) Type() (typ Type) { return a.typ }

// Bytes returns a's raw address bytes.  It returns nil for an [Invalid]
// address.
func (a Addr) Bytes() (raw []byte) {
	if a.typ == Invalid {
		return nil
	}

	return append([]byte(nil), a.raw[:a.typ.length()]...)
}

// IsValid reports whether a was successfully constructed.
func (a Addr) IsValid() (ok bool) { return a.typ != Invalid }

// IsUnicast reports whether a is a unicast address: the least-significant
// bit of the first byte is clear.  It is always false for an invalid
// address.
func (a Addr) IsUnicast() (ok bool) {
	return a.typ != Invalid && a.raw[0]&0x01 == 0
}

// IsMulticast reports whether a is a multicast (group) address: the
// least-significant bit of the first byte is set.
func (a Addr) IsMulticast() (ok bool) {
	return a.typ != Invalid && !a.IsUnicast()
}

// IsBroadcast reports whether a is the all-ones broadcast address.
func (a Addr) IsBroadcast() (ok bool) {
	if a.typ == Invalid {
		return false
	}

	for _, b := range a.raw[:a.typ.length()] {
		if b != 0xff {
			return false
		}
	}

	return true
}

// IsUniversal reports whether a is a universally-administered address: the
// second-least-significant bit of the first byte is clear.
func (a Addr) IsUniversal() (ok bool) {
	return a.typ != Invalid && a.raw[0]&0x02 == 0
}

// IsLocal reports whether a is a locally-administered address: the
// second-least-significant bit of the first byte is set.
func (a Addr) IsLocal() (ok bool) {
	return a.typ != Invalid && !a.IsUniversal()
}

// String returns a's colon-separated lowercase-hex form, or "invalid".
func (a Addr) String() (s string) {
	if a.typ == Invalid {
		return "invalid"
	}

	raw := a.raw[:a.typ.length()]
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}

	return strings.Join(parts, ":")
}

// Equal reports whether a and other are the same type with the same bytes.
// Two invalid addresses are never equal, matching the original
// implementation's refusal to compare unset addresses.
func (a Addr) Equal(other Addr) (ok bool) {
	if a.typ == Invalid || other.typ == Invalid {
		return false
	}

	return a.typ == other.typ && a.raw == other.raw
}
