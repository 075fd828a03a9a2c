// Package ndmsg parses, validates, builds, and mutates IPv6 Neighbor
// Discovery messages and their options (RFC 4861), representing a parsed
// message as a raw byte buffer plus an index of (type, offset, length)
// triples so accessors can return slices of that buffer without copying.
package ndmsg

import (
	"encoding/binary"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/ndproxyd/ndproxyd/internal/lladdr"
)

// Type is an ND message's ICMPv6 type byte.
type Type uint8

// Recognized ND message types.
const (
	RouterSolicit   Type = 133
	RouterAdvert    Type = 134
	NeighborSolicit Type = 135
	NeighborAdvert  Type = 136
	Redirect        Type = 137
)

// minLen is the minimum wire length, in bytes, for each recognized type.
var minLen = map[Type]int{
	RouterSolicit:   8,
	RouterAdvert:    16,
	NeighborSolicit: 24,
	NeighborAdvert:  24,
	Redirect:        40,
}

// IsKnown reports whether t is one of the five recognized ND message types.
func (t Type) IsKnown() (ok bool) {
	_, ok = minLen[t]
	return ok
}

// OptionType is an ND option's type byte.
type OptionType uint8

// Recognized ND option types.
const (
	OptSourceLinkLayerAddress OptionType = 1
	OptTargetLinkLayerAddress OptionType = 2
	OptPrefixInformation      OptionType = 3
	OptRedirectedHeader       OptionType = 4
	OptMTU                    OptionType = 5
)

// minOptLen is the minimum wire length, in bytes, for option types whose
// size is otherwise fixed or bounded.  Options declared shorter than this
// are silently dropped from the index per RFC 4861's "silently ignore"
// rule for malformed options that don't otherwise invalidate the message.
var minOptLen = map[OptionType]int{
	OptSourceLinkLayerAddress: 8,
	OptTargetLinkLayerAddress: 8,
	OptPrefixInformation:      32,
	OptRedirectedHeader:       8,
	OptMTU:                    8,
}

// Errors returned by Parse.  They all indicate the whole message must be
// discarded per RFC 4861.
const (
	// ErrEmpty is returned for a zero-length input buffer.
	ErrEmpty errors.Error = "empty ND message"

	// ErrUnknownType is returned when the ICMPv6 type byte is not one of the
	// five recognized ND message types.
	ErrUnknownType errors.Error = "unrecognized ND message type"

	// ErrTooShort is returned when the buffer is smaller than the type's
	// minimum length.
	ErrTooShort errors.Error = "ND message shorter than minimum length"

	// ErrMisaligned is returned when the total length is not a multiple of
	// 8 bytes.
	ErrMisaligned errors.Error = "ND message length not a multiple of 8"

	// ErrZeroLengthOption is returned when an option's declared length is
	// zero; RFC 4861 requires the whole message be discarded.
	ErrZeroLengthOption errors.Error = "ND option with zero declared length"

	// ErrOptionOverrun is returned when an option's declared length would
	// read past the end of the message.
	ErrOptionOverrun errors.Error = "ND option overruns message"
)

// option is one entry in a parsed message's option index: a (type, offset,
// length) triple referencing a slice of the message's buffer.
type option struct {
	typ    OptionType
	offset int
	length int
}

// Message is a parsed or constructed ND message: an option-tagged ICMPv6
// body.  The zero Message is not valid; use [Parse] or one of the New*
// constructors.
type Message struct {
	buf     []byte
	options []option
}

// Type returns m's ICMPv6 message type.
func (m *Message) Type() (t Type) { return Type(m.buf[0]) }

// Bytes returns the raw wire bytes of m.  The returned slice aliases m's
// internal buffer and must not be mutated; callers that need to mutate take
// a copy first.
func (m *Message) Bytes() (raw []byte) { return m.buf }

// Len returns the wire length of m in bytes.
func (m *Message) Len() (n int) { return len(m.buf) }

// Parse parses raw into a Message, validating it per RFC 4861: a malformed
// buffer (empty, wrong type, too short, misaligned, or carrying a
// zero-length or overrunning option) must cause the whole message to be
// discarded, so Parse returns one of the Err* sentinels above rather than a
// partially-populated Message.
func Parse(raw []byte) (m *Message, err error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	typ := Type(raw[0])
	minL, ok := minLen[typ]
	if !ok {
		return nil, errors.Annotate(ErrUnknownType, "type %d: %w", raw[0])
	}

	if len(raw) < minL {
		return nil, errors.Annotate(ErrTooShort, "type %d: %w", raw[0])
	}

	if len(raw)%8 != 0 {
		return nil, ErrMisaligned
	}

	m = &Message{
		buf: append([]byte(nil), raw...),
	}

	offset := minL
	for offset < len(m.buf) {
		if offset+2 > len(m.buf) {
			return nil, ErrOptionOverrun
		}

		optType := OptionType(m.buf[offset])
		lenUnits := m.buf[offset+1]
		if lenUnits == 0 {
			return nil, ErrZeroLengthOption
		}

		optLen := int(lenUnits) * 8
		if offset+optLen > len(m.buf) {
			return nil, ErrOptionOverrun
		}

		if minFixed, known := minOptLen[optType]; known && optLen < minFixed {
			// Silently skip: don't index, but still advance past the bytes.
			offset += optLen

			continue
		}

		m.options = append(m.options, option{
			typ:    optType,
			offset: offset,
			length: optLen,
		})
		offset += optLen
	}

	return m, nil
}

// occurrence returns the nth (0-indexed) option of type typ, or ok=false if
// there are fewer than n+1 such options.
func (m *Message) occurrence(typ OptionType, n int) (opt option, ok bool) {
	count := 0
	for _, o := range m.options {
		if o.typ != typ {
			continue
		}

		if count == n {
			return o, true
		}

		count++
	}

	return option{}, false
}

// HasOption reports whether m carries at least one option of type typ,
// including unknown types, which are indexed but not interpreted.
func (m *Message) HasOption(typ OptionType) (ok bool) {
	_, ok = m.occurrence(typ, 0)
	return ok
}

// newZeroed allocates a zero-filled buffer of length n with the type byte
// set.
func newZeroed(typ Type, n int) (buf []byte) {
	buf = make([]byte, n)
	buf[0] = byte(typ)

	return buf
}

// NewRouterSolicit builds a minimal Router Solicitation message.
func NewRouterSolicit() (m *Message) {
	return &Message{buf: newZeroed(RouterSolicit, minLen[RouterSolicit])}
}

// NewRouterAdvert builds a minimal Router Advertisement message with the
// given fixed fields.  Options (Prefix Information, MTU, Source Link-Layer
// Address) are pushed separately.
func NewRouterAdvert(
	curHopLimit uint8,
	managed, other bool,
	routerLifetime uint16,
	reachableTime, retransTimer uint32,
) (m *Message) {
	buf := newZeroed(RouterAdvert, minLen[RouterAdvert])
	buf[4] = curHopLimit

	var flags byte
	if managed {
		flags |= 0x80
	}
	if other {
		flags |= 0x40
	}
	buf[5] = flags

	binary.BigEndian.PutUint16(buf[6:8], routerLifetime)
	binary.BigEndian.PutUint32(buf[8:12], reachableTime)
	binary.BigEndian.PutUint32(buf[12:16], retransTimer)

	return &Message{buf: buf}
}

// NewNeighborSolicit builds a Neighbor Solicitation targeting target, which
// must be an IPv6 address.
func NewNeighborSolicit(target netip.Addr) (m *Message) {
	buf := newZeroed(NeighborSolicit, minLen[NeighborSolicit])
	t := target.As16()
	copy(buf[8:24], t[:])

	return &Message{buf: buf}
}

// NewNeighborAdvert builds a Neighbor Advertisement targeting target with
// the given flag bits.
func NewNeighborAdvert(target netip.Addr, router, solicited, override bool) (m *Message) {
	buf := newZeroed(NeighborAdvert, minLen[NeighborAdvert])

	var flags byte
	if router {
		flags |= 0x80
	}
	if solicited {
		flags |= 0x40
	}
	if override {
		flags |= 0x20
	}
	buf[4] = flags

	t := target.As16()
	copy(buf[8:24], t[:])

	return &Message{buf: buf}
}

// NewRedirect builds a Redirect message from target to destination.
func NewRedirect(target, destination netip.Addr) (m *Message) {
	buf := newZeroed(Redirect, minLen[Redirect])

	t := target.As16()
	copy(buf[8:24], t[:])

	d := destination.As16()
	copy(buf[24:40], d[:])

	return &Message{buf: buf}
}

// pushOption appends an 8-byte-aligned TLV to m's buffer and indexes it.
// data's length must already be a multiple of 8 minus the 2-byte TLV
// header, i.e. len(data)+2 must be a multiple of 8.
func (m *Message) pushOption(typ OptionType, data []byte) {
	total := len(data) + 2
	if total%8 != 0 {
		panic("ndmsg: option length not 8-byte aligned")
	}

	offset := len(m.buf)
	m.buf = append(m.buf, byte(typ), byte(total/8))
	m.buf = append(m.buf, data...)

	m.options = append(m.options, option{
		typ:    typ,
		offset: offset,
		length: total,
	})
}

// PushSourceLinkLayerAddress appends a Source Link-Layer Address option
// carrying addr.
func (m *Message) PushSourceLinkLayerAddress(addr lladdr.Addr) {
	m.pushLinkLayerOption(OptSourceLinkLayerAddress, addr)
}

// PushTargetLinkLayerAddress appends a Target Link-Layer Address option
// carrying addr.
func (m *Message) PushTargetLinkLayerAddress(addr lladdr.Addr) {
	m.pushLinkLayerOption(OptTargetLinkLayerAddress, addr)
}

// pushLinkLayerOption appends a link-layer-address option, padding the
// address bytes up to the next 8-byte-aligned option size.
func (m *Message) pushLinkLayerOption(typ OptionType, addr lladdr.Addr) {
	raw := addr.Bytes()

	dataLen := len(raw)
	// Round dataLen up so that dataLen+2 is a multiple of 8.
	if rem := (dataLen + 2) % 8; rem != 0 {
		dataLen += 8 - rem
	}

	data := make([]byte, dataLen)
	copy(data, raw)

	m.pushOption(typ, data)
}

// linkLayerAddress returns the occurrence-th (0-indexed) link-layer-address
// option of type typ, interpreting its data as a raw hardware address of
// addrLen bytes (the remainder of the option is padding).
func (m *Message) linkLayerAddress(typ OptionType, occurrence int, addrLen int) (addr lladdr.Addr, ok bool) {
	opt, ok := m.occurrence(typ, occurrence)
	if !ok {
		return lladdr.Addr{}, false
	}

	data := m.buf[opt.offset+2 : opt.offset+opt.length]
	if len(data) < addrLen {
		return lladdr.Addr{}, false
	}

	typTag := lladdr.Eui48
	if addrLen == 8 {
		typTag = lladdr.Eui64
	}

	return lladdr.New(typTag, data[:addrLen]), true
}

// SourceLinkLayerAddress returns the occurrence-th Source Link-Layer
// Address option's address, interpreted as addrLen bytes (6 for EUI-48, 8
// for EUI-64).
func (m *Message) SourceLinkLayerAddress(occurrence int, addrLen int) (addr lladdr.Addr, ok bool) {
	return m.linkLayerAddress(OptSourceLinkLayerAddress, occurrence, addrLen)
}

// TargetLinkLayerAddress returns the occurrence-th Target Link-Layer
// Address option's address, interpreted as addrLen bytes.
func (m *Message) TargetLinkLayerAddress(occurrence int, addrLen int) (addr lladdr.Addr, ok bool) {
	return m.linkLayerAddress(OptTargetLinkLayerAddress, occurrence, addrLen)
}

// setLinkLayerAddress overwrites the occurrence-th option of typ in place.
// It fails if there is no such option or if addr's address length differs
// from storedLen, the length of the address currently stored there.
func (m *Message) setLinkLayerAddress(typ OptionType, occurrence int, storedLen int, addr lladdr.Addr) (err error) {
	opt, ok := m.occurrence(typ, occurrence)
	if !ok {
		return errors.Error("no such link-layer-address option")
	}

	raw := addr.Bytes()
	if len(raw) != storedLen {
		return errors.Error("new link-layer address length differs from the stored address")
	}

	dst := m.buf[opt.offset+2 : opt.offset+2+storedLen]
	copy(dst, raw)

	return nil
}

// SetSourceLinkLayerAddress overwrites the occurrence-th Source Link-Layer
// Address option with addr.  storedLen is the length (6 or 8) of the
// address currently stored there; the call fails unless addr has that same
// length.
func (m *Message) SetSourceLinkLayerAddress(occurrence int, storedLen int, addr lladdr.Addr) (err error) {
	return m.setLinkLayerAddress(OptSourceLinkLayerAddress, occurrence, storedLen, addr)
}

// SetTargetLinkLayerAddress overwrites the occurrence-th Target Link-Layer
// Address option with addr.
func (m *Message) SetTargetLinkLayerAddress(occurrence int, storedLen int, addr lladdr.Addr) (err error) {
	return m.setLinkLayerAddress(OptTargetLinkLayerAddress, occurrence, storedLen, addr)
}

// --- Router Advertisement accessors ---

// CurHopLimit returns the RA's advertised current hop limit.
func (m *Message) CurHopLimit() (hopLimit uint8) { return m.buf[4] }

// ManagedFlag reports the RA's "Managed Address Configuration" flag.
func (m *Message) ManagedFlag() (ok bool) { return m.buf[5]&0x80 != 0 }

// OtherFlag reports the RA's "Other Configuration" flag.
func (m *Message) OtherFlag() (ok bool) { return m.buf[5]&0x40 != 0 }

// ProxyFlag reports the RA's "Proxy" flag (RFC 4389, bit 0x04).
func (m *Message) ProxyFlag() (ok bool) { return m.buf[5]&0x04 != 0 }

// SetProxyFlag sets or clears the RA's Proxy flag.
func (m *Message) SetProxyFlag(set bool) {
	if set {
		m.buf[5] |= 0x04
	} else {
		m.buf[5] &^= 0x04
	}
}

// RouterLifetime returns the RA's router lifetime, in seconds.
func (m *Message) RouterLifetime() (seconds uint16) {
	return binary.BigEndian.Uint16(m.buf[6:8])
}

// ReachableTime returns the RA's reachable time, in milliseconds.
func (m *Message) ReachableTime() (millis uint32) {
	return binary.BigEndian.Uint32(m.buf[8:12])
}

// RetransTimer returns the RA's retransmit timer, in milliseconds.
func (m *Message) RetransTimer() (millis uint32) {
	return binary.BigEndian.Uint32(m.buf[12:16])
}

// --- Neighbor Advertisement accessors ---

// RouterFlag reports the NA's Router flag.
func (m *Message) RouterFlag() (ok bool) { return m.buf[4]&0x80 != 0 }

// SolicitedFlag reports the NA's Solicited flag.
func (m *Message) SolicitedFlag() (ok bool) { return m.buf[4]&0x40 != 0 }

// OverrideFlag reports the NA's Override flag.
func (m *Message) OverrideFlag() (ok bool) { return m.buf[4]&0x20 != 0 }

// --- NS/NA/Redirect target and destination ---

// Target returns the NS, NA, or Redirect message's target address.
func (m *Message) Target() (target netip.Addr, ok bool) {
	switch m.Type() {
	case NeighborSolicit, NeighborAdvert:
		return addrFrom16(m.buf[8:24]), true
	case Redirect:
		return addrFrom16(m.buf[8:24]), true
	default:
		return netip.Addr{}, false
	}
}

// Destination returns the Redirect message's destination address.
func (m *Message) Destination() (dest netip.Addr, ok bool) {
	if m.Type() != Redirect {
		return netip.Addr{}, false
	}

	return addrFrom16(m.buf[24:40]), true
}

func addrFrom16(b []byte) (addr netip.Addr) {
	var a [16]byte
	copy(a[:], b)

	return netip.AddrFrom16(a)
}

// --- Prefix Information ---

// PrefixInfo is the decoded form of a Prefix Information option.
type PrefixInfo struct {
	Prefix            netip.Addr
	PrefixLength      uint8
	OnLink            bool
	Autonomous        bool
	ValidLifetime     uint32
	PreferredLifetime uint32
}

// PrefixInformation returns the occurrence-th Prefix Information option.
func (m *Message) PrefixInformation(occurrence int) (pi PrefixInfo, ok bool) {
	opt, ok := m.occurrence(OptPrefixInformation, occurrence)
	if !ok {
		return PrefixInfo{}, false
	}

	data := m.buf[opt.offset+2 : opt.offset+opt.length]

	flags := data[1]

	return PrefixInfo{
		PrefixLength:      data[0],
		OnLink:            flags&0x80 != 0,
		Autonomous:        flags&0x40 != 0,
		ValidLifetime:     binary.BigEndian.Uint32(data[2:6]),
		PreferredLifetime: binary.BigEndian.Uint32(data[6:10]),
		Prefix:            addrFrom16(data[14:30]),
	}, true
}

// PushPrefixInformation appends a Prefix Information option.
func (m *Message) PushPrefixInformation(pi PrefixInfo) {
	data := make([]byte, 30)
	data[0] = pi.PrefixLength

	var flags byte
	if pi.OnLink {
		flags |= 0x80
	}
	if pi.Autonomous {
		flags |= 0x40
	}
	data[1] = flags

	binary.BigEndian.PutUint32(data[2:6], pi.ValidLifetime)
	binary.BigEndian.PutUint32(data[6:10], pi.PreferredLifetime)
	// data[10:14] reserved, left zero.

	prefix := pi.Prefix.As16()
	copy(data[14:30], prefix[:])

	m.pushOption(OptPrefixInformation, data)
}

// --- MTU ---

// MTU returns the occurrence-th MTU option's value.
func (m *Message) MTU(occurrence int) (mtu uint32, ok bool) {
	opt, ok := m.occurrence(OptMTU, occurrence)
	if !ok {
		return 0, false
	}

	data := m.buf[opt.offset+2 : opt.offset+opt.length]

	return binary.BigEndian.Uint32(data[2:6]), true
}

// PushMTU appends an MTU option.
func (m *Message) PushMTU(mtu uint32) {
	data := make([]byte, 6)
	binary.BigEndian.PutUint32(data[2:6], mtu)

	m.pushOption(OptMTU, data)
}

// --- Redirected Header ---

// RedirectedHeader returns the occurrence-th Redirected Header option's
// encapsulated original packet bytes, including any trailing padding added
// when it was pushed.
func (m *Message) RedirectedHeader(occurrence int) (original []byte, ok bool) {
	opt, ok := m.occurrence(OptRedirectedHeader, occurrence)
	if !ok {
		return nil, false
	}

	return m.buf[opt.offset+8 : opt.offset+opt.length], true
}

// PushRedirectedHeader appends a Redirected Header option encapsulating
// original, padding the trailing user data to an 8-byte boundary.
func (m *Message) PushRedirectedHeader(original []byte) {
	total := len(original) + 8
	if rem := total % 8; rem != 0 {
		total += 8 - rem
	}

	data := make([]byte, total-2)
	// data[0:6] reserved, left zero.
	copy(data[6:], original)

	m.pushOption(OptRedirectedHeader, data)
}

// --- checksum ---

// ZeroChecksum zeroes the ICMPv6 checksum field in place, as required
// before recomputing it.
func (m *Message) ZeroChecksum() { m.buf[2], m.buf[3] = 0, 0 }

// SetChecksum writes checksum into the ICMPv6 checksum field.
func (m *Message) SetChecksum(checksum uint16) {
	binary.BigEndian.PutUint16(m.buf[2:4], checksum)
}
