package ndsock

import (
	"net"
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"

	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
)

// unicastHopLimit and multicastHopLimit are both fixed at 255 for proxied
// maintenance traffic, set independently: a socket that only sets one of
// the two still leaves the other at its kernel default, which is the bug
// a copy-pasted call to the multicast setter would silently reproduce.
const (
	unicastHopLimit   = 255
	multicastHopLimit = 255
)

// ICMPv6Socket is a send-only ICMPv6 socket used for outbound maintenance
// messages: Destination Unreachable and Packet Too Big.  Its inbound
// filter blocks every ICMPv6 type, since it never needs to receive.
type ICMPv6Socket struct {
	conn   *icmp.PacketConn
	p6     *ipv6.PacketConn
	closed bool
}

// OpenICMPv6 opens and configures a new [ICMPv6Socket].
func OpenICMPv6() (s *ICMPv6Socket, err error) {
	conn, lerr := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if lerr != nil {
		return nil, classifyOpenError(lerr, "icmpv6 maintenance socket")
	}

	p6 := conn.IPv6PacketConn()

	if herr := p6.SetHopLimit(unicastHopLimit); herr != nil {
		_ = conn.Close()

		return nil, ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, herr, "setting unicast hop limit")
	}

	if herr := p6.SetMulticastHopLimit(multicastHopLimit); herr != nil {
		_ = conn.Close()

		return nil, ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, herr, "setting multicast hop limit")
	}

	var filter ipv6.ICMPFilter
	filter.SetAll(true)
	if ferr := p6.SetICMPFilter(&filter); ferr != nil {
		_ = conn.Close()

		return nil, ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, ferr, "installing inbound icmpv6 filter")
	}

	return &ICMPv6Socket{conn: conn, p6: p6}, nil
}

// send marshals msg and writes it to dst via ifIndex.
func (s *ICMPv6Socket) send(msg icmp.Message, dst netip.Addr, ifIndex int) (err error) {
	wb, merr := msg.Marshal(nil)
	if merr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, merr, "marshaling icmpv6 message")
	}

	cm := &ipv6.ControlMessage{HopLimit: unicastHopLimit, IfIndex: ifIndex}
	addr := &net.IPAddr{IP: dst.AsSlice()}

	if _, werr := s.p6.WriteTo(wb, cm, addr); werr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, werr, "sending icmpv6 message")
	}

	return nil
}

// SendDestinationUnreachable sends an ICMPv6 Destination Unreachable
// (type 1) message to dst out interface ifIndex, carrying as much of
// original as fits.
func (s *ICMPv6Socket) SendDestinationUnreachable(
	dst netip.Addr,
	ifIndex int,
	code int,
	original []byte,
) (err error) {
	msg := icmp.Message{
		Type: ipv6.ICMPTypeDestinationUnreachable,
		Code: code,
		Body: &icmp.DstUnreach{Data: original},
	}

	return s.send(msg, dst, ifIndex)
}

// SendPacketTooBig sends an ICMPv6 Packet Too Big (type 2) message to dst
// out interface ifIndex, reporting mtu as the link's usable size.
func (s *ICMPv6Socket) SendPacketTooBig(dst netip.Addr, ifIndex int, mtu int, original []byte) (err error) {
	msg := icmp.Message{
		Type: ipv6.ICMPTypePacketTooBig,
		Code: 0,
		Body: &icmp.PacketTooBig{MTU: mtu, Data: original},
	}

	return s.send(msg, dst, ifIndex)
}

// Close releases s's underlying socket.  Close is idempotent.
func (s *ICMPv6Socket) Close() (err error) {
	if s.closed {
		return nil
	}
	s.closed = true

	if cerr := s.conn.Close(); cerr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, cerr, "closing icmpv6 socket")
	}

	return nil
}
