// Package ndsock implements the raw Ethernet+IPv6 socket and the
// send-only ICMPv6 maintenance socket the proxy engine uses to receive and
// emit frames on a bound interface.
package ndsock

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/ndproxyd/ndproxyd/internal/lladdr"
	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
)

const (
	offEtherHeader  = 14
	ipv6HeaderLen   = 40
	icmpv6HeaderLen = 4

	// minIPv6FrameLen is the shortest frame parseEtherIPv6Header accepts:
	// an Ethernet header followed by a full IPv6 header.
	minIPv6FrameLen = offEtherHeader + ipv6HeaderLen

	// minNDFrameLen additionally requires room for an ICMPv6 header.
	minNDFrameLen = minIPv6FrameLen + icmpv6HeaderLen
)

// EtherIPv6Header is a parsed view of an Ethernet+IPv6 frame's header
// fields, used both when receiving a frame and when constructing one to
// send.  FlowWord carries the IPv6 header's first four octets (version,
// traffic class, flow label) verbatim so a proxied packet can be
// re-emitted with the same values.
type EtherIPv6Header struct {
	DestinationLL lladdr.Addr
	SourceLL      lladdr.Addr
	FlowWord      uint32
	NextHeader    uint8
	HopLimit      uint8
	Source        netip.Addr
	Destination   netip.Addr
}

// parseEtherIPv6Header parses frame's Ethernet and IPv6 headers and
// returns the remaining bytes as payload.  frame must be at least
// [minIPv6FrameLen] bytes; the caller is expected to have checked this.
func parseEtherIPv6Header(frame []byte) (hdr EtherIPv6Header, payload []byte, err error) {
	hdr.DestinationLL = lladdr.New(lladdr.Eui48, frame[0:6])
	hdr.SourceLL = lladdr.New(lladdr.Eui48, frame[6:12])

	ip6 := frame[offEtherHeader:]
	hdr.FlowWord = binary.BigEndian.Uint32(ip6[0:4])
	hdr.NextHeader = ip6[6]
	hdr.HopLimit = ip6[7]

	src, ok := netip.AddrFromSlice(ip6[8:24])
	if !ok {
		return EtherIPv6Header{}, nil, ndproxyerr.New(ndproxyerr.MalformedPacket, "invalid source address")
	}
	hdr.Source = src

	dst, ok := netip.AddrFromSlice(ip6[24:40])
	if !ok {
		return EtherIPv6Header{}, nil, ndproxyerr.New(ndproxyerr.MalformedPacket, "invalid destination address")
	}
	hdr.Destination = dst

	return hdr, frame[minIPv6FrameLen:], nil
}

// buildEtherIPv6Frame serializes hdr and payload into a raw Ethernet+IPv6
// frame ready to hand to a raw packet socket.
func buildEtherIPv6Frame(hdr EtherIPv6Header, payload []byte) (frame []byte) {
	frame = make([]byte, minIPv6FrameLen+len(payload))

	copy(frame[0:6], hdr.DestinationLL.Bytes())
	copy(frame[6:12], hdr.SourceLL.Bytes())
	binary.BigEndian.PutUint16(frame[12:14], etherTypeIPv6)

	ip6 := frame[offEtherHeader:]
	binary.BigEndian.PutUint32(ip6[0:4], hdr.FlowWord)
	binary.BigEndian.PutUint16(ip6[4:6], uint16(len(payload)))
	ip6[6] = hdr.NextHeader
	ip6[7] = hdr.HopLimit
	copy(ip6[8:24], hdr.Source.AsSlice())
	copy(ip6[24:40], hdr.Destination.AsSlice())
	copy(frame[minIPv6FrameLen:], payload)

	return frame
}

// classifyOpenError maps a raw-socket setup error to an [ndproxyerr.Kind].
func classifyOpenError(err error, what string) (wrapped error) {
	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return ndproxyerr.Wrap(ndproxyerr.BadPermissions, err, "opening "+what)
	case errors.Is(err, unix.EADDRINUSE):
		return ndproxyerr.Wrap(ndproxyerr.ResourceInUse, err, "opening "+what)
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return ndproxyerr.Wrap(ndproxyerr.DoesNotExist, err, "opening "+what)
	default:
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, err, "opening "+what)
	}
}

// Socket is a raw Ethernet socket bound to a single interface and the
// EtherType IPv6 protocol.
type Socket struct {
	conn        *packet.Conn
	ifName      string
	ifIndex     int
	mtu         int
	closed      bool
	nonBlocking bool
}

// Open binds a new raw socket to ifName and, if filter is non-nil,
// attaches it as the socket's packet filter.
func Open(ifName string, filter []bpf.RawInstruction) (s *Socket, err error) {
	if ifName == "" {
		return nil, ndproxyerr.New(ndproxyerr.InvalidArgument, "interface name must not be empty")
	}

	iface, ierr := net.InterfaceByName(ifName)
	if ierr != nil {
		return nil, ndproxyerr.Wrap(ndproxyerr.DoesNotExist, ierr, "resolving interface "+ifName)
	}

	conn, lerr := packet.Listen(iface, packet.Raw, int(ethernet.EtherTypeIPv6), nil)
	if lerr != nil {
		return nil, classifyOpenError(lerr, "raw socket on "+ifName)
	}

	s = &Socket{conn: conn, ifName: ifName, ifIndex: iface.Index, mtu: iface.MTU}

	if filter != nil {
		if ferr := conn.SetBPF(filter); ferr != nil {
			_ = conn.Close()

			return nil, ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, ferr, "attaching packet filter")
		}
	}

	return s, nil
}

// IfName returns the name of the interface s is bound to.
func (s *Socket) IfName() (name string) { return s.ifName }

// IfIndex returns the kernel interface index s is bound to.
func (s *Socket) IfIndex() (index int) { return s.ifIndex }

// MTU returns the bound interface's link MTU.
func (s *Socket) MTU() (mtu int) { return s.mtu }

// SyscallConn exposes the socket's raw file descriptor for registration
// with an external readiness poller.
func (s *Socket) SyscallConn() (raw syscall.RawConn, err error) { return s.conn.SyscallConn() }

// setIfFlag sets or clears one IFF_* interface flag bit via a read-modify-
// write ioctl pair on a throwaway datagram socket, matching how the flags
// are independent of which socket type requests them.
func (s *Socket) setIfFlag(bit uint32, enabled bool) (err error) {
	fd, serr := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if serr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, serr, "opening ioctl socket")
	}
	defer func() { _ = unix.Close(fd) }()

	ifr, ferr := unix.NewIfreq(s.ifName)
	if ferr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, ferr, "building interface request")
	}

	if gerr := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); gerr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, gerr, "reading interface flags")
	}

	flags := uint32(ifr.Uint16())
	if enabled {
		flags |= bit
	} else {
		flags &^= bit
	}
	ifr.SetUint16(uint16(flags))

	if serr := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); serr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, serr, "writing interface flags")
	}

	return nil
}

// SetAllMulticast enables or disables all-multicast reception on s's
// interface.  Packets are still subject to whatever filter is attached.
func (s *Socket) SetAllMulticast(enabled bool) (err error) {
	return s.setIfFlag(unix.IFF_ALLMULTI, enabled)
}

// SetPromiscuous enables or disables promiscuous mode on s's interface.
func (s *Socket) SetPromiscuous(enabled bool) (err error) {
	return s.setIfFlag(unix.IFF_PROMISC, enabled)
}

// SetNonblocking toggles s's non-blocking mode.  It does not affect
// Receive, which the interface's watcher goroutine relies on blocking until
// a frame arrives (the "waiting for a readable L2 socket" suspension point
// of spec §5, parked efficiently by the runtime rather than busy-polling);
// it governs Discard and Send instead, which must never wait around for the
// kernel per §4.4 and §5.
func (s *Socket) SetNonblocking(enabled bool) (err error) {
	s.nonBlocking = enabled

	return nil
}

// isTimeout reports whether err is the deadline-exceeded error produced by
// a read or write that raced an immediate deadline set for a non-blocking
// attempt.
func isTimeout(err error) (ok bool) {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// Receive reads one queued frame and parses its Ethernet and IPv6 headers.
func (s *Socket) Receive() (hdr EtherIPv6Header, payload []byte, err error) {
	if s.closed {
		return EtherIPv6Header{}, nil, ndproxyerr.New(ndproxyerr.BadInternalState, "socket is closed")
	}

	buf := make([]byte, s.mtu+offEtherHeader)
	n, _, rerr := s.conn.ReadFrom(buf)
	if rerr != nil {
		return EtherIPv6Header{}, nil, ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, rerr, "reading ethernet frame")
	}

	if n == 0 {
		return EtherIPv6Header{}, nil, ndproxyerr.New(ndproxyerr.ResultUnavailable, "no frame queued")
	}

	if n < minIPv6FrameLen {
		return EtherIPv6Header{}, nil, ndproxyerr.New(ndproxyerr.MalformedPacket, "frame shorter than ethernet+ipv6 header")
	}

	return parseEtherIPv6Header(buf[:n])
}

// Discard drops one queued frame without parsing it.  In non-blocking mode
// it never waits for a frame to arrive: a socket with nothing queued to
// discard is reported as success, not an error.
func (s *Socket) Discard() (err error) {
	if s.nonBlocking {
		if derr := s.conn.SetReadDeadline(time.Now()); derr != nil {
			return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, derr, "setting discard deadline")
		}
		defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	}

	buf := make([]byte, s.mtu+offEtherHeader)

	if _, _, rerr := s.conn.ReadFrom(buf); rerr != nil {
		if s.nonBlocking && isTimeout(rerr) {
			return nil
		}

		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, rerr, "discarding queued frame")
	}

	return nil
}

// Send serializes hdr and payload and writes the resulting frame.  In
// non-blocking mode the write is attempted once and treated as best-effort:
// a kernel send queue that can't accept the frame immediately yields
// [ndproxyerr.UnexpectedFailure] rather than blocking the caller, per spec
// §5's "Send calls must be attempted in non-blocking mode."
func (s *Socket) Send(hdr EtherIPv6Header, payload []byte) (err error) {
	frame := buildEtherIPv6Frame(hdr, payload)
	if len(frame) > s.mtu+offEtherHeader {
		return ndproxyerr.New(ndproxyerr.MtuExceeded, "frame exceeds interface mtu")
	}

	if s.nonBlocking {
		if derr := s.conn.SetWriteDeadline(time.Now()); derr != nil {
			return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, derr, "setting send deadline")
		}
		defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	}

	addr := &packet.Addr{HardwareAddr: net.HardwareAddr(hdr.DestinationLL.Bytes())}
	if _, werr := s.conn.WriteTo(frame, addr); werr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, werr, "writing ethernet frame")
	}

	return nil
}

// Close releases s's underlying socket.  Close is idempotent.
func (s *Socket) Close() (err error) {
	if s.closed {
		return nil
	}
	s.closed = true

	if cerr := s.conn.Close(); cerr != nil {
		return ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, cerr, "closing socket")
	}

	return nil
}
