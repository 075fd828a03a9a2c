// Package proxyif implements the ProxyInterface facade: the per-interface
// socket pair, cached addressing state, enable/disable bookkeeping, and the
// frame rewrite rules applied when forwarding an ND message or a plain
// IPv6 packet between interfaces.
package proxyif

import (
	"net"
	"net/netip"

	"github.com/ndproxyd/ndproxyd/internal/disable"
	"github.com/ndproxyd/ndproxyd/internal/ipv6util"
	"github.com/ndproxyd/ndproxyd/internal/lladdr"
	"github.com/ndproxyd/ndproxyd/internal/ndmsg"
	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
	"github.com/ndproxyd/ndproxyd/internal/ndsock"
)

// icmpv6ProtocolNumber is the IPv6 Next Header value for ICMPv6.
const icmpv6ProtocolNumber = 58

// icmpv6HeaderLen is the minimum length of an ICMPv6 message: type, code,
// and a 16-bit checksum.
const icmpv6HeaderLen = 4

// State is the lifecycle state of an [Interface].
type State uint8

// Interface lifecycle states.
const (
	// StateInvalid marks an interface that has been closed, and is the zero
	// State; such an interface owns no open sockets and must not be used.
	// A failed [Open] returns no Interface at all.
	StateInvalid State = iota

	// StateDisabled marks an interface with at least one disable label
	// set.  The engine must not send or receive on it.
	StateDisabled

	// StateEnabled marks an interface with no disable labels set.
	StateEnabled
)

// Interface is a single network interface bound into the proxy: its two
// raw L2 sockets (ND-filtered and non-ND), its send-only ICMPv6
// maintenance socket, and the cached addressing state the rewrite rules
// consult.
type Interface struct {
	// Labels is the interface's disable-label bitset.  Its OnEnabled and
	// OnDisabled hooks are wired by [Open] to drive state; callers must
	// not overwrite them.
	Labels disable.Labels

	name   string
	nd     *ndsock.Socket
	nonND  *ndsock.Socket
	icmp   *ndsock.ICMPv6Socket
	llAddr lladdr.Addr
	mtu    int
	addrs  []netip.Addr
	state  State

	groupName string
	inGroup   bool
}

// Open runs the interface initialization sequence: it opens and configures
// both L2 sockets and the ICMPv6 maintenance socket, rejects loopback
// interfaces, caches addressing state, and enters [StateDisabled] with the
// "not a group member" label set. Any failure closes whichever sockets
// were already opened and returns an error.
func Open(name string) (p *Interface, err error) {
	if name == "" {
		return nil, ndproxyerr.New(ndproxyerr.InvalidArgument, "interface name must not be empty")
	}

	ndFilter, ferr := ndsock.NDFilter()
	if ferr != nil {
		return nil, ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, ferr, "assembling nd filter")
	}

	ndSocket, oerr := ndsock.Open(name, ndFilter)
	if oerr != nil {
		return nil, oerr
	}
	if merr := ndSocket.SetAllMulticast(true); merr != nil {
		_ = ndSocket.Close()

		return nil, merr
	}
	if nerr := ndSocket.SetNonblocking(true); nerr != nil {
		_ = ndSocket.Close()

		return nil, nerr
	}

	iface, ierr := net.InterfaceByName(name)
	if ierr != nil {
		_ = ndSocket.Close()

		return nil, ndproxyerr.Wrap(ndproxyerr.DoesNotExist, ierr, "resolving interface "+name)
	}
	if iface.Flags&net.FlagLoopback != 0 {
		_ = ndSocket.Close()

		return nil, ndproxyerr.New(ndproxyerr.InvalidArgument, "loopback interfaces cannot be proxied")
	}

	nonNDFilter, ferr := ndsock.NonNDFilter()
	if ferr != nil {
		_ = ndSocket.Close()

		return nil, ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, ferr, "assembling non-nd filter")
	}

	nonNDSocket, oerr := ndsock.Open(name, nonNDFilter)
	if oerr != nil {
		_ = ndSocket.Close()

		return nil, oerr
	}
	if merr := nonNDSocket.SetAllMulticast(true); merr != nil {
		_ = ndSocket.Close()
		_ = nonNDSocket.Close()

		return nil, merr
	}
	if nerr := nonNDSocket.SetNonblocking(true); nerr != nil {
		_ = ndSocket.Close()
		_ = nonNDSocket.Close()

		return nil, nerr
	}

	icmpSocket, oerr := ndsock.OpenICMPv6()
	if oerr != nil {
		_ = ndSocket.Close()
		_ = nonNDSocket.Close()

		return nil, oerr
	}

	addrs, aerr := cachedAddresses(iface)
	if aerr != nil {
		_ = ndSocket.Close()
		_ = nonNDSocket.Close()
		_ = icmpSocket.Close()

		return nil, aerr
	}

	p = &Interface{
		name:   name,
		nd:     ndSocket,
		nonND:  nonNDSocket,
		icmp:   icmpSocket,
		llAddr: lladdr.New(lladdr.Eui48, iface.HardwareAddr),
		mtu:    iface.MTU,
		addrs:  addrs,
	}
	p.Labels.OnDisabled = func() { p.state = StateDisabled }
	p.Labels.OnEnabled = func() { p.state = StateEnabled }
	p.Labels.MarkGroupless(true)

	return p, nil
}

// cachedAddresses enumerates iface's assigned IPv6 addresses.
func cachedAddresses(iface *net.Interface) (addrs []netip.Addr, err error) {
	ifaceAddrs, aerr := iface.Addrs()
	if aerr != nil {
		return nil, ndproxyerr.Wrap(ndproxyerr.UnexpectedFailure, aerr, "enumerating interface addresses")
	}

	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}

		addr, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok || !addr.Is6() || addr.Is4In6() {
			continue
		}

		addrs = append(addrs, addr.WithZone(""))
	}

	return addrs, nil
}

// RefreshAddresses re-enumerates the interface's assigned IPv6 addresses.
func (p *Interface) RefreshAddresses() (err error) {
	iface, ierr := net.InterfaceByName(p.name)
	if ierr != nil {
		return ndproxyerr.Wrap(ndproxyerr.DoesNotExist, ierr, "resolving interface "+p.name)
	}

	addrs, aerr := cachedAddresses(iface)
	if aerr != nil {
		return aerr
	}

	p.addrs = addrs

	return nil
}

// Name returns the interface's name.
func (p *Interface) Name() (name string) { return p.name }

// MTU returns the interface's cached link MTU.
func (p *Interface) MTU() (mtu int) { return p.mtu }

// LinkLayerAddress returns the interface's cached link-layer address.
func (p *Interface) LinkLayerAddress() (addr lladdr.Addr) { return p.llAddr }

// State returns the interface's current lifecycle state.
func (p *Interface) State() (state State) { return p.state }

// IsEnabled reports whether the interface is in [StateEnabled].
func (p *Interface) IsEnabled() (ok bool) { return p.state == StateEnabled }

// HasIPv6Address reports whether addr is one of the interface's cached
// assigned addresses.
func (p *Interface) HasIPv6Address(addr netip.Addr) (ok bool) {
	addr = addr.WithZone("")
	for _, a := range p.addrs {
		if a == addr {
			return true
		}
	}

	return false
}

// NDSocket returns the interface's ND-filtered raw socket, for readiness
// registration and direct use by the engine.
func (p *Interface) NDSocket() (s *ndsock.Socket) { return p.nd }

// NonNDSocket returns the interface's non-ND-filtered raw socket.
func (p *Interface) NonNDSocket() (s *ndsock.Socket) { return p.nonND }

// DiscardND drops one queued frame from the ND socket.
func (p *Interface) DiscardND() (err error) { return p.nd.Discard() }

// DiscardIPv6 drops one queued frame from the non-ND socket.
func (p *Interface) DiscardIPv6() (err error) { return p.nonND.Discard() }

// ReceiveND receives and validates one ND message from the ND socket.
func (p *Interface) ReceiveND() (hdr ndsock.EtherIPv6Header, msg *ndmsg.Message, err error) {
	hdr, payload, rerr := p.nd.Receive()
	if rerr != nil {
		return ndsock.EtherIPv6Header{}, nil, rerr
	}

	if hdr.NextHeader != icmpv6ProtocolNumber {
		return ndsock.EtherIPv6Header{}, nil, ndproxyerr.New(ndproxyerr.MalformedPacket, "next header is not icmpv6")
	}

	if len(payload) < icmpv6HeaderLen {
		return ndsock.EtherIPv6Header{}, nil, ndproxyerr.New(ndproxyerr.MalformedPacket, "payload shorter than icmpv6 header")
	}

	if hdr.HopLimit != 255 {
		return ndsock.EtherIPv6Header{}, nil, ndproxyerr.New(ndproxyerr.MalformedPacket, "hop limit is not 255")
	}

	msg, perr := ndmsg.Parse(payload)
	if perr != nil {
		return ndsock.EtherIPv6Header{}, nil, ndproxyerr.Wrap(ndproxyerr.MalformedPacket, perr, "parsing nd message")
	}

	return hdr, msg, nil
}

// ReceiveIPv6 receives one plain IPv6 frame from the non-ND socket,
// returning its payload verbatim.
func (p *Interface) ReceiveIPv6() (hdr ndsock.EtherIPv6Header, payload []byte, err error) {
	return p.nonND.Receive()
}

// rewriteForProxy applies the proxy_nd rewrite rules to hdr and msg in
// place, given the forwarding interface's link-layer address.
func rewriteForProxy(llAddr lladdr.Addr, hdr *ndsock.EtherIPv6Header, dstMAC lladdr.Addr, msg *ndmsg.Message) {
	hdr.HopLimit = 255
	hdr.SourceLL = llAddr
	hdr.DestinationLL = dstMAC

	llAddrLen := len(llAddr.Bytes())

	if sll, ok := msg.SourceLinkLayerAddress(0, llAddrLen); ok && !sll.IsMulticast() {
		_ = msg.SetSourceLinkLayerAddress(0, llAddrLen, llAddr)
	}

	if tll, ok := msg.TargetLinkLayerAddress(0, llAddrLen); ok && !tll.IsMulticast() {
		_ = msg.SetTargetLinkLayerAddress(0, llAddrLen, llAddr)
	}

	if msg.Type() == ndmsg.RouterAdvert {
		msg.SetProxyFlag(true)
	}

	msg.ZeroChecksum()
	checksum := ipv6util.UpperLayerChecksum16(hdr.Source, hdr.Destination, icmpv6ProtocolNumber, msg.Bytes())
	msg.SetChecksum(^checksum)
}

// ProxyND rewrites msg and hdr for forwarding out this interface to
// dstMAC, then sends the resulting frame on the ND socket.  See
// rewriteForProxy for the rewrite rules applied.
func (p *Interface) ProxyND(hdr ndsock.EtherIPv6Header, dstMAC lladdr.Addr, msg *ndmsg.Message) (err error) {
	if !p.IsEnabled() {
		return ndproxyerr.New(ndproxyerr.BadInternalState, "interface is not enabled")
	}

	rewriteForProxy(p.llAddr, &hdr, dstMAC, msg)

	return p.nd.Send(hdr, msg.Bytes())
}

// SendIPv6 rewrites only the L2 addresses of hdr and sends payload
// verbatim on the non-ND socket.
func (p *Interface) SendIPv6(hdr ndsock.EtherIPv6Header, dstMAC lladdr.Addr, payload []byte) (err error) {
	if !p.IsEnabled() {
		return ndproxyerr.New(ndproxyerr.BadInternalState, "interface is not enabled")
	}

	hdr.SourceLL = p.llAddr
	hdr.DestinationLL = dstMAC

	return p.nonND.Send(hdr, payload)
}

// SendMaintenance sends an ICMPv6 Destination Unreachable message to dst
// via the interface's maintenance socket.
func (p *Interface) SendMaintenance(dst netip.Addr, code int, original []byte) (err error) {
	return p.icmp.SendDestinationUnreachable(dst, p.nd.IfIndex(), code, original)
}

// SendPacketTooBig sends an ICMPv6 Packet Too Big message to dst via the
// interface's maintenance socket.
func (p *Interface) SendPacketTooBig(dst netip.Addr, original []byte) (err error) {
	return p.icmp.SendPacketTooBig(dst, p.nd.IfIndex(), p.mtu, original)
}

// Close releases all of the interface's sockets and marks it [StateInvalid].
func (p *Interface) Close() (err error) {
	p.state = StateInvalid

	ndErr := p.nd.Close()
	nonNDErr := p.nonND.Close()
	icmpErr := p.icmp.Close()

	switch {
	case ndErr != nil:
		return ndErr
	case nonNDErr != nil:
		return nonNDErr
	default:
		return icmpErr
	}
}

// MarkLoopDetected marks the interface as having tripped ND loop
// prevention, disabling it immediately.
func (p *Interface) MarkLoopDetected() (disabled bool) { return p.Labels.MarkLoopDetected() }

// ClearLoopDetected clears the loop-detected label, reenabling the
// interface if no other disable label remains set.
func (p *Interface) ClearLoopDetected() (enabled bool) { return p.Labels.ClearLoopDetected() }

// IsLoopDetected reports whether the loop-detected label is currently set.
func (p *Interface) IsLoopDetected() (ok bool) { return p.Labels.IsMarked(disable.LoopDetected) }

// --- group.Member implementation ---

// CurrentGroup returns the name of the group this interface currently
// believes it belongs to, if any.
func (p *Interface) CurrentGroup() (name string, ok bool) { return p.groupName, p.inGroup }

// PostJoin is called by the group manager immediately after this
// interface is added to a group.
func (p *Interface) PostJoin(groupName string) {
	p.groupName = groupName
	p.inGroup = true
	p.Labels.ClearGroupless()
}

// PostLeave is called by the group manager immediately after this
// interface is removed from its group.
func (p *Interface) PostLeave() {
	p.groupName = ""
	p.inGroup = false
	p.Labels.MarkGroupless(true)
}
