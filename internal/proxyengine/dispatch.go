package proxyengine

import (
	"time"

	"github.com/ndproxyd/ndproxyd/internal/group"
	"github.com/ndproxyd/ndproxyd/internal/ipv6util"
	"github.com/ndproxyd/ndproxyd/internal/lladdr"
	"github.com/ndproxyd/ndproxyd/internal/ndmsg"
	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
	"github.com/ndproxyd/ndproxyd/internal/ndsock"
)

// dispatch routes a received frame to its ND or plain-IPv6 handler.  It
// only ever runs on the loop goroutine.
func (e *Engine) dispatch(job frameJob) {
	if job.isND {
		e.handleNDReady(job)
	} else {
		e.handleNonNDReady(job)
	}
}

// handleNDReady implements the ND-socket-readable handler.
func (e *Engine) handleNDReady(job frameJob) {
	iface, ok := e.interfaces[job.ifName]
	if !ok {
		// The interface was released between the read and this dispatch.
		return
	}

	if !iface.IsEnabled() {
		_ = iface.DiscardND()

		return
	}

	groupName, inGroup := iface.CurrentGroup()
	if !inGroup {
		_ = iface.DiscardND()

		return
	}

	if job.err != nil {
		e.logReceiveError("receiving nd frame", job.ifName, job.err)

		return
	}

	hdr, msg := job.hdr, job.msg

	if iface.HasIPv6Address(hdr.Destination) {
		return
	}

	g, ok := e.groups.Group(groupName)
	if !ok {
		return
	}

	if msg.Type() == ndmsg.RouterAdvert && e.suppressRouterAdvertLoop(g, iface, msg) {
		return
	}

	if hdr.Destination.IsMulticast() {
		e.fanOutMulticastND(g, iface, hdr, msg)

		return
	}

	e.forwardUnicastND(g, iface, hdr, msg, groupName)
}

// handleNonNDReady implements the non-ND-socket-readable handler: the same
// flow as handleNDReady, minus loop suppression, forwarding a plain IPv6
// packet instead of an ND message.
func (e *Engine) handleNonNDReady(job frameJob) {
	iface, ok := e.interfaces[job.ifName]
	if !ok {
		return
	}

	if !iface.IsEnabled() {
		_ = iface.DiscardIPv6()

		return
	}

	groupName, inGroup := iface.CurrentGroup()
	if !inGroup {
		_ = iface.DiscardIPv6()

		return
	}

	if job.err != nil {
		e.logReceiveError("receiving ipv6 frame", job.ifName, job.err)

		return
	}

	hdr, payload := job.hdr, job.payload

	if iface.HasIPv6Address(hdr.Destination) {
		return
	}

	g, ok := e.groups.Group(groupName)
	if !ok {
		return
	}

	if hdr.Destination.IsMulticast() {
		e.fanOutMulticastIPv6(g, iface, hdr, payload)

		return
	}

	e.forwardUnicastIPv6(g, iface, hdr, payload, groupName)
}

// logReceiveError logs a receive failure, except for the two outcomes the
// protocol expects routinely: no frame queued, and a malformed frame the
// kernel filter already should have excluded but which still needs a
// silent drop per RFC 4861.
func (e *Engine) logReceiveError(action, ifName string, err error) {
	kind, ok := ndproxyerr.KindOf(err)
	if ok && (kind == ndproxyerr.ResultUnavailable || kind == ndproxyerr.MalformedPacket) {
		return
	}

	e.logDrop(action, ifName, err)
}

// suppressRouterAdvertLoop applies the ND loop-prevention rule to a
// received Router Advertisement.  It reports whether the advertisement was
// suppressed (and so must not be forwarded).
func (e *Engine) suppressRouterAdvertLoop(g *group.Group, iface member, msg *ndmsg.Message) (suppressed bool) {
	loop := !g.IsUpstream(iface.Name()) || (msg.ProxyFlag() && !e.Nested)
	if !loop {
		return false
	}

	iface.MarkLoopDetected()
	e.scheduleLoopClear(iface.Name())

	return true
}

// scheduleLoopClear (re)schedules iface's loop-suppression clear timer,
// canceling any timer already pending for it.  The timer's callback only
// posts the clear back onto the loop; it never mutates engine state
// directly.
func (e *Engine) scheduleLoopClear(ifName string) {
	e.cancelLoopTimer(ifName)

	e.loopTimers[ifName] = time.AfterFunc(loopSuppressionDuration, func() {
		e.post(func() { e.clearLoopSuppression(ifName) })
	})
}

// cancelLoopTimer stops and forgets ifName's pending loop-clear timer, if
// any.
func (e *Engine) cancelLoopTimer(ifName string) {
	if t, ok := e.loopTimers[ifName]; ok {
		t.Stop()
		delete(e.loopTimers, ifName)
	}
}

// clearLoopSuppression clears the loop-detected label on ifName, if it is
// still bound.
func (e *Engine) clearLoopSuppression(ifName string) {
	delete(e.loopTimers, ifName)

	if iface, ok := e.interfaces[ifName]; ok {
		iface.ClearLoopDetected()
	}
}

// fanOutMulticastND proxies an ND message to every other enabled member of
// g, in insertion order.
func (e *Engine) fanOutMulticastND(g *group.Group, iface member, hdr ndsock.EtherIPv6Header, msg *ndmsg.Message) {
	dstMAC := ipv6util.MulticastMAC(hdr.Destination)

	for _, m := range otherEnabledMembers(g, iface) {
		if perr := m.ProxyND(hdr, dstMAC, msg); perr != nil {
			e.logDrop("proxying nd frame", m.Name(), perr)
		}
	}
}

// fanOutMulticastIPv6 forwards a plain IPv6 packet to every other enabled
// member of g, in insertion order.
func (e *Engine) fanOutMulticastIPv6(g *group.Group, iface member, hdr ndsock.EtherIPv6Header, payload []byte) {
	dstMAC := ipv6util.MulticastMAC(hdr.Destination)

	for _, m := range otherEnabledMembers(g, iface) {
		if serr := m.SendIPv6(hdr, dstMAC, payload); serr != nil {
			e.logDrop("sending ipv6 frame", m.Name(), serr)
		}
	}
}

// otherEnabledMembers returns g's members other than iface that are
// currently enabled, preserving insertion order.
func otherEnabledMembers(g *group.Group, iface member) (others []member) {
	for _, gm := range g.GetMembers() {
		if gm.Name() == iface.Name() {
			continue
		}

		m, ok := gm.(member)
		if !ok || !m.IsEnabled() {
			continue
		}

		others = append(others, m)
	}

	return others
}

// forwardUnicastND resolves hdr.Destination in the neighbor cache and
// proxies msg to the matching egress interface.  A cache miss, or an
// egress interface that is the ingress interface itself, is a silent drop.
func (e *Engine) forwardUnicastND(
	g *group.Group,
	iface member,
	hdr ndsock.EtherIPv6Header,
	msg *ndmsg.Message,
	groupName string,
) {
	egress, dstMAC, ok := e.resolveEgress(hdr, iface, groupName)
	if !ok {
		return
	}

	if perr := egress.ProxyND(hdr, dstMAC, msg); perr != nil {
		e.logDrop("proxying nd frame", egress.Name(), perr)
	}
}

// forwardUnicastIPv6 is forwardUnicastND's plain-IPv6 counterpart.
func (e *Engine) forwardUnicastIPv6(
	g *group.Group,
	iface member,
	hdr ndsock.EtherIPv6Header,
	payload []byte,
	groupName string,
) {
	egress, dstMAC, ok := e.resolveEgress(hdr, iface, groupName)
	if !ok {
		return
	}

	if serr := egress.SendIPv6(hdr, dstMAC, payload); serr != nil {
		e.logDrop("sending ipv6 frame", egress.Name(), serr)
	}
}

// resolveEgress looks up hdr.Destination in groupName's neighbor cache
// entries and returns the egress member and its link-layer address.  It
// reports false for a cache miss or a hairpin (egress equal to ingress).
func (e *Engine) resolveEgress(
	hdr ndsock.EtherIPv6Header,
	iface member,
	groupName string,
) (egress member, dstMAC lladdr.Addr, ok bool) {
	entry, found := e.cache.GetEntry(hdr.Destination, groupName)
	if !found || entry.IfName == iface.Name() {
		return nil, lladdr.Addr{}, false
	}

	egress, ok = e.interfaces[entry.IfName]
	if !ok || !egress.IsEnabled() {
		return nil, lladdr.Addr{}, false
	}

	return egress, entry.LLAddress, true
}
