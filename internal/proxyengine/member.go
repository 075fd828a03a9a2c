// Package proxyengine implements the proxy daemon's single-threaded event
// loop: it owns every bound [proxyif.Interface], the group manager, and the
// neighbor cache, and is the only place any of that state is mutated.
package proxyengine

import (
	"net/netip"

	"github.com/ndproxyd/ndproxyd/internal/group"
	"github.com/ndproxyd/ndproxyd/internal/lladdr"
	"github.com/ndproxyd/ndproxyd/internal/ndmsg"
	"github.com/ndproxyd/ndproxyd/internal/ndsock"
)

// member is the subset of [*proxyif.Interface] the engine depends on.  It
// exists so the engine's dispatch logic can be exercised in tests against a
// fake that needs no real socket.
type member interface {
	group.Member

	IsEnabled() bool
	HasIPv6Address(addr netip.Addr) bool
	LinkLayerAddress() (addr lladdr.Addr)

	ReceiveND() (hdr ndsock.EtherIPv6Header, msg *ndmsg.Message, err error)
	ReceiveIPv6() (hdr ndsock.EtherIPv6Header, payload []byte, err error)
	DiscardND() (err error)
	DiscardIPv6() (err error)

	ProxyND(hdr ndsock.EtherIPv6Header, dstMAC lladdr.Addr, msg *ndmsg.Message) (err error)
	SendIPv6(hdr ndsock.EtherIPv6Header, dstMAC lladdr.Addr, payload []byte) (err error)

	MarkLoopDetected() (disabled bool)
	ClearLoopDetected() (enabled bool)

	Close() (err error)
}
