package proxyengine

import "github.com/ndproxyd/ndproxyd/internal/ndproxyerr"

// watch launches the two reader goroutines that feed iface's received
// frames to the loop.  Each only performs I/O and parsing; the loop
// goroutine is the one that acts on the result.
func (e *Engine) watch(iface member) {
	e.wg.Add(2)
	go e.watchND(iface)
	go e.watchNonND(iface)
}

// isFatal reports whether err means the underlying socket is gone and its
// reader goroutine should stop, rather than keep looping on a transient
// per-frame error.
func isFatal(err error) (fatal bool) {
	if err == nil {
		return false
	}

	kind, ok := ndproxyerr.KindOf(err)
	if !ok {
		return true
	}

	return kind == ndproxyerr.BadInternalState
}

func (e *Engine) watchND(iface member) {
	defer e.wg.Done()

	name := iface.Name()
	for {
		hdr, msg, rerr := iface.ReceiveND()

		select {
		case e.frames <- frameJob{ifName: name, isND: true, hdr: hdr, msg: msg, err: rerr}:
		case <-e.done:
			return
		}

		if isFatal(rerr) {
			return
		}
	}
}

func (e *Engine) watchNonND(iface member) {
	defer e.wg.Done()

	name := iface.Name()
	for {
		hdr, payload, rerr := iface.ReceiveIPv6()

		select {
		case e.frames <- frameJob{ifName: name, isND: false, hdr: hdr, payload: payload, err: rerr}:
		case <-e.done:
			return
		}

		if isFatal(rerr) {
			return
		}
	}
}
