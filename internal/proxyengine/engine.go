package proxyengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"

	"github.com/ndproxyd/ndproxyd/internal/group"
	"github.com/ndproxyd/ndproxyd/internal/ncache"
	"github.com/ndproxyd/ndproxyd/internal/ndmsg"
	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
	"github.com/ndproxyd/ndproxyd/internal/ndsock"
)

// loopSuppressionDuration is how long an interface stays disabled after ND
// loop prevention trips on it, per RFC 4389 guidance against flapping a
// proxy link up and down on every stray advertisement.
const loopSuppressionDuration = 60 * time.Minute

// cacheSweepPeriod is how often the engine evicts expired neighbor cache
// entries.
const cacheSweepPeriod = 10 * time.Second

// frameChanLen bounds how many received frames may be queued for the loop
// goroutine before a reader goroutine blocks; it absorbs a short burst
// without requiring the loop to keep up with every interface at once.
const frameChanLen = 64

// Engine is the proxy daemon's event loop.  It owns every bound interface,
// the group manager, and the neighbor cache, and is the only goroutine that
// ever mutates any of them; other goroutines — socket readers and timers —
// only ever post a closure for the loop to run.
type Engine struct {
	// Logger receives per-frame error and drop diagnostics.
	Logger *slog.Logger

	// Clock supplies the current time to the neighbor cache and its expiry
	// sweep; it defaults to the real system clock if left nil.  The
	// loop-suppression timers run on real time and do not consult it.
	Clock timeutil.Clock

	// Nested reports whether this engine itself runs downstream of another
	// ND proxy, which exempts Proxy-flagged Router Advertisements it
	// receives from loop suppression.
	Nested bool

	interfaces map[string]member
	groups     *group.Manager
	cache      *ncache.Cache

	loopTimers map[string]*time.Timer

	frames chan frameJob
	events chan func()
	done   chan struct{}

	wg sync.WaitGroup
}

// frameJob is one received frame, handed from a socket reader goroutine to
// the loop goroutine for processing.  msg is set only for an ND frame;
// payload is set only for a plain IPv6 frame.
type frameJob struct {
	ifName  string
	isND    bool
	hdr     ndsock.EtherIPv6Header
	msg     *ndmsg.Message
	payload []byte
	err     error
}

// New returns a ready, unstarted Engine.
func New(logger *slog.Logger, clock timeutil.Clock, nested bool) (e *Engine) {
	return &Engine{
		Logger:     logger,
		Clock:      clock,
		Nested:     nested,
		interfaces: map[string]member{},
		groups:     group.NewManager(),
		cache:      &ncache.Cache{Clock: clock},
		loopTimers: map[string]*time.Timer{},
		frames:     make(chan frameJob, frameChanLen),
		events:     make(chan func(), frameChanLen),
		done:       make(chan struct{}),
	}
}

// now returns the engine's current time, consulting Clock if set.
func (e *Engine) now() (t time.Time) {
	if e.Clock == nil {
		return time.Now()
	}

	return e.Clock.Now()
}

// Start launches the loop goroutine and the periodic neighbor cache sweep.
// It returns immediately; Shutdown stops both.
func (e *Engine) Start(ctx context.Context) (err error) {
	e.wg.Add(2)
	go e.run(ctx)
	go e.sweepExpiredCache(ctx)

	return nil
}

// Shutdown stops the loop, releases every bound interface, and waits for
// the loop and sweep goroutines to exit.
//
// Order matters here: each interface's watcher goroutines (watch.go) are
// parked in a blocking receive on its sockets, and closing done cannot
// interrupt them — only closing the sockets themselves does. So every
// socket is closed first, on the loop goroutine via closeAllSockets, before
// done is closed and wg.Wait is allowed to block; tearing down in the
// opposite order would leave those goroutines parked forever and deadlock
// Shutdown, per spec §5's teardown-in-reverse-order requirement.
func (e *Engine) Shutdown(ctx context.Context) (err error) {
	closeErr := e.do(func() (derr error) { return e.closeAllSockets() })

	close(e.done)
	e.wg.Wait()

	for _, name := range e.interfaceNames() {
		if rerr := e.releaseInterface(name); rerr != nil && err == nil {
			err = rerr
		}
	}

	if err == nil {
		err = closeErr
	}

	return err
}

// closeAllSockets closes every bound interface's sockets so their watcher
// goroutines unblock, without otherwise touching group membership or the
// neighbor cache; releaseInterface finishes that part of the teardown once
// the loop goroutine has stopped. Socket closes are idempotent, so
// releaseInterface's later call to Close is a harmless no-op.
func (e *Engine) closeAllSockets() (err error) {
	for _, iface := range e.interfaces {
		if cerr := iface.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	return err
}

// interfaceNames returns a snapshot of currently bound interface names.
func (e *Engine) interfaceNames() (names []string) {
	names = make([]string, 0, len(e.interfaces))
	for name := range e.interfaces {
		names = append(names, name)
	}

	return names
}

// run is the engine's single loop thread.  It drains posted closures and
// received frames until Shutdown closes done or ctx is canceled.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	defer slogutil.RecoverAndLog(ctx, e.Logger)

	for {
		select {
		case fn := <-e.events:
			fn()
		case job := <-e.frames:
			e.dispatch(job)
		case <-e.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// post hands fn to the loop goroutine.  It is the only way a goroutine
// other than the loop itself may affect engine state.
func (e *Engine) post(fn func()) {
	select {
	case e.events <- fn:
	case <-e.done:
	}
}

// do posts fn to the loop and blocks for its result, for use by
// control-plane calls that must report success or failure synchronously.
func (e *Engine) do(fn func() (err error)) (err error) {
	resp := make(chan error, 1)
	e.post(func() { resp <- fn() })

	select {
	case err = <-resp:
		return err
	case <-e.done:
		return ndproxyerr.New(ndproxyerr.BadInternalState, "engine is shutting down")
	}
}

// sweepExpiredCache periodically evicts expired neighbor cache entries.
// The sweep only ever posts the actual eviction back onto the loop
// goroutine; it never touches the cache directly.
func (e *Engine) sweepExpiredCache(ctx context.Context) {
	defer e.wg.Done()
	defer slogutil.RecoverAndLog(ctx, e.Logger)

	t := time.NewTicker(cacheSweepPeriod)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			e.post(func() { e.cache.ClearExpired(e.now()) })
		case <-e.done:
			return
		}
	}
}

// logDrop logs a frame dropped for reasons other than the ordinary,
// RFC-mandated silent drops (wrong hop limit, missing cache entry, and so
// on), which are not logged at all.
func (e *Engine) logDrop(action, ifName string, err error) {
	if e.Logger == nil {
		return
	}

	e.Logger.Error(action, "interface", ifName, slogutil.KeyError, err)
}
