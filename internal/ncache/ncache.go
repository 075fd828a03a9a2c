// Package ncache implements the neighbor cache: a table of (IP address,
// group name) to link-layer-address mappings, added by the caller through
// InsertEntry, used to resolve unicast ND proxy targets without
// resoliciting them.  It is not safe for concurrent use; callers run it from
// a single event loop goroutine.
package ncache

import (
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/ndproxyd/ndproxyd/internal/lladdr"
	"github.com/ndproxyd/ndproxyd/internal/ndproxyerr"
	"golang.org/x/sys/unix"
)

// entryTTL is how long an inserted entry remains valid before ClearExpired
// removes it.
const entryTTL = 30 * time.Second

// nudRank orders Neighbor Unreachability Detection states by how confidently
// they identify a live neighbor, per RFC 4861 §7.3.2.  Higher is better;
// NUD_FAILED is intentionally absent so it never wins GetInterfaceRouter.
var nudRank = map[uint8]int{
	unix.NUD_INCOMPLETE: 1,
	unix.NUD_STALE:      2,
	unix.NUD_DELAY:      3,
	unix.NUD_PROBE:      4,
	unix.NUD_REACHABLE:  5,
}

// Errors returned by InsertEntry, all of kind [ndproxyerr.InvalidArgument].
var (
	ErrEmptyGroup           = ndproxyerr.New(ndproxyerr.InvalidArgument, "group name must not be empty")
	ErrNotIPv6              = ndproxyerr.New(ndproxyerr.InvalidArgument, "neighbor cache entries must be IPv6")
	ErrInvalidLLAddress     = ndproxyerr.New(ndproxyerr.InvalidArgument, "neighbor cache entry has an invalid link-layer address")
	ErrEmptyInterface       = ndproxyerr.New(ndproxyerr.InvalidArgument, "neighbor cache entry has an empty interface name")
	ErrUnrecognizedNUDState = ndproxyerr.New(ndproxyerr.InvalidArgument, "neighbor cache entry has an unrecognized NUD state")
)

// Entry is a single neighbor cache record, mirroring the fields of a Linux
// neighbor table entry that the ND proxy cares about.
type Entry struct {
	IPAddress  netip.Addr
	LLAddress  lladdr.Addr
	IfName     string
	IsRouter   bool
	NUDState   uint8
	expiryTime time.Time
}

// validate checks e against the rules InsertEntry enforces; pgName is
// validated alongside it since it is part of the key, not the entry.
func (e *Entry) validate(pgName string) (err error) {
	if pgName == "" {
		return ErrEmptyGroup
	}

	if !e.IPAddress.Is6() || e.IPAddress.Is4In6() {
		return ErrNotIPv6
	}

	if !e.LLAddress.IsValid() {
		return ErrInvalidLLAddress
	}

	if e.IfName == "" {
		return ErrEmptyInterface
	}

	if _, ok := nudRank[e.NUDState]; !ok && e.NUDState != unix.NUD_FAILED {
		return ErrUnrecognizedNUDState
	}

	return nil
}

// key identifies a cache entry by its IP address and group name.
type key struct {
	addr  netip.Addr
	group string
}

// Cache is the neighbor cache.  The zero Cache is ready to use.
//
// Entries are kept in a [container.KeyValues] rather than a plain map so
// that GetInterfaceRouter can break NUD-rank ties by insertion order, the
// way the kernel's own neighbor table would be walked; a bare Go map gives
// no such guarantee on iteration.
type Cache struct {
	// Clock supplies the current time for expiry bookkeeping; it defaults to
	// the real system clock if left nil.
	Clock timeutil.Clock

	entries container.KeyValues[key, Entry]
}

func (c *Cache) now() (t time.Time) {
	if c.Clock == nil {
		return time.Now()
	}

	return c.Clock.Now()
}

// indexOf returns the position of k in c.entries, or -1.
func (c *Cache) indexOf(k key) (idx int) {
	for i, kv := range c.entries {
		if kv.Key == k {
			return i
		}
	}

	return -1
}

// GetEntry returns the entry for (addr, group), if any.
func (c *Cache) GetEntry(addr netip.Addr, group string) (e Entry, ok bool) {
	idx := c.indexOf(key{addr, group})
	if idx < 0 {
		return Entry{}, false
	}

	return c.entries[idx].Value, true
}

// HasEntry reports whether an entry exists for (addr, group).
func (c *Cache) HasEntry(addr netip.Addr, group string) (ok bool) {
	return c.indexOf(key{addr, group}) >= 0
}

// GetInterfaceRouter returns the highest-NUD-ranked router entry on ifName
// within group, skipping entries in the FAILED state.  Ties are broken by
// insertion order: the first-inserted entry at the winning rank is kept,
// since later entries only replace best when strictly higher-ranked.
func (c *Cache) GetInterfaceRouter(ifName, group string) (best Entry, ok bool) {
	bestRank := -1
	for _, kv := range c.entries {
		e := kv.Value
		if kv.Key.group != group || e.IfName != ifName || !e.IsRouter {
			continue
		}

		rank, known := nudRank[e.NUDState]
		if !known {
			continue
		}

		if rank > bestRank {
			bestRank = rank
			best = e
			ok = true
		}
	}

	return best, ok
}

// InsertEntry inserts or replaces the entry for (entry.IPAddress, pgName),
// validating it first.  now, if the zero time, defaults to c's clock.
// Replacing an existing entry keeps its position in insertion order.
func (c *Cache) InsertEntry(pgName string, entry Entry, now time.Time) (err error) {
	if err = entry.validate(pgName); err != nil {
		if e, ok := err.(*ndproxyerr.Error); ok {
			return e.Annotate("inserting neighbor cache entry")
		}

		return err
	}

	if now.IsZero() {
		now = c.now()
	}

	entry.expiryTime = now.Add(entryTTL)

	k := key{entry.IPAddress, pgName}
	if idx := c.indexOf(k); idx >= 0 {
		c.entries[idx].Value = entry

		return nil
	}

	c.entries = append(c.entries, container.KeyValue[key, Entry]{Key: k, Value: entry})

	return nil
}

// RemoveEntry removes the entry for (addr, group), if any.
func (c *Cache) RemoveEntry(addr netip.Addr, group string) {
	c.deleteWhere(func(k key, _ Entry) bool { return k == (key{addr, group}) })
}

// ClearForInterface removes every entry whose IfName is ifName.
func (c *Cache) ClearForInterface(ifName string) {
	c.deleteWhere(func(_ key, e Entry) bool { return e.IfName == ifName })
}

// ClearForGroup removes every entry belonging to group.
func (c *Cache) ClearForGroup(group string) {
	c.deleteWhere(func(k key, _ Entry) bool { return k.group == group })
}

// Clear removes every entry.
func (c *Cache) Clear() { c.entries = nil }

// ClearExpired removes every entry whose expiry time is at or before now.
func (c *Cache) ClearExpired(now time.Time) {
	if now.IsZero() {
		now = c.now()
	}

	c.deleteWhere(func(_ key, e Entry) bool { return !e.expiryTime.After(now) })
}

// deleteWhere removes every entry for which match returns true, preserving
// the relative order of the entries that remain.
func (c *Cache) deleteWhere(match func(k key, e Entry) bool) {
	kept := c.entries[:0]
	for _, kv := range c.entries {
		if !match(kv.Key, kv.Value) {
			kept = append(kept, kv)
		}
	}

	if len(kept) == 0 {
		c.entries = nil

		return
	}

	c.entries = kept
}
