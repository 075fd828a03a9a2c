package ncache_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/ndproxyd/ndproxyd/internal/lladdr"
	"github.com/ndproxyd/ndproxyd/internal/ncache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var testMAC = lladdr.Parse(lladdr.Eui48, "a0:8c:fd:c3:b3:c0")

func validEntry() (e ncache.Entry) {
	return ncache.Entry{
		IPAddress: netip.MustParseAddr("2001:db8::1"),
		LLAddress: testMAC,
		IfName:    "eth0",
		IsRouter:  true,
		NUDState:  unix.NUD_REACHABLE,
	}
}

func TestCache_InsertAndGet(t *testing.T) {
	t.Parallel()

	var c ncache.Cache

	e := validEntry()
	require.NoError(t, c.InsertEntry("wan", e, time.Unix(1000, 0)))

	got, ok := c.GetEntry(e.IPAddress, "wan")
	require.True(t, ok)
	assert.Equal(t, e.IfName, got.IfName)

	assert.True(t, c.HasEntry(e.IPAddress, "wan"))
	assert.False(t, c.HasEntry(e.IPAddress, "lan"))
}

func TestCache_InsertEntry_validation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		group string
		entry ncache.Entry
	}{{
		name:  "empty_group",
		group: "",
		entry: validEntry(),
	}, {
		name:  "not_ipv6",
		group: "wan",
		entry: func() (e ncache.Entry) {
			e = validEntry()
			e.IPAddress = netip.MustParseAddr("192.0.2.1")
			return e
		}(),
	}, {
		name:  "invalid_ll_address",
		group: "wan",
		entry: func() (e ncache.Entry) {
			e = validEntry()
			e.LLAddress = lladdr.Addr{}
			return e
		}(),
	}, {
		name:  "empty_if_name",
		group: "wan",
		entry: func() (e ncache.Entry) {
			e = validEntry()
			e.IfName = ""
			return e
		}(),
	}, {
		name:  "unrecognized_nud_state",
		group: "wan",
		entry: func() (e ncache.Entry) {
			e = validEntry()
			e.NUDState = 0xaa
			return e
		}(),
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var c ncache.Cache
			err := c.InsertEntry(tc.group, tc.entry, time.Unix(1, 0))
			assert.Error(t, err)
		})
	}
}

func TestCache_GetInterfaceRouter_ranksNUDState(t *testing.T) {
	t.Parallel()

	var c ncache.Cache

	stale := validEntry()
	stale.IPAddress = netip.MustParseAddr("2001:db8::1")
	stale.NUDState = unix.NUD_STALE

	reachable := validEntry()
	reachable.IPAddress = netip.MustParseAddr("2001:db8::2")
	reachable.NUDState = unix.NUD_REACHABLE

	failed := validEntry()
	failed.IPAddress = netip.MustParseAddr("2001:db8::3")
	failed.NUDState = unix.NUD_FAILED

	now := time.Unix(1000, 0)
	require.NoError(t, c.InsertEntry("wan", stale, now))
	require.NoError(t, c.InsertEntry("wan", reachable, now))
	require.NoError(t, c.InsertEntry("wan", failed, now))

	best, ok := c.GetInterfaceRouter("eth0", "wan")
	require.True(t, ok)
	assert.Equal(t, reachable.IPAddress, best.IPAddress)
}

func TestCache_GetInterfaceRouter_tieBreaksOnInsertionOrder(t *testing.T) {
	t.Parallel()

	var c ncache.Cache

	first := validEntry()
	first.IPAddress = netip.MustParseAddr("2001:db8::1")
	first.NUDState = unix.NUD_REACHABLE

	second := validEntry()
	second.IPAddress = netip.MustParseAddr("2001:db8::2")
	second.NUDState = unix.NUD_REACHABLE

	now := time.Unix(1000, 0)
	require.NoError(t, c.InsertEntry("wan", first, now))
	require.NoError(t, c.InsertEntry("wan", second, now))

	best, ok := c.GetInterfaceRouter("eth0", "wan")
	require.True(t, ok)
	assert.Equal(t, first.IPAddress, best.IPAddress)

	// Re-inserting first at its existing key must not move it to the end,
	// so it keeps winning the tie.
	require.NoError(t, c.InsertEntry("wan", first, now))

	best, ok = c.GetInterfaceRouter("eth0", "wan")
	require.True(t, ok)
	assert.Equal(t, first.IPAddress, best.IPAddress)
}

func TestCache_GetInterfaceRouter_onlyFailed(t *testing.T) {
	t.Parallel()

	var c ncache.Cache

	failed := validEntry()
	failed.NUDState = unix.NUD_FAILED

	require.NoError(t, c.InsertEntry("wan", failed, time.Unix(1, 0)))

	_, ok := c.GetInterfaceRouter("eth0", "wan")
	assert.False(t, ok)
}

func TestCache_RemoveAndClear(t *testing.T) {
	t.Parallel()

	var c ncache.Cache

	e1 := validEntry()
	e2 := validEntry()
	e2.IPAddress = netip.MustParseAddr("2001:db8::2")
	e2.IfName = "eth1"

	now := time.Unix(1, 0)
	require.NoError(t, c.InsertEntry("wan", e1, now))
	require.NoError(t, c.InsertEntry("lan", e2, now))

	c.RemoveEntry(e1.IPAddress, "wan")
	assert.False(t, c.HasEntry(e1.IPAddress, "wan"))
	assert.True(t, c.HasEntry(e2.IPAddress, "lan"))

	require.NoError(t, c.InsertEntry("wan", e1, now))
	c.ClearForInterface("eth0")
	assert.False(t, c.HasEntry(e1.IPAddress, "wan"))
	assert.True(t, c.HasEntry(e2.IPAddress, "lan"))

	require.NoError(t, c.InsertEntry("wan", e1, now))
	c.ClearForGroup("wan")
	assert.False(t, c.HasEntry(e1.IPAddress, "wan"))
	assert.True(t, c.HasEntry(e2.IPAddress, "lan"))

	c.Clear()
	assert.False(t, c.HasEntry(e2.IPAddress, "lan"))
}

func TestCache_ClearExpired(t *testing.T) {
	t.Parallel()

	var c ncache.Cache

	e := validEntry()
	require.NoError(t, c.InsertEntry("wan", e, time.Unix(1000, 0)))

	c.ClearExpired(time.Unix(1010, 0))
	assert.True(t, c.HasEntry(e.IPAddress, "wan"))

	c.ClearExpired(time.Unix(1031, 0))
	assert.False(t, c.HasEntry(e.IPAddress, "wan"))
}
