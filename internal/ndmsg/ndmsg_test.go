package ndmsg_test

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/ndproxyd/ndproxyd/internal/lladdr"
	"github.com/ndproxyd/ndproxyd/internal/ndmsg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   []byte
	}{{
		name: "empty",
		in:   nil,
	}, {
		name: "unknown_type",
		in:   []byte{1, 0, 0, 0, 0, 0, 0, 0},
	}, {
		name: "too_short",
		in:   []byte{133, 0, 0, 0},
	}, {
		name: "misaligned",
		in:   []byte{133, 0, 0, 0, 0, 0, 0, 0, 0},
	}, {
		name: "zero_length_option",
		in:   append([]byte{135, 0, 0, 0, 0, 0, 0, 0}, append(make([]byte, 16), byte(1), 0, 0, 0, 0, 0, 0, 0)...),
	}, {
		name: "option_overrun",
		in:   append([]byte{135, 0, 0, 0, 0, 0, 0, 0}, append(make([]byte, 16), byte(1), 3, 0, 0, 0, 0, 0, 0)...),
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ndmsg.Parse(tc.in)
			assert.Error(t, err)
		})
	}
}

func TestParse_undersizedKnownOptionSkipped(t *testing.T) {
	t.Parallel()

	// An NS with a Prefix Information option declared as only 1 unit (8
	// bytes), below its 32-byte minimum: the option must be dropped from
	// the index, not cause a parse failure, and the bytes still consumed.
	buf := make([]byte, 24)
	buf[0] = byte(ndmsg.NeighborSolicit)
	buf = append(buf, byte(ndmsg.OptPrefixInformation), 1, 0, 0, 0, 0, 0, 0)

	m, err := ndmsg.Parse(buf)
	require.NoError(t, err)
	assert.False(t, m.HasOption(ndmsg.OptPrefixInformation))
}

func TestParse_oversizeKnownOptionIndexed(t *testing.T) {
	t.Parallel()

	// An NS with a Source Link-Layer Address option declared as 2 units (16
	// bytes), above its 8-byte minimum: the option must still be indexed.
	buf := make([]byte, 24)
	buf[0] = byte(ndmsg.NeighborSolicit)
	buf = append(buf, byte(ndmsg.OptSourceLinkLayerAddress), 2, 0xa0, 0x8c, 0xfd, 0xc3, 0xb3, 0xc0)
	buf = append(buf, make([]byte, 8)...)

	m, err := ndmsg.Parse(buf)
	require.NoError(t, err)
	require.True(t, m.HasOption(ndmsg.OptSourceLinkLayerAddress))

	got, ok := m.SourceLinkLayerAddress(0, 6)
	require.True(t, ok)
	assert.Equal(t, "a0:8c:fd:c3:b3:c0", got.String())
}

func TestRouterAdvert_roundTrip(t *testing.T) {
	t.Parallel()

	ra := ndmsg.NewRouterAdvert(64, true, false, 1800, 0, 0)
	ra.SetProxyFlag(true)

	mac := lladdr.Parse(lladdr.Eui48, "a0:8c:fd:c3:b3:c0")
	ra.PushSourceLinkLayerAddress(mac)

	prefix := ndmsg.PrefixInfo{
		Prefix:            netip.MustParseAddr("2001:db8::"),
		PrefixLength:      64,
		OnLink:            true,
		Autonomous:        true,
		ValidLifetime:     86400,
		PreferredLifetime: 14400,
	}
	ra.PushPrefixInformation(prefix)
	ra.PushMTU(1500)

	raw := ra.Bytes()
	assert.Equal(t, 0, len(raw)%8)

	reparsed, err := ndmsg.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, ndmsg.RouterAdvert, reparsed.Type())
	assert.True(t, reparsed.ManagedFlag())
	assert.False(t, reparsed.OtherFlag())
	assert.True(t, reparsed.ProxyFlag())
	assert.EqualValues(t, 64, reparsed.CurHopLimit())
	assert.EqualValues(t, 1800, reparsed.RouterLifetime())

	gotMAC, ok := reparsed.SourceLinkLayerAddress(0, 6)
	require.True(t, ok)
	assert.True(t, mac.Equal(gotMAC))

	gotPrefix, ok := reparsed.PrefixInformation(0)
	require.True(t, ok)
	assert.Equal(t, prefix, gotPrefix)

	gotMTU, ok := reparsed.MTU(0)
	require.True(t, ok)
	assert.EqualValues(t, 1500, gotMTU)

	// Cross-check against an independent serializer: gopacket's ICMPv6
	// option encoder must agree on the Source Link-Layer Address option's
	// wire bytes.
	opts := gopacket.SerializeOptions{}
	buf := gopacket.NewSerializeBuffer()
	sll := layers.ICMPv6Options{{
		Type: layers.ICMPv6OptSourceAddress,
		Data: mac.Bytes(),
	}}
	require.NoError(t, sll.SerializeTo(buf, opts))

	optOffset := 16 // end of RA fixed header
	assert.Equal(t, buf.Bytes(), raw[optOffset:optOffset+8])
}

func TestNeighborAdvert_targetAndFlags(t *testing.T) {
	t.Parallel()

	target := netip.MustParseAddr("2001:db8::42")
	na := ndmsg.NewNeighborAdvert(target, true, true, false)

	gotTarget, ok := na.Target()
	require.True(t, ok)
	assert.Equal(t, target, gotTarget)

	assert.True(t, na.RouterFlag())
	assert.True(t, na.SolicitedFlag())
	assert.False(t, na.OverrideFlag())

	raw := na.Bytes()
	reparsed, err := ndmsg.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ndmsg.NeighborAdvert, reparsed.Type())
}

func TestRedirect_targetAndDestination(t *testing.T) {
	t.Parallel()

	target := netip.MustParseAddr("fe80::1")
	dest := netip.MustParseAddr("2001:db8::99")

	r := ndmsg.NewRedirect(target, dest)
	raw := r.Bytes()
	assert.Len(t, raw, 40)

	reparsed, err := ndmsg.Parse(raw)
	require.NoError(t, err)

	gotTarget, ok := reparsed.Target()
	require.True(t, ok)
	assert.Equal(t, target, gotTarget)

	gotDest, ok := reparsed.Destination()
	require.True(t, ok)
	assert.Equal(t, dest, gotDest)
}

func TestSetTargetLinkLayerAddress(t *testing.T) {
	t.Parallel()

	na := ndmsg.NewNeighborAdvert(netip.MustParseAddr("2001:db8::1"), true, true, true)
	original := lladdr.Parse(lladdr.Eui48, "a0:8c:fd:c3:b3:c0")
	na.PushTargetLinkLayerAddress(original)

	replacement := lladdr.Parse(lladdr.Eui48, "00:11:22:33:44:55")
	require.NoError(t, na.SetTargetLinkLayerAddress(0, 6, replacement))

	got, ok := na.TargetLinkLayerAddress(0, 6)
	require.True(t, ok)
	assert.True(t, replacement.Equal(got))
}

func TestRouterSolicit_minimal(t *testing.T) {
	t.Parallel()

	rs := ndmsg.NewRouterSolicit()
	assert.Len(t, rs.Bytes(), 8)
	assert.Equal(t, ndmsg.RouterSolicit, rs.Type())
}
