package lladdr_test

import (
	"testing"

	"github.com/ndproxyd/ndproxyd/internal/lladdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		in      string
		typ     lladdr.Type
		wantHex string
	}{{
		name:    "eui48_colon",
		in:      "a0:8c:fd:c3:b3:c0",
		typ:     lladdr.Eui48,
		wantHex: "a0:8c:fd:c3:b3:c0",
	}, {
		name:    "eui48_dash_mixed_case",
		in:      "A0-8C-FD-c3-B3-c0",
		typ:     lladdr.Eui48,
		wantHex: "a0:8c:fd:c3:b3:c0",
	}, {
		name:    "eui64",
		in:      "a0:8c:fd:c3:b3:c0:00:01",
		typ:     lladdr.Eui64,
		wantHex: "a0:8c:fd:c3:b3:c0:00:01",
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := lladdr.Parse(tc.typ, tc.in)
			require.True(t, a.IsValid())
			assert.Equal(t, tc.wantHex, a.String())
			assert.Equal(t, tc.typ, a.Type())
		})
	}
}

func TestParse_invalid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		typ  lladdr.Type
	}{{
		name: "missing_leading_zero",
		in:   "50:ef:f:00:00:00",
		typ:  lladdr.Eui48,
	}, {
		name: "mixed_separators",
		in:   "50:ef-0f:00:00:00",
		typ:  lladdr.Eui48,
	}, {
		name: "wrong_octet_count",
		in:   "a0:8c:fd:c3:b3",
		typ:  lladdr.Eui48,
	}, {
		name: "non_hex",
		in:   "zz:8c:fd:c3:b3:c0",
		typ:  lladdr.Eui48,
	}, {
		name: "unknown_type",
		in:   "a0:8c:fd:c3:b3:c0",
		typ:  lladdr.Invalid,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := lladdr.Parse(tc.typ, tc.in)
			assert.False(t, a.IsValid())
		})
	}
}

func TestAddr_predicates(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		in            string
		wantUnicast   bool
		wantMulticast bool
		wantBroadcast bool
		wantUniversal bool
		wantLocal     bool
	}{{
		name:          "unicast_universal",
		in:            "a0:8c:fd:c3:b3:c0",
		wantUnicast:   true,
		wantUniversal: true,
	}, {
		name:          "unicast_local",
		in:            "a2:8c:fd:c3:b3:bf",
		wantUnicast:   true,
		wantLocal:     true,
	}, {
		name:          "multicast_universal",
		in:            "01:00:0c:cc:cc:cc",
		wantMulticast: true,
		wantUniversal: true,
	}, {
		name:          "broadcast",
		in:            "ff:ff:ff:ff:ff:ff",
		wantMulticast: true,
		wantBroadcast: true,
		wantLocal:     true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := lladdr.Parse(lladdr.Eui48, tc.in)
			require.True(t, a.IsValid())

			assert.Equal(t, tc.wantUnicast, a.IsUnicast())
			assert.Equal(t, tc.wantMulticast, a.IsMulticast())
			assert.Equal(t, tc.wantBroadcast, a.IsBroadcast())
			assert.Equal(t, tc.wantUniversal, a.IsUniversal())
			assert.Equal(t, tc.wantLocal, a.IsLocal())
		})
	}
}

func TestAddr_Equal(t *testing.T) {
	t.Parallel()

	a := lladdr.Parse(lladdr.Eui48, "a0:8c:fd:c3:b3:c0")
	b := lladdr.Parse(lladdr.Eui48, "a0:8c:fd:c3:b3:c0")
	c := lladdr.Parse(lladdr.Eui64, "a0:8c:fd:c3:b3:c0:00:00")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	var invalid1, invalid2 lladdr.Addr
	assert.False(t, invalid1.Equal(invalid2))
}

func TestFromSockaddrLL(t *testing.T) {
	t.Parallel()

	raw := []byte{0xa0, 0x8c, 0xfd, 0xc3, 0xb3, 0xc0, 0, 0}
	a := lladdr.FromSockaddrLL(1 /* ARPHRD_ETHER */, 6, raw)
	require.True(t, a.IsValid())
	assert.Equal(t, lladdr.Eui48, a.Type())
	assert.Equal(t, "a0:8c:fd:c3:b3:c0", a.String())

	invalid := lladdr.FromSockaddrLL(0xffff, 6, raw)
	assert.False(t, invalid.IsValid())
}
