package mesh

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meshtel/internal/config"
	"firestige.xyz/meshtel/internal/core"
)

func fixedAddrs(addrs ...string) AddrSource {
	return func() ([]netip.Addr, error) {
		out := make([]netip.Addr, len(addrs))
		for i, a := range addrs {
			out[i] = netip.MustParseAddr(a)
		}
		return out, nil
	}
}

var (
	meshPrefix = netip.MustParsePrefix("aaaa::/64")
	rootAddr   = netip.MustParseAddr("aaaa::1")
)

func TestNew(t *testing.T) {
	base := config.MeshConfig{Prefix: "aaaa::/64", RootAddr: "aaaa::1"}

	tests := []struct {
		name    string
		mode    string
		want    any
		wantErr bool
	}{
		{"default", "", &StaticRouter{}, false},
		{"static", "static", &StaticRouter{}, false},
		{"host", "HOST", &HostRouter{}, false},
		{"unknown", "rpl", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Mode = tt.mode
			r, err := New(cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrConfigInvalid)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, r)
		})
	}

	_, err := New(config.MeshConfig{Prefix: "aaaa::/64", RootAddr: "nope"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	_, err = New(config.MeshConfig{Prefix: "nope", RootAddr: "aaaa::1"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestStaticRouter(t *testing.T) {
	r := NewStaticRouter(rootAddr)
	assert.True(t, r.IsReachable())
	assert.False(t, r.Prefix().IsValid())

	require.NoError(t, r.BecomeRoot(meshPrefix))
	assert.Equal(t, meshPrefix, r.Prefix())

	err := r.BecomeRoot(netip.MustParsePrefix("bbbb::/64"))
	assert.ErrorIs(t, err, core.ErrRootUnavailable)
	assert.ErrorIs(t, r.BecomeRoot(netip.Prefix{}), core.ErrRootUnavailable)
}

func TestHostRouterReachability(t *testing.T) {
	tests := []struct {
		name   string
		prefix netip.Prefix
		addrs  []string
		want   bool
	}{
		{"address in prefix", meshPrefix, []string{"fe80::1", "aaaa::212:7402:2:202"}, true},
		{"link local only", meshPrefix, []string{"fe80::1", "::1"}, false},
		{"outside prefix", meshPrefix, []string{"bbbb::2"}, false},
		{"no prefix accepts any global", netip.Prefix{}, []string{"192.0.2.10"}, true},
		{"no addresses", meshPrefix, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHostRouter(tt.prefix, rootAddr, fixedAddrs(tt.addrs...))
			assert.Equal(t, tt.want, r.IsReachable())
		})
	}
}

func TestHostRouterAddrError(t *testing.T) {
	failing := func() ([]netip.Addr, error) { return nil, errors.New("netlink down") }
	r := NewHostRouter(meshPrefix, rootAddr, failing)

	assert.False(t, r.IsReachable())
	assert.ErrorIs(t, r.BecomeRoot(meshPrefix), core.ErrRootUnavailable)
}

func TestHostRouterBecomeRoot(t *testing.T) {
	r := NewHostRouter(netip.Prefix{}, rootAddr, fixedAddrs("fe80::1", "aaaa::1"))
	require.NoError(t, r.BecomeRoot(meshPrefix))
	assert.True(t, r.IsReachable())

	r = NewHostRouter(meshPrefix, rootAddr, fixedAddrs("aaaa::2"))
	err := r.BecomeRoot(meshPrefix)
	assert.ErrorIs(t, err, core.ErrRootUnavailable)
	assert.Contains(t, err.Error(), "not assigned locally")

	assert.ErrorIs(t, r.BecomeRoot(netip.MustParsePrefix("bbbb::/64")), core.ErrRootUnavailable)
}

func TestPreferredGlobal(t *testing.T) {
	parse := func(ss ...string) []netip.Addr {
		out := make([]netip.Addr, len(ss))
		for i, s := range ss {
			out[i] = netip.MustParseAddr(s)
		}
		return out
	}

	a, ok := PreferredGlobal(parse("127.0.0.1", "fe80::1", "192.0.2.1", "aaaa::2"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("aaaa::2"), a)

	a, ok = PreferredGlobal(parse("::1", "192.0.2.1"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), a)

	_, ok = PreferredGlobal(parse("::1", "fe80::1"))
	assert.False(t, ok)
}

func TestInterfaceAddrs(t *testing.T) {
	addrs, err := InterfaceAddrs("")()
	require.NoError(t, err)
	for _, a := range addrs {
		assert.True(t, a.IsValid())
		assert.False(t, a.Is4In6())
	}

	_, err = InterfaceAddrs("meshtel-no-such-if0")()
	assert.Error(t, err)
}
