// Package mesh implements the routing collaborator: reachability queries
// and sink (root) registration.
package mesh

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"

	"firestige.xyz/meshtel/internal/config"
	"firestige.xyz/meshtel/internal/core"
)

// Router is the mesh membership interface consumed by the node roles.
type Router interface {
	// IsReachable reports whether the node currently has a route into the mesh.
	IsReachable() bool
	// BecomeRoot registers this node as the mesh sink for prefix.
	BecomeRoot(prefix netip.Prefix) error
}

// AddrSource lists the node's local addresses.
type AddrSource func() ([]netip.Addr, error)

// Router modes
const (
	ModeStatic = "static"
	ModeHost   = "host"
)

// New creates the router selected by cfg.Mode.
func New(cfg config.MeshConfig) (Router, error) {
	root, err := netip.ParseAddr(cfg.RootAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: mesh.root_addr %q", core.ErrConfigInvalid, cfg.RootAddr)
	}
	prefix, err := netip.ParsePrefix(cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: mesh.prefix %q", core.ErrConfigInvalid, cfg.Prefix)
	}

	switch strings.ToLower(cfg.Mode) {
	case ModeStatic, "":
		return NewStaticRouter(root), nil
	case ModeHost:
		return NewHostRouter(prefix, root, InterfaceAddrs(cfg.Interface)), nil
	default:
		return nil, fmt.Errorf("%w: unknown mesh mode %q", core.ErrConfigInvalid, cfg.Mode)
	}
}

// StaticRouter treats the mesh as always formed. It suits hosts where the
// network is configured out of band.
type StaticRouter struct {
	root netip.Addr

	mu     sync.Mutex
	prefix netip.Prefix
}

// NewStaticRouter creates a router whose sink address is root.
func NewStaticRouter(root netip.Addr) *StaticRouter {
	return &StaticRouter{root: root}
}

// IsReachable always reports true.
func (r *StaticRouter) IsReachable() bool {
	return true
}

// BecomeRoot records prefix. The root address must fall inside it.
func (r *StaticRouter) BecomeRoot(prefix netip.Prefix) error {
	if !prefix.IsValid() || !prefix.Contains(r.root) {
		return fmt.Errorf("%w: root %s outside prefix %s", core.ErrRootUnavailable, r.root, prefix)
	}
	r.mu.Lock()
	r.prefix = prefix
	r.mu.Unlock()
	return nil
}

// Prefix returns the prefix registered by BecomeRoot, if any.
func (r *StaticRouter) Prefix() netip.Prefix {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix
}

// HostRouter derives mesh membership from the host's interface addresses:
// the node is reachable once it holds a global address inside the mesh
// prefix, and can become root only if it owns the root address.
type HostRouter struct {
	root  netip.Addr
	addrs AddrSource

	mu     sync.Mutex
	prefix netip.Prefix
}

// NewHostRouter creates a host-backed router.
func NewHostRouter(prefix netip.Prefix, root netip.Addr, addrs AddrSource) *HostRouter {
	return &HostRouter{
		root:   root,
		addrs:  addrs,
		prefix: prefix.Masked(),
	}
}

// IsReachable reports whether a local global address lies in the mesh prefix.
func (r *HostRouter) IsReachable() bool {
	addrs, err := r.addrs()
	if err != nil {
		slog.Debug("failed to list local addresses", "error", err)
		return false
	}

	r.mu.Lock()
	prefix := r.prefix
	r.mu.Unlock()

	for _, a := range addrs {
		if !a.IsGlobalUnicast() {
			continue
		}
		if !prefix.IsValid() || prefix.Contains(a) {
			return true
		}
	}
	return false
}

// BecomeRoot requires the root address to be inside prefix and assigned to
// a local interface.
func (r *HostRouter) BecomeRoot(prefix netip.Prefix) error {
	if !prefix.IsValid() || !prefix.Contains(r.root) {
		return fmt.Errorf("%w: root %s outside prefix %s", core.ErrRootUnavailable, r.root, prefix)
	}

	addrs, err := r.addrs()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrRootUnavailable, err)
	}
	for _, a := range addrs {
		if a == r.root {
			r.mu.Lock()
			r.prefix = prefix.Masked()
			r.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not assigned locally", core.ErrRootUnavailable, r.root)
}

// InterfaceAddrs returns an AddrSource over the named interface, or over all
// interfaces when name is empty.
func InterfaceAddrs(name string) AddrSource {
	return func() ([]netip.Addr, error) {
		var (
			raw []net.Addr
			err error
		)
		if name == "" {
			raw, err = net.InterfaceAddrs()
		} else {
			var ifi *net.Interface
			ifi, err = net.InterfaceByName(name)
			if err == nil {
				raw, err = ifi.Addrs()
			}
		}
		if err != nil {
			return nil, err
		}

		out := make([]netip.Addr, 0, len(raw))
		for _, a := range raw {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if addr, ok := netip.AddrFromSlice(ipnet.IP); ok {
				out = append(out, addr.Unmap())
			}
		}
		return out, nil
	}
}

// PreferredGlobal returns the first global unicast address, preferring
// IPv6. Link-local and loopback addresses are skipped.
func PreferredGlobal(addrs []netip.Addr) (netip.Addr, bool) {
	var v4 netip.Addr
	for _, a := range addrs {
		if !a.IsGlobalUnicast() {
			continue
		}
		if a.Is6() {
			return a, true
		}
		if !v4.IsValid() {
			v4 = a
		}
	}
	return v4, v4.IsValid()
}
