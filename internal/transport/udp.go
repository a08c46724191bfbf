// Package transport implements the UDP datagram endpoint shared by the
// receiving and sending roles.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv6"

	"firestige.xyz/meshtel/internal/core"
)

// maxDatagram is large enough that the reported length is never clipped.
const maxDatagram = 64 * 1024

// Handler processes one datagram. The payload slice is reused after the
// handler returns.
type Handler func(d core.Datagram)

// Listener receives datagrams on a bound UDP socket and delivers them one at
// a time, in arrival order, to a Handler.
type Listener struct {
	conn  *net.UDPConn
	pc6   *ipv6.PacketConn // non-nil when destination addresses are reported
	local netip.AddrPort

	closeOnce sync.Once
}

// Listen binds addr. IPv6 sockets additionally report the destination
// address of each datagram.
func Listen(addr netip.AddrPort) (*Listener, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	l := &Listener{
		conn:  conn,
		local: conn.LocalAddr().(*net.UDPAddr).AddrPort(),
	}

	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		pc := ipv6.NewPacketConn(conn)
		if err := pc.SetControlMessage(ipv6.FlagDst, true); err != nil {
			slog.Debug("destination address reporting unavailable", "addr", addr, "error", err)
		} else {
			l.pc6 = pc
		}
	}

	slog.Info("udp listener bound", "addr", l.local)
	return l, nil
}

// LocalAddr returns the bound address.
func (l *Listener) LocalAddr() netip.AddrPort {
	return l.local
}

// Serve reads datagrams until ctx is cancelled or the listener is closed.
// Cancellation returns nil; any other read failure is returned wrapped.
func (l *Listener) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	buf := make([]byte, maxDatagram)
	for {
		d, err := l.read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return core.ErrTransportClosed
			}
			return fmt.Errorf("%w: %v", core.ErrTransportClosed, err)
		}
		h(d)
	}
}

func (l *Listener) read(buf []byte) (core.Datagram, error) {
	if l.pc6 != nil {
		n, cm, src, err := l.pc6.ReadFrom(buf)
		if err != nil {
			return core.Datagram{}, err
		}
		d := core.Datagram{Payload: buf[:n]}
		if ua, ok := src.(*net.UDPAddr); ok {
			d.Src = unmap(ua.AddrPort())
		}
		if cm != nil {
			if dst, ok := netip.AddrFromSlice(cm.Dst); ok {
				d.Dst = netip.AddrPortFrom(dst.Unmap(), l.local.Port())
			}
		}
		return d, nil
	}

	n, src, err := l.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return core.Datagram{}, err
	}
	return core.Datagram{Src: unmap(src), Payload: buf[:n]}, nil
}

// Close releases the socket. It is safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
	})
	return err
}

// Sender transmits datagrams from a bound local port to one destination.
type Sender struct {
	conn *net.UDPConn
	dst  netip.AddrPort
}

// NewSender binds local and targets dst.
func NewSender(local, dst netip.AddrPort) (*Sender, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(local))
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", local, err)
	}
	return &Sender{conn: conn, dst: dst}, nil
}

// Destination returns the target address.
func (s *Sender) Destination() netip.AddrPort {
	return s.dst
}

// Send transmits payload as one datagram.
func (s *Sender) Send(payload []byte) error {
	_, err := s.conn.WriteToUDPAddrPort(payload, s.dst)
	return err
}

// Close releases the socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

// unmap turns IPv4-mapped IPv6 sources from dual-stack sockets into plain
// IPv4 so that one host is one source.
func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
