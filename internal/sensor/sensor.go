// Package sensor implements the periodic sender role: once the mesh is
// reachable it transmits a `seq=<n> t=<ticks>` frame to the sink every
// interval.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"firestige.xyz/meshtel/internal/core"
	"firestige.xyz/meshtel/internal/ingest"
	"firestige.xyz/meshtel/internal/mesh"
	"firestige.xyz/meshtel/internal/metrics"
)

// DefaultInterval is the reference send period.
const DefaultInterval = 5 * time.Second

// Transport sends one datagram to the sink.
type Transport interface {
	Send(payload []byte) error
}

// Config contains sensor configuration.
type Config struct {
	Sink         netip.AddrPort
	Interval     time.Duration
	PollInterval time.Duration
	Router       mesh.Router
	Transport    Transport
	Clock        core.Clock
}

// Sensor is the periodic sender. Run drives it from a single goroutine.
type Sensor struct {
	sink         netip.AddrPort
	interval     time.Duration
	pollInterval time.Duration
	router       mesh.Router
	tx           Transport
	clock        core.Clock

	seq    atomic.Uint32
	sent   atomic.Uint64
	failed atomic.Uint64
}

// New creates a sensor.
func New(cfg Config) (*Sensor, error) {
	if !cfg.Sink.IsValid() {
		return nil, fmt.Errorf("%w: invalid sink address %s", core.ErrAddressResolution, cfg.Sink)
	}
	if cfg.Router == nil || cfg.Transport == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("%w: sensor requires router, transport and clock", core.ErrConfigInvalid)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Sensor{
		sink:         cfg.Sink,
		interval:     cfg.Interval,
		pollInterval: cfg.PollInterval,
		router:       cfg.Router,
		tx:           cfg.Transport,
		clock:        cfg.Clock,
	}, nil
}

// ResolveSink turns the configured sink host into an address. Literal
// addresses are used as-is; names go through the system resolver.
func ResolveSink(ctx context.Context, host string, port int) (netip.AddrPort, error) {
	if port <= 0 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("%w: invalid port %d", core.ErrAddressResolution, port)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
	}
	if host == "" {
		return netip.AddrPort{}, fmt.Errorf("%w: empty sink address", core.ErrAddressResolution)
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %s: %v", core.ErrAddressResolution, host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: %s has no addresses", core.ErrAddressResolution, host)
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), uint16(port)), nil
}

// Run waits for mesh reachability, then sends until ctx is cancelled.
// The first frame goes out one interval after the mesh becomes reachable.
func (s *Sensor) Run(ctx context.Context) error {
	if err := mesh.WaitReachable(ctx, s.router, s.pollInterval); err != nil {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	buf := make([]byte, 0, 32)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sensor stopped", "sent", s.sent.Load(), "failed", s.failed.Load())
			return nil
		case <-ticker.C:
			buf = s.sendOne(buf[:0])
		}
	}
}

// sendOne transmits the current sequence number and advances it. The
// sequence advances whether or not the send succeeded.
func (s *Sensor) sendOne(buf []byte) []byte {
	f := core.Frame{Seq: s.seq.Load(), SendTime: s.clock.Now()}
	buf = ingest.EncodePayload(buf, f)

	if err := s.tx.Send(buf); err != nil {
		s.failed.Add(1)
		metrics.SensorSentTotal.WithLabelValues(metrics.ResultError).Inc()
		slog.Warn("tx failed", "dst", s.sink, "seq", f.Seq, "error", err)
	} else {
		s.sent.Add(1)
		metrics.SensorSentTotal.WithLabelValues(metrics.ResultOK).Inc()
		slog.Info("tx", "dst", s.sink, "seq", f.Seq, "payload", string(buf))
	}

	s.seq.Add(1)
	return buf
}

// Seq returns the next sequence number to send.
func (s *Sensor) Seq() uint32 {
	return s.seq.Load()
}

// Sink returns the destination address.
func (s *Sensor) Sink() netip.AddrPort {
	return s.sink
}

// Sent returns the number of frames accepted by the transport.
func (s *Sensor) Sent() uint64 {
	return s.sent.Load()
}

// Failed returns the number of frames the transport rejected.
func (s *Sensor) Failed() uint64 {
	return s.failed.Load()
}
