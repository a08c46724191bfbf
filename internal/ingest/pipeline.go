// Package ingest implements the per-frame telemetry ingest path.
package ingest

import (
	"fmt"
	"log/slog"
	"net/netip"

	"firestige.xyz/meshtel/internal/core"
	"firestige.xyz/meshtel/internal/metrics"
)

// Emitter writes telemetry rows. Both methods are total.
type Emitter interface {
	EmitSuccess(src netip.AddrPort, f core.Frame, recv uint32, length int, gap uint32)
	EmitFailure(src netip.AddrPort, recv uint32, length int)
}

// Event describes the outcome of one ingested datagram.
type Event struct {
	Src      netip.AddrPort
	Dst      netip.AddrPort // Zero when the transport cannot report it
	Recv     uint32         // Local receive ticks
	Length   int
	Frame    core.Frame
	Gap      uint32
	Tracking TrackStatus
	Err      error // nil, ErrMalformedPayload or ErrSourceTableExhausted
}

// Decoded reports whether the payload matched the wire grammar.
func (e Event) Decoded() bool {
	return e.Err == nil || e.Tracking == Exhausted
}

// Multicast reports whether the datagram was sent to a multicast group
// rather than to this node.
func (e Event) Multicast() bool {
	return e.Dst.Addr().IsMulticast()
}

// FirstSighting reports whether this datagram created the source's record.
// The gap of such an event is measured against the initial zero sequence.
func (e Event) FirstSighting() bool {
	return e.Tracking == Allocated
}

// Pipeline runs decode, source tracking, gap estimation and emission for each
// datagram. It owns its SourceTable and is driven by a single goroutine.
type Pipeline struct {
	role    string
	table   *SourceTable
	emitter Emitter
	clock   core.Clock
	stats   *Stats

	capacity int
}

// Config contains pipeline configuration.
type Config struct {
	Role          string // Metrics label, e.g. "receiver" or "sink"
	TableCapacity int
	Emitter       Emitter
	Clock         core.Clock
}

// New creates a new pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Emitter == nil {
		return nil, fmt.Errorf("%w: pipeline requires an emitter", core.ErrConfigInvalid)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("%w: pipeline requires a clock", core.ErrConfigInvalid)
	}
	if cfg.Role == "" {
		cfg.Role = "receiver"
	}

	table := NewSourceTable(cfg.TableCapacity)
	return &Pipeline{
		role:     cfg.Role,
		table:    table,
		emitter:  cfg.Emitter,
		clock:    cfg.Clock,
		stats:    &Stats{},
		capacity: len(table.slots),
	}, nil
}

// Ingest processes one datagram to completion.
func (p *Pipeline) Ingest(d core.Datagram) Event {
	ev := Event{
		Src:    d.Src,
		Dst:    d.Dst,
		Recv:   p.clock.Now(),
		Length: d.Len(),
	}
	p.stats.Received.Add(1)
	metrics.FramesReceivedTotal.WithLabelValues(p.role).Inc()
	if ev.Multicast() {
		p.stats.Multicast.Add(1)
		metrics.FramesMulticastTotal.WithLabelValues(p.role).Inc()
	}

	frame, err := DecodePayload(d.Payload)
	if err != nil {
		ev.Err = err
		p.stats.Malformed.Add(1)
		metrics.FramesMalformedTotal.WithLabelValues(p.role).Inc()
		p.emitter.EmitFailure(d.Src, ev.Recv, ev.Length)
		return ev
	}
	ev.Frame = frame

	addr := d.Src.Addr()
	h, status := p.table.LookupOrAllocate(addr)
	ev.Tracking = status

	switch status {
	case Exhausted:
		// Telemetry still flows; only loss accounting is lost for this source.
		ev.Err = core.ErrSourceTableExhausted
		p.stats.Untracked.Add(1)
		metrics.SourceTableExhaustedTotal.WithLabelValues(p.role).Inc()
		slog.Debug("source table exhausted, source untracked", "src", addr, "dst", d.Dst.Addr(), "capacity", p.capacity)
	default:
		prev := p.table.RecordSequence(h, frame.Seq)
		ev.Gap = EstimateGap(prev, frame.Seq)
		if status == Allocated {
			p.stats.FirstSightings.Add(1)
			metrics.FirstSightingsTotal.WithLabelValues(p.role).Inc()
			metrics.TrackedSources.WithLabelValues(p.role).Set(float64(p.table.len()))
			slog.Debug("new source tracked", "src", addr, "dst", d.Dst.Addr(), "seq", frame.Seq, "gap", ev.Gap)
		}
	}

	p.stats.Decoded.Add(1)
	if ev.Gap > 0 {
		p.stats.GapMessages.Add(uint64(ev.Gap))
		metrics.GapMessagesTotal.WithLabelValues(p.role).Add(float64(ev.Gap))
	}

	p.emitter.EmitSuccess(d.Src, frame, ev.Recv, ev.Length, ev.Gap)
	return ev
}

// Stats returns a snapshot of pipeline counters. Safe to call from any goroutine.
func (p *Pipeline) Stats() StatsSnapshot {
	return p.stats.Snapshot(p.capacity)
}
