package replay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"firestige.xyz/meshtel/internal/core"
	"firestige.xyz/meshtel/internal/ingest"
)

// CaptureClock reports the tick count of the packet being replayed.
type CaptureClock struct {
	ticks  *core.TickClock
	rebase bool // process epoch: the first packet is tick zero
	at     time.Time
}

// NewCaptureClock creates a clock for replay. With the process epoch the
// first capture timestamp maps to tick zero; with the unix epoch ticks are
// absolute.
func NewCaptureClock(ticksPerSecond uint32, epoch core.Epoch) (*CaptureClock, error) {
	tc, err := core.NewTickClock(ticksPerSecond, epoch)
	if err != nil {
		return nil, err
	}
	return &CaptureClock{
		ticks:  tc,
		rebase: epoch == core.EpochProcess || epoch == "",
	}, nil
}

// Set moves the clock to t.
func (c *CaptureClock) Set(t time.Time) {
	if c.rebase {
		c.ticks.Rebase(t)
		c.rebase = false
	}
	c.at = t
}

// Now returns the ticks at the last Set time.
func (c *CaptureClock) Now() uint32 {
	return c.ticks.TicksAt(c.at)
}

// Ingester consumes one datagram. *ingest.Pipeline implements it.
type Ingester interface {
	Ingest(d core.Datagram) ingest.Event
}

// Summary describes a finished replay.
type Summary struct {
	Packets   uint64 // Packets read from the capture
	Skipped   uint64 // Packets that were not matching UDP datagrams
	Datagrams uint64 // Datagrams passed to the pipeline
	Malformed uint64
	Duration  time.Duration // Capture time spanned by the datagrams
}

// Run replays every matching datagram from r into p, in capture order.
// The clock must be the one p was built with.
func Run(ctx context.Context, r *Reader, clk *CaptureClock, p Ingester) (Summary, error) {
	var (
		sum         Summary
		first, last time.Time
	)

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		d, ts, err := r.Next()
		if err != nil {
			sum.Packets, sum.Skipped = r.Counts()
			if errors.Is(err, io.EOF) {
				break
			}
			return sum, err
		}

		if first.IsZero() {
			first = ts
		}
		last = ts
		clk.Set(ts)

		ev := p.Ingest(d)
		sum.Datagrams++
		if !ev.Decoded() {
			sum.Malformed++
		}
	}

	sum.Duration = last.Sub(first)
	slog.Info("replay finished",
		"link_type", r.LinkType().String(),
		"packets", sum.Packets,
		"skipped", sum.Skipped,
		"datagrams", sum.Datagrams,
		"malformed", sum.Malformed,
		"duration", sum.Duration,
	)
	return sum, nil
}
