package core

import (
	"fmt"
	"time"
)

// Clock reports the local monotonic tick counter. Values wrap at 2^32.
type Clock interface {
	Now() uint32
}

// Epoch selects the zero point of a TickClock.
type Epoch string

const (
	EpochProcess Epoch = "process" // Ticks since process start
	EpochUnix    Epoch = "unix"    // Ticks since 1970-01-01 UTC
)

// DefaultTicksPerSecond matches the Contiki-NG CLOCK_SECOND default.
const DefaultTicksPerSecond = 128

// TickClock converts wall time into ticks at a fixed rate.
type TickClock struct {
	start          time.Time
	ticksPerSecond uint32
	now            func() time.Time
}

// NewTickClock creates a clock with the given rate and epoch.
func NewTickClock(ticksPerSecond uint32, epoch Epoch) (*TickClock, error) {
	if ticksPerSecond == 0 {
		return nil, fmt.Errorf("%w: ticks_per_second must be positive", ErrConfigInvalid)
	}

	c := &TickClock{
		ticksPerSecond: ticksPerSecond,
		now:            time.Now,
	}

	switch epoch {
	case EpochProcess, "":
		c.start = c.now()
	case EpochUnix:
		c.start = time.Unix(0, 0)
	default:
		return nil, fmt.Errorf("%w: unknown clock epoch %q", ErrConfigInvalid, epoch)
	}
	return c, nil
}

// Now returns the current tick count.
func (c *TickClock) Now() uint32 {
	return c.TicksAt(c.now())
}

// TicksAt converts t into ticks relative to the clock's epoch.
// Instants before the epoch map to zero.
func (c *TickClock) TicksAt(t time.Time) uint32 {
	d := t.Sub(c.start)
	if d <= 0 {
		return 0
	}
	// Split to avoid overflowing int64 nanoseconds * rate.
	secs := uint64(d / time.Second)
	frac := uint64(d % time.Second)
	ticks := secs*uint64(c.ticksPerSecond) + frac*uint64(c.ticksPerSecond)/uint64(time.Second)
	return uint32(ticks)
}

// Rebase moves the epoch so that t maps to tick zero.
func (c *TickClock) Rebase(t time.Time) {
	c.start = t
}

// FixedClock is a Clock pinned to a settable tick value.
type FixedClock struct {
	Ticks uint32
}

// Now returns the pinned tick value.
func (c *FixedClock) Now() uint32 {
	return c.Ticks
}
