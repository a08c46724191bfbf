package core

import (
	"errors"
	"testing"
	"time"
)

func TestTickClockTicksAt(t *testing.T) {
	c, err := NewTickClock(128, EpochProcess)
	if err != nil {
		t.Fatalf("NewTickClock failed: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Rebase(base)

	tests := []struct {
		name string
		at   time.Time
		want uint32
	}{
		{"epoch", base, 0},
		{"before epoch", base.Add(-time.Second), 0},
		{"one second", base.Add(time.Second), 128},
		{"half second", base.Add(500 * time.Millisecond), 64},
		{"five seconds", base.Add(5 * time.Second), 640},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.TicksAt(tt.at); got != tt.want {
				t.Errorf("TicksAt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTickClockWraps(t *testing.T) {
	c, err := NewTickClock(1000, EpochProcess)
	if err != nil {
		t.Fatalf("NewTickClock failed: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Rebase(base)

	// 2^32 ms later the counter is back at zero.
	at := base.Add(time.Duration(1<<32) * time.Millisecond)
	if got := c.TicksAt(at); got != 0 {
		t.Errorf("TicksAt() after wrap = %d, want 0", got)
	}
}

func TestNewTickClockInvalid(t *testing.T) {
	if _, err := NewTickClock(0, EpochProcess); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid for zero rate, got %v", err)
	}
	if _, err := NewTickClock(128, Epoch("lunar")); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid for unknown epoch, got %v", err)
	}
}

func TestFixedClock(t *testing.T) {
	c := &FixedClock{Ticks: 42}
	if c.Now() != 42 {
		t.Errorf("Now() = %d, want 42", c.Now())
	}
}
