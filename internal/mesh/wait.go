package mesh

import (
	"context"
	"log/slog"
	"time"

	"firestige.xyz/meshtel/internal/metrics"
)

// DefaultPollInterval is the reachability recheck period.
const DefaultPollInterval = time.Second

// WaitReachable blocks until r reports reachability, rechecking every
// interval. There is no timeout; only ctx ends the wait early.
func WaitReachable(ctx context.Context, r Router, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if r.IsReachable() {
		metrics.MeshReachable.Set(1)
		return nil
	}

	metrics.MeshReachable.Set(0)
	slog.Info("waiting for routing", "poll_interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r.IsReachable() {
				metrics.MeshReachable.Set(1)
				slog.Info("routing reachable", "waited", time.Since(start).Round(time.Millisecond))
				return nil
			}
		}
	}
}
