package ingest

import "sync/atomic"

// Stats contains per-pipeline counters. Counters are atomic so that other
// goroutines can read them while the ingest goroutine writes.
type Stats struct {
	Received       atomic.Uint64
	Multicast      atomic.Uint64 // Received datagrams with a multicast destination
	Decoded        atomic.Uint64
	Malformed      atomic.Uint64
	Untracked      atomic.Uint64 // Decoded frames from sources the full table rejected
	FirstSightings atomic.Uint64 // Equals the number of occupied table slots
	GapMessages    atomic.Uint64 // Sum of gap estimates
}

// Snapshot copies the counters.
func (s *Stats) Snapshot(capacity int) StatsSnapshot {
	first := s.FirstSightings.Load()
	return StatsSnapshot{
		Received:       s.Received.Load(),
		Multicast:      s.Multicast.Load(),
		Decoded:        s.Decoded.Load(),
		Malformed:      s.Malformed.Load(),
		Untracked:      s.Untracked.Load(),
		FirstSightings: first,
		GapMessages:    s.GapMessages.Load(),
		TrackedSources: int(first),
		TableCapacity:  capacity,
	}
}

// StatsSnapshot represents pipeline statistics.
type StatsSnapshot struct {
	Received       uint64
	Multicast      uint64
	Decoded        uint64
	Malformed      uint64
	Untracked      uint64
	FirstSightings uint64
	GapMessages    uint64
	TrackedSources int
	TableCapacity  int
}
