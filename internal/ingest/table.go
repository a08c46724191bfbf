package ingest

import "net/netip"

// DefaultTableCapacity is the reference number of tracked sources.
const DefaultTableCapacity = 32

// RecordHandle refers to an occupied slot of a SourceTable.
type RecordHandle int

// TrackStatus reports how LookupOrAllocate resolved an address.
type TrackStatus uint8

const (
	// Untracked means no table lookup happened (frame was not decoded).
	Untracked TrackStatus = iota
	// Tracked means the address already owned a record.
	Tracked
	// Allocated means a record was created for the address by this lookup.
	Allocated
	// Exhausted means the address is unseen and every slot is occupied.
	Exhausted
)

func (s TrackStatus) String() string {
	switch s {
	case Tracked:
		return "tracked"
	case Allocated:
		return "allocated"
	case Exhausted:
		return "exhausted"
	default:
		return "untracked"
	}
}

// SourceRecord is the per-source sequence state.
type SourceRecord struct {
	Addr     netip.Addr
	LastSeq  uint32
	Occupied bool
}

// SourceTable is a fixed-capacity address to last-sequence table.
// Records are allocated on first sight, never evicted and never moved.
// The table is not safe for concurrent use; it belongs to one ingest goroutine.
type SourceTable struct {
	slots    []SourceRecord
	occupied int
}

// NewSourceTable creates a table holding at most capacity sources.
// A non-positive capacity falls back to DefaultTableCapacity.
func NewSourceTable(capacity int) *SourceTable {
	if capacity <= 0 {
		capacity = DefaultTableCapacity
	}
	return &SourceTable{
		slots: make([]SourceRecord, capacity),
	}
}

// LookupOrAllocate returns the record for addr, creating it with LastSeq=0
// when a free slot exists. When the table is full and addr is unseen it
// returns Exhausted and leaves every existing record untouched.
func (t *SourceTable) LookupOrAllocate(addr netip.Addr) (RecordHandle, TrackStatus) {
	// Slots fill front to back and are never freed, so occupied slots form a prefix.
	for i := 0; i < t.occupied; i++ {
		if t.slots[i].Addr == addr {
			return RecordHandle(i), Tracked
		}
	}
	if t.occupied == len(t.slots) {
		return -1, Exhausted
	}

	i := t.occupied
	t.slots[i] = SourceRecord{Addr: addr, LastSeq: 0, Occupied: true}
	t.occupied++
	return RecordHandle(i), Allocated
}

// RecordSequence stores seq as the record's last sequence and returns the
// value it replaced. There is no monotonicity check: lower values overwrite.
func (t *SourceTable) RecordSequence(h RecordHandle, seq uint32) uint32 {
	rec := &t.slots[h]
	prev := rec.LastSeq
	rec.LastSeq = seq
	return prev
}

func (t *SourceTable) len() int {
	return t.occupied
}

func (t *SourceTable) record(h RecordHandle) SourceRecord {
	return t.slots[h]
}
