package ingest

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrN(i int) netip.Addr {
	return netip.AddrFrom16([16]byte{0xaa, 0xaa, 14: byte(i >> 8), 15: byte(i)})
}

func TestSourceTableAllocate(t *testing.T) {
	tbl := NewSourceTable(4)
	a := netip.MustParseAddr("aaaa::2")

	h, status := tbl.LookupOrAllocate(a)
	assert.Equal(t, Allocated, status)
	assert.Equal(t, uint32(0), tbl.record(h).LastSeq)
	assert.True(t, tbl.record(h).Occupied)

	h2, status := tbl.LookupOrAllocate(a)
	assert.Equal(t, Tracked, status)
	assert.Equal(t, h, h2)
	assert.Equal(t, 1, tbl.len())
}

func TestSourceTableRecordSequence(t *testing.T) {
	tbl := NewSourceTable(2)
	h, _ := tbl.LookupOrAllocate(netip.MustParseAddr("aaaa::2"))

	assert.Equal(t, uint32(0), tbl.RecordSequence(h, 5))
	assert.Equal(t, uint32(5), tbl.RecordSequence(h, 9))
	// Lower values overwrite.
	assert.Equal(t, uint32(9), tbl.RecordSequence(h, 3))
	assert.Equal(t, uint32(3), tbl.record(h).LastSeq)
}

func TestSourceTableExhausted(t *testing.T) {
	tbl := NewSourceTable(DefaultTableCapacity)

	for i := 0; i < DefaultTableCapacity; i++ {
		h, status := tbl.LookupOrAllocate(addrN(i))
		require.Equal(t, Allocated, status, "slot %d", i)
		tbl.RecordSequence(h, uint32(i+100))
	}

	h, status := tbl.LookupOrAllocate(addrN(DefaultTableCapacity))
	assert.Equal(t, Exhausted, status)
	assert.Equal(t, RecordHandle(-1), h)
	assert.Equal(t, DefaultTableCapacity, tbl.len())

	// Existing sources are still tracked and their state is intact.
	for i := 0; i < DefaultTableCapacity; i++ {
		h, status := tbl.LookupOrAllocate(addrN(i))
		require.Equal(t, Tracked, status)
		assert.Equal(t, uint32(i+100), tbl.record(h).LastSeq)
	}

	// Rejection is stable.
	_, status = tbl.LookupOrAllocate(addrN(DefaultTableCapacity))
	assert.Equal(t, Exhausted, status)
}

func TestSourceTableDefaultCapacity(t *testing.T) {
	assert.Len(t, NewSourceTable(0).slots, DefaultTableCapacity)
	assert.Len(t, NewSourceTable(-3).slots, DefaultTableCapacity)
	assert.Len(t, NewSourceTable(1).slots, 1)
}

func TestSourceTableMappedAddressesDistinct(t *testing.T) {
	tbl := NewSourceTable(4)
	_, s1 := tbl.LookupOrAllocate(netip.MustParseAddr("10.0.0.1"))
	_, s2 := tbl.LookupOrAllocate(netip.MustParseAddr("::ffff:10.0.0.1"))
	assert.Equal(t, Allocated, s1)
	assert.Equal(t, Allocated, s2, "callers unmap before lookup")
}

func TestTrackStatusString(t *testing.T) {
	assert.Equal(t, "untracked", Untracked.String())
	assert.Equal(t, "tracked", Tracked.String())
	assert.Equal(t, "allocated", Allocated.String())
	assert.Equal(t, "exhausted", Exhausted.String())
}
