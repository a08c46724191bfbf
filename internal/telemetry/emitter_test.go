package telemetry

import (
	"bytes"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meshtel/internal/core"
)

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
}

func TestEmitterHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf)
	assert.False(t, e.HeaderEmitted())

	src := netip.MustParseAddrPort("[aaaa::2]:8765")
	e.EmitSuccess(src, core.Frame{Seq: 1, SendTime: 1280}, 1300, 12, 0)
	e.EmitFailure(src, 1310, 5)
	e.EmitSuccess(src, core.Frame{Seq: 2, SendTime: 1290}, 1320, 12, 0)

	assert.True(t, e.HeaderEmitted())
	got := lines(&buf)
	require.Len(t, got, 4)
	assert.Equal(t, "CSV,tag,src_ip,src_port,seq,t_send,t_recv,delay_ticks,len,gap", got[0])
	assert.Equal(t, 1, strings.Count(buf.String(), "CSV,tag,"))
}

func TestEmitterRows(t *testing.T) {
	tests := []struct {
		name string
		emit func(e *Emitter)
		want string
	}{
		{
			"success",
			func(e *Emitter) {
				e.EmitSuccess(netip.MustParseAddrPort("[aaaa::212:7402:2:202]:8765"), core.Frame{Seq: 7, SendTime: 1000}, 1025, 12, 3)
			},
			"CSV,RX,aaaa::212:7402:2:202,8765,7,1000,1025,25,12,3",
		},
		{
			"ipv4 source",
			func(e *Emitter) {
				e.EmitSuccess(netip.MustParseAddrPort("127.0.0.1:40000"), core.Frame{Seq: 1, SendTime: 1}, 1, 9, 0)
			},
			"CSV,RX,127.0.0.1,40000,1,1,1,0,9,0",
		},
		{
			"delay wraps when sender is ahead",
			func(e *Emitter) {
				e.EmitSuccess(netip.MustParseAddrPort("[aaaa::2]:1"), core.Frame{Seq: 1, SendTime: 10}, 5, 9, 0)
			},
			"CSV,RX,aaaa::2,1,1,10,5,4294967291,9,0",
		},
		{
			"failure",
			func(e *Emitter) {
				e.EmitFailure(netip.MustParseAddrPort("[aaaa::2]:8765"), 1310, 5)
			},
			"CSV,RX,aaaa::2,8765,NA,NA,1310,0,5,0",
		},
		{
			"empty failure",
			func(e *Emitter) {
				e.EmitFailure(netip.MustParseAddrPort("[aaaa::3]:9"), 0, 0)
			},
			"CSV,RX,aaaa::3,9,NA,NA,0,0,0,0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := NewEmitter(&buf)
			tt.emit(e)
			got := lines(&buf)
			require.Len(t, got, 2)
			assert.Equal(t, tt.want, got[1])
		})
	}
}

type countingWriter struct {
	writes [][]byte
	err    error
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	if w.err != nil {
		return 0, w.err
	}
	return len(p), nil
}

func TestEmitterSingleWritePerRow(t *testing.T) {
	w := &countingWriter{}
	e := NewEmitter(w)
	src := netip.MustParseAddrPort("[aaaa::2]:8765")

	e.EmitSuccess(src, core.Frame{Seq: 1, SendTime: 1}, 2, 9, 0)
	e.EmitSuccess(src, core.Frame{Seq: 2, SendTime: 2}, 3, 9, 0)

	require.Len(t, w.writes, 3)
	assert.Equal(t, Header, string(w.writes[0]))
	for _, row := range w.writes {
		assert.True(t, strings.HasSuffix(string(row), "\n"))
		assert.Equal(t, 1, strings.Count(string(row), "\n"))
	}
}

func TestEmitterWriteErrors(t *testing.T) {
	w := &countingWriter{err: errors.New("disk full")}
	e := NewEmitter(w)
	src := netip.MustParseAddrPort("[aaaa::2]:8765")

	e.EmitSuccess(src, core.Frame{Seq: 1}, 1, 9, 0)
	e.EmitFailure(src, 1, 3)

	// The header counts as a row; the latch is set even when it fails.
	assert.True(t, e.HeaderEmitted())
	assert.Equal(t, uint64(3), e.WriteErrors())
}
