// Package telemetry formats the machine-parsable CSV event stream.
package telemetry

import (
	"io"
	"log/slog"
	"net/netip"
	"strconv"

	"firestige.xyz/meshtel/internal/core"
)

// Header is the field-name row written once before the first event row.
const Header = "CSV,tag,src_ip,src_port,seq,t_send,t_recv,delay_ticks,len,gap\n"

const (
	rowPrefix = "CSV,RX,"
	naFields  = "NA,NA,"
)

// Emitter writes telemetry rows to w. Each row is a single Write call.
// The header latch makes the emitter stateful: use one Emitter per stream
// and drive it from one goroutine.
type Emitter struct {
	w             io.Writer
	headerEmitted bool
	buf           []byte
	writeErrors   uint64
}

// NewEmitter creates an emitter over w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{
		w:   w,
		buf: make([]byte, 0, 128),
	}
}

// HeaderEmitted reports whether the header row has been written.
func (e *Emitter) HeaderEmitted() bool {
	return e.headerEmitted
}

// WriteErrors returns the number of rows the underlying writer rejected.
func (e *Emitter) WriteErrors() uint64 {
	return e.writeErrors
}

// EmitSuccess writes a decoded-frame row. Delay is recv-send in uint32
// arithmetic, so a sender clock ahead of ours wraps to a large value.
func (e *Emitter) EmitSuccess(src netip.AddrPort, f core.Frame, recv uint32, length int, gap uint32) {
	e.emitHeader()

	b := e.appendPrefix(e.buf[:0], src)
	b = strconv.AppendUint(b, uint64(f.Seq), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(f.SendTime), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(recv), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(recv-f.SendTime), 10)
	b = append(b, ',')
	b = strconv.AppendInt(b, int64(length), 10)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(gap), 10)
	b = append(b, '\n')

	e.write(b)
}

// EmitFailure writes a row for a payload that was present but undecodable.
func (e *Emitter) EmitFailure(src netip.AddrPort, recv uint32, length int) {
	e.emitHeader()

	b := e.appendPrefix(e.buf[:0], src)
	b = append(b, naFields...)
	b = strconv.AppendUint(b, uint64(recv), 10)
	b = append(b, ",0,"...)
	b = strconv.AppendInt(b, int64(length), 10)
	b = append(b, ",0\n"...)

	e.write(b)
}

func (e *Emitter) emitHeader() {
	if e.headerEmitted {
		return
	}
	e.headerEmitted = true
	e.write(append(e.buf[:0], Header...))
}

func (e *Emitter) appendPrefix(b []byte, src netip.AddrPort) []byte {
	b = append(b, rowPrefix...)
	b = src.Addr().AppendTo(b)
	b = append(b, ',')
	b = strconv.AppendUint(b, uint64(src.Port()), 10)
	return append(b, ',')
}

func (e *Emitter) write(b []byte) {
	e.buf = b[:0]
	if _, err := e.w.Write(b); err != nil {
		e.writeErrors++
		if e.writeErrors == 1 {
			slog.Warn("telemetry write failed", "error", err)
		}
	}
}
