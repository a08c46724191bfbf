package ingest

import (
	"bytes"
	"math"

	"firestige.xyz/meshtel/internal/core"
)

const (
	// MaxPayloadLen is the number of payload bytes inspected by the decoder.
	// Longer payloads are truncated before matching.
	MaxPayloadLen = 95

	seqField  = "seq="
	timeField = " t="
)

// DecodePayload parses a `seq=<uint> t=<uint>` frame.
// Only the first MaxPayloadLen bytes are considered and a NUL byte ends the
// text. Bytes after the second number are ignored. Numbers wider than 32 bits
// wrap; numbers wider than 64 bits saturate before wrapping.
func DecodePayload(data []byte) (core.Frame, error) {
	if len(data) > MaxPayloadLen {
		data = data[:MaxPayloadLen]
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}

	rest, ok := cutPrefix(data, seqField)
	if !ok {
		return core.Frame{}, core.ErrMalformedPayload
	}
	seq, rest, ok := parseUint(rest)
	if !ok {
		return core.Frame{}, core.ErrMalformedPayload
	}
	rest, ok = cutPrefix(rest, timeField)
	if !ok {
		return core.Frame{}, core.ErrMalformedPayload
	}
	ts, _, ok := parseUint(rest)
	if !ok {
		return core.Frame{}, core.ErrMalformedPayload
	}

	return core.Frame{Seq: uint32(seq), SendTime: uint32(ts)}, nil
}

// EncodePayload appends the wire form of f to dst.
func EncodePayload(dst []byte, f core.Frame) []byte {
	dst = append(dst, seqField...)
	dst = appendUint(dst, uint64(f.Seq))
	dst = append(dst, timeField...)
	return appendUint(dst, uint64(f.SendTime))
}

func cutPrefix(data []byte, prefix string) ([]byte, bool) {
	if len(data) < len(prefix) || string(data[:len(prefix)]) != prefix {
		return nil, false
	}
	return data[len(prefix):], true
}

// parseUint consumes a run of ASCII digits. At least one digit is required.
func parseUint(data []byte) (uint64, []byte, bool) {
	var v uint64
	i := 0
	for ; i < len(data); i++ {
		c := data[i]
		if c < '0' || c > '9' {
			break
		}
		d := uint64(c - '0')
		if v > (math.MaxUint64-d)/10 {
			v = math.MaxUint64
			continue
		}
		v = v*10 + d
	}
	if i == 0 {
		return 0, data, false
	}
	return v, data[i:], true
}

func appendUint(dst []byte, v uint64) []byte {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return append(dst, buf[i:]...)
}
