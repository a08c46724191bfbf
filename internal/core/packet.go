// Package core defines core data structures with zero external dependencies.
package core

import "net/netip"

// Datagram is one inbound UDP payload as delivered by the transport.
// Payload is only valid for the duration of the delivery callback.
type Datagram struct {
	Src     netip.AddrPort // Sender address and port
	Dst     netip.AddrPort // Local destination, zero if the socket cannot report it
	Payload []byte
}

// Len returns the payload length as reported in telemetry rows.
func (d Datagram) Len() int {
	return len(d.Payload)
}

// Frame is a decoded application payload. It is transient and never stored.
type Frame struct {
	Seq      uint32 // Per-source sequence counter
	SendTime uint32 // Sender clock ticks at transmission
}
