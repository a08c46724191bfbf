// Package replay feeds UDP datagrams from packet captures through the ingest
// pipeline, using capture timestamps as receive times.
package replay

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/meshtel/internal/core"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// packetSource is implemented by pcapgo.Reader and pcapgo.NgReader.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader extracts UDP datagrams addressed to one port from a capture.
type Reader struct {
	src  packetSource
	port uint16 // 0 accepts any destination port

	parser   *gopacket.DecodingLayerParser // link-layer first
	parser4  *gopacket.DecodingLayerParser // raw IPv4 first
	parser6  *gopacket.DecodingLayerParser // raw IPv6 first
	linkType layers.LinkType

	eth      layers.Ethernet
	sll      layers.LinuxSLL
	loopback layers.Loopback
	ip4      layers.IPv4
	ip6      layers.IPv6
	udp      layers.UDP
	decoded  []gopacket.LayerType

	packets uint64
	skipped uint64
}

// NewReader detects pcap or pcapng framing and prepares a decoder for the
// capture's link type.
func NewReader(r io.Reader, port uint16) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var src packetSource
	if bytes.Equal(magic, pcapngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}

	rd := &Reader{
		src:      src,
		port:     port,
		linkType: src.LinkType(),
		decoded:  make([]gopacket.LayerType, 0, 8),
	}

	layerSet := []gopacket.DecodingLayer{&rd.eth, &rd.sll, &rd.loopback, &rd.ip4, &rd.ip6, &rd.udp}
	newParser := func(first gopacket.LayerType) *gopacket.DecodingLayerParser {
		p := gopacket.NewDecodingLayerParser(first, layerSet...)
		p.IgnoreUnsupported = true
		return p
	}

	switch rd.linkType {
	case layers.LinkTypeEthernet:
		rd.parser = newParser(layers.LayerTypeEthernet)
	case layers.LinkTypeLinuxSLL:
		rd.parser = newParser(layers.LayerTypeLinuxSLL)
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		rd.parser = newParser(layers.LayerTypeLoopback)
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		rd.parser4 = newParser(layers.LayerTypeIPv4)
		rd.parser6 = newParser(layers.LayerTypeIPv6)
	default:
		return nil, fmt.Errorf("unsupported link type %s", rd.linkType)
	}

	return rd, nil
}

// LinkType returns the capture's link type.
func (r *Reader) LinkType() layers.LinkType {
	return r.linkType
}

// Next returns the next matching datagram and its capture timestamp.
// It returns io.EOF at the end of the capture. The payload aliases the
// reader's buffer and is valid until the next call.
func (r *Reader) Next() (core.Datagram, time.Time, error) {
	for {
		data, ci, err := r.src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return core.Datagram{}, time.Time{}, io.EOF
			}
			return core.Datagram{}, time.Time{}, fmt.Errorf("failed to read packet %d: %w", r.packets+1, err)
		}
		r.packets++

		d, ok := r.decode(data)
		if !ok {
			r.skipped++
			continue
		}
		return d, ci.Timestamp, nil
	}
}

// Counts returns the number of packets read and the number skipped as not
// matching.
func (r *Reader) Counts() (packets, skipped uint64) {
	return r.packets, r.skipped
}

func (r *Reader) decode(data []byte) (core.Datagram, bool) {
	parser := r.parser
	if parser == nil {
		if len(data) == 0 {
			return core.Datagram{}, false
		}
		switch data[0] >> 4 {
		case 4:
			parser = r.parser4
		case 6:
			parser = r.parser6
		default:
			return core.Datagram{}, false
		}
	}

	if err := parser.DecodeLayers(data, &r.decoded); err != nil {
		slog.Debug("skipping undecodable packet", "packet", r.packets, "error", err)
		return core.Datagram{}, false
	}

	var (
		src, dst netip.Addr
		haveIP   bool
		haveUDP  bool
	)
	for _, lt := range r.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			src, _ = netip.AddrFromSlice(r.ip4.SrcIP.To4())
			dst, _ = netip.AddrFromSlice(r.ip4.DstIP.To4())
			haveIP = true
		case layers.LayerTypeIPv6:
			src, _ = netip.AddrFromSlice(r.ip6.SrcIP.To16())
			dst, _ = netip.AddrFromSlice(r.ip6.DstIP.To16())
			haveIP = true
		case layers.LayerTypeUDP:
			haveUDP = true
		}
	}
	if !haveIP || !haveUDP {
		return core.Datagram{}, false
	}
	if r.port != 0 && uint16(r.udp.DstPort) != r.port {
		return core.Datagram{}, false
	}

	return core.Datagram{
		Src:     netip.AddrPortFrom(src.Unmap(), uint16(r.udp.SrcPort)),
		Dst:     netip.AddrPortFrom(dst.Unmap(), uint16(r.udp.DstPort)),
		Payload: r.udp.Payload,
	}, true
}
