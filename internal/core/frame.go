package core

import (
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame is one decoded capture record. Layer pointers are nil when the
// corresponding layer was not present in the record.
type Frame struct {
	Number     int
	Timestamp  time.Time
	CaptureLen int
	OrigLen    int

	LinkType layers.LinkType
	Chain    []gopacket.LayerType

	Ethernet *layers.Ethernet
	IPv4     *layers.IPv4
	IPv6     *layers.IPv6
	IPv6Frag *layers.IPv6Fragment
	TCP      *layers.TCP
	UDP      *layers.UDP

	// Payload is the innermost payload left after the last decoded layer.
	Payload []byte
}

// ProtoChain returns the decoded layer chain as "Ethernet:IPv4:TCP".
func (f *Frame) ProtoChain() string {
	parts := make([]string, 0, len(f.Chain))
	for _, lt := range f.Chain {
		parts = append(parts, lt.String())
	}
	return strings.Join(parts, ":")
}

// SrcAddr returns the network source address, or the zero Addr when the
// frame has no IP layer.
func (f *Frame) SrcAddr() netip.Addr {
	switch {
	case f.IPv4 != nil:
		a, _ := netip.AddrFromSlice(f.IPv4.SrcIP)
		return a
	case f.IPv6 != nil:
		a, _ := netip.AddrFromSlice(f.IPv6.SrcIP)
		return a
	}
	return netip.Addr{}
}

// DstAddr returns the network destination address, or the zero Addr when
// the frame has no IP layer.
func (f *Frame) DstAddr() netip.Addr {
	switch {
	case f.IPv4 != nil:
		a, _ := netip.AddrFromSlice(f.IPv4.DstIP)
		return a
	case f.IPv6 != nil:
		a, _ := netip.AddrFromSlice(f.IPv6.DstIP)
		return a
	}
	return netip.Addr{}
}

// Document flattens the frame into a serializable map for output sinks.
func (f *Frame) Document() map[string]any {
	doc := map[string]any{
		"number":      f.Number,
		"timestamp":   f.Timestamp.Format(time.RFC3339Nano),
		"capture_len": f.CaptureLen,
		"orig_len":    f.OrigLen,
		"protocols":   f.ProtoChain(),
	}
	if src := f.SrcAddr(); src.IsValid() {
		doc["src"] = src.String()
		doc["dst"] = f.DstAddr().String()
	}
	if f.TCP != nil {
		doc["src_port"] = uint16(f.TCP.SrcPort)
		doc["dst_port"] = uint16(f.TCP.DstPort)
		doc["seq"] = f.TCP.Seq
	} else if f.UDP != nil {
		doc["src_port"] = uint16(f.UDP.SrcPort)
		doc["dst_port"] = uint16(f.UDP.DstPort)
	}
	if len(f.Payload) > 0 {
		doc["payload_len"] = len(f.Payload)
	}
	return doc
}
