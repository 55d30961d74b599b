package extract

import (
	"net/netip"

	"github.com/google/gopacket/layers"

	"github.com/xuacker/capkit/internal/core"
	"github.com/xuacker/capkit/internal/reassembly"
)

// Fragment descriptor extraction. Each helper inspects a decoded frame
// and reports whether the frame should be submitted to the corresponding
// engine.

func ipv4Fragment(f *core.Frame) (reassembly.IPFragment, bool) {
	ip := f.IPv4
	if ip == nil {
		return reassembly.IPFragment{}, false
	}
	// DF packets never participate in reassembly. Unfragmented packets
	// without DF still go through the engine's fast path.
	if ip.Flags&layers.IPv4DontFragment != 0 {
		return reassembly.IPFragment{}, false
	}
	src, _ := netip.AddrFromSlice(ip.SrcIP)
	dst, _ := netip.AddrFromSlice(ip.DstIP)
	return reassembly.IPFragment{
		Src:           src,
		Dst:           dst,
		ID:            uint32(ip.Id),
		Proto:         uint8(ip.Protocol),
		Offset:        int(ip.FragOffset) * 8,
		HeaderLen:     int(ip.IHL) * 4,
		TotalLen:      int(ip.Length),
		MoreFragments: ip.Flags&layers.IPv4MoreFragments != 0,
		Header:        ip.Contents,
		Payload:       ip.Payload,
		FrameNum:      f.Number,
	}, true
}

func ipv6Fragment(f *core.Frame) (reassembly.IPFragment, bool) {
	if f.IPv6 == nil || f.IPv6Frag == nil {
		return reassembly.IPFragment{}, false
	}
	ip, fh := f.IPv6, f.IPv6Frag
	src, _ := netip.AddrFromSlice(ip.SrcIP)
	dst, _ := netip.AddrFromSlice(ip.DstIP)
	// The fragment header carries only payload, so header length folds to
	// zero and total length is the carried payload size.
	return reassembly.IPFragment{
		Src:           src,
		Dst:           dst,
		ID:            fh.Identification,
		Proto:         uint8(fh.NextHeader),
		Offset:        int(fh.FragmentOffset) * 8,
		HeaderLen:     0,
		TotalLen:      len(fh.Payload),
		MoreFragments: fh.MoreFragments,
		Header:        ip.Contents,
		Payload:       fh.Payload,
		FrameNum:      f.Number,
	}, true
}

func tcpSegment(f *core.Frame) (reassembly.TCPSegment, bool) {
	tcp := f.TCP
	if tcp == nil {
		return reassembly.TCPSegment{}, false
	}
	return reassembly.TCPSegment{
		Src:      f.SrcAddr(),
		Dst:      f.DstAddr(),
		SrcPort:  uint16(tcp.SrcPort),
		DstPort:  uint16(tcp.DstPort),
		Seq:      tcp.Seq,
		SYN:      tcp.SYN,
		FIN:      tcp.FIN,
		ACK:      tcp.ACK,
		Ack:      tcp.Ack,
		Payload:  tcp.Payload,
		FrameNum: f.Number,
	}, true
}
