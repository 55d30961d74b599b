package extract

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/xuacker/capkit/internal/core"
)

// ipv6FragmentDecoder parses the 8-byte IPv6 fragment extension header.
// layers.IPv6Fragment carries the fields but does not satisfy
// gopacket.DecodingLayer, so the header is decoded here.
type ipv6FragmentDecoder struct {
	layers.IPv6Fragment
}

func (f *ipv6FragmentDecoder) CanDecode() gopacket.LayerClass {
	return layers.LayerTypeIPv6Fragment
}

// NextLayerType reports a fragment: the payload is a slice of the upper
// layer and must not be parsed as a complete header.
func (f *ipv6FragmentDecoder) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypeFragment
}

func (f *ipv6FragmentDecoder) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 8 {
		df.SetTruncated()
		return errors.New("IPv6 fragment header too short")
	}
	f.NextHeader = layers.IPProtocol(data[0])
	f.Reserved1 = data[1]
	f.FragmentOffset = binary.BigEndian.Uint16(data[2:4]) >> 3
	f.Reserved2 = (data[3] >> 1) & 0x3
	f.MoreFragments = data[3]&0x1 != 0
	f.Identification = binary.BigEndian.Uint32(data[4:8])
	f.BaseLayer = layers.BaseLayer{Contents: data[:8], Payload: data[8:]}
	return nil
}

// frameDecoder turns one raw record into a core.Frame using gopacket's
// layer decoders. Layer structs are reused between records, so it is not
// safe for concurrent use; in parallel mode each worker owns one.
type frameDecoder struct {
	link layers.LinkType

	eth     layers.Ethernet
	ip4     layers.IPv4
	ip6     layers.IPv6
	frag6   ipv6FragmentDecoder
	tcp     layers.TCP
	udp     layers.UDP
	payload gopacket.Payload

	ethParser *gopacket.DecodingLayerParser
	ip4Parser *gopacket.DecodingLayerParser
	ip6Parser *gopacket.DecodingLayerParser
	decoded   []gopacket.LayerType
}

func newFrameDecoder(link layers.LinkType) *frameDecoder {
	d := &frameDecoder{
		link:    link,
		decoded: make([]gopacket.LayerType, 0, 8),
	}
	decoders := []gopacket.DecodingLayer{
		&d.eth, &d.ip4, &d.ip6, &d.frag6, &d.tcp, &d.udp, &d.payload,
	}
	d.ethParser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, decoders...)
	d.ip4Parser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, decoders...)
	d.ip6Parser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv6, decoders...)
	d.ethParser.IgnoreUnsupported = true
	d.ip4Parser.IgnoreUnsupported = true
	d.ip6Parser.IgnoreUnsupported = true
	return d
}

// parserFor picks the entry decoder from the link type; raw-IP links sniff
// the version nibble.
func (d *frameDecoder) parserFor(data []byte) (*gopacket.DecodingLayerParser, error) {
	switch d.link {
	case layers.LinkTypeEthernet:
		return d.ethParser, nil
	case layers.LinkTypeIPv4:
		return d.ip4Parser, nil
	case layers.LinkTypeIPv6:
		return d.ip6Parser, nil
	// DLT_RAW carries two historical values; 12 is the BSD one.
	case layers.LinkTypeRaw, layers.LinkType(12):
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty record", core.ErrDecodeFailure)
		}
		if data[0]>>4 == 6 {
			return d.ip6Parser, nil
		}
		return d.ip4Parser, nil
	default:
		return nil, fmt.Errorf("%w: unhandled link type %v", core.ErrDecodeFailure, d.link)
	}
}

// Decode parses one record. Truncated packets still yield a frame with
// whatever layers decoded cleanly, matching capture-file reality.
func (d *frameDecoder) Decode(data []byte, ci gopacket.CaptureInfo, num int) (*core.Frame, error) {
	parser, err := d.parserFor(data)
	if err != nil {
		return nil, err
	}
	if err := parser.DecodeLayers(data, &d.decoded); err != nil {
		if len(d.decoded) == 0 {
			return nil, fmt.Errorf("%w: frame %d: %v", core.ErrDecodeFailure, num, err)
		}
		// Partial chain is fine: keep what decoded.
	}

	frame := &core.Frame{
		Number:     num,
		Timestamp:  ci.Timestamp,
		CaptureLen: ci.CaptureLength,
		OrigLen:    ci.Length,
		LinkType:   d.link,
	}
	for _, lt := range d.decoded {
		if lt != gopacket.LayerTypePayload {
			frame.Chain = append(frame.Chain, lt)
		}
		switch lt {
		case gopacket.LayerTypePayload:
			frame.Payload = d.payload
		case layers.LayerTypeEthernet:
			eth := d.eth
			frame.Ethernet = &eth
		case layers.LayerTypeIPv4:
			ip4 := d.ip4
			frame.IPv4 = &ip4
		case layers.LayerTypeIPv6:
			ip6 := d.ip6
			frame.IPv6 = &ip6
		case layers.LayerTypeIPv6Fragment:
			frag6 := d.frag6.IPv6Fragment
			frame.IPv6Frag = &frag6
		case layers.LayerTypeTCP:
			tcp := d.tcp
			frame.TCP = &tcp
		case layers.LayerTypeUDP:
			udp := d.udp
			frame.UDP = &udp
		}
	}
	return frame, nil
}
