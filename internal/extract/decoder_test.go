package extract

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuacker/capkit/internal/core"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ls...)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecodeTCPOverEthernet(t *testing.T) {
	data := serialize(t,
		&layers.Ethernet{
			SrcMAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, DstMAC: net.HardwareAddr{2, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		},
		&layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Flags: layers.IPv4DontFragment,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
		},
		&layers.TCP{SrcPort: 1234, DstPort: 80, DataOffset: 5, ACK: true},
		gopacket.Payload("request body"),
	)

	d := newFrameDecoder(layers.LinkTypeEthernet)
	frame, err := d.Decode(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)}, 1)
	require.NoError(t, err)

	assert.Equal(t, "Ethernet:IPv4:TCP", frame.ProtoChain())
	require.NotNil(t, frame.TCP)
	assert.Equal(t, layers.TCPPort(80), frame.TCP.DstPort)
	assert.Equal(t, []byte("request body"), frame.Payload)
	assert.Equal(t, "10.0.0.1", frame.SrcAddr().String())
}

func TestDecodeFragmentStopsAtNetworkLayer(t *testing.T) {
	data := serialize(t,
		&layers.Ethernet{
			SrcMAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, DstMAC: net.HardwareAddr{2, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		},
		&layers.IPv4{
			Version: 4, IHL: 5, TTL: 64,
			Flags: layers.IPv4MoreFragments, FragOffset: 0, Id: 7,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
		},
		gopacket.Payload("fragment payload"),
	)

	d := newFrameDecoder(layers.LinkTypeEthernet)
	frame, err := d.Decode(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)}, 1)
	require.NoError(t, err)

	// A fragment cannot carry a decodable transport header, so the chain
	// ends at the network layer and the payload stays on the IP layer.
	assert.Equal(t, "Ethernet:IPv4", frame.ProtoChain())
	require.NotNil(t, frame.IPv4)
	assert.Nil(t, frame.UDP)
	assert.Equal(t, []byte("fragment payload"), frame.IPv4.Payload)
}

func TestRawLinkSniffsIPVersion(t *testing.T) {
	v4 := serialize(t,
		&layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Flags: layers.IPv4DontFragment,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
		},
		&layers.UDP{SrcPort: 53, DstPort: 53},
	)

	// 12 bytes of UDP: header plus four payload bytes.
	v6 := make([]byte, 40+12)
	v6[0] = 0x60
	v6[5] = 12 // payload length
	v6[6] = 17 // next header: UDP
	v6[7] = 64
	copy(v6[8:24], net.ParseIP("2001:db8::1").To16())
	copy(v6[24:40], net.ParseIP("2001:db8::2").To16())
	binary.BigEndian.PutUint16(v6[40:42], 40000) // src port
	binary.BigEndian.PutUint16(v6[42:44], 40001) // dst port
	v6[45] = 12                                  // udp length
	copy(v6[48:], "ping")

	d := newFrameDecoder(layers.LinkTypeRaw)

	frame, err := d.Decode(v4, gopacket.CaptureInfo{CaptureLength: len(v4), Length: len(v4)}, 1)
	require.NoError(t, err)
	require.NotNil(t, frame.IPv4)
	assert.Nil(t, frame.Ethernet)

	frame, err = d.Decode(v6, gopacket.CaptureInfo{CaptureLength: len(v6), Length: len(v6)}, 2)
	require.NoError(t, err)
	require.NotNil(t, frame.IPv6)
	assert.Equal(t, "IPv6:UDP", frame.ProtoChain())
	assert.Equal(t, []byte("ping"), frame.Payload)
}

func TestRawLinkBSDValue(t *testing.T) {
	v4 := serialize(t,
		&layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Flags: layers.IPv4DontFragment,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
		},
		&layers.UDP{SrcPort: 53, DstPort: 53},
	)

	d := newFrameDecoder(layers.LinkType(12))
	frame, err := d.Decode(v4, gopacket.CaptureInfo{CaptureLength: len(v4), Length: len(v4)}, 1)
	require.NoError(t, err)
	require.NotNil(t, frame.IPv4)
}

func TestDecodeIPv6FragmentHeader(t *testing.T) {
	data := make([]byte, 40+8+16)
	data[0] = 0x60
	data[5] = 8 + 16 // payload length
	data[6] = 44     // next header: fragment
	data[7] = 64
	copy(data[8:24], net.ParseIP("2001:db8::1").To16())
	copy(data[24:40], net.ParseIP("2001:db8::2").To16())
	data[40] = 17              // fragment next header: UDP
	data[42] = 0x00            // offset 16 bytes = 2 blocks, high bits
	data[43] = 2<<3 | 1        // offset low bits + MF
	data[44], data[47] = 0, 99 // identification
	copy(data[48:], "0123456789abcdef")

	d := newFrameDecoder(layers.LinkTypeIPv6)
	frame, err := d.Decode(data, gopacket.CaptureInfo{CaptureLength: len(data), Length: len(data)}, 1)
	require.NoError(t, err)

	assert.Equal(t, "IPv6:IPv6Fragment", frame.ProtoChain())
	require.NotNil(t, frame.IPv6Frag)
	assert.Equal(t, uint16(2), frame.IPv6Frag.FragmentOffset)
	assert.True(t, frame.IPv6Frag.MoreFragments)
	assert.Equal(t, uint32(99), frame.IPv6Frag.Identification)
	assert.Equal(t, layers.IPProtocolUDP, frame.IPv6Frag.NextHeader)
	assert.Equal(t, []byte("0123456789abcdef"), []byte(frame.IPv6Frag.Payload))
}

func TestPayloadDoesNotLeakAcrossRecords(t *testing.T) {
	withPayload := serialize(t,
		&layers.Ethernet{
			SrcMAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, DstMAC: net.HardwareAddr{2, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		},
		&layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Flags: layers.IPv4DontFragment,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
		},
		&layers.TCP{SrcPort: 1234, DstPort: 80, DataOffset: 5, ACK: true},
		gopacket.Payload("sticky"),
	)
	bare := serialize(t,
		&layers.Ethernet{
			SrcMAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, DstMAC: net.HardwareAddr{2, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		},
		&layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Flags: layers.IPv4DontFragment,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2},
		},
		&layers.TCP{SrcPort: 1234, DstPort: 80, DataOffset: 5, SYN: true},
	)

	d := newFrameDecoder(layers.LinkTypeEthernet)

	frame, err := d.Decode(withPayload, gopacket.CaptureInfo{}, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("sticky"), frame.Payload)

	frame, err = d.Decode(bare, gopacket.CaptureInfo{}, 2)
	require.NoError(t, err)
	assert.Empty(t, frame.Payload, "previous record's payload must not carry over")
}

func TestDecodeGarbageFails(t *testing.T) {
	d := newFrameDecoder(layers.LinkTypeEthernet)
	_, err := d.Decode([]byte{0xde, 0xad}, gopacket.CaptureInfo{}, 1)
	require.ErrorIs(t, err, core.ErrDecodeFailure)
}

func TestUnhandledLinkType(t *testing.T) {
	d := newFrameDecoder(layers.LinkTypeFDDI)
	_, err := d.Decode(make([]byte, 64), gopacket.CaptureInfo{}, 1)
	require.ErrorIs(t, err, core.ErrDecodeFailure)
}
