// Package tcpip extracts IP and TCP packets from a PCAP file and
// decodes the headers the analysis needs: addresses, ports, sequence
// and acknowledgment numbers, flags, window and the TCP timestamp
// option.
package tcpip

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	ErrTruncatedEthernetHeader = fmt.Errorf("truncated Ethernet header")
	ErrTruncatedIPHeader       = fmt.Errorf("truncated IP header")
	ErrTruncatedTCPHeader      = fmt.Errorf("truncated TCP header")
	ErrUnknownEtherType        = fmt.Errorf("unknown Ethernet type")
	ErrNoTCPLayer              = fmt.Errorf("no TCP layer")
	ErrBadOption               = fmt.Errorf("bad TCP option")
)

const ethernetHeaderSize = 14

// IP provides the common interface for IPv4 and IPv6 packet headers.
type IP interface {
	Version() uint8
	PayloadLength() int
	SrcIP() net.IP
	DstIP() net.IP
	NextProtocol() layers.IPProtocol
	HopLimit() uint8
	HeaderLength() int
}

// IPv4Header holds the fixed part of an IPv4 header.
type IPv4Header struct {
	versionIHL uint8
	length     uint16
	hopLimit   uint8
	protocol   layers.IPProtocol
	srcIP      [4]byte
	dstIP      [4]byte
}

const ipv4HeaderSize = 20

func newIPv4Header(data []byte) (*IPv4Header, error) {
	if len(data) < ipv4HeaderSize {
		return nil, ErrTruncatedIPHeader
	}
	h := &IPv4Header{
		versionIHL: data[0],
		length:     binary.BigEndian.Uint16(data[2:4]),
		hopLimit:   data[8],
		protocol:   layers.IPProtocol(data[9]),
	}
	copy(h.srcIP[:], data[12:16])
	copy(h.dstIP[:], data[16:20])
	if h.Version() != 4 || len(data) < h.HeaderLength() {
		return nil, ErrTruncatedIPHeader
	}
	return h, nil
}

func (h *IPv4Header) Version() uint8 {
	return h.versionIHL >> 4
}

func (h *IPv4Header) PayloadLength() int {
	return int(h.length) - h.HeaderLength()
}

func (h *IPv4Header) SrcIP() net.IP {
	ip := make(net.IP, 4)
	copy(ip, h.srcIP[:])
	return ip
}

func (h *IPv4Header) DstIP() net.IP {
	ip := make(net.IP, 4)
	copy(ip, h.dstIP[:])
	return ip
}

func (h *IPv4Header) NextProtocol() layers.IPProtocol {
	return h.protocol
}

func (h *IPv4Header) HopLimit() uint8 {
	return h.hopLimit
}

func (h *IPv4Header) HeaderLength() int {
	return int(h.versionIHL&0x0f) << 2
}

// IPv6Header holds the fixed IPv6 header.  All extension headers are
// skipped while looking for the TCP payload.
type IPv6Header struct {
	payloadLength uint16
	nextHeader    layers.IPProtocol
	hopLimit      uint8
	srcIP         [16]byte
	dstIP         [16]byte
	headerLength  int
}

const ipv6HeaderSize = 40

func newIPv6Header(data []byte) (*IPv6Header, error) {
	if len(data) < ipv6HeaderSize {
		return nil, ErrTruncatedIPHeader
	}
	if data[0]>>4 != 6 {
		return nil, fmt.Errorf("IPv6 packet with version %d", data[0]>>4)
	}
	h := &IPv6Header{
		payloadLength: binary.BigEndian.Uint16(data[4:6]),
		nextHeader:    layers.IPProtocol(data[6]),
		hopLimit:      data[7],
		headerLength:  ipv6HeaderSize,
	}
	copy(h.srcIP[:], data[8:24])
	copy(h.dstIP[:], data[24:40])

	// Walk extension headers until the transport layer.
	np := h.nextHeader
	rest := data[ipv6HeaderSize:]
	for np != layers.IPProtocolNoNextHeader && np != layers.IPProtocolTCP {
		if len(rest) < 8 {
			return nil, ErrTruncatedIPHeader
		}
		extLen := 8 + int(rest[1])*8
		if len(rest) < extLen {
			return nil, ErrTruncatedIPHeader
		}
		np = layers.IPProtocol(rest[0])
		h.headerLength += extLen
		rest = rest[extLen:]
	}
	h.nextHeader = np
	return h, nil
}

func (h *IPv6Header) Version() uint8 {
	return 6
}

func (h *IPv6Header) PayloadLength() int {
	return int(h.payloadLength) - (h.headerLength - ipv6HeaderSize)
}

func (h *IPv6Header) SrcIP() net.IP {
	ip := make(net.IP, 16)
	copy(ip, h.srcIP[:])
	return ip
}

func (h *IPv6Header) DstIP() net.IP {
	ip := make(net.IP, 16)
	copy(ip, h.dstIP[:])
	return ip
}

func (h *IPv6Header) NextProtocol() layers.IPProtocol {
	return h.nextHeader
}

func (h *IPv6Header) HopLimit() uint8 {
	return h.hopLimit
}

func (h *IPv6Header) HeaderLength() int {
	return h.headerLength
}

// TCPHeader is the decoded fixed TCP header plus the timestamp option.
type TCPHeader struct {
	SrcPort, DstPort uint16
	SeqNum           uint32
	AckNum           uint32
	DataOffset       int
	Flags            uint8
	Window           uint16

	TSVal  uint32
	TSEcr  uint32
	HasTS  bool
	SackCount int
}

const tcpHeaderSize = 20

func newTCPHeader(data []byte) (*TCPHeader, error) {
	if len(data) < tcpHeaderSize {
		return nil, ErrTruncatedTCPHeader
	}
	h := &TCPHeader{
		SrcPort:    binary.BigEndian.Uint16(data[0:2]),
		DstPort:    binary.BigEndian.Uint16(data[2:4]),
		SeqNum:     binary.BigEndian.Uint32(data[4:8]),
		AckNum:     binary.BigEndian.Uint32(data[8:12]),
		DataOffset: 4 * int(data[12]>>4),
		Flags:      data[13],
		Window:     binary.BigEndian.Uint16(data[14:16]),
	}
	if h.DataOffset < tcpHeaderSize || h.DataOffset > len(data) {
		return nil, ErrTruncatedTCPHeader
	}
	if err := h.parseOptions(data[tcpHeaderSize:h.DataOffset]); err != nil {
		return nil, err
	}
	return h, nil
}

// parseOptions walks the option list for the timestamp option.  Nop
// options are skipped; a malformed length aborts the packet.
func (h *TCPHeader) parseOptions(data []byte) error {
	for len(data) > 0 {
		kind := layers.TCPOptionKind(data[0])
		switch kind {
		case layers.TCPOptionKindNop:
			data = data[1:]
			continue
		case layers.TCPOptionKindEndList:
			return nil
		}
		if len(data) < 2 {
			return ErrTruncatedTCPHeader
		}
		optLen := int(data[1])
		if optLen < 2 || optLen > len(data) {
			return ErrBadOption
		}
		switch kind {
		case layers.TCPOptionKindTimestamps:
			if optLen != 10 {
				return ErrBadOption
			}
			h.TSVal = binary.BigEndian.Uint32(data[2:6])
			h.TSEcr = binary.BigEndian.Uint32(data[6:10])
			h.HasTS = true
		case layers.TCPOptionKindSACK:
			if (optLen-2)%8 != 0 {
				return ErrBadOption
			}
			h.SackCount += (optLen - 2) / 8
		}
		data = data[optLen:]
	}
	return nil
}

// Packet is one decoded TCP/IP packet.
type Packet struct {
	Ci  gopacket.CaptureInfo
	IP  IP
	TCP *TCPHeader
}

// PayloadSize returns the TCP payload length in bytes.
func (p *Packet) PayloadSize() int {
	n := p.IP.PayloadLength() - p.TCP.DataOffset
	if n < 0 {
		return 0
	}
	return n
}

// Wrap decodes the Ethernet, IP and TCP headers of one captured frame.
// ci is copied since gopacket reuses CaptureInfo storage.
func Wrap(ci *gopacket.CaptureInfo, data []byte) (Packet, error) {
	p := Packet{Ci: *ci}
	if len(data) < ethernetHeaderSize {
		return p, ErrTruncatedEthernetHeader
	}
	etherType := layers.EthernetType(binary.BigEndian.Uint16(data[12:14]))
	rest := data[ethernetHeaderSize:]

	var err error
	switch etherType {
	case layers.EthernetTypeIPv4:
		var v4 *IPv4Header
		if v4, err = newIPv4Header(rest); err != nil {
			return p, err
		}
		p.IP = v4
	case layers.EthernetTypeIPv6:
		var v6 *IPv6Header
		if v6, err = newIPv6Header(rest); err != nil {
			return p, err
		}
		p.IP = v6
	default:
		return p, ErrUnknownEtherType
	}

	if p.IP.NextProtocol() != layers.IPProtocolTCP {
		return p, ErrNoTCPLayer
	}
	if len(rest) < p.IP.HeaderLength() {
		return p, ErrTruncatedIPHeader
	}
	p.TCP, err = newTCPHeader(rest[p.IP.HeaderLength():])
	if err != nil {
		return p, err
	}
	return p, nil
}
