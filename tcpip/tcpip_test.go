package tcpip_test

import (
	"encoding/binary"
	"log"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/m-lab/analysetcp/tcpip"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// frame builds an Ethernet/IPv4/TCP frame with a timestamp option.
func frame(srcIP, dstIP string, srcPort, dstPort uint16, seq, ack uint32, flags uint8, payload int, tsVal, tsEcr uint32) []byte {
	const tcpHdrLen = 32 // 20 fixed + nop nop + 10 byte timestamp option
	buf := make([]byte, 14+20+tcpHdrLen+payload)

	// Ethernet.
	binary.BigEndian.PutUint16(buf[12:14], 0x0800)

	// IPv4.
	ip := buf[14:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+tcpHdrLen+payload))
	ip[8] = 64
	ip[9] = 6
	copy(ip[12:16], net.ParseIP(srcIP).To4())
	copy(ip[16:20], net.ParseIP(dstIP).To4())

	// TCP.
	tcp := ip[20:]
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = (tcpHdrLen / 4) << 4
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], 65535)
	// Options: nop, nop, timestamps.
	tcp[20] = 1
	tcp[21] = 1
	tcp[22] = 8
	tcp[23] = 10
	binary.BigEndian.PutUint32(tcp[24:28], tsVal)
	binary.BigEndian.PutUint32(tcp[28:32], tsEcr)

	return buf
}

func TestWrap(t *testing.T) {
	data := frame("192.168.1.10", "192.168.1.20", 5000, 80, 1000, 2000, 0x18, 100, 77, 88)
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Date(2016, time.November, 10, 1, 1, 1, 0, time.UTC),
		CaptureLength: len(data),
		Length:        len(data),
	}
	p, err := tcpip.Wrap(&ci, data)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IP.SrcIP().Equal(net.ParseIP("192.168.1.10")) {
		t.Errorf("src ip %v", p.IP.SrcIP())
	}
	if p.TCP.SrcPort != 5000 || p.TCP.DstPort != 80 {
		t.Errorf("ports %d %d", p.TCP.SrcPort, p.TCP.DstPort)
	}
	if p.TCP.SeqNum != 1000 || p.TCP.AckNum != 2000 {
		t.Errorf("seq %d ack %d", p.TCP.SeqNum, p.TCP.AckNum)
	}
	if !p.TCP.HasTS || p.TCP.TSVal != 77 || p.TCP.TSEcr != 88 {
		t.Errorf("timestamps: has %v val %d ecr %d", p.TCP.HasTS, p.TCP.TSVal, p.TCP.TSEcr)
	}
	if p.PayloadSize() != 100 {
		t.Errorf("payload %d, want 100", p.PayloadSize())
	}
	if p.TCP.Window != 65535 {
		t.Errorf("window %d", p.TCP.Window)
	}
}

func TestWrapErrors(t *testing.T) {
	ci := gopacket.CaptureInfo{}
	if _, err := tcpip.Wrap(&ci, make([]byte, 5)); err != tcpip.ErrTruncatedEthernetHeader {
		t.Errorf("got %v", err)
	}

	// Valid ethernet header but unknown ethertype.
	bad := make([]byte, 60)
	binary.BigEndian.PutUint16(bad[12:14], 0x0806) // ARP
	if _, err := tcpip.Wrap(&ci, bad); err != tcpip.ErrUnknownEtherType {
		t.Errorf("got %v", err)
	}

	// UDP inside IPv4 has no TCP layer.
	data := frame("10.0.0.1", "10.0.0.2", 1, 2, 0, 0, 0, 0, 0, 0)
	data[14+9] = 17
	if _, err := tcpip.Wrap(&ci, data); err != tcpip.ErrNoTCPLayer {
		t.Errorf("got %v", err)
	}

	// Truncated TCP header.
	data = frame("10.0.0.1", "10.0.0.2", 1, 2, 0, 0, 0, 0, 0, 0)
	if _, err := tcpip.Wrap(&ci, data[:14+20+10]); err != tcpip.ErrTruncatedTCPHeader {
		t.Errorf("got %v", err)
	}
}
