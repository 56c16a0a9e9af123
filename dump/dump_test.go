package dump_test

import (
	"encoding/binary"
	"log"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/dump"
	"github.com/m-lab/go/testingx"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var base = time.Date(2016, time.November, 10, 1, 1, 1, 0, time.UTC)

const (
	senderIP = "10.0.0.1"
	recvIP   = "10.0.0.2"
)

func frame(srcIP, dstIP string, srcPort, dstPort uint16, seq, ack uint32, flags uint8, payload int, tsVal, tsEcr uint32) []byte {
	const tcpHdrLen = 32
	buf := make([]byte, 14+20+tcpHdrLen+payload)
	binary.BigEndian.PutUint16(buf[12:14], 0x0800)
	ip := buf[14:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+tcpHdrLen+payload))
	ip[8] = 64
	ip[9] = 6
	copy(ip[12:16], net.ParseIP(srcIP).To4())
	copy(ip[16:20], net.ParseIP(dstIP).To4())
	tcp := ip[20:]
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = (tcpHdrLen / 4) << 4
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], 65535)
	tcp[20] = 1
	tcp[21] = 1
	tcp[22] = 8
	tcp[23] = 10
	binary.BigEndian.PutUint32(tcp[24:28], tsVal)
	binary.BigEndian.PutUint32(tcp[28:32], tsEcr)
	return buf
}

type packet struct {
	at   time.Duration
	data []byte
}

func writePcap(t *testing.T, path string, packets []packet) {
	t.Helper()
	f, err := os.Create(path)
	testingx.Must(t, err, "failed to create %s", path)
	defer f.Close()
	w := pcapgo.NewWriter(f)
	testingx.Must(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet), "failed to write header")
	for _, p := range packets {
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(p.at),
			CaptureLength: len(p.data),
			Length:        len(p.data),
		}
		testingx.Must(t, w.WritePacket(ci, p.data), "failed to write packet")
	}
}

func TestSenderAndReceiverDump(t *testing.T) {
	dir := t.TempDir()
	senderPcap := filepath.Join(dir, "sender.pcap")
	recvPcap := filepath.Join(dir, "receiver.pcap")

	// Sender sends two segments; the receiver only sees the first; the
	// receiver's cumulative ACK covers the first.
	writePcap(t, senderPcap, []packet{
		{0, frame(senderIP, recvIP, 5000, 80, 1000, 0, 0x18, 100, 10, 0)},
		{10 * time.Millisecond, frame(senderIP, recvIP, 5000, 80, 1100, 0, 0x18, 100, 11, 0)},
		{40 * time.Millisecond, frame(recvIP, senderIP, 80, 5000, 1, 1100, 0x10, 0, 50, 10)},
	})
	writePcap(t, recvPcap, []packet{
		{5 * time.Millisecond, frame(senderIP, recvIP, 5000, 80, 1000, 0, 0x18, 100, 10, 0)},
	})

	cfg := config.Default()
	cfg.SenderDump = senderPcap
	cfg.ReceiverDump = recvPcap
	cfg.SrcIP = senderIP
	cfg.WithRecv = true

	d, err := dump.New(cfg)
	testingx.Must(t, err, "failed to create dump")
	testingx.Must(t, d.Run(), "failed to run analysis")

	if d.SenderPacketCount != 3 || d.ReceiverPacketCount != 1 {
		t.Fatalf("packets: sender %d receiver %d", d.SenderPacketCount, d.ReceiverPacketCount)
	}
	if d.Conns.Len() != 1 {
		t.Fatalf("connections: %d", d.Conns.Len())
	}

	c := d.Conns.Get(net.ParseIP(senderIP), 5000, net.ParseIP(recvIP), 80)
	if c == nil {
		t.Fatal("connection not found")
	}
	if c.TotNewDataSent != 200 {
		t.Errorf("new data %d, want 200", c.TotNewDataSent)
	}
	if !c.RM.Range(0).IsAcked() {
		t.Error("first range should be acked")
	}
	if c.RM.AnalysedLostRangesCount != 1 || c.RM.AnalysedLostBytes != 100 {
		t.Errorf("lost ranges %d bytes %d, want 1/100", c.RM.AnalysedLostRangesCount, c.RM.AnalysedLostBytes)
	}
	if c.RM.Range(0).DataReceivedCount != 1 || c.RM.Range(1).DataReceivedCount != 0 {
		t.Errorf("received counts: %d %d", c.RM.Range(0).DataReceivedCount, c.RM.Range(1).DataReceivedCount)
	}

	ps := c.PacketsStats()
	if ps.Latency.Counter() != 1 {
		t.Errorf("latency samples %d, want 1", ps.Latency.Counter())
	}
	// The first segment was acked 40 ms after sending.
	if ps.Latency.Min != 40000 {
		t.Errorf("ack latency %d usec, want 40000", ps.Latency.Min)
	}
}

func TestSojournFile(t *testing.T) {
	dir := t.TempDir()
	senderPcap := filepath.Join(dir, "sender.pcap")
	sojourn := filepath.Join(dir, "sojourn.csv")

	writePcap(t, senderPcap, []packet{
		{0, frame(senderIP, recvIP, 5000, 80, 1000, 0, 0x18, 100, 10, 0)},
	})
	// The segment entered the kernel 300 usec before it hit the wire.
	csv := "time_us,src_ip,src_port,dst_ip,dst_port,seq,end_seq\n"
	csv += "1478739660999700,10.0.0.1,5000,10.0.0.2,80,1000,1100\n"
	testingx.Must(t, os.WriteFile(sojourn, []byte(csv), 0o644), "failed to write csv")

	cfg := config.Default()
	cfg.SenderDump = senderPcap
	cfg.SojournFile = sojourn
	cfg.SrcIP = senderIP

	d, err := dump.New(cfg)
	testingx.Must(t, err, "failed to create dump")
	testingx.Must(t, d.Run(), "failed to run analysis")

	c := d.Conns.Get(net.ParseIP(senderIP), 5000, net.ParseIP(recvIP), 80)
	if c == nil {
		t.Fatal("connection not found")
	}
	br := c.RM.Range(0)
	if len(br.SojournTstamps) != 1 {
		t.Fatalf("sojourn samples: %d", len(br.SojournTstamps))
	}
	st := br.SojournTimes()
	if len(st) != 1 || st[0].SojournUs != 300 {
		t.Errorf("sojourn times: %+v", st)
	}
}

func TestFilteredPort(t *testing.T) {
	dir := t.TempDir()
	senderPcap := filepath.Join(dir, "sender.pcap")
	writePcap(t, senderPcap, []packet{
		{0, frame(senderIP, recvIP, 5000, 80, 1000, 0, 0x18, 100, 10, 0)},
		{time.Millisecond, frame(senderIP, recvIP, 6000, 443, 1000, 0, 0x18, 100, 10, 0)},
	})

	cfg := config.Default()
	cfg.SenderDump = senderPcap
	cfg.SrcIP = senderIP
	cfg.DstPort = 80

	d, err := dump.New(cfg)
	testingx.Must(t, err, "failed to create dump")
	testingx.Must(t, d.Run(), "failed to run analysis")
	if d.Conns.Len() != 1 {
		t.Errorf("connections %d, want 1 after port filter", d.Conns.Len())
	}
}
