package dump

import (
	"net"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/analysetcp/tcp"
)

// SojournRecord is one row of the kernel probe's output file: the time
// a segment entered the kernel send buffer, keyed by the connection
// four-tuple and the segment's sequence interval.
type SojournRecord struct {
	TimeUs  int64  `csv:"time_us"`
	SrcIP   string `csv:"src_ip"`
	SrcPort uint16 `csv:"src_port"`
	DstIP   string `csv:"dst_ip"`
	DstPort uint16 `csv:"dst_port"`
	Seq     uint32 `csv:"seq"`
	EndSeq  uint32 `csv:"end_seq"`
}

// ProcessSojournFile reads the sojourn CSV side channel and attaches
// each sample to the ranges covering its interval.
func (d *Dump) ProcessSojournFile() error {
	f, err := os.Open(d.cfg.SojournFile)
	if err != nil {
		return err
	}
	defer f.Close()

	var records []SojournRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return err
	}

	for i := range records {
		r := &records[i]
		srcIP := net.ParseIP(r.SrcIP)
		dstIP := net.ParseIP(r.DstIP)
		if srcIP == nil || dstIP == nil {
			continue
		}
		seg := tcp.DataSeg{
			SeqAbsolute: r.Seq,
			PayloadSize: uint16(r.EndSeq - r.Seq),
			TstampPcap:  time.UnixMicro(r.TimeUs),
		}
		if err := d.Conns.PushSojourn(srcIP, r.SrcPort, dstIP, r.DstPort, &seg); err != nil {
			sparse500.Println("sojourn file:", err)
		}
	}
	return nil
}
