// Package dump reads the sender-side and optional receiver-side pcap
// files, routes every decoded segment into the connection map, and
// drives the per-connection analysis passes.
package dump

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/conn"
	"github.com/m-lab/analysetcp/metrics"
	"github.com/m-lab/analysetcp/tcp"
	"github.com/m-lab/analysetcp/tcpip"
	"github.com/m-lab/go/logx"
	"golang.org/x/sync/errgroup"
)

var (
	sparseLogger = log.New(os.Stdout, "dump: ", log.LstdFlags|log.Lshortfile)
	sparse500    = logx.NewLogEvery(sparseLogger, 500*time.Millisecond)

	// ErrNoSenderIP means the sender address filter is missing.
	ErrNoSenderIP = fmt.Errorf("sender IP must be given")
)

// Dump drives the two-pass trace analysis.
type Dump struct {
	cfg   *config.Config
	Conns *conn.Map

	senderIP   net.IP
	receiverIP net.IP
	sendNatIP  net.IP
	recvNatIP  net.IP

	SenderPacketCount   int
	ReceiverPacketCount int
	FirstPcapTstamp     time.Time
}

// New returns a Dump for the configured trace files.
func New(cfg *config.Config) (*Dump, error) {
	d := &Dump{cfg: cfg, Conns: conn.NewMap(cfg)}
	if cfg.SrcIP == "" {
		return nil, ErrNoSenderIP
	}
	d.senderIP = net.ParseIP(cfg.SrcIP)
	if d.senderIP == nil {
		return nil, fmt.Errorf("invalid sender IP %q", cfg.SrcIP)
	}
	if cfg.DstIP != "" {
		d.receiverIP = net.ParseIP(cfg.DstIP)
	}
	if cfg.SendNatIP != "" {
		d.sendNatIP = net.ParseIP(cfg.SendNatIP)
	}
	if cfg.RecvNatIP != "" {
		d.recvNatIP = net.ParseIP(cfg.RecvNatIP)
	}
	return d, nil
}

func (d *Dump) matchesFilter(dstIP net.IP, srcPort, dstPort uint16) bool {
	if d.receiverIP != nil && !d.receiverIP.Equal(dstIP) {
		return false
	}
	if d.cfg.SrcPort != 0 && d.cfg.SrcPort != srcPort {
		return false
	}
	if d.cfg.DstPort != 0 && d.cfg.DstPort != dstPort {
		return false
	}
	return true
}

func newDataSeg(p *tcpip.Packet) tcp.DataSeg {
	return tcp.DataSeg{
		SeqAbsolute:   p.TCP.SeqNum,
		PayloadSize:   uint16(p.PayloadSize()),
		Flags:         tcp.Flags(p.TCP.Flags),
		TstampPcap:    p.Ci.Timestamp,
		TstampTCP:     p.TCP.TSVal,
		TstampTCPEcho: p.TCP.TSEcr,
		Window:        p.TCP.Window,
	}
}

// ProcessSenderDump reads the sender-side capture: outgoing segments
// become sent observations, segments flowing back to the sender become
// ACK observations.
func (d *Dump) ProcessSenderDump() error {
	start := time.Now()
	defer func() {
		metrics.FileDuration.WithLabelValues("sender").Observe(time.Since(start).Seconds())
	}()

	pcap, closer, err := tcpip.OpenReader(d.cfg.SenderDump)
	if err != nil {
		return err
	}
	defer closer.Close()

	for {
		data, ci, err := pcap.ReadPacketData()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", tcpip.ErrTruncatedPcap, err)
		}
		p, err := tcpip.Wrap(&ci, data)
		if err != nil {
			if err != tcpip.ErrNoTCPLayer && err != tcpip.ErrUnknownEtherType {
				sparse500.Println("sender dump:", err)
			}
			metrics.PacketCount.WithLabelValues("sender", "not_tcp").Inc()
			continue
		}

		srcIP, dstIP := p.IP.SrcIP(), p.IP.DstIP()
		switch {
		case d.senderIP.Equal(srcIP):
			if !d.matchesFilter(dstIP, p.TCP.SrcPort, p.TCP.DstPort) {
				metrics.PacketCount.WithLabelValues("sender", "filtered").Inc()
				continue
			}
			if d.FirstPcapTstamp.IsZero() {
				d.FirstPcapTstamp = ci.Timestamp
			}
			seg := newDataSeg(&p)
			if err := d.Conns.PushSent(srcIP, p.TCP.SrcPort, dstIP, p.TCP.DstPort, &seg, uint32(ci.Length)); err != nil {
				sparse500.Println("sender dump:", err)
			}
			d.SenderPacketCount++
			metrics.PacketCount.WithLabelValues("sender", "ok").Inc()

		case d.senderIP.Equal(dstIP):
			if !d.matchesFilter(srcIP, p.TCP.DstPort, p.TCP.SrcPort) {
				metrics.PacketCount.WithLabelValues("sender", "filtered").Inc()
				continue
			}
			if tcp.Flags(p.TCP.Flags).ACK() {
				seg := newDataSeg(&p)
				seg.SeqAbsolute = p.TCP.AckNum
				seg.PayloadSize = 0
				d.Conns.PushAck(dstIP, p.TCP.DstPort, srcIP, p.TCP.SrcPort, &seg)
			}
			d.SenderPacketCount++
			metrics.PacketCount.WithLabelValues("sender", "ok").Inc()

		default:
			metrics.PacketCount.WithLabelValues("sender", "filtered").Inc()
		}
	}
}

// ProcessReceiverDump reads the receiver-side capture and registers
// arrivals.  NAT addresses, when configured, are rewritten back to the
// sender-side view before lookup.
func (d *Dump) ProcessReceiverDump() error {
	start := time.Now()
	defer func() {
		metrics.FileDuration.WithLabelValues("receiver").Observe(time.Since(start).Seconds())
	}()

	pcap, closer, err := tcpip.OpenReader(d.cfg.ReceiverDump)
	if err != nil {
		return err
	}
	defer closer.Close()

	senderAsSeen := d.senderIP
	if d.sendNatIP != nil {
		senderAsSeen = d.sendNatIP
	}

	for {
		data, ci, err := pcap.ReadPacketData()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", tcpip.ErrTruncatedPcap, err)
		}
		p, err := tcpip.Wrap(&ci, data)
		if err != nil {
			metrics.PacketCount.WithLabelValues("receiver", "not_tcp").Inc()
			continue
		}

		srcIP, dstIP := p.IP.SrcIP(), p.IP.DstIP()
		if !senderAsSeen.Equal(srcIP) {
			metrics.PacketCount.WithLabelValues("receiver", "filtered").Inc()
			continue
		}
		// Map the receiver-dump addresses back to the sender view.
		lookupDst := dstIP
		if d.recvNatIP != nil && d.recvNatIP.Equal(dstIP) && d.receiverIP != nil {
			lookupDst = d.receiverIP
		}
		if !d.matchesFilter(lookupDst, p.TCP.SrcPort, p.TCP.DstPort) {
			metrics.PacketCount.WithLabelValues("receiver", "filtered").Inc()
			continue
		}
		seg := newDataSeg(&p)
		if err := d.Conns.PushRecv(d.senderIP, p.TCP.SrcPort, lookupDst, p.TCP.DstPort, &seg); err != nil {
			sparse500.Println("receiver dump:", err)
		}
		d.ReceiverPacketCount++
		metrics.PacketCount.WithLabelValues("receiver", "ok").Inc()
	}
}

// Analyse runs the per-connection statistics passes.  Connections are
// independent, so they are fanned out across workers.
func (d *Dump) Analyse() error {
	var g errgroup.Group
	for _, c := range d.Conns.Sorted() {
		c := c
		g.Go(func() error {
			if c.PoisonErr != nil {
				metrics.ConnectionCount.WithLabelValues("poisoned").Inc()
				return nil
			}
			if d.cfg.ValidateRanges {
				if err := c.ValidateRanges(); err != nil {
					c.PoisonErr = err
					metrics.ErrorCount.WithLabelValues("invariant_violation").Inc()
					metrics.ConnectionCount.WithLabelValues("poisoned").Inc()
					return nil
				}
			}
			c.CalculateRetransAndRDBStats()
			if d.cfg.WithRecv {
				c.RM.CalculateLatencyVariation()
			}
			c.PacketsStats()
			metrics.RangeCount.Observe(float64(c.RM.NumRanges()))
			metrics.ConnectionCount.WithLabelValues("analysed").Inc()
			return nil
		})
	}
	return g.Wait()
}

// Run executes the configured passes in order.
func (d *Dump) Run() error {
	if err := d.ProcessSenderDump(); err != nil {
		return err
	}
	if d.cfg.WithRecv && d.cfg.ReceiverDump != "" {
		if err := d.ProcessReceiverDump(); err != nil {
			return err
		}
	}
	if d.cfg.SojournFile != "" {
		if err := d.ProcessSojournFile(); err != nil {
			return err
		}
	}
	return d.Analyse()
}
