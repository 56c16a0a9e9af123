// Package conn models one observed TCP connection: it lifts absolute
// sequence numbers into relative space, classifies outgoing segments
// as new data, RDB bundles or retransmits, and funnels every
// observation into the connection's range manager.
package conn

import (
	"fmt"
	"net"
	"time"

	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/metrics"
	"github.com/m-lab/analysetcp/ranges"
	"github.com/m-lab/analysetcp/stats"
	"github.com/m-lab/analysetcp/tcp"
)

// relSeqKind selects which per-stream lifting state a relative
// sequence number is computed against.
type relSeqKind int

const (
	relSeqSendOut relSeqKind = iota // sender outgoing seq
	relSeqSendAck                   // sender incoming (ack) seq
	relSeqRecvIn                    // receiver incoming seq
	relSeqSojourn                   // sojourn sample seq
)

// A new SYN whose sequence number moved further than this from the
// connection's first seq means the port was reused for a new
// connection.
const synSeqJumpLimit = 10

// Connection owns the range manager of one sender-to-receiver stream
// plus the connection-wide counters.
type Connection struct {
	cfg *config.Config

	Key     string
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16

	RM *ranges.Manager

	// Closed is set when a port reuse is detected; packets for the new
	// connection are ignored.  PoisonErr marks a fatal per-connection
	// error; analysis skips the connection but the run continues.
	Closed       bool
	PoisonErr    error
	IgnoredCount int

	lastLargestEndSeq             uint64
	lastLargestSeqAbsolute        uint32
	lastLargestStartSeq           uint64
	lastLargestAckSeq             uint64
	lastLargestAckSeqAbsolute     uint32
	lastLargestRecvEndSeq         uint64
	lastLargestRecvSeqAbsolute    uint32
	lastLargestSojournEndSeq      uint64
	lastLargestSojournSeqAbsolute uint32

	TotBytesSent        int64
	TotNewDataSent      int64
	TotRDBBytesSent     int64
	TotRetransBytesSent int64
	TotPacketSize       int64
	NrPacketsSent       int
	NrDataPacketsSent   int
	NrPacketRetrans     int
	BundleCount         int

	firstSendTime    time.Time
	packetSizes      [][]PacketSize
	packetSizeGroups []PacketSizeGroup

	packetsStats *stats.PacketsStats
}

// PacketSize is one sent packet in a throughput bucket.
type PacketSize struct {
	Time        time.Time
	PacketSize  uint32
	PayloadSize uint16
	Retrans     bool
}

// PacketSizeGroup sums the packets of one throughput bucket.
type PacketSizeGroup struct {
	Packets      int
	Bytes        uint64
	PayloadBytes uint64
	Retrans      int
}

func (g *PacketSizeGroup) add(ps PacketSize) {
	g.Packets++
	g.Bytes += uint64(ps.PacketSize)
	g.PayloadBytes += uint64(ps.PayloadSize)
	if ps.Retrans {
		g.Retrans++
	}
}

// NewConnection returns a connection anchored at the first observed
// sequence number of the sender stream.
func NewConnection(cfg *config.Config, srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16, firstSeq uint32) *Connection {
	key := MakeConnKey(srcIP, srcPort, dstIP, dstPort)
	return &Connection{
		cfg:     cfg,
		Key:     key,
		SrcIP:   srcIP,
		DstIP:   dstIP,
		SrcPort: srcPort,
		DstPort: dstPort,
		RM:      ranges.NewManager(cfg, key, firstSeq),
	}
}

// MakeConnKey formats the four-tuple the way connections are keyed and
// reported.
func MakeConnKey(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16) string {
	return fmt.Sprintf("%s_%d_%s_%d", srcIP.String(), srcPort, dstIP.String(), dstPort)
}

func (c *Connection) relativeSeq(seq uint32, kind relSeqKind) (uint64, error) {
	switch kind {
	case relSeqSendOut:
		return tcp.RelativeSeq(seq, c.RM.FirstSeq, c.lastLargestEndSeq, c.lastLargestSeqAbsolute)
	case relSeqSendAck:
		return tcp.RelativeSeq(seq, c.RM.FirstSeq, c.lastLargestAckSeq, c.lastLargestAckSeqAbsolute)
	case relSeqRecvIn:
		return tcp.RelativeSeq(seq, c.RM.FirstSeq, c.lastLargestRecvEndSeq, c.lastLargestRecvSeqAbsolute)
	default:
		return tcp.RelativeSeq(seq, c.RM.FirstSeq, c.lastLargestSojournEndSeq, c.lastLargestSojournSeqAbsolute)
	}
}

// poison marks the connection dead after a fatal error.  The rest of
// the run continues with the other connections.
func (c *Connection) poison(kind string, err error) {
	c.PoisonErr = err
	c.Closed = true
	metrics.ErrorCount.WithLabelValues(kind).Inc()
}

// lift computes the relative sequence interval of seg, dropping
// out-of-window events and poisoning the connection on nonsensical
// sequence numbers.  Returns false when the segment should be ignored.
func (c *Connection) lift(seg *tcp.DataSeg, kind relSeqKind) bool {
	rel, err := c.relativeSeq(seg.SeqAbsolute, kind)
	switch err {
	case nil:
	case tcp.ErrOutOfWindow:
		return false
	default:
		c.poison("invalid_sequence", err)
		return false
	}
	seg.Seq = rel
	seg.EndSeq = rel + uint64(seg.PayloadSize)
	return true
}

// RegisterSent classifies one outgoing segment as new data, RDB bundle
// or retransmission, and registers it with the range manager.
// totalSize is the full frame size for throughput accounting.
func (c *Connection) RegisterSent(seg *tcp.DataSeg, totalSize uint32) error {
	if c.Closed {
		c.IgnoredCount++
		return nil
	}
	if !c.lift(seg, relSeqSendOut) {
		return nil
	}
	c.TotPacketSize += int64(totalSize)
	c.NrPacketsSent++
	if c.firstSendTime.IsZero() {
		c.firstSendTime = seg.TstampPcap
	}

	// A sequence jump past the send edge without continuity: either a
	// SYN retry, or the port was reused for a brand new connection.
	if seg.EndSeq > c.lastLargestEndSeq &&
		c.lastLargestEndSeq != seg.Seq && c.lastLargestEndSeq+1 != seg.Seq {
		if seg.Flags.SYN() {
			delta := int64(seg.SeqAbsolute) - int64(c.RM.FirstSeq)
			if delta < 0 {
				delta = -delta
			}
			if delta > synSeqJumpLimit {
				c.RM.Warnings["port_reuse"]++
				c.Closed = true
				c.IgnoredCount++
				return nil
			}
			// SYN retry after timeout: restart the stream at the new
			// initial sequence number.
			c.RM.FirstSeq = seg.SeqAbsolute
			seg.Seq = 0
			seg.EndSeq = 0
		}
	}

	if seg.PayloadSize == 0 {
		// Pure ACK, SYN, FIN or RST.
		return c.registerRange(seg)
	}

	if seg.EndSeq > c.lastLargestEndSeq {
		switch {
		case seg.Seq == c.lastLargestStartSeq && (c.lastLargestStartSeq+c.lastLargestEndSeq) != 0,
			seg.Seq > c.lastLargestStartSeq && seg.Seq < c.lastLargestEndSeq,
			seg.Seq < c.lastLargestEndSeq:
			// Old bytes bundled with new ones.
			c.TotRDBBytesSent += int64(c.lastLargestEndSeq - seg.Seq)
			c.TotNewDataSent += int64(seg.EndSeq - c.lastLargestEndSeq)
			c.BundleCount++
			seg.IsRdb = true
			seg.RdbEndSeq = c.lastLargestEndSeq
		default:
			c.TotNewDataSent += int64(seg.PayloadSize)
		}
		c.lastLargestEndSeq = seg.EndSeq
		c.lastLargestSeqAbsolute = seg.SeqAbsolute + uint32(seg.PayloadSize)
	} else {
		c.NrPacketRetrans++
		c.TotRetransBytesSent += int64(seg.PayloadSize)
		seg.Retrans = true
	}

	c.NrDataPacketsSent++
	c.lastLargestStartSeq = seg.Seq
	c.TotBytesSent += int64(seg.PayloadSize)

	c.RegisterPacketSize(seg.TstampPcap, totalSize, seg.PayloadSize, seg.Retrans)
	return c.registerRange(seg)
}

func (c *Connection) registerRange(seg *tcp.DataSeg) error {
	err := c.RM.InsertSentRange(seg)
	if err != nil {
		c.poison("recursion_too_deep", err)
	}
	return err
}

// RegisterAck feeds one acknowledgment from the receiver into the
// range manager.  seg.SeqAbsolute must hold the raw ACK number.
func (c *Connection) RegisterAck(seg *tcp.DataSeg) bool {
	if c.Closed {
		c.IgnoredCount++
		return false
	}
	rel, err := c.relativeSeq(seg.SeqAbsolute, relSeqSendAck)
	switch err {
	case nil:
	case tcp.ErrOutOfWindow:
		return false
	default:
		c.poison("invalid_sequence", err)
		return false
	}
	seg.Ack = rel
	ok := c.RM.ProcessAck(seg)
	if ok {
		c.lastLargestAckSeq = rel
		c.lastLargestAckSeqAbsolute = seg.SeqAbsolute
	}
	return ok
}

// RegisterRecvd registers one receiver-side arrival.
func (c *Connection) RegisterRecvd(seg *tcp.DataSeg) error {
	if c.Closed {
		c.IgnoredCount++
		return nil
	}
	if !c.lift(seg, relSeqRecvIn) {
		return nil
	}
	if seg.Seq <= c.lastLargestRecvEndSeq && seg.EndSeq > c.lastLargestRecvEndSeq {
		seg.InSequence = true
	}
	err := c.RM.InsertReceivedRange(seg)
	if err != nil {
		c.poison("recursion_too_deep", err)
		return err
	}
	c.lastLargestRecvEndSeq = seg.EndSeq
	c.lastLargestRecvSeqAbsolute = seg.SeqAbsolute + uint32(seg.PayloadSize)
	return nil
}

// RegisterSojourn attaches one kernel-entry sample to the covering
// ranges.
func (c *Connection) RegisterSojourn(seg *tcp.DataSeg) error {
	if c.Closed {
		return nil
	}
	if !c.lift(seg, relSeqSojourn) {
		return nil
	}
	err := c.RM.InsertSojournRange(seg)
	if err != nil {
		c.poison("recursion_too_deep", err)
		return err
	}
	c.lastLargestSojournEndSeq = seg.EndSeq
	c.lastLargestSojournSeqAbsolute = seg.SeqAbsolute + uint32(seg.PayloadSize)
	return nil
}

// RegisterPacketSize records one sent packet into its throughput
// bucket.
func (c *Connection) RegisterPacketSize(ts time.Time, packetSize uint32, payloadSize uint16, retrans bool) {
	if c.firstSendTime.IsZero() {
		c.firstSendTime = ts
	}
	idx := uint64(ts.Sub(c.firstSendTime).Milliseconds()) / c.cfg.ThroughputAggrMs
	for uint64(len(c.packetSizes)) <= idx {
		c.packetSizes = append(c.packetSizes, nil)
		c.packetSizeGroups = append(c.packetSizeGroups, PacketSizeGroup{})
	}
	ps := PacketSize{Time: ts, PacketSize: packetSize, PayloadSize: payloadSize, Retrans: retrans}
	c.packetSizes[idx] = append(c.packetSizes[idx], ps)
	c.packetSizeGroups[idx].add(ps)
}

// PacketSizeGroups returns the throughput buckets.
func (c *Connection) PacketSizeGroups() []PacketSizeGroup {
	return c.packetSizeGroups
}

// PacketSizesFlat returns every sent packet in bucket order, for the
// per-packet ITT output.
func (c *Connection) PacketSizesFlat() []PacketSize {
	var out []PacketSize
	for _, b := range c.packetSizes {
		out = append(out, b...)
	}
	return out
}

// CalculateRetransAndRDBStats selects the analysis window and fills
// the analysed counters of the range manager.
func (c *Connection) CalculateRetransAndRDBStats() {
	c.RM.SetAnalysisWindow()
	c.RM.CalculateRetransAndRDBStats()
}

// PacketsStats generates (once) and returns the per-packet statistics
// of the analysis window.
func (c *Connection) PacketsStats() *stats.PacketsStats {
	if c.packetsStats == nil {
		c.packetsStats = stats.NewPacketsStats()
		c.RM.GenStats(c.packetsStats)
	}
	return c.packetsStats
}

// ValidateRanges checks the invariants of the range map and the byte
// conservation of the connection counters.
func (c *Connection) ValidateRanges() error {
	return c.RM.ValidateContent(c.TotBytesSent, c.TotNewDataSent, c.TotRDBBytesSent, c.TotRetransBytesSent)
}

// Duration returns the connection duration in seconds, of the analysis
// window when analysedOnly is set.
func (c *Connection) Duration(analysedOnly bool) uint32 {
	if !analysedOnly {
		return uint32(c.RM.TotalDuration())
	}
	start, end := c.RM.AnalysisWindow()
	if end <= start {
		return 0
	}
	return uint32(c.RM.Duration(c.RM.Range(end - 1)))
}

// NumUniqueBytes returns the span between the first and last data
// bytes of the analysis window.
func (c *Connection) NumUniqueBytes() uint64 {
	start, end := c.RM.AnalysisWindow()
	var first, last uint64
	for i := start; i < end; i++ {
		if c.RM.Range(i).NumBytes() > 0 {
			first = c.RM.Range(i).Start
			break
		}
	}
	for i := end - 1; i >= start; i-- {
		if c.RM.Range(i).NumBytes() > 0 {
			last = c.RM.Range(i).End
			break
		}
	}
	if last < first {
		return 0
	}
	return last - first
}
