// Package output renders the analysis results: the per-connection and
// aggregate text report, and the CSV/CDF files consumed by the R
// post-processing scripts.
package output

import (
	"fmt"
	"io"

	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/conn"
	"github.com/m-lab/analysetcp/dump"
	"github.com/m-lab/analysetcp/stats"
)

// Report writes the human readable run summary.
type Report struct {
	cfg *config.Config
	w   io.Writer
}

// NewReport returns a report writer.
func NewReport(cfg *config.Config, w io.Writer) *Report {
	return &Report{cfg: cfg, w: w}
}

func (r *Report) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.w, format, args...)
}

// PrintStats writes the per-connection sections and, when aggregation
// is enabled, the aggregate section.
func (r *Report) PrintStats(d *dump.Dump) {
	csAggr := &conn.ConnStats{}
	aggrPackets := stats.NewAggrPacketStats()
	analysed := 0

	for _, c := range d.Conns.Sorted() {
		if c.PoisonErr != nil {
			r.printf("\nConn %s skipped: %v\n", c.Key, c.PoisonErr)
			continue
		}
		cs := &conn.ConnStats{}
		c.AddConnStats(cs)
		if r.cfg.Aggregate {
			c.AddConnStats(csAggr)
			aggrPackets.Add(c.PacketsStats())
		}
		analysed++
		if !r.cfg.AggOnly {
			r.printConn(c, cs)
		}
	}

	if r.cfg.Aggregate && analysed > 0 {
		r.printf("\n==== Aggregate statistics for %d connections ====\n", analysed)
		r.printConnStats(csAggr)
		r.printPacketsStats("Aggregated latency (usec)", &aggrPackets.Aggregated.Latency)
		r.printPacketsStats("Aggregated payload (bytes)", &aggrPackets.Aggregated.PacketLength)
		r.printPacketsStats("Aggregated ITT (usec)", &aggrPackets.Aggregated.ITT)
		r.printRanks("Retransmissions", aggrPackets.Aggregated.Retrans)
		r.printRanks("Duplicate ACKs", aggrPackets.Aggregated.Dupacks)
	}

	r.printWarnings(d)
}

func (r *Report) printConn(c *conn.Connection, cs *conn.ConnStats) {
	r.printf("\n==== Conn %s ====\n", c.Key)
	r.printConnStats(cs)

	ps := c.PacketsStats()
	r.printPacketsStats("ACK latency (usec)", &ps.Latency)
	r.printPacketsStats("Payload size (bytes)", &ps.PacketLength)
	r.printPacketsStats("ITT (usec)", &ps.ITT)
	r.printRanks("Retransmissions", ps.Retrans)
	r.printRanks("Duplicate ACKs", ps.Dupacks)

	if r.cfg.PrintPackets {
		r.printPacketDetails(c)
	}

	if r.cfg.WithRecv {
		r.printf("  Ranges lost                : %d (%d bytes)\n", cs.RangesLost, cs.BytesLost)
		r.printf("  RDB packets hit/miss       : %d / %d\n", cs.RdbPacketHits, cs.RdbPacketMisses)
		r.printf("  RDB bytes hit/miss         : %d / %d\n", cs.RdbByteHits, cs.RdbByteMisses)
		if c.RM.DriftValid {
			fit := c.RM.DriftFit()
			r.printf("  Clock drift                : %.4f ms/s (fit: %v)\n", c.RM.Drift, fit.String())
		} else {
			r.printf("  Clock drift                : not estimated\n")
		}
	}
}

func (r *Report) printConnStats(cs *conn.ConnStats) {
	r.printf("  Duration                   : %d sec (analysed %d-%d)\n",
		cs.Duration, cs.AnalysedStartSec, cs.AnalysedEndSec)
	r.printf("  Bytes sent (unique)        : %d (%d)\n", cs.TotBytesSent, cs.TotUniqueBytesSent)
	r.printf("  Bytes retransmitted        : %d\n", cs.TotRetransBytesSent)
	r.printf("  Redundant bytes            : %d\n", cs.RedundantBytes)
	r.printf("  RDB bytes sent             : %d\n", cs.RdbBytesSent)
	r.printf("  Packets sent (in dump)     : %d (%d)\n", cs.NrPacketsSent, cs.NrPacketsSentFoundInDump)
	r.printf("  Data packets / retrans     : %d / %d\n", cs.NrDataPacketsSent, cs.NrPacketRetrans)
	r.printf("  RDB packets                : %d\n", cs.BundleCount)
	r.printf("  ACKs (pure)                : %d (%d)\n", cs.AckCount, cs.PureAcksCount)
	r.printf("  SYN/FIN/RST                : %d/%d/%d\n", cs.SynCount, cs.FinCount, cs.RstCount)
}

func (r *Report) printPacketsStats(label string, es *stats.ExtendedStats) {
	if !es.Valid || es.Counter() == 0 {
		r.printf("  %-27s: no samples\n", label)
		return
	}
	r.printf("  %-27s: min %d, avg %.1f, max %d, stddev %.1f (%d samples)\n",
		label, es.Min, es.Avg(), es.Max, es.StdDev, es.Counter())
	for _, p := range es.Percentiles {
		r.printf("      %5.1fth percentile      : %.1f\n", p.P, p.Value)
	}
}

func (r *Report) printRanks(label string, v []int) {
	if len(v) == 0 {
		return
	}
	r.printf("  %s:\n", label)
	max := len(v)
	if max > r.cfg.MaxRetransStats {
		max = r.cfg.MaxRetransStats
	}
	for i := 0; i < max; i++ {
		r.printf("      %d. %-24s: %d\n", i+1, label, v[i])
	}
}

// printPacketDetails lists every range of the analysis window with its
// event counters, one line per range.
func (r *Report) printPacketDetails(c *conn.Connection) {
	r.printf("  Packet details:\n")
	start, end := c.RM.AnalysisWindow()
	for i := start; i < end; i++ {
		br := c.RM.Range(i)
		var lo, hi uint64
		if r.cfg.RelativeSeq {
			lo, hi = br.Start, br.End
		} else {
			lo, hi = uint64(c.RM.AbsoluteSeq(br.Start)), uint64(c.RM.AbsoluteSeq(br.End))
		}
		r.printf("    R(%4d): %10d - %10d: snt-pkt:%d, snt-ack:%d, rcv-pkt:%d, sent:%d, rcv:%d, retr-pkt:%d, retr-dta:%d, ACKtime:%d",
			br.NumBytes(), lo, hi,
			br.PacketSentCount, br.AckedSent, br.PacketReceivedCount,
			br.DataSentCount(), br.DataReceivedCount,
			br.PacketRetransCount, br.DataRetransCount,
			br.SendAckTimeDiff())
		if r.cfg.WithRecv {
			r.printf(", RCV: %s", br.RecvType.String())
		}
		if br.SYN > 0 || br.FIN > 0 || br.RST > 0 {
			r.printf(", SYN(%d) FIN(%d) RST(%d)", br.SYN, br.FIN, br.RST)
		}
		r.printf("\n")
	}
}

func (r *Report) printWarnings(d *dump.Dump) {
	total := 0
	for _, c := range d.Conns.Sorted() {
		for kind, n := range c.RM.Warnings {
			if total == 0 {
				r.printf("\nWarnings:\n")
			}
			r.printf("  %s: %s: %d\n", c.Key, kind, n)
			total += n
		}
	}
}
