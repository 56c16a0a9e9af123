package stats

import (
	"sort"

	"github.com/m-lab/analysetcp/tcp"
)

// SojournSample is one queueing delay observation attached to a packet:
// the relative end sequence number of the segment and the time in
// microseconds between entering the kernel send buffer and leaving the
// wire.
type SojournSample struct {
	EndSeq    uint64
	SojournUs int64
}

// PacketStat describes one transmitted packet within the analysis
// window.
type PacketStat struct {
	Kind         tcp.SentKind
	ConnKey      string
	SendTimeUs   int64
	Length       int64
	AckLatencyUs int64
	ITT          int64
	SojournTimes []SojournSample
}

// PacketsStats collects the per-packet entries of one connection along
// with the latency, payload length and inter-transmission time
// distributions derived from them.
type PacketsStats struct {
	Latency      ExtendedStats
	PacketLength ExtendedStats
	ITT          ExtendedStats

	// Retrans[i] counts ranges retransmitted more than i times;
	// Dupacks[i] counts ranges that saw more than i duplicate ACKs.
	Retrans []int
	Dupacks []int

	Packets []PacketStat
}

// NewPacketsStats returns an initialized collection.
func NewPacketsStats() *PacketsStats {
	return &PacketsStats{
		Latency:      NewExtendedStats(),
		PacketLength: NewExtendedStats(),
		ITT:          NewExtendedStats(),
	}
}

// AddPacket appends one per-packet entry.
func (ps *PacketsStats) AddPacket(p PacketStat) {
	ps.Packets = append(ps.Packets, p)
}

// CountRank increments the rank histogram v for each rank below n,
// growing it as needed, and returns it.
func CountRank(v []int, n int) []int {
	for i := len(v); i < n; i++ {
		v = append(v, 0)
	}
	for i := 0; i < n; i++ {
		v[i]++
	}
	return v
}

// FinalizeITT sorts the packets by (connection, send time) and fills
// the ITT of each packet as the delta to the previous send.
func (ps *PacketsStats) FinalizeITT() {
	if len(ps.Packets) == 0 {
		return
	}
	sort.Slice(ps.Packets, func(i, j int) bool {
		if ps.Packets[i].ConnKey != ps.Packets[j].ConnKey {
			return ps.Packets[i].ConnKey < ps.Packets[j].ConnKey
		}
		return ps.Packets[i].SendTimeUs < ps.Packets[j].SendTimeUs
	})
	prev := ps.Packets[0]
	for i := 1; i < len(ps.Packets); i++ {
		itt := ps.Packets[i].SendTimeUs - prev.SendTimeUs
		ps.ITT.Add(itt)
		ps.Packets[i].ITT = itt
		prev = ps.Packets[i]
	}
}

// MakeStats finalizes the three distributions.
func (ps *PacketsStats) MakeStats(percentiles []float64) {
	ps.Latency.MakeStats(percentiles)
	ps.PacketLength.MakeStats(percentiles)
	ps.ITT.MakeStats(percentiles)
}

// HasStats reports whether at least one latency or payload length
// sample was recorded.
func (ps *PacketsStats) HasStats() bool {
	return ps.Latency.Counter() > 0 || ps.PacketLength.Counter() > 0
}

// AggrPacketStats aggregates per-connection PacketsStats, keeping the
// overall distribution plus the distributions of the per-connection
// averages, minima and maxima.
type AggrPacketStats struct {
	Aggregated PacketsStats
	Average    PacketsStats
	Minimum    PacketsStats
	Maximum    PacketsStats
}

// NewAggrPacketStats returns an initialized aggregate.
func NewAggrPacketStats() *AggrPacketStats {
	aggregated := NewPacketsStats()
	aggregated.Latency.isAggregate = true
	aggregated.PacketLength.isAggregate = true
	aggregated.ITT.isAggregate = true
	return &AggrPacketStats{
		Aggregated: *aggregated,
		Average:    *NewPacketsStats(),
		Minimum:    *NewPacketsStats(),
		Maximum:    *NewPacketsStats(),
	}
}

// Add folds one connection's stats into the aggregate.
func (a *AggrPacketStats) Add(bs *PacketsStats) {
	a.Aggregated.Latency.AddToAggregate(&bs.Latency)
	a.Average.Latency.Add(int64(bs.Latency.Avg()))
	a.Minimum.Latency.Add(bs.Latency.Min)
	a.Maximum.Latency.Add(bs.Latency.Max)

	a.Aggregated.PacketLength.AddToAggregate(&bs.PacketLength)
	a.Average.PacketLength.Add(int64(bs.PacketLength.Avg()))
	a.Minimum.PacketLength.Add(bs.PacketLength.Min)
	a.Maximum.PacketLength.Add(bs.PacketLength.Max)

	a.Aggregated.ITT.AddToAggregate(&bs.ITT)
	a.Average.ITT.Add(int64(bs.ITT.Avg()))
	a.Minimum.ITT.Add(bs.ITT.Min)
	a.Maximum.ITT.Add(bs.ITT.Max)

	for i := len(a.Aggregated.Retrans); i < len(bs.Retrans); i++ {
		a.Aggregated.Retrans = append(a.Aggregated.Retrans, 0)
	}
	for i := range bs.Retrans {
		a.Aggregated.Retrans[i] += bs.Retrans[i]
	}
	for i := len(a.Aggregated.Dupacks); i < len(bs.Dupacks); i++ {
		a.Aggregated.Dupacks = append(a.Aggregated.Dupacks, 0)
	}
	for i := range bs.Dupacks {
		a.Aggregated.Dupacks[i] += bs.Dupacks[i]
	}
}
