package ranges

import (
	"math"
	"sort"
	"time"

	"github.com/m-lab/analysetcp/stats"
)

// LatencyItem is one (send time, latency) observation tagged with the
// connection it belongs to.  Used both for the ACK latency series and
// the queueing delay variance series.
type LatencyItem struct {
	TimeMs    uint64 `csv:"time_ms"`
	LatencyMs int64  `csv:"latency_ms"`
	ConnKey   string `csv:"stream_id"`
}

// CalculateLatencyVariation derives the one-way delay samples from the
// receiver dump, estimates the clock drift between the capture hosts
// and compensates the samples for it.
func (m *Manager) CalculateLatencyVariation() {
	m.registerRecvDiffs()
	m.calculateClockDrift()
	m.doDriftCompensation()
}

// registerRecvDiffs computes the raw one-way delay sample of every
// received range.  In application-layer mode an out-of-order arrival
// inherits the arrival time of the latest in-sequence range, since
// that is when its bytes became deliverable.
func (m *Manager) registerRecvDiffs() {
	var appAnchor *time.Time
	for _, br := range m.brs {
		if br.DataReceivedCount == 0 {
			continue
		}
		if !m.cfg.Transport && br.AppLayerDelivery {
			t := br.ReceivedTstampPcap
			appAnchor = &t
		}
		br.MatchReceivedType()
		if m.cfg.Transport {
			br.CalculateRecvDiff(nil)
		} else {
			br.CalculateRecvDiff(appAnchor)
		}
	}
}

// calculateClockDrift estimates the clock drift in ms/s from the
// minimum positive delay samples near the start and the end of the
// stream.  With an empty window the drift is left at 0 and a warning
// raised.
func (m *Manager) calculateClockDrift() {
	n := len(m.brs) / 2
	if n > 200 {
		n = 200
	}

	minStart := int64(math.MaxInt64)
	minEnd := int64(math.MaxInt64)
	var tsStart, tsEnd time.Time

	for i := 0; i < n; i++ {
		br := m.brs[i]
		if br.RecvDiff > 0 && br.RecvDiff < minStart {
			if t, ok := br.SendTime(); ok {
				minStart = br.RecvDiff
				tsStart = t
			}
		}
	}
	for i := 0; i < n; i++ {
		br := m.brs[len(m.brs)-1-i]
		if br.RecvDiff > 0 && br.RecvDiff < minEnd {
			if t, ok := br.SendTime(); ok {
				minEnd = br.RecvDiff
				tsEnd = t
			}
		}
	}

	if tsStart.IsZero() || tsEnd.IsZero() {
		m.warn("drift_window_empty", "no positive delay samples to estimate clock drift from")
		m.Drift = 0
		m.DriftValid = false
		return
	}

	durationSec := tsEnd.Sub(tsStart).Seconds()
	if durationSec == 0 {
		m.Drift = 0
		m.DriftValid = false
		return
	}
	m.Drift = float64(minEnd-minStart) / durationSec
	m.DriftValid = true
}

// DriftFit fits delay against time over all positive samples; the
// report prints its slope and R2 next to the window-based estimate.
func (m *Manager) DriftFit() stats.LinReg {
	var fit stats.LinReg
	for _, br := range m.brs {
		if br.RecvDiff > 0 {
			fit.Add(m.Duration(br), float64(br.RecvDiff))
		}
	}
	return fit
}

// doDriftCompensation subtracts the linear drift from every positive
// delay sample in the analysis window and recomputes the minimum.
func (m *Manager) doDriftCompensation() {
	m.LowestRecvDiff = math.MaxInt64
	start, end := m.AnalysisWindow()
	for i := start; i < end; i++ {
		br := m.brs[i]
		diff := float64(br.RecvDiff)
		if diff > 0 {
			diff -= m.Drift * m.Duration(br)
			br.RecvDiff = int64(diff)
		}
		if br.DataReceivedCount > 0 && br.RecvDiff < m.LowestRecvDiff {
			m.LowestRecvDiff = br.RecvDiff
		}
	}
	if m.LowestRecvDiff == math.MaxInt64 {
		m.LowestRecvDiff = 0
	}
}

// ByteLatencyVariationCDF returns the ordered (delay variation ms,
// byte count) pairs over the analysis window.  Delays are relative to
// the lowest observed sample.
func (m *Manager) ByteLatencyVariationCDF() ([]int64, map[int64]int64) {
	values := make(map[int64]int64)
	start, end := m.AnalysisWindow()
	for i := start; i < end; i++ {
		br := m.brs[i]
		if br.DataReceivedCount == 0 {
			continue
		}
		diff := br.RecvDiff - m.LowestRecvDiff
		values[diff] += br.NumBytes()
	}
	keys := make([]int64, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, values
}

// AckLatencyData buckets the ACK latency of each range by its
// retransmission rank.  Index 0 holds every sample; index r holds the
// samples of ranges retransmitted r times, capped by the configured
// histogram length.
func (m *Manager) AckLatencyData(firstTstampMs uint64) [][]LatencyItem {
	out := make([][]LatencyItem, 1)
	start, end := m.AnalysisWindow()
	for i := start; i < end; i++ {
		br := m.brs[i]
		ackTimeUs := br.SendAckTimeDiff()
		if ackTimeUs <= 0 {
			continue
		}
		sendTime, _ := br.SendTime()
		item := LatencyItem{
			TimeMs:    uint64(sendTime.UnixMilli()) - firstTstampMs,
			LatencyMs: ackTimeUs / 1000,
			ConnKey:   m.ConnKey,
		}
		rank := br.NumRetrans()
		if rank > m.cfg.MaxRetransStats {
			rank = m.cfg.MaxRetransStats
		}
		for len(out) <= rank {
			out = append(out, nil)
		}
		out[0] = append(out[0], item)
		if rank > 0 {
			out[rank] = append(out[rank], item)
		}
	}
	return out
}

// QueueingDelayItems returns the per-range delay variation over send
// time, for the one-way delay variance output.
func (m *Manager) QueueingDelayItems(firstTstampMs uint64) []LatencyItem {
	var out []LatencyItem
	start, end := m.AnalysisWindow()
	for i := start; i < end; i++ {
		br := m.brs[i]
		if br.DataReceivedCount == 0 {
			continue
		}
		diff := br.RecvDiff - m.LowestRecvDiff
		if diff < 0 {
			continue
		}
		idx := br.SendTcpStampRecvIndex
		if idx >= len(br.SentTstampPcap) {
			continue
		}
		ts := uint64(br.SentTstampPcap[idx].Time.UnixMilli())
		out = append(out, LatencyItem{TimeMs: ts - firstTstampMs, LatencyMs: diff, ConnKey: m.ConnKey})
	}
	return out
}
