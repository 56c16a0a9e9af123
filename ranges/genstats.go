package ranges

import (
	"github.com/m-lab/analysetcp/stats"
	"github.com/m-lab/analysetcp/tcp"
)

// GenStats fills bs with the per-packet entries of the analysis window
// and the latency, payload length and inter-transmission time
// distributions derived from them.
func (m *Manager) GenStats(bs *stats.PacketsStats) {
	start, end := m.AnalysisWindow()

	for i := start; i < end; i++ {
		br := m.brs[i]
		byteCount := br.OriginalPayloadSize

		if byteCount > 0 {
			bs.PacketLength.Add(byteCount)
			for r := 0; r < br.NumRetrans(); r++ {
				bs.PacketLength.Add(byteCount)
			}
		}

		for _, ev := range br.SentTstampPcap {
			var ps stats.PacketStat
			switch ev.Kind {
			case tcp.SentPkt:
				ps = stats.PacketStat{
					Kind:       tcp.SentPkt,
					ConnKey:    m.ConnKey,
					SendTimeUs: ev.Time.UnixMicro(),
					Length:     byteCount,
				}
				ps.SojournTimes = br.SojournTimes()
				ps.AckLatencyUs = br.SendAckTimeDiff()
			case tcp.SentRtr:
				// A collapsed retransmit can span several ranges; when
				// the next range carries retransmitted data without a
				// retransmit packet of its own, its bytes belong to
				// this packet.
				length := byteCount
				if i+1 < end {
					next := m.brs[i+1]
					if next.PacketRetransCount < next.DataRetransCount {
						length += int64(next.DataRetransCount) * next.NumBytes()
					}
				}
				ps = stats.PacketStat{
					Kind:       tcp.SentRtr,
					ConnKey:    m.ConnKey,
					SendTimeUs: ev.Time.UnixMicro(),
					Length:     length,
				}
			case tcp.SentPureAck, tcp.SentRst:
				ps = stats.PacketStat{
					Kind:       ev.Kind,
					ConnKey:    m.ConnKey,
					SendTimeUs: ev.Time.UnixMicro(),
				}
			default:
				continue
			}
			bs.AddPacket(ps)
		}

		bs.Dupacks = stats.CountRank(bs.Dupacks, br.DupackCount)

		if latency := br.SendAckTimeDiff(); latency != 0 {
			bs.Latency.Add(latency)
		} else if !br.IsAcked() {
			continue
		}

		bs.Retrans = stats.CountRank(bs.Retrans, br.NumRetrans())
	}

	bs.FinalizeITT()
	bs.MakeStats(m.cfg.PercentileList())
}
