// Package ranges implements the byte range bookkeeping engine: a
// per-connection partitioned ordered map of byte ranges that together
// cover the transmitted byte stream.  Each range records when its bytes
// were first sent, resent (regular retransmit vs. RDB bundle), first
// acknowledged and, when a receiver dump is available, received.
// Ranges are split dynamically when new observations intersect existing
// ones at off-boundary offsets.
package ranges

import (
	"time"

	"github.com/m-lab/analysetcp/stats"
	"github.com/m-lab/analysetcp/tcp"
)

// RecvType classifies which transmission of a range arrived at the
// receiver first.
type RecvType uint8

const (
	// RecvDef means no arrival could be matched.
	RecvDef RecvType = iota
	// RecvData means the first transmission arrived.
	RecvData
	// RecvRDB means an RDB bundled copy arrived first.
	RecvRDB
	// RecvRetr means a retransmitted copy arrived first.
	RecvRetr
)

var recvTypeNames = []string{"DEF", "DTA", "RDB", "RTR"}

func (r RecvType) String() string {
	return recvTypeNames[r]
}

// SentEvent is one wire transmission covering a range.
type SentEvent struct {
	Time time.Time
	Kind tcp.SentKind
}

// TSPair is a TCP timestamp option value with its echo, plus the index
// of the matching entry in SentTstampPcap so a receiver-side arrival
// can be traced back to the wire send that produced it.
type TSPair struct {
	Val       uint32
	Echo      uint32
	PcapIndex int
}

// LostEvent records a transmission that never showed up in the
// receiver dump.
type LostEvent struct {
	TstampTCP uint32
	SentPcap  time.Time
}

// SojournEntry is a kernel-entry timestamp for the segment ending at
// SubEndSeq within this range.
type SojournEntry struct {
	SubEndSeq     uint64
	EnteredKernel time.Time
}

// ByteRange is a maximal contiguous interval [Start, End) in relative
// sequence space whose bytes share the same set of send events.  A
// zero-length range anchors pure control packets (SYN/FIN/RST/ACK) at
// a sequence boundary.
type ByteRange struct {
	Start uint64
	End   uint64

	PacketSentCount     int
	PacketRetransCount  int
	DataRetransCount    int
	RdbCount            int
	AckedSent           int
	AckCount            int
	DupackCount         int
	PacketReceivedCount int
	DataReceivedCount   int

	SYN int
	FIN int
	RST int

	SentTstampPcap []SentEvent
	TstampsTCP     []TSPair
	RdbTstampsTCP  []TSPair

	AckTstamp          time.Time
	ReceivedTstampPcap time.Time
	ReceivedTstampTCP  uint32
	// AppLayerDelivery is set when the first arrival was in sequence,
	// so its timestamp is also when the data could reach the
	// application.
	AppLayerDelivery bool
	LostTstampsTCP     []LostEvent
	SojournTstamps     []SojournEntry

	// Filled by received-type matching and statistics generation.
	RecvDiff              int64 // one-way delay sample, milliseconds
	RecvType              RecvType
	SendTcpStampRecvIndex int
	OriginalPayloadSize   int64
	OriginalPacketIsRdb   bool
	TCPWindow             uint16

	RdbByteMiss int
	RdbByteHits int
}

// NewByteRange returns a range covering [start, end).
func NewByteRange(start, end uint64) *ByteRange {
	return &ByteRange{Start: start, End: end}
}

// NumBytes returns the byte count of the range, 0 for control-only
// anchor ranges.
func (br *ByteRange) NumBytes() int64 {
	if br.End <= br.Start {
		return 0
	}
	return int64(br.End - br.Start)
}

// SplitEnd truncates the range to [Start, at) and returns a new range
// [at, newEnd) with zero counts, zero flags and no recorded events.
// The caller must insert the returned range into the map.
func (br *ByteRange) SplitEnd(at, newEnd uint64) *ByteRange {
	br.End = at
	return NewByteRange(at, newEnd)
}

// IncreaseSent records one wire transmission.  RDB bundled data keeps
// its TCP timestamps in a separate vector so receiver-side matching can
// tell a bundle arrival from a regular one.
func (br *ByteRange) IncreaseSent(tstampTCP, tstampEcho uint32, tstampPcap time.Time, isRdbData bool, kind tcp.SentKind) {
	pcapIdx := len(br.SentTstampPcap)
	if isRdbData {
		br.RdbTstampsTCP = append(br.RdbTstampsTCP, TSPair{Val: tstampTCP, Echo: tstampEcho, PcapIndex: pcapIdx})
	} else {
		br.TstampsTCP = append(br.TstampsTCP, TSPair{Val: tstampTCP, Echo: tstampEcho, PcapIndex: pcapIdx})
	}
	br.SentTstampPcap = append(br.SentTstampPcap, SentEvent{Time: tstampPcap, Kind: kind})

	switch kind {
	case tcp.SentPkt:
		br.PacketSentCount++
	case tcp.SentRtr:
		br.PacketRetransCount++
	case tcp.SentPureAck:
		br.AckedSent++
	}
}

// IncreaseReceived records one receiver-side arrival.  Only the first
// arrival pins the receive timestamps.
func (br *ByteRange) IncreaseReceived(tstampTCP uint32, tstampPcap time.Time, inSequence bool) {
	if br.DataReceivedCount == 0 {
		br.ReceivedTstampPcap = tstampPcap
		br.ReceivedTstampTCP = tstampTCP
		br.AppLayerDelivery = inSequence
	}
	br.DataReceivedCount++
}

// IsAcked reports whether the first cumulative ACK covering this range
// has been recorded.
func (br *ByteRange) IsAcked() bool {
	return !br.AckTstamp.IsZero()
}

// InsertAckTime sets the ACK timestamp; later calls are ignored.
func (br *ByteRange) InsertAckTime(t time.Time) {
	if br.IsAcked() {
		return
	}
	br.AckTstamp = t
}

// AddSegmentEnteredKernelTime attaches a sojourn sample when subEndSeq
// falls inside (Start, End].
func (br *ByteRange) AddSegmentEnteredKernelTime(subEndSeq uint64, t time.Time) bool {
	if subEndSeq <= br.Start || subEndSeq > br.End {
		return false
	}
	br.SojournTstamps = append(br.SojournTstamps, SojournEntry{SubEndSeq: subEndSeq, EnteredKernel: t})
	return true
}

// SendTime returns the pcap timestamp of the first wire transmission.
func (br *ByteRange) SendTime() (time.Time, bool) {
	if len(br.SentTstampPcap) == 0 {
		return time.Time{}, false
	}
	return br.SentTstampPcap[0].Time, true
}

// SendAckTimeDiff returns the ACK latency in microseconds, 0 when the
// range was never acked or carries no send event of its own.
func (br *ByteRange) SendAckTimeDiff() int64 {
	sendTime, ok := br.SendTime()
	if !ok || !br.IsAcked() {
		return 0
	}
	return br.AckTstamp.Sub(sendTime).Microseconds()
}

// DataSentCount returns the number of wire transmissions carrying this
// range's bytes, including retransmits and RDB bundles.
func (br *ByteRange) DataSentCount() int {
	return len(br.TstampsTCP) + len(br.RdbTstampsTCP)
}

// NumRetrans returns how many times this range's data was
// retransmitted.
func (br *ByteRange) NumRetrans() int {
	return br.DataRetransCount
}

// SojournTimes returns the queueing delay samples as (segment end seq,
// microseconds between kernel entry and the first wire send).
func (br *ByteRange) SojournTimes() []stats.SojournSample {
	if len(br.SojournTstamps) == 0 {
		return nil
	}
	sendTime, ok := br.SendTime()
	if !ok {
		return nil
	}
	out := make([]stats.SojournSample, 0, len(br.SojournTstamps))
	for _, s := range br.SojournTstamps {
		out = append(out, stats.SojournSample{
			EndSeq:    s.SubEndSeq,
			SojournUs: sendTime.Sub(s.EnteredKernel).Microseconds(),
		})
	}
	return out
}

// MatchReceivedType classifies which transmission arrived at the
// receiver by matching the received TCP timestamp against the sent
// ones, fills SendTcpStampRecvIndex, and collects the timestamps of
// transmissions that never arrived.  Returns false when no sent
// timestamp matches the arrival.
func (br *ByteRange) MatchReceivedType() bool {
	br.RecvType = RecvDef
	if br.DataReceivedCount == 0 {
		br.collectLost(-1)
		return false
	}
	for i, ts := range br.TstampsTCP {
		if ts.Val != br.ReceivedTstampTCP {
			continue
		}
		if i == 0 && br.SentTstampPcap[ts.PcapIndex].Kind != tcp.SentRtr {
			br.RecvType = RecvData
		} else {
			br.RecvType = RecvRetr
		}
		br.SendTcpStampRecvIndex = ts.PcapIndex
		br.collectLost(ts.PcapIndex)
		return true
	}
	for _, ts := range br.RdbTstampsTCP {
		if ts.Val != br.ReceivedTstampTCP {
			continue
		}
		br.RecvType = RecvRDB
		br.SendTcpStampRecvIndex = ts.PcapIndex
		br.collectLost(ts.PcapIndex)
		return true
	}
	br.collectLost(-1)
	return false
}

// collectLost fills LostTstampsTCP with the sent copies that were not
// seen by the receiver.  The matched arrival (recvIdx into the pcap
// vector) is excluded; beyond that, the first sent-minus-received
// unmatched copies are taken, regular copies first and then RDB
// bundled copies, each group in send order.
func (br *ByteRange) collectLost(recvIdx int) {
	if br.NumBytes() == 0 {
		return
	}
	lost := br.DataSentCount() - br.DataReceivedCount
	if lost <= 0 {
		return
	}
	br.LostTstampsTCP = br.LostTstampsTCP[:0]
	add := func(ts TSPair) {
		if len(br.LostTstampsTCP) < lost && ts.PcapIndex != recvIdx {
			br.LostTstampsTCP = append(br.LostTstampsTCP, LostEvent{
				TstampTCP: ts.Val,
				SentPcap:  br.SentTstampPcap[ts.PcapIndex].Time,
			})
		}
	}
	for _, ts := range br.TstampsTCP {
		add(ts)
	}
	for _, ts := range br.RdbTstampsTCP {
		add(ts)
	}
}

// CalculateRecvDiff computes the one-way delay sample in milliseconds.
// In application-layer mode, appAnchor (the latest in-order receiver
// timestamp) stands in for the arrival time of ranges delivered to the
// application late; transport mode always uses the range's own arrival.
func (br *ByteRange) CalculateRecvDiff(appAnchor *time.Time) {
	if br.DataReceivedCount == 0 {
		return
	}
	recvTime := br.ReceivedTstampPcap
	if appAnchor != nil && appAnchor.After(recvTime) {
		recvTime = *appAnchor
	}
	idx := br.SendTcpStampRecvIndex
	if idx >= len(br.SentTstampPcap) {
		idx = 0
	}
	if len(br.SentTstampPcap) == 0 {
		return
	}
	br.RecvDiff = recvTime.Sub(br.SentTstampPcap[idx].Time).Milliseconds()
}
