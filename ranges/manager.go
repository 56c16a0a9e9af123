package ranges

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/metrics"
	"github.com/m-lab/analysetcp/tcp"
	"github.com/m-lab/go/logx"
)

// How deep a single segment may chain across existing ranges before the
// trace is considered hostile.
const recursionLimit = 1500

var (
	// ErrRecursionTooDeep means one segment chained across more ranges
	// than the recursion limit allows.
	ErrRecursionTooDeep = fmt.Errorf("insert recursion too deep")
	// ErrInvariantViolation means the range map failed validation.
	ErrInvariantViolation = fmt.Errorf("range map invariant violated")
)

var (
	sparseLogger = log.New(os.Stdout, "ranges: ", log.LstdFlags|log.Lshortfile)
	sparseWarn   = logx.NewLogEvery(sparseLogger, 500*time.Millisecond)
)

// InsertType selects which kind of observation insertByteRange records.
type InsertType uint8

const (
	// InsertSent is a sender-side transmission.
	InsertSent InsertType = iota
	// InsertRecv is a receiver-side arrival.
	InsertRecv
	// InsertSojourn is a kernel-entry timestamp sample.
	InsertSojourn
)

// Manager owns the ordered byte range map of one direction of one
// connection.  Ranges are held in a slice sorted by start sequence with
// unique starts; cursors are plain indices that are fixed up on insert,
// so they survive splits.
type Manager struct {
	cfg     *config.Config
	ConnKey string

	brs []*ByteRange

	FirstSeq uint32
	LastSeq  uint64

	highestAcked int // index into brs, -1 while nothing is acked

	// RedundantBytes counts bytes carried by segments whose whole
	// interval had been registered before.
	RedundantBytes int64

	// Analysis window, [start, end) indices into brs.
	analyseStart, analyseEnd int
	AnalyseTimeSecStart      uint32
	AnalyseTimeSecEnd        uint32

	// Counters over the analysis window, filled by CalculateRealLoss.
	AnalysedSentRangesCount          int
	AnalysedRedundantBytes           int64
	AnalysedDataPacketCount          int
	AnalysedRetrNoPayloadPacketCount int
	AnalysedSynCount                 int
	AnalysedFinCount                 int
	AnalysedRstCount                 int
	AnalysedPureAcksCount            int
	AnalysedRdbPacketCount           int
	AnalysedBytesSent                int64
	AnalysedBytesSentUnique          int64
	AnalysedBytesRetransmitted       int64
	AnalysedPacketSentCount          int
	AnalysedPacketSentCountInDump    int
	AnalysedPacketReceivedCount      int
	AnalysedRetrPacketCount          int
	AnalysedAckCount                 int
	AnalysedMaxRangePayload          int64
	AnalysedLostRangesCount          int
	AnalysedLostBytes                int64
	LostPackets                      int

	RdbPacketHits   int
	RdbPacketMisses int
	RdbByteHits     int
	RdbByteMiss     int

	// One-way delay state, filled by CalculateLatencyVariation.
	LowestRecvDiff int64
	Drift          float64 // ms/s
	DriftValid     bool

	// Warnings counts non-fatal anomalies by kind for the end-of-run
	// summary.
	Warnings map[string]int
}

// NewManager returns an empty range map for a direction anchored at
// firstSeq.
func NewManager(cfg *config.Config, connKey string, firstSeq uint32) *Manager {
	return &Manager{
		cfg:          cfg,
		ConnKey:      connKey,
		FirstSeq:     firstSeq,
		highestAcked: -1,
		Warnings:     make(map[string]int),
	}
}

func (m *Manager) warn(kind, format string, args ...interface{}) {
	m.Warnings[kind]++
	metrics.WarningCount.WithLabelValues(kind).Inc()
	sparseWarn.Printf("%s: %s: %s", m.ConnKey, kind, fmt.Sprintf(format, args...))
}

// AbsoluteSeq converts a relative sequence number back to the 32-bit
// value that appeared in the TCP header.
func (m *Manager) AbsoluteSeq(rel uint64) uint32 {
	return uint32(uint64(m.FirstSeq) + rel)
}

// NumRanges returns the number of byte ranges in the map.
func (m *Manager) NumRanges() int {
	return len(m.brs)
}

// NumBytes returns the number of unique bytes covered by the map.
func (m *Manager) NumBytes() int64 {
	return int64(m.LastSeq)
}

// Range returns the i-th range in ascending start order.
func (m *Manager) Range(i int) *ByteRange {
	return m.brs[i]
}

// LastRange returns the range with the highest start, nil when empty.
func (m *Manager) LastRange() *ByteRange {
	if len(m.brs) == 0 {
		return nil
	}
	return m.brs[len(m.brs)-1]
}

// HighestAcked returns the range the ACK cursor sits on, nil while
// nothing is acked.
func (m *Manager) HighestAcked() *ByteRange {
	if m.highestAcked < 0 {
		return nil
	}
	return m.brs[m.highestAcked]
}

// find returns the index of the range starting exactly at start.
func (m *Manager) find(start uint64) (int, bool) {
	i := sort.Search(len(m.brs), func(i int) bool { return m.brs[i].Start >= start })
	if i < len(m.brs) && m.brs[i].Start == start {
		return i, true
	}
	return i, false
}

// insert places br into the slice, keeping it sorted and starts unique.
// Cursors at or past the insertion point are shifted.
func (m *Manager) insert(br *ByteRange) error {
	i, ok := m.find(br.Start)
	if ok {
		return fmt.Errorf("%w: duplicate start %d", ErrInvariantViolation, br.Start)
	}
	m.brs = append(m.brs, nil)
	copy(m.brs[i+1:], m.brs[i:])
	m.brs[i] = br
	if m.highestAcked >= i {
		m.highestAcked++
	}
	if m.analyseEnd > 0 {
		if m.analyseStart >= i {
			m.analyseStart++
		}
		m.analyseEnd++
	}
	return nil
}

// InsertSentRange registers one sender-side segment and advances the
// send edge.
func (m *Manager) InsertSentRange(seg *tcp.DataSeg) error {
	start, end := seg.Seq, seg.EndSeq
	if err := m.insertByteRange(start, end, InsertSent, seg, 0); err != nil {
		return err
	}

	switch {
	case seg.PayloadSize == 0:
		// First or second packet in the stream, or a pure ACK.
		if !seg.Flags.RST() && end >= m.LastSeq {
			m.LastSeq = end
			if seg.Flags.SYN() {
				m.LastSeq++
			}
		}
	case start == m.LastSeq:
		// Next packet in sequence.
		m.LastSeq = start + uint64(seg.PayloadSize)
	case start > m.LastSeq:
		// A sent byte is missing from the trace: tcpdump dropped
		// packets while collecting it.
		if m.cfg.ValidateRanges {
			m.warn("trace_gap", "expected seq %d but got %d", m.LastSeq, start)
		}
		m.LastSeq = start + uint64(seg.PayloadSize)
	default: // start < m.LastSeq: some kind of overlap
		if end <= m.LastSeq {
			// All bytes were registered before: retransmission.
			m.RedundantBytes += int64(end - start)
		} else {
			// Old and new bytes: RDB bundle.
			m.LastSeq = start + uint64(seg.PayloadSize)
		}
	}
	return nil
}

// InsertReceivedRange registers one receiver-side segment.
func (m *Manager) InsertReceivedRange(seg *tcp.DataSeg) error {
	return m.insertByteRange(seg.Seq, seg.EndSeq, InsertRecv, seg, 0)
}

// InsertSojournRange attaches the segment's kernel-entry time to the
// ranges covering it.
func (m *Manager) InsertSojournRange(seg *tcp.DataSeg) error {
	return m.insertByteRange(seg.Seq, seg.EndSeq, InsertSojourn, seg, 0)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// insertByteRange records one observation of [start, end).  Only the
// level-0 call bumps per-packet counters so a segment that chains
// across several ranges is counted once.
func (m *Manager) insertByteRange(start, end uint64, itype InsertType, seg *tcp.DataSeg, level int) error {
	thisIsRdbData := seg.IsRdb && seg.RdbEndSeq > start

	if start == end && !seg.Flags.SYN() && !seg.Flags.FIN() && !seg.Flags.RST() {
		// A pure ACK one sequence number past the start of an existing
		// range (such as the zero-length anchor of a SYN, which consumes
		// one sequence number) is folded into that range.
		if _, ok := m.find(start - 1); ok {
			start--
			end = start
		}
	}

	idx, found := m.find(start)
	if !found {
		return m.insertNewStart(idx, start, end, itype, seg, level, thisIsRdbData)
	}
	cur := m.brs[idx]

	// Zero payload on an existing boundary: SYN/FIN retries, RSTs and
	// pure ACKs.
	if start == end {
		switch itype {
		case InsertSent:
			var kind tcp.SentKind
			switch {
			case seg.Flags.SYN() || seg.Flags.FIN():
				cur.SYN += b2i(seg.Flags.SYN())
				cur.FIN += b2i(seg.Flags.FIN())
				kind = tcp.SentRtr
			case seg.Flags.RST():
				cur.RST++
				kind = tcp.SentRst
			default:
				kind = tcp.SentPureAck
			}
			cur.IncreaseSent(seg.TstampTCP, seg.TstampTCPEcho, seg.TstampPcap, thisIsRdbData, kind)
		case InsertRecv:
			if seg.Flags.SYN() || seg.Flags.FIN() {
				cur.IncreaseReceived(seg.TstampTCP, seg.TstampPcap, seg.InSequence)
			}
			if level == 0 {
				cur.PacketReceivedCount++
			}
		case InsertSojourn:
			m.warn("sojourn_unmatched", "zero length sojourn sample at %d", start)
		}
		return nil
	}

	if cur.End != end {
		if cur.End < end {
			// The segment spans multiple ranges.
			switch itype {
			case InsertSent:
				if cur.NumBytes() == 0 && idx == len(m.brs)-1 {
					// The last range only saw pure ACKs; reuse it for
					// the data instead of leaving a zero-length hole.
					cur.End = end
					cur.OriginalPayloadSize = cur.NumBytes()
					cur.IncreaseSent(seg.TstampTCP, seg.TstampTCPEcho, seg.TstampPcap, thisIsRdbData, tcp.SentPkt)
					return nil
				}
				kind := tcp.SentNone
				if level == 0 {
					kind = tcp.SentPkt
					if seg.Retrans {
						kind = tcp.SentRtr
					}
					if seg.Flags.FIN() {
						cur.FIN++
					}
				}
				cur.IncreaseSent(seg.TstampTCP, seg.TstampTCPEcho, seg.TstampPcap, thisIsRdbData, kind)
				cur.DataRetransCount += b2i(seg.Retrans)
				cur.RdbCount += b2i(seg.IsRdb)
			case InsertRecv:
				cur.IncreaseReceived(seg.TstampTCP, seg.TstampPcap, seg.InSequence)
				if level == 0 {
					cur.PacketReceivedCount++
				}
			case InsertSojourn:
				cur.AddSegmentEnteredKernelTime(cur.End, seg.TstampPcap)
				if idx == len(m.brs)-1 {
					// Nothing after this range to attach the rest to.
					return nil
				}
			}
			if level > recursionLimit {
				return fmt.Errorf("%w: seq %d, end seq %d, type %d", ErrRecursionTooDeep, start, end, itype)
			}
			return m.insertByteRange(cur.End, end, itype, seg, level+1)
		}

		// The segment ends inside the range: split, record on the
		// prefix.  Sojourn samples never split.
		if itype == InsertSojourn {
			cur.AddSegmentEnteredKernelTime(end, seg.TstampPcap)
			return nil
		}
		nb := cur.SplitEnd(end, cur.End)
		switch itype {
		case InsertSent:
			kind := tcp.SentNone
			if level == 0 {
				kind = tcp.SentPkt
				if seg.Retrans {
					kind = tcp.SentRtr
				}
				if seg.Flags.FIN() {
					cur.FIN++
				}
			}
			cur.DataRetransCount += b2i(seg.Retrans)
			cur.RdbCount += b2i(seg.IsRdb)
			cur.IncreaseSent(seg.TstampTCP, seg.TstampTCPEcho, seg.TstampPcap, thisIsRdbData, kind)
		case InsertRecv:
			cur.IncreaseReceived(seg.TstampTCP, seg.TstampPcap, seg.InSequence)
			if level == 0 {
				cur.PacketReceivedCount++
			}
		}
		return m.insert(nb)
	}

	// Exact duplicate of an existing range.
	switch itype {
	case InsertSent:
		kind := tcp.SentNone
		if level == 0 {
			kind = tcp.SentPkt
			if seg.Retrans {
				kind = tcp.SentRtr
			}
			if seg.Flags.FIN() {
				cur.FIN++
			}
		}
		cur.IncreaseSent(seg.TstampTCP, seg.TstampTCPEcho, seg.TstampPcap, thisIsRdbData, kind)
		cur.DataRetransCount += b2i(seg.Retrans)
		cur.RdbCount += b2i(seg.IsRdb)
		if seg.Flags.SYN() {
			cur.SYN++
		}
	case InsertRecv:
		cur.IncreaseReceived(seg.TstampTCP, seg.TstampPcap, seg.InSequence)
		if level == 0 {
			cur.PacketReceivedCount++
		}
	case InsertSojourn:
		cur.AddSegmentEnteredKernelTime(end, seg.TstampPcap)
	}
	return nil
}

// insertNewStart handles the case where no range starts at start: new
// data past the send edge, a retransmit or RDB bundle starting inside
// an existing range, or receiver-only data.
func (m *Manager) insertNewStart(idx int, start, end uint64, itype InsertType, seg *tcp.DataSeg, level int, thisIsRdbData bool) error {
	// Pure control packet with no anchor range yet.
	if start == end {
		br := NewByteRange(start, end)
		switch itype {
		case InsertSent:
			br.PacketRetransCount += b2i(seg.Retrans)
			br.RdbCount += b2i(seg.IsRdb)
			kind := tcp.SentPureAck
			switch {
			case seg.Flags.SYN():
				br.SYN = 1
				kind = tcp.SentPkt
			case seg.Flags.FIN():
				br.FIN = 1
				kind = tcp.SentPkt
			case seg.Flags.RST():
				br.RST = 1
				kind = tcp.SentPkt
			}
			br.IncreaseSent(seg.TstampTCP, seg.TstampTCPEcho, seg.TstampPcap, thisIsRdbData, kind)
		case InsertRecv:
			br.IncreaseReceived(seg.TstampTCP, seg.TstampPcap, seg.InSequence)
			if level == 0 {
				br.PacketReceivedCount++
			}
		case InsertSojourn:
			m.warn("sojourn_unmatched", "sojourn sample for unsent seq %d", start)
			return nil
		}
		return m.insert(br)
	}

	// Retransmitted data or a packet carrying RDB data: the interval
	// intersects existing ranges, so find the covering one and split.
	if start < m.LastSeq {
		low := idx
		if low > 0 {
			low--
		}
		for i := low; i < len(m.brs) && m.brs[i].Start <= end; i++ {
			cur := m.brs[i]
			if cur.Start > start || start > cur.End {
				continue
			}
			return m.splitAndRecord(cur, start, end, itype, seg, level, thisIsRdbData)
		}
	}

	switch itype {
	case InsertSent:
		// Fresh data at or beyond the send edge.
		br := NewByteRange(start, end)
		br.OriginalPayloadSize = int64(seg.PayloadSize)
		br.OriginalPacketIsRdb = seg.IsRdb
		kind := tcp.SentPkt
		if seg.IsRdb {
			// The bundled part of the packet was already counted.
			kind = tcp.SentNone
		}
		br.IncreaseSent(seg.TstampTCP, seg.TstampTCPEcho, seg.TstampPcap, thisIsRdbData, kind)
		if seg.Flags.SYN() {
			br.SYN = 1
		} else if seg.Flags.FIN() {
			br.FIN = 1
		}
		return m.insert(br)
	case InsertRecv:
		if start > m.LastSeq {
			// Data arrived at the receiver that the sender dump never
			// saw.  Keep it as a receiver-only range.
			m.warn("unknown_received_bytes", "received [%d,%d) beyond send edge %d", start, end, m.LastSeq)
			br := NewByteRange(start, end)
			br.OriginalPayloadSize = int64(seg.PayloadSize)
			br.IncreaseReceived(seg.TstampTCP, seg.TstampPcap, seg.InSequence)
			if level == 0 {
				br.PacketReceivedCount++
			}
			if seg.Flags.SYN() {
				br.SYN = 1
			} else if seg.Flags.FIN() {
				br.FIN = 1
			}
			return m.insert(br)
		}
		m.warn("unknown_received_bytes", "received [%d,%d) matches no sent range", start, end)
		return nil
	default:
		m.warn("sojourn_unmatched", "sojourn sample matches no range: [%d,%d)", start, end)
		return nil
	}
}

// splitAndRecord subdivides cur so a subrange matching [start, end)
// exists, records the observation on it, and chains into the following
// ranges when the segment extends past cur.
func (m *Manager) splitAndRecord(cur *ByteRange, start, end uint64, itype InsertType, seg *tcp.DataSeg, level int, thisIsRdbData bool) error {
	if itype == InsertSojourn {
		// Sojourn samples attach without splitting.
		switch {
		case end == cur.End:
			cur.AddSegmentEnteredKernelTime(seg.EndSeq, seg.TstampPcap)
		case end < cur.End:
			cur.AddSegmentEnteredKernelTime(end, seg.TstampPcap)
		default:
			if level > recursionLimit {
				return fmt.Errorf("%w: sojourn seq %d, end seq %d", ErrRecursionTooDeep, start, end)
			}
			return m.insertByteRange(cur.End, end, itype, seg, level+1)
		}
		return nil
	}

	var target *ByteRange
	recurseFrom := uint64(0)
	switch {
	case end == cur.End:
		nb := cur.SplitEnd(start, cur.End)
		if seg.Flags.FIN() {
			nb.FIN = 1
		}
		if err := m.insert(nb); err != nil {
			return err
		}
		target = nb
	case end < cur.End:
		// The segment sits in the middle: split twice.
		nb := cur.SplitEnd(start, cur.End)
		if seg.Flags.FIN() {
			nb.FIN = 1
		}
		tail := nb.SplitEnd(end, nb.End)
		if err := m.insert(nb); err != nil {
			return err
		}
		if err := m.insert(tail); err != nil {
			return err
		}
		target = nb
	default:
		// The segment extends past cur: split off the tail and chain.
		nb := cur.SplitEnd(start, cur.End)
		if err := m.insert(nb); err != nil {
			return err
		}
		target = nb
		recurseFrom = nb.End
	}

	switch itype {
	case InsertSent:
		kind := tcp.SentNone
		if level == 0 {
			kind = tcp.SentRtr
		}
		target.IncreaseSent(seg.TstampTCP, seg.TstampTCPEcho, seg.TstampPcap, thisIsRdbData, kind)
		target.DataRetransCount++
		target.RdbCount += b2i(seg.IsRdb)
	case InsertRecv:
		target.IncreaseReceived(seg.TstampTCP, seg.TstampPcap, seg.InSequence)
		if level == 0 {
			target.PacketReceivedCount++
		}
	}

	if recurseFrom != 0 {
		if level > recursionLimit {
			return fmt.Errorf("%w: seq %d, end seq %d, type %d", ErrRecursionTooDeep, start, end, itype)
		}
		return m.insertByteRange(recurseFrom, end, itype, seg, level+1)
	}
	return nil
}

// ProcessAck registers the first ACK time for the bytes the ACK
// covers.  The walk starts from the cached cursor, which never moves
// backward, so processing a trace's ACK stream is amortized linear.
func (m *Manager) ProcessAck(seg *tcp.DataSeg) bool {
	if len(m.brs) == 0 {
		return false
	}
	ack := seg.Ack
	it := m.highestAcked
	if it < 0 {
		it = 0
	}

	// Everything covered by this ACK was acked before.
	if ack < m.brs[it].Start {
		return true
	}

	ret := false
	for ; it < len(m.brs); it++ {
		cur := m.brs[it]

		// The ACK covers exactly up to this range.  A zero-length
		// anchor (SYN and FIN consume one sequence number) matches at
		// ack-1.
		if ack == cur.End || (cur.NumBytes() == 0 && ack-1 == cur.End) {
			if !cur.IsAcked() {
				cur.TCPWindow = seg.Window
				if cur.NumBytes() == 0 {
					// Probably the closing ACK exchange.  When the
					// range's own outgoing ACK echoes the timestamp we
					// are processing, this segment acknowledges that
					// ACK, not the range.
					if len(cur.TstampsTCP) > 0 && cur.TstampsTCP[0].Echo != seg.TstampTCP {
						cur.InsertAckTime(seg.TstampPcap)
					}
				} else {
					cur.InsertAckTime(seg.TstampPcap)
				}
			} else if it == m.highestAcked {
				if seg.Window > 0 && seg.Window == cur.TCPWindow {
					cur.DupackCount++
				} else {
					cur.TCPWindow = seg.Window
				}
			}
			cur.AckCount++
			cur.TCPWindow = seg.Window
			m.highestAcked = it
			return true
		}

		// The ACK covers more than this range: ack it and continue.
		if ack > cur.End {
			if st, ok := cur.SendTime(); ok && seg.TstampPcap.Before(st) {
				m.warn("ack_before_send", "ack %d observed before the send it covers", ack)
				return false
			}
			if !cur.IsAcked() {
				cur.InsertAckTime(seg.TstampPcap)
				ret = true
			}
			m.highestAcked = it
			continue
		}

		// The ACK lands inside this range: split at the ACK.
		if ack > cur.Start && ack < cur.End {
			nb := cur.SplitEnd(ack, cur.End)
			cur.InsertAckTime(seg.TstampPcap)
			cur.TCPWindow = seg.Window
			cur.AckCount++
			if err := m.insert(nb); err != nil {
				m.warn("ack_split", "split at ack %d failed: %v", ack, err)
				return false
			}
			m.highestAcked = it
			return true
		}

		if it == 0 {
			// The dump does not contain the earlier data this ACK
			// refers to, probably tcpdump was started mid-stream.
			return false
		}

		// A FIN consumes one sequence number without data, so the
		// final ACK can sit one past the last range.
		if ack-1 == m.brs[it-1].End {
			for p := it - 1; p >= 0; p-- {
				if m.brs[p].FIN > 0 {
					m.brs[p].AckCount++
					return true
				}
				if m.brs[p].PacketSentCount == m.brs[p].DataSentCount() {
					break
				}
			}
		}

		// ACK on old data: walk back and count it where it lands.
		if ack < cur.End {
			for p := it - 1; p >= 0; p-- {
				if ack == m.brs[p].End {
					m.brs[p].AckCount++
					return true
				}
				if ack > m.brs[p].End {
					if ack == m.brs[p].Start {
						return true
					}
				}
			}
			return false
		}

		if ack == cur.Start {
			return false
		}

		// The source flags this as a possible error; log and give up
		// on this ACK without touching the map.
		m.warn("ack_unmatched", "possible error processing ack %d against [%d,%d)", ack, cur.Start, cur.End)
		break
	}
	return ret
}

// ValidateContent checks the structural invariants of the map.
// Soft anomalies are counted as warnings; a broken byte stream is an
// error when range validation is enabled.
func (m *Manager) ValidateContent(totBytesSent, totNewData, totRdbBytes, totRetransBytes int64) error {
	if len(m.brs) == 0 {
		return nil
	}

	if m.brs[0].Start != 0 {
		m.warn("validate", "first range starts at %d, not 0", m.brs[0].Start)
	}
	last := m.LastRange()
	if !(last.End <= m.LastSeq && last.End >= m.LastSeq-1) {
		m.warn("validate", "last range end %d not aligned with send edge %d", last.End, m.LastSeq)
	}
	if totBytesSent != totNewData+totRdbBytes+totRetransBytes {
		m.warn("validate", "bytes sent %d != new %d + rdb %d + retrans %d",
			totBytesSent, totNewData, totRdbBytes, totRetransBytes)
	}

	for i := 1; i < len(m.brs); i++ {
		prev, cur := m.brs[i-1], m.brs[i]
		if cur.Start < prev.End {
			return fmt.Errorf("%w: ranges [%d,%d) and [%d,%d) overlap",
				ErrInvariantViolation, prev.Start, prev.End, cur.Start, cur.End)
		}
		if cur.End < cur.Start {
			return fmt.Errorf("%w: range [%d,%d) inverted", ErrInvariantViolation, cur.Start, cur.End)
		}
		if prev.End == cur.Start || prev.NumBytes() == 0 || cur.NumBytes() == 0 || prev.FIN > 0 {
			continue
		}
		// Receiver-only ranges sit beyond the sent coverage.
		if len(cur.SentTstampPcap) == 0 || len(prev.SentTstampPcap) == 0 {
			continue
		}
		if m.cfg.ValidateRanges {
			return fmt.Errorf("%w: byte stream not continuous between [%d,%d) and [%d,%d)",
				ErrInvariantViolation, prev.Start, prev.End, cur.Start, cur.End)
		}
		m.warn("validate", "gap between [%d,%d) and [%d,%d)", prev.Start, prev.End, cur.Start, cur.End)
	}
	return nil
}

// Duration returns the seconds between the first send of the first
// range and the first send of br.
func (m *Manager) Duration(br *ByteRange) float64 {
	if len(m.brs) == 0 {
		return 0
	}
	first, ok := m.brs[0].SendTime()
	if !ok {
		return 0
	}
	t, ok := br.SendTime()
	if !ok {
		return 0
	}
	return t.Sub(first).Seconds()
}

// TotalDuration returns the duration covered by the whole map.
func (m *Manager) TotalDuration() float64 {
	if len(m.brs) == 0 {
		return 0
	}
	return m.Duration(m.LastRange())
}
