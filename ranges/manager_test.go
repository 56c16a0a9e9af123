package ranges_test

import (
	"log"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/ranges"
	"github.com/m-lab/analysetcp/tcp"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var base = time.Date(2016, time.November, 10, 1, 1, 1, 0, time.UTC)

func sentSeg(seq, end uint64, payload uint16, at time.Duration) *tcp.DataSeg {
	return &tcp.DataSeg{
		Seq:         seq,
		EndSeq:      end,
		PayloadSize: payload,
		TstampPcap:  base.Add(at),
	}
}

func newManager(t *testing.T) (*ranges.Manager, *config.Config) {
	t.Helper()
	cfg := config.Default()
	return ranges.NewManager(cfg, "10.0.0.1_5000_10.0.0.2_80", 0), cfg
}

func starts(m *ranges.Manager) [][2]uint64 {
	out := make([][2]uint64, 0, m.NumRanges())
	for i := 0; i < m.NumRanges(); i++ {
		br := m.Range(i)
		out = append(out, [2]uint64{br.Start, br.End})
	}
	return out
}

func TestFreshSend(t *testing.T) {
	m, _ := newManager(t)
	if err := m.InsertSentRange(sentSeg(0, 1000, 1000, 0)); err != nil {
		t.Fatal(err)
	}
	if m.NumRanges() != 1 {
		t.Fatalf("got %d ranges, want 1", m.NumRanges())
	}
	br := m.Range(0)
	if br.PacketSentCount != 1 || br.NumBytes() != 1000 {
		t.Errorf("sent count %d, bytes %d", br.PacketSentCount, br.NumBytes())
	}
	if m.LastSeq != 1000 {
		t.Errorf("send edge %d, want 1000", m.LastSeq)
	}
}

func TestRetransmitIdentical(t *testing.T) {
	m, _ := newManager(t)
	if err := m.InsertSentRange(sentSeg(0, 1000, 1000, 0)); err != nil {
		t.Fatal(err)
	}
	rt := sentSeg(0, 1000, 1000, 10*time.Millisecond)
	rt.Retrans = true
	if err := m.InsertSentRange(rt); err != nil {
		t.Fatal(err)
	}
	if m.NumRanges() != 1 {
		t.Fatalf("got %d ranges, want 1", m.NumRanges())
	}
	br := m.Range(0)
	if br.PacketRetransCount != 1 || br.DataRetransCount != 1 {
		t.Errorf("packet retrans %d, data retrans %d, want 1/1", br.PacketRetransCount, br.DataRetransCount)
	}
	if m.RedundantBytes != 1000 {
		t.Errorf("redundant bytes %d, want 1000", m.RedundantBytes)
	}
}

func TestRDBBundleSplits(t *testing.T) {
	m, _ := newManager(t)
	if err := m.InsertSentRange(sentSeg(0, 1000, 1000, 0)); err != nil {
		t.Fatal(err)
	}
	rdb := sentSeg(500, 1500, 1000, 10*time.Millisecond)
	rdb.IsRdb = true
	rdb.RdbEndSeq = 1000
	if err := m.InsertSentRange(rdb); err != nil {
		t.Fatal(err)
	}

	want := [][2]uint64{{0, 500}, {500, 1000}, {1000, 1500}}
	if diff := deep.Equal(starts(m), want); diff != nil {
		t.Fatal(diff)
	}
	mid := m.Range(1)
	if mid.RdbCount != 1 {
		t.Errorf("middle range rdb count %d, want 1", mid.RdbCount)
	}
	if len(mid.RdbTstampsTCP) != 1 {
		t.Errorf("middle range rdb timestamps %d, want 1", len(mid.RdbTstampsTCP))
	}
	if m.LastSeq != 1500 {
		t.Errorf("send edge %d, want 1500", m.LastSeq)
	}
}

func TestAckSplits(t *testing.T) {
	m, _ := newManager(t)
	if err := m.InsertSentRange(sentSeg(0, 1000, 1000, 0)); err != nil {
		t.Fatal(err)
	}
	ack := &tcp.DataSeg{Ack: 400, Window: 65535, TstampPcap: base.Add(20 * time.Millisecond)}
	if !m.ProcessAck(ack) {
		t.Fatal("ack not processed")
	}

	want := [][2]uint64{{0, 400}, {400, 1000}}
	if diff := deep.Equal(starts(m), want); diff != nil {
		t.Fatal(diff)
	}
	if !m.Range(0).IsAcked() {
		t.Error("first range should carry the ack time")
	}
	if m.Range(1).IsAcked() {
		t.Error("second range should not be acked")
	}
	if m.HighestAcked() != m.Range(0) {
		t.Error("ack cursor should sit on the first range")
	}
}

func TestAckCursorMonotone(t *testing.T) {
	m, _ := newManager(t)
	m.InsertSentRange(sentSeg(0, 1000, 1000, 0))
	m.InsertSentRange(sentSeg(1000, 2000, 1000, time.Millisecond))

	m.ProcessAck(&tcp.DataSeg{Ack: 2000, Window: 100, TstampPcap: base.Add(10 * time.Millisecond)})
	if m.HighestAcked() != m.Range(1) {
		t.Fatal("cursor should be on the last range")
	}
	// An old ACK must not move the cursor backward.
	m.ProcessAck(&tcp.DataSeg{Ack: 1000, Window: 100, TstampPcap: base.Add(11 * time.Millisecond)})
	if m.HighestAcked() != m.Range(1) {
		t.Error("cursor moved backward")
	}
}

func TestDuplicateAcks(t *testing.T) {
	m, _ := newManager(t)
	m.InsertSentRange(sentSeg(0, 1000, 1000, 0))

	ackAt := func(at time.Duration, window uint16) {
		m.ProcessAck(&tcp.DataSeg{Ack: 1000, Window: window, TstampPcap: base.Add(at)})
	}
	ackAt(10*time.Millisecond, 500)
	ackAt(11*time.Millisecond, 500)
	ackAt(12*time.Millisecond, 500)
	br := m.Range(0)
	if br.DupackCount != 2 {
		t.Errorf("dupack count %d, want 2", br.DupackCount)
	}
	// Zero-window probes do not count as duplicates.
	ackAt(13*time.Millisecond, 0)
	if br.DupackCount != 2 {
		t.Errorf("dupack count %d after zero-window ack, want 2", br.DupackCount)
	}
	if br.AckCount != 4 {
		t.Errorf("ack count %d, want 4", br.AckCount)
	}
}

func TestFinOneByteGap(t *testing.T) {
	m, _ := newManager(t)
	m.InsertSentRange(sentSeg(0, 1000, 1000, 0))
	fin := sentSeg(1000, 1000, 0, time.Millisecond)
	fin.Flags = 0x01 // FIN
	if err := m.InsertSentRange(fin); err != nil {
		t.Fatal(err)
	}

	m.ProcessAck(&tcp.DataSeg{Ack: 1000, Window: 100, TstampPcap: base.Add(5 * time.Millisecond)})
	// The FIN consumed one sequence number: the final ACK is 1001.
	if !m.ProcessAck(&tcp.DataSeg{Ack: 1001, Window: 100, TstampPcap: base.Add(6 * time.Millisecond)}) {
		t.Fatal("fin ack not processed")
	}
}

func TestPureAckAnchorRange(t *testing.T) {
	m, _ := newManager(t)
	m.InsertSentRange(sentSeg(0, 1000, 1000, 0))
	// A zero-payload segment at the send edge only folds into a range
	// starting one sequence number earlier; otherwise it gets its own
	// zero-length anchor.
	pure := sentSeg(1000, 1000, 0, time.Millisecond)
	if err := m.InsertSentRange(pure); err != nil {
		t.Fatal(err)
	}
	if m.NumRanges() != 2 {
		// No range starts at 999, so a zero-length anchor is created.
		t.Fatalf("got %d ranges", m.NumRanges())
	}
	anchor := m.Range(1)
	if anchor.NumBytes() != 0 || anchor.AckedSent != 1 {
		t.Errorf("anchor bytes %d, acked sent %d", anchor.NumBytes(), anchor.AckedSent)
	}
}

func TestSegmentSpanningRanges(t *testing.T) {
	m, _ := newManager(t)
	m.InsertSentRange(sentSeg(0, 500, 500, 0))
	m.InsertSentRange(sentSeg(500, 1000, 500, time.Millisecond))

	// A collapsed retransmit covering both ranges.
	rt := sentSeg(0, 1000, 1000, 10*time.Millisecond)
	rt.Retrans = true
	if err := m.InsertSentRange(rt); err != nil {
		t.Fatal(err)
	}
	if m.NumRanges() != 2 {
		t.Fatalf("got %d ranges, want 2", m.NumRanges())
	}
	if m.Range(0).PacketRetransCount != 1 {
		t.Error("first range should carry the retransmit packet")
	}
	if m.Range(1).PacketRetransCount != 0 || m.Range(1).DataRetransCount != 1 {
		t.Error("second range should carry retransmitted data but no packet")
	}
}

func TestSojournAttachesWithoutSplit(t *testing.T) {
	m, _ := newManager(t)
	m.InsertSentRange(sentSeg(0, 1000, 1000, 0))

	soj := sentSeg(0, 400, 400, 0)
	soj.TstampPcap = base.Add(-200 * time.Microsecond)
	if err := m.InsertSojournRange(soj); err != nil {
		t.Fatal(err)
	}
	if m.NumRanges() != 1 {
		t.Fatalf("sojourn sample split the range: %d ranges", m.NumRanges())
	}
	br := m.Range(0)
	if len(br.SojournTstamps) != 1 || br.SojournTstamps[0].SubEndSeq != 400 {
		t.Fatalf("sojourn samples: %+v", br.SojournTstamps)
	}
	st := br.SojournTimes()
	if len(st) != 1 || st[0].SojournUs != 200 {
		t.Errorf("sojourn times: %+v", st)
	}
}

func TestValidateContent(t *testing.T) {
	m, _ := newManager(t)
	m.InsertSentRange(sentSeg(0, 1000, 1000, 0))
	m.InsertSentRange(sentSeg(1000, 2000, 1000, time.Millisecond))
	if err := m.ValidateContent(2000, 2000, 0, 0); err != nil {
		t.Fatal(err)
	}
	// Broken byte conservation is a warning, not an error.
	if err := m.ValidateContent(2000, 1000, 0, 0); err != nil {
		t.Fatal(err)
	}
	if m.Warnings["validate"] == 0 {
		t.Error("expected a validation warning")
	}
}

func TestLossAccounting(t *testing.T) {
	cfg := config.Default()
	cfg.WithRecv = true
	m := ranges.NewManager(cfg, "key", 0)

	s1 := sentSeg(0, 1000, 1000, 0)
	s1.TstampTCP = 10
	s2 := sentSeg(1000, 2000, 1000, 10*time.Millisecond)
	s2.TstampTCP = 11
	if err := m.InsertSentRange(s1); err != nil {
		t.Fatal(err)
	}
	if err := m.InsertSentRange(s2); err != nil {
		t.Fatal(err)
	}

	// The receiver saw only the first segment.
	r1 := sentSeg(0, 1000, 1000, 50*time.Millisecond)
	r1.TstampTCP = 10
	r1.InSequence = true
	if err := m.InsertReceivedRange(r1); err != nil {
		t.Fatal(err)
	}

	m.SetAnalysisWindow()
	m.CalculateRetransAndRDBStats()

	if m.AnalysedLostRangesCount != 1 || m.AnalysedLostBytes != 1000 {
		t.Errorf("lost ranges %d, lost bytes %d", m.AnalysedLostRangesCount, m.AnalysedLostBytes)
	}
	if m.Range(0).RecvType != ranges.RecvData {
		t.Errorf("first range recv type %v, want DTA", m.Range(0).RecvType)
	}

	loss := m.CalculateLossGroupedByInterval(uint64(base.UnixMilli()), nil)
	if len(loss) != 1 {
		t.Fatalf("got %d loss buckets, want 1", len(loss))
	}
	if loss[0].CntBytes != 1 || loss[0].AllBytes != 1000 {
		t.Errorf("bucket: %+v", loss[0])
	}
	if loss[0].NewBytes != 1000 {
		t.Errorf("lost new bytes %v, want 1000 (first send was lost)", loss[0].NewBytes)
	}
	if loss[0].TotCntBytes != 2 || loss[0].TotAllBytes != 2000 {
		t.Errorf("bucket totals: %+v", loss[0])
	}
}

func TestRecvDiffAndDrift(t *testing.T) {
	cfg := config.Default()
	cfg.WithRecv = true
	m := ranges.NewManager(cfg, "key", 0)

	// 20 segments, received 5 ms after sending with no drift.
	for i := 0; i < 20; i++ {
		s := sentSeg(uint64(i)*100, uint64(i+1)*100, 100, time.Duration(i)*100*time.Millisecond)
		s.TstampTCP = uint32(100 + i)
		if err := m.InsertSentRange(s); err != nil {
			t.Fatal(err)
		}
		r := sentSeg(uint64(i)*100, uint64(i+1)*100, 100, time.Duration(i)*100*time.Millisecond+5*time.Millisecond)
		r.TstampTCP = uint32(100 + i)
		r.InSequence = true
		if err := m.InsertReceivedRange(r); err != nil {
			t.Fatal(err)
		}
	}

	m.SetAnalysisWindow()
	m.CalculateLatencyVariation()

	if !m.DriftValid {
		t.Fatal("drift should be estimated")
	}
	if m.Drift != 0 {
		t.Errorf("drift %v, want 0", m.Drift)
	}
	if m.LowestRecvDiff != 5 {
		t.Errorf("lowest recv diff %d, want 5", m.LowestRecvDiff)
	}

	keys, values := m.ByteLatencyVariationCDF()
	if len(keys) != 1 || keys[0] != 0 || values[0] != 2000 {
		t.Errorf("cdf keys %v values %v", keys, values)
	}
}
