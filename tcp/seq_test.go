package tcp_test

import (
	"log"
	"testing"

	"github.com/m-lab/analysetcp/tcp"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func TestBefore(t *testing.T) {
	if !tcp.Before(1, 2) {
		t.Error("1 should be before 2")
	}
	if tcp.Before(2, 1) {
		t.Error("2 should not be before 1")
	}
	// Modular compare across the wrap boundary.
	if !tcp.Before(0xFFFFFFF0, 0x00000010) {
		t.Error("0xFFFFFFF0 should be before 0x10 across wrap")
	}
	if !tcp.AfterOrEqual(0xFFFFFFF0, 0x00000010) {
		t.Error("0x10 should be after 0xFFFFFFF0")
	}
	if !tcp.AfterOrEqual(5, 5) {
		t.Error("equal seqs should compare after-or-equal")
	}
}

func TestRelativeSeqMonotone(t *testing.T) {
	const first = uint32(1000)
	largestRel := uint64(0)
	largestAbs := first

	for i := uint32(0); i < 10; i++ {
		abs := first + i*1460
		rel, err := tcp.RelativeSeq(abs, first, largestRel, largestAbs)
		if err != nil {
			t.Fatal(err)
		}
		if rel != uint64(i)*1460 {
			t.Errorf("seq %d: got relative %d, want %d", abs, rel, uint64(i)*1460)
		}
		largestRel = rel
		largestAbs = abs
	}
}

func TestRelativeSeqRetransmit(t *testing.T) {
	// A retransmit maps back to its original relative value.
	rel, err := tcp.RelativeSeq(2000, 1000, 5000, 6000)
	if err != nil {
		t.Fatal(err)
	}
	if rel != 1000 {
		t.Errorf("got %d, want 1000", rel)
	}
}

func TestRelativeSeqWrap(t *testing.T) {
	const first = uint32(0xFFFFFF00)
	largestRel := uint64(0)
	largestAbs := first

	rel, err := tcp.RelativeSeq(0xFFFFFF00+100, first, largestRel, largestAbs)
	if err != nil {
		t.Fatal(err)
	}
	if rel != 100 {
		t.Fatalf("got %d, want 100", rel)
	}
	largestRel, largestAbs = rel, 0xFFFFFF00+100

	// The next segment wraps the 32-bit space.
	rel, err = tcp.RelativeSeq(0x00000000, first, largestRel, largestAbs)
	if err != nil {
		t.Fatal(err)
	}
	if rel != 256 {
		t.Errorf("wrapped seq 0: got relative %d, want 256", rel)
	}
	largestRel, largestAbs = rel, 0

	// And keeps growing after the wrap.
	rel, err = tcp.RelativeSeq(1460, first, largestRel, largestAbs)
	if err != nil {
		t.Fatal(err)
	}
	if rel != 256+1460 {
		t.Errorf("got relative %d, want %d", rel, 256+1460)
	}
}

func TestRelativeSeqManyWraps(t *testing.T) {
	const first = uint32(0xFFFFFE00)
	largestRel := uint64(0)
	largestAbs := first

	// March far enough to wrap the 32-bit space twice.
	for i := 0; i < 9000; i++ {
		abs := largestAbs + 1000000
		rel, err := tcp.RelativeSeq(abs, first, largestRel, largestAbs)
		if err != nil {
			t.Fatal(err)
		}
		if rel != largestRel+1000000 {
			t.Fatalf("step %d: got %d, want %d", i, rel, largestRel+1000000)
		}
		largestRel, largestAbs = rel, abs
	}
}

func TestRelativeSeqErrors(t *testing.T) {
	// Before the first seq of the stream.
	if _, err := tcp.RelativeSeq(500, 1000, 0, 1000); err != tcp.ErrOutOfWindow {
		t.Errorf("got %v, want ErrOutOfWindow", err)
	}
}

func TestFlags(t *testing.T) {
	f := tcp.Flags(0x12) // SYN|ACK
	if !f.SYN() || !f.ACK() || f.FIN() || f.RST() {
		t.Errorf("bad flag decoding for %#x", uint8(f))
	}
	if f.String() != "SYN|ACK" {
		t.Errorf("got %q", f.String())
	}
	if tcp.Flags(0).String() != "none" {
		t.Errorf("got %q", tcp.Flags(0).String())
	}
}
