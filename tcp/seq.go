// Package tcp provides the sequence number arithmetic and the segment
// observation record used by the byte range engine.  Absolute 32-bit
// sequence numbers from the wire are lifted into monotone 64-bit
// relative values anchored at the first sequence number seen for a
// stream, so that map indexing works across wraparound.
package tcp

import "fmt"

var (
	// ErrOutOfWindow means the sequence number precedes the first
	// sequence number of the stream.
	ErrOutOfWindow = fmt.Errorf("sequence number before start of stream")
	// ErrInvalidSequence means the computed relative sequence number
	// exceeded the sanity bound and cannot be trusted.
	ErrInvalidSequence = fmt.Errorf("invalid relative sequence number")
)

// Relative sequence numbers larger than this are assumed to be
// miscalculations (a trace would need to wrap the 32-bit space more
// than twice while sending 10 GB to reach it legitimately).
const maxRelativeSeq = 9999999999

// Before reports whether seq1 comes before seq2 in modular 32-bit
// sequence space.
func Before(seq1, seq2 uint32) bool {
	return int32(seq1-seq2) < 0
}

// After reports whether seq2 comes after seq1.
func After(seq2, seq1 uint32) bool {
	return Before(seq1, seq2)
}

// AfterOrEqual reports whether seq2 is at or after seq1.
func AfterOrEqual(seq1, seq2 uint32) bool {
	return int32(seq2-seq1) >= 0
}

// RelativeSeq computes the monotone 64-bit relative value of the
// absolute sequence number seq.
//
// firstSeq is the first absolute sequence number of the stream,
// largestSeq the largest relative value produced so far for this
// stream, and largestSeqAbsolute the absolute sequence number that
// produced it.  The wrap index counts how many times the 32-bit space
// has wrapped between firstSeq and seq; it is adjusted down for
// retransmits (seq earlier than largestSeqAbsolute) and up when seq
// crosses a wrap boundary.
func RelativeSeq(seq, firstSeq uint32, largestSeq uint64, largestSeqAbsolute uint32) (uint64, error) {
	wrapIndex := uint64(firstSeq) + largestSeq + 1

	if seq < largestSeqAbsolute {
		if Before(seq, largestSeqAbsolute) {
			// Earlier data: a retransmit, or reordering on the sender side.
			if Before(seq, firstSeq) {
				return 0, ErrOutOfWindow
			}
			wrapIndex -= uint64(largestSeqAbsolute - seq)
		} else {
			// seq has wrapped past largestSeqAbsolute.
			wrapIndex += uint64((0 - largestSeqAbsolute) + seq)
		}
	} else {
		if AfterOrEqual(largestSeqAbsolute, seq) {
			wrapIndex += uint64(seq - largestSeqAbsolute)
		} else {
			// largestSeqAbsolute has wrapped, seq is older data.
			wrapIndex -= uint64((0 - seq) + largestSeqAbsolute)
		}
	}

	wraps := wrapIndex / (1 << 32)
	relative := uint64(seq) + wraps*(1<<32) - uint64(firstSeq)
	if relative > maxRelativeSeq {
		return 0, ErrInvalidSequence
	}
	return relative, nil
}
