package tcp

import "time"

// SentKind classifies a transmit event recorded on a byte range.
type SentKind uint8

const (
	// SentNone marks a recursive insert beyond the first level, so a
	// packet is only counted once.
	SentNone SentKind = iota
	// SentPkt is a regular data packet (first transmission).
	SentPkt
	// SentRtr is a retransmission.
	SentRtr
	// SentRst is a reset.
	SentRst
	// SentPureAck is a segment carrying only an acknowledgment.
	SentPureAck
)

func (k SentKind) String() string {
	switch k {
	case SentPkt:
		return "packet"
	case SentRtr:
		return "retrans"
	case SentRst:
		return "rst"
	case SentPureAck:
		return "pure-ack"
	}
	return "none"
}

// DataSeg is one observed TCP segment, as produced by the pcap decoder
// and augmented by the connection model.  Seq, EndSeq, RdbEndSeq and
// Ack are relative sequence numbers.
type DataSeg struct {
	Seq         uint64
	SeqAbsolute uint32
	EndSeq      uint64
	PayloadSize uint16
	Flags       Flags

	IsRdb     bool
	RdbEndSeq uint64
	Retrans   bool

	TstampPcap    time.Time
	TstampTCP     uint32
	TstampTCPEcho uint32

	Window uint16
	Ack    uint64

	// InSequence is set on receiver-side segments that extend the
	// highest received sequence number without a gap.
	InSequence bool
}
