package conn

// ConnStats accumulates per-connection sums; with the aggregate option
// one instance also collects the totals across connections.
type ConnStats struct {
	Duration            uint32
	AnalysedDurationSec uint32
	AnalysedStartSec    uint32
	AnalysedEndSec      uint32

	TotBytesSent        int64
	TotRetransBytesSent int64
	TotUniqueBytes      uint64
	TotUniqueBytesSent  int64
	RedundantBytes      int64
	TotPacketSize       int64

	NrPacketsSent               int
	NrPacketsSentFoundInDump    int
	NrPacketsReceivedFoundInDump int
	NrDataPacketsSent           int
	NrPacketRetrans             int
	NrPacketRetransNoPayload    int
	BundleCount                 int

	AckCount      int
	SynCount      int
	FinCount      int
	RstCount      int
	PureAcksCount int

	RangesSent int
	RangesLost int
	BytesLost  int64

	RdbPacketHits   int
	RdbPacketMisses int
	RdbByteHits     int
	RdbByteMisses   int
	RdbBytesSent    int
}

// AddConnStats folds this connection's analysed counters into cs.
func (c *Connection) AddConnStats(cs *ConnStats) {
	rm := c.RM
	cs.Duration += c.Duration(true)
	cs.AnalysedDurationSec += rm.AnalyseTimeSecEnd - rm.AnalyseTimeSecStart
	cs.AnalysedStartSec += rm.AnalyseTimeSecStart
	cs.AnalysedEndSec += rm.AnalyseTimeSecEnd

	cs.TotBytesSent += rm.AnalysedBytesSent
	cs.TotRetransBytesSent += rm.AnalysedBytesRetransmitted
	cs.NrPacketsSent += rm.AnalysedPacketSentCount
	cs.NrPacketsSentFoundInDump += rm.AnalysedPacketSentCountInDump
	cs.NrPacketsReceivedFoundInDump += rm.AnalysedPacketReceivedCount
	cs.NrDataPacketsSent += rm.AnalysedDataPacketCount
	cs.NrPacketRetrans += rm.AnalysedRetrPacketCount
	cs.NrPacketRetransNoPayload += rm.AnalysedRetrNoPayloadPacketCount
	cs.BundleCount += rm.AnalysedRdbPacketCount
	cs.TotUniqueBytes += c.NumUniqueBytes()
	cs.TotUniqueBytesSent += rm.AnalysedBytesSentUnique
	cs.RedundantBytes += rm.RedundantBytes
	cs.RdbBytesSent += rm.RdbByteMiss + rm.RdbByteHits

	cs.AckCount += rm.AnalysedAckCount
	cs.SynCount += rm.AnalysedSynCount
	cs.FinCount += rm.AnalysedFinCount
	cs.RstCount += rm.AnalysedRstCount
	cs.PureAcksCount += rm.AnalysedPureAcksCount

	cs.RangesSent += rm.AnalysedSentRangesCount
	cs.RangesLost += rm.AnalysedLostRangesCount
	cs.BytesLost += rm.AnalysedLostBytes
	cs.TotPacketSize += c.TotPacketSize

	cs.RdbPacketHits += rm.RdbPacketHits
	cs.RdbPacketMisses += rm.RdbPacketMisses
	cs.RdbByteHits += rm.RdbByteHits
	cs.RdbByteMisses += rm.RdbByteMiss
}
