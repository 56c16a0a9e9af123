package ranges

// CalculateRetransAndRDBStats walks the analysis window and fills the
// Analysed* counters, the RDB hit/miss accounting and, when a receiver
// dump is present, the real loss numbers.
func (m *Manager) CalculateRetransAndRDBStats() {
	start, end := m.AnalysisWindow()

	matchFailsBeforeEnd := 0
	matchFailsAtEnd := 0
	prevPackLost := false
	var prev *ByteRange
	// Unmatched timestamps this close to the end of the stream are
	// assumed to be packets tcpdump never caught.
	const lossEndLimit = 0.01

	for i := start; i < end; i++ {
		br := m.brs[i]

		if m.cfg.WithRecv {
			if !br.MatchReceivedType() && br.DataReceivedCount > 0 {
				if float64(i) < float64(len(m.brs))*(1-lossEndLimit) {
					matchFailsBeforeEnd++
				} else {
					matchFailsAtEnd++
				}
			}
		}

		byteCount := br.NumBytes()
		rdbCount := br.RdbCount
		if rdbCount > 0 && br.RecvType == RecvRDB {
			// One bundled transfer succeeded; the rest were redundant.
			rdbCount--
			br.RdbByteHits = int(byteCount)
			m.RdbByteHits += int(byteCount)
		}
		if br.RecvType == RecvRDB {
			m.RdbPacketHits++
		}
		br.RdbByteMiss = rdbCount * int(byteCount)
		m.RdbByteMiss += br.RdbByteMiss

		m.AnalysedSentRangesCount += br.DataSentCount()
		m.AnalysedRedundantBytes += byteCount * int64(br.DataRetransCount+br.RdbCount)

		if byteCount > 0 {
			// A range counts once even when segmentation offloading
			// split the original send on the wire.
			m.AnalysedDataPacketCount += 1 + br.DataRetransCount
		} else {
			m.AnalysedRetrNoPayloadPacketCount += br.PacketRetransCount
		}

		m.AnalysedSynCount += br.SYN
		m.AnalysedFinCount += br.FIN
		m.AnalysedRstCount += br.RST
		m.AnalysedPureAcksCount += br.AckedSent
		m.AnalysedRdbPacketCount += b2i(br.OriginalPacketIsRdb)
		m.AnalysedBytesSent += int64(br.DataSentCount()) * byteCount
		m.AnalysedBytesSentUnique += byteCount
		m.AnalysedBytesRetransmitted += int64(br.DataRetransCount) * byteCount
		m.AnalysedAckCount += br.AckCount
		if byteCount > m.AnalysedMaxRangePayload {
			m.AnalysedMaxRangePayload = byteCount
		}

		// The adjusted packet count: one per data-carrying range plus
		// control packets and retransmitted copies.
		m.AnalysedPacketSentCount += br.SYN + br.RST
		if byteCount == 0 {
			m.AnalysedPacketSentCount += br.FIN
		} else {
			m.AnalysedPacketSentCount++
		}
		m.AnalysedPacketSentCount += br.DataRetransCount
		m.AnalysedPacketSentCount += br.AckedSent
		m.AnalysedRetrPacketCount += br.PacketRetransCount

		// Packets as they appear in the dump, matching wireshark.
		m.AnalysedPacketSentCountInDump += br.PacketSentCount + br.PacketRetransCount + br.AckedSent
		m.AnalysedPacketReceivedCount += br.PacketReceivedCount

		if m.cfg.WithRecv {
			if byteCount > 0 && br.DataSentCount() != br.DataReceivedCount {
				lost := br.DataSentCount() - br.DataReceivedCount
				m.AnalysedLostRangesCount += lost
				m.AnalysedLostBytes += int64(lost) * byteCount

				// A lost packet spanning several ranges must only be
				// counted once; adjacent ranges share its timestamp.
				if prevPackLost && prev != nil {
					for _, lt := range br.LostTstampsTCP {
						for _, pt := range prev.LostTstampsTCP {
							if lt.TstampTCP == pt.TstampTCP && lost > 0 {
								lost--
							}
						}
					}
				}
				m.LostPackets += lost
				prevPackLost = true
			} else {
				prevPackLost = false
			}
		}
		prev = br
	}

	m.RdbPacketMisses = m.AnalysedRdbPacketCount - m.RdbPacketHits

	if matchFailsBeforeEnd > 0 {
		m.warn("recv_match_failed", "failed to find timestamp for %d of %d ranges; the trace may have dropped packets",
			matchFailsBeforeEnd, len(m.brs))
	}
	if matchFailsAtEnd > 0 {
		m.warn("recv_match_failed_at_end", "%d unmatched ranges at the end of the stream", matchFailsAtEnd)
	}
}
