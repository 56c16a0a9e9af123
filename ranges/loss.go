package ranges

// LossInterval accumulates the loss within one aggregation bucket,
// next to the totals transmitted in the same bucket.
type LossInterval struct {
	CntBytes float64 `csv:"lost_ranges"` // number of lost transmissions
	AllBytes float64 `csv:"lost_bytes"`  // bytes in lost transmissions
	NewBytes float64 `csv:"lost_new_bytes"`

	TotCntBytes float64 `csv:"total_ranges"`
	TotAllBytes float64 `csv:"total_bytes"`
	TotNewBytes float64 `csv:"total_new_bytes"`
}

func (l *LossInterval) add(rhs LossInterval) {
	l.CntBytes += rhs.CntBytes
	l.AllBytes += rhs.AllBytes
	l.NewBytes += rhs.NewBytes
}

func (l *LossInterval) addTotal(ranges, allBytes, newBytes float64) {
	l.TotCntBytes += ranges
	l.TotAllBytes += allBytes
	l.TotNewBytes += newBytes
}

func growLoss(v []LossInterval, idx uint64) []LossInterval {
	for uint64(len(v)) <= idx {
		v = append(v, LossInterval{})
	}
	return v
}

func grow3(a, b, c []float64, idx uint64) ([]float64, []float64, []float64) {
	for uint64(len(a)) <= idx {
		a = append(a, 0)
		b = append(b, 0)
		c = append(c, 0)
	}
	return a, b, c
}

// CalculateLossGroupedByInterval buckets every transmission and every
// lost transmission of the analysis window by send time.  firstTstampMs
// anchors bucket zero; allLoss, when non-nil, receives the same values
// for cross-connection aggregation.
func (m *Manager) CalculateLossGroupedByInterval(firstTstampMs uint64, allLoss *[]LossInterval) []LossInterval {
	bucketOf := func(ms uint64) uint64 {
		return (ms - firstTstampMs) / m.cfg.LossAggrMs
	}

	var totalCount, totalBytes, totalNew []float64
	start, end := m.AnalysisWindow()

	// Totals: every transmission lands in the bucket of its send time;
	// the new bytes of the original payload land in the bucket of the
	// first send.
	for i := start; i < end; i++ {
		br := m.brs[i]
		if len(br.SentTstampPcap) == 0 {
			continue
		}
		if br.PacketSentCount > 0 {
			idx := bucketOf(uint64(br.SentTstampPcap[0].Time.UnixMilli()))
			totalCount, totalBytes, totalNew = grow3(totalCount, totalBytes, totalNew, idx)
			totalNew[idx] += float64(br.OriginalPayloadSize)
		}
		for _, ev := range br.SentTstampPcap {
			idx := bucketOf(uint64(ev.Time.UnixMilli()))
			totalCount, totalBytes, totalNew = grow3(totalCount, totalBytes, totalNew, idx)
			totalCount[idx]++
			totalBytes[idx] += float64(br.NumBytes())
		}
	}

	// Loss: every lost transmission in the bucket of its send time;
	// lost new bytes when the first send itself was lost.
	var loss []LossInterval
	for i := start; i < end; i++ {
		br := m.brs[i]
		if len(br.LostTstampsTCP) == 0 {
			continue
		}
		if br.PacketSentCount > 0 && len(br.SentTstampPcap) > 0 &&
			br.LostTstampsTCP[0].SentPcap.Equal(br.SentTstampPcap[0].Time) {
			idx := bucketOf(uint64(br.SentTstampPcap[0].Time.UnixMilli()))
			loss = growLoss(loss, idx)
			loss[idx].add(LossInterval{NewBytes: float64(br.OriginalPayloadSize)})
		}
		for _, lt := range br.LostTstampsTCP {
			idx := bucketOf(uint64(lt.SentPcap.UnixMilli()))
			loss = growLoss(loss, idx)
			loss[idx].add(LossInterval{CntBytes: 1, AllBytes: float64(br.NumBytes())})
		}
	}

	for idx := range loss {
		if idx < len(totalCount) {
			loss[idx].addTotal(totalCount[idx], totalBytes[idx], totalNew[idx])
		}
	}

	if allLoss != nil {
		*allLoss = growLoss(*allLoss, uint64(len(loss)))
		for idx := range loss {
			(*allLoss)[idx].add(loss[idx])
			if idx < len(totalCount) {
				(*allLoss)[idx].addTotal(totalCount[idx], totalBytes[idx], totalNew[idx])
			}
		}
	}
	return loss
}
