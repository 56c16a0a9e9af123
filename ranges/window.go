package ranges

import "time"

// SetAnalysisWindow selects the subset of ranges the statistics passes
// operate on, based on the configured start offset, end offset and
// duration (all in seconds relative to the trace edges).
func (m *Manager) SetAnalysisWindow() {
	m.analyseStart = 0
	m.analyseEnd = len(m.brs)
	if len(m.brs) == 0 {
		return
	}

	firstTs, ok := m.firstSendTimeFrom(0)
	if !ok {
		return
	}
	lastTs := firstTs
	for i := len(m.brs) - 1; i >= 0; i-- {
		if t, ok := m.brs[i].SendTime(); ok {
			lastTs = t
			break
		}
	}
	m.AnalyseTimeSecStart = m.cfg.AnalyseStart
	m.AnalyseTimeSecEnd = uint32(lastTs.Sub(firstTs).Seconds())

	if m.cfg.AnalyseStart > 0 {
		for i := 0; i < len(m.brs); i++ {
			t, ok := m.brs[i].SendTime()
			if !ok {
				continue
			}
			if off := uint32(t.Sub(firstTs).Seconds()); off >= m.cfg.AnalyseStart {
				m.analyseStart = i
				m.AnalyseTimeSecStart = off
				break
			}
		}
	}

	if m.cfg.AnalyseEnd > 0 {
		for i := len(m.brs) - 1; i >= m.analyseStart; i-- {
			t, ok := m.brs[i].SendTime()
			if !ok {
				continue
			}
			if uint32(lastTs.Sub(t).Seconds()) >= m.cfg.AnalyseEnd {
				m.analyseEnd = i + 1
				m.AnalyseTimeSecEnd = uint32(t.Sub(firstTs).Seconds())
				break
			}
		}
	} else if m.cfg.AnalyseDuration > 0 {
		begin, ok := m.firstSendTimeFrom(m.analyseStart)
		if !ok {
			return
		}
		// Binary search for the last range within the duration.
		lo, hi := m.analyseStart, len(m.brs)
		for hi-lo > 1 {
			mid := lo + (hi-lo)/2
			t, ok := m.brs[mid].SendTime()
			if !ok || uint32(t.Sub(begin).Seconds()) <= m.cfg.AnalyseDuration {
				lo = mid
			} else {
				hi = mid
			}
		}
		m.analyseEnd = lo + 1
		m.AnalyseTimeSecEnd = m.AnalyseTimeSecStart + m.cfg.AnalyseDuration
	}
}

func (m *Manager) firstSendTimeFrom(i int) (time.Time, bool) {
	for ; i < len(m.brs); i++ {
		if t, ok := m.brs[i].SendTime(); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// AnalysisWindow returns the [start, end) indices of the window.
func (m *Manager) AnalysisWindow() (int, int) {
	if m.analyseEnd == 0 && m.analyseStart == 0 {
		return 0, len(m.brs)
	}
	return m.analyseStart, m.analyseEnd
}
