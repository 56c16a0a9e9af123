// Package stats implements the summary statistics produced per
// connection and aggregated across connections: min/max/avg/stddev,
// configurable percentiles, per-retransmit-rank counters and the
// per-packet entries they are computed from.
package stats

import (
	"math"
	"sort"
)

// BaseStats accumulates min/max/sum over a series of samples.
type BaseStats struct {
	Min int64
	Max int64
	Cum int64

	counter     uint32
	isAggregate bool
	Valid       bool
}

// NewBaseStats returns an empty accumulator for per-connection samples.
func NewBaseStats() BaseStats {
	return BaseStats{Min: math.MaxInt64, Valid: true}
}

// NewAggregateStats returns an accumulator that only accepts whole
// BaseStats via AddToAggregate.
func NewAggregateStats() BaseStats {
	bs := NewBaseStats()
	bs.isAggregate = true
	return bs
}

// Add records one sample.
func (bs *BaseStats) Add(val int64) {
	if bs.isAggregate {
		panic("Add called on aggregate stats")
	}
	bs.counter++
	if val < bs.Min {
		bs.Min = val
	}
	if val > bs.Max {
		bs.Max = val
	}
	bs.Cum += val
}

// AddToAggregate folds a per-connection accumulator into an aggregate.
func (bs *BaseStats) AddToAggregate(rhs *BaseStats) {
	if !bs.isAggregate {
		panic("AddToAggregate called on sample stats")
	}
	if !rhs.Valid {
		return
	}
	if rhs.Min < bs.Min {
		bs.Min = rhs.Min
	}
	if rhs.Max > bs.Max {
		bs.Max = rhs.Max
	}
	bs.Cum += rhs.Cum
	bs.counter++
}

// Avg returns the mean of the added samples, 0 when empty.
func (bs *BaseStats) Avg() float64 {
	if bs.counter == 0 {
		return 0
	}
	return float64(bs.Cum) / float64(bs.counter)
}

// Counter returns the number of samples added.
func (bs *BaseStats) Counter() uint32 {
	return bs.counter
}

// PercentileValue is one computed percentile.
type PercentileValue struct {
	P     float64
	Value float64
}

// ExtendedStats keeps the individual samples so standard deviation and
// percentiles can be computed after the fact.
type ExtendedStats struct {
	BaseStats
	Values      []int64
	StdDev      float64
	Percentiles []PercentileValue
}

// NewExtendedStats returns an empty sample collection.
func NewExtendedStats() ExtendedStats {
	return ExtendedStats{BaseStats: NewBaseStats()}
}

// Add records one sample.
func (es *ExtendedStats) Add(val int64) {
	es.BaseStats.Add(val)
	es.Values = append(es.Values, val)
}

// AddToAggregate folds the samples of rhs into es for aggregate
// percentile computation.
func (es *ExtendedStats) AddToAggregate(rhs *ExtendedStats) {
	es.BaseStats.AddToAggregate(&rhs.BaseStats)
	es.Values = append(es.Values, rhs.Values...)
}

// MakeStats sorts the samples and fills StdDev and Percentiles.  With
// no samples the stats are marked invalid.
func (es *ExtendedStats) MakeStats(percentiles []float64) {
	if len(es.Values) == 0 {
		es.Valid = false
		return
	}
	mean := es.Avg()
	var sum float64
	for _, v := range es.Values {
		d := float64(v) - mean
		sum += d * d
	}
	es.StdDev = math.Sqrt(sum / float64(len(es.Values)))

	sort.Slice(es.Values, func(i, j int) bool { return es.Values[i] < es.Values[j] })
	es.Percentiles = es.Percentiles[:0]
	for _, p := range percentiles {
		idx := int(math.Ceil(float64(len(es.Values)) * p / 100.0))
		if idx >= len(es.Values) {
			idx = len(es.Values) - 1
		}
		es.Percentiles = append(es.Percentiles, PercentileValue{P: p, Value: float64(es.Values[idx])})
	}
}
