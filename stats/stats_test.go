package stats_test

import (
	"log"
	"math"
	"math/rand"
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/analysetcp/stats"
	"github.com/m-lab/analysetcp/tcp"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func TestBaseStats(t *testing.T) {
	bs := stats.NewBaseStats()
	for _, v := range []int64{5, 1, 9, 3} {
		bs.Add(v)
	}
	if bs.Min != 1 || bs.Max != 9 || bs.Cum != 18 || bs.Counter() != 4 {
		t.Errorf("min %d max %d cum %d n %d", bs.Min, bs.Max, bs.Cum, bs.Counter())
	}
	if bs.Avg() != 4.5 {
		t.Errorf("avg %v", bs.Avg())
	}

	aggr := stats.NewAggregateStats()
	aggr.AddToAggregate(&bs)
	other := stats.NewBaseStats()
	other.Add(20)
	aggr.AddToAggregate(&other)
	if aggr.Min != 1 || aggr.Max != 20 || aggr.Cum != 38 {
		t.Errorf("aggregate min %d max %d cum %d", aggr.Min, aggr.Max, aggr.Cum)
	}
}

func TestExtendedStatsPercentiles(t *testing.T) {
	es := stats.NewExtendedStats()
	for i := int64(100); i >= 1; i-- {
		es.Add(i)
	}
	es.MakeStats([]float64{25, 50, 99})

	want := []stats.PercentileValue{{P: 25, Value: 26}, {P: 50, Value: 51}, {P: 99, Value: 100}}
	if diff := deep.Equal(es.Percentiles, want); diff != nil {
		t.Error(diff)
	}
	// Uniform 1..100 has stddev just under 29.
	if es.StdDev < 28 || es.StdDev > 29 {
		t.Errorf("stddev %v", es.StdDev)
	}
}

func TestExtendedStatsEmpty(t *testing.T) {
	es := stats.NewExtendedStats()
	es.MakeStats([]float64{50})
	if es.Valid {
		t.Error("empty stats should be invalid")
	}
}

func TestFinalizeITT(t *testing.T) {
	ps := stats.NewPacketsStats()
	// Two connections interleaved; ITT is per connection ordering in
	// the sorted vector.
	ps.AddPacket(stats.PacketStat{Kind: tcp.SentPkt, ConnKey: "b", SendTimeUs: 100, Length: 10})
	ps.AddPacket(stats.PacketStat{Kind: tcp.SentPkt, ConnKey: "a", SendTimeUs: 250, Length: 10})
	ps.AddPacket(stats.PacketStat{Kind: tcp.SentPkt, ConnKey: "a", SendTimeUs: 200, Length: 10})
	ps.FinalizeITT()

	if ps.Packets[0].ConnKey != "a" || ps.Packets[0].SendTimeUs != 200 {
		t.Fatalf("sort order wrong: %+v", ps.Packets[0])
	}
	if ps.Packets[1].ITT != 50 {
		t.Errorf("itt %d, want 50", ps.Packets[1].ITT)
	}
	if ps.ITT.Counter() != 2 {
		t.Errorf("itt samples %d, want 2", ps.ITT.Counter())
	}
}

func TestCountRank(t *testing.T) {
	var v []int
	v = stats.CountRank(v, 3)
	v = stats.CountRank(v, 1)
	if diff := deep.Equal(v, []int{2, 1, 1}); diff != nil {
		t.Error(diff)
	}
}

func TestAggrPacketStats(t *testing.T) {
	a := stats.NewAggrPacketStats()

	one := stats.NewPacketsStats()
	one.Latency.Add(100)
	one.Latency.Add(300)
	one.Retrans = []int{2, 1}
	two := stats.NewPacketsStats()
	two.Latency.Add(500)
	two.Retrans = []int{1}

	a.Add(one)
	a.Add(two)
	if a.Aggregated.Latency.Min != 100 || a.Aggregated.Latency.Max != 500 {
		t.Errorf("aggregated min %d max %d", a.Aggregated.Latency.Min, a.Aggregated.Latency.Max)
	}
	if a.Average.Latency.Counter() != 2 {
		t.Errorf("average samples %d", a.Average.Latency.Counter())
	}
	if diff := deep.Equal(a.Aggregated.Retrans, []int{3, 1}); diff != nil {
		t.Error(diff)
	}
}

func TestLinearRegression(t *testing.T) {
	lr := stats.LinReg{}
	rand.Seed(12345)
	for i := 0.0; i < 1000.0; i++ {
		lr.Add(i+.5*rand.Float64(), 1000-2*i+100*(rand.Float64()-.5))
	}
	if math.Abs(lr.Slope()+2) > 0.01 {
		t.Errorf("slope %v, want about -2", lr.Slope())
	}
	if lr.R2() < 0.99 {
		t.Errorf("R2 %v", lr.R2())
	}
}
