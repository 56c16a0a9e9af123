package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/dump"
	"github.com/m-lab/analysetcp/ranges"
)

// Writers emits the per-connection and aggregate data files.
type Writers struct {
	cfg *config.Config
}

// NewWriters returns a file writer rooted at the configured output
// directory.
func NewWriters(cfg *config.Config) *Writers {
	return &Writers{cfg: cfg}
}

func (w *Writers) filename(id, connKey string) string {
	name := w.cfg.Prefix + id
	if connKey != "" {
		name += "-" + connKey
	}
	return filepath.Join(w.cfg.OutputDir, name+".dat")
}

func writeCSV(path string, rows interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(rows, f)
}

// ITTRow is one packet in the throughput/ITT output.
type ITTRow struct {
	TimeUs      int64  `csv:"time_us"`
	ITTMs       int64  `csv:"itt_ms"`
	PayloadSize uint16 `csv:"payload_size"`
	PacketSize  uint32 `csv:"packet_size"`
}

// ThroughputRow is one aggregation bucket of sent bytes.
type ThroughputRow struct {
	Interval     int    `csv:"interval"`
	Packets      int    `csv:"packets"`
	Bytes        uint64 `csv:"bytes"`
	PayloadBytes uint64 `csv:"payload_bytes"`
	Retrans      int    `csv:"retrans"`
}

// WriteAckLatency writes the ACK latency series, one file per
// retransmission rank, per connection and aggregated.
func (w *Writers) WriteAckLatency(d *dump.Dump) error {
	firstMs := uint64(d.FirstPcapTstamp.UnixMilli())
	aggr := make([][]ranges.LatencyItem, 1)

	for _, c := range d.Conns.Sorted() {
		if c.PoisonErr != nil {
			continue
		}
		data := c.RM.AckLatencyData(firstMs)
		if !w.cfg.AggOnly {
			for rank, items := range data {
				if len(items) == 0 {
					continue
				}
				if err := writeCSV(w.filename(fmt.Sprintf("latency-retr%d", rank), c.Key), &items); err != nil {
					return err
				}
			}
		}
		if w.cfg.Aggregate {
			for rank, items := range data {
				for len(aggr) <= rank {
					aggr = append(aggr, nil)
				}
				aggr[rank] = append(aggr[rank], items...)
			}
		}
	}

	if w.cfg.Aggregate {
		for rank, items := range aggr {
			if len(items) == 0 {
				continue
			}
			if err := writeCSV(w.filename(fmt.Sprintf("latency-retr%d-aggr", rank), ""), &items); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteLoss writes the per-interval loss values.
func (w *Writers) WriteLoss(d *dump.Dump) error {
	firstMs := uint64(d.FirstPcapTstamp.UnixMilli())
	var all []ranges.LossInterval

	for _, c := range d.Conns.Sorted() {
		if c.PoisonErr != nil {
			continue
		}
		var aggrTarget *[]ranges.LossInterval
		if w.cfg.Aggregate {
			aggrTarget = &all
		}
		loss := c.RM.CalculateLossGroupedByInterval(firstMs, aggrTarget)
		if !w.cfg.AggOnly && len(loss) > 0 {
			if err := writeCSV(w.filename("loss", c.Key), &loss); err != nil {
				return err
			}
		}
	}
	if w.cfg.Aggregate && len(all) > 0 {
		return writeCSV(w.filename("loss-aggr", ""), &all)
	}
	return nil
}

// WriteThroughput writes the per-bucket byte counts and the per-packet
// ITT rows.
func (w *Writers) WriteThroughput(d *dump.Dump) error {
	for _, c := range d.Conns.Sorted() {
		if c.PoisonErr != nil || w.cfg.AggOnly {
			continue
		}
		groups := c.PacketSizeGroups()
		rows := make([]ThroughputRow, 0, len(groups))
		for i, g := range groups {
			rows = append(rows, ThroughputRow{
				Interval:     i,
				Packets:      g.Packets,
				Bytes:        g.Bytes,
				PayloadBytes: g.PayloadBytes,
				Retrans:      g.Retrans,
			})
		}
		if len(rows) > 0 {
			if err := writeCSV(w.filename("throughput", c.Key), &rows); err != nil {
				return err
			}
		}

		flat := c.PacketSizesFlat()
		if len(flat) == 0 {
			continue
		}
		ittRows := make([]ITTRow, 0, len(flat))
		prev := flat[0].Time
		for _, ps := range flat {
			ittRows = append(ittRows, ITTRow{
				TimeUs:      ps.Time.UnixMicro(),
				ITTMs:       ps.Time.Sub(prev).Milliseconds(),
				PayloadSize: ps.PayloadSize,
				PacketSize:  ps.PacketSize,
			})
			prev = ps.Time
		}
		if err := writeCSV(w.filename("packet-itt", c.Key), &ittRows); err != nil {
			return err
		}
	}
	return nil
}

// WriteCDF writes the byte latency variation CDF per connection plus
// the aggregate, and the queueing delay series.
func (w *Writers) WriteCDF(d *dump.Dump) error {
	firstMs := uint64(d.FirstPcapTstamp.UnixMilli())
	aggrValues := make(map[int64]int64)
	var aggrBytes int64

	path := filepath.Join(w.cfg.OutputDir, w.cfg.Prefix+"latency-variation-cdf.dat")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, c := range d.Conns.Sorted() {
		if c.PoisonErr != nil {
			continue
		}
		keys, values := c.RM.ByteLatencyVariationCDF()
		fmt.Fprintf(f, "#------ Conn: %s, drift: %.4f ms/s ------\n", c.Key, c.RM.Drift)
		fmt.Fprintf(f, "#Relative delay      Percentage\n")
		var cdfSum float64
		numBytes := c.RM.NumBytes()
		for _, k := range keys {
			if numBytes > 0 {
				cdfSum += float64(values[k]) / float64(numBytes)
			}
			fmt.Fprintf(f, "time: %10d    CDF: %.10f\n", k, cdfSum)
			aggrValues[k] += values[k]
		}
		aggrBytes += numBytes

		items := c.RM.QueueingDelayItems(firstMs)
		if len(items) > 0 && !w.cfg.AggOnly {
			if err := writeCSV(w.filename("queueing-delay", c.Key), &items); err != nil {
				return err
			}
		}
	}

	if w.cfg.Aggregate && aggrBytes > 0 {
		keys := make([]int64, 0, len(aggrValues))
		for k := range aggrValues {
			keys = append(keys, k)
		}
		sortInt64s(keys)
		fmt.Fprintf(f, "#------ Aggregated CDF ------\n")
		var cdfSum float64
		for _, k := range keys {
			cdfSum += float64(aggrValues[k]) / float64(aggrBytes)
			fmt.Fprintf(f, "time: %10d    CDF: %.10f\n", k, cdfSum)
		}
	}
	return nil
}

func sortInt64s(v []int64) {
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
}

// WriteAll emits every configured output file.
func (w *Writers) WriteAll(d *dump.Dump) error {
	if w.cfg.OutputDir != "" {
		if err := os.MkdirAll(w.cfg.OutputDir, 0o755); err != nil {
			return err
		}
	}
	if err := w.WriteAckLatency(d); err != nil {
		return err
	}
	if w.cfg.WithRecv && w.cfg.WithLoss {
		if err := w.WriteLoss(d); err != nil {
			return err
		}
	}
	if err := w.WriteThroughput(d); err != nil {
		return err
	}
	if w.cfg.WithRecv && w.cfg.WithCDF {
		if err := w.WriteCDF(d); err != nil {
			return err
		}
	}
	return nil
}
