// Package config holds the analysis options shared by the trace reader,
// the connection model and the range engine.  A Config is built once by
// the command line frontend and passed by pointer; it is never mutated
// after that.
package config

import (
	"strconv"
	"strings"
)

// Config collects all analysis options.
type Config struct {
	// Input selection.
	SenderDump   string // sender-side pcap file (required)
	ReceiverDump string // receiver-side pcap file (optional)
	SojournFile  string // CSV of segment kernel-entry times (optional)

	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16

	// NAT addresses as seen in the receiver dump.
	SendNatIP string
	RecvNatIP string

	// Feature toggles.
	WithRecv     bool
	WithLoss     bool
	WithCDF      bool
	Transport    bool // transport-layer delay instead of application-layer
	RelativeSeq  bool // print relative sequence numbers
	PrintPackets bool // print per-range details
	Aggregate    bool
	AggOnly      bool

	// Bucket widths in milliseconds.
	LossAggrMs       uint64
	ThroughputAggrMs uint64

	// Analysis window, in seconds.  Start and duration count from the
	// first packet; end counts back from the last packet.
	AnalyseStart    uint32
	AnalyseEnd      uint32
	AnalyseDuration uint32

	// Extra percentiles, comma separated, e.g. "1,25,50,75,99".
	Percentiles string

	ValidateRanges  bool
	MaxRetransStats int

	// Output.
	OutputDir string
	Prefix    string
}

// Default returns the option values matching a plain run with no flags.
func Default() *Config {
	return &Config{
		LossAggrMs:       1000,
		ThroughputAggrMs: 1000,
		ValidateRanges:   true,
		MaxRetransStats:  6,
	}
}

// PercentileList parses the Percentiles field.  Values outside (0, 100)
// are dropped.
func (c *Config) PercentileList() []float64 {
	if c.Percentiles == "" {
		return nil
	}
	parts := strings.Split(c.Percentiles, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v <= 0 || v >= 100 {
			continue
		}
		out = append(out, v)
	}
	return out
}
