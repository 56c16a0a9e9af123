// Package metrics defines prometheus metric types and provides
// convenience methods to add accounting to the analysis run.
//
// When defining new metrics, these are helpful values to track:
//  - things coming into or out of the system: packets, connections, files.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketCount counts packets read from the dumps, labeled by the
	// dump side ("sender", "receiver") and outcome ("ok", "not_tcp" for
	// frames that do not decode as TCP, "filtered").
	// Provides metrics:
	//    analysetcp_packet_total
	// Example usage:
	//    metrics.PacketCount.WithLabelValues("sender", "ok").Inc()
	PacketCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysetcp_packet_total",
			Help: "Number of packets read from the pcap files.",
		}, []string{"side", "status"})

	// ConnectionCount counts connections at end of run, labeled by
	// final state ("analysed", "poisoned").
	// Provides metrics:
	//    analysetcp_connection_total
	// Example usage:
	//    metrics.ConnectionCount.WithLabelValues("analysed").Inc()
	ConnectionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysetcp_connection_total",
			Help: "Number of TCP connections reconstructed from the trace.",
		}, []string{"state"})

	// WarningCount counts per-event warnings by kind, e.g.
	// "unknown_received_bytes", "trace_gap", "ack_unmatched",
	// "sojourn_unmatched", "drift_window_empty".
	// Provides metrics:
	//    analysetcp_warning_total
	// Example usage:
	//    metrics.WarningCount.WithLabelValues("trace_gap").Inc()
	WarningCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysetcp_warning_total",
			Help: "Number of non-fatal anomalies encountered during analysis.",
		}, []string{"kind"})

	// ErrorCount counts fatal per-connection errors by kind:
	// "invalid_sequence", "recursion_too_deep", "invariant_violation".
	// Provides metrics:
	//    analysetcp_error_total
	// Example usage:
	//    metrics.ErrorCount.WithLabelValues("invalid_sequence").Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysetcp_error_total",
			Help: "Number of errors that poisoned a connection.",
		}, []string{"kind"})

	// RangeCount observes the number of byte ranges per connection.
	// Provides metrics:
	//    analysetcp_ranges_per_connection
	// Example usage:
	//    metrics.RangeCount.Observe(float64(n))
	RangeCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysetcp_ranges_per_connection",
			Help:    "Number of byte ranges tracked per connection.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		})

	// FileDuration observes the wall time spent reading one dump file.
	// Provides metrics:
	//    analysetcp_file_duration_seconds
	// Example usage:
	//    metrics.FileDuration.WithLabelValues("sender").Observe(d.Seconds())
	FileDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "analysetcp_file_duration_seconds",
			Help: "Time spent reading and modelling one pcap file.",
		}, []string{"side"})
)
