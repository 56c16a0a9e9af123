// analysetcp analyses a sender-side tcpdump file (and optionally a
// matching receiver-side dump) with regard to latency, retransmission,
// redundant data bundling and loss.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/analysetcp/config"
	"github.com/m-lab/analysetcp/dump"
	"github.com/m-lab/analysetcp/output"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	cfg = config.Default()

	senderDump   = flag.String("f", "", "Sender-side dumpfile (required)")
	receiverDump = flag.String("g", "", "Receiver-side dumpfile")
	sojournFile  = flag.String("j", "", "CSV file with kernel-entry times for sojourn analysis")
	srcIP        = flag.String("s", "", "Sender IP (required)")
	dstIP        = flag.String("r", "", "Receiver IP; if not given, analyse all receiver IPs")
	srcPort      = flag.Uint("q", 0, "Sender port; if not given, analyse all sender ports")
	dstPort      = flag.Uint("p", 0, "Receiver port; if not given, analyse all receiver ports")
	sendNatIP    = flag.String("m", "", "Sender-side external NAT address as seen in the receiver dump")
	recvNatIP    = flag.String("n", "", "Receiver-side local address as seen in the receiver dump")

	withLoss  = flag.Bool("loss", false, "Compute loss over time (requires receiver dump)")
	withCDF   = flag.Bool("c", false, "Write byte latency variation CDF")
	transport = flag.Bool("t", false, "Calculate transport-layer delays instead of application-layer")
	relSeq       = flag.Bool("l", false, "Print relative sequence numbers")
	printPackets = flag.Bool("y", false, "Print details for each byte range")
	aggregate = flag.Bool("a", false, "Produce aggregated statistics")
	aggOnly   = flag.Bool("A", false, "Only print aggregated statistics")

	lossAggrMs       = flag.Uint64("loss-interval", 1000, "Loss aggregation bucket width in milliseconds")
	throughputAggrMs = flag.Uint64("throughput-interval", 1000, "Throughput bucket width in milliseconds")
	analyseStart     = flag.Uint("S", 0, "Start analysing this many seconds into the stream")
	analyseEnd       = flag.Uint("E", 0, "Stop analysing this many seconds before the end of the stream")
	analyseDuration  = flag.Uint("D", 0, "Analyse at most this many seconds")
	percentiles      = flag.String("percentiles", "", "Comma separated percentiles to compute, e.g. 1,25,50,75,99")
	validateRanges   = flag.Bool("validate", true, "Validate range invariants after ingest")
	maxRetransStats  = flag.Int("max-retrans", 6, "Cap for the per-rank retransmit histogram")

	outputDir = flag.String("o", "", "Directory to write the statistics files to")
	prefix    = flag.String("u", "", "Filename prefix for the statistics files")

	promAddr = flag.String("prometheus", "", "Export prometheus metrics on this address while running")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	cfg.SenderDump = *senderDump
	cfg.ReceiverDump = *receiverDump
	cfg.SojournFile = *sojournFile
	cfg.SrcIP = *srcIP
	cfg.DstIP = *dstIP
	cfg.SrcPort = uint16(*srcPort)
	cfg.DstPort = uint16(*dstPort)
	cfg.SendNatIP = *sendNatIP
	cfg.RecvNatIP = *recvNatIP
	cfg.WithRecv = *receiverDump != ""
	cfg.WithLoss = *withLoss
	cfg.WithCDF = *withCDF
	cfg.Transport = *transport
	cfg.RelativeSeq = *relSeq
	cfg.PrintPackets = *printPackets
	cfg.Aggregate = *aggregate || *aggOnly
	cfg.AggOnly = *aggOnly
	cfg.LossAggrMs = *lossAggrMs
	cfg.ThroughputAggrMs = *throughputAggrMs
	cfg.AnalyseStart = uint32(*analyseStart)
	cfg.AnalyseEnd = uint32(*analyseEnd)
	cfg.AnalyseDuration = uint32(*analyseDuration)
	cfg.Percentiles = *percentiles
	cfg.ValidateRanges = *validateRanges
	cfg.MaxRetransStats = *maxRetransStats
	cfg.OutputDir = *outputDir
	cfg.Prefix = *prefix

	if cfg.SenderDump == "" || cfg.SrcIP == "" {
		flag.Usage()
		os.Exit(2)
	}

	if *promAddr != "" {
		srv := prometheusx.MustStartPrometheus(*promAddr)
		defer srv.Close()
	}

	d, err := dump.New(cfg)
	rtx.Must(err, "Invalid configuration")
	// Per-connection failures are reported in the summary; only I/O
	// and decoder errors make the run fail.
	rtx.Must(d.Run(), "Could not process %s", cfg.SenderDump)

	report := output.NewReport(cfg, os.Stdout)
	report.PrintStats(d)

	if cfg.OutputDir != "" || cfg.Prefix != "" {
		writers := output.NewWriters(cfg)
		rtx.Must(writers.WriteAll(d), "Could not write statistics files")
	}
}
