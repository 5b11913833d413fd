package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sniperadar"

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	layerPolls     *prometheus.CounterVec
	layerDuration  *prometheus.HistogramVec
	patterns       *prometheus.CounterVec
	newListings    *prometheus.CounterVec
	bridgeSkips    *prometheus.CounterVec
	targetsCreated *prometheus.CounterVec
	pipelineDrops  *prometheus.CounterVec
	pipelineDepth  prometheus.Gauge
	knownListings  prometheus.Gauge
}

// New registers collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Total number of errors encountered",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		layerPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detection", Name: "layer_polls_total",
			Help: "Detection layer polls by outcome",
		}, []string{"layer", "success"}),
		layerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "detection", Name: "layer_poll_duration_seconds",
			Help:    "Detection layer poll duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"layer"}),
		patterns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "analyzer", Name: "patterns_detected_total",
			Help: "Pattern matches emitted by type",
		}, []string{"pattern_type"}),
		newListings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detection", Name: "new_listings_total",
			Help: "New listings first observed, by layer",
		}, []string{"source"}),
		bridgeSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "skips_total",
			Help: "Matches skipped by the bridge, by reason",
		}, []string{"reason"}),
		targetsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "targets_created_total",
			Help: "Snipe targets inserted, by initial status",
		}, []string{"status"}),
		pipelineDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "drops_total",
			Help: "Pattern batches dropped under backpressure",
		}, []string{"policy"}),
		pipelineDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "depth",
			Help: "Pattern batches waiting for the bridge",
		}),
		knownListings: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "detection", Name: "known_listings",
			Help: "Entries in the known-listings registry",
		}),
	}
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordLayerPoll(layer string, success bool, seconds float64) {
	r.layerPolls.WithLabelValues(layer, strconv.FormatBool(success)).Inc()
	r.layerDuration.WithLabelValues(layer).Observe(seconds)
}

func (r *Recorder) RecordPatterns(patternType string, n int) {
	r.patterns.WithLabelValues(patternType).Add(float64(n))
}

func (r *Recorder) RecordNewListing(source string) {
	r.newListings.WithLabelValues(source).Inc()
}

func (r *Recorder) RecordBridgeSkip(reason string) {
	r.bridgeSkips.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordTargetsCreated(status string, n int) {
	r.targetsCreated.WithLabelValues(status).Add(float64(n))
}

func (r *Recorder) RecordPipelineDrop(policy string) {
	r.pipelineDrops.WithLabelValues(policy).Inc()
}

func (r *Recorder) SetPipelineDepth(n int) { r.pipelineDepth.Set(float64(n)) }

func (r *Recorder) SetKnownListings(n int) { r.knownListings.Set(float64(n)) }

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordError(string)                    {}
func (Nop) RecordLatency(string, float64)         {}
func (Nop) RecordLayerPoll(string, bool, float64) {}
func (Nop) RecordPatterns(string, int)            {}
func (Nop) RecordNewListing(string)               {}
func (Nop) RecordBridgeSkip(string)               {}
func (Nop) RecordTargetsCreated(string, int)      {}
func (Nop) RecordPipelineDrop(string)             {}
func (Nop) SetPipelineDepth(int)                  {}
func (Nop) SetKnownListings(int)                  {}
