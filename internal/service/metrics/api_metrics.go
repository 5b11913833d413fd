package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIMetrics records status API traffic. Endpoint labels are route
// templates so cardinality stays bounded.
type APIMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	f := promauto.With(reg)
	return &APIMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sniperadar",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sniperadar",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of API endpoints",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"endpoint"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "sniperadar",
			Subsystem: "api",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight API requests",
		}),
	}
}

func (m *APIMetrics) Begin() { m.inFlight.Inc() }

// ObserveRequest records one finished request.
func (m *APIMetrics) ObserveRequest(endpoint string, status int, d time.Duration) {
	m.inFlight.Dec()
	m.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(endpoint).Observe(d.Seconds())
}
