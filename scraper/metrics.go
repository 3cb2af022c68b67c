package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RecordsAccepted prometheus.Counter
	RecordsRejected *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visa_scraper_requests_total",
			Help: "Country fetch-and-extract requests by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "visa_scraper_request_duration_seconds",
			Help:    "Latency of one country's fetch and extraction.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
	accepted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visa_scraper_records_accepted_total",
			Help: "Total number of visa records accepted into the run.",
		},
	)
	rejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visa_scraper_records_rejected_total",
			Help: "Total number of candidate records dropped, by reason.",
		},
		[]string{"reason"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visa_scraper_errors_total",
			Help: "Total number of country failures by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, accepted, rejected, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RecordsAccepted: accepted,
		RecordsRejected: rejected,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a fetch-and-extract duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddAccepted adds n accepted records.
func (m *Metrics) AddAccepted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsAccepted.Add(float64(n))
}

// AddRejected adds n rejected records for a reason label.
func (m *Metrics) AddRejected(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsRejected.WithLabelValues(reason).Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
