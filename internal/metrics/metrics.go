// Package metrics exposes Prometheus metrics for mailprobe.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for mailprobe
type Metrics struct {
	// Verification counters
	VerificationsTotal   *prometheus.CounterVec
	ProbeDurationSeconds prometheus.Histogram

	// Finder counters
	FindsTotal *prometheus.CounterVec

	// Job metrics
	JobsActive         prometheus.Gauge
	JobsCompletedTotal *prometheus.CounterVec
	JobRowsTotal       *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprobe_verifications_total",
				Help: "Total number of address verifications by verdict",
			},
			[]string{"status", "reason"},
		),
		ProbeDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailprobe_probe_duration_seconds",
				Help:    "Duration of a full verification including SMTP probes",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		FindsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprobe_finds_total",
				Help: "Total number of pattern discovery runs by outcome",
			},
			[]string{"outcome"},
		),

		JobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailprobe_jobs_active",
				Help: "Number of bulk jobs currently processing",
			},
		),
		JobsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprobe_jobs_completed_total",
				Help: "Total number of finished bulk jobs",
			},
			[]string{"kind", "status"},
		),
		JobRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprobe_job_rows_total",
				Help: "Total number of bulk job rows processed",
			},
			[]string{"kind"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailprobe_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailprobe_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.VerificationsTotal,
		m.ProbeDurationSeconds,
		m.FindsTotal,
		m.JobsActive,
		m.JobsCompletedTotal,
		m.JobRowsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveVerification records one verification verdict and its duration
func ObserveVerification(status, reason string, d time.Duration) {
	m := Global()
	if m != nil {
		m.VerificationsTotal.WithLabelValues(status, reason).Inc()
		m.ProbeDurationSeconds.Observe(d.Seconds())
	}
}

// IncFinds increments the discovery run counter
func IncFinds(outcome string) {
	m := Global()
	if m != nil {
		m.FindsTotal.WithLabelValues(outcome).Inc()
	}
}

// IncJobsActive increments the active job gauge
func IncJobsActive() {
	m := Global()
	if m != nil {
		m.JobsActive.Inc()
	}
}

// JobCompleted records a finished job and releases the active slot
func JobCompleted(kind, status string) {
	m := Global()
	if m != nil {
		m.JobsActive.Dec()
		m.JobsCompletedTotal.WithLabelValues(kind, status).Inc()
	}
}

// AddJobRows adds processed rows to the row counter
func AddJobRows(kind string, n int) {
	m := Global()
	if m != nil {
		m.JobRowsTotal.WithLabelValues(kind).Add(float64(n))
	}
}
