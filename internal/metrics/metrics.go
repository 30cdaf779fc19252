// Package metrics exposes Prometheus instruments for reconciliation
// passes, notification attempts and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notekeeper"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sweeps        *prometheus.CounterVec
	sweepRecords  *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Reconciliation passes run, by sweep",
		}, []string{"sweep"}),
		sweepRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_records_total",
			Help:      "Records handled by reconciliation passes, by sweep and result",
		}, []string{"sweep", "result"}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Reconciliation pass latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"sweep"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts, by channel and outcome",
		}, []string{"channel", "outcome"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
	}
}

// ObserveSweep records one finished pass.
func (m *Metrics) ObserveSweep(sweep string, applied, skipped, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(sweep).Inc()
	m.sweepRecords.WithLabelValues(sweep, "applied").Add(float64(applied))
	m.sweepRecords.WithLabelValues(sweep, "skipped").Add(float64(skipped))
	m.sweepRecords.WithLabelValues(sweep, "failed").Add(float64(failed))
	m.sweepDuration.WithLabelValues(sweep).Observe(took.Seconds())
}

// ObserveNotification records one adapter call outcome: sent, scheduled,
// unavailable, rejected or transient.
func (m *Metrics) ObserveNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
