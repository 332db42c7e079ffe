// Package observability provides Prometheus metrics for EVA-Lite.
//
// Metrics are registered on a caller-supplied registry so tests can use a
// private one; the server exposes the same registry on /metrics. All
// recording methods are nil-safe, so components work without metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "evalite"

// Metrics holds every collector the service records into.
type Metrics struct {
	// CheckInsTotal counts analyzed check-ins.
	// Labels: outcome (ai, fallback, local, unavailable)
	CheckInsTotal *prometheus.CounterVec

	// ProviderErrorsTotal counts failed provider calls.
	// Labels: provider, kind (auth, quota, timeout, network, upstream, parse, config)
	ProviderErrorsTotal *prometheus.CounterVec

	// ProviderLatencySeconds measures provider round trips.
	// Labels: provider, status (success, error)
	ProviderLatencySeconds *prometheus.HistogramVec

	// NotificationsTotal counts delivery attempts.
	// Labels: channel (sms, email), kind (emergency, suggestions, follow_up), status
	NotificationsTotal *prometheus.CounterVec

	// PersistenceErrorsTotal counts failed storage writes.
	// Labels: op
	PersistenceErrorsTotal *prometheus.CounterVec

	// FollowUpsScheduled counts follow-ups created.
	FollowUpsScheduled prometheus.Counter
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CheckInsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "checkins_total",
				Help:      "Total number of analyzed check-ins by outcome",
			},
			[]string{"outcome"},
		),
		ProviderErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "provider_errors_total",
				Help:      "Total number of failed AI provider calls by provider and kind",
			},
			[]string{"provider", "kind"},
		),
		ProviderLatencySeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "provider_latency_seconds",
				Help:      "AI provider call latency",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "status"},
		),
		NotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_total",
				Help:      "Total notification delivery attempts by channel, kind and status",
			},
			[]string{"channel", "kind", "status"},
		),
		PersistenceErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "persistence_errors_total",
				Help:      "Total failed storage operations",
			},
			[]string{"op"},
		),
		FollowUpsScheduled: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "followups_scheduled_total",
				Help:      "Total follow-up reminders scheduled",
			},
		),
	}
}

// RecordCheckIn counts one analyzed check-in.
func (m *Metrics) RecordCheckIn(outcome string) {
	if m == nil {
		return
	}
	m.CheckInsTotal.WithLabelValues(outcome).Inc()
}

// RecordProviderCall records latency and, on failure, the error kind.
func (m *Metrics) RecordProviderCall(provider string, d time.Duration, errKind string) {
	if m == nil {
		return
	}
	status := "success"
	if errKind != "" {
		status = "error"
		m.ProviderErrorsTotal.WithLabelValues(provider, errKind).Inc()
	}
	m.ProviderLatencySeconds.WithLabelValues(provider, status).Observe(d.Seconds())
}

// RecordNotification counts one delivery attempt.
func (m *Metrics) RecordNotification(channel, kind, status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, kind, status).Inc()
}

// RecordPersistenceError counts a failed storage operation.
func (m *Metrics) RecordPersistenceError(op string) {
	if m == nil {
		return
	}
	m.PersistenceErrorsTotal.WithLabelValues(op).Inc()
}

// RecordFollowUpScheduled counts a created follow-up.
func (m *Metrics) RecordFollowUpScheduled() {
	if m == nil {
		return
	}
	m.FollowUpsScheduled.Inc()
}
