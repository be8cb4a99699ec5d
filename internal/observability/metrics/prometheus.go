// Package metrics provides Prometheus metrics for the clinic services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	VisitsRegistered   prometheus.Counter
	VisitsCompleted    prometheus.Counter
	EmergenciesFlagged prometheus.Counter
	TokenConflicts     prometheus.Counter
	RequestDuration    prometheus.Histogram
	QueueDepth         *prometheus.GaugeVec
	OutboxPending      prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		VisitsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_registered_total",
			Help: "Total visits registered",
		}),
		VisitsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visits_completed_total",
			Help: "Total visits completed",
		}),
		EmergenciesFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emergencies_flagged_total",
			Help: "Total visits flagged as emergencies",
		}),
		TokenConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "token_conflicts_total",
			Help: "Token allocation conflicts retried",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visit_request_duration_seconds",
			Help:    "Visit operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clinic_queue_depth",
			Help: "Active queue depth per clinic",
		}, []string{"clinic_id"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
	}

	prometheus.MustRegister(
		m.VisitsRegistered,
		m.VisitsCompleted,
		m.EmergenciesFlagged,
		m.TokenConflicts,
		m.RequestDuration,
		m.QueueDepth,
		m.OutboxPending,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
