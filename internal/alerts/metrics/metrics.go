package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the alert lifecycle.
type Metrics struct {
	// Alerts opened, by kind
	AlertsCreated *prometheus.CounterVec

	// Creations skipped because an open alert already held the key
	AlertsSkipped *prometheus.CounterVec

	AlertsDismissed prometheus.Counter

	// Dismiss requests rejected as invalid transitions
	DismissRejected prometheus.Counter

	// Store failures by operation
	StoreErrors *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_alerts_created_total",
			Help: "Alerts opened by kind",
		}, []string{"kind"}),
		AlertsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_alerts_create_skipped_total",
			Help: "Alert creations skipped because an open alert already existed for the key",
		}, []string{"kind"}),
		AlertsDismissed: f.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_alerts_dismissed_total",
			Help: "Alerts dismissed",
		}),
		DismissRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_alerts_dismiss_rejected_total",
			Help: "Dismiss requests rejected because the alert was not open",
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockwatch_alerts_store_errors_total",
			Help: "Alert store failures by operation",
		}, []string{"operation"}), // list_open, list, create, dismiss
	}
}

func (m *Metrics) IncrementCreated(kind string) {
	if m != nil {
		m.AlertsCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementSkipped(kind string) {
	if m != nil {
		m.AlertsSkipped.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementDismissed() {
	if m != nil {
		m.AlertsDismissed.Inc()
	}
}

func (m *Metrics) IncrementDismissRejected() {
	if m != nil {
		m.DismissRejected.Inc()
	}
}

func (m *Metrics) IncrementStoreError(operation string) {
	if m != nil {
		m.StoreErrors.WithLabelValues(operation).Inc()
	}
}
