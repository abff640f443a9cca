package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for monitoring sessions.
type Metrics struct {
	SessionsActive prometheus.Gauge

	// Pass outcomes and latency, result: ok | error
	PassDuration *prometheus.HistogramVec

	ObserversNotified prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockwatch_monitor_sessions_active",
			Help: "Monitoring sessions currently subscribed",
		}),
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockwatch_monitor_pass_duration_seconds",
			Help:    "Duration of monitoring passes by result",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"result"}),
		ObserversNotified: f.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_monitor_observer_notifications_total",
			Help: "Observer callbacks invoked",
		}),
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionStopped() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) ObservePass(result string, d time.Duration) {
	if m != nil {
		m.PassDuration.WithLabelValues(result).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveNotified(n int) {
	if m != nil && n > 0 {
		m.ObserversNotified.Add(float64(n))
	}
}
