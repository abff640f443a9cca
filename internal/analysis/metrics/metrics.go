package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for analysis runs.
type Metrics struct {
	// Run latency by outcome: available, unavailable or an error code
	RunDuration *prometheus.HistogramVec

	ArchiveFailures prometheus.Counter

	BreakerOpen prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockwatch_analysis_run_duration_seconds",
			Help:    "Duration of analysis runs by outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 60},
		}, []string{"outcome"}),
		ArchiveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "stockwatch_analysis_archive_failures_total",
			Help: "Reports that could not be archived",
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockwatch_analysis_breaker_open",
			Help: "1 while the summarization circuit breaker is open",
		}),
	}
}

func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m != nil {
		m.RunDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementArchiveFailure() {
	if m != nil {
		m.ArchiveFailures.Inc()
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
