package alerts

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects monitor counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	checks        *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	checkDuration prometheus.Histogram
	publishErrors prometheus.Counter
	monitoring    prometheus.Gauge
}

// NewMetrics registers the monitor metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alertmonitor",
				Name:      "checks_total",
				Help:      "Portfolio checks by outcome",
			},
			[]string{"outcome"},
		),
		alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alertmonitor",
				Name:      "alerts_total",
				Help:      "Alerts generated by type and severity",
			},
			[]string{"type", "severity"},
		),
		checkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "alertmonitor",
				Name:      "check_duration_seconds",
				Help:      "Duration of a single portfolio check",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		publishErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "alertmonitor",
				Name:      "publish_errors_total",
				Help:      "Alert batches whose publication failed",
			},
		),
		monitoring: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "alertmonitor",
				Name:      "monitoring_running",
				Help:      "1 while scheduled monitoring is running",
			},
		),
	}
}

func (m *Metrics) observeCheck(outcome CheckOutcome, d time.Duration) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(string(outcome)).Inc()
	if outcome != CheckConflict && outcome != CheckSkipped {
		m.checkDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeAlerts(alerts []Alert) {
	if m == nil {
		return
	}
	for _, a := range alerts {
		m.alerts.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	}
}

func (m *Metrics) observePublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

func (m *Metrics) setRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.monitoring.Set(1)
	} else {
		m.monitoring.Set(0)
	}
}
