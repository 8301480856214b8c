// Package metrics holds the Prometheus collectors the engine updates.
//
//	fxexec_cycles_total{result}        cycles by result (ok|halt|error|busy)
//	fxexec_outcomes_total{status}      ledger outcomes (filled|failed|skipped|dry_run)
//	fxexec_skips_total{reason}         skipped signals by reason code
//	fxexec_halts_total{reason}         hard stops by reason code
//	fxexec_equity                      last equity seen
//	fxexec_daily_drawdown_ratio        drawdown against the day's baseline
//	fxexec_cycle_duration_seconds      cycle wall time
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	cycles   *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	skips    *prometheus.CounterVec
	halts    *prometheus.CounterVec
	equity   prometheus.Gauge
	drawdown prometheus.Gauge
	duration prometheus.Histogram
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxexec_cycles_total",
			Help: "Execution cycles by result",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxexec_outcomes_total",
			Help: "Ledger outcomes written",
		}, []string{"status"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxexec_skips_total",
			Help: "Skipped signals by reason",
		}, []string{"reason"}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxexec_halts_total",
			Help: "Hard stops by reason",
		}, []string{"reason"}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxexec_equity",
			Help: "Account equity at the start of the last cycle",
		}),
		drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxexec_daily_drawdown_ratio",
			Help: "Drawdown against the day's equity baseline",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxexec_cycle_duration_seconds",
			Help:    "Execution cycle wall time",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.cycles, m.outcomes, m.skips, m.halts, m.equity, m.drawdown, m.duration)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// The recorders below are no-ops on a nil *Metrics.

func (m *Metrics) Cycle(result string, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) Outcome(status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) Skip(reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(reason).Inc()
}

func (m *Metrics) Halt(reason string) {
	if m == nil {
		return
	}
	m.halts.WithLabelValues(reason).Inc()
}

func (m *Metrics) Equity(equity, drawdown float64) {
	if m == nil {
		return
	}
	m.equity.Set(equity)
	m.drawdown.Set(drawdown)
}
