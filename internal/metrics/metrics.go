// Package metrics exposes Prometheus instruments for exchanges and compaction.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	exchanges   *prometheus.CounterVec
	compactions *prometheus.CounterVec
	generation  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edulearn",
			Name:      "exchanges_total",
			Help:      "Question/answer exchanges by delivery mode and outcome.",
		}, []string{"mode", "outcome"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edulearn",
			Name:      "compactions_total",
			Help:      "Session compaction attempts by outcome.",
		}, []string{"outcome"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "edulearn",
			Name:      "generation_duration_seconds",
			Help:      "Latency of answer generation including streaming.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"mode"}),
	}
	if reg != nil {
		reg.MustRegister(m.exchanges, m.compactions, m.generation)
	}
	return m
}

func (m *Metrics) ObserveExchange(mode, outcome string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) ObserveCompaction(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.compactions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGeneration(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(mode).Observe(d.Seconds())
}

// Exchanges returns the counter for tests and dashboards wired in-process.
func (m *Metrics) Exchanges() *prometheus.CounterVec { return m.exchanges }

func (m *Metrics) Compactions() *prometheus.CounterVec { return m.compactions }
