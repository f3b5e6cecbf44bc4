// Package metrics exposes error-handling counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nycmg-backend/internal/apperr"
)

// Metrics counts recorded errors, AI analyses and chat turns.
type Metrics struct {
	errorsTotal   *prometheus.CounterVec
	analysesTotal *prometheus.CounterVec
	chatsTotal    *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// New registers the counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nycmg",
			Subsystem: "errors",
			Name:      "recorded_total",
			Help:      "Error records created, by kind and severity.",
		}, []string{"kind", "severity"}),
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nycmg",
			Subsystem: "ai",
			Name:      "analyses_total",
			Help:      "AI analyses by outcome.",
		}, []string{"outcome"}),
		chatsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nycmg",
			Subsystem: "ai",
			Name:      "chats_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		gatherer: reg,
	}
	reg.MustRegister(m.errorsTotal, m.analysesTotal, m.chatsTotal)
	return m
}

func (m *Metrics) ErrorRecorded(kind apperr.Kind, severity apperr.Severity) {
	m.errorsTotal.WithLabelValues(string(kind), string(severity)).Inc()
}

func (m *Metrics) AnalysisCompleted(outcome string) {
	m.analysesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ChatCompleted(outcome string) {
	m.chatsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
