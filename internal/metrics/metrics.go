package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	registry *prometheus.Registry

	// Turn metrics
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	// Stream metrics
	EnvelopesTotal   *prometheus.CounterVec
	DecodeDropsTotal prometheus.Counter

	// Refresh metrics
	RefreshSignalsTotal prometheus.Counter

	// Proposal metrics
	ProposalsTotal        *prometheus.CounterVec
	ProposalsIgnoredTotal prometheus.Counter
}

// New creates and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turns_total",
				Help: "Total number of conversational turns by terminal outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "turn_duration_seconds",
				Help:    "Duration of conversational turns in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		EnvelopesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stream_envelopes_total",
				Help: "Total number of stream envelopes processed by kind",
			},
			[]string{"kind"},
		),
		DecodeDropsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stream_decode_drops_total",
				Help: "Total number of stream lines dropped as undecodable",
			},
		),

		RefreshSignalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "task_refresh_signals_total",
				Help: "Total number of task-list refresh triggers observed",
			},
		),

		ProposalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proposals_total",
				Help: "Total number of proposals surfaced by kind",
			},
			[]string{"kind"},
		),
		ProposalsIgnoredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "proposals_ignored_total",
				Help: "Total number of extra proposal results dropped by first-proposal-wins",
			},
		),
	}

	m.registerMetrics()
	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.TurnsTotal)
	m.registry.MustRegister(m.TurnDuration)
	m.registry.MustRegister(m.EnvelopesTotal)
	m.registry.MustRegister(m.DecodeDropsTotal)
	m.registry.MustRegister(m.RefreshSignalsTotal)
	m.registry.MustRegister(m.ProposalsTotal)
	m.registry.MustRegister(m.ProposalsIgnoredTotal)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
