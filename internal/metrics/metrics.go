// Package metrics provides Prometheus metrics for the access engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	ChecksTotal     *prometheus.CounterVec
	MutationsTotal  *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	GrantsActive    *prometheus.GaugeVec
	TokensActive    prometheus.Gauge
	RequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_checks_total",
				Help: "Total permission checks by result.",
			},
			[]string{"result"},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_mutations_total",
				Help: "Total engine mutations by operation and status.",
			},
			[]string{"op", "status"},
		),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "access_persist_failures_total",
				Help: "Persistence failures by collection.",
			},
			[]string{"collection"},
		),
		GrantsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "access_grants_active",
				Help: "Stored grants by kind (elevated, emergency).",
			},
			[]string{"kind"},
		),
		TokensActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "access_tokens_active",
				Help: "Number of stored access tokens.",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "access_http_request_duration_seconds",
				Help:    "HTTP request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		registry: reg,
	}

	reg.MustRegister(m.ChecksTotal)
	reg.MustRegister(m.MutationsTotal)
	reg.MustRegister(m.PersistFailures)
	reg.MustRegister(m.GrantsActive)
	reg.MustRegister(m.TokensActive)
	reg.MustRegister(m.RequestDuration)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCheck increments the permission check counter.
func (m *Metrics) RecordCheck(granted bool) {
	result := "denied"
	if granted {
		result = "granted"
	}
	m.ChecksTotal.WithLabelValues(result).Inc()
}

// RecordMutation increments the mutation counter.
func (m *Metrics) RecordMutation(op, status string) {
	m.MutationsTotal.WithLabelValues(op, status).Inc()
}

// RecordPersistFailure increments the persistence failure counter.
func (m *Metrics) RecordPersistFailure(collection string) {
	m.PersistFailures.WithLabelValues(collection).Inc()
}

// SetGrants sets the stored grant count for a kind.
func (m *Metrics) SetGrants(kind string, count float64) {
	m.GrantsActive.WithLabelValues(kind).Set(count)
}

// SetTokens sets the stored token count.
func (m *Metrics) SetTokens(count float64) {
	m.TokensActive.Set(count)
}

// ObserveDuration records HTTP request duration.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}
