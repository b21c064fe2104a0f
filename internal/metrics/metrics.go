// Package metrics implements GET /metrics in Prometheus exposition
// format, replacing the teacher's atomic-counter Metrics struct
// (internal/gateway/metrics.go) with a real prometheus.Registry: request
// counters by outcome, upstream call latency by provider, a gauge of
// provider health state, a dedup hit counter, and a gauge of active
// broadcaster subscriber count.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels used on RequestsTotal, mirroring internal/health.Outcome
// plus the pipeline-level outcomes that never reach a provider at all.
const (
	OutcomeSuccess  = "success"
	OutcomeNoRoute  = "no_route"
	OutcomeAllDown  = "all_unhealthy"
	OutcomeError    = "error"
	OutcomeDedupHit = "dedup_hit"
)

// Registry holds every relaymux metric and the prometheus.Registerer they
// are registered against. Safe for concurrent use — every exported field
// is a prometheus collector, already safe for concurrent use on its own.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	ProviderHealthState *prometheus.GaugeVec
	DedupHitsTotal      prometheus.Counter
	ActiveSubscribers   prometheus.Gauge
}

// New builds a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaymux",
			Name:      "requests_total",
			Help:      "Total number of /v1/messages requests handled, by outcome.",
		}, []string{"outcome"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaymux",
			Name:      "upstream_call_duration_seconds",
			Help:      "Latency of upstream provider calls, by provider and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		ProviderHealthState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relaymux",
			Name:      "provider_healthy",
			Help:      "1 if the provider is currently selectable, 0 if in cooldown.",
		}, []string{"provider"}),
		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaymux",
			Name:      "dedup_hits_total",
			Help:      "Total number of requests served from an in-flight duplicate instead of a new upstream call.",
		}),
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaymux",
			Name:      "broadcaster_active_subscribers",
			Help:      "Current number of subscribers attached across all live stream broadcasters.",
		}),
	}

	reg.MustRegister(
		r.RequestsTotal,
		r.UpstreamLatency,
		r.ProviderHealthState,
		r.DedupHitsTotal,
		r.ActiveSubscribers,
	)
	return r
}

// Handler returns the http.Handler to mount at GET /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetProviderHealthy records a provider's current selectability as 1 or 0.
func (r *Registry) SetProviderHealthy(provider string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.ProviderHealthState.WithLabelValues(provider).Set(v)
}
