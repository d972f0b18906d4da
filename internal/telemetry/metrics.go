// Package telemetry provides observability primitives for the LLM router.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	ProviderDuration *prometheus.HistogramVec
	ProviderResults  *prometheus.CounterVec
	RoutingDecisions *prometheus.CounterVec
	FallbacksTotal   *prometheus.CounterVec
	BreakerOpens     *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	RateLimitRejects *prometheus.CounterVec
	TokensProcessed  *prometheus.CounterVec
	CostUSD          *prometheus.CounterVec
	UsageQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "llmrouter",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmrouter",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "llmrouter",
			Name:                            "provider_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		ProviderResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "provider_results_total",
			Help:      "Provider call outcomes by provider and result.",
		}, []string{"provider", "result"}),

		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by strategy and selected provider.",
		}, []string{"strategy", "provider"}),

		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "fallbacks_total",
			Help:      "Requests that fell back past the first selected provider.",
		}, []string{"provider"}),

		BreakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "breaker_opens_total",
			Help:      "Circuit breaker open transitions per provider.",
		}, []string{"provider"}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"type"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "cost_usd_total",
			Help:      "Accumulated upstream spend in US dollars.",
		}, []string{"provider", "model"}),

		UsageQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "llmrouter",
			Name:      "usage_queue_length",
			Help:      "Current number of queued usage records.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ProviderDuration,
		m.ProviderResults,
		m.RoutingDecisions,
		m.FallbacksTotal,
		m.BreakerOpens,
		m.CacheHits,
		m.CacheMisses,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.CostUSD,
		m.UsageQueueLength,
	)

	return m
}
