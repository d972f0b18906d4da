package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsRegistersAll(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil || m.RequestDuration == nil || m.ActiveRequests == nil {
		t.Fatal("request metrics not constructed")
	}
	if m.ProviderDuration == nil || m.ProviderResults == nil || m.RoutingDecisions == nil {
		t.Fatal("provider metrics not constructed")
	}
	if m.FallbacksTotal == nil || m.BreakerOpens == nil {
		t.Fatal("resilience metrics not constructed")
	}
	if m.CacheHits == nil || m.CacheMisses == nil || m.RateLimitRejects == nil {
		t.Fatal("cache/limit metrics not constructed")
	}
	if m.TokensProcessed == nil || m.CostUSD == nil || m.UsageQueueLength == nil {
		t.Fatal("usage metrics not constructed")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "/v1/inference", "200").Inc()
	m.RoutingDecisions.WithLabelValues("balanced", "openai-main").Inc()
	m.ProviderResults.WithLabelValues("openai-main", "success").Inc()
	m.CostUSD.WithLabelValues("openai-main", "gpt-test").Add(0.0042)
	m.CacheHits.Inc()
	m.ActiveRequests.Set(3)
	m.RequestDuration.WithLabelValues("POST", "/v1/inference").Observe(0.123)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"llmrouter_requests_total",
		"llmrouter_routing_decisions_total",
		"llmrouter_provider_results_total",
		"llmrouter_cost_usd_total",
		"llmrouter_cache_hits_total",
		"llmrouter_active_requests",
		"llmrouter_request_duration_seconds",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
