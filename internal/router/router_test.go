package router

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/circuitbreaker"
	"github.com/llmrouter/gateway/internal/registry"
	"github.com/llmrouter/gateway/internal/testutil"
)

const allCaps = gateway.CapText | gateway.CapChat | gateway.CapStreaming |
	gateway.CapEmbeddings | gateway.CapFunctionCalling

func testCatalog() (*registry.Registry, *circuitbreaker.Registry) {
	reg := registry.New()
	reg.Publish(
		[]*gateway.ProviderInfo{
			{ID: "alpha", Dialect: gateway.DialectOpenAIChat, Capabilities: allCaps,
				CostInPerM: 10, CostOutPerM: 30, RateBudget: 100, Models: []string{"alpha-large", "alpha-mini"}},
			{ID: "beta", Dialect: gateway.DialectAnthropicMessages, Capabilities: allCaps,
				CostInPerM: 3, CostOutPerM: 15, RateBudget: 100, Models: []string{"beta-large"}},
			{ID: "gamma", Dialect: gateway.DialectOpenAIChat, Capabilities: gateway.CapChat | gateway.CapText,
				CostInPerM: 0.5, CostOutPerM: 1.5, RateBudget: 100, Models: []string{"gamma-small"}},
		},
		[]*gateway.ModelInfo{
			{ID: "alpha-large", ProviderID: "alpha", ContextWindow: 128000, Capabilities: allCaps, Quality: 0.95},
			{ID: "alpha-mini", ProviderID: "alpha", ContextWindow: 16000, Capabilities: allCaps, Quality: 0.70},
			{ID: "beta-large", ProviderID: "beta", ContextWindow: 200000, Capabilities: allCaps, Quality: 0.90},
			{ID: "gamma-small", ProviderID: "gamma", ContextWindow: 4000, Capabilities: gateway.CapChat | gateway.CapText, Quality: 0.50},
		},
	)
	costs := map[string]float64{"alpha": 0.10, "beta": 0.05, "gamma": 0.001}
	for id, c := range costs {
		reg.RegisterAdapter(id, &testutil.FakeProvider{
			ProviderName: id,
			CostFn:       func(*gateway.Request) float64 { return c },
		})
	}
	return reg, circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
}

func newTestRouter(t *testing.T) (*Router, *registry.Registry, *circuitbreaker.Registry) {
	t.Helper()
	reg, brk := testCatalog()
	return New(reg, brk, StrategyBalanced, slog.New(slog.DiscardHandler)), reg, brk
}

func TestSelectQualityFirst(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	d, err := r.Select(context.Background(), &gateway.Request{Prompt: "hi"}, StrategyQualityFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Chosen.ProviderID != "alpha" || d.Chosen.Model != "alpha-large" {
		t.Fatalf("chosen = %s:%s, want alpha:alpha-large", d.Chosen.ProviderID, d.Chosen.Model)
	}
	if len(d.Fallbacks) == 0 {
		t.Fatal("expected a fallback chain")
	}
}

func TestSelectDeterministicForIdenticalState(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	req := &gateway.Request{Prompt: "hi"}
	first, err := r.Select(context.Background(), req, StrategyQualityFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for i := 0; i < 5; i++ {
		d, err := r.Select(context.Background(), req, StrategyQualityFirst)
		if err != nil {
			t.Fatalf("Select #%d: %v", i, err)
		}
		got, want := d.Candidates(), first.Candidates()
		if len(got) != len(want) {
			t.Fatalf("candidate count changed: %d vs %d", len(got), len(want))
		}
		for j := range got {
			if got[j] != want[j] {
				t.Fatalf("candidate %d changed: %+v vs %+v", j, got[j], want[j])
			}
		}
	}
}

func TestSelectCostOptimizedPrefersCheapest(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	d, err := r.Select(context.Background(), &gateway.Request{Prompt: "hi"}, StrategyCostOptimized)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// gamma is the cheapest chat-capable provider.
	if d.Chosen.ProviderID != "gamma" {
		t.Fatalf("chosen provider = %s, want gamma", d.Chosen.ProviderID)
	}
}

func TestSelectExcludesOpenCircuit(t *testing.T) {
	t.Parallel()
	r, _, brk := newTestRouter(t)

	b := brk.GetOrCreate("alpha")
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.State() != circuitbreaker.StateOpen {
		t.Fatal("breaker should be open")
	}

	d, err := r.Select(context.Background(), &gateway.Request{Prompt: "hi"}, StrategyQualityFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Chosen.ProviderID == "alpha" {
		t.Fatal("open-circuit provider must be excluded")
	}
	for _, fb := range d.Fallbacks {
		if fb.ProviderID == "alpha" {
			t.Fatal("open-circuit provider must not appear in fallbacks")
		}
	}
}

func TestSelectToolsRequireFunctionCalling(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	req := &gateway.Request{
		Prompt: "hi",
		Tools:  []gateway.Tool{{Name: "get_weather"}},
	}
	d, err := r.Select(context.Background(), req, StrategyCostOptimized)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Chosen.ProviderID == "gamma" {
		t.Fatal("gamma lacks function calling and must be filtered")
	}
}

func TestSelectContextWindowFilter(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	// ~25k estimated prompt tokens excludes alpha-mini (16k) and gamma (4k).
	long := make([]byte, 100_000)
	for i := range long {
		long[i] = 'a'
	}
	req := &gateway.Request{Prompt: string(long), MaxTokens: 1000}
	d, err := r.Select(context.Background(), req, StrategyBalanced)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, c := range append([]gateway.Candidate{d.Chosen}, d.Fallbacks...) {
		if c.Model == "alpha-mini" || c.Model == "gamma-small" {
			t.Fatalf("small-context model %s must be filtered", c.Model)
		}
	}
}

func TestSelectNoCandidate(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	req := &gateway.Request{Prompt: "hi", Model: "nonexistent", Pin: true}
	_, err := r.Select(context.Background(), req, StrategyBalanced)
	if gateway.KindOf(err) != gateway.KindNoCandidate {
		t.Fatalf("err kind = %v, want no_candidate", gateway.KindOf(err))
	}
}

func TestSelectModelHintWidensWhenUnknown(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	req := &gateway.Request{Prompt: "hi", Model: "nonexistent"}
	d, err := r.Select(context.Background(), req, StrategyBalanced)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Chosen.ProviderID == "" {
		t.Fatal("hint should widen to the full catalog")
	}
}

func TestSelectUnknownStrategy(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	_, err := r.Select(context.Background(), &gateway.Request{Prompt: "hi"}, "coin-flip")
	if gateway.KindOf(err) != gateway.KindInvalidRequest {
		t.Fatalf("err kind = %v, want invalid_request", gateway.KindOf(err))
	}
}

func TestSelectMinQualityFilter(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	req := &gateway.Request{Prompt: "hi", MinQuality: 0.8}
	d, err := r.Select(context.Background(), req, StrategyCostOptimized)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, c := range append([]gateway.Candidate{d.Chosen}, d.Fallbacks...) {
		if c.Model == "gamma-small" || c.Model == "alpha-mini" {
			t.Fatalf("model %s below quality floor must be filtered", c.Model)
		}
	}
}

func TestFallbackChainFollowsConfiguredOrder(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	d, err := r.Select(context.Background(), &gateway.Request{Prompt: "hi"}, StrategyFallbackChain)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	// Provider order is lexicographic: alpha first regardless of scores.
	if d.Chosen.ProviderID != "alpha" {
		t.Fatalf("chosen provider = %s, want alpha", d.Chosen.ProviderID)
	}
}

func TestOnResultUpdatesPerformanceWindow(t *testing.T) {
	t.Parallel()
	r, reg, _ := newTestRouter(t)

	d := &gateway.Decision{Features: gateway.RequestFeatures{LengthBucket: "short", Complexity: "low", Domain: "general"}}
	out := &gateway.Outcome{ProviderID: "alpha", Model: "alpha-large", Latency: 800 * time.Millisecond, CostUSD: 0.01, TokensOut: 120}
	r.OnResult(d, out)

	perf := reg.Perf("alpha", "alpha-large")
	if got, n := perf.SuccessRate(); n != 1 || got <= 0.5 {
		t.Fatalf("SuccessRate = %v (n=%d), want one successful sample", got, n)
	}
	if perf.CostEMA() == 0 {
		t.Fatal("cost EMA should reflect the observed outcome")
	}
}

func TestAdaptiveHistoryDemotesFailingCandidate(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	req := &gateway.Request{Prompt: "hi"}
	first, err := r.Select(ctx, req, StrategyBalanced)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	// Feed enough failures for the adaptive cell to go active.
	for i := 0; i < 25; i++ {
		r.OnResult(first, &gateway.Outcome{
			ProviderID: first.Chosen.ProviderID,
			Model:      first.Chosen.Model,
			Err:        errors.New("boom"),
			Latency:    5 * time.Second,
		})
	}

	second, err := r.Select(ctx, req, StrategyBalanced)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if second.Chosen.ProviderID == first.Chosen.ProviderID && second.Chosen.Model == first.Chosen.Model {
		t.Fatal("repeated failures should demote the candidate for similar requests")
	}
}

func TestLearnerEvictStale(t *testing.T) {
	t.Parallel()
	l := NewLearner()
	f := gateway.RequestFeatures{LengthBucket: "short", Complexity: "low", Domain: "general"}
	l.Observe(f, gateway.Candidate{ProviderID: "alpha", Model: "m"}, &gateway.Outcome{})

	if n := l.EvictStale(time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("EvictStale = %d, want 1", n)
	}
}

func TestRegisterStrategyOverride(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	r.RegisterStrategy("always-beta", strategyFunc(func(s Stats) float64 {
		return s.Breakdown.Reliability
	}))
	if _, err := r.Select(context.Background(), &gateway.Request{Prompt: "hi"}, "always-beta"); err != nil {
		t.Fatalf("Select with custom strategy: %v", err)
	}
}

type strategyFunc func(Stats) float64

func (strategyFunc) Name() string          { return "custom" }
func (f strategyFunc) Score(s Stats) float64 { return f(s) }

func TestQualityFirstIgnoresOperationalHistory(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	// Slow, failing history on the highest-quality model must not displace
	// it under quality-first; the policy ranks on declared quality alone.
	d := &gateway.Decision{Features: gateway.RequestFeatures{LengthBucket: "short", Complexity: "low", Domain: "general"}}
	for i := 0; i < 30; i++ {
		r.OnResult(d, &gateway.Outcome{
			ProviderID: "alpha",
			Model:      "alpha-large",
			Err:        errors.New("boom"),
			Latency:    8 * time.Second,
		})
	}

	got, err := r.Select(ctx, &gateway.Request{Prompt: "hi"}, StrategyQualityFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Chosen.ProviderID != "alpha" || got.Chosen.Model != "alpha-large" {
		t.Fatalf("chosen = %s:%s, want alpha:alpha-large despite bad history", got.Chosen.ProviderID, got.Chosen.Model)
	}
}

func TestSpeedPriorityPrefersLowestLatency(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	d := &gateway.Decision{}
	for i := 0; i < 10; i++ {
		r.OnResult(d, &gateway.Outcome{ProviderID: "alpha", Model: "alpha-large", Latency: 2 * time.Second})
		r.OnResult(d, &gateway.Outcome{ProviderID: "beta", Model: "beta-large", Latency: 100 * time.Millisecond})
	}

	got, err := r.Select(ctx, &gateway.Request{Prompt: "hi"}, StrategySpeedPriority)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Chosen.ProviderID != "beta" {
		t.Fatalf("chosen provider = %s, want beta (lowest p75)", got.Chosen.ProviderID)
	}
}

func TestSpeedPriorityFiltersDeadlineMisses(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	d := &gateway.Decision{}
	for i := 0; i < 10; i++ {
		r.OnResult(d, &gateway.Outcome{ProviderID: "alpha", Model: "alpha-large", Latency: 2 * time.Second})
		r.OnResult(d, &gateway.Outcome{ProviderID: "beta", Model: "beta-large", Latency: 100 * time.Millisecond})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	got, err := r.Select(ctx, &gateway.Request{Prompt: "hi"}, StrategySpeedPriority)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, c := range got.Candidates() {
		if c.ProviderID == "alpha" && c.Model == "alpha-large" {
			t.Fatal("alpha-large cannot meet the deadline and must be filtered")
		}
	}
}

func TestLoadBalancedAvoidsBusyProvider(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	for i := 0; i < 5; i++ {
		r.BeginDispatch("alpha")
	}
	got, err := r.Select(context.Background(), &gateway.Request{Prompt: "hi"}, StrategyLoadBalanced)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Chosen.ProviderID == "alpha" {
		t.Fatal("load-balanced must prefer an idle provider over a busy one")
	}
}

func TestLoadBalancedRotatesEqualLoads(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		d, err := r.Select(context.Background(), &gateway.Request{Prompt: "hi"}, StrategyLoadBalanced)
		if err != nil {
			t.Fatalf("Select #%d: %v", i, err)
		}
		seen[d.Chosen.ProviderID+":"+d.Chosen.Model] = true
	}
	if len(seen) < 2 {
		t.Fatalf("chosen set = %v, want rotation across idle candidates", seen)
	}
}

func TestBeginDispatchReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t)

	done := r.BeginDispatch("alpha")
	done()
	done()
	r.BeginDispatch("alpha")
	if n := r.loads.current("alpha"); n != 1 {
		t.Fatalf("inflight = %d, want 1 after double release", n)
	}
}
