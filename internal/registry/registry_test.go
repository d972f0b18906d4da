package registry

import (
	"testing"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/testutil"
)

func testCatalog() ([]*gateway.ProviderInfo, []*gateway.ModelInfo) {
	providers := []*gateway.ProviderInfo{
		{ID: "beta", Dialect: gateway.DialectOpenAIChat, Models: []string{"beta-model"}},
		{ID: "alpha", Dialect: gateway.DialectAnthropicMessages, Models: []string{"alpha-model", "shared-model"}},
	}
	models := []*gateway.ModelInfo{
		{ID: "beta-model", ProviderID: "beta", ContextWindow: 8192},
		{ID: "alpha-model", ProviderID: "alpha", ContextWindow: 200000},
		{ID: "shared-model", ProviderID: "alpha", ContextWindow: 200000},
	}
	return providers, models
}

func TestPublishSnapshot(t *testing.T) {
	t.Parallel()

	r := New()
	if v := r.Snapshot().Version; v != 0 {
		t.Fatalf("initial version = %d", v)
	}

	r.Publish(testCatalog())
	snap := r.Snapshot()
	if snap.Version != 1 {
		t.Errorf("version = %d", snap.Version)
	}
	// Provider order is sorted regardless of publish order.
	ids := snap.ProviderIDs()
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Errorf("provider ids = %v", ids)
	}
	if m := snap.Model("alpha", "alpha-model"); m == nil || m.ContextWindow != 200000 {
		t.Errorf("model lookup = %+v", m)
	}
	if snap.Model("alpha", "missing") != nil {
		t.Error("missing model should be nil")
	}
}

func TestPublishDoesNotDisturbOldSnapshot(t *testing.T) {
	t.Parallel()

	r := New()
	r.Publish(testCatalog())
	old := r.Snapshot()

	r.Publish([]*gateway.ProviderInfo{{ID: "gamma", Dialect: gateway.DialectOpenAIChat}}, nil)

	if len(old.Providers) != 2 {
		t.Errorf("old snapshot mutated: %v", old.ProviderIDs())
	}
	if got := r.Snapshot(); got.Version != 2 || len(got.Providers) != 1 {
		t.Errorf("new snapshot = v%d %v", got.Version, got.ProviderIDs())
	}
}

func TestUpsertProvider(t *testing.T) {
	t.Parallel()

	r := New()
	r.Publish(testCatalog())

	r.UpsertProvider(&gateway.ProviderInfo{ID: "gamma", Dialect: gateway.DialectCohereChat, Models: []string{"g"}},
		[]*gateway.ModelInfo{{ID: "g", ProviderID: "gamma"}})

	snap := r.Snapshot()
	if snap.Version != 2 {
		t.Errorf("version = %d", snap.Version)
	}
	ids := snap.ProviderIDs()
	if len(ids) != 3 || ids[2] != "gamma" {
		t.Errorf("provider ids = %v", ids)
	}
	// Existing entries survive an upsert.
	if snap.Model("alpha", "alpha-model") == nil {
		t.Error("existing model lost")
	}
}

func TestSetModelLoaded(t *testing.T) {
	t.Parallel()

	r := New()
	r.Publish(testCatalog())

	if err := r.SetModelLoaded("alpha", "alpha-model", true); err != nil {
		t.Fatalf("SetModelLoaded: %v", err)
	}
	if !r.Snapshot().Model("alpha", "alpha-model").Loaded {
		t.Error("loaded flag not set")
	}

	err := r.SetModelLoaded("alpha", "missing", true)
	if gateway.KindOf(err) != gateway.KindNotFound {
		t.Errorf("kind = %q", gateway.KindOf(err))
	}
}

func TestAdapters(t *testing.T) {
	t.Parallel()

	r := New()
	if _, err := r.Adapter("alpha"); err == nil {
		t.Fatal("unregistered adapter should error")
	}

	p := &testutil.FakeProvider{ProviderName: "alpha"}
	r.RegisterAdapter("alpha", p)
	got, err := r.Adapter("alpha")
	if err != nil || got != gateway.Provider(p) {
		t.Fatalf("Adapter = %v, %v", got, err)
	}
	r.RegisterAdapter("beta", &testutil.FakeProvider{ProviderName: "beta"})
	ids := r.AdapterIDs()
	if len(ids) != 2 || ids[0] != "alpha" {
		t.Errorf("adapter ids = %v", ids)
	}
}

func TestCandidatesFor(t *testing.T) {
	t.Parallel()

	r := New()
	r.Publish(testCatalog())
	snap := r.Snapshot()

	all := snap.CandidatesFor("")
	if len(all) != 3 {
		t.Fatalf("all candidates = %+v", all)
	}
	if all[0].ProviderID != "alpha" {
		t.Errorf("candidate order = %+v", all)
	}

	one := snap.CandidatesFor("beta-model")
	if len(one) != 1 || one[0].ProviderID != "beta" {
		t.Errorf("candidates = %+v", one)
	}
}

func TestPerfWindow(t *testing.T) {
	t.Parallel()

	r := New()
	p := r.Perf("alpha", "alpha-model")
	if p != r.Perf("alpha", "alpha-model") {
		t.Fatal("Perf must return the same window per pair")
	}

	rate, n := p.SuccessRate()
	if rate != 0.8 || n != 0 {
		t.Errorf("empty window success rate = %v, %d", rate, n)
	}
	if p.P75Latency() != 0 {
		t.Errorf("empty window p75 = %v", p.P75Latency())
	}

	for i := 0; i < 10; i++ {
		p.Observe(100*time.Millisecond, 0.001, 50, true)
	}
	p.Observe(900*time.Millisecond, 0.002, 50, false)

	rate, n = p.SuccessRate()
	if n != 11 {
		t.Errorf("samples = %d", n)
	}
	if rate <= 0.7 || rate >= 1 {
		t.Errorf("success rate = %v", rate)
	}
	if p75 := p.P75Latency(); p75 < 100*time.Millisecond || p75 > 900*time.Millisecond {
		t.Errorf("p75 = %v", p75)
	}
	if p.LatencyEMA() <= 0 || p.TPS() <= 0 || p.CostEMA() <= 0 {
		t.Errorf("EMAs = %v %v %v", p.LatencyEMA(), p.TPS(), p.CostEMA())
	}
}
