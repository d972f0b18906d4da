package router

import (
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/registry"
)

const (
	// costCeilingUSD normalizes per-request cost into [0,1]. A request at or
	// above the ceiling scores 0 on the cost factor.
	costCeilingUSD = 0.50
	// latencyCeiling normalizes p75 latency into [0,1].
	latencyCeiling = 10 * time.Second
	// unknownSpeedScore is assumed before any latency history exists.
	unknownSpeedScore = 0.5
)

// breakdown computes the five factor scores for one candidate. All factors
// land in [0,1], higher is better.
func (r *Router) breakdown(cand gateway.Candidate, req *gateway.Request, perf *registry.Perf) gateway.ScoreBreakdown {
	snap := r.registry.Snapshot()
	info := snap.Providers[cand.ProviderID]
	model := snap.Model(cand.ProviderID, cand.Model)

	var b gateway.ScoreBreakdown
	if model != nil {
		b.Quality = clamp01(model.Quality)
	}
	b.Cost = 1 - clamp01(r.estimateCost(cand, req, info, perf)/costCeilingUSD)
	b.Speed = speedScore(perf)
	b.Availability = r.availability(cand.ProviderID, info)
	b.Reliability, _ = perf.SuccessRate()
	return b
}

// estimateCost predicts the USD cost of serving req on cand. Observed cost
// history wins once it exists; otherwise the declared per-token rates apply
// to the token estimate.
func (r *Router) estimateCost(cand gateway.Candidate, req *gateway.Request, info *gateway.ProviderInfo, perf *registry.Perf) float64 {
	if c := perf.CostEMA(); c > 0 {
		return c
	}
	if adapter, err := r.registry.Adapter(cand.ProviderID); err == nil {
		if c := adapter.EstimateCost(req); c > 0 {
			return c
		}
	}
	if info == nil {
		return 0
	}
	in := float64(r.counter.EstimateRequest(req))
	out := float64(max(req.MaxTokens, 256))
	return (in*info.CostInPerM + out*info.CostOutPerM) / 1_000_000
}

func speedScore(perf *registry.Perf) float64 {
	p75 := perf.P75Latency()
	if p75 == 0 {
		return unknownSpeedScore
	}
	return 1 - clamp01(float64(p75)/float64(latencyCeiling))
}

// availability is 0 when the provider's circuit is open and otherwise the
// fraction of its per-minute rate budget still unconsumed.
func (r *Router) availability(providerID string, info *gateway.ProviderInfo) float64 {
	if r.breakers.IsOpen(providerID) {
		return 0
	}
	if info == nil || info.RateBudget <= 0 {
		return 1
	}
	used := r.budget.used(providerID)
	return 1 - clamp01(float64(used)/float64(info.RateBudget))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
