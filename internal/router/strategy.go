package router

import (
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

// Strategy names accepted by Select.
const (
	StrategyQualityFirst  = "quality-first"
	StrategyCostOptimized = "cost-optimized"
	StrategySpeedPriority = "speed-priority"
	StrategyBalanced      = "balanced"
	StrategyLoadBalanced  = "load-balanced"
	StrategyFallbackChain = "fallback-chain"
)

// Weights are the per-factor coefficients a weighted strategy applies to a
// candidate's score breakdown. They need not sum to 1; ranking only compares
// candidates under the same weights.
type Weights struct {
	Quality      float64
	Cost         float64
	Speed        float64
	Availability float64
	Reliability  float64
}

// Stats carries the per-candidate inputs a strategy ranks on. Breakdown
// holds the normalized factor scores; the raw fields beside it let single-key
// policies sort without re-deriving them.
type Stats struct {
	Breakdown gateway.ScoreBreakdown
	CostUSD   float64       // estimated request cost
	P75       time.Duration // observed p75 latency, zero when unknown
	Load      float64       // in-flight fraction of the provider's cap
	Rotation  int           // round-robin offset within the candidate pool
	Deadline  time.Duration // remaining request deadline, zero when none
	Position  int           // candidate's index in the configured order
}

// Strategy ranks candidates; higher scores sort first.
type Strategy interface {
	Name() string
	Score(s Stats) float64
}

// admitter is an optional Strategy extension that rejects candidates the
// policy cannot serve. It runs after the router's hard filters.
type admitter interface {
	Admit(s Stats) bool
}

// weighted is a linear-combination strategy over the factor breakdown. The
// adaptive learner adjusts weighted scores only; single-key policies keep
// their declared sort order.
type weighted struct {
	name string
	w    Weights
}

func (s *weighted) Name() string { return s.name }

func (s *weighted) Score(st Stats) float64 {
	b := st.Breakdown
	return s.w.Quality*b.Quality +
		s.w.Cost*b.Cost +
		s.w.Speed*b.Speed +
		s.w.Availability*b.Availability +
		s.w.Reliability*b.Reliability
}

// qualityFirst ranks by declared model quality alone. The minimum-quality
// floor has already run in the hard filters.
type qualityFirst struct{}

func (qualityFirst) Name() string          { return StrategyQualityFirst }
func (qualityFirst) Score(s Stats) float64 { return s.Breakdown.Quality }

// costOptimized ranks by estimated request cost, cheapest first. The
// per-request cost ceiling has already run in the hard filters.
type costOptimized struct{}

func (costOptimized) Name() string          { return StrategyCostOptimized }
func (costOptimized) Score(s Stats) float64 { return -s.CostUSD }

// speedPriority ranks by observed p75 latency, fastest first. Providers with
// no history rank as if at the latency ceiling. Candidates whose p75 cannot
// meet the remaining request deadline are rejected.
type speedPriority struct{}

func (speedPriority) Name() string { return StrategySpeedPriority }

func (speedPriority) Score(s Stats) float64 {
	p75 := s.P75
	if p75 <= 0 {
		p75 = latencyCeiling
	}
	return -p75.Seconds()
}

func (speedPriority) Admit(s Stats) bool {
	if s.Deadline <= 0 || s.P75 <= 0 {
		return true
	}
	return s.P75 <= s.Deadline
}

// loadBalanced ranks by in-flight load, least loaded first. The rotation
// offset breaks load ties round-robin; its bias sits far below the smallest
// possible load step, so it never overrides a real difference.
type loadBalanced struct{}

func (loadBalanced) Name() string { return StrategyLoadBalanced }

func (loadBalanced) Score(s Stats) float64 {
	return -s.Load - float64(s.Rotation)*1e-9
}

// chain ranks by configured provider order alone; earlier is better. Health
// still applies through the hard filters, so an open circuit skips a link.
type chain struct{}

func (chain) Name() string { return StrategyFallbackChain }

func (chain) Score(s Stats) float64 {
	return 1.0 / float64(s.Position+1)
}

func builtinStrategies() map[string]Strategy {
	return map[string]Strategy{
		StrategyQualityFirst:  qualityFirst{},
		StrategyCostOptimized: costOptimized{},
		StrategySpeedPriority: speedPriority{},
		StrategyBalanced: &weighted{StrategyBalanced, Weights{
			Quality: 0.30, Cost: 0.20, Speed: 0.20, Availability: 0.15, Reliability: 0.15,
		}},
		StrategyLoadBalanced:  loadBalanced{},
		StrategyFallbackChain: chain{},
	}
}

// applyModifiers returns a copy of s with request-context weight boosts.
// Urgent requests weigh speed 1.5x; budget-mode requests weigh cost 1.5x.
// Single-key strategies pass through unchanged.
func applyModifiers(s Strategy, req *gateway.Request) Strategy {
	w, ok := s.(*weighted)
	if !ok || (!req.Urgent && !req.BudgetMode) {
		return s
	}
	mod := *w
	if req.Urgent {
		mod.w.Speed *= 1.5
	}
	if req.BudgetMode {
		mod.w.Cost *= 1.5
	}
	return &mod
}
