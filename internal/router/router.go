// Package router selects a (provider, model) candidate chain for each
// request. Selection reads the registry snapshot, breaker states, in-flight
// counts, and performance windows, and produces an ordered decision without
// dispatching anything. Outcomes are fed back through OnResult; in-flight
// load is bracketed by BeginDispatch.
package router

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/circuitbreaker"
	"github.com/llmrouter/gateway/internal/registry"
	"github.com/llmrouter/gateway/internal/tokencount"
)

// Router scores registry candidates under a named strategy.
type Router struct {
	registry *registry.Registry
	breakers *circuitbreaker.Registry
	learner  *Learner
	budget   *budgetTracker
	loads    *loadTracker
	counter  *tokencount.Counter
	log      *slog.Logger
	rr       atomic.Uint64 // round-robin draw for load-tie rotation

	mu              sync.RWMutex
	strategies      map[string]Strategy
	defaultStrategy string
}

// New creates a Router with the six built-in strategies registered.
func New(reg *registry.Registry, breakers *circuitbreaker.Registry, defaultStrategy string, log *slog.Logger) *Router {
	if defaultStrategy == "" {
		defaultStrategy = StrategyBalanced
	}
	return &Router{
		registry:        reg,
		breakers:        breakers,
		learner:         NewLearner(),
		budget:          newBudgetTracker(),
		loads:           newLoadTracker(),
		counter:         tokencount.NewCounter(),
		log:             log,
		strategies:      builtinStrategies(),
		defaultStrategy: defaultStrategy,
	}
}

// Learner exposes the adaptive history for janitor sweeps.
func (r *Router) Learner() *Learner { return r.learner }

// BeginDispatch registers an in-flight call against providerID for load
// tracking and returns its paired release. The release is idempotent.
func (r *Router) BeginDispatch(providerID string) func() {
	r.loads.acquire(providerID)
	var once sync.Once
	return func() { once.Do(func() { r.loads.release(providerID) }) }
}

// RegisterStrategy installs or replaces a named strategy.
func (r *Router) RegisterStrategy(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

func (r *Router) strategy(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultStrategy
	}
	s, ok := r.strategies[name]
	return s, ok
}

type scored struct {
	cand     gateway.Candidate
	score    float64
	overview gateway.ScoreBreakdown
}

// Select ranks the eligible candidates for req under the named strategy and
// returns the chosen candidate plus the ordered fallback chain. It never
// retries and never blocks on providers.
func (r *Router) Select(ctx context.Context, req *gateway.Request, strategyName string) (*gateway.Decision, error) {
	strat, ok := r.strategy(strategyName)
	if !ok {
		return nil, gateway.E(gateway.KindInvalidRequest, "unknown routing strategy %q", strategyName)
	}
	strat = applyModifiers(strat, req)

	snap := r.registry.Snapshot()
	pool := snap.CandidatesFor(req.Model)
	if len(pool) == 0 && req.Model != "" && !req.Pin {
		// Model was a hint; widen to the full catalog.
		pool = snap.CandidatesFor("")
	}

	features := ExtractFeatures(req, r.counter)
	inTokens := r.counter.EstimateRequest(req)
	need := requiredCaps(req)

	var deadline time.Duration
	if dl, ok := ctx.Deadline(); ok {
		deadline = time.Until(dl)
	}
	rot := int(r.rr.Add(1) % uint64(max(len(pool), 1)))

	ranked := make([]scored, 0, len(pool))
	for i, cand := range pool {
		if !r.eligible(snap, cand, req, need, inTokens) {
			continue
		}
		info := snap.Providers[cand.ProviderID]
		perf := r.registry.Perf(cand.ProviderID, cand.Model)
		b := r.breakdown(cand, req, perf)
		var inflightCap int
		if info != nil {
			inflightCap = info.MaxInflight
		}
		st := Stats{
			Breakdown: b,
			CostUSD:   r.estimateCost(cand, req, info, perf),
			P75:       perf.P75Latency(),
			Load:      r.loads.fraction(cand.ProviderID, inflightCap),
			Rotation:  (i + rot) % len(pool),
			Deadline:  deadline,
			Position:  positionOf(snap, cand.ProviderID),
		}
		if a, ok := strat.(admitter); ok && !a.Admit(st) {
			continue
		}
		score := strat.Score(st)
		// The learner adjusts blended scores only; single-key policies keep
		// their declared sort order.
		if _, ok := strat.(*weighted); ok {
			score = r.learner.Adjust(features, cand, score)
		}
		cand.Score = score
		ranked = append(ranked, scored{cand: cand, score: score, overview: b})
	}
	if len(ranked) == 0 {
		return nil, gateway.E(gateway.KindNoCandidate, "no provider can serve model %q with the required capabilities", req.Model)
	}

	slices.SortFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.cand.ProviderID, b.cand.ProviderID); c != 0 {
			return c
		}
		return cmp.Compare(a.cand.Model, b.cand.Model)
	})

	d := &gateway.Decision{
		RequestID: gateway.RequestIDFromContext(ctx),
		Strategy:  strat.Name(),
		Chosen:    ranked[0].cand,
		Scores:    ranked[0].overview,
		Features:  features,
		Timestamp: time.Now(),
	}
	for _, s := range ranked[1:] {
		d.Fallbacks = append(d.Fallbacks, s.cand)
	}

	r.log.LogAttrs(ctx, slog.LevelDebug, "route selected",
		slog.String("strategy", d.Strategy),
		slog.String("provider", d.Chosen.ProviderID),
		slog.String("model", d.Chosen.Model),
		slog.Float64("score", d.Chosen.Score),
		slog.Int("fallbacks", len(d.Fallbacks)))
	return d, nil
}

// OnResult feeds a dispatch outcome back into the performance window, the
// per-provider budget counter, and the adaptive learner.
func (r *Router) OnResult(d *gateway.Decision, out *gateway.Outcome) {
	perf := r.registry.Perf(out.ProviderID, out.Model)
	perf.Observe(out.Latency, out.CostUSD, out.TokensOut, out.Err == nil)
	r.budget.record(out.ProviderID)
	cand := gateway.Candidate{ProviderID: out.ProviderID, Model: out.Model}
	r.learner.Observe(d.Features, cand, out)
}

// eligible applies the hard filters: open circuit, capability set, context
// window, declared quality floor, and per-request cost ceiling.
func (r *Router) eligible(snap *registry.Snapshot, cand gateway.Candidate, req *gateway.Request, need gateway.Capability, inTokens int) bool {
	if r.breakers.IsOpen(cand.ProviderID) {
		return false
	}
	info := snap.Providers[cand.ProviderID]
	if info == nil || !info.Capabilities.Has(need) {
		return false
	}
	model := snap.Model(cand.ProviderID, cand.Model)
	if model != nil {
		if !model.Capabilities.Has(need) {
			return false
		}
		if model.ContextWindow > 0 && inTokens+req.MaxTokens > model.ContextWindow {
			return false
		}
		if req.MinQuality > 0 && model.Quality < req.MinQuality {
			return false
		}
	}
	if req.MaxCost > 0 {
		perf := r.registry.Perf(cand.ProviderID, cand.Model)
		if r.estimateCost(cand, req, info, perf) > req.MaxCost {
			return false
		}
	}
	return true
}

func requiredCaps(req *gateway.Request) gateway.Capability {
	need := gateway.CapChat | req.RequireCaps
	if req.Stream {
		need |= gateway.CapStreaming
	}
	if len(req.Tools) > 0 {
		need |= gateway.CapFunctionCalling
	}
	return need
}

func positionOf(snap *registry.Snapshot, providerID string) int {
	for i, id := range snap.ProviderIDs() {
		if id == providerID {
			return i
		}
	}
	return len(snap.ProviderIDs())
}
