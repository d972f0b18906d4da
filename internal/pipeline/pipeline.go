// Package pipeline orchestrates a request from validation through routing,
// dispatch, fallback, and accounting. The HTTP layer hands it a normalized
// request; everything upstream of the provider adapters happens here.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/cache"
	"github.com/llmrouter/gateway/internal/circuitbreaker"
	"github.com/llmrouter/gateway/internal/registry"
	"github.com/llmrouter/gateway/internal/router"
	"github.com/llmrouter/gateway/internal/tokencount"
)

// Recorder receives usage records for asynchronous persistence. Record must
// not block.
type Recorder interface {
	Record(rec gateway.UsageRecord)
}

// NopRecorder discards usage records.
type NopRecorder struct{}

func (NopRecorder) Record(gateway.UsageRecord) {}

// Config bounds dispatch behavior.
type Config struct {
	MaxRetries      int           // fallback attempts after the first dispatch; 0 disables fallback
	OverallTimeout  time.Duration // whole-request deadline
	ProviderTimeout time.Duration // per-dispatch deadline
	MaxConcurrent   int           // global in-flight cap
	QueueDepth      int           // bounded wait queue beyond the cap
	CacheTTL        time.Duration // response cache entry lifetime
}

// DefaultConfig returns the default pipeline bounds.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      2,
		OverallTimeout:  60 * time.Second,
		ProviderTimeout: 30 * time.Second,
		MaxConcurrent:   256,
		QueueDepth:      100,
		CacheTTL:        5 * time.Minute,
	}
}

// withDefaults fills unset fields. MaxRetries is taken as given so that an
// explicit zero disables fallback entirely.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = def.OverallTimeout
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = def.ProviderTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = def.QueueDepth
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = def.CacheTTL
	}
	return c
}

// Options carry per-call settings from the HTTP layer.
type Options struct {
	Strategy  string // routing strategy; empty selects the default
	Cacheable bool   // response caching opt-in; streaming is never cached
	CacheKey  string // precomputed fingerprint, required when Cacheable
}

// Pipeline wires the router, registry, breakers, cache, and accounting into
// the dispatch state machine.
type Pipeline struct {
	router   *router.Router
	registry *registry.Registry
	breakers *circuitbreaker.Registry
	cache    cache.Cache
	recorder Recorder
	counter  *tokencount.Counter
	governor *governor
	log      *slog.Logger
	cfg      Config
}

// New creates a Pipeline. A nil cache disables response caching; a nil
// recorder discards usage records.
func New(rt *router.Router, reg *registry.Registry, brk *circuitbreaker.Registry, c cache.Cache, rec Recorder, log *slog.Logger, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Pipeline{
		router:   rt,
		registry: reg,
		breakers: brk,
		cache:    c,
		recorder: rec,
		counter:  tokencount.NewCounter(),
		governor: newGovernor(cfg.MaxConcurrent, cfg.QueueDepth),
		log:      log,
		cfg:      cfg,
	}
}

// Inflight reports current occupancy for readiness checks and stats.
func (p *Pipeline) Inflight() (running int, queued int64) {
	return p.governor.inflight(), p.governor.queued()
}

// Invoke runs the non-streaming dispatch state machine: cache lookup, route
// selection, bounded fallback across the candidate chain, accounting, and
// cache fill.
func (p *Pipeline) Invoke(ctx context.Context, req *gateway.Request, opts Options) (*gateway.Response, error) {
	release, err := p.governor.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.OverallTimeout)
	defer cancel()

	requestID := gateway.RequestIDFromContext(ctx)

	if opts.Cacheable && p.cache != nil {
		if raw, ok := p.cache.Get(ctx, opts.CacheKey); ok {
			var resp gateway.Response
			if err := json.Unmarshal(raw, &resp); err == nil {
				resp.Cached = true
				p.recordUsage(ctx, &resp, 0, true)
				return StandardizeResponse(&resp, requestID, req.Metadata), nil
			}
			p.cache.Delete(ctx, opts.CacheKey)
		}
	}

	decision, err := p.router.Select(ctx, req, opts.Strategy)
	if err != nil {
		return nil, err
	}

	resp, err := p.dispatch(ctx, req, decision)
	if err != nil {
		return nil, err
	}

	if opts.Cacheable && p.cache != nil {
		if raw, marshalErr := json.Marshal(resp); marshalErr == nil {
			p.cache.Set(ctx, opts.CacheKey, raw, p.cfg.CacheTTL)
		}
	}
	return StandardizeResponse(resp, requestID, req.Metadata), nil
}

// dispatch walks the candidate chain. Transient provider errors advance to
// the next candidate until MaxRetries fallbacks are spent; a context-length
// error gets one shot at a larger-context candidate; everything else
// surfaces immediately with the attempted chain attached.
func (p *Pipeline) dispatch(ctx context.Context, req *gateway.Request, decision *gateway.Decision) (*gateway.Response, error) {
	candidates := decision.Candidates()
	inTokens := p.counter.EstimateRequest(req)

	var (
		attempts      []string
		lastErr       error
		fallbacksUsed int
		ctxLenRetried bool
	)

	for i := 0; i < len(candidates); i++ {
		cand := candidates[i]
		brk := p.breakers.GetOrCreate(cand.ProviderID)
		if !brk.Allow() {
			continue
		}
		adapter, err := p.registry.Adapter(cand.ProviderID)
		if err != nil {
			continue
		}

		attempts = append(attempts, cand.ProviderID)
		attemptReq := *req
		attemptReq.Model = cand.Model

		dctx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
		done := p.router.BeginDispatch(cand.ProviderID)
		start := time.Now()
		resp, err := adapter.Invoke(dctx, &attemptReq)
		latency := time.Since(start)
		done()
		cancel()

		outcome := &gateway.Outcome{
			ProviderID: cand.ProviderID,
			Model:      cand.Model,
			Err:        err,
			Latency:    latency,
		}
		if err == nil {
			outcome.CostUSD = resp.CostUSD
			outcome.TokensOut = resp.Usage.CompletionTokens
		}
		p.router.OnResult(decision, outcome)
		if circuitbreaker.CountsAsFailure(err) {
			brk.RecordFailure()
		} else {
			brk.RecordSuccess()
		}

		if err == nil {
			resp.LatencyMs = latency.Milliseconds()
			if len(attempts) > 1 {
				if resp.Metadata == nil {
					resp.Metadata = map[string]string{}
				}
				resp.Metadata["attempts"] = strings.Join(attempts, ",")
			}
			p.recordUsage(ctx, resp, latency, false)
			return resp, nil
		}

		lastErr = err
		kind := gateway.KindOf(err)

		p.log.LogAttrs(ctx, slog.LevelWarn, "dispatch failed",
			slog.String("provider", cand.ProviderID),
			slog.String("model", cand.Model),
			slog.String("kind", string(kind)),
			slog.Duration("latency", latency))

		if kind == gateway.KindContextLength && !ctxLenRetried {
			// One retry on a candidate whose window actually fits.
			ctxLenRetried = true
			if j := p.largerContextIndex(candidates[i+1:], req, inTokens); j >= 0 {
				i += j // loop increment lands on the larger-context candidate
				fallbacksUsed++
				continue
			}
			break
		}
		if !gateway.IsTransient(err) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		fallbacksUsed++
		if fallbacksUsed > p.cfg.MaxRetries {
			break
		}
	}

	if lastErr == nil {
		lastErr = gateway.E(gateway.KindNoCandidate, "no dispatchable candidate for model %q", req.Model)
	}
	return nil, withAttempts(lastErr, attempts)
}

// largerContextIndex returns the offset of the first remaining candidate
// whose model window fits the request, or -1.
func (p *Pipeline) largerContextIndex(remaining []gateway.Candidate, req *gateway.Request, inTokens int) int {
	snap := p.registry.Snapshot()
	for j, cand := range remaining {
		m := snap.Model(cand.ProviderID, cand.Model)
		if m == nil || m.ContextWindow <= 0 {
			continue
		}
		if inTokens+req.MaxTokens <= m.ContextWindow {
			return j
		}
	}
	return -1
}

func (p *Pipeline) recordUsage(ctx context.Context, resp *gateway.Response, latency time.Duration, cached bool) {
	id := gateway.IdentityFromContext(ctx)
	rec := gateway.UsageRecord{
		Model:            resp.Model,
		ProviderID:       resp.Provider,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostUSD:          resp.CostUSD,
		Cached:           cached,
		LatencyMs:        int(latency.Milliseconds()),
		StatusCode:       200,
		RequestID:        gateway.RequestIDFromContext(ctx),
		CreatedAt:        time.Now(),
	}
	if id != nil {
		rec.KeyID = id.KeyID
		rec.UserID = id.UserID
	}
	if cached {
		rec.CostUSD = 0
	}
	p.recorder.Record(rec)
}

// withAttempts attaches the attempted provider chain to err's gateway error,
// wrapping untyped errors as internal first.
func withAttempts(err error, attempts []string) error {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		ge = gateway.Wrap(gateway.KindInternal, err)
	}
	copied := *ge
	copied.Attempts = attempts
	return &copied
}

// Embed routes an embedding request to an embeddings-capable provider and
// dispatches it, with the same bounded fallback as Invoke.
func (p *Pipeline) Embed(ctx context.Context, req *gateway.EmbedRequest, opts Options) (*gateway.EmbedResponse, error) {
	release, err := p.governor.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.OverallTimeout)
	defer cancel()

	routeReq := &gateway.Request{Model: req.Model, RequireCaps: gateway.CapEmbeddings}
	decision, err := p.router.Select(ctx, routeReq, opts.Strategy)
	if err != nil {
		return nil, err
	}

	var (
		attempts []string
		lastErr  error
	)
	for i, cand := range decision.Candidates() {
		if i > p.cfg.MaxRetries {
			break
		}
		adapter, err := p.registry.Adapter(cand.ProviderID)
		if err != nil {
			continue
		}
		attempts = append(attempts, cand.ProviderID)
		attemptReq := *req
		attemptReq.Model = cand.Model

		dctx, dcancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
		done := p.router.BeginDispatch(cand.ProviderID)
		start := time.Now()
		resp, err := adapter.Embed(dctx, &attemptReq)
		latency := time.Since(start)
		done()
		dcancel()

		p.router.OnResult(decision, &gateway.Outcome{
			ProviderID: cand.ProviderID, Model: cand.Model, Err: err, Latency: latency,
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !gateway.IsTransient(err) {
			break
		}
	}
	if lastErr == nil {
		lastErr = gateway.E(gateway.KindNoCandidate, "no embeddings provider available")
	}
	return nil, withAttempts(lastErr, attempts)
}

// Rerank finds a rerank-capable provider and scores docs against query.
func (p *Pipeline) Rerank(ctx context.Context, model, query string, docs []string) ([]gateway.ScoredDoc, error) {
	release, err := p.governor.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.OverallTimeout)
	defer cancel()

	snap := p.registry.Snapshot()
	for _, pid := range snap.ProviderIDs() {
		info := snap.Providers[pid]
		if !info.Capabilities.Has(gateway.CapRerank) || p.breakers.IsOpen(pid) {
			continue
		}
		adapter, err := p.registry.Adapter(pid)
		if err != nil {
			continue
		}
		rr, ok := adapter.(gateway.Reranker)
		if !ok {
			continue
		}
		dctx, dcancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
		docsScored, err := rr.Rerank(dctx, model, query, docs)
		dcancel()
		if err != nil {
			if gateway.IsTransient(err) {
				continue
			}
			return nil, err
		}
		return docsScored, nil
	}
	return nil, gateway.E(gateway.KindNoCandidate, "no rerank-capable provider available")
}
