package pipeline

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/circuitbreaker"
)

// Stream runs the streaming dispatch state machine. Fallback happens only
// before the first chunk reaches the caller; once bytes have flowed the
// stream is committed to its provider, and a failure terminates it with an
// error chunk instead of switching mid-stream. Streams are never cached.
func (p *Pipeline) Stream(ctx context.Context, req *gateway.Request, opts Options) (<-chan gateway.StreamChunk, error) {
	release, err := p.governor.acquire(ctx)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.OverallTimeout)
	done := func() {
		cancel()
		release()
	}

	decision, err := p.router.Select(sctx, req, opts.Strategy)
	if err != nil {
		done()
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
		start := time.Now()

		endDispatch := p.router.BeginDispatch(cand.ProviderID)
		upstream, err := adapter.Stream(sctx, &attemptReq)
		if err != nil {
			endDispatch()
			p.router.OnResult(decision, &gateway.Outcome{
				ProviderID: cand.ProviderID, Model: cand.Model, Err: err, Latency: time.Since(start),
			})
			if circuitbreaker.CountsAsFailure(err) {
				brk.RecordFailure()
			}
			lastErr = err
			if !gateway.IsTransient(err) {
				break
			}
			continue
		}

		// Peek at the first chunk so a provider that fails immediately can
		// still fall back transparently.
		first, ok := <-upstream
		if ok && first.Err != nil && gateway.IsTransient(first.Err) {
			p.router.OnResult(decision, &gateway.Outcome{
				ProviderID: cand.ProviderID, Model: cand.Model, Err: first.Err, Latency: time.Since(start),
			})
			brk.RecordFailure()
			lastErr = first.Err
			drain(upstream)
			endDispatch()
			continue
		}

		out := make(chan gateway.StreamChunk, 8)
		finish := func() {
			endDispatch()
			done()
		}
		go p.relay(sctx, decision, cand, brk, start, first, ok, upstream, out, finish)
		return out, nil
	}

	done()
	if lastErr == nil {
		lastErr = gateway.E(gateway.KindNoCandidate, "no dispatchable candidate for model %q", req.Model)
	}
	return nil, withAttempts(lastErr, attempts)
}

// relay forwards upstream chunks to the caller and settles accounting when
// the terminal chunk arrives.
func (p *Pipeline) relay(ctx context.Context, decision *gateway.Decision, cand gateway.Candidate, brk *circuitbreaker.Breaker, start time.Time, first gateway.StreamChunk, haveFirst bool, upstream <-chan gateway.StreamChunk, out chan<- gateway.StreamChunk, done func()) {
	defer done()
	defer close(out)

	var (
		usage     gateway.Usage
		streamErr error
		tokensOut int
		settled   bool
	)
	settle := func() {
		if settled {
			return
		}
		settled = true
		latency := time.Since(start)
		p.router.OnResult(decision, &gateway.Outcome{
			ProviderID: cand.ProviderID,
			Model:      cand.Model,
			Err:        streamErr,
			Latency:    latency,
			TokensOut:  tokensOut,
		})
		if circuitbreaker.CountsAsFailure(streamErr) {
			brk.RecordFailure()
		} else {
			brk.RecordSuccess()
		}
		if streamErr == nil {
			p.recordUsage(ctx, &gateway.Response{
				Model:    cand.ProviderID + ":" + cand.Model,
				Provider: cand.ProviderID,
				Usage:    usage,
			}, latency, false)
		}
	}
	defer settle()

	forward := func(chunk gateway.StreamChunk) bool {
		if chunk.Usage != nil {
			usage = *chunk.Usage
			tokensOut = usage.CompletionTokens
		}
		if chunk.Err != nil {
			streamErr = chunk.Err
		}
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			streamErr = ctx.Err()
			return false
		}
	}

	if haveFirst {
		if !forward(first) {
			return
		}
	}
	for chunk := range upstream {
		if !forward(chunk) {
			drain(upstream)
			return
		}
	}

	p.log.LogAttrs(ctx, slog.LevelDebug, "stream finished",
		slog.String("provider", cand.ProviderID),
		slog.String("model", cand.Model),
		slog.Int("completion_tokens", usage.CompletionTokens))
}

func drain(ch <-chan gateway.StreamChunk) {
	for range ch {
	}
}
