package pipeline

import (
	"context"
	"sync/atomic"

	gateway "github.com/llmrouter/gateway/internal"
)

// governor bounds in-flight dispatches. Up to maxConcurrent requests run at
// once; up to queueDepth more wait for a slot; everything beyond that is
// rejected immediately with capacity_exceeded rather than queued without
// bound.
type governor struct {
	slots   chan struct{}
	waiting atomic.Int64
	depth   int64
}

func newGovernor(maxConcurrent, queueDepth int) *governor {
	if maxConcurrent <= 0 {
		maxConcurrent = 256
	}
	if queueDepth <= 0 {
		queueDepth = 100
	}
	return &governor{
		slots: make(chan struct{}, maxConcurrent),
		depth: int64(queueDepth),
	}
}

// acquire blocks until a slot is free, the queue is full, or ctx is done.
// The returned release func must be called exactly once.
func (g *governor) acquire(ctx context.Context) (release func(), err error) {
	select {
	case g.slots <- struct{}{}:
		return g.release, nil
	default:
	}

	if g.waiting.Add(1) > g.depth {
		g.waiting.Add(-1)
		return nil, gateway.E(gateway.KindCapacityExceeded, "gateway at capacity, %d requests queued", g.depth)
	}
	defer g.waiting.Add(-1)

	select {
	case g.slots <- struct{}{}:
		return g.release, nil
	case <-ctx.Done():
		return nil, gateway.Wrap(gateway.KindOf(ctx.Err()), ctx.Err())
	}
}

func (g *governor) release() { <-g.slots }

// inflight reports the number of occupied slots.
func (g *governor) inflight() int { return len(g.slots) }

// queued reports the number of waiters.
func (g *governor) queued() int64 { return g.waiting.Load() }
