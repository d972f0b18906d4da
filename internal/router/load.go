package router

import "sync"

// defaultInflightCap normalizes in-flight counts for providers that do not
// declare max_inflight.
const defaultInflightCap = 32

// loadTracker counts in-flight dispatches per provider for the load-balanced
// strategy.
type loadTracker struct {
	mu       sync.Mutex
	inflight map[string]int
}

func newLoadTracker() *loadTracker {
	return &loadTracker{inflight: make(map[string]int)}
}

func (t *loadTracker) acquire(providerID string) {
	t.mu.Lock()
	t.inflight[providerID]++
	t.mu.Unlock()
}

func (t *loadTracker) release(providerID string) {
	t.mu.Lock()
	if n := t.inflight[providerID]; n <= 1 {
		delete(t.inflight, providerID)
	} else {
		t.inflight[providerID] = n - 1
	}
	t.mu.Unlock()
}

func (t *loadTracker) current(providerID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight[providerID]
}

// fraction reports the in-flight count over the provider's declared cap.
func (t *loadTracker) fraction(providerID string, limit int) float64 {
	if limit <= 0 {
		limit = defaultInflightCap
	}
	return float64(t.current(providerID)) / float64(limit)
}
