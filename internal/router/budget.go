package router

import (
	"sync"
	"time"
)

// budgetTracker counts dispatches per provider over a fixed one-minute
// window. It only informs the availability score; the rate limiter enforces
// actual caps.
type budgetTracker struct {
	mu      sync.Mutex
	windows map[string]*budgetWindow
	now     func() time.Time
}

type budgetWindow struct {
	start time.Time
	count int64
}

func newBudgetTracker() *budgetTracker {
	return &budgetTracker{windows: map[string]*budgetWindow{}, now: time.Now}
}

func (t *budgetTracker) record(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.windows[providerID]
	now := t.now()
	if w == nil || now.Sub(w.start) >= time.Minute {
		t.windows[providerID] = &budgetWindow{start: now, count: 1}
		return
	}
	w.count++
}

func (t *budgetTracker) used(providerID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.windows[providerID]
	if w == nil || t.now().Sub(w.start) >= time.Minute {
		return 0
	}
	return w.count
}
