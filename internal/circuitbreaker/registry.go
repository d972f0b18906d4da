package circuitbreaker

import (
	"sync"
	"time"
)

// Registry manages per-provider Breaker instances.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config

	onTransition func(provider string, from, to State)
}

// NewRegistry creates a new circuit breaker registry with the given config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// OnTransition installs a callback applied to every breaker created after
// this call (used to record state-transition metrics).
func (r *Registry) OnTransition(fn func(provider string, from, to State)) {
	r.mu.Lock()
	r.onTransition = fn
	r.mu.Unlock()
}

// Get returns the breaker for the given provider ID, or nil if none exists.
func (r *Registry) Get(providerID string) *Breaker {
	r.mu.RLock()
	b := r.breakers[providerID]
	r.mu.RUnlock()
	return b
}

// IsOpen reports whether the provider's circuit is currently open. Providers
// without a breaker are treated as closed.
func (r *Registry) IsOpen(providerID string) bool {
	b := r.Get(providerID)
	return b != nil && b.State() == StateOpen
}

// GetOrCreate returns the breaker for providerID, creating one if needed.
// Uses double-check locking to minimize write-lock contention.
func (r *Registry) GetOrCreate(providerID string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[providerID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if b, ok := r.breakers[providerID]; ok {
		return b
	}
	b = NewBreaker(r.config)
	if r.onTransition != nil {
		fn := r.onTransition
		b.OnTransition(func(from, to State) { fn(providerID, from, to) })
	}
	r.breakers[providerID] = b
	return b
}

// Snapshots returns the observable state of every breaker, for admin stats.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for id, b := range r.breakers {
		out[id] = b.Snapshot()
	}
	return out
}

// EvictStale removes breakers not used since cutoff.
// Phase 1: RLock to snapshot stale keys. Phase 2: Lock to delete them.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var staleKeys []string
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			staleKeys = append(staleKeys, k)
		}
	}
	r.mu.RUnlock()

	if len(staleKeys) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, k := range staleKeys {
		if b, ok := r.breakers[k]; ok {
			if b.LastUsed().Before(cutoff) {
				delete(r.breakers, k)
				evicted++
			}
		}
	}
	return evicted
}
