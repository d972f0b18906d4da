// Package ratelimit enforces per-subject request and cost budgets under
// multiple simultaneous policies. All window algorithms are expressed over a
// small key-value interface (INCR + EXPIRE semantics) so the in-process and
// Redis backends behave identically.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store is the backing key-value interface for rate buckets. Implementations
// must make IncrBy atomic per key.
type Store interface {
	// IncrBy atomically adds n (may be negative) to key and returns the new
	// value. A missing key counts as 0 and is created.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	// Get returns the current value, or 0 when the key is missing.
	Get(ctx context.Context, key string) (int64, error)
	// TTL returns the remaining lifetime, or 0 when the key is missing or
	// has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Expire sets the key's lifetime. No-op when the key is missing.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// --- In-process backend ---

type memEntry struct {
	mu        sync.Mutex
	val       int64
	expiresAt time.Time // zero = no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is a per-node Store suitable for a single gateway instance.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memEntry)}
}

func (m *Memory) entry(key string) *memEntry {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e
	}
	e = &memEntry{}
	m.entries[key] = e
	return e
}

// IncrBy atomically adds n to key, resurrecting expired entries at zero.
func (m *Memory) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	e := m.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expired(time.Now()) {
		e.val = 0
		e.expiresAt = time.Time{}
	}
	e.val += n
	return e.val, nil
}

// Get returns the current value, treating expired entries as missing.
func (m *Memory) Get(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expired(time.Now()) {
		return 0, nil
	}
	return e.val, nil
}

// TTL returns the remaining lifetime of key.
func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expiresAt.IsZero() || e.expired(time.Now()) {
		return 0, nil
	}
	return time.Until(e.expiresAt), nil
}

// Expire sets the lifetime of key.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	e.expiresAt = time.Now().Add(ttl)
	e.mu.Unlock()
	return nil
}

// Del removes key.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep removes expired entries; called by the janitor worker.
func (m *Memory) Sweep() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		e.mu.Lock()
		dead := e.expired(now)
		e.mu.Unlock()
		if dead {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}
