package auth

import (
	"sync"
	"time"
)

// Blacklist holds revoked token IDs until their natural expiry. Entries are
// memory-only: a restart forgets revocations, but the tokens it would have
// blocked are short-lived access tokens.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time // jti -> token expiry
}

// NewBlacklist returns an empty Blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Add revokes jti until expiresAt.
func (b *Blacklist) Add(jti string, expiresAt time.Time) {
	b.mu.Lock()
	b.entries[jti] = expiresAt
	b.mu.Unlock()
}

// Contains reports whether jti is currently revoked.
func (b *Blacklist) Contains(jti string) bool {
	b.mu.RLock()
	exp, ok := b.entries[jti]
	b.mu.RUnlock()
	return ok && time.Now().Before(exp)
}

// Sweep drops entries whose tokens have expired on their own. Called by the
// janitor.
func (b *Blacklist) Sweep() int {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for jti, exp := range b.entries {
		if now.After(exp) {
			delete(b.entries, jti)
			n++
		}
	}
	return n
}

// Len returns the number of live entries.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
