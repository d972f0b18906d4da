// Package auth implements credential verification for the gateway: bcrypt
// password login with lockout, HS256 JWT issue/verify with refresh rotation,
// and API key issuance and validation. Resolved credentials are cached in a
// W-TinyLFU cache.
package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when the configured cost is out of range.
const DefaultBcryptCost = 12

// Hasher wraps bcrypt behind a bounded worker pool. bcrypt at cost 12 burns
// ~250ms of CPU per call; without the bound a login burst starves the
// inference path.
type Hasher struct {
	cost int
	sem  chan struct{}
}

// NewHasher returns a Hasher with the given bcrypt cost and at most workers
// concurrent hash operations.
func NewHasher(cost, workers int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	if workers < 1 {
		workers = 4
	}
	return &Hasher{cost: cost, sem: make(chan struct{}, workers)}
}

// Hash computes the bcrypt hash of password, waiting for a pool slot.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-h.sem }()
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare checks password against a stored bcrypt hash, waiting for a pool
// slot. Returns false on mismatch, an error only on pool cancellation.
func (h *Hasher) Compare(ctx context.Context, hash, password string) (bool, error) {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-h.sem }()
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}
