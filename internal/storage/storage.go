// Package storage defines persistence interfaces for the gateway. Only the
// small durable stores live here: users, api-key hashes, refresh tokens, the
// cost ledger, the provider registry snapshot, and usage records. Everything
// else (rate buckets, circuit state, cache, blacklist) is in-memory or in an
// external replicated store.
package storage

import (
	"context"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

// UserStore manages user account persistence.
type UserStore interface {
	CreateUser(ctx context.Context, u *gateway.User) error
	GetUser(ctx context.Context, id string) (*gateway.User, error)
	GetUserByUsername(ctx context.Context, username string) (*gateway.User, error)
	UpdateUser(ctx context.Context, u *gateway.User) error
	DeleteUser(ctx context.Context, id string) error
}

// APIKeyStore manages API key persistence. Keys are stored by their public
// prefix id; only bcrypt secret hashes are persisted.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *gateway.APIKey) error
	GetKey(ctx context.Context, id string) (*gateway.APIKey, error)
	ListKeys(ctx context.Context, ownerUserID string, offset, limit int) ([]*gateway.APIKey, error)
	DeactivateKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
	// DeactivateKeysForUser supports user deletion: one pass over the key
	// table by owner index.
	DeactivateKeysForUser(ctx context.Context, userID string) error
}

// TokenStore manages refresh token records.
type TokenStore interface {
	PutRefreshToken(ctx context.Context, t *gateway.RefreshToken) error
	GetRefreshToken(ctx context.Context, jti string) (*gateway.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, jti string) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// LedgerStore manages the per-key hourly cost ledger.
type LedgerStore interface {
	AddToLedger(ctx context.Context, keyID string, windowStart time.Time, tokens, requests int64, costUSD float64) error
	GetLedgerWindow(ctx context.Context, keyID string, windowStart time.Time) (*gateway.CostWindow, error)
	SumLedgerCost(ctx context.Context, keyID string, since time.Time) (float64, error)
}

// RegistryStore persists the provider registry snapshot.
type RegistryStore interface {
	SaveProviders(ctx context.Context, providers []*gateway.ProviderInfo, models []*gateway.ModelInfo) error
	LoadProviders(ctx context.Context) ([]*gateway.ProviderInfo, []*gateway.ModelInfo, error)
}

// UsageStore manages usage record persistence.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []gateway.UsageRecord) error
	SumUsageCost(ctx context.Context, keyID string) (float64, error)
}

// Store combines all storage interfaces.
type Store interface {
	UserStore
	APIKeyStore
	TokenStore
	LedgerStore
	RegistryStore
	UsageStore
	Close() error
}
