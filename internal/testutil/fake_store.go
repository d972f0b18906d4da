package testutil

import (
	"context"
	"sync"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/storage"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu       sync.RWMutex
	users    map[string]*gateway.User
	byName   map[string]string // username -> id
	keys     map[string]*gateway.APIKey
	refresh  map[string]*gateway.RefreshToken
	ledger   map[string]*gateway.CostWindow // keyID|windowStart
	usage    []gateway.UsageRecord
	provs    []*gateway.ProviderInfo
	models   []*gateway.ModelInfo
	UsageErr error // injected InsertUsage failure
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		users:   make(map[string]*gateway.User),
		byName:  make(map[string]string),
		keys:    make(map[string]*gateway.APIKey),
		refresh: make(map[string]*gateway.RefreshToken),
		ledger:  make(map[string]*gateway.CostWindow),
	}
}

// --- UserStore ---

func (s *FakeStore) CreateUser(_ context.Context, u *gateway.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[u.Username]; ok {
		return storage.ErrDuplicate
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byName[u.Username] = u.ID
	return nil
}

func (s *FakeStore) GetUser(_ context.Context, id string) (*gateway.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *FakeStore) GetUserByUsername(_ context.Context, username string) (*gateway.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *FakeStore) UpdateUser(_ context.Context, u *gateway.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *FakeStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.byName, u.Username)
	delete(s.users, id)
	return nil
}

// --- APIKeyStore ---

func (s *FakeStore) CreateKey(_ context.Context, key *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return storage.ErrDuplicate
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *FakeStore) GetKey(_ context.Context, id string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *FakeStore) ListKeys(_ context.Context, ownerUserID string, offset, limit int) ([]*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.APIKey
	for _, k := range s.keys {
		if ownerUserID == "" || k.OwnerUserID == ownerUserID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *FakeStore) DeactivateKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.Active = false
	return nil
}

func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *FakeStore) DeactivateKeysForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.OwnerUserID == userID {
			k.Active = false
		}
	}
	return nil
}

// --- TokenStore ---

func (s *FakeStore) PutRefreshToken(_ context.Context, t *gateway.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.refresh[t.JTI] = &cp
	return nil
}

func (s *FakeStore) GetRefreshToken(_ context.Context, jti string) (*gateway.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.refresh[jti]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *FakeStore) DeleteRefreshToken(_ context.Context, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, jti)
	return nil
}

func (s *FakeStore) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for jti, t := range s.refresh {
		if t.ExpiresAt.Before(now) {
			delete(s.refresh, jti)
			n++
		}
	}
	return n, nil
}

// --- LedgerStore ---

func (s *FakeStore) AddToLedger(_ context.Context, keyID string, windowStart time.Time, tokens, requests int64, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyID + "|" + windowStart.UTC().Format(time.RFC3339)
	w, ok := s.ledger[k]
	if !ok {
		w = &gateway.CostWindow{KeyID: keyID, WindowStart: windowStart}
		s.ledger[k] = w
	}
	w.Tokens += tokens
	w.Requests += requests
	w.CostUSD += costUSD
	return nil
}

func (s *FakeStore) GetLedgerWindow(_ context.Context, keyID string, windowStart time.Time) (*gateway.CostWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.ledger[keyID+"|"+windowStart.UTC().Format(time.RFC3339)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *FakeStore) SumLedgerCost(_ context.Context, keyID string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	for _, w := range s.ledger {
		if w.KeyID == keyID && !w.WindowStart.Before(since) {
			sum += w.CostUSD
		}
	}
	return sum, nil
}

// --- RegistryStore ---

func (s *FakeStore) SaveProviders(_ context.Context, providers []*gateway.ProviderInfo, models []*gateway.ModelInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provs = providers
	s.models = models
	return nil
}

func (s *FakeStore) LoadProviders(context.Context) ([]*gateway.ProviderInfo, []*gateway.ModelInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provs, s.models, nil
}

// --- UsageStore ---

func (s *FakeStore) InsertUsage(_ context.Context, records []gateway.UsageRecord) error {
	if s.UsageErr != nil {
		return s.UsageErr
	}
	s.mu.Lock()
	s.usage = append(s.usage, records...)
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) SumUsageCost(_ context.Context, keyID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	for _, r := range s.usage {
		if r.KeyID == keyID {
			sum += r.CostUSD
		}
	}
	return sum, nil
}

// Usage returns a copy of all inserted usage records.
func (s *FakeStore) Usage() []gateway.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.UsageRecord, len(s.usage))
	copy(out, s.usage)
	return out
}

// RefreshTokenCount returns the number of live refresh token records.
func (s *FakeStore) RefreshTokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refresh)
}

func (s *FakeStore) Close() error { return nil }
