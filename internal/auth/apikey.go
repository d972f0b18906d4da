package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen = 10_000           // max concurrent active keys expected per deployment
)

// APIKeys issues and validates API keys. A key's wire form is
// "llmr_<16 hex>.<32 hex>": the public prefix doubles as the lookup ID and
// only a bcrypt hash of the secret half persists. Validated keys are cached
// in an otter W-TinyLFU cache keyed by the SHA-256 of the full presented
// key, so the bcrypt compare runs once per cache window rather than per
// request.
type APIKeys struct {
	store       storage.APIKeyStore
	hasher      *Hasher
	cache       *otter.Cache[string, *gateway.APIKey]
	keyIDToHash sync.Map // key ID -> cache key for invalidation
}

// NewAPIKeys returns an APIKeys service backed by store.
func NewAPIKeys(store storage.APIKeyStore, hasher *Hasher) (*APIKeys, error) {
	c, err := otter.New(&otter.Options[string, *gateway.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create apikey cache: %w", err)
	}
	return &APIKeys{store: store, hasher: hasher, cache: c}, nil
}

// Issue mints a new key for owner. The returned plaintext is shown exactly
// once; afterwards only the bcrypt hash of its secret half exists.
func (a *APIKeys) Issue(ctx context.Context, ownerUserID, name string, tier gateway.Tier, perms []string, expiresAt *time.Time) (*gateway.APIKey, string, error) {
	id := gateway.APIKeyPrefix + randHex(8)
	secret := randHex(16)

	secretHash, err := a.hasher.Hash(ctx, secret)
	if err != nil {
		return nil, "", err
	}
	key := &gateway.APIKey{
		ID:          id,
		SecretHash:  secretHash,
		Name:        name,
		OwnerUserID: ownerUserID,
		Tier:        tier,
		Permissions: perms,
		ExpiresAt:   expiresAt,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.CreateKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, id + "." + secret, nil
}

// Validate checks a presented key and returns the caller identity.
// Deactivated and expired keys fail before the bcrypt compare runs.
func (a *APIKeys) Validate(ctx context.Context, raw string) (*gateway.Identity, error) {
	id, secret, ok := strings.Cut(raw, ".")
	if !ok || !strings.HasPrefix(id, gateway.APIKeyPrefix) || secret == "" {
		return nil, gateway.E(gateway.KindUnauthenticated, "malformed API key")
	}

	cacheKey := hashKey(raw)
	if key, hit := a.cache.GetIfPresent(cacheKey); hit {
		if err := checkUsable(key); err != nil {
			a.cache.Invalidate(cacheKey)
			return nil, err
		}
		return keyIdentity(key), nil
	}

	key, err := a.store.GetKey(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateway.E(gateway.KindUnauthenticated, "invalid API key")
		}
		return nil, err
	}
	if err := checkUsable(key); err != nil {
		return nil, err
	}

	match, err := a.hasher.Compare(ctx, key.SecretHash, secret)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, gateway.E(gateway.KindUnauthenticated, "invalid API key")
	}

	a.cache.Set(cacheKey, key)
	a.keyIDToHash.Store(key.ID, cacheKey)

	// Touch last-used timestamp asynchronously.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsed(ctx, key.ID) //nolint:errcheck
	}()

	return keyIdentity(key), nil
}

// List returns keys owned by ownerUserID in the store's listing order.
// Records never carry plaintext; only issuance returns that once.
func (a *APIKeys) List(ctx context.Context, ownerUserID string, offset, limit int) ([]*gateway.APIKey, error) {
	return a.store.ListKeys(ctx, ownerUserID, offset, limit)
}

// Deactivate permanently disables a key. Deactivation is monotonic: there is
// no reactivate path.
func (a *APIKeys) Deactivate(ctx context.Context, keyID string) error {
	if err := a.store.DeactivateKey(ctx, keyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return gateway.E(gateway.KindNotFound, "key %s not found", keyID)
		}
		return err
	}
	a.InvalidateByKeyID(keyID)
	return nil
}

// InvalidateByKeyID removes a cached key by its key ID. Used when admin
// operations modify a key.
func (a *APIKeys) InvalidateByKeyID(keyID string) {
	if ck, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(ck.(string))
	}
}

func checkUsable(key *gateway.APIKey) error {
	if !key.Active {
		return gateway.E(gateway.KindUnauthenticated, "API key deactivated")
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now()) {
		return gateway.E(gateway.KindUnauthenticated, "API key expired")
	}
	return nil
}

// keyIdentity constructs an Identity from a validated API key. Key-scoped
// permissions override nothing: they are the full grant for this credential.
func keyIdentity(key *gateway.APIKey) *gateway.Identity {
	perms := key.Permissions
	if len(perms) == 0 {
		perms = gateway.RolePermissions[gateway.RoleService]
	}
	return &gateway.Identity{
		Subject:    key.ID,
		UserID:     key.OwnerUserID,
		KeyID:      key.ID,
		Role:       gateway.RoleService,
		Tier:       key.Tier,
		Perms:      perms,
		AuthMethod: "apikey",
	}
}

// hashKey returns the hex SHA-256 of a presented key, used as the cache key
// so plaintext secrets never sit in the cache.
func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(b)
}
