package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/testutil"
)

func newTestKeys(t *testing.T) (*APIKeys, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	keys, err := NewAPIKeys(store, NewHasher(bcrypt.MinCost, 4))
	if err != nil {
		t.Fatal(err)
	}
	return keys, store
}

func TestIssueShape(t *testing.T) {
	t.Parallel()
	keys, _ := newTestKeys(t)

	key, plaintext, err := keys.Issue(context.Background(), "user-1", "ci", gateway.TierPro, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, secret, ok := strings.Cut(plaintext, ".")
	if !ok {
		t.Fatalf("plaintext %q has no separator", plaintext)
	}
	if !strings.HasPrefix(id, gateway.APIKeyPrefix) || len(id) != len(gateway.APIKeyPrefix)+16 {
		t.Errorf("bad key id %q", id)
	}
	if len(secret) != 32 {
		t.Errorf("secret length = %d, want 32", len(secret))
	}
	if key.SecretHash == secret || strings.Contains(key.SecretHash, secret) {
		t.Error("secret stored in the clear")
	}
	if !key.Active {
		t.Error("issued key not active")
	}
}

func TestValidateRoundTrip(t *testing.T) {
	t.Parallel()
	keys, _ := newTestKeys(t)

	key, plaintext, err := keys.Issue(context.Background(), "user-1", "ci", gateway.TierBasic, []string{"inference:*"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	id, err := keys.Validate(context.Background(), plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if id.KeyID != key.ID {
		t.Errorf("KeyID = %q, want %q", id.KeyID, key.ID)
	}
	if id.Tier != gateway.TierBasic {
		t.Errorf("Tier = %q, want basic", id.Tier)
	}
	if !id.Can("inference:chat") {
		t.Error("expected inference:* to grant inference:chat")
	}
	if id.Can("admin:stats") {
		t.Error("key-scoped permissions leaked admin access")
	}

	// Second call should hit the cache and still succeed.
	if _, err := keys.Validate(context.Background(), plaintext); err != nil {
		t.Fatalf("cached validate: %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	t.Parallel()
	keys, _ := newTestKeys(t)

	key, _, err := keys.Issue(context.Background(), "user-1", "ci", gateway.TierFree, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = keys.Validate(context.Background(), key.ID+"."+strings.Repeat("0", 32))
	if gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated", gateway.KindOf(err))
	}
}

func TestValidateMalformed(t *testing.T) {
	t.Parallel()
	keys, _ := newTestKeys(t)

	for _, raw := range []string{"", "noseparator", "llmr_abc.", "sk-other.secret", "."} {
		if _, err := keys.Validate(context.Background(), raw); gateway.KindOf(err) != gateway.KindUnauthenticated {
			t.Errorf("Validate(%q) kind = %v, want unauthenticated", raw, gateway.KindOf(err))
		}
	}
}

func TestDeactivateIsMonotonic(t *testing.T) {
	t.Parallel()
	keys, store := newTestKeys(t)

	key, plaintext, err := keys.Issue(context.Background(), "user-1", "ci", gateway.TierFree, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := keys.Validate(context.Background(), plaintext); err != nil {
		t.Fatal(err)
	}
	if err := keys.Deactivate(context.Background(), key.ID); err != nil {
		t.Fatal(err)
	}
	// Cache was invalidated; the store copy is inactive.
	if _, err := keys.Validate(context.Background(), plaintext); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated after deactivation", gateway.KindOf(err))
	}
	got, err := store.GetKey(context.Background(), key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("store copy still active")
	}
}

func TestValidateExpiredKey(t *testing.T) {
	t.Parallel()
	keys, _ := newTestKeys(t)

	past := time.Now().Add(-time.Hour)
	_, plaintext, err := keys.Issue(context.Background(), "user-1", "ci", gateway.TierFree, nil, &past)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := keys.Validate(context.Background(), plaintext); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated for expired key", gateway.KindOf(err))
	}
}
