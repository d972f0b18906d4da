package auth

import (
	"context"
	"testing"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/testutil"
)

var testUser = &gateway.User{
	ID:          "user-1",
	Username:    "frodo",
	Role:        gateway.RoleMember,
	Tier:        gateway.TierPro,
	Permissions: gateway.RolePermissions[gateway.RoleMember],
}

func newTestTokens(store *testutil.FakeStore) *Tokens {
	return NewTokens([]byte("test-secret-at-least-32-bytes-long!!"), store, NewBlacklist())
}

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()
	tokens := newTestTokens(testutil.NewFakeStore())

	pair, err := tokens.IssuePair(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if pair.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", pair.ExpiresIn)
	}

	id, err := tokens.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "user-1" || id.Role != gateway.RoleMember || id.Tier != gateway.TierPro {
		t.Errorf("unexpected identity %+v", id)
	}
	if id.AuthMethod != "jwt" {
		t.Errorf("AuthMethod = %q, want jwt", id.AuthMethod)
	}
}

func TestVerifyRejectsRefreshToken(t *testing.T) {
	t.Parallel()
	tokens := newTestTokens(testutil.NewFakeStore())

	pair, err := tokens.IssuePair(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tokens.VerifyAccess(pair.RefreshToken); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated", gateway.KindOf(err))
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	t.Parallel()
	tokens := newTestTokens(testutil.NewFakeStore())

	pair, err := tokens.IssuePair(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	tokens.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := tokens.VerifyAccess(pair.AccessToken); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated for expired token", gateway.KindOf(err))
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	a := newTestTokens(store)
	b := NewTokens([]byte("a-completely-different-signing-key!!"), store, NewBlacklist())

	pair, err := a.IssuePair(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.VerifyAccess(pair.AccessToken); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated for foreign signature", gateway.KindOf(err))
	}
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	tokens := newTestTokens(store)

	lookup := func(_ context.Context, userID string) (*gateway.User, error) {
		if userID != testUser.ID {
			t.Fatalf("lookup for %q", userID)
		}
		return testUser, nil
	}

	pair, err := tokens.IssuePair(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}

	next, err := tokens.Refresh(context.Background(), pair.RefreshToken, lookup)
	if err != nil {
		t.Fatal(err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Error("rotation returned the same refresh token")
	}
	if n := store.RefreshTokenCount(); n != 1 {
		t.Errorf("refresh token records = %d, want exactly 1 after rotation", n)
	}

	// Replaying the consumed token must fail.
	if _, err := tokens.Refresh(context.Background(), pair.RefreshToken, lookup); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("replay kind = %v, want unauthenticated", gateway.KindOf(err))
	}

	// The successor still works.
	if _, err := tokens.Refresh(context.Background(), next.RefreshToken, lookup); err != nil {
		t.Fatalf("successor refresh: %v", err)
	}
}

func TestRevokeBlacklistsAccessToken(t *testing.T) {
	t.Parallel()
	tokens := newTestTokens(testutil.NewFakeStore())

	pair, err := tokens.IssuePair(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tokens.VerifyAccess(pair.AccessToken); err != nil {
		t.Fatal(err)
	}
	if err := tokens.Revoke(context.Background(), pair.AccessToken); err != nil {
		t.Fatal(err)
	}
	if _, err := tokens.VerifyAccess(pair.AccessToken); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated after revoke", gateway.KindOf(err))
	}
}

func TestBlacklistSweep(t *testing.T) {
	t.Parallel()
	bl := NewBlacklist()
	bl.Add("gone", time.Now().Add(-time.Minute))
	bl.Add("live", time.Now().Add(time.Hour))

	if bl.Contains("gone") {
		t.Error("expired entry still reported revoked")
	}
	if n := bl.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if !bl.Contains("live") {
		t.Error("live entry swept")
	}
	if bl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", bl.Len())
	}
}
