package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/auth"
	"github.com/llmrouter/gateway/internal/testutil"

	"golang.org/x/crypto/bcrypt"
)

// authStack is the real auth services over an in-memory store, with one
// registered member account. The low bcrypt cost keeps the suite fast.
type authStack struct {
	store  *testutil.FakeStore
	users  *auth.Users
	tokens *auth.Tokens
	keys   *auth.APIKeys
	user   *gateway.User
}

func newAuthStack(t *testing.T) *authStack {
	t.Helper()

	store := testutil.NewFakeStore()
	hasher := auth.NewHasher(bcrypt.MinCost, 2)
	users := auth.NewUsers(store, hasher, testLogger())
	tokens := auth.NewTokens([]byte("test-secret-0123456789abcdef0123"), store, auth.NewBlacklist())
	keys, err := auth.NewAPIKeys(store, hasher)
	if err != nil {
		t.Fatalf("NewAPIKeys: %v", err)
	}
	user, err := users.Register(t.Context(), "alice", "correct horse battery")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &authStack{store: store, users: users, tokens: tokens, keys: keys, user: user}
}

// harness wires the stack into a handler authenticated as authn.
func (a *authStack) harness(t *testing.T, authn gateway.Authenticator) *testHarness {
	return newHarness(t, func(d *Deps) {
		d.Auth = authn
		d.Users = a.users
		d.Tokens = a.tokens
		d.Keys = a.keys
		d.UserLookup = a.store.GetUser
		d.KeyLookup = a.store.GetKey
	})
}

func TestLoginAndRefresh(t *testing.T) {
	t.Parallel()
	stack := newAuthStack(t)
	h := stack.harness(t, testutil.RejectAuth{})

	rec := h.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"correct horse battery"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var pair tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("incomplete token pair: %+v", pair)
	}
	if pair.User == nil || pair.User.Username != "alice" {
		t.Errorf("login response missing user: %+v", pair.User)
	}
	if stack.store.RefreshTokenCount() != 1 {
		t.Errorf("refresh tokens stored = %d, want 1", stack.store.RefreshTokenCount())
	}

	body, _ := json.Marshal(map[string]string{"refreshToken": pair.RefreshToken})
	rec = h.do(http.MethodPost, "/auth/refresh", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var rotated tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	if rotated.User == nil || rotated.User.Username != "alice" {
		t.Errorf("refresh response missing user: %+v", rotated.User)
	}

	// A consumed refresh token must not work twice.
	rec = h.do(http.MethodPost, "/auth/refresh", string(body))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("reused refresh token status = %d, want 401", rec.Code)
	}
}

func TestLoginBadPassword(t *testing.T) {
	t.Parallel()
	stack := newAuthStack(t)
	h := stack.harness(t, testutil.RejectAuth{})

	rec := h.do(http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401; body = %s", rec.Code, rec.Body.String())
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	t.Parallel()
	stack := newAuthStack(t)
	h := stack.harness(t, memberAuthFor(stack.user.ID))

	rec := h.do(http.MethodPost, "/auth/apikeys", `{"name":"ci"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created keyCreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Key, gateway.APIKeyPrefix) || !strings.Contains(created.Key, ".") {
		t.Errorf("plaintext key = %q, want id.secret shape", created.Key)
	}
	if created.ID == "" || created.Name != "ci" {
		t.Errorf("created = %+v", created)
	}

	rec = h.do(http.MethodGet, "/auth/apikeys", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var listing struct {
		Keys []*gateway.APIKey `json:"keys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Keys) != 1 || listing.Keys[0].ID != created.ID {
		t.Fatalf("listing = %+v, want the one issued key", listing.Keys)
	}
	secret := strings.TrimPrefix(created.Key, created.ID+".")
	if strings.Contains(rec.Body.String(), secret) {
		t.Error("listing leaks the plaintext secret")
	}

	rec = h.do(http.MethodDelete, "/auth/apikeys/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = h.do(http.MethodDelete, "/auth/apikeys/"+gateway.APIKeyPrefix+"deadbeef", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown key status = %d, want 404", rec.Code)
	}
}

func TestAPIKeyCannotEscalatePermissions(t *testing.T) {
	t.Parallel()
	stack := newAuthStack(t)
	h := stack.harness(t, memberAuthFor(stack.user.ID))

	rec := h.do(http.MethodPost, "/auth/apikeys", `{"name":"sneaky","permissions":["admin:*"]}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body = %s", rec.Code, rec.Body.String())
	}
}

func TestDeleteOtherUsersKeyHidden(t *testing.T) {
	t.Parallel()
	stack := newAuthStack(t)

	key, _, err := stack.keys.Issue(t.Context(), stack.user.ID, "hers", gateway.TierFree, nil, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	h := stack.harness(t, memberAuthFor("someone-else"))
	rec := h.do(http.MethodDelete, "/auth/apikeys/"+key.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for another user's key", rec.Code)
	}
}

// memberAuthFor builds a member-role authenticator bound to a user id.
func memberAuthFor(userID string) gateway.Authenticator {
	return authFunc(func() *gateway.Identity {
		return &gateway.Identity{
			Subject:    userID,
			UserID:     userID,
			Role:       gateway.RoleMember,
			Tier:       gateway.TierFree,
			Perms:      gateway.RolePermissions[gateway.RoleMember],
			AuthMethod: "jwt",
		}
	})
}

type authFunc func() *gateway.Identity

func (f authFunc) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	return f(), nil
}
