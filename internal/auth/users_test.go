package auth

import (
	"context"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/testutil"
)

func newTestUsers(t *testing.T) (*Users, *testutil.FakeStore) {
	t.Helper()
	store := testutil.NewFakeStore()
	return NewUsers(store, NewHasher(bcrypt.MinCost, 4), slog.New(slog.DiscardHandler)), store
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	users, _ := newTestUsers(t)

	usr, err := users.Register(context.Background(), "frodo", "theonering")
	if err != nil {
		t.Fatal(err)
	}
	if usr.Role != gateway.RoleMember || usr.Tier != gateway.TierFree {
		t.Errorf("defaults: role=%q tier=%q", usr.Role, usr.Tier)
	}
	if usr.PasswordHash == "theonering" {
		t.Fatal("password stored in the clear")
	}

	got, err := users.Login(context.Background(), "frodo", "theonering")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != usr.ID {
		t.Errorf("login returned user %q, want %q", got.ID, usr.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	users, _ := newTestUsers(t)

	if _, err := users.Register(context.Background(), "ab", "longenough"); gateway.KindOf(err) != gateway.KindInvalidRequest {
		t.Error("short username accepted")
	}
	if _, err := users.Register(context.Background(), "frodo", "short"); gateway.KindOf(err) != gateway.KindInvalidRequest {
		t.Error("short password accepted")
	}
	if _, err := users.Register(context.Background(), "frodo", "theonering"); err != nil {
		t.Fatal(err)
	}
	if _, err := users.Register(context.Background(), "frodo", "theonering"); gateway.KindOf(err) != gateway.KindInvalidRequest {
		t.Error("duplicate username accepted")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	t.Parallel()
	users, _ := newTestUsers(t)

	if _, err := users.Register(context.Background(), "frodo", "theonering"); err != nil {
		t.Fatal(err)
	}
	if _, err := users.Login(context.Background(), "frodo", "wrong"); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("kind = %v, want unauthenticated", gateway.KindOf(err))
	}
	if _, err := users.Login(context.Background(), "nobody", "whatever"); gateway.KindOf(err) != gateway.KindUnauthenticated {
		t.Errorf("unknown user kind = %v, want unauthenticated", gateway.KindOf(err))
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	users, _ := newTestUsers(t)

	usr, err := users.Register(context.Background(), "frodo", "theonering")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < lockoutThreshold; i++ {
		users.Login(context.Background(), "frodo", "wrong") //nolint:errcheck
	}
	_, err = users.Login(context.Background(), "frodo", "theonering")
	if gateway.KindOf(err) != gateway.KindRateLimited {
		t.Fatalf("kind = %v, want rate_limited during lockout", gateway.KindOf(err))
	}
	if gateway.RetryAfterOf(err) <= 0 {
		t.Error("lockout error carries no retry hint")
	}

	// Unlock by rewinding the in-memory record rather than sleeping.
	users.mu.Lock()
	users.failures[usr.ID].lockedUntil = users.failures[usr.ID].lockedUntil.Add(-lockoutMax * 2)
	users.mu.Unlock()

	if _, err := users.Login(context.Background(), "frodo", "theonering"); err != nil {
		t.Fatalf("login after lockout lapse: %v", err)
	}
}

func TestSuccessfulLoginResetsFailures(t *testing.T) {
	t.Parallel()
	users, _ := newTestUsers(t)

	if _, err := users.Register(context.Background(), "frodo", "theonering"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < lockoutThreshold-1; i++ {
		users.Login(context.Background(), "frodo", "wrong") //nolint:errcheck
	}
	if _, err := users.Login(context.Background(), "frodo", "theonering"); err != nil {
		t.Fatal(err)
	}
	// Counter reset: another burst short of the threshold must not lock.
	for i := 0; i < lockoutThreshold-1; i++ {
		users.Login(context.Background(), "frodo", "wrong") //nolint:errcheck
	}
	if _, err := users.Login(context.Background(), "frodo", "theonering"); err != nil {
		t.Fatalf("locked despite reset: %v", err)
	}
}

func TestChangeRoleRecomputesPermissions(t *testing.T) {
	t.Parallel()
	users, _ := newTestUsers(t)

	usr, err := users.Register(context.Background(), "frodo", "theonering")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := users.Grant(context.Background(), usr.ID, "usage:read_all"); err != nil {
		t.Fatal(err)
	}
	got, err := users.ChangeRole(context.Background(), usr.ID, gateway.RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	if gateway.HasPermission(got.Permissions, "inference:chat") {
		t.Error("viewer kept member inference permission")
	}
	if !gateway.HasPermission(got.Permissions, "usage:read_all") {
		t.Error("role change dropped the per-user extra grant")
	}
	if _, err := users.ChangeRole(context.Background(), usr.ID, "warlock"); gateway.KindOf(err) != gateway.KindInvalidRequest {
		t.Error("unknown role accepted")
	}
}
