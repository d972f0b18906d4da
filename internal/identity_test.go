package gateway

import (
	"slices"
	"testing"
)

func TestMatchPermission(t *testing.T) {
	t.Parallel()

	cases := []struct {
		granted string
		want    string
		ok      bool
	}{
		{"*", "anything:at:all", true},
		{"model:read", "model:read", true},
		{"model:*", "model:read", true},
		{"model:*", "model:write", true},
		{"model:*", "usage:read", false},
		{"model:read", "model:write", false},
		{"model:read", "model", false},
		{"model", "model:read", false},
		{"inference:*", "inference:chat:stream", true},
	}
	for _, tc := range cases {
		if got := MatchPermission(tc.granted, tc.want); got != tc.ok {
			t.Errorf("MatchPermission(%q, %q) = %v, want %v", tc.granted, tc.want, got, tc.ok)
		}
	}
}

func TestEffectivePermissions(t *testing.T) {
	t.Parallel()

	got := EffectivePermissions(RoleMember, []string{"admin:stats", "model:read"})
	if !slices.Contains(got, "inference:*") || !slices.Contains(got, "admin:stats") {
		t.Errorf("perms = %v", got)
	}
	// Duplicates collapse.
	count := 0
	for _, p := range got {
		if p == "model:read" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("model:read appears %d times in %v", count, got)
	}

	if got := EffectivePermissions("nonexistent", nil); len(got) != 0 {
		t.Errorf("unknown role perms = %v", got)
	}
}

func TestIdentityCan(t *testing.T) {
	t.Parallel()

	id := &Identity{Perms: RolePermissions[RoleMember]}
	if !id.Can("inference:chat") || !id.Can("key:manage_own") {
		t.Error("member permissions not honored")
	}
	if id.Can("admin:stats") {
		t.Error("member must not hold admin permissions")
	}
}

func TestEffectiveTier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		id   *Identity
		want Tier
	}{
		{"nil identity", nil, TierFree},
		{"admin role wins", &Identity{Role: RoleAdmin, Tier: TierFree}, TierAdmin},
		{"assigned tier", &Identity{Role: RoleMember, Tier: TierPro}, TierPro},
		{"no tier defaults free", &Identity{Role: RoleMember}, TierFree},
	}
	for _, tc := range cases {
		if got := tc.id.EffectiveTier(); got != tc.want {
			t.Errorf("%s: tier = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRateSubject(t *testing.T) {
	t.Parallel()

	var nilID *Identity
	if got := nilID.RateSubject(); got != "anon" {
		t.Errorf("nil subject = %q", got)
	}
	if got := (&Identity{KeyID: "k1", UserID: "u1"}).RateSubject(); got != "key:k1" {
		t.Errorf("key subject = %q", got)
	}
	if got := (&Identity{UserID: "u1", Subject: "s1"}).RateSubject(); got != "user:u1" {
		t.Errorf("user subject = %q", got)
	}
	if got := (&Identity{Subject: "s1"}).RateSubject(); got != "sub:s1" {
		t.Errorf("subject fallback = %q", got)
	}
}
