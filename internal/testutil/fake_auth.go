package testutil

import (
	"context"
	"net/http"

	gateway "github.com/llmrouter/gateway/internal"
)

// FakeAuth always authenticates successfully with admin permissions.
type FakeAuth struct {
	Tier gateway.Tier
}

// Authenticate returns a test identity with admin permissions.
func (f FakeAuth) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	tier := f.Tier
	if tier == "" {
		tier = gateway.TierAdmin
	}
	return &gateway.Identity{
		Subject:    "test",
		UserID:     "user-test",
		Role:       gateway.RoleAdmin,
		Tier:       tier,
		Perms:      gateway.RolePermissions[gateway.RoleAdmin],
		AuthMethod: "apikey",
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns an unauthenticated error.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	return nil, gateway.E(gateway.KindUnauthenticated, "rejected")
}
