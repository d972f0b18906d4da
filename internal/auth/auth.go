package auth

import (
	"context"
	"net/http"
	"strings"

	gateway "github.com/llmrouter/gateway/internal"
)

// SessionCookie is the cookie name carrying an access token for browser
// clients.
const SessionCookie = "llmr_session"

// Multi resolves request credentials in a fixed order: Authorization Bearer
// (JWT, or an API key when it carries the key prefix), then X-API-Key, then
// the session cookie. The first credential present is the one validated;
// there is no fall-through on failure.
type Multi struct {
	Tokens *Tokens
	Keys   *APIKeys
}

var _ gateway.Authenticator = (*Multi)(nil)

// Authenticate implements gateway.Authenticator.
func (m *Multi) Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return nil, gateway.E(gateway.KindUnauthenticated, "unsupported authorization scheme")
		}
		if strings.HasPrefix(raw, gateway.APIKeyPrefix) {
			return m.Keys.Validate(ctx, raw)
		}
		return m.Tokens.VerifyAccess(raw)
	}
	if k := r.Header.Get("X-API-Key"); k != "" {
		return m.Keys.Validate(ctx, k)
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		id, err := m.Tokens.VerifyAccess(c.Value)
		if err != nil {
			return nil, err
		}
		id.AuthMethod = "session"
		return id, nil
	}
	return nil, gateway.E(gateway.KindUnauthenticated, "missing credentials")
}
