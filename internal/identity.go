package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Tier is the pricing/quota class assigned to a principal.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
	TierAdmin      Tier = "admin"
)

// Role names recognized by the gateway.
const (
	RoleAdmin   = "admin"
	RoleMember  = "member"
	RoleViewer  = "viewer"
	RoleService = "service_account"
)

// RolePermissions maps role names to their granted permission sets.
// A user's effective permissions are the union of the role set and any
// per-user extras; role change recomputes the union.
var RolePermissions = map[string][]string{
	RoleAdmin:   {"*"},
	RoleMember:  {"inference:*", "embeddings:*", "model:read", "key:manage_own", "usage:read_own"},
	RoleViewer:  {"model:read", "usage:read_own", "usage:read_all"},
	RoleService: {"inference:*", "embeddings:*", "model:read"},
}

// MatchPermission reports whether a granted permission covers want.
// Wildcards match by colon-separated segment: "model:*" matches "model:read"
// and "model:write"; "*" matches everything.
func MatchPermission(granted, want string) bool {
	if granted == "*" || granted == want {
		return true
	}
	gseg := strings.Split(granted, ":")
	wseg := strings.Split(want, ":")
	for i, g := range gseg {
		if g == "*" {
			return true
		}
		if i >= len(wseg) || g != wseg[i] {
			return false
		}
	}
	return len(gseg) == len(wseg)
}

// HasPermission reports whether any permission in perms covers want.
func HasPermission(perms []string, want string) bool {
	for _, p := range perms {
		if MatchPermission(p, want) {
			return true
		}
	}
	return false
}

// EffectivePermissions returns the union of role-derived permissions and
// per-user extras, deduplicated, order-preserving.
func EffectivePermissions(role string, extras []string) []string {
	base := RolePermissions[role]
	out := make([]string, 0, len(base)+len(extras))
	seen := make(map[string]struct{}, len(base)+len(extras))
	for _, set := range [2][]string{base, extras} {
		for _, p := range set {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Identity is the authenticated caller context attached to request context.
// Populated by JWT, API key, or session cookie auth.
type Identity struct {
	Subject    string   `json:"subject"` // JWT sub or key prefix
	UserID     string   `json:"user_id,omitempty"`
	KeyID      string   `json:"key_id,omitempty"` // API key ID for per-key bucketing
	Role       string   `json:"role"`
	Tier       Tier     `json:"tier"`
	Perms      []string `json:"-"`
	AuthMethod string   `json:"auth_method"` // "jwt", "apikey", or "session"
}

// Can reports whether the identity holds the given permission, honoring
// colon-segment wildcards.
func (id *Identity) Can(perm string) bool { return HasPermission(id.Perms, perm) }

// EffectiveTier resolves the caller's tier: admin role wins, then the
// assigned tier, then free.
func (id *Identity) EffectiveTier() Tier {
	if id == nil {
		return TierFree
	}
	if id.Role == RoleAdmin {
		return TierAdmin
	}
	if id.Tier != "" {
		return id.Tier
	}
	return TierFree
}

// RateSubject returns the bucketing key for rate limiting: the API key when
// present, else the user, else the anonymous subject.
func (id *Identity) RateSubject() string {
	if id == nil {
		return "anon"
	}
	if id.KeyID != "" {
		return "key:" + id.KeyID
	}
	if id.UserID != "" {
		return "user:" + id.UserID
	}
	return "sub:" + id.Subject
}

// --- Persisted auth records ---

// User is a registered account. Passwords are stored bcrypt-only.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Tier         Tier       `json:"tier"`
	Permissions  []string   `json:"permissions"` // role set ∪ extras, recomputed on role change
	Extras       []string   `json:"-"`           // per-user grants beyond the role
	Verified     bool       `json:"verified"`
	FailedLogins int        `json:"-"`
	LockedUntil  *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}

// APIKeyPrefix is the public prefix on every issued key.
const APIKeyPrefix = "llmr_"

// APIKey is an issued credential. The plaintext secret is shown exactly once
// at issuance; only its bcrypt hash persists.
type APIKey struct {
	ID          string     `json:"id"` // public prefix, "llmr_" + 16 hex
	SecretHash  string     `json:"-"`  // bcrypt of the secret half
	Name        string     `json:"name"`
	OwnerUserID string     `json:"owner_user_id"`
	Tier        Tier       `json:"tier"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `json:"active"` // deactivation is monotonic
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RefreshToken is the server-side record for an issued refresh token.
// Rotation deletes the predecessor and inserts exactly one successor.
type RefreshToken struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CostWindow is one hourly cost-ledger row for an API key.
type CostWindow struct {
	KeyID       string    `json:"key_id"`
	WindowStart time.Time `json:"window_start"`
	Tokens      int64     `json:"tokens"`
	Requests    int64     `json:"requests"`
	CostUSD     float64   `json:"cost_usd"`
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}
