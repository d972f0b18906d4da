package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/storage"
)

const (
	// Issuer is the iss claim on every token this service mints.
	Issuer = "llm-router"

	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims is the access token payload. Permissions ride in the token so that
// verification needs no store round trip.
type Claims struct {
	Role  string   `json:"role"`
	Tier  string   `json:"tier"`
	Perms []string `json:"perms"`
	Kind  string   `json:"knd"` // "access" or "refresh"
	jwt.RegisteredClaims
}

// TokenPair is the result of login or refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // access token lifetime, seconds
}

// Tokens issues and verifies HS256 JWTs. Refresh tokens are additionally
// tracked server-side for single-use rotation; revoked access tokens go on
// the jti blacklist until natural expiry.
type Tokens struct {
	secret     []byte
	store      storage.TokenStore
	blacklist  *Blacklist
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokens returns a Tokens service signing with secret.
func NewTokens(secret []byte, store storage.TokenStore, bl *Blacklist) *Tokens {
	return &Tokens{
		secret:     secret,
		store:      store,
		blacklist:  bl,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
}

// SetTTLs overrides the token lifetimes. Zero values keep the defaults.
func (t *Tokens) SetTTLs(access, refresh time.Duration) {
	if access > 0 {
		t.accessTTL = access
	}
	if refresh > 0 {
		t.refreshTTL = refresh
	}
}

// IssuePair mints an access+refresh pair for user and records the refresh
// token server-side.
func (t *Tokens) IssuePair(ctx context.Context, user *gateway.User) (*TokenPair, error) {
	now := t.now().UTC()

	access, err := t.sign(&Claims{
		Role:  user.Role,
		Tier:  string(user.Tier),
		Perms: user.Permissions,
		Kind:  "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   user.ID,
			ID:        uuid.Must(uuid.NewV7()).String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
	})
	if err != nil {
		return nil, err
	}

	jti := uuid.Must(uuid.NewV7()).String()
	refresh, err := t.sign(&Claims{
		Kind: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshTTL)),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := t.store.PutRefreshToken(ctx, &gateway.RefreshToken{
		JTI:       jti,
		UserID:    user.ID,
		ExpiresAt: now.Add(t.refreshTTL),
	}); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(t.accessTTL / time.Second),
	}, nil
}

// VerifyAccess parses and validates an access token and returns the caller
// identity. Blacklisted and refresh-kind tokens are rejected.
func (t *Tokens) VerifyAccess(tokenStr string) (*gateway.Identity, error) {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind != "access" {
		return nil, gateway.E(gateway.KindUnauthenticated, "not an access token")
	}
	if t.blacklist.Contains(claims.ID) {
		return nil, gateway.E(gateway.KindUnauthenticated, "token revoked")
	}
	return &gateway.Identity{
		Subject:    claims.Subject,
		UserID:     claims.Subject,
		Role:       claims.Role,
		Tier:       gateway.Tier(claims.Tier),
		Perms:      claims.Perms,
		AuthMethod: "jwt",
	}, nil
}

// Refresh rotates a refresh token: the presented token's server-side record
// is deleted and exactly one successor pair is issued. A replayed token finds
// no record and is rejected, which is the signal to re-authenticate.
func (t *Tokens) Refresh(ctx context.Context, refreshStr string, lookup func(ctx context.Context, userID string) (*gateway.User, error)) (*TokenPair, error) {
	claims, err := t.parse(refreshStr)
	if err != nil {
		return nil, err
	}
	if claims.Kind != "refresh" {
		return nil, gateway.E(gateway.KindUnauthenticated, "not a refresh token")
	}

	if _, err := t.store.GetRefreshToken(ctx, claims.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateway.E(gateway.KindUnauthenticated, "refresh token already used or revoked")
		}
		return nil, err
	}
	if err := t.store.DeleteRefreshToken(ctx, claims.ID); err != nil {
		return nil, err
	}

	user, err := lookup(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateway.E(gateway.KindUnauthenticated, "account no longer exists")
		}
		return nil, err
	}
	return t.IssuePair(ctx, user)
}

// Revoke blacklists an access token's jti until its natural expiry and, for
// refresh tokens, deletes the server-side record.
func (t *Tokens) Revoke(ctx context.Context, tokenStr string) error {
	claims, err := t.parse(tokenStr)
	if err != nil {
		return err
	}
	if claims.Kind == "refresh" {
		return t.store.DeleteRefreshToken(ctx, claims.ID)
	}
	t.blacklist.Add(claims.ID, claims.ExpiresAt.Time)
	return nil
}

func (t *Tokens) sign(claims *Claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", gateway.Wrap(gateway.KindInternal, err)
	}
	return s, nil
}

func (t *Tokens) parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, gateway.E(gateway.KindUnauthenticated, "token expired")
		}
		return nil, gateway.E(gateway.KindUnauthenticated, "invalid token")
	}
	return claims, nil
}
