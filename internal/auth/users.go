package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/storage"
)

const (
	lockoutThreshold = 5
	lockoutWindow    = 15 * time.Minute
	lockoutBase      = 30 * time.Second
	lockoutMax       = 8 * time.Minute
)

// Users manages account registration and password login. Failed-login
// accounting lives in memory keyed by user ID; the durable FailedLogins
// column survives restarts but the 15-minute window does not, which is an
// acceptable reset.
type Users struct {
	store  storage.UserStore
	hasher *Hasher
	log    *slog.Logger

	mu       sync.Mutex
	failures map[string]*failureRecord
}

type failureRecord struct {
	count       int
	windowStart time.Time
	lockouts    int // consecutive lockouts, drives the exponential delay
	lockedUntil time.Time
}

// NewUsers returns a Users service backed by store.
func NewUsers(store storage.UserStore, hasher *Hasher, log *slog.Logger) *Users {
	return &Users{store: store, hasher: hasher, log: log, failures: make(map[string]*failureRecord)}
}

// Register creates a new account with the member role and free tier.
func (u *Users) Register(ctx context.Context, username, password string) (*gateway.User, error) {
	if len(username) < 3 || len(password) < 8 {
		return nil, gateway.E(gateway.KindInvalidRequest, "username >= 3 chars and password >= 8 chars required")
	}
	hash, err := u.hasher.Hash(ctx, password)
	if err != nil {
		return nil, err
	}
	usr := &gateway.User{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Username:     username,
		PasswordHash: hash,
		Role:         gateway.RoleMember,
		Tier:         gateway.TierFree,
		Permissions:  gateway.EffectivePermissions(gateway.RoleMember, nil),
		CreatedAt:    time.Now().UTC(),
	}
	if err := u.store.CreateUser(ctx, usr); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, gateway.E(gateway.KindInvalidRequest, "username already taken")
		}
		return nil, err
	}
	return usr, nil
}

// Login verifies a username/password pair. Lockout engages after 5 failures
// inside 15 minutes; repeat lockouts double from 30s up to 8m. Lockout is
// checked before the bcrypt compare so a locked account never burns a pool
// slot.
func (u *Users) Login(ctx context.Context, username, password string) (*gateway.User, error) {
	usr, err := u.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Equalize timing against unknown usernames.
			u.hasher.Compare(ctx, phantomHash, password) //nolint:errcheck
			return nil, gateway.E(gateway.KindUnauthenticated, "invalid credentials")
		}
		return nil, err
	}

	if until, locked := u.lockedUntil(usr.ID); locked {
		e := gateway.E(gateway.KindRateLimited, "account temporarily locked")
		e.RetryAfter = time.Until(until)
		return nil, e
	}

	ok, err := u.hasher.Compare(ctx, usr.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		u.recordFailure(usr.ID)
		return nil, gateway.E(gateway.KindUnauthenticated, "invalid credentials")
	}

	u.clearFailures(usr.ID)
	return usr, nil
}

// ChangeRole updates a user's role and recomputes the permission union.
func (u *Users) ChangeRole(ctx context.Context, userID, role string) (*gateway.User, error) {
	if _, ok := gateway.RolePermissions[role]; !ok {
		return nil, gateway.E(gateway.KindInvalidRequest, "unknown role %q", role)
	}
	usr, err := u.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateway.E(gateway.KindNotFound, "user %s not found", userID)
		}
		return nil, err
	}
	usr.Role = role
	usr.Permissions = gateway.EffectivePermissions(role, usr.Extras)
	if err := u.store.UpdateUser(ctx, usr); err != nil {
		return nil, err
	}
	return usr, nil
}

// Grant adds a per-user permission beyond the role set.
func (u *Users) Grant(ctx context.Context, userID, perm string) (*gateway.User, error) {
	usr, err := u.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gateway.E(gateway.KindNotFound, "user %s not found", userID)
		}
		return nil, err
	}
	usr.Extras = append(usr.Extras, perm)
	usr.Permissions = gateway.EffectivePermissions(usr.Role, usr.Extras)
	if err := u.store.UpdateUser(ctx, usr); err != nil {
		return nil, err
	}
	return usr, nil
}

func (u *Users) lockedUntil(userID string) (time.Time, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.failures[userID]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().Before(rec.lockedUntil) {
		return rec.lockedUntil, true
	}
	return time.Time{}, false
}

func (u *Users) recordFailure(userID string) {
	now := time.Now()
	u.mu.Lock()
	defer u.mu.Unlock()
	rec, ok := u.failures[userID]
	if !ok || now.Sub(rec.windowStart) > lockoutWindow {
		rec = &failureRecord{windowStart: now}
		u.failures[userID] = rec
	}
	rec.count++
	if rec.count >= lockoutThreshold {
		delay := lockoutBase << rec.lockouts
		if delay > lockoutMax {
			delay = lockoutMax
		}
		rec.lockouts++
		rec.lockedUntil = now.Add(delay)
		rec.count = 0
		rec.windowStart = now
		u.log.LogAttrs(context.Background(), slog.LevelWarn, "account locked",
			slog.String("user_id", userID),
			slog.Duration("duration", delay))
	}
}

func (u *Users) clearFailures(userID string) {
	u.mu.Lock()
	delete(u.failures, userID)
	u.mu.Unlock()
}

// SweepFailures drops failure records whose window and lockout have both
// lapsed. Called by the janitor.
func (u *Users) SweepFailures() {
	now := time.Now()
	u.mu.Lock()
	defer u.mu.Unlock()
	for id, rec := range u.failures {
		if now.Sub(rec.windowStart) > lockoutWindow && now.After(rec.lockedUntil) {
			delete(u.failures, id)
		}
	}
}

// phantomHash is a valid bcrypt hash of random bytes, used to keep timing
// uniform when the username does not exist.
const phantomHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
