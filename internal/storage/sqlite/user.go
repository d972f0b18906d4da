package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

// CreateUser inserts a new user. A duplicate username surfaces as
// storage.ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u *gateway.User) error {
	perms, err := marshalStrings(u.Permissions)
	if err != nil {
		return err
	}
	extras, err := marshalStrings(u.Extras)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, tier, permissions, extras, verified, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.Role, string(u.Tier),
		perms, extras, boolToInt(u.Verified), u.CreatedAt.UTC().Format(time.RFC3339),
	)
	return dupErr(err)
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*gateway.User, error) {
	return scanUser(s.read.QueryRowContext(ctx, userSelect+` WHERE id = ?`, id))
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*gateway.User, error) {
	return scanUser(s.read.QueryRowContext(ctx, userSelect+` WHERE username = ?`, username))
}

// UpdateUser rewrites the mutable user columns.
func (s *Store) UpdateUser(ctx context.Context, u *gateway.User) error {
	perms, err := marshalStrings(u.Permissions)
	if err != nil {
		return err
	}
	extras, err := marshalStrings(u.Extras)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE users SET password_hash=?, role=?, tier=?, permissions=?, extras=?, verified=? WHERE id=?`,
		u.PasswordHash, u.Role, string(u.Tier), perms, extras, boolToInt(u.Verified), u.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "user")
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "user")
}

const userSelect = `SELECT id, username, password_hash, role, tier, permissions, extras, verified, created_at FROM users`

func scanUser(sc scanner) (*gateway.User, error) {
	var u gateway.User
	var tier string
	var perms, extras sql.NullString
	var verified int
	var createdAt string

	err := sc.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &tier, &perms, &extras, &verified, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	u.Tier = gateway.Tier(tier)
	u.Verified = verified != 0
	if u.Permissions, err = unmarshalStrings(perms); err != nil {
		return nil, err
	}
	if u.Extras, err = unmarshalStrings(extras); err != nil {
		return nil, err
	}
	if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		u.CreatedAt = *t
	}
	return &u, nil
}

func marshalStrings(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalStrings(ns sql.NullString) ([]string, error) {
	if !ns.Valid {
		return nil, nil
	}
	var s []string
	if err := json.Unmarshal([]byte(ns.String), &s); err != nil {
		return nil, fmt.Errorf("unmarshal string slice: %w", err)
	}
	return s, nil
}
