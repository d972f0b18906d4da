package sqlite

import (
	"context"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

// PutRefreshToken inserts a refresh token record.
func (s *Store) PutRefreshToken(ctx context.Context, t *gateway.RefreshToken) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO refresh_tokens (jti, user_id, expires_at) VALUES (?, ?, ?)`,
		t.JTI, t.UserID, t.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return dupErr(err)
}

// GetRefreshToken retrieves a refresh token record by jti.
func (s *Store) GetRefreshToken(ctx context.Context, jti string) (*gateway.RefreshToken, error) {
	var t gateway.RefreshToken
	var expiresAt string
	err := s.read.QueryRowContext(ctx,
		`SELECT jti, user_id, expires_at FROM refresh_tokens WHERE jti = ?`, jti,
	).Scan(&t.JTI, &t.UserID, &expiresAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	parsed, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return nil, err
	}
	t.ExpiresAt = parsed
	return &t, nil
}

// DeleteRefreshToken removes a refresh token record. Rotation relies on this
// delete succeeding exactly once per jti.
func (s *Store) DeleteRefreshToken(ctx context.Context, jti string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE jti=?`, jti)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "refresh token")
}

// DeleteExpiredRefreshTokens removes every record expired as of now and
// reports how many were deleted.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
