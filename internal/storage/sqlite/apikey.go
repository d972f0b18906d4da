package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

// CreateKey inserts a new API key record. Only the bcrypt secret hash is
// persisted.
func (s *Store) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	perms, err := marshalStrings(key.Permissions)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO api_keys (id, secret_hash, name, owner_user_id, tier, permissions, expires_at, active, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.SecretHash, key.Name, nullStr(key.OwnerUserID), string(key.Tier),
		perms, timeToStr(key.ExpiresAt), boolToInt(key.Active),
		timeToStr(key.LastUsedAt), key.CreatedAt.UTC().Format(time.RFC3339),
	)
	return dupErr(err)
}

// GetKey retrieves an API key by its public prefix id.
func (s *Store) GetKey(ctx context.Context, id string) (*gateway.APIKey, error) {
	return scanKey(s.read.QueryRowContext(ctx, keySelect+` WHERE id = ?`, id))
}

// ListKeys returns the keys owned by a user, newest first.
func (s *Store) ListKeys(ctx context.Context, ownerUserID string, offset, limit int) ([]*gateway.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		keySelect+` WHERE owner_user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		ownerUserID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeactivateKey clears the active flag. Deactivation is monotonic; there is
// no reactivation path.
func (s *Store) DeactivateKey(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `UPDATE api_keys SET active=0 WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// DeactivateKeysForUser clears the active flag on every key owned by userID.
func (s *Store) DeactivateKeysForUser(ctx context.Context, userID string) error {
	_, err := s.write.ExecContext(ctx, `UPDATE api_keys SET active=0 WHERE owner_user_id=?`, userID)
	return err
}

// TouchKeyUsed updates the last_used_at timestamp.
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at=? WHERE id=?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

const keySelect = `SELECT id, secret_hash, name, owner_user_id, tier, permissions, expires_at, active, last_used_at, created_at FROM api_keys`

func scanKey(sc scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var owner, perms, expiresAt, lastUsedAt sql.NullString
	var tier, createdAt string
	var active int

	err := sc.Scan(&k.ID, &k.SecretHash, &k.Name, &owner, &tier, &perms, &expiresAt, &active, &lastUsedAt, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	k.OwnerUserID = owner.String
	k.Tier = gateway.Tier(tier)
	k.Active = active != 0
	if k.Permissions, err = unmarshalStrings(perms); err != nil {
		return nil, err
	}
	k.ExpiresAt = parseTime(expiresAt)
	k.LastUsedAt = parseTime(lastUsedAt)
	if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		k.CreatedAt = *t
	}
	return &k, nil
}
