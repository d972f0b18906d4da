package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	gateway "github.com/llmrouter/gateway/internal"
)

// SaveProviders replaces the persisted registry snapshot atomically. The
// tables mirror the in-memory snapshot: whole-record JSON per row keeps the
// schema stable as the record types grow.
func (s *Store) SaveProviders(ctx context.Context, providers []*gateway.ProviderInfo, models []*gateway.ModelInfo) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM providers`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM models`); err != nil {
		return err
	}
	for _, p := range providers {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal provider %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO providers (id, config) VALUES (?, ?)`, p.ID, string(raw)); err != nil {
			return err
		}
	}
	for _, m := range models {
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal model %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO models (id, provider_id, config) VALUES (?, ?, ?)`,
			m.ID, m.ProviderID, string(raw)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadProviders reads back the persisted snapshot.
func (s *Store) LoadProviders(ctx context.Context) ([]*gateway.ProviderInfo, []*gateway.ModelInfo, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT config FROM providers ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var providers []*gateway.ProviderInfo
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, nil, err
		}
		var p gateway.ProviderInfo
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, nil, fmt.Errorf("unmarshal provider: %w", err)
		}
		providers = append(providers, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	mrows, err := s.read.QueryContext(ctx, `SELECT config FROM models ORDER BY provider_id, id`)
	if err != nil {
		return nil, nil, err
	}
	defer mrows.Close()

	var models []*gateway.ModelInfo
	for mrows.Next() {
		var raw string
		if err := mrows.Scan(&raw); err != nil {
			return nil, nil, err
		}
		var m gateway.ModelInfo
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, nil, fmt.Errorf("unmarshal model: %w", err)
		}
		models = append(models, &m)
	}
	return providers, models, mrows.Err()
}
