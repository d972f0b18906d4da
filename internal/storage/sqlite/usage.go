package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	gateway "github.com/llmrouter/gateway/internal"
)

// InsertUsage writes a batch of usage records in one transaction. Records
// without an id get one assigned.
func (s *Store) InsertUsage(ctx context.Context, records []gateway.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO usage (id, key_id, user_id, model, provider_id, prompt_tokens, completion_tokens,
		 total_tokens, cost_usd, cached, latency_ms, status_code, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		id := r.ID
		if id == "" {
			uid, err := uuid.NewV7()
			if err != nil {
				return err
			}
			id = uid.String()
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			id, nullStr(r.KeyID), nullStr(r.UserID), r.Model, r.ProviderID,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.CostUSD,
			boolToInt(r.Cached), r.LatencyMs, r.StatusCode, nullStr(r.RequestID),
			createdAt.UTC().Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SumUsageCost totals the recorded cost for one API key.
func (s *Store) SumUsageCost(ctx context.Context, keyID string) (float64, error) {
	var total float64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage WHERE key_id = ?`, keyID,
	).Scan(&total)
	return total, err
}
