package sqlite

import (
	"context"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

// AddToLedger accumulates tokens, requests, and cost into the key's hourly
// window row, creating it on first touch.
func (s *Store) AddToLedger(ctx context.Context, keyID string, windowStart time.Time, tokens, requests int64, costUSD float64) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO cost_ledger (key_id, window_start, tokens, requests, cost_usd)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key_id, window_start) DO UPDATE SET
		 tokens = tokens + excluded.tokens,
		 requests = requests + excluded.requests,
		 cost_usd = cost_usd + excluded.cost_usd`,
		keyID, windowStart.UTC().Format(time.RFC3339), tokens, requests, costUSD,
	)
	return err
}

// GetLedgerWindow retrieves one hourly window row.
func (s *Store) GetLedgerWindow(ctx context.Context, keyID string, windowStart time.Time) (*gateway.CostWindow, error) {
	var w gateway.CostWindow
	var start string
	err := s.read.QueryRowContext(ctx,
		`SELECT key_id, window_start, tokens, requests, cost_usd
		 FROM cost_ledger WHERE key_id = ? AND window_start = ?`,
		keyID, windowStart.UTC().Format(time.RFC3339),
	).Scan(&w.KeyID, &start, &w.Tokens, &w.Requests, &w.CostUSD)
	if err != nil {
		return nil, notFoundErr(err)
	}
	parsed, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil, err
	}
	w.WindowStart = parsed
	return &w, nil
}

// SumLedgerCost totals a key's ledger cost since the given time.
func (s *Store) SumLedgerCost(ctx context.Context, keyID string, since time.Time) (float64, error) {
	var total float64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger WHERE key_id = ? AND window_start >= ?`,
		keyID, since.UTC().Format(time.RFC3339),
	).Scan(&total)
	return total, err
}
