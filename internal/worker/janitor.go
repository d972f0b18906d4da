package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	janitorInterval   = 5 * time.Minute
	janitorStaleAfter = time.Hour
)

// TokenStore is the refresh-token persistence consumed by Janitor.
type TokenStore interface {
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// StaleEvicter drops entries untouched since the cutoff.
type StaleEvicter interface {
	EvictStale(cutoff time.Time) int
}

type sweep struct {
	name string
	fn   func(now time.Time) int
}

// Janitor periodically evicts expired state from the in-memory registries
// and deletes expired refresh tokens from the store.
type Janitor struct {
	interval   time.Duration
	staleAfter time.Duration
	tokens     TokenStore
	sweeps     []sweep
}

// NewJanitor creates a Janitor. tokens may be nil when refresh tokens
// are not persisted.
func NewJanitor(tokens TokenStore) *Janitor {
	return &Janitor{
		interval:   janitorInterval,
		staleAfter: janitorStaleAfter,
		tokens:     tokens,
	}
}

// AddSweep registers a named sweep executed on every cycle.
func (j *Janitor) AddSweep(name string, fn func() int) {
	j.sweeps = append(j.sweeps, sweep{name: name, fn: func(time.Time) int { return fn() }})
}

// AddEvicter registers a stale-entry evicter executed on every cycle.
func (j *Janitor) AddEvicter(name string, e StaleEvicter) {
	j.sweeps = append(j.sweeps, sweep{
		name: name,
		fn:   func(now time.Time) int { return e.EvictStale(now.Add(-j.staleAfter)) },
	})
}

// Name returns the worker identifier.
func (j *Janitor) Name() string { return "janitor" }

// Run sweeps on a fixed cadence until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.cycle(ctx)
		}
	}
}

func (j *Janitor) cycle(ctx context.Context) {
	now := time.Now()
	for _, s := range j.sweeps {
		if n := s.fn(now); n > 0 {
			slog.Debug("janitor sweep", "target", s.name, "evicted", n)
		}
	}
	if j.tokens != nil {
		n, err := j.tokens.DeleteExpiredRefreshTokens(ctx, now)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "refresh token sweep failed",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			slog.Debug("janitor sweep", "target", "refresh_tokens", "evicted", n)
		}
	}
}
