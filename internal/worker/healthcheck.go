package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/circuitbreaker"
	"github.com/llmrouter/gateway/internal/registry"
)

const healthProbeTimeout = 10 * time.Second

// HealthChecker probes every registered adapter on a fixed interval.
// Probe results feed the circuit breakers: a failed probe counts as a
// failure, and a successful probe while the breaker is half-open helps
// it close again without waiting for live traffic.
type HealthChecker struct {
	registry *registry.Registry
	breakers *circuitbreaker.Registry
	interval time.Duration

	mu     sync.RWMutex
	status map[string]gateway.HealthStatus
}

// NewHealthChecker creates a HealthChecker. interval <= 0 disables probing.
func NewHealthChecker(reg *registry.Registry, breakers *circuitbreaker.Registry, interval time.Duration) *HealthChecker {
	return &HealthChecker{
		registry: reg,
		breakers: breakers,
		interval: interval,
		status:   make(map[string]gateway.HealthStatus),
	}
}

// Name returns the worker identifier.
func (h *HealthChecker) Name() string { return "health_checker" }

// Status returns the last probe result for a provider.
func (h *HealthChecker) Status(providerID string) (gateway.HealthStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.status[providerID]
	return s, ok
}

// Statuses returns a copy of all last probe results.
func (h *HealthChecker) Statuses() map[string]gateway.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]gateway.HealthStatus, len(h.status))
	for k, v := range h.status {
		out[k] = v
	}
	return out
}

// Run probes all adapters once at startup, then on every interval tick.
func (h *HealthChecker) Run(ctx context.Context) error {
	if h.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	h.probeAll(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.probeAll(ctx)
		}
	}
}

func (h *HealthChecker) probeAll(ctx context.Context) {
	for _, id := range h.registry.AdapterIDs() {
		adapter, err := h.registry.Adapter(id)
		if err != nil {
			continue
		}
		h.probe(ctx, id, adapter)
	}
}

func (h *HealthChecker) probe(ctx context.Context, id string, adapter gateway.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	start := time.Now()
	err := adapter.Health(probeCtx)
	latency := time.Since(start)

	status := gateway.HealthStatus{OK: err == nil, Latency: latency, RateRemaining: -1}
	h.mu.Lock()
	h.status[id] = status
	h.mu.Unlock()

	br := h.breakers.GetOrCreate(id)
	if err != nil {
		br.RecordFailure()
		slog.LogAttrs(ctx, slog.LevelWarn, "health probe failed",
			slog.String("provider", id),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()),
		)
		return
	}
	// Only feed successes while the breaker is recovering; healthy
	// providers get their success signal from live traffic.
	if br.State() != circuitbreaker.StateClosed {
		br.RecordSuccess()
	}
}
