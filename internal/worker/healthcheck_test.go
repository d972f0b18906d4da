package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/llmrouter/gateway/internal/circuitbreaker"
	"github.com/llmrouter/gateway/internal/registry"
	"github.com/llmrouter/gateway/internal/testutil"
)

func TestHealthCheckerRecordsStatus(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.RegisterAdapter("good", &testutil.FakeProvider{ProviderName: "good"})
	reg.RegisterAdapter("bad", &testutil.FakeProvider{
		ProviderName: "bad",
		HealthFn:     func(context.Context) error { return errors.New("connection refused") },
	})
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	h := NewHealthChecker(reg, breakers, time.Minute)
	h.probeAll(context.Background())

	if s, ok := h.Status("good"); !ok || !s.OK {
		t.Errorf("good status = %+v, ok=%v, want healthy", s, ok)
	}
	if s, ok := h.Status("bad"); !ok || s.OK {
		t.Errorf("bad status = %+v, ok=%v, want unhealthy", s, ok)
	}
	if len(h.Statuses()) != 2 {
		t.Errorf("Statuses() len = %d, want 2", len(h.Statuses()))
	}
}

func TestHealthCheckerFeedsBreaker(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.RegisterAdapter("flaky", &testutil.FakeProvider{
		ProviderName: "flaky",
		HealthFn:     func(context.Context) error { return errors.New("boom") },
	})
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	h := NewHealthChecker(reg, breakers, time.Minute)
	for range 3 {
		h.probeAll(context.Background())
	}

	if !breakers.IsOpen("flaky") {
		t.Error("breaker did not open after repeated failed probes")
	}
}

func TestHealthCheckerDisabledBlocksUntilCancel(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(registry.New(), circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disabled checker did not stop on cancel")
	}
}
