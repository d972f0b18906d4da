package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker(Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("state after 2 failures = %v", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker must admit requests")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state after 3 failures = %v", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker must reject requests")
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	t.Parallel()

	b := NewBreaker(Config{FailureThreshold: 3, ResetTimeout: time.Minute})
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, success should have reset the run", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	t.Parallel()

	b := NewBreaker(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v", b.State())
	}

	// Exactly one probe is admitted.
	if !b.Allow() {
		t.Fatal("half-open breaker must admit one probe")
	}
	if b.Allow() {
		t.Fatal("second probe admitted while first is in flight")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state after successful probe = %v", b.State())
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b := NewBreaker(Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("probe not admitted")
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state after failed probe = %v", b.State())
	}
	if b.Allow() {
		t.Fatal("reopened breaker must reject requests")
	}
}

func TestBreakerTransitionCallback(t *testing.T) {
	t.Parallel()

	var transitions []State
	b := NewBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	b.OnTransition(func(_, to State) { transitions = append(transitions, to) })
	b.RecordFailure()
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestCountsAsFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", gateway.E(gateway.KindProviderUnavailable, "down"), true},
		{"timeout", gateway.E(gateway.KindProviderTimeout, "slow"), true},
		{"protocol", gateway.E(gateway.KindProtocolError, "garbage"), true},
		{"unknown error", errors.New("boom"), true},
		{"provider throttle", gateway.E(gateway.KindProviderRateLimited, "busy"), false},
		{"bad request", gateway.E(gateway.KindInvalidRequest, "no model"), false},
		{"content filter", gateway.E(gateway.KindContentFiltered, "blocked"), false},
		{"context length", gateway.E(gateway.KindContextLength, "too long"), false},
	}
	for _, tc := range cases {
		if got := CountsAsFailure(tc.err); got != tc.want {
			t.Errorf("CountsAsFailure(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	if r.Get("alpha") != nil {
		t.Fatal("unknown provider should have no breaker")
	}
	b := r.GetOrCreate("alpha")
	if b == nil || r.GetOrCreate("alpha") != b {
		t.Fatal("GetOrCreate must return the same breaker")
	}
	if r.IsOpen("alpha") || r.IsOpen("missing") {
		t.Error("fresh breakers report closed")
	}
}

func TestRegistryTransitionCallback(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	var gotProvider string
	var gotTo State
	r.OnTransition(func(provider string, _, to State) {
		gotProvider, gotTo = provider, to
	})

	r.GetOrCreate("alpha").RecordFailure()
	if gotProvider != "alpha" || gotTo != StateOpen {
		t.Errorf("callback got (%q, %v)", gotProvider, gotTo)
	}
	if !r.IsOpen("alpha") {
		t.Error("breaker should report open")
	}
}

func TestRegistrySnapshots(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: time.Minute})
	r.GetOrCreate("alpha").RecordFailure()
	snaps := r.Snapshots()
	if snaps["alpha"].State != "closed" || snaps["alpha"].Consecutive != 1 {
		t.Errorf("snapshot = %+v", snaps["alpha"])
	}
}

func TestRegistryEvictStale(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	r.GetOrCreate("old")
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	r.GetOrCreate("fresh")

	if n := r.EvictStale(cutoff); n != 1 {
		t.Fatalf("evicted = %d", n)
	}
	if r.Get("old") != nil {
		t.Error("stale breaker not removed")
	}
	if r.Get("fresh") == nil {
		t.Error("fresh breaker removed")
	}
}
