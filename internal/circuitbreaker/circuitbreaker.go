// Package circuitbreaker implements a per-provider circuit breaker. It
// short-circuits requests to known-bad providers, reducing failover latency
// from seconds (timeout + network) to nanoseconds (state check).
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int           // consecutive failures to trip
	ResetTimeout     time.Duration // time in OPEN before allowing a probe
}

// DefaultConfig returns the default breaker parameters.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a per-provider circuit breaker state machine. Closed trips to
// open after FailureThreshold consecutive failures; open admits nothing until
// ResetTimeout elapses, then half-open admits exactly one probe whose outcome
// decides the next state.
type Breaker struct {
	mu           sync.Mutex
	state        State
	consecutive  int
	openedAt     time.Time
	lastUsed     time.Time
	probing      bool
	threshold    int
	resetTimeout time.Duration

	onTransition func(from, to State) // optional, for metrics
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		state:        StateClosed,
		threshold:    cfg.FailureThreshold,
		resetTimeout: cfg.ResetTimeout,
		lastUsed:     time.Now(),
	}
}

// OnTransition installs a callback invoked (under the breaker lock) on every
// state change.
func (b *Breaker) OnTransition(fn func(from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh(time.Now())
	return b.state
}

// refresh moves open -> half-open once the reset timeout has elapsed.
// Caller holds the lock.
func (b *Breaker) refresh(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.resetTimeout {
		b.transition(StateHalfOpen)
		b.probing = false
	}
}

// Allow checks whether a request may be dispatched. In half-open exactly one
// probe is admitted; callers that receive true must report the outcome via
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.refresh(now)

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful dispatch outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = time.Now()
	b.consecutive = 0
	if b.state == StateHalfOpen {
		// Probe succeeded: close.
		b.transition(StateClosed)
		b.probing = false
	}
}

// RecordFailure records a failed dispatch outcome.
func (b *Breaker) RecordFailure() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		b.consecutive++
		if b.consecutive >= b.threshold {
			b.transition(StateOpen)
			b.openedAt = now
		}
	case StateHalfOpen:
		// Probe failed: reopen.
		b.transition(StateOpen)
		b.openedAt = now
		b.probing = false
		b.consecutive = b.threshold
	}
}

// Snapshot reports the breaker's observable state for admin stats.
type Snapshot struct {
	State        string    `json:"state"`
	Consecutive  int       `json:"consecutive_failures"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
	ResetTimeout string    `json:"reset_timeout"`
}

// Snapshot returns the current observable state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh(time.Now())
	return Snapshot{
		State:        b.state.String(),
		Consecutive:  b.consecutive,
		OpenedAt:     b.openedAt,
		ResetTimeout: b.resetTimeout.String(),
	}
}

// LastUsed returns the time of last activity (for stale eviction).
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	t := b.lastUsed
	b.mu.Unlock()
	return t
}
