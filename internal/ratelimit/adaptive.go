package ratelimit

import (
	"sync"
	"time"
)

const (
	adaptiveFloor   = 0.1
	adaptiveCeiling = 10.0
	adaptiveStep    = 0.10 // max relative change per observation window
	adaptiveWindow  = 50   // observations per adjustment
)

// Adaptive adjusts each subject's personal per-minute limit within hard
// bounds of the tier default. Subjects hitting upstream errors get a slowly
// raised limit (generous to repeat callers hitting provider issues); quiet,
// fast subjects drift back toward the default.
type Adaptive struct {
	mu       sync.Mutex
	subjects map[string]*adaptiveState
}

type adaptiveState struct {
	factor     float64
	errors     int
	count      int
	latencySum time.Duration
	lastUsed   time.Time
}

// NewAdaptive returns an empty adaptive limit table.
func NewAdaptive() *Adaptive {
	return &Adaptive{subjects: make(map[string]*adaptiveState)}
}

// Scale applies the subject's current factor to a base limit.
func (a *Adaptive) Scale(subject string, base int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.subjects[subject]
	if !ok {
		return base
	}
	scaled := int64(float64(base) * s.factor)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

// Observe records one completed request. Every adaptiveWindow observations
// the factor is adjusted by at most adaptiveStep.
func (a *Adaptive) Observe(subject string, failed bool, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.subjects[subject]
	if !ok {
		s = &adaptiveState{factor: 1.0}
		a.subjects[subject] = s
	}
	s.lastUsed = time.Now()
	s.count++
	s.latencySum += latency
	if failed {
		s.errors++
	}
	if s.count < adaptiveWindow {
		return
	}

	errRate := float64(s.errors) / float64(s.count)
	avgLatency := s.latencySum / time.Duration(s.count)
	switch {
	case errRate > 0.05:
		s.factor *= 1 + adaptiveStep
	case errRate < 0.01 && avgLatency < 100*time.Millisecond && s.factor > 1.0:
		s.factor *= 1 - adaptiveStep
	}
	s.factor = min(adaptiveCeiling, max(adaptiveFloor, s.factor))
	s.count, s.errors, s.latencySum = 0, 0, 0
}

// EvictStale removes subjects idle since cutoff; called by the janitor.
func (a *Adaptive) EvictStale(cutoff time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for k, s := range a.subjects {
		if s.lastUsed.Before(cutoff) {
			delete(a.subjects, k)
			n++
		}
	}
	return n
}
