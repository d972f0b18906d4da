package registry

import (
	"slices"
	"sync"
	"time"
)

const (
	// reliabilityWindow bounds the sample count used for the success-rate
	// estimate (rolling, Laplace-smoothed).
	reliabilityWindow = 500
	// defaultReliability is assumed until any history accumulates.
	defaultReliability = 0.8
	// latencyRingSize holds recent latencies for the p75 estimate.
	latencyRingSize = 128

	emaAlpha = 0.1
)

// Perf is the observed performance window for a single (provider, model)
// pair: latency percentiles plus EMAs of latency, throughput, success, and
// cost. Safe for concurrent use.
type Perf struct {
	mu sync.Mutex

	latencies [latencyRingSize]time.Duration
	idx       int
	filled    int

	successes int
	samples   int

	latencyEMA float64 // milliseconds
	tpsEMA     float64 // completion tokens per second
	costEMA    float64 // USD per request
}

func newPerf() *Perf { return &Perf{} }

// Observe records one completed dispatch.
func (p *Perf) Observe(latency time.Duration, costUSD float64, tokensOut int, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latencies[p.idx] = latency
	p.idx = (p.idx + 1) % latencyRingSize
	if p.filled < latencyRingSize {
		p.filled++
	}

	if p.samples < reliabilityWindow {
		p.samples++
	} else if p.successes > 0 {
		// Decay one slot so the window stays rolling.
		p.successes--
		p.samples = reliabilityWindow
	}
	if success {
		p.successes++
	}

	ms := float64(latency.Milliseconds())
	update(&p.latencyEMA, ms)
	update(&p.costEMA, costUSD)
	if secs := latency.Seconds(); secs > 0 && tokensOut > 0 {
		update(&p.tpsEMA, float64(tokensOut)/secs)
	}
}

func update(ema *float64, v float64) {
	if *ema == 0 {
		*ema = v
		return
	}
	*ema = *ema*(1-emaAlpha) + v*emaAlpha
}

// P75Latency returns the 75th-percentile latency over the recent window,
// or 0 when no history exists.
func (p *Perf) P75Latency() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filled == 0 {
		return 0
	}
	buf := slices.Clone(p.latencies[:p.filled])
	slices.Sort(buf)
	return buf[p.filled*3/4]
}

// SuccessRate returns the Laplace-smoothed success rate and the sample count.
// With no history it returns the default reliability and 0 samples.
func (p *Perf) SuccessRate() (float64, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.samples == 0 {
		return defaultReliability, 0
	}
	return (float64(p.successes) + 1) / (float64(p.samples) + 2), p.samples
}

// CostEMA returns the per-request cost EMA in USD.
func (p *Perf) CostEMA() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.costEMA
}

// LatencyEMA returns the latency EMA in milliseconds.
func (p *Perf) LatencyEMA() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latencyEMA
}

// TPS returns the tokens-per-second EMA.
func (p *Perf) TPS() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tpsEMA
}
