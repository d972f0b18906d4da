package ratelimit

import (
	"context"
	"math"
	"time"

	gateway "github.com/llmrouter/gateway/internal"
)

// Subject identifies the caller for bucketing purposes.
type Subject struct {
	Key   string // stable rate subject (api key id, user id, or anon)
	Tier  gateway.Tier
	Route string // route pattern, for route-specific buckets
	IP    string
	UA    string
}

// Decision is the aggregate outcome of evaluating every applicable bucket.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
	Tier       gateway.Tier
	Reason     string // denying bucket stage, e.g. "tier_minute"

	// Release decrements the concurrent counter; idempotent, must be called
	// on every exit path of an allowed request.
	Release func()
	// RefundCost returns the cost-bucket units on cancellation. Window
	// buckets are not refunded -- they have already ticked.
	RefundCost func()
}

// RouteLimit is an optional per-route requests-per-minute override.
type RouteLimit struct {
	Pattern string
	PerMin  int64
}

// Config holds limiter-wide settings.
type Config struct {
	GlobalPerMinute int64         // 0 = unlimited
	GlobalWindow    time.Duration // 0 = one minute
	Tiers           map[gateway.Tier]TierLimits
	Routes          []RouteLimit
}

// monthWindow approximates a billing month for the tier monthly ceiling.
const monthWindow = 30 * 24 * time.Hour

// Limiter evaluates all applicable buckets for each request in a fixed
// order: global, tier-monthly, tier-hourly, tier-minute, tier-concurrent,
// route, cost.
// The first denial short-circuits and refunds every bucket consumed so far,
// so a denied subject is not double-charged.
type Limiter struct {
	cfg        Config
	buckets    *buckets
	concurrent *Concurrent
	adaptive   *Adaptive
	anomaly    *Detector
}

// New creates a Limiter over the given store.
func New(store Store, cfg Config) *Limiter {
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = time.Minute
	}
	return &Limiter{
		cfg:        cfg,
		buckets:    newBuckets(store),
		concurrent: NewConcurrent(store),
		adaptive:   NewAdaptive(),
		anomaly:    NewDetector(),
	}
}

// Adaptive exposes the per-subject adaptive limit state for feedback.
func (l *Limiter) Adaptive() *Adaptive { return l.adaptive }

// Anomaly exposes the traffic anomaly detector.
func (l *Limiter) Anomaly() *Detector { return l.anomaly }

// TierLimits returns the configured limits for a tier.
func (l *Limiter) TierLimits(t gateway.Tier) TierLimits { return l.cfg.Tiers[t] }

type consumed struct {
	bucket string
	n      int64
}

// Check evaluates every applicable bucket for one request. cost is the
// cost-bucket consumption (see RequestCost). The returned Decision's Release
// and RefundCost funcs are non-nil whenever Allowed.
func (l *Limiter) Check(ctx context.Context, sub Subject, cost int64) (*Decision, error) {
	tier := sub.Tier
	if tier == "" {
		tier = gateway.TierFree
	}
	limits := l.cfg.Tiers[tier]
	l.anomaly.Record(sub.IP, sub.UA, sub.Key)

	var spent []consumed
	deny := func(r Result, reason string) *Decision {
		for _, c := range spent {
			l.buckets.refund(ctx, c.bucket, c.n)
		}
		return &Decision{
			Limit:      r.Limit,
			Remaining:  0,
			Reset:      r.Reset,
			RetryAfter: r.RetryAfter,
			Tier:       tier,
			Reason:     reason,
		}
	}

	// 1. Global per-minute ceiling.
	if l.cfg.GlobalPerMinute > 0 {
		r, err := l.buckets.fixedWindow(ctx, "global", l.cfg.GlobalPerMinute, 1, l.cfg.GlobalWindow)
		if err != nil {
			return nil, err
		}
		if !r.Allowed {
			return deny(r, "global"), nil
		}
		spent = append(spent, consumed{r.Bucket, 1})
	}

	// 2. Tier monthly ceiling.
	if limits.MonthlyRequests > 0 {
		r, err := l.buckets.fixedWindow(ctx, "month:"+sub.Key, limits.MonthlyRequests, 1, monthWindow)
		if err != nil {
			return nil, err
		}
		if !r.Allowed {
			return deny(r, "tier_month"), nil
		}
		spent = append(spent, consumed{r.Bucket, 1})
	}

	// 3. Tier hourly window.
	if limits.RequestsPerHour > 0 {
		r, err := l.buckets.fixedWindow(ctx, "hour:"+sub.Key, limits.RequestsPerHour, 1, time.Hour)
		if err != nil {
			return nil, err
		}
		if !r.Allowed {
			return deny(r, "tier_hour"), nil
		}
		spent = append(spent, consumed{r.Bucket, 1})
	}

	// 4. Tier per-minute sliding window, scaled by the adaptive factor.
	var minuteResult Result
	if limits.RequestsPerMinute > 0 {
		limit := l.adaptive.Scale(sub.Key, limits.RequestsPerMinute)
		r, err := l.buckets.slidingWindow(ctx, "min:"+sub.Key, limit, 1, time.Minute)
		if err != nil {
			return nil, err
		}
		if !r.Allowed {
			return deny(r, "tier_minute"), nil
		}
		minuteResult = r
		spent = append(spent, consumed{r.Bucket, 1})
	}

	// 5. Tier concurrent cap.
	release := func() {}
	if limits.Concurrent > 0 {
		rel, _, ok := l.concurrent.Acquire(ctx, sub.Key, limits.Concurrent)
		if !ok {
			r := Result{Limit: limits.Concurrent, RetryAfter: time.Second, Reset: time.Now().Add(time.Second)}
			return deny(r, "tier_concurrent"), nil
		}
		release = rel
	}

	// 6. Route-specific window.
	for _, rl := range l.cfg.Routes {
		if rl.Pattern != sub.Route || rl.PerMin <= 0 {
			continue
		}
		r, err := l.buckets.fixedWindow(ctx, "route:"+rl.Pattern+":"+sub.Key, rl.PerMin, 1, time.Minute)
		if err != nil {
			release()
			return nil, err
		}
		if !r.Allowed {
			release()
			return deny(r, "route"), nil
		}
		spent = append(spent, consumed{r.Bucket, 1})
	}

	// 7. Daily token budget, consumed in cost units scaled by the tier
	// cost multiplier.
	var costBucket string
	costUnits := cost
	if m := limits.CostMultiplier; m > 0 && m != 1 && cost > 0 {
		costUnits = int64(math.Ceil(float64(cost) * m))
		if costUnits < 1 {
			costUnits = 1
		}
	}
	if limits.DailyTokens > 0 && costUnits > 0 {
		capacity := limits.DailyTokens / 50 // cost units mirror RequestCost
		if capacity < 1 {
			capacity = 1
		}
		refill := float64(capacity) / (24 * 3600)
		r, err := l.buckets.tokenBucket(ctx, "cost:"+sub.Key, capacity, refill, costUnits)
		if err != nil {
			release()
			return nil, err
		}
		if !r.Allowed {
			release()
			return deny(r, "cost"), nil
		}
		costBucket = r.Bucket
	}

	d := &Decision{
		Allowed: true,
		Tier:    tier,
		Release: release,
	}
	if minuteResult.Bucket != "" {
		d.Limit = minuteResult.Limit
		d.Remaining = minuteResult.Remaining
		d.Reset = minuteResult.Reset
	}
	bucket := costBucket
	n := costUnits
	refunded := false
	d.RefundCost = func() {
		if refunded || bucket == "" {
			return
		}
		refunded = true
		l.buckets.refund(context.WithoutCancel(ctx), bucket, n)
	}
	return d, nil
}

// Observe feeds a completed request back into the adaptive limit state.
func (l *Limiter) Observe(sub Subject, failed bool, latency time.Duration) {
	l.adaptive.Observe(sub.Key, failed, latency)
}
