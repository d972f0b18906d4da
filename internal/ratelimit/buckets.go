package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of a single bucket check.
type Result struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
	Bucket     string // bucket key that produced the decision
}

// buckets evaluates the window algorithms against a Store. All state lives in
// the store; this type only carries configuration.
type buckets struct {
	store Store
	now   func() time.Time // injectable for tests
}

func newBuckets(store Store) *buckets {
	return &buckets{store: store, now: time.Now}
}

// fixedWindow counts requests in [t0, t0+window), resetting at the boundary.
// Consumes n; refunds and denies when the count would exceed limit.
func (b *buckets) fixedWindow(ctx context.Context, key string, limit, n int64, window time.Duration) (Result, error) {
	now := b.now()
	start := now.Truncate(window)
	k := fmt.Sprintf("fw:%s:%d", key, start.Unix())
	reset := start.Add(window)

	val, err := b.store.IncrBy(ctx, k, n)
	if err != nil {
		return Result{}, err
	}
	if val == n {
		// First hit creates the window; expire it one period later so
		// laggard reads still see it briefly.
		if err := b.store.Expire(ctx, k, 2*window); err != nil {
			return Result{}, err
		}
	}
	if val > limit {
		if _, err := b.store.IncrBy(ctx, k, -n); err != nil {
			return Result{}, err
		}
		return Result{
			Limit:      limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: time.Until(reset),
			Bucket:     k,
		}, nil
	}
	return Result{Allowed: true, Limit: limit, Remaining: limit - val, Reset: reset, Bucket: k}, nil
}

// slidingWindow is the two-window counter approximation: the previous
// window's count is weighted by its overlap with [now-window, now].
func (b *buckets) slidingWindow(ctx context.Context, key string, limit, n int64, window time.Duration) (Result, error) {
	now := b.now()
	start := now.Truncate(window)
	cur := fmt.Sprintf("sw:%s:%d", key, start.Unix())
	prev := fmt.Sprintf("sw:%s:%d", key, start.Add(-window).Unix())

	prevCount, err := b.store.Get(ctx, prev)
	if err != nil {
		return Result{}, err
	}
	overlap := 1 - float64(now.Sub(start))/float64(window)

	val, err := b.store.IncrBy(ctx, cur, n)
	if err != nil {
		return Result{}, err
	}
	if val == n {
		if err := b.store.Expire(ctx, cur, 2*window); err != nil {
			return Result{}, err
		}
	}

	weighted := int64(float64(prevCount)*overlap) + val
	reset := start.Add(window)
	if weighted > limit {
		if _, err := b.store.IncrBy(ctx, cur, -n); err != nil {
			return Result{}, err
		}
		return Result{
			Limit:      limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: time.Until(reset),
			Bucket:     cur,
		}, nil
	}
	return Result{Allowed: true, Limit: limit, Remaining: limit - weighted, Reset: reset, Bucket: cur}, nil
}

// tokenBucket admits up to capacity units per refill horizon
// (capacity/refillPerSec seconds), expressed as a consumed-counter with TTL.
// cost-based checks are this algorithm with n = the caller-computed cost.
func (b *buckets) tokenBucket(ctx context.Context, key string, capacity int64, refillPerSec float64, n int64) (Result, error) {
	if refillPerSec <= 0 {
		refillPerSec = float64(capacity) / 60.0
	}
	horizon := time.Duration(float64(capacity) / refillPerSec * float64(time.Second))
	k := "tb:" + key

	val, err := b.store.IncrBy(ctx, k, n)
	if err != nil {
		return Result{}, err
	}
	if val == n {
		if err := b.store.Expire(ctx, k, horizon); err != nil {
			return Result{}, err
		}
	}
	if val > capacity {
		if _, err := b.store.IncrBy(ctx, k, -n); err != nil {
			return Result{}, err
		}
		deficit := float64(val - capacity)
		retry := time.Duration(deficit / refillPerSec * float64(time.Second))
		ttl, _ := b.store.TTL(ctx, k)
		if ttl > 0 && retry > ttl {
			retry = ttl
		}
		return Result{
			Limit:      capacity,
			Remaining:  0,
			Reset:      b.now().Add(retry),
			RetryAfter: retry,
			Bucket:     k,
		}, nil
	}
	return Result{Allowed: true, Limit: capacity, Remaining: capacity - val, Reset: b.now().Add(horizon), Bucket: k}, nil
}

// refund returns n units to a previously consumed bucket, flooring at zero.
func (b *buckets) refund(ctx context.Context, bucketKey string, n int64) {
	if bucketKey == "" || n <= 0 {
		return
	}
	if v, err := b.store.IncrBy(ctx, bucketKey, -n); err == nil && v < 0 {
		b.store.IncrBy(ctx, bucketKey, -v) //nolint:errcheck // clamp to zero
	}
}

// --- Concurrent counter ---

// Concurrent tracks in-flight requests per subject. Acquire and the returned
// release are paired across all exit paths, including panic and cancellation;
// the counter never goes negative.
type Concurrent struct {
	store Store
}

// NewConcurrent returns a concurrency tracker over the given store.
func NewConcurrent(store Store) *Concurrent {
	return &Concurrent{store: store}
}

// Acquire increments the subject's in-flight counter. When the new value
// exceeds limit the increment is rolled back and ok=false is returned.
// The release func is idempotent.
func (c *Concurrent) Acquire(ctx context.Context, subject string, limit int64) (release func(), current int64, ok bool) {
	k := "cc:" + subject
	val, err := c.store.IncrBy(ctx, k, 1)
	if err != nil {
		// Degrade open: a broken store must not take down the data path.
		return func() {}, 0, true
	}
	if limit > 0 && val > limit {
		c.store.IncrBy(ctx, k, -1) //nolint:errcheck
		return nil, val - 1, false
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Release must survive request cancellation.
		bg := context.WithoutCancel(ctx)
		if v, err := c.store.IncrBy(bg, k, -1); err == nil && v < 0 {
			c.store.IncrBy(bg, k, -v) //nolint:errcheck
		}
	}, val, true
}

// InFlight returns the subject's current in-flight count.
func (c *Concurrent) InFlight(ctx context.Context, subject string) int64 {
	v, _ := c.store.Get(ctx, "cc:"+subject)
	if v < 0 {
		return 0
	}
	return v
}
