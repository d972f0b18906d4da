package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a replicated Redis deployment, for multi-node
// gateways that need shared bucket state.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis wraps an existing client. All keys are namespaced under prefix.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "llmrouter:rl:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

// IncrBy atomically adds n to key.
func (r *Redis) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return r.rdb.IncrBy(ctx, r.key(key), n).Result()
}

// Get returns the current value, or 0 when the key is missing.
func (r *Redis) Get(ctx context.Context, key string) (int64, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// TTL returns the remaining lifetime, mapping Redis's missing/no-expiry
// sentinels to 0.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.rdb.TTL(ctx, r.key(key)).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Expire sets the key's lifetime.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, r.key(key), ttl).Err()
}

// Del removes the key.
func (r *Redis) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}
