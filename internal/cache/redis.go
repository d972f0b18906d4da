package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "llmrouter:cache:"

// Redis is a cache backed by a Redis server, for deployments where multiple
// gateway replicas should share hits. Errors degrade to cache misses.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a Redis cache using client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get retrieves a value, treating any Redis error as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

// Set stores a value with the given TTL. Write failures are ignored.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	r.client.Set(ctx, redisKeyPrefix+key, val, ttl) //nolint:errcheck
}

// Delete removes a cached value.
func (r *Redis) Delete(ctx context.Context, key string) {
	r.client.Del(ctx, redisKeyPrefix+key) //nolint:errcheck
}

// Purge removes all cached values under the gateway prefix.
func (r *Redis) Purge(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val()) //nolint:errcheck
	}
}
