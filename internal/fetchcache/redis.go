package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sprintmetrics:snapshot:"

// Redis is a shared cache backend so multiple replicas reuse each
// other's fetch results.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a redis-backed cache with per-entry TTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// Get returns the cached payload for key.
func (r *Redis) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	payload, err := r.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return payload, true, nil
}

// Set stores payload under key with the configured TTL.
func (r *Redis) Set(ctx context.Context, key Key, payload []byte) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key.String(), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
