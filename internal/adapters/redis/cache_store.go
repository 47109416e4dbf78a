package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/resumely/collab-service/internal/domain"
)

// incrWithWindowScript atomically increments a counter and stamps its expiry
// when the increment created it. Returns the new count and the remaining
// window in milliseconds.
const incrWithWindowScript = `
	local count = redis.call("incr", KEYS[1])
	if count == 1 then
		redis.call("pexpire", KEYS[1], ARGV[1])
	end
	local ttl = redis.call("pttl", KEYS[1])
	return {count, ttl}
`

// CacheStoreAdapter implements domain.CacheStore against a Redis server.
type CacheStoreAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

// NewCacheStoreAdapter creates a new instance of CacheStoreAdapter.
func NewCacheStoreAdapter(redisClient *redis.Client, logger domain.Logger) *CacheStoreAdapter {
	if redisClient == nil {
		// Panicking here because this is a critical setup error.
		panic("redisClient cannot be nil in NewCacheStoreAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewCacheStoreAdapter")
	}
	return &CacheStoreAdapter{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Get retrieves a value from Redis. A missing key maps to domain.ErrCacheMiss.
func (a *CacheStoreAdapter) Get(ctx context.Context, key string) (string, error) {
	val, err := a.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		a.logger.Debug(ctx, "Redis cache miss", "key", key)
		return "", domain.ErrCacheMiss
	}
	if err != nil {
		a.logger.Error(ctx, "Redis GET failed", "key", key, "error", err.Error())
		return "", fmt.Errorf("redis GET for key '%s' failed: %w", key, err)
	}
	return val, nil
}

// Set stores a value with the given TTL, overwriting any existing entry.
func (a *CacheStoreAdapter) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive for key '%s', got %s", key, ttl)
	}
	if err := a.redisClient.Set(ctx, key, value, ttl).Err(); err != nil {
		a.logger.Error(ctx, "Redis SET failed", "key", key, "error", err.Error())
		return fmt.Errorf("redis SET for key '%s' failed: %w", key, err)
	}
	return nil
}

// Del removes the entry if present.
func (a *CacheStoreAdapter) Del(ctx context.Context, key string) error {
	if err := a.redisClient.Del(ctx, key).Err(); err != nil {
		a.logger.Error(ctx, "Redis DEL failed", "key", key, "error", err.Error())
		return fmt.Errorf("redis DEL for key '%s' failed: %w", key, err)
	}
	return nil
}

// Incr atomically increments the window counter under key. The expiry is set
// only when the counter is created, so all increments inside one window share
// the window start. Implemented as a Lua script for atomicity.
func (a *CacheStoreAdapter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := a.redisClient.Eval(ctx, incrWithWindowScript, []string{key}, window.Milliseconds()).Slice()
	if err != nil {
		a.logger.Error(ctx, "Redis EVAL (Incr script) failed", "key", key, "error", err.Error())
		return 0, 0, fmt.Errorf("redis EVAL for Incr on key '%s' failed: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis Incr script for key '%s' returned %d values, expected 2", key, len(res))
	}
	count, ok := res[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("redis Incr script for key '%s' returned non-integer count", key)
	}
	ttlMs, ok := res[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("redis Incr script for key '%s' returned non-integer ttl", key)
	}
	expiresIn := time.Duration(ttlMs) * time.Millisecond
	if expiresIn < 0 {
		// PTTL returns -1 for keys without expiry; treat as a full window.
		expiresIn = window
	}
	return count, expiresIn, nil
}

// Ping reports whether the Redis backend is reachable.
func (a *CacheStoreAdapter) Ping(ctx context.Context) error {
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING failed: %w", err)
	}
	return nil
}
