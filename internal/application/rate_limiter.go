package application

import (
	"context"
	"time"

	"github.com/resumely/collab-service/internal/adapters/metrics"
	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
)

// RateLimitDecision is the outcome of one rate-limit check. The HTTP layer
// turns it into response headers; the limiter itself never formats HTTP.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RateLimiterConfig bounds request rate per identity within one window.
type RateLimiterConfig struct {
	Window    time.Duration
	Max       int
	KeyPrefix string
}

// RateLimiter bounds request rate per caller-defined identity using a
// window-scoped counter in the shared cache store. A backend failure during
// the check fails open: availability of the protected resource takes priority
// over strict enforcement during a cache outage.
type RateLimiter struct {
	cfg    RateLimiterConfig
	cache  domain.CacheStore
	logger domain.Logger
}

// NewRateLimiter creates a rate limiter over the shared cache store.
func NewRateLimiter(cfg RateLimiterConfig, cache domain.CacheStore, logger domain.Logger) *RateLimiter {
	if cache == nil {
		panic("cache store is nil in NewRateLimiter")
	}
	if logger == nil {
		panic("logger is nil in NewRateLimiter")
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Max <= 0 {
		cfg.Max = 60
	}
	return &RateLimiter{cfg: cfg, cache: cache, logger: logger}
}

// Check counts one request for identity and decides whether it is allowed.
// It never returns an error: a backend failure is logged and allowed through.
func (rl *RateLimiter) Check(ctx context.Context, identity string) RateLimitDecision {
	key := cachekeys.RateKey(rl.cfg.KeyPrefix, identity)

	count, expiresIn, err := rl.cache.Incr(ctx, key, rl.cfg.Window)
	if err != nil {
		metrics.ObserveRateLimitDecision("fail_open")
		rl.logger.Warn(ctx, "Rate limit check failed, allowing request", "key", key, "error", err.Error())
		return RateLimitDecision{
			Allowed:   true,
			Limit:     rl.cfg.Max,
			Remaining: rl.cfg.Max,
			ResetAt:   time.Now().Add(rl.cfg.Window),
		}
	}

	resetAt := time.Now().Add(expiresIn)
	remaining := rl.cfg.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if int(count) > rl.cfg.Max {
		metrics.ObserveRateLimitDecision("deny")
		rl.logger.Debug(ctx, "Rate limit exceeded", "key", key, "count", count, "max", rl.cfg.Max)
		return RateLimitDecision{
			Allowed:    false,
			Limit:      rl.cfg.Max,
			Remaining:  0,
			RetryAfter: expiresIn,
			ResetAt:    resetAt,
		}
	}

	metrics.ObserveRateLimitDecision("allow")
	return RateLimitDecision{
		Allowed:   true,
		Limit:     rl.cfg.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
