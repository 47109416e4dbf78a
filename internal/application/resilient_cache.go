package application

import (
	"context"
	"errors"
	"time"

	"github.com/resumely/collab-service/internal/adapters/metrics"
	"github.com/resumely/collab-service/internal/domain"
)

// ResilientCacheStore decorates a domain.CacheStore with the degradation
// policy every caller above the cache relies on: a backend failure is logged
// and absorbed, never propagated. Reads degrade to a miss, writes and deletes
// to a no-op. Incr keeps its error because the rate limiter needs to
// distinguish a backend outage (fail open) from a counted request.
type ResilientCacheStore struct {
	backend domain.CacheStore
	logger  domain.Logger
}

// NewResilientCacheStore wraps the selected backend.
func NewResilientCacheStore(backend domain.CacheStore, logger domain.Logger) *ResilientCacheStore {
	if backend == nil {
		panic("backend is nil in NewResilientCacheStore")
	}
	if logger == nil {
		panic("logger is nil in NewResilientCacheStore")
	}
	return &ResilientCacheStore{backend: backend, logger: logger}
}

// Get returns the cached value, or domain.ErrCacheMiss both for a true miss
// and for a backend failure.
func (s *ResilientCacheStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.backend.Get(ctx, key)
	if err == nil {
		metrics.ObserveCacheOperation("get", "hit")
		return val, nil
	}
	if errors.Is(err, domain.ErrCacheMiss) {
		metrics.ObserveCacheOperation("get", "miss")
		return "", domain.ErrCacheMiss
	}
	metrics.ObserveCacheOperation("get", "error")
	s.logger.Warn(ctx, "Cache backend read failed, degrading to miss", "key", key, "error", err.Error())
	return "", domain.ErrCacheMiss
}

// Set stores the value; a backend failure is logged and swallowed.
func (s *ResilientCacheStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.backend.Set(ctx, key, value, ttl); err != nil {
		metrics.ObserveCacheOperation("set", "error")
		s.logger.Warn(ctx, "Cache backend write failed, dropping entry", "key", key, "error", err.Error())
		return nil
	}
	metrics.ObserveCacheOperation("set", "write")
	return nil
}

// Del removes the entry; a backend failure is logged and swallowed.
func (s *ResilientCacheStore) Del(ctx context.Context, key string) error {
	if err := s.backend.Del(ctx, key); err != nil {
		metrics.ObserveCacheOperation("del", "error")
		s.logger.Warn(ctx, "Cache backend delete failed", "key", key, "error", err.Error())
		return nil
	}
	metrics.ObserveCacheOperation("del", "write")
	return nil
}

// Incr passes the backend error through so the rate limiter can fail open.
func (s *ResilientCacheStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, expiresIn, err := s.backend.Incr(ctx, key, window)
	if err != nil {
		metrics.ObserveCacheOperation("incr", "error")
		s.logger.Warn(ctx, "Cache backend increment failed", "key", key, "error", err.Error())
		return 0, 0, err
	}
	return count, expiresIn, nil
}

// Ping reports backend reachability for the readiness probe.
func (s *ResilientCacheStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}
