package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/resumely/collab-service/internal/adapters/metrics"
	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
)

// CachedResponse is the stored form of a memoized HTTP response.
type CachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// ResponseCache memoizes successful GET response bodies in the shared cache
// store, keyed by the full request path and query string. Responses may be
// stored under caller-supplied tags; invalidating a tag removes every entry
// associated with it without the caller enumerating keys.
type ResponseCache struct {
	cache  domain.CacheStore
	logger domain.Logger
	ttl    time.Duration
}

// NewResponseCache creates a response cache with the configured freshness
// duration.
func NewResponseCache(cache domain.CacheStore, logger domain.Logger, ttl time.Duration) *ResponseCache {
	if cache == nil {
		panic("cache store is nil in NewResponseCache")
	}
	if logger == nil {
		panic("logger is nil in NewResponseCache")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResponseCache{cache: cache, logger: logger, ttl: ttl}
}

// TTL returns the configured freshness duration.
func (rc *ResponseCache) TTL() time.Duration {
	return rc.ttl
}

// Lookup returns the stored response for the request path, if fresh.
func (rc *ResponseCache) Lookup(ctx context.Context, pathWithQuery string) (*CachedResponse, bool) {
	raw, err := rc.cache.Get(ctx, cachekeys.ResponseKey(pathWithQuery))
	if err != nil {
		// Backend errors already degrade to a miss below the response cache.
		return nil, false
	}
	var resp CachedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		rc.logger.Warn(ctx, "Failed to unmarshal cached response, treating as miss", "path", pathWithQuery, "error", err.Error())
		return nil, false
	}
	return &resp, true
}

// Store memoizes a response under the request path and associates it with the
// given tags. Failures are logged and absorbed: caching is an optimization,
// not a correctness requirement.
func (rc *ResponseCache) Store(ctx context.Context, pathWithQuery string, resp CachedResponse, tags []string) {
	key := cachekeys.ResponseKey(pathWithQuery)

	data, err := json.Marshal(resp)
	if err != nil {
		rc.logger.Error(ctx, "Failed to marshal response for caching", "path", pathWithQuery, "error", err.Error())
		return
	}
	if err := rc.cache.Set(ctx, key, string(data), rc.ttl); err != nil {
		rc.logger.Warn(ctx, "Failed to store cached response", "path", pathWithQuery, "error", err.Error())
		return
	}

	for _, tag := range tags {
		rc.addToTag(ctx, tag, key)
	}
}

// addToTag appends key to the tag's member list. The list is read-modify-write
// with last-write-wins semantics, which is acceptable for coarse-grained bulk
// invalidation.
func (rc *ResponseCache) addToTag(ctx context.Context, tag string, key string) {
	tagKey := cachekeys.ResponseTagKey(tag)

	var members []string
	raw, err := rc.cache.Get(ctx, tagKey)
	if err == nil {
		if err := json.Unmarshal([]byte(raw), &members); err != nil {
			rc.logger.Warn(ctx, "Corrupt tag index, rebuilding", "tag", tag, "error", err.Error())
			members = nil
		}
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		return
	}

	for _, m := range members {
		if m == key {
			return
		}
	}
	members = append(members, key)

	data, err := json.Marshal(members)
	if err != nil {
		rc.logger.Error(ctx, "Failed to marshal tag index", "tag", tag, "error", err.Error())
		return
	}
	if err := rc.cache.Set(ctx, tagKey, string(data), rc.ttl); err != nil {
		rc.logger.Warn(ctx, "Failed to store tag index", "tag", tag, "error", err.Error())
	}
}

// InvalidateTag removes every cached response associated with tag and the tag
// index itself. It returns the number of entries removed.
func (rc *ResponseCache) InvalidateTag(ctx context.Context, tag string) (int, error) {
	tagKey := cachekeys.ResponseTagKey(tag)

	raw, err := rc.cache.Get(ctx, tagKey)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read tag index for '%s': %w", tag, err)
	}

	var members []string
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		// A corrupt index cannot be enumerated; drop it so future stores rebuild it.
		rc.logger.Warn(ctx, "Corrupt tag index during invalidation, dropping", "tag", tag, "error", err.Error())
		_ = rc.cache.Del(ctx, tagKey)
		return 0, nil
	}

	removed := 0
	for _, key := range members {
		if err := rc.cache.Del(ctx, key); err == nil {
			removed++
		}
	}
	_ = rc.cache.Del(ctx, tagKey)

	metrics.ObserveResponseCache("invalidate")
	rc.logger.Info(ctx, "Response cache tag invalidated", "tag", tag, "entries_removed", removed)
	return removed, nil
}
