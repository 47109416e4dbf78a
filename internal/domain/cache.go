package domain

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by CacheStore.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// CacheStore is the single key-value cache abstraction shared by every component.
// Implementations exist for a remote Redis backend and an in-process fallback;
// the backend is selected once at startup and callers never branch on which one
// is active. Entries always carry a caller-supplied TTL.
//
// Per-key operations are atomic. No cross-key transactional guarantee is made;
// concurrent writers on the same key see last-write-wins semantics.
type CacheStore interface {
	// Get returns the value stored under key, or ErrCacheMiss if absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with the given TTL, overwriting any existing
	// entry. TTL must be > 0.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes the entry if present. A missing key is not an error.
	Del(ctx context.Context, key string) error

	// Incr atomically increments the counter stored under key and returns the
	// new count together with the time remaining until the counter expires.
	// When the increment creates the counter, its expiry is set to window.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, expiresIn time.Duration, err error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
