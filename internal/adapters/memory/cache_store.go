package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/safego"
)

type entry struct {
	value     string
	expiresAt time.Time
}

type counter struct {
	count       int64
	windowStart time.Time
	window      time.Duration
}

// CacheStore is the in-process fallback implementation of domain.CacheStore.
// It is selected at startup when the remote backend is disabled or
// unreachable. State lives only in this process, so a multi-instance
// deployment must run on the remote backend for rate limiting and sessions to
// be correct across instances.
//
// Expired entries are dropped lazily on read and swept by a janitor goroutine
// so the maps stay bounded.
type CacheStore struct {
	mu       sync.RWMutex
	entries  map[string]entry
	counters map[string]counter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCacheStore creates an in-process cache store and starts its janitor.
// pruneInterval bounds how long expired entries can linger; <=0 disables the
// janitor (lazy expiry still applies), which tests use.
func NewCacheStore(appCtx context.Context, logger domain.Logger, pruneInterval time.Duration) *CacheStore {
	s := &CacheStore{
		entries:  make(map[string]entry),
		counters: make(map[string]counter),
		stopCh:   make(chan struct{}),
	}
	if pruneInterval > 0 {
		safego.Execute(appCtx, logger, "MemoryCacheJanitor", func() {
			ticker := time.NewTicker(pruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.prune(time.Now())
				case <-s.stopCh:
					return
				case <-appCtx.Done():
					return
				}
			}
		})
	}
	return s
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (s *CacheStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *CacheStore) prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	for k, c := range s.counters {
		if now.Sub(c.windowStart) >= c.window {
			delete(s.counters, k)
		}
	}
}

// Get returns the value stored under key, or domain.ErrCacheMiss when the key
// is absent or its TTL has elapsed.
func (s *CacheStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", domain.ErrCacheMiss
	}
	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed the key.
		if cur, ok := s.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return "", domain.ErrCacheMiss
	}
	return e.value, nil
}

// Set stores value under key with the given TTL, overwriting any existing entry.
func (s *CacheStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive for key '%s', got %s", key, ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Del removes the entry if present. A missing key is not an error.
func (s *CacheStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Incr increments the window counter under key with explicit window-start
// bookkeeping. A counter whose window has elapsed is reset rather than
// incremented.
func (s *CacheStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || now.Sub(c.windowStart) >= c.window {
		c = counter{count: 1, windowStart: now, window: window}
		s.counters[key] = c
		return 1, window, nil
	}
	c.count++
	s.counters[key] = c
	return c.count, c.window - now.Sub(c.windowStart), nil
}

// Ping always succeeds; the in-process store has no remote dependency.
func (s *CacheStore) Ping(ctx context.Context) error {
	return nil
}

// Len reports the number of live value entries. Used by tests and the
// readiness probe.
func (s *CacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
