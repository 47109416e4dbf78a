package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/domain"
)

// Shared hand-rolled fakes for the application package tests.

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, args ...any) {}
func (l nopLogger) With(args ...any) domain.Logger                   { return l }

type staticConfigProvider struct {
	cfg *config.Config
}

func (p *staticConfigProvider) Get() *config.Config { return p.cfg }

func testConfigProvider() *staticConfigProvider {
	return &staticConfigProvider{cfg: &config.Config{
		Auth: config.AuthConfig{
			TokenAESKey:             "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			TokenCacheTTLSeconds:    30,
			HandshakeTimeoutSeconds: 2,
		},
		App: config.AppConfig{
			ServiceName:           "collab-service-test",
			ExternalCallTimeoutMs: 200,
			SnapshotTTLSeconds:    60,
			SessionTTLSeconds:     120,
		},
	}}
}

// fakeCache is an in-test CacheStore with togglable failures. TTLs are
// recorded but, except for zero-value rejection, not enforced.
type fakeCache struct {
	mu       sync.Mutex
	data     map[string]string
	ttls     map[string]time.Duration
	counters map[string]int64
	windows  map[string]time.Duration

	failGet  error
	failSet  error
	failIncr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		data:     make(map[string]string),
		ttls:     make(map[string]time.Duration),
		counters: make(map[string]int64),
		windows:  make(map[string]time.Duration),
	}
}

func (f *fakeCache) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return "", f.failGet
	}
	v, ok := f.data[key]
	if !ok {
		return "", domain.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return f.failSet
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeCache) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	delete(f.ttls, key)
	return nil
}

func (f *fakeCache) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIncr != nil {
		return 0, 0, f.failIncr
	}
	f.counters[key]++
	f.windows[key] = window
	return f.counters[key], window, nil
}

func (f *fakeCache) Ping(ctx context.Context) error { return nil }

func (f *fakeCache) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

// fakeConn records every event the hub writes to it.
type fakeConn struct {
	id string

	mu       sync.Mutex
	messages []domain.BaseMessage
	closed   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) WriteJSON(v interface{}) error {
	msg, ok := v.(domain.BaseMessage)
	if !ok {
		return errors.New("unexpected message type in fakeConn.WriteJSON")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeConn) Close(statusCode websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string       { return "127.0.0.1:0" }
func (c *fakeConn) Context() context.Context { return context.Background() }

func (c *fakeConn) received(msgType string) []domain.BaseMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.BaseMessage
	for _, m := range c.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) countOf(msgType string) int { return len(c.received(msgType)) }
