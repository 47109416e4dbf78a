package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
)

func TestSessionCreateAndGet(t *testing.T) {
	store := NewSessionStore(newFakeCache(), nopLogger{})
	ctx := context.Background()

	id, err := store.Create(ctx, map[string]string{"user_id": "u-1", "theme": "dark"}, time.Minute)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned an empty session id")
	}

	payload, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if payload["user_id"] != "u-1" || payload["theme"] != "dark" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	store := NewSessionStore(newFakeCache(), nopLogger{})
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := store.Create(ctx, map[string]string{"n": "v"}, time.Minute)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate session id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSessionGetUnknownID(t *testing.T) {
	store := NewSessionStore(newFakeCache(), nopLogger{})

	_, err := store.Get(context.Background(), "no-such-session")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Get unknown id: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionUpdateMergesAndResetsTTL(t *testing.T) {
	cache := newFakeCache()
	store := NewSessionStore(cache, nopLogger{})
	ctx := context.Background()

	id, err := store.Create(ctx, map[string]string{"a": "1", "b": "2"}, 90*time.Second)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Update(ctx, id, map[string]string{"b": "changed", "c": "3"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	payload, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if payload["a"] != "1" || payload["b"] != "changed" || payload["c"] != "3" {
		t.Errorf("merge produced %v", payload)
	}

	// Update rewrites the record with the TTL the session was created with.
	cache.mu.Lock()
	ttl := cache.ttls[cachekeys.SessionKey(id)]
	cache.mu.Unlock()
	if ttl != 90*time.Second {
		t.Errorf("TTL after update = %s, want the original 90s", ttl)
	}
}

func TestSessionUpdateUnknownID(t *testing.T) {
	store := NewSessionStore(newFakeCache(), nopLogger{})

	err := store.Update(context.Background(), "no-such-session", map[string]string{"a": "1"})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Update unknown id: err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionDestroy(t *testing.T) {
	store := NewSessionStore(newFakeCache(), nopLogger{})
	ctx := context.Background()

	id, err := store.Create(ctx, map[string]string{"a": "1"}, time.Minute)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Destroy(ctx, id); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Get after destroy: err = %v, want ErrSessionNotFound", err)
	}

	// Destroying again is not an error.
	if err := store.Destroy(ctx, id); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}

func TestSessionCreateRejectsNonPositiveTTL(t *testing.T) {
	store := NewSessionStore(newFakeCache(), nopLogger{})

	if _, err := store.Create(context.Background(), map[string]string{"a": "1"}, 0); err == nil {
		t.Error("Create with zero TTL should fail")
	}
}
