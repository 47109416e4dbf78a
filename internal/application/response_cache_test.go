package application

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestResponseCacheStoreAndLookup(t *testing.T) {
	rc := NewResponseCache(newFakeCache(), nopLogger{}, time.Minute)
	ctx := context.Background()

	if _, ok := rc.Lookup(ctx, "/rooms/r1"); ok {
		t.Fatal("Lookup before Store should miss")
	}

	rc.Store(ctx, "/rooms/r1", CachedResponse{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        []byte(`{"room_id":"r1"}`),
	}, nil)

	resp, ok := rc.Lookup(ctx, "/rooms/r1")
	if !ok {
		t.Fatal("Lookup after Store should hit")
	}
	if resp.Status != http.StatusOK || string(resp.Body) != `{"room_id":"r1"}` {
		t.Errorf("unexpected cached response: %+v", resp)
	}

	// Query strings are part of the key.
	if _, ok := rc.Lookup(ctx, "/rooms/r1?full=true"); ok {
		t.Error("different query string should be a different entry")
	}
}

func TestResponseCacheInvalidateTag(t *testing.T) {
	rc := NewResponseCache(newFakeCache(), nopLogger{}, time.Minute)
	ctx := context.Background()

	rc.Store(ctx, "/snapshots/a", CachedResponse{Status: 200, Body: []byte("a")}, []string{"snapshots"})
	rc.Store(ctx, "/snapshots/b", CachedResponse{Status: 200, Body: []byte("b")}, []string{"snapshots"})
	rc.Store(ctx, "/rooms/r1", CachedResponse{Status: 200, Body: []byte("r")}, []string{"rooms"})

	removed, err := rc.InvalidateTag(ctx, "snapshots")
	if err != nil {
		t.Fatalf("InvalidateTag failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("InvalidateTag removed %d entries, want 2", removed)
	}

	if _, ok := rc.Lookup(ctx, "/snapshots/a"); ok {
		t.Error("tagged entry /snapshots/a survived invalidation")
	}
	if _, ok := rc.Lookup(ctx, "/snapshots/b"); ok {
		t.Error("tagged entry /snapshots/b survived invalidation")
	}
	if _, ok := rc.Lookup(ctx, "/rooms/r1"); !ok {
		t.Error("entry under a different tag should survive")
	}
}

func TestResponseCacheInvalidateUnknownTag(t *testing.T) {
	rc := NewResponseCache(newFakeCache(), nopLogger{}, time.Minute)

	removed, err := rc.InvalidateTag(context.Background(), "nothing-here")
	if err != nil {
		t.Fatalf("InvalidateTag failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("InvalidateTag removed %d entries, want 0", removed)
	}
}
