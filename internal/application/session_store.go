package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
)

// SessionStore stores short-lived opaque session records entirely atop the
// shared cache store; it contributes no storage of its own.
//
// TTL policy: Update resets the record's full TTL (reset-on-touch). The
// original TTL is kept inside the stored record so the reset uses the TTL the
// session was created with.
type SessionStore struct {
	cache  domain.CacheStore
	logger domain.Logger
}

// NewSessionStore creates a session store over the shared cache store.
func NewSessionStore(cache domain.CacheStore, logger domain.Logger) *SessionStore {
	if cache == nil {
		panic("cache store is nil in NewSessionStore")
	}
	if logger == nil {
		panic("logger is nil in NewSessionStore")
	}
	return &SessionStore{cache: cache, logger: logger}
}

// generateSessionID returns a cryptographically random, collision-resistant
// identifier. 32 bytes = 256 bits of entropy.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Create stores payload under a freshly generated session id with the given
// TTL and returns the id.
func (s *SessionStore) Create(ctx context.Context, payload map[string]string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	id, err := generateSessionID()
	if err != nil {
		return "", err
	}

	record := domain.SessionRecord{
		Payload:    payload,
		TTLSeconds: int(ttl.Seconds()),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.put(ctx, id, record, ttl); err != nil {
		return "", err
	}
	s.logger.Debug(ctx, "Session created", "session_ttl", ttl.String())
	return id, nil
}

// Get returns the payload stored for the session id, or
// domain.ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (map[string]string, error) {
	record, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return record.Payload, nil
}

// Update merges partial into the existing payload and resets the session's
// original TTL (reset-on-touch).
func (s *SessionStore) Update(ctx context.Context, sessionID string, partial map[string]string) error {
	record, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if record.Payload == nil {
		record.Payload = make(map[string]string, len(partial))
	}
	for k, v := range partial {
		record.Payload[k] = v
	}
	ttl := time.Duration(record.TTLSeconds) * time.Second
	return s.put(ctx, sessionID, *record, ttl)
}

// Destroy removes the session record. Destroying an absent session is not an
// error.
func (s *SessionStore) Destroy(ctx context.Context, sessionID string) error {
	return s.cache.Del(ctx, cachekeys.SessionKey(sessionID))
}

func (s *SessionStore) load(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	raw, err := s.cache.Get(ctx, cachekeys.SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	var record domain.SessionRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		s.logger.Error(ctx, "Failed to unmarshal session record", "error", err.Error())
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

func (s *SessionStore) put(ctx context.Context, sessionID string, record domain.SessionRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	return s.cache.Set(ctx, cachekeys.SessionKey(sessionID), string(data), ttl)
}
