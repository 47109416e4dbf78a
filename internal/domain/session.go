package domain

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session id has no stored record.
var ErrSessionNotFound = errors.New("session not found")

// SessionRecord is the JSON envelope stored in the cache for one session.
// TTLSeconds is kept inside the record so Update can re-apply the original
// TTL policy (reset-on-touch).
type SessionRecord struct {
	Payload    map[string]string `json:"payload"`
	TTLSeconds int               `json:"ttl_seconds"`
	CreatedAt  time.Time         `json:"created_at"`
}
