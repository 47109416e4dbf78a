package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Identity is the verified identity attached to a realtime connection after
// a successful credential check. Role drives the default access decisions.
type Identity struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"-"` // Raw credential, kept for cache key derivation only.
}

// Known roles for the default role-based access checker.
const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// DocumentSnapshot is the latest known materialized state of a collaboratively
// edited resource. It is a cache of the most recently applied change, not the
// system of record.
type DocumentSnapshot struct {
	ResourceID string          `json:"resource_id"`
	Content    json.RawMessage `json:"content"`
	UpdatedBy  string          `json:"updated_by,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ChatMessage is the canonical stored form of a room chat message, as returned
// by the message persister. ID and StoredAt are server-assigned.
type ChatMessage struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	AuthorID string    `json:"author_id"`
	Text     string    `json:"text"`
	StoredAt time.Time `json:"stored_at"`
}

// CredentialVerifier validates the credential presented during the realtime
// handshake. Used exactly once per connection.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// AccessChecker decides who may join which room and who may edit which
// resource. The hub treats an error from either method as a denial.
type AccessChecker interface {
	CanJoin(ctx context.Context, identity *Identity, roomID string, resourceType string) (bool, error)
	CanEdit(ctx context.Context, identity *Identity, resourceID string) (bool, error)
}

// DocumentMutator applies a change payload to a resource and returns the
// resulting snapshot. Document semantics live entirely behind this interface.
type DocumentMutator interface {
	Apply(ctx context.Context, resourceID string, changes json.RawMessage) (*DocumentSnapshot, error)
}

// MessagePersister stores a chat message and returns its canonical form with
// server-assigned id and timestamp.
type MessagePersister interface {
	Store(ctx context.Context, roomID string, authorID string, text string) (*ChatMessage, error)
}

// PresenceUpdater records a user's online/offline status.
type PresenceUpdater interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// EventRelay fans room broadcasts out to other service instances. The local
// hub publishes every room broadcast; deliveries originating from other
// instances are handed back via the subscription handler. Optional: a nil
// relay means single-instance operation.
type EventRelay interface {
	Publish(ctx context.Context, roomID string, event BaseMessage) error
	Subscribe(ctx context.Context, handler func(roomID string, event BaseMessage)) error
	Close() error
}
