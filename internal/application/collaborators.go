package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
)

// Default collaborator implementations. Each one stands behind a domain
// interface so deployments backed by the main application database can swap
// in their own checkers, mutators, and persisters without touching the hub.

// RoleAccessChecker decides access from the role carried in the verified
// identity: any authenticated participant may join a room, only editors and
// owners may apply edits.
type RoleAccessChecker struct {
	logger domain.Logger
}

// NewRoleAccessChecker creates the default role-based access checker.
func NewRoleAccessChecker(logger domain.Logger) *RoleAccessChecker {
	return &RoleAccessChecker{logger: logger}
}

// CanJoin permits any verified identity with a known role.
func (c *RoleAccessChecker) CanJoin(ctx context.Context, identity *domain.Identity, roomID string, resourceType string) (bool, error) {
	if identity == nil {
		return false, errors.New("nil identity")
	}
	switch identity.Role {
	case domain.RoleOwner, domain.RoleEditor, domain.RoleViewer:
		return true, nil
	default:
		c.logger.Debug(ctx, "Join denied for unknown role", "role", identity.Role, "room_id", roomID)
		return false, nil
	}
}

// CanEdit permits editors and owners.
func (c *RoleAccessChecker) CanEdit(ctx context.Context, identity *domain.Identity, resourceID string) (bool, error) {
	if identity == nil {
		return false, errors.New("nil identity")
	}
	return identity.Role == domain.RoleOwner || identity.Role == domain.RoleEditor, nil
}

// MergeDocumentMutator applies a change payload by shallow-merging its
// top-level fields into the previous snapshot's content. The previous
// snapshot is read from the shared cache store; an absent snapshot starts
// from the change payload itself.
type MergeDocumentMutator struct {
	cache        domain.CacheStore
	logger       domain.Logger
	resourceType string
}

// NewMergeDocumentMutator creates the default shallow-merge mutator for the
// given resource type.
func NewMergeDocumentMutator(cache domain.CacheStore, logger domain.Logger, resourceType string) *MergeDocumentMutator {
	if cache == nil {
		panic("cache store is nil in NewMergeDocumentMutator")
	}
	return &MergeDocumentMutator{cache: cache, logger: logger, resourceType: resourceType}
}

// Apply merges changes into the latest known content and returns the new
// snapshot. The hub persists the returned snapshot; this mutator only reads.
func (m *MergeDocumentMutator) Apply(ctx context.Context, resourceID string, changes json.RawMessage) (*domain.DocumentSnapshot, error) {
	content := map[string]json.RawMessage{}

	if raw, err := m.cache.Get(ctx, cachekeys.SnapshotKey(m.resourceType, resourceID)); err == nil {
		var prev domain.DocumentSnapshot
		if err := json.Unmarshal([]byte(raw), &prev); err != nil {
			m.logger.Warn(ctx, "Corrupt prior snapshot, starting fresh", "resource_id", resourceID, "error", err.Error())
		} else if len(prev.Content) > 0 {
			if err := json.Unmarshal(prev.Content, &content); err != nil {
				m.logger.Warn(ctx, "Prior snapshot content is not an object, starting fresh", "resource_id", resourceID, "error", err.Error())
				content = map[string]json.RawMessage{}
			}
		}
	}

	var delta map[string]json.RawMessage
	if err := json.Unmarshal(changes, &delta); err != nil {
		return nil, fmt.Errorf("change payload is not a JSON object: %w", err)
	}
	for k, v := range delta {
		content[k] = v
	}

	merged, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged content: %w", err)
	}

	return &domain.DocumentSnapshot{
		ResourceID: resourceID,
		Content:    merged,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

// CacheMessagePersister stores room chat history as a capped JSON list in the
// shared cache store.
type CacheMessagePersister struct {
	cache        domain.CacheStore
	logger       domain.Logger
	historyLimit int
	historyTTL   time.Duration
}

// NewCacheMessagePersister creates the default cache-backed chat persister.
func NewCacheMessagePersister(cache domain.CacheStore, logger domain.Logger, historyLimit int, historyTTL time.Duration) *CacheMessagePersister {
	if cache == nil {
		panic("cache store is nil in NewCacheMessagePersister")
	}
	if historyLimit <= 0 {
		historyLimit = 100
	}
	if historyTTL <= 0 {
		historyTTL = 24 * time.Hour
	}
	return &CacheMessagePersister{cache: cache, logger: logger, historyLimit: historyLimit, historyTTL: historyTTL}
}

// Store assigns the message a server id and timestamp, appends it to the
// room's history, and returns the canonical stored form.
func (p *CacheMessagePersister) Store(ctx context.Context, roomID string, authorID string, text string) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		AuthorID: authorID,
		Text:     text,
		StoredAt: time.Now().UTC(),
	}

	key := cachekeys.ChatHistoryKey(roomID)
	var history []domain.ChatMessage
	if raw, err := p.cache.Get(ctx, key); err == nil {
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			p.logger.Warn(ctx, "Corrupt chat history, starting fresh", "room_id", roomID, "error", err.Error())
			history = nil
		}
	}

	history = append(history, *msg)
	if len(history) > p.historyLimit {
		history = history[len(history)-p.historyLimit:]
	}

	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat history: %w", err)
	}
	if err := p.cache.Set(ctx, key, string(data), p.historyTTL); err != nil {
		return nil, fmt.Errorf("failed to store chat history for room '%s': %w", roomID, err)
	}
	return msg, nil
}

// CachePresenceUpdater records online flags in the shared cache store. The
// TTL bounds staleness if an offline update is lost.
type CachePresenceUpdater struct {
	cache domain.CacheStore
	ttl   time.Duration
}

// NewCachePresenceUpdater creates the default cache-backed presence updater.
func NewCachePresenceUpdater(cache domain.CacheStore, ttl time.Duration) *CachePresenceUpdater {
	if cache == nil {
		panic("cache store is nil in NewCachePresenceUpdater")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachePresenceUpdater{cache: cache, ttl: ttl}
}

// SetOnline stores or clears the user's online flag.
func (p *CachePresenceUpdater) SetOnline(ctx context.Context, userID string, online bool) error {
	key := cachekeys.PresenceKey(userID)
	if online {
		return p.cache.Set(ctx, key, "1", p.ttl)
	}
	return p.cache.Del(ctx, key)
}
