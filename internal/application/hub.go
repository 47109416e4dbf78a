package application

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/adapters/metrics"
	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
)

// ConnectionSession is the in-memory record for one authenticated realtime
// connection. Its lifecycle is bounded exactly by the connection: created on
// successful authentication, discarded on disconnect. Never persisted.
type ConnectionSession struct {
	ConnID      string
	Identity    *domain.Identity
	ConnectedAt time.Time
}

type participant struct {
	conn     domain.ManagedConnection
	identity *domain.Identity
}

type room struct {
	resourceType string
	participants map[string]*participant // connID -> participant
}

type connState struct {
	session *ConnectionSession
	conn    domain.ManagedConnection
	joined  map[string]struct{} // roomIDs this connection is a member of
}

// Hub manages collaborative editing rooms: participant membership, presence,
// and relaying edit/cursor/selection/chat events to room members while
// persisting the latest document snapshot to the shared cache store.
//
// All room and connection state is owned by the Hub instance; multiple
// independent hubs (e.g., one per test) can coexist. A single mutex guards
// the registries; delegated external calls run outside it, and broadcasts are
// enqueued under it so every member observes edits and chat in the order the
// hub applied them. Per-connection in-order delivery is the connection
// writer's responsibility.
//
// Delegated checks that fail or time out are treated as denials: correctness
// of collaborative state takes priority over availability here, unlike the
// cache layer which fails open.
type Hub struct {
	logger         domain.Logger
	configProvider config.Provider
	cache          domain.CacheStore
	access         domain.AccessChecker
	mutator        domain.DocumentMutator
	messages       domain.MessagePersister
	presence       domain.PresenceUpdater
	relay          domain.EventRelay // nil in single-instance deployments

	mu    sync.Mutex
	rooms map[string]*room
	conns map[string]*connState

	// editLocks serializes Apply-through-persist per resource so two
	// concurrent edits never merge over the same base snapshot.
	editLocks map[string]*sync.Mutex
}

// NewHub creates a new collaboration hub. relay may be nil.
func NewHub(
	logger domain.Logger,
	configProvider config.Provider,
	cache domain.CacheStore,
	access domain.AccessChecker,
	mutator domain.DocumentMutator,
	messages domain.MessagePersister,
	presence domain.PresenceUpdater,
	relay domain.EventRelay,
) *Hub {
	if logger == nil {
		panic("logger is nil in NewHub")
	}
	if configProvider == nil {
		panic("config provider is nil in NewHub")
	}
	if cache == nil {
		panic("cache store is nil in NewHub")
	}
	if access == nil {
		panic("access checker is nil in NewHub")
	}
	if mutator == nil {
		panic("document mutator is nil in NewHub")
	}
	if messages == nil {
		panic("message persister is nil in NewHub")
	}
	if presence == nil {
		panic("presence updater is nil in NewHub")
	}
	return &Hub{
		logger:         logger,
		configProvider: configProvider,
		cache:          cache,
		access:         access,
		mutator:        mutator,
		messages:       messages,
		presence:       presence,
		relay:          relay,
		rooms:          make(map[string]*room),
		conns:          make(map[string]*connState),
		editLocks:      make(map[string]*sync.Mutex),
	}
}

// resourceLock returns the mutex serializing edits for one resource,
// creating it on first use.
func (h *Hub) resourceLock(resourceID string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.editLocks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		h.editLocks[resourceID] = l
	}
	return l
}

// externalCallTimeout bounds every delegated external call (permission
// checks, mutation, persistence). On timeout the call counts as failed.
func (h *Hub) externalCallTimeout() time.Duration {
	ms := h.configProvider.Get().App.ExternalCallTimeoutMs
	if ms <= 0 {
		return 3 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// StartRelay subscribes to the cross-instance event relay, if configured.
func (h *Hub) StartRelay(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Subscribe(ctx, h.deliverRemote)
}

// RelayStatus reports whether a cross-instance relay is configured and, when
// it is, whether the relay currently considers itself healthy. Relays that do
// not expose a health check are assumed healthy while present.
func (h *Hub) RelayStatus() (configured bool, healthy bool) {
	if h.relay == nil {
		return false, false
	}
	type healthChecker interface{ Healthy() bool }
	if hc, ok := h.relay.(healthChecker); ok {
		return true, hc.Healthy()
	}
	return true, true
}

// Register records a freshly authenticated connection and marks the user
// online. Presence is best effort: a failed update is logged, not fatal.
func (h *Hub) Register(ctx context.Context, conn domain.ManagedConnection, identity *domain.Identity) *ConnectionSession {
	session := &ConnectionSession{
		ConnID:      conn.ID(),
		Identity:    identity,
		ConnectedAt: time.Now(),
	}

	h.mu.Lock()
	h.conns[conn.ID()] = &connState{session: session, conn: conn, joined: make(map[string]struct{})}
	h.mu.Unlock()
	metrics.IncrementActiveConnections()

	presenceCtx, cancel := context.WithTimeout(ctx, h.externalCallTimeout())
	defer cancel()
	if err := h.presence.SetOnline(presenceCtx, identity.UserID, true); err != nil {
		h.logger.Warn(ctx, "Failed to mark user online", "user_id", identity.UserID, "error", err.Error())
	}

	h.logger.Info(ctx, "Connection registered", "user_id", identity.UserID, "role", identity.Role)
	return session
}

// Disconnect removes the connection from every room it joined, notifies the
// remaining members, marks the user offline, and discards the session.
func (h *Hub) Disconnect(ctx context.Context, connID string) {
	h.mu.Lock()
	state, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)
	for roomID := range state.joined {
		h.removeFromRoomLocked(ctx, roomID, connID, state.session.Identity.UserID)
	}
	h.mu.Unlock()
	metrics.DecrementActiveConnections()

	presenceCtx, cancel := context.WithTimeout(context.Background(), h.externalCallTimeout())
	defer cancel()
	if err := h.presence.SetOnline(presenceCtx, state.session.Identity.UserID, false); err != nil {
		h.logger.Warn(ctx, "Failed to mark user offline", "user_id", state.session.Identity.UserID, "error", err.Error())
	}

	h.logger.Info(ctx, "Connection disconnected", "user_id", state.session.Identity.UserID)
}

// JoinRoom admits the connection into a room after a fail-closed access
// check. On approval the joiner receives the current room state (latest
// snapshot if one exists) and every other member is notified.
func (h *Hub) JoinRoom(ctx context.Context, connID string, p domain.JoinRoomPayload) {
	state := h.connStateFor(connID)
	if state == nil {
		return
	}
	identity := state.session.Identity

	if p.RoomID == "" {
		h.sendTo(state.conn, domain.NewRoomErrorMessage(domain.NewErrorResponse(domain.ErrBadRequest, "room_id is required", "")))
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.externalCallTimeout())
	allowed, err := h.access.CanJoin(checkCtx, identity, p.RoomID, p.ResourceType)
	cancel()
	if err != nil {
		// Fail closed: an erroring or timed-out check is a denial.
		h.logger.Warn(ctx, "Join access check failed, denying", "room_id", p.RoomID, "error", err.Error())
		allowed = false
	}
	if !allowed {
		h.sendTo(state.conn, domain.NewRoomErrorMessage(domain.NewErrorResponse(domain.ErrRoomAccessDenied, "You do not have access to this room", "")))
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[p.RoomID]
	if !ok {
		r = &room{resourceType: p.ResourceType, participants: make(map[string]*participant)}
		h.rooms[p.RoomID] = r
		metrics.IncrementActiveRooms()
	}
	_, already := r.participants[connID]
	if !already {
		r.participants[connID] = &participant{conn: state.conn, identity: identity}
		state.joined[p.RoomID] = struct{}{}
	}

	others := make([]domain.UserJoinedPayload, 0, len(r.participants)-1)
	for id, member := range r.participants {
		if id == connID {
			continue
		}
		others = append(others, domain.UserJoinedPayload{UserID: member.identity.UserID, Username: member.identity.Username})
	}
	if !already {
		h.broadcastLocked(r, connID, domain.NewUserJoinedMessage(identity.UserID, identity.Username))
	}
	h.mu.Unlock()

	// A repeated join resends the current state without re-announcing the
	// participant; a client retrying after a lost room_state converges.
	snapshot := h.loadSnapshot(ctx, p.RoomID, p.ResourceType)
	h.sendTo(state.conn, domain.NewRoomStateMessage(p.RoomID, snapshot, others))

	if !already {
		h.logger.Info(ctx, "Participant joined room", "room_id", p.RoomID, "user_id", identity.UserID)
	}
}

// LeaveRoom removes the connection from the room and notifies the remaining
// members. The last participant leaving deletes the room entry.
func (h *Hub) LeaveRoom(ctx context.Context, connID string, p domain.LeaveRoomPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.conns[connID]
	if !ok {
		return
	}
	if _, joined := state.joined[p.RoomID]; !joined {
		return
	}
	delete(state.joined, p.RoomID)
	h.removeFromRoomLocked(ctx, p.RoomID, connID, state.session.Identity.UserID)
}

// removeFromRoomLocked removes one participant, emits user_left to the rest,
// and garbage-collects the room when it empties. Caller holds h.mu.
func (h *Hub) removeFromRoomLocked(ctx context.Context, roomID, connID, userID string) {
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, member := r.participants[connID]; !member {
		return
	}
	delete(r.participants, connID)
	if len(r.participants) == 0 {
		delete(h.rooms, roomID)
		delete(h.editLocks, resourceIDFromRoom(roomID))
		metrics.DecrementActiveRooms()
		h.logger.Debug(ctx, "Room removed after last participant left", "room_id", roomID)
		return
	}
	h.broadcastLocked(r, "", domain.NewUserLeftMessage(userID))
}

// ApplyEdit runs the fail-closed edit permission check, applies the change
// through the document mutator, persists the resulting snapshot, and
// broadcasts the change to every room member except the author. The author
// already applied the change locally, so echoing it back would only force the
// client to reconcile a no-op; tests pin this exclusion.
func (h *Hub) ApplyEdit(ctx context.Context, connID string, p domain.ApplyEditPayload) {
	state := h.connStateFor(connID)
	if state == nil {
		return
	}
	identity := state.session.Identity

	if p.RoomID == "" || p.ResourceID == "" || len(p.Changes) == 0 {
		h.sendTo(state.conn, domain.NewEditErrorMessage(domain.NewErrorResponse(domain.ErrBadRequest, "room_id, resource_id and changes are required", "")))
		return
	}
	if !h.isMember(connID, p.RoomID) {
		h.sendTo(state.conn, domain.NewEditErrorMessage(domain.NewErrorResponse(domain.ErrEditDenied, "Join the room before editing", "")))
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.externalCallTimeout())
	allowed, err := h.access.CanEdit(checkCtx, identity, p.ResourceID)
	cancel()
	if err != nil {
		h.logger.Warn(ctx, "Edit permission check failed, denying", "resource_id", p.ResourceID, "error", err.Error())
		allowed = false
	}
	if !allowed {
		h.sendTo(state.conn, domain.NewEditErrorMessage(domain.NewErrorResponse(domain.ErrEditDenied, "You do not have permission to edit this resume", "")))
		return
	}

	// The mutator reads the prior snapshot before merging, so the whole
	// read-merge-persist sequence holds the resource lock; without it two
	// concurrent edits could merge over the same base and the later persist
	// would drop the earlier edit's fields.
	resLock := h.resourceLock(p.ResourceID)
	resLock.Lock()
	defer resLock.Unlock()

	mutateCtx, cancel := context.WithTimeout(ctx, h.externalCallTimeout())
	snapshot, err := h.mutator.Apply(mutateCtx, p.ResourceID, p.Changes)
	cancel()
	if err != nil {
		h.logger.Warn(ctx, "Document mutation failed", "resource_id", p.ResourceID, "error", err.Error())
		h.sendTo(state.conn, domain.NewEditErrorMessage(domain.NewErrorResponse(domain.ErrEditDenied, "Edit could not be applied", "")))
		return
	}
	snapshot.UpdatedBy = identity.UserID

	// Snapshot persistence and broadcast happen under the registry lock so
	// every member observes edits in the order the hub applied them.
	h.mu.Lock()
	r, ok := h.rooms[p.RoomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.persistSnapshot(ctx, p.RoomID, r.resourceType, snapshot)
	event := domain.NewResumeUpdatedMessage(p.Changes, identity.UserID, time.Now().UTC())
	h.broadcastLocked(r, connID, event)
	h.publishLocked(ctx, p.RoomID, event)
	h.mu.Unlock()

	h.logger.Debug(ctx, "Edit applied and broadcast", "room_id", p.RoomID, "resource_id", p.ResourceID, "user_id", identity.UserID)
}

// CursorMove relays a cursor position to the rest of the room. No
// persistence; last write per sender wins.
func (h *Hub) CursorMove(ctx context.Context, connID string, p domain.CursorMovePayload) {
	h.relayEphemeral(ctx, connID, p.RoomID, func(identity *domain.Identity) domain.BaseMessage {
		return domain.NewCursorMovedMessage(identity.UserID, identity.Username, p.Position)
	})
}

// SelectionChange relays a selection range to the rest of the room.
func (h *Hub) SelectionChange(ctx context.Context, connID string, p domain.SelectionChangePayload) {
	h.relayEphemeral(ctx, connID, p.RoomID, func(identity *domain.Identity) domain.BaseMessage {
		return domain.NewSelectionChangedMessage(identity.UserID, identity.Username, p.Selection)
	})
}

func (h *Hub) relayEphemeral(ctx context.Context, connID string, roomID string, build func(*domain.Identity) domain.BaseMessage) {
	state := h.connStateFor(connID)
	if state == nil {
		return
	}
	if roomID == "" || !h.isMember(connID, roomID) {
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	event := build(state.session.Identity)
	h.broadcastLocked(r, connID, event)
	h.publishLocked(ctx, roomID, event)
	h.mu.Unlock()
}

// SendMessage persists a chat message through the message persister and then
// broadcasts the canonical stored form to the full room, including the
// sender, so the sender's UI reconciles against the server-assigned id and
// timestamp.
func (h *Hub) SendMessage(ctx context.Context, connID string, p domain.SendMessagePayload) {
	state := h.connStateFor(connID)
	if state == nil {
		return
	}
	identity := state.session.Identity

	if p.RoomID == "" || strings.TrimSpace(p.Text) == "" {
		h.sendTo(state.conn, domain.NewMessageErrorMessage(domain.NewErrorResponse(domain.ErrBadRequest, "room_id and text are required", "")))
		return
	}
	if !h.isMember(connID, p.RoomID) {
		h.sendTo(state.conn, domain.NewMessageErrorMessage(domain.NewErrorResponse(domain.ErrMessageRejected, "Join the room before sending messages", "")))
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, h.externalCallTimeout())
	msg, err := h.messages.Store(storeCtx, p.RoomID, identity.UserID, p.Text)
	cancel()
	if err != nil {
		h.logger.Warn(ctx, "Chat message persistence failed", "room_id", p.RoomID, "error", err.Error())
		h.sendTo(state.conn, domain.NewMessageErrorMessage(domain.NewErrorResponse(domain.ErrMessageRejected, "Message could not be stored", "")))
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[p.RoomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	event := domain.NewChatMessage(msg)
	h.broadcastLocked(r, "", event) // full room, sender included
	h.publishLocked(ctx, p.RoomID, event)
	h.mu.Unlock()
}

// RoomExists reports whether a room currently has any participants.
func (h *Hub) RoomExists(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.rooms[roomID]
	return ok
}

// RoomParticipants returns the current participant list of a room.
func (h *Hub) RoomParticipants(roomID string) ([]domain.UserJoinedPayload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, false
	}
	out := make([]domain.UserJoinedPayload, 0, len(r.participants))
	for _, member := range r.participants {
		out = append(out, domain.UserJoinedPayload{UserID: member.identity.UserID, Username: member.identity.Username})
	}
	return out, true
}

// ConnectionCount reports the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every registered connection, used during shutdown.
func (h *Hub) CloseAll(statusCode websocket.StatusCode, reason string) {
	h.mu.Lock()
	conns := make([]domain.ManagedConnection, 0, len(h.conns))
	for _, state := range h.conns {
		conns = append(conns, state.conn)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(statusCode, reason)
	}
}

// deliverRemote hands a relayed event from another instance to every local
// member of the room. The relay adapter filters out this instance's own
// publishes before calling here.
func (h *Hub) deliverRemote(roomID string, event domain.BaseMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	h.broadcastLocked(r, "", event)
}

// broadcastLocked enqueues event on every participant's connection except
// excludeConnID (empty means no exclusion). Caller holds h.mu. A failed
// enqueue affects only that connection.
func (h *Hub) broadcastLocked(r *room, excludeConnID string, event domain.BaseMessage) {
	for id, member := range r.participants {
		if id == excludeConnID {
			continue
		}
		if err := member.conn.WriteJSON(event); err != nil {
			h.logger.Warn(member.conn.Context(), "Failed to enqueue event for participant", "event_type", event.Type, "error", err.Error())
		}
	}
	metrics.IncrementEventsBroadcast(event.Type)
}

// publishLocked forwards the event to the cross-instance relay. Publishing is
// best effort; the relay enqueues without waiting for delivery, so holding
// the registry lock here is cheap and preserves per-room publish order.
func (h *Hub) publishLocked(ctx context.Context, roomID string, event domain.BaseMessage) {
	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(ctx, roomID, event); err != nil {
		h.logger.Warn(ctx, "Failed to publish room event to relay", "room_id", roomID, "event_type", event.Type, "error", err.Error())
	}
}

func (h *Hub) connStateFor(connID string) *connState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[connID]
}

func (h *Hub) isMember(connID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.conns[connID]
	if !ok {
		return false
	}
	_, joined := state.joined[roomID]
	return joined
}

// sendTo writes a targeted event to one connection, logging on failure.
func (h *Hub) sendTo(conn domain.ManagedConnection, event domain.BaseMessage) {
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Warn(conn.Context(), "Failed to send targeted event", "event_type", event.Type, "error", err.Error())
	}
}

// loadSnapshot reads the latest persisted snapshot for a room's resource.
// Absent or unreadable snapshots yield nil: the room starts empty.
func (h *Hub) loadSnapshot(ctx context.Context, roomID, resourceType string) *domain.DocumentSnapshot {
	resourceID := resourceIDFromRoom(roomID)
	if resourceType == "" || resourceID == "" {
		return nil
	}
	raw, err := h.cache.Get(ctx, cachekeys.SnapshotKey(resourceType, resourceID))
	if err != nil {
		return nil
	}
	var snapshot domain.DocumentSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		h.logger.Warn(ctx, "Corrupt stored snapshot", "room_id", roomID, "error", err.Error())
		return nil
	}
	return &snapshot
}

// persistSnapshot writes the snapshot with the configured TTL. The snapshot
// is a cache, not the system of record, so a failed write is logged and the
// broadcast proceeds.
func (h *Hub) persistSnapshot(ctx context.Context, roomID, resourceType string, snapshot *domain.DocumentSnapshot) {
	ttl := time.Duration(h.configProvider.Get().App.SnapshotTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error(ctx, "Failed to marshal snapshot", "room_id", roomID, "error", err.Error())
		return
	}
	if resourceType == "" {
		resourceType = "resume"
	}
	if err := h.cache.Set(ctx, cachekeys.SnapshotKey(resourceType, snapshot.ResourceID), string(data), ttl); err != nil {
		h.logger.Warn(ctx, "Failed to persist snapshot", "room_id", roomID, "error", err.Error())
	}
}

// resourceIDFromRoom extracts the resource id from a "type:id" room id.
func resourceIDFromRoom(roomID string) string {
	if idx := strings.IndexByte(roomID, ':'); idx >= 0 && idx+1 < len(roomID) {
		return roomID[idx+1:]
	}
	return roomID
}
