package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
)

// scriptedAccess returns canned access decisions.
type scriptedAccess struct {
	join    bool
	joinErr error
	edit    bool
	editErr error
}

func (a *scriptedAccess) CanJoin(ctx context.Context, identity *domain.Identity, roomID string, resourceType string) (bool, error) {
	return a.join, a.joinErr
}

func (a *scriptedAccess) CanEdit(ctx context.Context, identity *domain.Identity, resourceID string) (bool, error) {
	return a.edit, a.editErr
}

type failingPersister struct{}

func (failingPersister) Store(ctx context.Context, roomID, authorID, text string) (*domain.ChatMessage, error) {
	return nil, errors.New("storage unavailable")
}

type recordingPresence struct {
	states map[string]bool
}

func (p *recordingPresence) SetOnline(ctx context.Context, userID string, online bool) error {
	if p.states == nil {
		p.states = make(map[string]bool)
	}
	p.states[userID] = online
	return nil
}

type hubFixture struct {
	hub      *Hub
	cache    *fakeCache
	access   *scriptedAccess
	presence *recordingPresence
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	cache := newFakeCache()
	access := &scriptedAccess{join: true, edit: true}
	presence := &recordingPresence{}
	hub := NewHub(
		nopLogger{},
		testConfigProvider(),
		cache,
		access,
		NewMergeDocumentMutator(cache, nopLogger{}, "resume"),
		NewCacheMessagePersister(cache, nopLogger{}, 50, time.Hour),
		presence,
		nil,
	)
	return &hubFixture{hub: hub, cache: cache, access: access, presence: presence}
}

func (f *hubFixture) connect(t *testing.T, userID, role string) *fakeConn {
	t.Helper()
	conn := newFakeConn("conn-" + userID)
	f.hub.Register(context.Background(), conn, &domain.Identity{
		UserID:    userID,
		Username:  userID,
		Role:      role,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	return conn
}

func (f *hubFixture) join(t *testing.T, conn *fakeConn, roomID string) {
	t.Helper()
	f.hub.JoinRoom(context.Background(), conn.ID(), domain.JoinRoomPayload{RoomID: roomID, ResourceType: "resume"})
	if got := conn.countOf(domain.MessageTypeRoomState); got != 1 {
		t.Fatalf("join of %s: got %d room_state events, want 1", conn.ID(), got)
	}
}

func TestJoinRoomDenied(t *testing.T) {
	f := newHubFixture(t)
	f.access.join = false
	conn := f.connect(t, "u-1", domain.RoleViewer)

	f.hub.JoinRoom(context.Background(), conn.ID(), domain.JoinRoomPayload{RoomID: "resume:r1", ResourceType: "resume"})

	if got := conn.countOf(domain.MessageTypeRoomError); got != 1 {
		t.Errorf("got %d room_error events, want exactly 1", got)
	}
	if conn.countOf(domain.MessageTypeRoomState) != 0 {
		t.Error("denied joiner must not receive room_state")
	}
	if f.hub.RoomExists("resume:r1") {
		t.Error("denied join must not create the room")
	}
}

func TestJoinRoomDeniedWhenCheckErrors(t *testing.T) {
	f := newHubFixture(t)
	f.access.joinErr = errors.New("permission service down")
	conn := f.connect(t, "u-1", domain.RoleEditor)

	f.hub.JoinRoom(context.Background(), conn.ID(), domain.JoinRoomPayload{RoomID: "resume:r1", ResourceType: "resume"})

	if conn.countOf(domain.MessageTypeRoomError) != 1 {
		t.Error("an erroring access check must deny the join")
	}
	if f.hub.RoomExists("resume:r1") {
		t.Error("failed check must not create the room")
	}
}

func TestJoinRoomNotifiesOthersAndSendsState(t *testing.T) {
	f := newHubFixture(t)

	// A prior snapshot exists for the room's resource.
	snapshot := domain.DocumentSnapshot{ResourceID: "r1", Content: json.RawMessage(`{"title":"CV"}`), UpdatedAt: time.Now().UTC()}
	data, _ := json.Marshal(snapshot)
	if err := f.cache.Set(context.Background(), cachekeys.SnapshotKey("resume", "r1"), string(data), time.Minute); err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}

	first := f.connect(t, "u-1", domain.RoleOwner)
	f.join(t, first, "resume:r1")

	second := f.connect(t, "u-2", domain.RoleEditor)
	f.join(t, second, "resume:r1")

	if got := first.countOf(domain.MessageTypeUserJoined); got != 1 {
		t.Errorf("existing member got %d user_joined events, want 1", got)
	}

	states := second.received(domain.MessageTypeRoomState)
	state, ok := states[0].Payload.(domain.RoomStatePayload)
	if !ok {
		t.Fatalf("room_state payload has type %T", states[0].Payload)
	}
	if state.Snapshot == nil || string(state.Snapshot.Content) != `{"title":"CV"}` {
		t.Errorf("joiner should receive the stored snapshot, got %+v", state.Snapshot)
	}
	if len(state.Participants) != 1 || state.Participants[0].UserID != "u-1" {
		t.Errorf("joiner should see the existing participant, got %+v", state.Participants)
	}
}

func TestLeaveRoomNotifiesAndCollectsEmptyRoom(t *testing.T) {
	f := newHubFixture(t)
	first := f.connect(t, "u-1", domain.RoleOwner)
	second := f.connect(t, "u-2", domain.RoleEditor)
	f.join(t, first, "resume:r1")
	f.join(t, second, "resume:r1")

	f.hub.LeaveRoom(context.Background(), second.ID(), domain.LeaveRoomPayload{RoomID: "resume:r1"})
	if got := first.countOf(domain.MessageTypeUserLeft); got != 1 {
		t.Errorf("remaining member got %d user_left events, want 1", got)
	}
	if !f.hub.RoomExists("resume:r1") {
		t.Fatal("room with one member left should still exist")
	}

	f.hub.LeaveRoom(context.Background(), first.ID(), domain.LeaveRoomPayload{RoomID: "resume:r1"})
	if f.hub.RoomExists("resume:r1") {
		t.Error("room should be removed after its last participant leaves")
	}
}

func TestApplyEditBroadcastExcludesAuthor(t *testing.T) {
	f := newHubFixture(t)
	author := f.connect(t, "u-1", domain.RoleOwner)
	peer := f.connect(t, "u-2", domain.RoleEditor)
	third := f.connect(t, "u-3", domain.RoleViewer)
	f.join(t, author, "resume:r1")
	f.join(t, peer, "resume:r1")
	f.join(t, third, "resume:r1")

	f.hub.ApplyEdit(context.Background(), author.ID(), domain.ApplyEditPayload{
		RoomID:     "resume:r1",
		ResourceID: "r1",
		Changes:    json.RawMessage(`{"title":"Engineer"}`),
	})

	if author.countOf(domain.MessageTypeResumeUpdated) != 0 {
		t.Error("the author must not receive their own edit back")
	}
	if peer.countOf(domain.MessageTypeResumeUpdated) != 1 {
		t.Error("other members must receive the edit")
	}
	if third.countOf(domain.MessageTypeResumeUpdated) != 1 {
		t.Error("all non-author members must receive the edit")
	}

	events := peer.received(domain.MessageTypeResumeUpdated)
	payload, ok := events[0].Payload.(domain.ResumeUpdatedPayload)
	if !ok {
		t.Fatalf("resume_updated payload has type %T", events[0].Payload)
	}
	if payload.UserID != "u-1" {
		t.Errorf("edit attributed to %q, want u-1", payload.UserID)
	}

	// The snapshot was persisted.
	raw, ok := f.cache.get(cachekeys.SnapshotKey("resume", "r1"))
	if !ok {
		t.Fatal("edit should persist a snapshot")
	}
	var stored domain.DocumentSnapshot
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored snapshot is not valid JSON: %v", err)
	}
	if stored.UpdatedBy != "u-1" {
		t.Errorf("snapshot UpdatedBy = %q, want u-1", stored.UpdatedBy)
	}
}

func TestApplyEditDeniedFailsClosed(t *testing.T) {
	f := newHubFixture(t)
	f.access.edit = false
	author := f.connect(t, "u-1", domain.RoleViewer)
	peer := f.connect(t, "u-2", domain.RoleOwner)
	f.join(t, author, "resume:r1")
	f.join(t, peer, "resume:r1")

	f.hub.ApplyEdit(context.Background(), author.ID(), domain.ApplyEditPayload{
		RoomID:     "resume:r1",
		ResourceID: "r1",
		Changes:    json.RawMessage(`{"title":"nope"}`),
	})

	if got := author.countOf(domain.MessageTypeEditError); got != 1 {
		t.Errorf("denied author got %d edit_error events, want exactly 1", got)
	}
	if peer.countOf(domain.MessageTypeResumeUpdated) != 0 {
		t.Error("denied edit must not be broadcast")
	}
	if _, ok := f.cache.get(cachekeys.SnapshotKey("resume", "r1")); ok {
		t.Error("denied edit must not persist a snapshot")
	}
}

func TestApplyEditDeniedWhenCheckErrors(t *testing.T) {
	f := newHubFixture(t)
	f.access.editErr = errors.New("permission service down")
	author := f.connect(t, "u-1", domain.RoleOwner)
	f.join(t, author, "resume:r1")

	f.hub.ApplyEdit(context.Background(), author.ID(), domain.ApplyEditPayload{
		RoomID:     "resume:r1",
		ResourceID: "r1",
		Changes:    json.RawMessage(`{"title":"x"}`),
	})

	if author.countOf(domain.MessageTypeEditError) != 1 {
		t.Error("an erroring permission check must deny the edit")
	}
}

func TestApplyEditRequiresMembership(t *testing.T) {
	f := newHubFixture(t)
	outsider := f.connect(t, "u-1", domain.RoleOwner)

	f.hub.ApplyEdit(context.Background(), outsider.ID(), domain.ApplyEditPayload{
		RoomID:     "resume:r1",
		ResourceID: "r1",
		Changes:    json.RawMessage(`{"title":"x"}`),
	})

	if outsider.countOf(domain.MessageTypeEditError) != 1 {
		t.Error("editing without joining must produce an edit_error")
	}
}

func TestApplyEditOrderingPreserved(t *testing.T) {
	f := newHubFixture(t)
	first := f.connect(t, "u-1", domain.RoleOwner)
	second := f.connect(t, "u-2", domain.RoleEditor)
	observer := f.connect(t, "u-3", domain.RoleViewer)
	f.join(t, first, "resume:r1")
	f.join(t, second, "resume:r1")
	f.join(t, observer, "resume:r1")

	f.hub.ApplyEdit(context.Background(), first.ID(), domain.ApplyEditPayload{
		RoomID: "resume:r1", ResourceID: "r1", Changes: json.RawMessage(`{"step":"one"}`),
	})
	f.hub.ApplyEdit(context.Background(), second.ID(), domain.ApplyEditPayload{
		RoomID: "resume:r1", ResourceID: "r1", Changes: json.RawMessage(`{"step":"two"}`),
	})

	events := observer.received(domain.MessageTypeResumeUpdated)
	if len(events) != 2 {
		t.Fatalf("observer got %d resume_updated events, want 2", len(events))
	}
	firstPayload := events[0].Payload.(domain.ResumeUpdatedPayload)
	secondPayload := events[1].Payload.(domain.ResumeUpdatedPayload)
	if string(firstPayload.Changes) != `{"step":"one"}` || string(secondPayload.Changes) != `{"step":"two"}` {
		t.Errorf("edits observed out of order: %s then %s", firstPayload.Changes, secondPayload.Changes)
	}

	// Sequential merges accumulate in the snapshot.
	raw, _ := f.cache.get(cachekeys.SnapshotKey("resume", "r1"))
	var stored domain.DocumentSnapshot
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored snapshot is not valid JSON: %v", err)
	}
	var content map[string]string
	if err := json.Unmarshal(stored.Content, &content); err != nil {
		t.Fatalf("snapshot content is not an object: %v", err)
	}
	if content["step"] != "two" {
		t.Errorf("snapshot step = %q, want the later edit", content["step"])
	}
}

func TestCursorMoveExcludesSenderAndIsNotPersisted(t *testing.T) {
	f := newHubFixture(t)
	sender := f.connect(t, "u-1", domain.RoleEditor)
	peer := f.connect(t, "u-2", domain.RoleEditor)
	f.join(t, sender, "resume:r1")
	f.join(t, peer, "resume:r1")

	f.cache.mu.Lock()
	before := len(f.cache.data)
	f.cache.mu.Unlock()
	f.hub.CursorMove(context.Background(), sender.ID(), domain.CursorMovePayload{
		RoomID:   "resume:r1",
		Position: json.RawMessage(`{"section":"skills","offset":4}`),
	})

	if sender.countOf(domain.MessageTypeCursorMoved) != 0 {
		t.Error("sender must not receive their own cursor event")
	}
	if peer.countOf(domain.MessageTypeCursorMoved) != 1 {
		t.Error("peer must receive the cursor event")
	}
	f.cache.mu.Lock()
	after := len(f.cache.data)
	f.cache.mu.Unlock()
	if after != before {
		t.Error("cursor events must not be persisted")
	}
}

func TestSelectionChangeExcludesSender(t *testing.T) {
	f := newHubFixture(t)
	sender := f.connect(t, "u-1", domain.RoleEditor)
	peer := f.connect(t, "u-2", domain.RoleEditor)
	f.join(t, sender, "resume:r1")
	f.join(t, peer, "resume:r1")

	f.hub.SelectionChange(context.Background(), sender.ID(), domain.SelectionChangePayload{
		RoomID:    "resume:r1",
		Selection: json.RawMessage(`{"from":1,"to":9}`),
	})

	if sender.countOf(domain.MessageTypeSelectionChanged) != 0 {
		t.Error("sender must not receive their own selection event")
	}
	if peer.countOf(domain.MessageTypeSelectionChanged) != 1 {
		t.Error("peer must receive the selection event")
	}
}

func TestSendMessageIncludesSender(t *testing.T) {
	f := newHubFixture(t)
	sender := f.connect(t, "u-1", domain.RoleViewer)
	peer := f.connect(t, "u-2", domain.RoleOwner)
	f.join(t, sender, "resume:r1")
	f.join(t, peer, "resume:r1")

	f.hub.SendMessage(context.Background(), sender.ID(), domain.SendMessagePayload{
		RoomID: "resume:r1",
		Text:   "looks good to me",
	})

	for _, conn := range []*fakeConn{sender, peer} {
		events := conn.received(domain.MessageTypeNewMessage)
		if len(events) != 1 {
			t.Fatalf("%s got %d new_message events, want 1", conn.ID(), len(events))
		}
		msg, ok := events[0].Payload.(*domain.ChatMessage)
		if !ok {
			t.Fatalf("new_message payload has type %T", events[0].Payload)
		}
		if msg.ID == "" || msg.StoredAt.IsZero() {
			t.Error("chat message must carry server-assigned id and timestamp")
		}
		if msg.AuthorID != "u-1" || msg.Text != "looks good to me" {
			t.Errorf("unexpected chat message: %+v", msg)
		}
	}
}

func TestSendMessagePersistFailureFailsClosed(t *testing.T) {
	f := newHubFixture(t)
	hub := NewHub(nopLogger{}, testConfigProvider(), f.cache, f.access,
		NewMergeDocumentMutator(f.cache, nopLogger{}, "resume"),
		failingPersister{}, f.presence, nil)

	sender := newFakeConn("conn-u-1")
	peer := newFakeConn("conn-u-2")
	hub.Register(context.Background(), sender, &domain.Identity{UserID: "u-1", Role: domain.RoleOwner})
	hub.Register(context.Background(), peer, &domain.Identity{UserID: "u-2", Role: domain.RoleOwner})
	hub.JoinRoom(context.Background(), sender.ID(), domain.JoinRoomPayload{RoomID: "resume:r1", ResourceType: "resume"})
	hub.JoinRoom(context.Background(), peer.ID(), domain.JoinRoomPayload{RoomID: "resume:r1", ResourceType: "resume"})

	hub.SendMessage(context.Background(), sender.ID(), domain.SendMessagePayload{RoomID: "resume:r1", Text: "hello"})

	if sender.countOf(domain.MessageTypeMessageError) != 1 {
		t.Error("a failed persist must produce a message_error for the sender")
	}
	if peer.countOf(domain.MessageTypeNewMessage) != 0 {
		t.Error("an unpersisted message must not be broadcast")
	}
}

func TestDisconnectLeavesRoomsAndUpdatesPresence(t *testing.T) {
	f := newHubFixture(t)
	leaving := f.connect(t, "u-1", domain.RoleOwner)
	staying := f.connect(t, "u-2", domain.RoleEditor)
	f.join(t, leaving, "resume:r1")
	f.join(t, staying, "resume:r1")

	if !f.presence.states["u-1"] {
		t.Fatal("registered user should be marked online")
	}

	f.hub.Disconnect(context.Background(), leaving.ID())

	if staying.countOf(domain.MessageTypeUserLeft) != 1 {
		t.Error("remaining member must be told about the disconnect")
	}
	if f.presence.states["u-1"] {
		t.Error("disconnected user should be marked offline")
	}
	if f.hub.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount = %d, want 1", f.hub.ConnectionCount())
	}

	// Disconnecting an unknown connection is a no-op.
	f.hub.Disconnect(context.Background(), "conn-ghost")
}

func TestDeliverRemoteBroadcastsToFullRoom(t *testing.T) {
	f := newHubFixture(t)
	first := f.connect(t, "u-1", domain.RoleOwner)
	second := f.connect(t, "u-2", domain.RoleEditor)
	f.join(t, first, "resume:r1")
	f.join(t, second, "resume:r1")

	event := domain.NewResumeUpdatedMessage(json.RawMessage(`{"title":"remote"}`), "u-9", time.Now().UTC())
	f.hub.deliverRemote("resume:r1", event)

	if first.countOf(domain.MessageTypeResumeUpdated) != 1 || second.countOf(domain.MessageTypeResumeUpdated) != 1 {
		t.Error("relayed events must reach every local member")
	}
}

func TestJoinRoomTwiceResendsStateWithoutReannouncing(t *testing.T) {
	f := newHubFixture(t)
	joiner := f.connect(t, "u-1", domain.RoleEditor)
	peer := f.connect(t, "u-2", domain.RoleViewer)
	f.join(t, joiner, "resume:r1")
	f.join(t, peer, "resume:r1")

	f.hub.JoinRoom(context.Background(), joiner.ID(), domain.JoinRoomPayload{RoomID: "resume:r1", ResourceType: "resume"})

	if got := joiner.countOf(domain.MessageTypeRoomState); got != 2 {
		t.Errorf("retried join: got %d room_state events, want 2", got)
	}
	if got := peer.countOf(domain.MessageTypeUserJoined); got != 0 {
		t.Errorf("peer got %d user_joined events from the retry, want 0", got)
	}
	participants, ok := f.hub.RoomParticipants("resume:r1")
	if !ok || len(participants) != 2 {
		t.Errorf("room has %d participants after retry, want 2", len(participants))
	}
}

func TestConcurrentEditsDoNotLoseFields(t *testing.T) {
	f := newHubFixture(t)
	first := f.connect(t, "u-1", domain.RoleOwner)
	second := f.connect(t, "u-2", domain.RoleEditor)
	f.join(t, first, "resume:r1")
	f.join(t, second, "resume:r1")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.hub.ApplyEdit(context.Background(), first.ID(), domain.ApplyEditPayload{
			RoomID: "resume:r1", ResourceID: "r1", Changes: json.RawMessage(`{"title":"Engineer"}`),
		})
	}()
	go func() {
		defer wg.Done()
		f.hub.ApplyEdit(context.Background(), second.ID(), domain.ApplyEditPayload{
			RoomID: "resume:r1", ResourceID: "r1", Changes: json.RawMessage(`{"summary":"Ten years of Go"}`),
		})
	}()
	wg.Wait()

	raw, ok := f.cache.get(cachekeys.SnapshotKey("resume", "r1"))
	if !ok {
		t.Fatal("no snapshot persisted")
	}
	var stored domain.DocumentSnapshot
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("stored snapshot is not valid JSON: %v", err)
	}
	var content map[string]string
	if err := json.Unmarshal(stored.Content, &content); err != nil {
		t.Fatalf("snapshot content is not an object: %v", err)
	}
	if content["title"] != "Engineer" || content["summary"] != "Ten years of Go" {
		t.Errorf("a concurrent edit was lost, snapshot content = %v", content)
	}
}
