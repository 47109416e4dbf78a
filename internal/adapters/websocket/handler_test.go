package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/adapters/memory"
	"github.com/resumely/collab-service/internal/application"
	"github.com/resumely/collab-service/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, args ...any) {}
func (nopLogger) Info(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Warn(ctx context.Context, msg string, args ...any)  {}
func (nopLogger) Error(ctx context.Context, msg string, args ...any) {}
func (l nopLogger) With(args ...any) domain.Logger                   { return l }

type staticProvider struct {
	cfg *config.Config
}

func (p staticProvider) Get() *config.Config { return p.cfg }

// staticVerifier accepts exactly one token and returns a fixed identity.
type staticVerifier struct {
	token    string
	identity *domain.Identity
}

func (v staticVerifier) Verify(ctx context.Context, token string) (*domain.Identity, error) {
	if token != v.token {
		return nil, errors.New("unknown token")
	}
	return v.identity, nil
}

type wsFixture struct {
	srv *httptest.Server
}

func newWSFixture(t *testing.T, handshakeSeconds int) *wsFixture {
	t.Helper()
	provider := staticProvider{cfg: &config.Config{
		Auth: config.AuthConfig{HandshakeTimeoutSeconds: handshakeSeconds},
		App: config.AppConfig{
			ServiceName:           "collab-service-test",
			PingIntervalSeconds:   30,
			PongWaitSeconds:       60,
			WriteTimeoutSeconds:   5,
			MessageBufferSize:     16,
			ExternalCallTimeoutMs: 500,
			SnapshotTTLSeconds:    60,
		},
	}}

	store := memory.NewCacheStore(context.Background(), nopLogger{}, 0)
	t.Cleanup(store.Stop)

	hub := application.NewHub(
		nopLogger{},
		provider,
		store,
		application.NewRoleAccessChecker(nopLogger{}),
		application.NewMergeDocumentMutator(store, nopLogger{}, "resume"),
		application.NewCacheMessagePersister(store, nopLogger{}, 50, time.Hour),
		application.NewCachePresenceUpdater(store, time.Minute),
		nil,
	)

	verifier := staticVerifier{token: "valid-token", identity: &domain.Identity{
		UserID:    "u-1",
		Username:  "u-1",
		Role:      domain.RoleEditor,
		ExpiresAt: time.Now().Add(time.Hour),
	}}

	srv := httptest.NewServer(NewHandler(nopLogger{}, provider, hub, verifier))
	t.Cleanup(srv.Close)
	return &wsFixture{srv: srv}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, f.srv.URL, &websocket.DialOptions{Subprotocols: []string{"json.v1"}})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return c
}

type wireFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func writeRaw(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFrame(t *testing.T, c *websocket.Conn) wireFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("server sent a non-JSON frame %q: %v", data, err)
	}
	return f
}

// readErrorFrame reads the next frame and decodes its error payload.
func readErrorFrame(t *testing.T, c *websocket.Conn, wantType string) domain.ErrorResponse {
	t.Helper()
	f := readFrame(t, c)
	if f.Type != wantType {
		t.Fatalf("frame type = %q, want %q", f.Type, wantType)
	}
	var errResp domain.ErrorResponse
	if err := json.Unmarshal(f.Payload, &errResp); err != nil {
		t.Fatalf("error payload did not decode: %v", err)
	}
	return errResp
}

// readCloseStatus reads until the peer closes and returns the close code.
func readCloseStatus(t *testing.T, c *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	if err == nil {
		t.Fatal("expected the server to close the connection")
	}
	status := websocket.CloseStatus(err)
	if status == -1 {
		t.Fatalf("connection ended without a close frame: %v", err)
	}
	return status
}

func authenticate(t *testing.T, c *websocket.Conn) {
	t.Helper()
	writeRaw(t, c, `{"type":"auth","payload":{"token":"valid-token"}}`)
	if frame := readFrame(t, c); frame.Type != domain.MessageTypeReady {
		t.Fatalf("after auth got frame %q, want %q", frame.Type, domain.MessageTypeReady)
	}
}

func TestHandshakeTimeoutClosesUnauthenticatedConnection(t *testing.T) {
	f := newWSFixture(t, 1)
	c := f.dial(t)
	defer c.Close(websocket.StatusNormalClosure, "")

	// Send nothing; the server must give up after the handshake window.
	errResp := readErrorFrame(t, c, domain.MessageTypeError)
	if errResp.Code != domain.ErrAuthTimeout {
		t.Errorf("error code = %q, want %q", errResp.Code, domain.ErrAuthTimeout)
	}
	if status := readCloseStatus(t, c); status != websocket.StatusCode(4408) {
		t.Errorf("close status = %d, want 4408", status)
	}
}

func TestNonAuthFirstFrameClosesConnection(t *testing.T) {
	f := newWSFixture(t, 5)
	c := f.dial(t)
	defer c.Close(websocket.StatusNormalClosure, "")

	writeRaw(t, c, `{"type":"join_room","payload":{"room_id":"resume:r1","resource_type":"resume"}}`)

	errResp := readErrorFrame(t, c, domain.MessageTypeError)
	if errResp.Code != domain.ErrBadRequest {
		t.Errorf("error code = %q, want %q", errResp.Code, domain.ErrBadRequest)
	}
	if status := readCloseStatus(t, c); status != websocket.StatusPolicyViolation {
		t.Errorf("close status = %d, want %d", status, websocket.StatusPolicyViolation)
	}
}

func TestInvalidTokenClosesConnection(t *testing.T) {
	f := newWSFixture(t, 5)
	c := f.dial(t)
	defer c.Close(websocket.StatusNormalClosure, "")

	writeRaw(t, c, `{"type":"auth","payload":{"token":"wrong"}}`)

	errResp := readErrorFrame(t, c, domain.MessageTypeError)
	if errResp.Code != domain.ErrInvalidToken {
		t.Errorf("error code = %q, want %q", errResp.Code, domain.ErrInvalidToken)
	}
	if status := readCloseStatus(t, c); status != websocket.StatusCode(4403) {
		t.Errorf("close status = %d, want 4403", status)
	}
}

func TestMalformedFrameAfterAuthKeepsConnectionAlive(t *testing.T) {
	f := newWSFixture(t, 5)
	c := f.dial(t)
	defer c.Close(websocket.StatusNormalClosure, "")
	authenticate(t, c)

	writeRaw(t, c, `this is not json`)
	errResp := readErrorFrame(t, c, domain.MessageTypeError)
	if errResp.Code != domain.ErrBadRequest {
		t.Errorf("error code = %q, want %q", errResp.Code, domain.ErrBadRequest)
	}

	// The loop must keep serving: a valid join on the same connection works.
	writeRaw(t, c, `{"type":"join_room","payload":{"room_id":"resume:r1","resource_type":"resume"}}`)
	if frame := readFrame(t, c); frame.Type != domain.MessageTypeRoomState {
		t.Errorf("after recovering got frame %q, want %q", frame.Type, domain.MessageTypeRoomState)
	}
}

func TestReauthFrameIsRejectedWithoutClosing(t *testing.T) {
	f := newWSFixture(t, 5)
	c := f.dial(t)
	defer c.Close(websocket.StatusNormalClosure, "")
	authenticate(t, c)

	writeRaw(t, c, `{"type":"auth","payload":{"token":"valid-token"}}`)
	errResp := readErrorFrame(t, c, domain.MessageTypeError)
	if errResp.Code != domain.ErrBadRequest {
		t.Errorf("error code = %q, want %q", errResp.Code, domain.ErrBadRequest)
	}

	writeRaw(t, c, `{"type":"join_room","payload":{"room_id":"resume:r1","resource_type":"resume"}}`)
	if frame := readFrame(t, c); frame.Type != domain.MessageTypeRoomState {
		t.Errorf("connection should survive a re-auth attempt, got frame %q", frame.Type)
	}
}
