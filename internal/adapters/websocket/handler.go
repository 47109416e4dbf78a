package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/adapters/metrics"
	"github.com/resumely/collab-service/internal/application"
	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/contextkeys"
	"github.com/resumely/collab-service/pkg/safego"
)

// Handler upgrades HTTP requests to WebSocket connections and runs the
// per-connection protocol: an auth frame first, then the event loop that
// feeds the collaboration hub.
type Handler struct {
	logger         domain.Logger
	configProvider config.Provider
	hub            *application.Hub
	verifier       domain.CredentialVerifier
}

// NewHandler creates a new WebSocket connection handler.
func NewHandler(logger domain.Logger, cfgProvider config.Provider, hub *application.Hub, verifier domain.CredentialVerifier) *Handler {
	if logger == nil {
		panic("logger is nil in websocket.NewHandler")
	}
	if cfgProvider == nil {
		panic("config provider is nil in websocket.NewHandler")
	}
	if hub == nil {
		panic("hub is nil in websocket.NewHandler")
	}
	if verifier == nil {
		panic("credential verifier is nil in websocket.NewHandler")
	}
	return &Handler{logger: logger, configProvider: cfgProvider, hub: hub, verifier: verifier}
}

// inboundFrame defers payload decoding until the type is known.
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"json.v1"},
	})
	if err != nil {
		h.logger.Error(r.Context(), "WebSocket upgrade failed", "error", err.Error(), "remote_addr", r.RemoteAddr)
		return
	}
	if wsConn.Subprotocol() != "json.v1" {
		h.logger.Warn(r.Context(), "Client did not negotiate json.v1 subprotocol", "negotiated", wsConn.Subprotocol())
		_ = wsConn.Close(websocket.StatusPolicyViolation, "client must speak json.v1 subprotocol")
		return
	}

	// The connection outlives the HTTP handler, so its context derives from
	// Background with the request id carried over for log correlation.
	connID := uuid.NewString()
	connCtx := context.WithValue(context.Background(), contextkeys.ConnIDKey, connID)
	if reqID, ok := r.Context().Value(contextkeys.RequestIDKey).(string); ok {
		connCtx = context.WithValue(connCtx, contextkeys.RequestIDKey, reqID)
	}
	connCtx, connCancel := context.WithCancel(connCtx)

	conn := NewConnection(connCtx, connCancel, wsConn, connID, r.RemoteAddr, h.logger, h.configProvider)
	h.manageConnection(connCtx, conn)
}

// manageConnection authenticates the connection and then runs its read loop
// until the client disconnects or a fatal error occurs.
func (h *Handler) manageConnection(ctx context.Context, conn *Connection) {
	identity, ok := h.authenticate(ctx, conn)
	if !ok {
		return
	}

	ctx = context.WithValue(ctx, contextkeys.UserIDKey, identity.UserID)
	h.hub.Register(ctx, conn, identity)
	defer func() {
		h.hub.Disconnect(ctx, conn.ID())
		_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	if err := conn.WriteJSON(domain.NewReadyMessage()); err != nil {
		h.logger.Error(ctx, "Failed to send ready frame", "error", err.Error())
		return
	}

	safego.Execute(ctx, h.logger, "WebSocketPingLoop-"+conn.ID(), func() {
		h.pingLoop(ctx, conn)
	})

	h.readLoop(ctx, conn)
}

// authenticate waits for the first frame, which must be an auth message, and
// verifies the presented credential. The wait is bounded by the handshake
// timeout; an unauthenticated connection never reaches the hub.
//
// The read runs in its own goroutine because cancelling a read context makes
// the websocket library tear the transport down, which would prevent sending
// the auth-timeout close frame. The timer firing first leaves the socket
// intact for a graceful close.
func (h *Handler) authenticate(ctx context.Context, conn *Connection) (*domain.Identity, bool) {
	timeout := time.Duration(h.configProvider.Get().Auth.HandshakeTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)
	safego.Execute(ctx, h.logger, "AuthFrameReader-"+conn.ID(), func() {
		_, data, err := conn.ReadMessage(ctx)
		resultCh <- readResult{data: data, err: err}
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var data []byte
	select {
	case <-timer.C:
		_ = conn.CloseWithError(domain.NewErrorResponse(domain.ErrAuthTimeout, "Authentication timed out", "no auth frame received"), "auth timeout")
		return nil, false
	case res := <-resultCh:
		if res.err != nil {
			h.logger.Debug(ctx, "Connection closed before auth frame", "error", res.err.Error())
			_ = conn.Close(websocket.StatusNormalClosure, "closed before auth")
			return nil, false
		}
		data = res.data
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != domain.MessageTypeAuth {
		_ = conn.CloseWithError(domain.NewErrorResponse(domain.ErrBadRequest, "First frame must be an auth message", ""), "bad auth frame")
		return nil, false
	}
	var payload domain.AuthPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil || payload.Token == "" {
		_ = conn.CloseWithError(domain.NewErrorResponse(domain.ErrInvalidToken, "Auth payload must carry a token", ""), "missing token")
		return nil, false
	}

	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	identity, err := h.verifier.Verify(verifyCtx, payload.Token)
	if err != nil {
		h.logger.Warn(ctx, "Credential verification failed", "error", err.Error(), "remote_addr", conn.RemoteAddr())
		_ = conn.CloseWithError(domain.NewErrorResponse(domain.ErrInvalidToken, "Invalid or expired token", ""), "token rejected")
		return nil, false
	}
	return identity, true
}

// readLoop decodes inbound frames and dispatches them to the hub. A frame
// that fails to decode earns a targeted error and the loop continues; only
// transport errors end the connection.
func (h *Handler) readLoop(ctx context.Context, conn *Connection) {
	for {
		_, data, err := conn.ReadMessage(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				h.logger.Info(ctx, "Connection closed", "status", int(status))
			} else {
				h.logger.Warn(ctx, "Read error, closing connection", "error", err.Error())
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.sendError(conn, domain.NewErrorResponse(domain.ErrBadRequest, "Malformed frame", "frame must be JSON with a type field"))
			continue
		}
		metrics.IncrementEventsReceived(frame.Type)
		h.dispatch(ctx, conn, frame)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Connection, frame inboundFrame) {
	switch frame.Type {
	case domain.MessageTypeJoinRoom:
		var p domain.JoinRoomPayload
		if !h.decode(conn, frame, &p) {
			return
		}
		h.hub.JoinRoom(ctx, conn.ID(), p)
	case domain.MessageTypeLeaveRoom:
		var p domain.LeaveRoomPayload
		if !h.decode(conn, frame, &p) {
			return
		}
		h.hub.LeaveRoom(ctx, conn.ID(), p)
	case domain.MessageTypeApplyEdit:
		var p domain.ApplyEditPayload
		if !h.decode(conn, frame, &p) {
			return
		}
		h.hub.ApplyEdit(ctx, conn.ID(), p)
	case domain.MessageTypeCursorMove:
		var p domain.CursorMovePayload
		if !h.decode(conn, frame, &p) {
			return
		}
		h.hub.CursorMove(ctx, conn.ID(), p)
	case domain.MessageTypeSelectionChange:
		var p domain.SelectionChangePayload
		if !h.decode(conn, frame, &p) {
			return
		}
		h.hub.SelectionChange(ctx, conn.ID(), p)
	case domain.MessageTypeSendMessage:
		var p domain.SendMessagePayload
		if !h.decode(conn, frame, &p) {
			return
		}
		h.hub.SendMessage(ctx, conn.ID(), p)
	case domain.MessageTypeAuth:
		// Already authenticated; re-auth is not part of the protocol.
		h.sendError(conn, domain.NewErrorResponse(domain.ErrBadRequest, "Connection is already authenticated", ""))
	default:
		h.sendError(conn, domain.NewErrorResponse(domain.ErrBadRequest, "Unknown message type", frame.Type))
	}
}

func (h *Handler) decode(conn *Connection, frame inboundFrame, dst interface{}) bool {
	if err := json.Unmarshal(frame.Payload, dst); err != nil {
		h.sendError(conn, domain.NewErrorResponse(domain.ErrBadRequest, "Malformed payload for "+frame.Type, err.Error()))
		return false
	}
	return true
}

func (h *Handler) sendError(conn *Connection, errResp domain.ErrorResponse) {
	if err := conn.WriteJSON(domain.NewErrorMessage(errResp)); err != nil {
		h.logger.Warn(conn.Context(), "Failed to send error frame", "error", err.Error())
	}
}

// pingLoop sends keepalive pings until the connection context ends. A failed
// ping cancels the context so the read loop tears the connection down.
func (h *Handler) pingLoop(ctx context.Context, conn *Connection) {
	ticker := time.NewTicker(conn.PingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				h.logger.Debug(ctx, "Keepalive ping failed", "error", err.Error())
				conn.cancelCtx()
				return
			}
		}
	}
}
