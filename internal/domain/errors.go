package domain

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

// ErrorCode represents a specific error condition.
type ErrorCode string

const (
	ErrInvalidAPIKey     ErrorCode = "InvalidAPIKey"       // HTTP 401
	ErrInvalidToken      ErrorCode = "InvalidToken"        // HTTP 403, WS Close 4403
	ErrAuthTimeout       ErrorCode = "AuthTimeout"         // WS Close 4408, handshake window elapsed
	ErrRoomAccessDenied  ErrorCode = "RoomAccessDenied"    // room_error payload
	ErrEditDenied        ErrorCode = "EditDenied"          // edit_error payload
	ErrMessageRejected   ErrorCode = "MessageRejected"     // message_error payload
	ErrRateLimitExceeded ErrorCode = "RateLimitExceeded"   // HTTP 429
	ErrBadRequest        ErrorCode = "BadRequest"          // HTTP 400 or malformed realtime frame
	ErrNotFound          ErrorCode = "NotFound"            // HTTP 404
	ErrInternal          ErrorCode = "InternalServerError" // HTTP 500, WS Close 1011
)

// ErrorResponse is the standard error format returned to clients via WebSocket or HTTP JSON.
// For WebSocket, this is the payload of error-typed events, e.g. {"type": "room_error", "payload": ErrorResponse}.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	json.NewEncoder(w).Encode(er) // Best effort, error from Encode is not typically handled here.
}

// ToWebSocketCloseCode maps the error code to the close code used when terminating a connection.
func (er ErrorResponse) ToWebSocketCloseCode() websocket.StatusCode {
	switch er.Code {
	case ErrInvalidAPIKey:
		return websocket.StatusCode(4401)
	case ErrInvalidToken:
		return websocket.StatusCode(4403)
	case ErrAuthTimeout:
		return websocket.StatusCode(4408)
	case ErrBadRequest:
		return websocket.StatusPolicyViolation
	default:
		return websocket.StatusInternalError
	}
}
