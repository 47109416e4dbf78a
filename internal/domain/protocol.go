package domain

import (
	"encoding/json"
	"time"
)

// Client-to-server message types in the json.v1 subprotocol.
const (
	MessageTypeAuth            = "auth"
	MessageTypeJoinRoom        = "join_room"
	MessageTypeLeaveRoom       = "leave_room"
	MessageTypeApplyEdit       = "apply_edit"
	MessageTypeCursorMove      = "cursor_move"
	MessageTypeSelectionChange = "selection_change"
	MessageTypeSendMessage     = "send_message"
)

// Server-to-client message types.
const (
	MessageTypeReady            = "ready"
	MessageTypeError            = "error"
	MessageTypeRoomError        = "room_error"
	MessageTypeUserJoined       = "user_joined"
	MessageTypeUserLeft         = "user_left"
	MessageTypeRoomState        = "room_state"
	MessageTypeResumeUpdated    = "resume_updated"
	MessageTypeCursorMoved      = "cursor_moved"
	MessageTypeSelectionChanged = "selection_changed"
	MessageTypeNewMessage       = "new_message"
	MessageTypeEditError        = "edit_error"
	MessageTypeMessageError     = "message_error"
)

// BaseMessage is a generic structure for all messages in the json.v1 subprotocol.
// The Payload can be any of the specific payload structs or an ErrorResponse.
type BaseMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// --- Client payloads --- //

// AuthPayload carries the credential presented during the handshake.
type AuthPayload struct {
	Token string `json:"token"`
}

// JoinRoomPayload is the payload for a "join_room" message.
type JoinRoomPayload struct {
	RoomID       string `json:"room_id"`
	ResourceType string `json:"resource_type"`
}

// LeaveRoomPayload is the payload for a "leave_room" message.
type LeaveRoomPayload struct {
	RoomID string `json:"room_id"`
}

// ApplyEditPayload is the payload for an "apply_edit" message.
type ApplyEditPayload struct {
	RoomID     string          `json:"room_id"`
	ResourceID string          `json:"resource_id"`
	Changes    json.RawMessage `json:"changes"`
}

// CursorMovePayload is the payload for a "cursor_move" message.
type CursorMovePayload struct {
	RoomID   string          `json:"room_id"`
	Position json.RawMessage `json:"position"`
}

// SelectionChangePayload is the payload for a "selection_change" message.
type SelectionChangePayload struct {
	RoomID    string          `json:"room_id"`
	Selection json.RawMessage `json:"selection"`
}

// SendMessagePayload is the payload for a "send_message" chat message.
type SendMessagePayload struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

// --- Server payloads --- //

// UserJoinedPayload notifies existing members that a participant joined.
type UserJoinedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserLeftPayload notifies remaining members that a participant left.
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// RoomStatePayload is sent to a joiner and carries the latest known snapshot,
// which is null when no edit has been applied yet.
type RoomStatePayload struct {
	RoomID       string            `json:"roomId"`
	Snapshot     *DocumentSnapshot `json:"snapshot"`
	Participants []UserJoinedPayload `json:"participants"`
}

// ResumeUpdatedPayload carries an applied edit to the rest of the room.
type ResumeUpdatedPayload struct {
	Changes   json.RawMessage `json:"changes"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
}

// CursorMovedPayload relays a cursor position to the rest of the room.
type CursorMovedPayload struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Position json.RawMessage `json:"position"`
}

// SelectionChangedPayload relays a selection range to the rest of the room.
type SelectionChangedPayload struct {
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
	Selection json.RawMessage `json:"selection"`
}

// --- Constructors for server-to-client messages --- //

// NewReadyMessage creates a new message of type "ready".
func NewReadyMessage() BaseMessage {
	return BaseMessage{Type: MessageTypeReady}
}

// NewErrorMessage creates a new message of type "error".
func NewErrorMessage(errResp ErrorResponse) BaseMessage {
	return BaseMessage{Type: MessageTypeError, Payload: errResp}
}

// NewRoomErrorMessage creates a new message of type "room_error".
func NewRoomErrorMessage(errResp ErrorResponse) BaseMessage {
	return BaseMessage{Type: MessageTypeRoomError, Payload: errResp}
}

// NewEditErrorMessage creates a new message of type "edit_error".
func NewEditErrorMessage(errResp ErrorResponse) BaseMessage {
	return BaseMessage{Type: MessageTypeEditError, Payload: errResp}
}

// NewMessageErrorMessage creates a new message of type "message_error".
func NewMessageErrorMessage(errResp ErrorResponse) BaseMessage {
	return BaseMessage{Type: MessageTypeMessageError, Payload: errResp}
}

// NewUserJoinedMessage creates a new message of type "user_joined".
func NewUserJoinedMessage(userID, username string) BaseMessage {
	return BaseMessage{Type: MessageTypeUserJoined, Payload: UserJoinedPayload{UserID: userID, Username: username}}
}

// NewUserLeftMessage creates a new message of type "user_left".
func NewUserLeftMessage(userID string) BaseMessage {
	return BaseMessage{Type: MessageTypeUserLeft, Payload: UserLeftPayload{UserID: userID}}
}

// NewRoomStateMessage creates a new message of type "room_state".
func NewRoomStateMessage(roomID string, snapshot *DocumentSnapshot, participants []UserJoinedPayload) BaseMessage {
	return BaseMessage{Type: MessageTypeRoomState, Payload: RoomStatePayload{RoomID: roomID, Snapshot: snapshot, Participants: participants}}
}

// NewResumeUpdatedMessage creates a new message of type "resume_updated".
func NewResumeUpdatedMessage(changes json.RawMessage, userID string, ts time.Time) BaseMessage {
	return BaseMessage{Type: MessageTypeResumeUpdated, Payload: ResumeUpdatedPayload{Changes: changes, UserID: userID, Timestamp: ts}}
}

// NewCursorMovedMessage creates a new message of type "cursor_moved".
func NewCursorMovedMessage(userID, username string, position json.RawMessage) BaseMessage {
	return BaseMessage{Type: MessageTypeCursorMoved, Payload: CursorMovedPayload{UserID: userID, Username: username, Position: position}}
}

// NewSelectionChangedMessage creates a new message of type "selection_changed".
func NewSelectionChangedMessage(userID, username string, selection json.RawMessage) BaseMessage {
	return BaseMessage{Type: MessageTypeSelectionChanged, Payload: SelectionChangedPayload{UserID: userID, Username: username, Selection: selection}}
}

// NewChatMessage creates a new message of type "new_message" from the stored form.
func NewChatMessage(msg *ChatMessage) BaseMessage {
	return BaseMessage{Type: MessageTypeNewMessage, Payload: msg}
}
