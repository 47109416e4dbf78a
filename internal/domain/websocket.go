package domain

import (
	"context"

	"github.com/coder/websocket"
)

// ManagedConnection represents an active WebSocket connection as seen by the
// collaboration hub. It defines the operations the hub needs to deliver
// events to and manage the lifecycle of an established connection.
type ManagedConnection interface {
	// ID returns the unique connection id assigned at authentication time.
	ID() string

	// WriteJSON sends a JSON-encoded message to the client.
	WriteJSON(v interface{}) error

	// Close attempts to close the WebSocket connection with a specified status code and reason.
	Close(statusCode websocket.StatusCode, reason string) error

	// RemoteAddr returns the remote network address string of the client.
	RemoteAddr() string

	// Context returns the context associated with this specific connection.
	// This context may contain connection-specific logging information like request_id.
	Context() context.Context
}
