package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey contextKey = "request_id"

	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey contextKey = "user_id"

	// RoleKey is the context key for the authenticated user's role.
	RoleKey contextKey = "role"

	// ConnIDKey is the context key for the realtime connection ID.
	ConnIDKey contextKey = "conn_id"

	// RoomIDKey is the context key for the collaboration room currently being handled.
	RoomIDKey contextKey = "room_id"

	// IdentityKey is the context key for storing the entire verified Identity struct.
	IdentityKey contextKey = "identity"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c contextKey) String() string {
	return string(c)
}
