package cachekeys

import (
	"fmt"

	"github.com/resumely/collab-service/pkg/crypto"
)

// SnapshotKey generates the cache key holding the latest document snapshot for a resource.
func SnapshotKey(resourceType, resourceID string) string {
	return fmt.Sprintf("snapshot:%s:%s", resourceType, resourceID)
}

// SessionKey generates the cache key for a stored session record.
func SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// RateKey generates the cache key for a rate-limit window counter.
func RateKey(prefix, identity string) string {
	return fmt.Sprintf("rate:%s:%s", prefix, identity)
}

// ResponseKey generates the cache key for a memoized HTTP response.
// The full path+query is hashed so arbitrary query strings produce bounded keys.
func ResponseKey(pathWithQuery string) string {
	return fmt.Sprintf("respcache:%s", crypto.Sha256Hex(pathWithQuery))
}

// ResponseTagKey generates the cache key for a response-cache tag index.
func ResponseTagKey(tag string) string {
	return fmt.Sprintf("respcache:tag:%s", tag)
}

// TokenCacheKey generates the cache key for a verified credential token.
// It takes the original raw token string, hashes it, and then formats the key.
func TokenCacheKey(rawToken string) string {
	return fmt.Sprintf("token_cache:%s", crypto.Sha256Hex(rawToken))
}

// ChatHistoryKey generates the cache key for a room's recent chat messages.
func ChatHistoryKey(roomID string) string {
	return fmt.Sprintf("chat:%s", roomID)
}

// PresenceKey generates the cache key for a user's online flag.
func PresenceKey(userID string) string {
	return fmt.Sprintf("presence:online:%s", userID)
}
