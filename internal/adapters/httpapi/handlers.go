package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/application"
	"github.com/resumely/collab-service/internal/domain"
	"github.com/resumely/collab-service/pkg/cachekeys"
)

// Handlers exposes the administrative REST surface: room stats, snapshot
// reads, tag invalidation and session management. Authentication and rate
// limiting are applied by the middleware chain in the bootstrap layer.
type Handlers struct {
	logger         domain.Logger
	configProvider config.Provider
	hub            *application.Hub
	cache          domain.CacheStore
	sessions       *application.SessionStore
	responseCache  *application.ResponseCache
}

// NewHandlers creates the REST handler set.
func NewHandlers(
	logger domain.Logger,
	cfgProvider config.Provider,
	hub *application.Hub,
	cache domain.CacheStore,
	sessions *application.SessionStore,
	responseCache *application.ResponseCache,
) *Handlers {
	if logger == nil {
		panic("logger is nil in httpapi.NewHandlers")
	}
	if cfgProvider == nil {
		panic("config provider is nil in httpapi.NewHandlers")
	}
	if hub == nil {
		panic("hub is nil in httpapi.NewHandlers")
	}
	if cache == nil {
		panic("cache store is nil in httpapi.NewHandlers")
	}
	if sessions == nil {
		panic("session store is nil in httpapi.NewHandlers")
	}
	if responseCache == nil {
		panic("response cache is nil in httpapi.NewHandlers")
	}
	return &Handlers{
		logger:         logger,
		configProvider: cfgProvider,
		hub:            hub,
		cache:          cache,
		sessions:       sessions,
		responseCache:  responseCache,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RoomStats handles GET /rooms/{roomId}.
func (h *Handlers) RoomStats(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	if roomID == "" {
		domain.NewErrorResponse(domain.ErrBadRequest, "roomId path parameter is required", "").WriteJSON(w, http.StatusBadRequest)
		return
	}

	participants, ok := h.hub.RoomParticipants(roomID)
	if !ok {
		domain.NewErrorResponse(domain.ErrNotFound, "Room not found", "no active participants").WriteJSON(w, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id":           roomID,
		"participant_count": len(participants),
		"participants":      participants,
	})
}

// Snapshot handles GET /snapshots/{resourceId}. The resource type defaults
// to "resume" and may be overridden with the resource_type query parameter.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	resourceID := r.PathValue("resourceId")
	if resourceID == "" {
		domain.NewErrorResponse(domain.ErrBadRequest, "resourceId path parameter is required", "").WriteJSON(w, http.StatusBadRequest)
		return
	}
	resourceType := r.URL.Query().Get("resource_type")
	if resourceType == "" {
		resourceType = "resume"
	}

	raw, err := h.cache.Get(r.Context(), cachekeys.SnapshotKey(resourceType, resourceID))
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			domain.NewErrorResponse(domain.ErrNotFound, "No snapshot for resource", resourceID).WriteJSON(w, http.StatusNotFound)
			return
		}
		h.logger.Error(r.Context(), "Snapshot read failed", "resource_id", resourceID, "error", err.Error())
		domain.NewErrorResponse(domain.ErrInternal, "Failed to read snapshot", "").WriteJSON(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(raw))
}

// InvalidateTag handles POST /cache/invalidate/{tag}.
func (h *Handlers) InvalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	if tag == "" {
		domain.NewErrorResponse(domain.ErrBadRequest, "tag path parameter is required", "").WriteJSON(w, http.StatusBadRequest)
		return
	}

	removed, err := h.responseCache.InvalidateTag(r.Context(), tag)
	if err != nil {
		h.logger.Error(r.Context(), "Tag invalidation failed", "tag", tag, "error", err.Error())
		domain.NewErrorResponse(domain.ErrInternal, "Failed to invalidate tag", "").WriteJSON(w, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tag": tag, "invalidated": removed})
}

type createSessionRequest struct {
	Payload    map[string]string `json:"payload"`
	TTLSeconds int               `json:"ttl_seconds"`
}

// CreateSession handles POST /sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		domain.NewErrorResponse(domain.ErrBadRequest, "Invalid request body", err.Error()).WriteJSON(w, http.StatusBadRequest)
		return
	}
	if len(req.Payload) == 0 {
		domain.NewErrorResponse(domain.ErrBadRequest, "payload is required", "").WriteJSON(w, http.StatusBadRequest)
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Duration(h.configProvider.Get().App.SessionTTLSeconds) * time.Second
	}

	sessionID, err := h.sessions.Create(r.Context(), req.Payload, ttl)
	if err != nil {
		h.logger.Error(r.Context(), "Session creation failed", "error", err.Error())
		domain.NewErrorResponse(domain.ErrInternal, "Failed to create session", "").WriteJSON(w, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":  sessionID,
		"ttl_seconds": int(ttl.Seconds()),
	})
}

// GetSession handles GET /sessions/{sessionId}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	payload, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, r, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "payload": payload})
}

// UpdateSession handles PATCH /sessions/{sessionId}. The request body is a
// partial payload merged into the stored one; the session TTL resets.
func (h *Handlers) UpdateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	var partial map[string]string
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		domain.NewErrorResponse(domain.ErrBadRequest, "Invalid request body", err.Error()).WriteJSON(w, http.StatusBadRequest)
		return
	}
	if err := h.sessions.Update(r.Context(), sessionID, partial); err != nil {
		h.writeSessionError(w, r, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID})
}

// DestroySession handles DELETE /sessions/{sessionId}.
func (h *Handlers) DestroySession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if err := h.sessions.Destroy(r.Context(), sessionID); err != nil {
		h.logger.Error(r.Context(), "Session destroy failed", "session_id", sessionID, "error", err.Error())
		domain.NewErrorResponse(domain.ErrInternal, "Failed to destroy session", "").WriteJSON(w, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) writeSessionError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		domain.NewErrorResponse(domain.ErrNotFound, "Session not found", "").WriteJSON(w, http.StatusNotFound)
		return
	}
	h.logger.Error(r.Context(), "Session operation failed", "session_id", sessionID, "error", err.Error())
	domain.NewErrorResponse(domain.ErrInternal, "Session operation failed", "").WriteJSON(w, http.StatusInternalServerError)
}
