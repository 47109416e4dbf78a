package websocket

import (
	"context"
	"net/http"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/adapters/middleware"
	"github.com/resumely/collab-service/internal/domain"
)

// Router wires the WebSocket upgrade endpoint into the HTTP mux. Credential
// verification happens in-band after the upgrade, so only request-id
// propagation applies here.
type Router struct {
	logger         domain.Logger
	configProvider config.Provider
	wsHandler      http.Handler
}

// NewRouter creates a new WebSocket router.
func NewRouter(logger domain.Logger, cfgProvider config.Provider, wsHandler http.Handler) *Router {
	return &Router{
		logger:         logger,
		configProvider: cfgProvider,
		wsHandler:      wsHandler,
	}
}

// RegisterRoutes sets up the WebSocket endpoint.
func (r *Router) RegisterRoutes(ctx context.Context, mux *http.ServeMux) {
	handler := middleware.RequestIDMiddleware(r.wsHandler)
	mux.Handle("GET /ws", handler)
	r.logger.Info(ctx, "WebSocket endpoint registered", "pattern", "GET /ws")
}
