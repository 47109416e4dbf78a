package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/resumely/collab-service/internal/adapters/middleware"
	"github.com/resumely/collab-service/pkg/safego"
)

// NOTE: The App struct and NewApp function are defined in providers.go for Wire.
// This file only contains methods for the App struct, like Run().

// Run starts the application, listens for HTTP requests, and handles graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	appCfg := a.configProvider.Get().App
	a.logger.Info(ctx, "Starting application", "service_name", appCfg.ServiceName, "version", appCfg.Version)

	a.registerOpsRoutes()
	a.wsRouter.RegisterRoutes(ctx, a.httpServeMux)
	a.registerAPIRoutes(ctx)

	if err := a.hub.StartRelay(ctx); err != nil {
		a.logger.Error(ctx, "Failed to start room event relay", "error", err.Error())
		return fmt.Errorf("failed to start room event relay: %w", err)
	}

	safego.Execute(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}

		shutdownTimeout := 30 * time.Second
		if appCfg.ShutdownTimeoutSeconds > 0 {
			shutdownTimeout = time.Duration(appCfg.ShutdownTimeoutSeconds) * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.logger.Info(context.Background(), "Closing all WebSocket connections gracefully...")
		a.hub.CloseAll(websocket.StatusGoingAway, "Server is shutting down")

		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "HTTP server graceful shutdown failed", "error", err.Error())
		}
		a.logger.Info(context.Background(), "HTTP server shut down.")
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", a.configProvider.Get().Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}

// registerOpsRoutes wires the health, readiness and metrics endpoints. These
// stay outside the admin auth and rate limit chains so orchestration probes
// always reach them.
func (a *App) registerOpsRoutes() {
	healthHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"OK"}`)
	})
	a.httpServeMux.Handle("GET /health", middleware.RequestIDMiddleware(healthHandler))

	readyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		ready := true
		dependenciesStatus := make(map[string]string)
		if err := a.cache.Ping(r.Context()); err == nil {
			dependenciesStatus["cache"] = "connected"
		} else {
			dependenciesStatus["cache"] = "disconnected"
			ready = false
			a.logger.Warn(r.Context(), "Readiness check failed: cache ping failed", "error", err.Error())
		}

		if configured, healthy := a.hub.RelayStatus(); configured {
			if healthy {
				dependenciesStatus["relay"] = "connected"
			} else {
				dependenciesStatus["relay"] = "disconnected"
				ready = false
				a.logger.Warn(r.Context(), "Readiness check failed: event relay disconnected")
			}
		}

		response := struct {
			Status       string            `json:"status"`
			Dependencies map[string]string `json:"dependencies"`
		}{
			Dependencies: dependenciesStatus,
		}
		if ready {
			response.Status = "READY"
			w.WriteHeader(http.StatusOK)
		} else {
			response.Status = "NOT_READY"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			a.logger.Error(r.Context(), "Failed to encode readiness response", "error", err)
		}
	})
	a.httpServeMux.Handle("GET /ready", middleware.RequestIDMiddleware(readyHandler))

	a.httpServeMux.Handle("GET /metrics", middleware.RequestIDMiddleware(promhttp.Handler()))
}

// registerAPIRoutes wires the administrative REST surface. Every route runs
// behind the request id, admin API key and rate limit middlewares; the
// snapshot GET additionally runs behind the response cache, tagged so writes
// can invalidate the whole group in one call. Room stats are deliberately
// uncached so operators always see live participant counts.
func (a *App) registerAPIRoutes(ctx context.Context) {
	chain := func(h http.Handler) http.Handler {
		return middleware.RequestIDMiddleware(a.adminAuthMiddleware(a.rateLimitMiddleware(h)))
	}
	cached := func(h http.Handler, tags ...string) http.Handler {
		return chain(middleware.ResponseCacheMiddleware(a.responseCache, a.logger, tags)(h))
	}

	a.httpServeMux.Handle("GET /rooms/{roomId}", chain(http.HandlerFunc(a.apiHandlers.RoomStats)))
	a.httpServeMux.Handle("GET /snapshots/{resourceId}", cached(http.HandlerFunc(a.apiHandlers.Snapshot), "snapshots"))
	a.httpServeMux.Handle("POST /cache/invalidate/{tag}", chain(http.HandlerFunc(a.apiHandlers.InvalidateTag)))

	a.httpServeMux.Handle("POST /sessions", chain(http.HandlerFunc(a.apiHandlers.CreateSession)))
	a.httpServeMux.Handle("GET /sessions/{sessionId}", chain(http.HandlerFunc(a.apiHandlers.GetSession)))
	a.httpServeMux.Handle("PATCH /sessions/{sessionId}", chain(http.HandlerFunc(a.apiHandlers.UpdateSession)))
	a.httpServeMux.Handle("DELETE /sessions/{sessionId}", chain(http.HandlerFunc(a.apiHandlers.DestroySession)))

	a.logger.Info(ctx, "REST API routes registered")
}
