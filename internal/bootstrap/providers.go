package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/resumely/collab-service/internal/adapters/config"
	"github.com/resumely/collab-service/internal/adapters/httpapi"
	"github.com/resumely/collab-service/internal/adapters/logger"
	appmemory "github.com/resumely/collab-service/internal/adapters/memory"
	"github.com/resumely/collab-service/internal/adapters/middleware"
	appnats "github.com/resumely/collab-service/internal/adapters/nats"
	appredis "github.com/resumely/collab-service/internal/adapters/redis"
	wsadapter "github.com/resumely/collab-service/internal/adapters/websocket"
	"github.com/resumely/collab-service/internal/application"
	"github.com/resumely/collab-service/internal/domain"
)

// Distinct middleware types so Wire can tell them apart.
type AdminAuthMiddleware func(http.Handler) http.Handler
type RateLimitMiddleware func(http.Handler) http.Handler

// InitialZapLoggerProvider provides a basic *zap.Logger instance, primarily
// for config initialization before the structured application logger exists.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		zapLogger, err = zap.NewDevelopment()
		if err != nil {
			zapLogger = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger, falling back to example: %v\n", err)
		}
	}
	cleanup := func() {
		if syncErr := zapLogger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return zapLogger, cleanup, nil
}

// App aggregates everything Run needs. The struct is assembled by Wire.
type App struct {
	configProvider      config.Provider
	logger              domain.Logger
	httpServeMux        *http.ServeMux
	httpServer          *http.Server
	wsRouter            *wsadapter.Router
	hub                 *application.Hub
	apiHandlers         *httpapi.Handlers
	adminAuthMiddleware AdminAuthMiddleware
	rateLimitMiddleware RateLimitMiddleware
	responseCache       *application.ResponseCache
	cache               domain.CacheStore
}

// NewApp is the constructor for App, used by Wire.
func NewApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	wsRouter *wsadapter.Router,
	hub *application.Hub,
	apiHandlers *httpapi.Handlers,
	adminAuthMid AdminAuthMiddleware,
	rateLimitMid RateLimitMiddleware,
	responseCache *application.ResponseCache,
	cache domain.CacheStore,
) (*App, func(), error) {
	app := &App{
		configProvider:      cfgProvider,
		logger:              appLogger,
		httpServeMux:        mux,
		httpServer:          server,
		wsRouter:            wsRouter,
		hub:                 hub,
		apiHandlers:         apiHandlers,
		adminAuthMiddleware: adminAuthMid,
		rateLimitMiddleware: rateLimitMid,
		responseCache:       responseCache,
		cache:               cache,
	}
	cleanup := func() {
		app.logger.Info(context.Background(), "Running app cleanup...")
	}
	return app, cleanup, nil
}

// ConfigProvider provides the application configuration.
func ConfigProvider(appCtx context.Context, zapLogger *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, zapLogger)
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	appCfg := cfgProvider.Get()
	return logger.NewZapAdapter(cfgProvider, appCfg.App.ServiceName)
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides the HTTP server configured for
// graceful shutdown.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	appCfg := cfgProvider.Get()

	writeTimeout := 10 * time.Second
	if appCfg.App.WriteTimeoutSeconds > 0 {
		writeTimeout = time.Duration(appCfg.App.WriteTimeoutSeconds) * time.Second
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// CacheStoreProvider selects the cache backend. When Redis is enabled and
// reachable at startup it becomes the backend; otherwise the service falls
// back to the in-process store with a warning, so a cache outage never
// prevents startup. The selected backend is wrapped so read and write
// failures degrade to misses instead of surfacing to callers.
func CacheStoreProvider(appCtx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (domain.CacheStore, func(), error) {
	cfg := cfgProvider.Get()

	if cfg.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		pingCtx, cancel := context.WithTimeout(appCtx, 5*time.Second)
		_, err := client.Ping(pingCtx).Result()
		cancel()
		if err == nil {
			appLogger.Info(appCtx, "Using Redis cache backend", "address", cfg.Cache.Address)
			cleanup := func() {
				_ = client.Close()
				appLogger.Info(context.Background(), "Redis connection closed")
			}
			return application.NewResilientCacheStore(appredis.NewCacheStoreAdapter(client, appLogger), appLogger), cleanup, nil
		}
		appLogger.Warn(appCtx, "Redis unreachable at startup, falling back to in-memory cache", "address", cfg.Cache.Address, "error", err.Error())
		_ = client.Close()
	} else {
		appLogger.Info(appCtx, "Redis disabled, using in-memory cache backend")
	}

	pruneInterval := time.Duration(cfg.App.MemoryPruneIntervalSecs) * time.Second
	memStore := appmemory.NewCacheStore(appCtx, appLogger, pruneInterval)
	cleanup := func() {
		memStore.Stop()
	}
	return application.NewResilientCacheStore(memStore, appLogger), cleanup, nil
}

// TokenVerifierProvider provides the credential verifier for the realtime
// handshake.
func TokenVerifierProvider(appLogger domain.Logger, cfgProvider config.Provider, cache domain.CacheStore) *application.TokenVerifier {
	return application.NewTokenVerifier(appLogger, cfgProvider, cache)
}

// RateLimiterProvider provides the request rate limiter for the HTTP surface.
func RateLimiterProvider(cfgProvider config.Provider, cache domain.CacheStore, appLogger domain.Logger) *application.RateLimiter {
	rlCfg := cfgProvider.Get().RateLimit
	return application.NewRateLimiter(application.RateLimiterConfig{
		Window:    time.Duration(rlCfg.WindowMs) * time.Millisecond,
		Max:       rlCfg.Max,
		KeyPrefix: rlCfg.KeyPrefix,
	}, cache, appLogger)
}

// SessionStoreProvider provides the cache-backed session store.
func SessionStoreProvider(cache domain.CacheStore, appLogger domain.Logger) *application.SessionStore {
	return application.NewSessionStore(cache, appLogger)
}

// ResponseCacheProvider provides the HTTP response cache.
func ResponseCacheProvider(cfgProvider config.Provider, cache domain.CacheStore, appLogger domain.Logger) *application.ResponseCache {
	ttl := time.Duration(cfgProvider.Get().App.ResponseCacheTTLSeconds) * time.Second
	return application.NewResponseCache(cache, appLogger, ttl)
}

// AccessCheckerProvider provides the role-based access checker.
func AccessCheckerProvider(appLogger domain.Logger) domain.AccessChecker {
	return application.NewRoleAccessChecker(appLogger)
}

// DocumentMutatorProvider provides the shallow-merge document mutator.
func DocumentMutatorProvider(cache domain.CacheStore, appLogger domain.Logger) domain.DocumentMutator {
	return application.NewMergeDocumentMutator(cache, appLogger, "resume")
}

// MessagePersisterProvider provides the cache-backed chat persister.
func MessagePersisterProvider(cfgProvider config.Provider, cache domain.CacheStore, appLogger domain.Logger) domain.MessagePersister {
	appCfg := cfgProvider.Get().App
	ttl := time.Duration(appCfg.ChatHistoryTTLSeconds) * time.Second
	return application.NewCacheMessagePersister(cache, appLogger, appCfg.ChatHistoryLimit, ttl)
}

// PresenceUpdaterProvider provides the cache-backed presence updater.
func PresenceUpdaterProvider(cfgProvider config.Provider, cache domain.CacheStore) domain.PresenceUpdater {
	ttl := time.Duration(cfgProvider.Get().App.PresenceTTLSeconds) * time.Second
	return application.NewCachePresenceUpdater(cache, ttl)
}

// EventRelayProvider provides the cross-instance room event relay, or nil
// when NATS is disabled.
func EventRelayProvider(appCtx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (domain.EventRelay, func(), error) {
	if !cfgProvider.Get().NATS.Enabled {
		appLogger.Info(appCtx, "NATS relay disabled, running single-instance")
		return nil, func() {}, nil
	}
	return appnats.NewRelayAdapter(appCtx, cfgProvider, appLogger)
}

// HubProvider provides the collaboration hub.
func HubProvider(
	appLogger domain.Logger,
	cfgProvider config.Provider,
	cache domain.CacheStore,
	access domain.AccessChecker,
	mutator domain.DocumentMutator,
	messages domain.MessagePersister,
	presence domain.PresenceUpdater,
	relay domain.EventRelay,
) *application.Hub {
	return application.NewHub(appLogger, cfgProvider, cache, access, mutator, messages, presence, relay)
}

// WebsocketHandlerProvider provides the websocket handler.
func WebsocketHandlerProvider(appLogger domain.Logger, cfgProvider config.Provider, hub *application.Hub, verifier domain.CredentialVerifier) *wsadapter.Handler {
	return wsadapter.NewHandler(appLogger, cfgProvider, hub, verifier)
}

// WebsocketRouterProvider provides the websocket router.
func WebsocketRouterProvider(appLogger domain.Logger, cfgProvider config.Provider, wsHandler *wsadapter.Handler) *wsadapter.Router {
	return wsadapter.NewRouter(appLogger, cfgProvider, wsHandler)
}

// APIHandlersProvider provides the administrative REST handlers.
func APIHandlersProvider(
	appLogger domain.Logger,
	cfgProvider config.Provider,
	hub *application.Hub,
	cache domain.CacheStore,
	sessions *application.SessionStore,
	responseCache *application.ResponseCache,
) *httpapi.Handlers {
	return httpapi.NewHandlers(appLogger, cfgProvider, hub, cache, sessions, responseCache)
}

// AdminAuthMiddlewareProvider provides the API key guard for admin routes.
func AdminAuthMiddlewareProvider(cfgProvider config.Provider, appLogger domain.Logger) AdminAuthMiddleware {
	return AdminAuthMiddleware(middleware.AdminAPIKeyAuthMiddleware(cfgProvider, appLogger))
}

// RateLimitMiddlewareProvider provides the request throttling middleware.
func RateLimitMiddlewareProvider(limiter *application.RateLimiter, appLogger domain.Logger) RateLimitMiddleware {
	return RateLimitMiddleware(middleware.RateLimitMiddleware(limiter, appLogger))
}

// ProviderSet is the Wire provider set for the entire application.
var ProviderSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,

	// Storage and application services
	CacheStoreProvider,
	TokenVerifierProvider,
	wire.Bind(new(domain.CredentialVerifier), new(*application.TokenVerifier)),
	RateLimiterProvider,
	SessionStoreProvider,
	ResponseCacheProvider,

	// Collaboration components
	AccessCheckerProvider,
	DocumentMutatorProvider,
	MessagePersisterProvider,
	PresenceUpdaterProvider,
	EventRelayProvider,
	HubProvider,

	// Transport
	WebsocketHandlerProvider,
	WebsocketRouterProvider,
	APIHandlersProvider,
	AdminAuthMiddlewareProvider,
	RateLimitMiddlewareProvider,

	NewApp,
)
