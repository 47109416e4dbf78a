package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "COLLAB"

// ServerConfig holds server-related configurations.
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
}

// CacheConfig holds the remote cache backend configuration. When Enabled is
// false (or the backend is unreachable at startup) the service runs on the
// in-process fallback store, which is single-instance only.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// NATSConfig holds the optional cross-instance event relay configuration.
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AuthConfig holds authentication-related configurations.
type AuthConfig struct {
	AdminAPIKey             string `mapstructure:"admin_api_key"` // Should primarily come from ENV
	TokenAESKey             string `mapstructure:"token_aes_key"` // Should primarily come from ENV
	TokenCacheTTLSeconds    int    `mapstructure:"token_cache_ttl_seconds"`
	HandshakeTimeoutSeconds int    `mapstructure:"handshake_timeout_seconds"`
}

// RateLimitConfig holds the per-identity request throttling configuration for
// the HTTP surface.
type RateLimitConfig struct {
	WindowMs  int    `mapstructure:"window_ms"`
	Max       int    `mapstructure:"max"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName              string `mapstructure:"service_name"`
	Version                  string `mapstructure:"version"`
	InstanceID               string `mapstructure:"instance_id"` // Expected from ENV in multi-instance deployments
	PingIntervalSeconds      int    `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds          int    `mapstructure:"pong_wait_seconds"`
	WriteTimeoutSeconds      int    `mapstructure:"write_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `mapstructure:"shutdown_timeout_seconds"`
	SessionTTLSeconds        int    `mapstructure:"session_ttl_seconds"`
	SnapshotTTLSeconds       int    `mapstructure:"snapshot_ttl_seconds"`
	ResponseCacheTTLSeconds  int    `mapstructure:"response_cache_ttl_seconds"`
	ExternalCallTimeoutMs    int    `mapstructure:"external_call_timeout_ms"`
	MessageBufferSize        int    `mapstructure:"message_buffer_size"`
	BackpressureDropPolicy   string `mapstructure:"backpressure_drop_policy"`
	ChatHistoryLimit         int    `mapstructure:"chat_history_limit"`
	ChatHistoryTTLSeconds    int    `mapstructure:"chat_history_ttl_seconds"`
	PresenceTTLSeconds       int    `mapstructure:"presence_ttl_seconds"`
	MemoryPruneIntervalSecs  int    `mapstructure:"memory_prune_interval_seconds"`
}

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	App       AppConfig       `mapstructure:"app"`
}

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
}

// viperProvider implements the Provider interface using Viper. The current
// config is held behind an atomic pointer because the SIGHUP and file-watch
// reload goroutines swap it while request paths read it.
type viperProvider struct {
	config atomic.Pointer[Config]
	logger *zap.Logger // Using zap.Logger directly for config internal logging, not domain.Logger to avoid circular deps
}

// NewViperProvider creates and initializes a new configuration provider using Viper.
// It loads configuration from file and environment variables, and sets up hot-reloading.
// A basic logger (e.g., zap.NewProduction()) should be passed for internal logging during setup.
// appCtx is the application lifecycle context used for graceful shutdown of background tasks.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	cfg := &Config{}
	v := viper.New()

	setDefaults(v)

	// Configure Viper to read from YAML file
	v.SetConfigName(getEnv("COLLAB_CONFIG_NAME", "config"))
	v.SetConfigType("yaml")
	v.AddConfigPath(getEnv("COLLAB_CONFIG_PATH", "/app/config"))
	v.AddConfigPath(".") // Also look in current directory for local dev

	// Configure Viper to read from environment variables
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // e.g., server.http_port becomes SERVER_HTTP_PORT

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	p := &viperProvider{logger: logger}
	p.config.Store(cfg)

	// Set up SIGHUP for hot-reloading configuration
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration...", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
				} else {
					newCfg := &Config{}
					if err := v.Unmarshal(newCfg); err != nil {
						p.logger.Error("Failed to unmarshal re-read config on SIGHUP", zap.Error(err))
					} else {
						p.config.Store(newCfg)
						p.logger.Info("Configuration reloaded successfully via SIGHUP")
					}
				}
			case <-appCtx.Done():
				p.logger.Info("SIGHUPConfigReloader goroutine shutting down due to context cancellation.")
				return
			}
		}
	}()

	// Watch for config file changes (useful for local dev, less so in containers usually)
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in OnConfigChange callback",
					zap.String("event_name", e.Name),
					zap.String("event_op", e.Op.String()),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			p.logger.Error("Failed to unmarshal config on file change event", zap.Error(err))
		} else {
			p.config.Store(newCfg)
			p.logger.Info("Configuration reloaded successfully via file change event")
		}
	})

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))

	return p, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.address", "127.0.0.1:6379")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("auth.token_cache_ttl_seconds", 30)
	v.SetDefault("auth.handshake_timeout_seconds", 10)
	v.SetDefault("ratelimit.window_ms", 60000)
	v.SetDefault("ratelimit.max", 120)
	v.SetDefault("ratelimit.key_prefix", "http")
	v.SetDefault("app.service_name", "collab-service")
	v.SetDefault("app.ping_interval_seconds", 20)
	v.SetDefault("app.pong_wait_seconds", 60)
	v.SetDefault("app.write_timeout_seconds", 10)
	v.SetDefault("app.shutdown_timeout_seconds", 30)
	v.SetDefault("app.session_ttl_seconds", 86400)
	v.SetDefault("app.snapshot_ttl_seconds", 3600)
	v.SetDefault("app.response_cache_ttl_seconds", 300)
	v.SetDefault("app.external_call_timeout_ms", 3000)
	v.SetDefault("app.message_buffer_size", 100)
	v.SetDefault("app.backpressure_drop_policy", "drop_oldest")
	v.SetDefault("app.chat_history_limit", 100)
	v.SetDefault("app.chat_history_ttl_seconds", 86400)
	v.SetDefault("app.presence_ttl_seconds", 300)
	v.SetDefault("app.memory_prune_interval_seconds", 60)
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config.Load()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
