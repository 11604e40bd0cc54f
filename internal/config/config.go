// Package config loads Kestrel settings from an optional YAML file, a .env
// file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "KESTREL"

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// newViper maps nested keys like "server.port" to KESTREL_SERVER_PORT.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds the configuration. The tier defaults are chosen by
// KESTREL_TIER, then the YAML file at path (if any) and the environment are
// layered on top. A .env file in the working directory is loaded first when
// present.
func Load(path string) (*domain.Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := newViper()
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Tier = domain.Tier(strings.ToLower(string(cfg.Tier)))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.allowed_origins", c.Server.AllowedOrigins)
	v.SetDefault("server.max_body_bytes", c.Server.MaxBodyBytes)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.redis_key_prefix", c.Cache.RedisKeyPrefix)
	v.SetDefault("cache.redis_dial_timeout", c.Cache.RedisDialTimeout)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("event_bus.type", c.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)
	v.SetDefault("event_bus.nats_queue_group", c.EventBus.NATSQueueGroup)

	v.SetDefault("generation.backend", c.Generation.Backend)
	v.SetDefault("generation.endpoint", c.Generation.Endpoint)
	v.SetDefault("generation.model", c.Generation.Model)
	v.SetDefault("generation.temperature", c.Generation.Temperature)
	v.SetDefault("generation.timeout", c.Generation.Timeout)
	v.SetDefault("generation.cache_ttl", c.Generation.CacheTTL)
	v.SetDefault("generation.breaker_threshold", c.Generation.BreakerThreshold)
	v.SetDefault("generation.breaker_window", c.Generation.BreakerWindow)
	v.SetDefault("generation.responder", c.Generation.Responder)

	v.SetDefault("retrieval.top_k", c.Retrieval.TopK)
	v.SetDefault("retrieval.persist", c.Retrieval.Persist)

	v.SetDefault("classifier.floor_policy", c.Classifier.FloorPolicy)

	v.SetDefault("history.window", c.History.Window)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("tracing.exporter_type", c.Tracing.ExporterType)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
}

// Validate checks the configuration for values the components cannot use.
func Validate(c *domain.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Tier == domain.TierCommunity || c.Tier == domain.TierPro, "tier %q is not supported", c.Tier)
	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port %d is out of range", c.Server.Port)
	check(c.Server.ReadTimeout >= 0 && c.Server.WriteTimeout >= 0, "server timeouts must not be negative")
	check(c.Server.MaxBodyBytes >= 0, "server.max_body_bytes must not be negative")

	check(oneOf(c.Repository.Driver, "sqlite", "postgres"), "repository.driver %q is not supported", c.Repository.Driver)
	check(oneOf(c.Cache.Type, "memory", "redis"), "cache.type %q is not supported", c.Cache.Type)
	check(oneOf(c.EventBus.Type, "channel", "nats"), "event_bus.type %q is not supported", c.EventBus.Type)

	check(oneOf(c.Generation.Backend, domain.BackendOllama, domain.BackendBus, domain.BackendDisabled),
		"generation.backend %q is not supported", c.Generation.Backend)
	check(c.Generation.Temperature >= 0 && c.Generation.Temperature <= 2,
		"generation.temperature %.2f is out of range", c.Generation.Temperature)
	check(c.Generation.Timeout > 0, "generation.timeout must be positive")
	check(c.Generation.BreakerThreshold >= 0, "generation.breaker_threshold must not be negative")
	check(c.Generation.Backend != domain.BackendBus || c.EventBus.Type == "nats",
		"generation.backend bus requires event_bus.type nats")

	check(c.Retrieval.TopK >= 1, "retrieval.top_k must be at least 1")
	if _, err := classifier.ParseFloorPolicy(c.Classifier.FloorPolicy); err != nil {
		errs = append(errs, err)
	}
	check(c.History.Window >= 0, "history.window must not be negative")

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	check(oneOf(c.Logging.Format, "json", "text"), "logging.format %q is not supported", c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ParseLevel converts a configured log level to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q is not supported", level)
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(c domain.LoggingConfig) *slog.Logger {
	level, _ := ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
