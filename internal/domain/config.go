package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines which storage, cache and bus backends are used
	Tier Tier `mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`

	// Narrative pipeline
	Generation GenerationConfig `mapstructure:"generation"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	History    HistoryConfig    `mapstructure:"history"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds

	// AllowedOrigins lists browser origins for the review UI. Empty allows
	// any origin without credentials.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// MaxBodyBytes caps request bodies on mutating routes.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// GenerationConfig selects and tunes the narrative generation backend.
type GenerationConfig struct {
	// Backend is "ollama", "bus" or "disabled".
	Backend     string        `mapstructure:"backend"`
	Endpoint    string        `mapstructure:"endpoint"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// CacheTTL enables the generation cache when positive.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// BreakerThreshold failures inside BreakerWindow open the circuit. Zero disables it.
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerWindow    time.Duration `mapstructure:"breaker_window"`

	// Responder answers remote generation requests on the bus with the local backend.
	Responder bool `mapstructure:"responder"`
}

// RetrievalConfig tunes the template retriever.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
	// Persist mirrors the template index into the repository.
	Persist bool `mapstructure:"persist"`
}

// ClassifierConfig tunes the risk classifier.
type ClassifierConfig struct {
	// FloorPolicy is "unconditional" or "on_match".
	FloorPolicy string `mapstructure:"floor_policy"`
}

// HistoryConfig controls the prior case lookup.
type HistoryConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	ExporterType string `mapstructure:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `mapstructure:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// Generation backend names.
const (
	BackendOllama   = "ollama"
	BackendBus      = "bus"
	BackendDisabled = "disabled"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 150, // generation may take up to the backend timeout
			MaxBodyBytes: 1 << 20,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Generation: GenerationConfig{
			Backend:          BackendOllama,
			Endpoint:         "http://localhost:11434",
			Model:            "llama3.1:8b",
			Temperature:      0.1,
			Timeout:          120 * time.Second,
			BreakerThreshold: 3,
			BreakerWindow:    time.Minute,
		},
		Retrieval: RetrievalConfig{
			TopK:    2,
			Persist: true,
		},
		Classifier: ClassifierConfig{
			FloorPolicy: "unconditional",
		},
		History: HistoryConfig{
			Window: 90 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "kestrel-workers",
	}
	cfg.Generation.CacheTTL = 24 * time.Hour
	cfg.Tracing.Enabled = true
	return cfg
}
