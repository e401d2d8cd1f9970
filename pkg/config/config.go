package config

import (
	"context"
	"time"
)

// Config is the full configuration tree for a pulstrate process. Values are
// merged from defaults, an optional YAML file, and PULSTRATE_-prefixed
// environment variables, in that precedence order.
type Config struct {
	Server   ServerConfig   `json:"server" koanf:"server" validate:"required"`
	Redis    RedisConfig    `json:"redis" koanf:"redis"`
	Database DatabaseConfig `json:"database" koanf:"database" validate:"required"`
	Engine   EngineConfig   `json:"engine" koanf:"engine" validate:"required"`
	Groups   []GroupConfig  `json:"groups" koanf:"groups" validate:"dive"`
	History  HistoryConfig  `json:"history" koanf:"history"`
	Metrics  MetricsConfig  `json:"metrics" koanf:"metrics"`
	Logging  LoggingConfig  `json:"logging" koanf:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host        string          `json:"host" koanf:"host" validate:"required" env:"SERVER_HOST"`
	Port        int             `json:"port" koanf:"port" validate:"min=1,max=65535" env:"SERVER_PORT"`
	CORSEnabled bool            `json:"cors_enabled" koanf:"cors_enabled" env:"SERVER_CORS_ENABLED"`
	RateLimit   RateLimitConfig `json:"rate_limit" koanf:"rate_limit"`
}

// RateLimitConfig throttles API clients by ip when enabled.
type RateLimitConfig struct {
	Enabled bool    `json:"enabled" koanf:"enabled" env:"SERVER_RATE_LIMIT_ENABLED"`
	RPS     float64 `json:"rps" koanf:"rps" env:"SERVER_RATE_LIMIT_RPS" validate:"min=0"`
	Burst   int64   `json:"burst" koanf:"burst" env:"SERVER_RATE_LIMIT_BURST" validate:"min=0"`
}

// RedisConfig selects the shared event hub and rate limit store. When
// disabled, both fall back to in-process implementations.
type RedisConfig struct {
	Enabled  bool            `json:"enabled" koanf:"enabled" env:"REDIS_ENABLED"`
	URL      string          `json:"url" koanf:"url" env:"REDIS_URL"`
	Host     string          `json:"host" koanf:"host" env:"REDIS_HOST"`
	Port     int             `json:"port" koanf:"port" env:"REDIS_PORT"`
	Password SensitiveString `json:"password" koanf:"password" env:"REDIS_PASSWORD" sensitive:"true"`
	DB       int             `json:"db" koanf:"db" env:"REDIS_DB"`
}

// DatabaseConfig selects the task repository backend.
type DatabaseConfig struct {
	Driver     string          `json:"driver" koanf:"driver" validate:"oneof=memory postgres" env:"DATABASE_DRIVER"`
	ConnString string          `json:"conn_string" koanf:"conn_string" env:"DATABASE_CONN_STRING"`
	Host       string          `json:"host" koanf:"host" env:"DATABASE_HOST"`
	Port       string          `json:"port" koanf:"port" env:"DATABASE_PORT"`
	User       string          `json:"user" koanf:"user" env:"DATABASE_USER"`
	Password   SensitiveString `json:"password" koanf:"password" env:"DATABASE_PASSWORD" sensitive:"true"`
	DBName     string          `json:"name" koanf:"name" env:"DATABASE_NAME"`
	SSLMode    string          `json:"ssl_mode" koanf:"ssl_mode" env:"DATABASE_SSL_MODE"`
}

// EngineConfig contains execution engine tuning.
type EngineConfig struct {
	DefaultTaskTimeout          time.Duration `json:"default_task_timeout" koanf:"default_task_timeout" env:"ENGINE_DEFAULT_TASK_TIMEOUT"`
	QueuePollInterval           time.Duration `json:"queue_poll_interval" koanf:"queue_poll_interval" env:"ENGINE_QUEUE_POLL_INTERVAL"`
	ShutdownTimeout             time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout" env:"ENGINE_SHUTDOWN_TIMEOUT"`
	DefaultGroupParallelism     int           `json:"default_group_parallelism" koanf:"default_group_parallelism" env:"ENGINE_DEFAULT_GROUP_PARALLELISM" validate:"min=1"`
	DispatcherHeartbeatInterval time.Duration `json:"dispatcher_heartbeat_interval" koanf:"dispatcher_heartbeat_interval" env:"ENGINE_DISPATCHER_HEARTBEAT_INTERVAL"`
	DispatcherStaleThreshold    time.Duration `json:"dispatcher_stale_threshold" koanf:"dispatcher_stale_threshold" env:"ENGINE_DISPATCHER_STALE_THRESHOLD"`
}

// GroupConfig declares a scheduling group to seed at startup.
type GroupConfig struct {
	ID             string `json:"id" koanf:"id" validate:"required"`
	Name           string `json:"name" koanf:"name"`
	MaxParallelism int    `json:"max_parallelism" koanf:"max_parallelism" validate:"min=0"`
}

// HistoryConfig bounds the per-task event history rings.
type HistoryConfig struct {
	Enabled      bool `json:"enabled" koanf:"enabled" env:"HISTORY_ENABLED"`
	TaskCapacity int  `json:"task_capacity" koanf:"task_capacity" env:"HISTORY_TASK_CAPACITY" validate:"min=1"`
	RingSize     int  `json:"ring_size" koanf:"ring_size" env:"HISTORY_RING_SIZE" validate:"min=1"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" koanf:"enabled" env:"METRICS_ENABLED"`
	Path    string `json:"path" koanf:"path" env:"METRICS_PATH"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `json:"level" koanf:"level" validate:"oneof=debug info warn error" env:"LOGGING_LEVEL"`
	JSON  bool   `json:"json" koanf:"json" env:"LOGGING_JSON"`
}

// Service defines the configuration management service interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns the source type that provided a configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Watch monitors the source for changes.
	Watch(ctx context.Context, callback func()) error
	// Type returns the source type identifier.
	Type() SourceType
	// Close releases any resources held by the source.
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata records which source provided each configuration key.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        5480,
			CORSEnabled: false,
			RateLimit: RateLimitConfig{
				Enabled: false,
				RPS:     50,
				Burst:   100,
			},
		},
		Redis: RedisConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    6379,
		},
		Database: DatabaseConfig{
			Driver:  "memory",
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			DBName:  "pulstrate",
			SSLMode: "disable",
		},
		Engine: EngineConfig{
			DefaultTaskTimeout:          60 * time.Minute,
			QueuePollInterval:           100 * time.Millisecond,
			ShutdownTimeout:             30 * time.Second,
			DefaultGroupParallelism:     32,
			DispatcherHeartbeatInterval: 5 * time.Second,
			DispatcherStaleThreshold:    30 * time.Second,
		},
		History: HistoryConfig{
			Enabled:      true,
			TaskCapacity: 1024,
			RingSize:     256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load loads configuration from defaults and the environment using a fresh
// service. Callers needing YAML or CLI sources construct a Manager instead.
func Load(ctx context.Context) (*Config, error) {
	return NewService().Load(ctx)
}
