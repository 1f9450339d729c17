// Package config provides environment-driven configuration for the gateway.
// A .env file in the working directory is loaded when present; real
// environment variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Storage   StorageConfig
	Cache     CacheConfig
	Usage     UsageConfig
	Sweep     SweepConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string

	// MasterKey guards the API when set. Empty disables auth.
	MasterKey string

	// MetricsEnabled exposes /metrics when true.
	MetricsEnabled bool

	// BodyLimit caps request body size, echo syntax (e.g. "1M").
	BodyLimit string
}

// ProviderConfig holds per-provider credentials and endpoint overrides.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Type is "sqlite", "postgresql" or "mongodb"
	Type string

	SQLitePath      string
	PostgresURL     string
	PostgresMaxConn int
	MongoURL        string
	MongoDatabase   string
}

// CacheConfig selects the model-catalog cache backend.
type CacheConfig struct {
	// Type is "local" or "redis"
	Type string

	LocalPath string
	RedisURL  string
	TTL       time.Duration
}

// UsageConfig controls usage accounting persistence.
type UsageConfig struct {
	Enabled       bool
	BufferSize    int
	FlushInterval time.Duration
	RetentionDays int
}

// SweepConfig controls stale pending-turn reconciliation.
type SweepConfig struct {
	// PendingTimeout is how long an assistant turn may stay pending before
	// the sweeper marks it errored.
	PendingTimeout time.Duration

	// Interval is how often the sweeper checks for stale turns.
	Interval time.Duration
}

// Load reads configuration from the environment, after loading an optional
// .env file.
func Load() (*Config, error) {
	// Missing .env is fine, the environment may be fully populated already
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			MasterKey:      getEnv("MASTER_KEY", ""),
			MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
			BodyLimit:      getEnv("BODY_LIMIT", "1M"),
		},
		OpenAI: ProviderConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		Anthropic: ProviderConfig{
			APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
		},
		Storage: StorageConfig{
			Type:            getEnv("STORAGE_TYPE", "sqlite"),
			SQLitePath:      getEnv("SQLITE_PATH", "data/llmrouter.db"),
			PostgresURL:     getEnv("POSTGRES_URL", ""),
			PostgresMaxConn: getEnvInt("POSTGRES_MAX_CONNS", 10),
			MongoURL:        getEnv("MONGODB_URL", ""),
			MongoDatabase:   getEnv("MONGODB_DATABASE", "llmrouter"),
		},
		Cache: CacheConfig{
			Type:      getEnv("CACHE_TYPE", "local"),
			LocalPath: getEnv("CACHE_LOCAL_PATH", "data/catalog-cache.json"),
			RedisURL:  getEnv("REDIS_URL", ""),
			TTL:       getEnvDuration("CACHE_TTL", 24*time.Hour),
		},
		Usage: UsageConfig{
			Enabled:       getEnvBool("USAGE_ENABLED", true),
			BufferSize:    getEnvInt("USAGE_BUFFER_SIZE", 1000),
			FlushInterval: getEnvDuration("USAGE_FLUSH_INTERVAL", 5*time.Second),
			RetentionDays: getEnvInt("USAGE_RETENTION_DAYS", 0),
		},
		Sweep: SweepConfig{
			PendingTimeout: getEnvDuration("SWEEP_PENDING_TIMEOUT", 10*time.Minute),
			Interval:       getEnvDuration("SWEEP_INTERVAL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb":
	default:
		return fmt.Errorf("invalid STORAGE_TYPE %q (want sqlite, postgresql or mongodb)", c.Storage.Type)
	}
	if c.Storage.Type == "postgresql" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("POSTGRES_URL is required when STORAGE_TYPE=postgresql")
	}
	if c.Storage.Type == "mongodb" && c.Storage.MongoURL == "" {
		return fmt.Errorf("MONGODB_URL is required when STORAGE_TYPE=mongodb")
	}

	switch c.Cache.Type {
	case "local", "redis":
	default:
		return fmt.Errorf("invalid CACHE_TYPE %q (want local or redis)", c.Cache.Type)
	}
	if c.Cache.Type == "redis" && c.Cache.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when CACHE_TYPE=redis")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
