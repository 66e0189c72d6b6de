// Package config loads process configuration from the environment.
// A .env file in the working directory is applied first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Lock backends.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

// Config is the full process configuration.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Lock    LockConfig
	Posting PostingConfig
	Outbox  OutboxConfig
}

// AppConfig holds process-level settings.
type AppConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// Development reports whether the process runs in development mode.
func (c AppConfig) Development() bool {
	return c.Env == "development"
}

// DBConfig holds PostgreSQL settings.
type DBConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds settings of the redis lock backend.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// LockConfig controls acquisition of per-key stock locks.
type LockConfig struct {
	Backend  string
	TTL      time.Duration
	Attempts int
	Backoff  time.Duration
}

// PostingConfig controls retry of a whole document batch on conflicts.
type PostingConfig struct {
	Attempts int
	Backoff  time.Duration
}

// OutboxConfig controls the outbox relay of the worker.
type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// Stream is the Redis stream events are relayed to; empty logs them only.
	Stream string
}

// Load reads configuration from .env and the environment.
func Load() (Config, error) {
	// Missing .env is fine: the environment alone may carry everything.
	_ = godotenv.Load()

	cfg := Config{
		App: AppConfig{
			Port:     getEnv("APP_PORT", "8080"),
			Env:      getEnv("APP_ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Lock: LockConfig{
			Backend:  getEnv("LOCK_BACKEND", LockBackendPostgres),
			TTL:      getEnvDuration("LOCK_TTL", 30*time.Second),
			Attempts: getEnvInt("LOCK_ATTEMPTS", 20),
			Backoff:  getEnvDuration("LOCK_BACKOFF", 25*time.Millisecond),
		},
		Posting: PostingConfig{
			Attempts: getEnvInt("POSTING_ATTEMPTS", 5),
			Backoff:  getEnvDuration("POSTING_BACKOFF", 50*time.Millisecond),
		},
		Outbox: OutboxConfig{
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
			Stream:       getEnv("OUTBOX_STREAM", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c Config) Validate() error {
	if c.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.Lock.Backend {
	case LockBackendPostgres, LockBackendRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendPostgres, LockBackendRedis, c.Lock.Backend)
	}
	if c.Lock.Attempts < 1 {
		return fmt.Errorf("LOCK_ATTEMPTS must be at least 1")
	}
	if c.Posting.Attempts < 1 {
		return fmt.Errorf("POSTING_ATTEMPTS must be at least 1")
	}
	if c.Outbox.BatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
