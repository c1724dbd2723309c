// Package config holds runtime configuration for the reviewflow services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineType selects the durable queue backend.
type EngineType string

const (
	// EnginePostgres runs the queue on the relational store with an explicit poll loop.
	EnginePostgres EngineType = "postgres"
	// EngineAsynq runs the queue on Redis via asynq in push mode.
	EngineAsynq EngineType = "asynq"
)

// IsValid returns true if the engine type is supported.
func (e EngineType) IsValid() bool {
	switch e {
	case EnginePostgres, EngineAsynq:
		return true
	default:
		return false
	}
}

// ParseEngineType parses a string into an EngineType, defaulting to postgres.
func ParseEngineType(s string) EngineType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asynq", "redis":
		return EngineAsynq
	default:
		return EnginePostgres
	}
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// GitHubConfig holds the external workflow runner configuration.
type GitHubConfig struct {
	Token string
	// Owner is the organization that hosts one mirror repository per challenge.
	Owner string
	// DefaultRef is the ref workflows are dispatched against when a workflow
	// definition does not carry its own.
	DefaultRef string
	// WebhookSecret signs inbound workflow_job deliveries.
	WebhookSecret string
	// BootstrapJobName identifies the sentinel context job in workflow_job events.
	// Matching is exact; the value must track the workflow templates.
	BootstrapJobName string
}

// QueueConfig holds job queue tuning.
type QueueConfig struct {
	Engine       EngineType
	RetryLimit   int
	ExpireIn     time.Duration
	PollInterval time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string
	Port int
}

// Config is the top-level configuration for all reviewflow commands.
type Config struct {
	// DispatchEnabled gates the whole AI-review dispatch subsystem. When false,
	// enqueue and consumption are clean no-ops; run rows are still created as an
	// audit trail.
	DispatchEnabled bool

	Postgres PostgresConfig
	Redis    RedisConfig
	GitHub   GitHubConfig
	Queue    QueueConfig
	Server   ServerConfig
}

// DefaultBootstrapJobName is the conventional name of the sentinel first job of
// every AI-review workflow. It exists only to report run context back before the
// real work starts.
const DefaultBootstrapJobName = "dump-context"

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		DispatchEnabled: true,
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		GitHub: GitHubConfig{
			DefaultRef:       "main",
			BootstrapJobName: DefaultBootstrapJobName,
		},
		Queue: QueueConfig{
			Engine:       EnginePostgres,
			RetryLimit:   1,
			ExpireIn:     time.Hour,
			PollInterval: 5 * time.Second,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

// FromEnv builds a Config from environment variables, starting from defaults.
//
// Environment variables:
//   - DISPATCH_AI_REVIEW_WORKFLOWS: "true"/"false" (default "true")
//   - DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD, DB_SSL_MODE
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//   - GITHUB_TOKEN, GITHUB_OWNER, GITHUB_DEFAULT_REF, GITHUB_WEBHOOK_SECRET,
//     GITHUB_BOOTSTRAP_JOB
//   - QUEUE_ENGINE ("postgres"|"asynq"), QUEUE_RETRY_LIMIT, QUEUE_EXPIRE_SECONDS,
//     QUEUE_POLL_INTERVAL_SECONDS
//   - SERVER_HOST, SERVER_PORT
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("DISPATCH_AI_REVIEW_WORKFLOWS"); v != "" {
		cfg.DispatchEnabled = v == "true" || v == "1"
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = p
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}

	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("GITHUB_OWNER"); v != "" {
		cfg.GitHub.Owner = v
	}
	if v := os.Getenv("GITHUB_DEFAULT_REF"); v != "" {
		cfg.GitHub.DefaultRef = v
	}
	if v := os.Getenv("GITHUB_WEBHOOK_SECRET"); v != "" {
		cfg.GitHub.WebhookSecret = v
	}
	if v := os.Getenv("GITHUB_BOOTSTRAP_JOB"); v != "" {
		cfg.GitHub.BootstrapJobName = v
	}

	if v := os.Getenv("QUEUE_ENGINE"); v != "" {
		cfg.Queue.Engine = ParseEngineType(v)
	}
	if v := os.Getenv("QUEUE_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Queue.RetryLimit = n
		}
	}
	if v := os.Getenv("QUEUE_EXPIRE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.ExpireIn = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("QUEUE_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	return cfg
}

// Validate checks that the configuration can actually run the subsystem it
// enables. A disabled dispatcher needs almost nothing; an enabled one must be
// able to reach its stores.
func (c Config) Validate() error {
	if !c.Queue.Engine.IsValid() {
		return fmt.Errorf("config: unknown queue engine %q", c.Queue.Engine)
	}
	if !c.DispatchEnabled {
		return nil
	}
	if c.Postgres.Host == "" || c.Postgres.Database == "" {
		return fmt.Errorf("config: postgres host and database are required when dispatch is enabled")
	}
	if c.Queue.Engine == EngineAsynq && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis address is required for the asynq queue engine")
	}
	if c.GitHub.Token == "" || c.GitHub.Owner == "" {
		return fmt.Errorf("config: github token and owner are required when dispatch is enabled")
	}
	if c.Queue.RetryLimit < 0 {
		return fmt.Errorf("config: queue retry limit must not be negative")
	}
	return nil
}
