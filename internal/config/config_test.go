package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnabledConfig() Config {
	cfg := Default()
	cfg.Postgres.Database = "reviewflow"
	cfg.GitHub.Token = "token"
	cfg.GitHub.Owner = "reviews-org"
	return cfg
}

func TestParseEngineType(t *testing.T) {
	assert.Equal(t, EngineAsynq, ParseEngineType("asynq"))
	assert.Equal(t, EngineAsynq, ParseEngineType("redis"))
	assert.Equal(t, EngineAsynq, ParseEngineType(" Asynq "))
	assert.Equal(t, EnginePostgres, ParseEngineType("postgres"))
	assert.Equal(t, EnginePostgres, ParseEngineType(""))
	assert.Equal(t, EnginePostgres, ParseEngineType("anything-else"))
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.True(t, cfg.DispatchEnabled)
	assert.Equal(t, EnginePostgres, cfg.Queue.Engine)
	assert.Equal(t, 1, cfg.Queue.RetryLimit)
	assert.Equal(t, time.Hour, cfg.Queue.ExpireIn)
	assert.Equal(t, DefaultBootstrapJobName, cfg.GitHub.BootstrapJobName)
	assert.Equal(t, "main", cfg.GitHub.DefaultRef)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DISPATCH_AI_REVIEW_WORKFLOWS", "false")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "reviews")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("GITHUB_TOKEN", "tok")
	t.Setenv("GITHUB_OWNER", "reviews-org")
	t.Setenv("GITHUB_BOOTSTRAP_JOB", "setup")
	t.Setenv("QUEUE_ENGINE", "asynq")
	t.Setenv("QUEUE_RETRY_LIMIT", "3")
	t.Setenv("QUEUE_EXPIRE_SECONDS", "120")
	t.Setenv("SERVER_PORT", "9090")

	cfg := FromEnv()

	assert.False(t, cfg.DispatchEnabled)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 5433, cfg.Postgres.Port)
	assert.Equal(t, "reviews", cfg.Postgres.Database)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, "tok", cfg.GitHub.Token)
	assert.Equal(t, "setup", cfg.GitHub.BootstrapJobName)
	assert.Equal(t, EngineAsynq, cfg.Queue.Engine)
	assert.Equal(t, 3, cfg.Queue.RetryLimit)
	assert.Equal(t, 2*time.Minute, cfg.Queue.ExpireIn)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestFromEnv_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("QUEUE_RETRY_LIMIT", "-5")

	cfg := FromEnv()
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, 1, cfg.Queue.RetryLimit)
}

func TestValidate_EnabledRequiresStores(t *testing.T) {
	cfg := validEnabledConfig()
	require.NoError(t, cfg.Validate())

	missing := validEnabledConfig()
	missing.Postgres.Database = ""
	assert.Error(t, missing.Validate())

	missing = validEnabledConfig()
	missing.GitHub.Token = ""
	assert.Error(t, missing.Validate())

	missing = validEnabledConfig()
	missing.Queue.Engine = EngineAsynq
	missing.Redis.Addr = ""
	assert.Error(t, missing.Validate())

	missing = validEnabledConfig()
	missing.Queue.Engine = EngineType("rabbitmq")
	assert.Error(t, missing.Validate())
}

func TestValidate_DisabledNeedsAlmostNothing(t *testing.T) {
	cfg := Default()
	cfg.DispatchEnabled = false
	assert.NoError(t, cfg.Validate())
}
