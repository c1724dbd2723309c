package health

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
)

// DatabaseCheck pings the PostgreSQL connection.
type DatabaseCheck struct {
	db *sql.DB
}

// NewDatabaseCheck creates a critical database checker.
func NewDatabaseCheck(db *sql.DB) *DatabaseCheck {
	return &DatabaseCheck{db: db}
}

func (c *DatabaseCheck) Name() string       { return "database" }
func (c *DatabaseCheck) Severity() Severity { return SeverityCritical }

func (c *DatabaseCheck) Check(ctx context.Context) CheckResult {
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}

	stats := c.db.Stats()
	return CheckResult{
		Status: StatusHealthy,
		Details: map[string]any{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
	}
}

// RedisCheck pings the Redis connection backing the queue engine.
type RedisCheck struct {
	client redis.UniversalClient
}

// NewRedisCheck creates a critical Redis checker.
func NewRedisCheck(client redis.UniversalClient) *RedisCheck {
	return &RedisCheck{client: client}
}

func (c *RedisCheck) Name() string       { return "redis" }
func (c *RedisCheck) Severity() Severity { return SeverityCritical }

func (c *RedisCheck) Check(ctx context.Context) CheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// PendingCompletionsCheck reports how many dispatch jobs are suspended
// waiting on webhook resolution. A large number is a warning sign for
// stuck workflows, not a readiness failure.
type PendingCompletionsCheck struct {
	count     func() int
	threshold int
}

// NewPendingCompletionsCheck creates a warning-level checker over the
// completion registry size.
func NewPendingCompletionsCheck(count func() int, threshold int) *PendingCompletionsCheck {
	if threshold <= 0 {
		threshold = 100
	}
	return &PendingCompletionsCheck{count: count, threshold: threshold}
}

func (c *PendingCompletionsCheck) Name() string       { return "pending_completions" }
func (c *PendingCompletionsCheck) Severity() Severity { return SeverityWarning }

func (c *PendingCompletionsCheck) Check(ctx context.Context) CheckResult {
	n := c.count()
	status := StatusHealthy
	if n >= c.threshold {
		status = StatusDegraded
	}
	return CheckResult{
		Status:  status,
		Details: map[string]any{"outstanding": n, "threshold": c.threshold},
	}
}
