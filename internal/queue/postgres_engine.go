package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresEngine is a durable queue backed by PostgreSQL. It implements
// Fetcher and is driven by the service's poll loop. Claims take a lock on the
// queue row so singleton admission holds across concurrent workers.
type PostgresEngine struct {
	db     *sql.DB
	closed chan struct{}
}

// NewPostgresEngine creates a queue engine on top of an open database pool.
func NewPostgresEngine(db *sql.DB) *PostgresEngine {
	return &PostgresEngine{
		db:     db,
		closed: make(chan struct{}),
	}
}

func (e *PostgresEngine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// CreateQueue idempotently declares a queue, updating its options in place.
func (e *PostgresEngine) CreateQueue(ctx context.Context, name string, opts QueueOptions) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	query := `
		INSERT INTO queues (name, policy, retry_limit, expire_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			policy = EXCLUDED.policy,
			retry_limit = EXCLUDED.retry_limit,
			expire_seconds = EXCLUDED.expire_seconds,
			updated_at = NOW()`

	_, err := e.db.ExecContext(ctx, query, name, string(opts.Policy), opts.RetryLimit, int64(opts.ExpireIn.Seconds()))
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	return nil
}

// Send submits a job into its queue. The queue must have been declared.
func (e *PostgresEngine) Send(ctx context.Context, job *Job) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	var retryLimit int
	err := e.db.QueryRowContext(ctx, `SELECT retry_limit FROM queues WHERE name = $1`, job.Queue).Scan(&retryLimit)
	if err == sql.ErrNoRows {
		return ErrQueueNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup queue: %w", err)
	}

	query := `
		INSERT INTO queue_jobs (id, queue, payload, state, retry_count, retry_limit, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW())`

	_, err = e.db.ExecContext(ctx, query, job.ID, job.Queue, []byte(job.Payload), JobStateCreated, retryLimit)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateJob
		}
		return fmt.Errorf("send job: %w", err)
	}
	return nil
}

// Fetch claims up to limit jobs. Under the singleton policy the claim is
// refused while another job in the same queue is active.
func (e *PostgresEngine) Fetch(ctx context.Context, queue string, limit int) ([]*Job, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	if limit <= 0 {
		limit = 1
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fetch: %w", err)
	}
	defer tx.Rollback()

	var policy string
	err = tx.QueryRowContext(ctx, `SELECT policy FROM queues WHERE name = $1 FOR UPDATE`, queue).Scan(&policy)
	if err == sql.ErrNoRows {
		return nil, ErrQueueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock queue: %w", err)
	}

	if QueuePolicy(policy) == PolicySingleton {
		var active int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM queue_jobs WHERE queue = $1 AND state = $2`,
			queue, JobStateActive,
		).Scan(&active)
		if err != nil {
			return nil, fmt.Errorf("count active: %w", err)
		}
		if active > 0 {
			return nil, nil
		}
		limit = 1
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload, retry_count, retry_limit, created_at
		FROM queue_jobs
		WHERE queue = $1 AND state = $2
		ORDER BY created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		queue, JobStateCreated, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}

	var jobs []*Job
	for rows.Next() {
		job := &Job{Queue: queue, State: JobStateActive}
		var payload []byte
		if err := rows.Scan(&job.ID, &payload, &job.RetryCount, &job.RetryLimit, &job.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Payload = payload
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	now := time.Now()
	for _, job := range jobs {
		_, err := tx.ExecContext(ctx,
			`UPDATE queue_jobs SET state = $3, started_at = $4 WHERE queue = $1 AND id = $2`,
			queue, job.ID, JobStateActive, now,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		started := now
		job.StartedAt = &started
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fetch: %w", err)
	}
	return jobs, nil
}

// Complete marks an active job completed.
func (e *PostgresEngine) Complete(ctx context.Context, queue, jobID string) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	result, err := e.db.ExecContext(ctx,
		`UPDATE queue_jobs SET state = $4, completed_at = NOW() WHERE queue = $1 AND id = $2 AND state = $3`,
		queue, jobID, JobStateActive, JobStateCompleted,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Fail records a failed delivery: re-queue while retries remain, mark failed
// once they exhaust.
func (e *PostgresEngine) Fail(ctx context.Context, queue, jobID string, cause error) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	errStr := ""
	if cause != nil {
		errStr = cause.Error()
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail: %w", err)
	}
	defer tx.Rollback()

	var retryCount, retryLimit int
	err = tx.QueryRowContext(ctx,
		`SELECT retry_count, retry_limit FROM queue_jobs WHERE queue = $1 AND id = $2 AND state = $3 FOR UPDATE`,
		queue, jobID, JobStateActive,
	).Scan(&retryCount, &retryLimit)
	if err == sql.ErrNoRows {
		return ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("lock job: %w", err)
	}

	if retryCount < retryLimit {
		_, err = tx.ExecContext(ctx, `
			UPDATE queue_jobs
			SET state = $3, retry_count = retry_count + 1, started_at = NULL, error = $4
			WHERE queue = $1 AND id = $2`,
			queue, jobID, JobStateCreated, errStr,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE queue_jobs
			SET state = $3, completed_at = NOW(), error = $4
			WHERE queue = $1 AND id = $2`,
			queue, jobID, JobStateFailed, errStr,
		)
	}
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail: %w", err)
	}
	return nil
}

// Cancel terminates a job regardless of remaining retries.
func (e *PostgresEngine) Cancel(ctx context.Context, queue, jobID string) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	result, err := e.db.ExecContext(ctx, `
		UPDATE queue_jobs SET state = $3, completed_at = NOW()
		WHERE queue = $1 AND id = $2 AND state IN ($4, $5)`,
		queue, jobID, JobStateCancelled, JobStateCreated, JobStateActive,
	)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Resume is a no-op for the polling engine: admission is re-evaluated on the
// next fetch.
func (e *PostgresEngine) Resume(ctx context.Context, queue string) error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	return nil
}

// Supervise reclaims active jobs whose expiry window has passed, either
// re-queueing them or failing them when retries are exhausted.
func (e *PostgresEngine) Supervise(ctx context.Context) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	_, err := e.db.ExecContext(ctx, `
		UPDATE queue_jobs j
		SET state = $1, completed_at = NOW(), error = 'expired'
		FROM queues q
		WHERE j.queue = q.name AND j.state = $2
		  AND j.started_at + make_interval(secs => q.expire_seconds) < NOW()
		  AND j.retry_count >= j.retry_limit`,
		JobStateFailed, JobStateActive,
	)
	if err != nil {
		return fmt.Errorf("expire exhausted jobs: %w", err)
	}

	_, err = e.db.ExecContext(ctx, `
		UPDATE queue_jobs j
		SET state = $1, retry_count = j.retry_count + 1, started_at = NULL, error = 'expired'
		FROM queues q
		WHERE j.queue = q.name AND j.state = $2
		  AND j.started_at + make_interval(secs => q.expire_seconds) < NOW()
		  AND j.retry_count < j.retry_limit`,
		JobStateCreated, JobStateActive,
	)
	if err != nil {
		return fmt.Errorf("requeue expired jobs: %w", err)
	}
	return nil
}

// Stats reports job counts by state for a queue.
func (e *PostgresEngine) Stats(ctx context.Context, queue string) (QueueStats, error) {
	stats := QueueStats{Name: queue}
	if e.isClosed() {
		return stats, ErrEngineClosed
	}

	rows, err := e.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM queue_jobs WHERE queue = $1 GROUP BY state`, queue)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		switch JobState(state) {
		case JobStateCreated:
			stats.Created = count
		case JobStateActive:
			stats.Active = count
		case JobStateCompleted:
			stats.Completed = count
		case JobStateFailed:
			stats.Failed = count
		case JobStateCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("rows error: %w", err)
	}
	return stats, nil
}

// JobByID loads a single job.
func (e *PostgresEngine) JobByID(ctx context.Context, queue, jobID string) (*Job, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	job := &Job{}
	var payload []byte
	var startedAt, completedAt sql.NullTime
	var errStr sql.NullString

	err := e.db.QueryRowContext(ctx, `
		SELECT id, queue, payload, state, retry_count, retry_limit, error, created_at, started_at, completed_at
		FROM queue_jobs WHERE queue = $1 AND id = $2`,
		queue, jobID,
	).Scan(
		&job.ID, &job.Queue, &payload, &job.State, &job.RetryCount, &job.RetryLimit,
		&errStr, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}

	job.Payload = payload
	if errStr.Valid {
		job.Error = errStr.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

// Close marks the engine closed. The database pool is owned by the caller.
func (e *PostgresEngine) Close() error {
	if e.isClosed() {
		return nil
	}
	close(e.closed)
	return nil
}

// CreateTables creates the queue tables if they do not exist.
func (e *PostgresEngine) CreateTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS queues (
			name TEXT PRIMARY KEY,
			policy TEXT NOT NULL DEFAULT 'singleton',
			retry_limit INTEGER NOT NULL DEFAULT 1,
			expire_seconds BIGINT NOT NULL DEFAULT 3600,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS queue_jobs (
			id TEXT NOT NULL,
			queue TEXT NOT NULL REFERENCES queues(name),
			payload BYTEA,
			state TEXT NOT NULL DEFAULT 'created',
			retry_count INTEGER NOT NULL DEFAULT 0,
			retry_limit INTEGER NOT NULL DEFAULT 1,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			started_at TIMESTAMP WITH TIME ZONE,
			completed_at TIMESTAMP WITH TIME ZONE,
			PRIMARY KEY (queue, id)
		);

		CREATE INDEX IF NOT EXISTS idx_queue_jobs_state ON queue_jobs(queue, state);
		CREATE INDEX IF NOT EXISTS idx_queue_jobs_created_at ON queue_jobs(created_at);
	`

	_, err := e.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("create queue tables: %w", err)
	}
	return nil
}
