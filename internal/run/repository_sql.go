package run

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements Repository on PostgreSQL.
type SQLRepository struct {
	q querier
}

// NewSQLRepository creates a SQL-based run repository.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{q: db}
}

// WithTx returns a repository scoped to the given transaction.
func (r *SQLRepository) WithTx(tx *sql.Tx) Repository {
	return &SQLRepository{q: tx}
}

const runColumns = `id, workflow_id, submission_id, status, external_run_id, scheduled_job_id,
		jobs_count, completed_jobs, started_at, completed_at, created_at, updated_at`

// Create inserts a new run row.
func (r *SQLRepository) Create(ctx context.Context, wr *WorkflowRun) error {
	now := time.Now()
	wr.CreatedAt = now
	wr.UpdatedAt = now
	if wr.Status == "" {
		wr.Status = StatusInit
	}

	query := `
		INSERT INTO ai_workflow_runs (
			id, workflow_id, submission_id, status, external_run_id, scheduled_job_id,
			jobs_count, completed_jobs, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.q.ExecContext(ctx, query,
		wr.ID, wr.WorkflowID, wr.SubmissionID, wr.Status, wr.ExternalRunID, wr.ScheduledJobID,
		wr.JobsCount, wr.CompletedJobs, wr.CreatedAt, wr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by id.
func (r *SQLRepository) GetByID(ctx context.Context, id string) (*WorkflowRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM ai_workflow_runs WHERE id = $1`, runColumns)

	wr, err := scanRun(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return wr, nil
}

// List retrieves runs matching the filter, newest first.
func (r *SQLRepository) List(ctx context.Context, filter Filter) ([]WorkflowRun, error) {
	var conditions []string
	var args []any
	argIndex := 1

	if filter.SubmissionID != "" {
		conditions = append(conditions, fmt.Sprintf("submission_id = $%d", argIndex))
		args = append(args, filter.SubmissionID)
		argIndex++
	}
	if filter.WorkflowID != "" {
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", argIndex))
		args = append(args, filter.WorkflowID)
		argIndex++
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := 100
	if filter.Limit > 0 && filter.Limit <= 1000 {
		limit = filter.Limit
	}
	offset := 0
	if filter.Offset > 0 {
		offset = filter.Offset
	}

	query := fmt.Sprintf(`SELECT %s FROM ai_workflow_runs %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		runColumns, whereClause, limit, offset)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		wr, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *wr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return runs, nil
}

// FindActiveByExternalRunID returns runs in DISPATCHED or IN_PROGRESS
// matching the external run id.
func (r *SQLRepository) FindActiveByExternalRunID(ctx context.Context, externalRunID int64) ([]WorkflowRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM ai_workflow_runs WHERE external_run_id = $1 AND status IN ($2, $3)`, runColumns)

	rows, err := r.q.QueryContext(ctx, query, externalRunID, StatusDispatched, StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("query active runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		wr, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *wr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return runs, nil
}

// MarkQueued transitions INIT -> QUEUED.
func (r *SQLRepository) MarkQueued(ctx context.Context, id string) error {
	query := `UPDATE ai_workflow_runs SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`
	return r.guardedUpdate(ctx, id, query, id, StatusQueued, StatusInit)
}

// MarkDispatched transitions any non-terminal dispatched-or-later state back
// to DISPATCHED, records the queue job id and resets the run's progress for
// this attempt. Accepting IN_PROGRESS lets a retried job re-drive a run whose
// previous attempt failed after the workflow had already started.
func (r *SQLRepository) MarkDispatched(ctx context.Context, id, scheduledJobID string) error {
	query := `
		UPDATE ai_workflow_runs
		SET status = $2, scheduled_job_id = $3, external_run_id = 0, jobs_count = 0,
			completed_jobs = 0, started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5, $6)`
	return r.guardedUpdate(ctx, id, query, id, StatusDispatched, scheduledJobID, StatusQueued, StatusDispatched, StatusInProgress)
}

// MarkInProgress transitions DISPATCHED -> IN_PROGRESS.
func (r *SQLRepository) MarkInProgress(ctx context.Context, id string, startedAt time.Time) error {
	query := `
		UPDATE ai_workflow_runs SET status = $2, started_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`
	return r.guardedUpdate(ctx, id, query, id, StatusInProgress, startedAt, StatusDispatched)
}

// BackfillRunContext records the recovered external run id and jobs count and
// counts the bootstrap job as completed work. Valid only from DISPATCHED.
func (r *SQLRepository) BackfillRunContext(ctx context.Context, id string, externalRunID int64, jobsCount int) error {
	query := `
		UPDATE ai_workflow_runs
		SET external_run_id = $2, jobs_count = $3, completed_jobs = completed_jobs + 1, updated_at = NOW()
		WHERE id = $1 AND status = $4`
	return r.guardedUpdate(ctx, id, query, id, externalRunID, jobsCount, StatusDispatched)
}

// IncrementCompletedJobs advances the counter for a non-final completed job.
// The guard keeps the counter strictly below jobs_count so the final job can
// only land through MarkTerminal.
func (r *SQLRepository) IncrementCompletedJobs(ctx context.Context, id string) error {
	query := `
		UPDATE ai_workflow_runs
		SET completed_jobs = completed_jobs + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ($2, $3) AND completed_jobs + 1 < jobs_count`
	return r.guardedUpdate(ctx, id, query, id, StatusDispatched, StatusInProgress)
}

// MarkTerminal applies the terminal transition. The precondition rejects both
// early terminal events and replays of one already applied.
func (r *SQLRepository) MarkTerminal(ctx context.Context, id string, status Status, completedAt time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrIllegalTransition, status)
	}

	query := `
		UPDATE ai_workflow_runs
		SET status = $2, completed_at = $3, completed_jobs = jobs_count, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5) AND completed_jobs + 1 = jobs_count`
	return r.guardedUpdate(ctx, id, query, id, status, completedAt, StatusDispatched, StatusInProgress)
}

// MarkFailed forces a run to FAILURE from any state past INIT that is not
// already terminal. Used when the dispatch job's retries are exhausted and no
// further attempt will settle the run.
func (r *SQLRepository) MarkFailed(ctx context.Context, id string, completedAt time.Time) error {
	query := `
		UPDATE ai_workflow_runs
		SET status = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5, $6)`
	return r.guardedUpdate(ctx, id, query, id, StatusFailure, completedAt, StatusQueued, StatusDispatched, StatusInProgress)
}

// guardedUpdate executes a status-guarded update and translates a zero row
// count into ErrRunNotFound or ErrIllegalTransition.
func (r *SQLRepository) guardedUpdate(ctx context.Context, id, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ai_workflow_runs WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if !exists {
		return ErrRunNotFound
	}
	return ErrIllegalTransition
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*WorkflowRun, error) {
	wr := &WorkflowRun{}
	var startedAt, completedAt sql.NullTime
	var scheduledJobID sql.NullString

	err := row.Scan(
		&wr.ID, &wr.WorkflowID, &wr.SubmissionID, &wr.Status, &wr.ExternalRunID, &scheduledJobID,
		&wr.JobsCount, &wr.CompletedJobs, &startedAt, &completedAt, &wr.CreatedAt, &wr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduledJobID.Valid {
		wr.ScheduledJobID = scheduledJobID.String
	}
	if startedAt.Valid {
		wr.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		wr.CompletedAt = &completedAt.Time
	}
	return wr, nil
}

// CreateTable creates the run table if it does not exist.
func (r *SQLRepository) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ai_workflow_runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			submission_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'INIT',
			external_run_id BIGINT NOT NULL DEFAULT 0,
			scheduled_job_id TEXT,
			jobs_count INTEGER NOT NULL DEFAULT 0,
			completed_jobs INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP WITH TIME ZONE,
			completed_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_ai_workflow_runs_submission ON ai_workflow_runs(submission_id);
		CREATE INDEX IF NOT EXISTS idx_ai_workflow_runs_external ON ai_workflow_runs(external_run_id, status);
	`

	_, err := r.q.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("create run table: %w", err)
	}
	return nil
}
