package run

import (
	"context"
	"database/sql"
	"time"
)

// Filter narrows List queries.
type Filter struct {
	SubmissionID string
	WorkflowID   string
	Status       []Status
	Limit        int
	Offset       int
}

// Repository persists workflow runs. Every mutation is a targeted, guarded
// update: the WHERE clause carries the status precondition the state machine
// implies, so concurrent webhook replays cannot produce lost updates. A
// guarded update whose precondition fails returns ErrIllegalTransition.
type Repository interface {
	Create(ctx context.Context, r *WorkflowRun) error
	GetByID(ctx context.Context, id string) (*WorkflowRun, error)
	List(ctx context.Context, filter Filter) ([]WorkflowRun, error)

	// FindActiveByExternalRunID returns all runs in DISPATCHED or
	// IN_PROGRESS whose external run id matches. More than one match is a
	// consistency error the caller must handle.
	FindActiveByExternalRunID(ctx context.Context, externalRunID int64) ([]WorkflowRun, error)

	// MarkQueued transitions INIT -> QUEUED.
	MarkQueued(ctx context.Context, id string) error

	// MarkDispatched transitions QUEUED, DISPATCHED or IN_PROGRESS ->
	// DISPATCHED, records the queue job id and resets the run context
	// recovered for the previous attempt. Re-dispatch after a retry lands
	// here again, which keeps dispatch idempotent even when the failed
	// attempt had already reported in_progress.
	MarkDispatched(ctx context.Context, id, scheduledJobID string) error

	// MarkInProgress transitions DISPATCHED -> IN_PROGRESS and sets
	// the start time.
	MarkInProgress(ctx context.Context, id string, startedAt time.Time) error

	// BackfillRunContext records the external run id and jobs count
	// recovered from the bootstrap job's logs, and counts the bootstrap
	// job as one completed unit of work. Valid only from DISPATCHED.
	BackfillRunContext(ctx context.Context, id string, externalRunID int64, jobsCount int) error

	// IncrementCompletedJobs advances the counter by one for a
	// non-terminal completed event. The counter never exceeds
	// jobs_count - 1 on this path; the final job goes through
	// MarkTerminal.
	IncrementCompletedJobs(ctx context.Context, id string) error

	// MarkTerminal applies the terminal transition: status, completion
	// time and the final counter value. Valid only from DISPATCHED or
	// IN_PROGRESS when exactly one job remains, which also makes a
	// replayed terminal event a no-op.
	MarkTerminal(ctx context.Context, id string, status Status, completedAt time.Time) error

	// MarkFailed forces the run to FAILURE from QUEUED, DISPATCHED or
	// IN_PROGRESS regardless of the jobs counter. Used when the dispatch
	// job's retries are exhausted.
	MarkFailed(ctx context.Context, id string, completedAt time.Time) error
}

// TxRepository is a Repository that can be scoped to a database transaction.
type TxRepository interface {
	Repository
	WithTx(tx *sql.Tx) Repository
}
