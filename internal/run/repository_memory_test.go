package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createRun(t *testing.T, repo *MemoryRepository, id string) *WorkflowRun {
	t.Helper()
	wr := &WorkflowRun{
		ID:           id,
		WorkflowID:   "wf-1",
		SubmissionID: "sub-1",
		Status:       StatusInit,
	}
	require.NoError(t, repo.Create(context.Background(), wr))
	return wr
}

// advanceToDispatched walks a fresh run to DISPATCHED with a backfilled run
// context, the state webhook-driven progress operates on.
func advanceToDispatched(t *testing.T, repo *MemoryRepository, id string, externalRunID int64, jobsCount int) {
	t.Helper()
	ctx := context.Background()
	createRun(t, repo, id)
	require.NoError(t, repo.MarkQueued(ctx, id))
	require.NoError(t, repo.MarkDispatched(ctx, id, id))
	require.NoError(t, repo.BackfillRunContext(ctx, id, externalRunID, jobsCount))
}

func TestMemoryRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	createRun(t, repo, "r1")

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusInit, wr.Status)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryRepository_MarkQueued(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	createRun(t, repo, "r1")

	require.NoError(t, repo.MarkQueued(ctx, "r1"))

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, wr.Status)

	// Only INIT rows can be queued.
	assert.ErrorIs(t, repo.MarkQueued(ctx, "r1"), ErrIllegalTransition)
	assert.ErrorIs(t, repo.MarkQueued(ctx, "missing"), ErrRunNotFound)
}

func TestMemoryRepository_MarkDispatchedResetsRunContext(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	advanceToDispatched(t, repo, "r1", 42, 3)

	// Re-dispatch is legal from DISPATCHED and wipes the stale context so
	// webhook replays for the previous attempt no longer match.
	require.NoError(t, repo.MarkDispatched(ctx, "r1", "r1"))

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, wr.Status)
	assert.Zero(t, wr.ExternalRunID)
	assert.Zero(t, wr.JobsCount)
	assert.Zero(t, wr.CompletedJobs)
}

func TestMemoryRepository_MarkDispatchedGuards(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	createRun(t, repo, "r1")

	assert.ErrorIs(t, repo.MarkDispatched(ctx, "r1", "r1"), ErrIllegalTransition)

	require.NoError(t, repo.MarkQueued(ctx, "r1"))
	require.NoError(t, repo.MarkDispatched(ctx, "r1", "r1"))
	require.NoError(t, repo.MarkInProgress(ctx, "r1", time.Now()))
	require.NoError(t, repo.MarkDispatched(ctx, "r1", "r1"))
	require.NoError(t, repo.BackfillRunContext(ctx, "r1", 42, 1))
	require.NoError(t, repo.MarkTerminal(ctx, "r1", StatusSuccess, time.Now()))

	// Terminal runs can never be re-dispatched.
	assert.ErrorIs(t, repo.MarkDispatched(ctx, "r1", "r1"), ErrIllegalTransition)
}

func TestMemoryRepository_MarkDispatchedFromInProgressResetsRunContext(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	advanceToDispatched(t, repo, "r1", 42, 3)
	require.NoError(t, repo.MarkInProgress(ctx, "r1", time.Now()))

	// A retried dispatch job re-drives a run whose previous attempt
	// failed after the workflow had already started. The row returns to
	// DISPATCHED with the stale context wiped so bootstrap recovery for
	// the new attempt can land.
	require.NoError(t, repo.MarkDispatched(ctx, "r1", "r1"))

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, wr.Status)
	assert.Zero(t, wr.ExternalRunID)
	assert.Zero(t, wr.JobsCount)
	assert.Zero(t, wr.CompletedJobs)
	assert.Nil(t, wr.StartedAt)
}

func TestMemoryRepository_MarkInProgressOnlyFromDispatched(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	createRun(t, repo, "r1")

	assert.ErrorIs(t, repo.MarkInProgress(ctx, "r1", time.Now()), ErrIllegalTransition)

	require.NoError(t, repo.MarkQueued(ctx, "r1"))
	require.NoError(t, repo.MarkDispatched(ctx, "r1", "r1"))

	started := time.Now()
	require.NoError(t, repo.MarkInProgress(ctx, "r1", started))

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, wr.Status)
	require.NotNil(t, wr.StartedAt)

	// Replays of the same event are rejected by the guard.
	assert.ErrorIs(t, repo.MarkInProgress(ctx, "r1", started), ErrIllegalTransition)
}

func TestMemoryRepository_BackfillRunContext(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	createRun(t, repo, "r1")
	require.NoError(t, repo.MarkQueued(ctx, "r1"))
	require.NoError(t, repo.MarkDispatched(ctx, "r1", "r1"))

	require.NoError(t, repo.BackfillRunContext(ctx, "r1", 42, 3))

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), wr.ExternalRunID)
	assert.Equal(t, 3, wr.JobsCount)
	// The bootstrap job counts as completed as part of the recovery.
	assert.Equal(t, 1, wr.CompletedJobs)

	require.NoError(t, repo.MarkInProgress(ctx, "r1", time.Now()))
	assert.ErrorIs(t, repo.BackfillRunContext(ctx, "r1", 42, 3), ErrIllegalTransition)
}

func TestMemoryRepository_IncrementCompletedJobsBound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	advanceToDispatched(t, repo, "r1", 42, 4)

	// completed 1 -> 2, then 2 -> 3 would leave only the final job, which
	// must go through MarkTerminal instead.
	require.NoError(t, repo.IncrementCompletedJobs(ctx, "r1"))

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, wr.CompletedJobs)

	require.NoError(t, repo.IncrementCompletedJobs(ctx, "r1"))
	assert.ErrorIs(t, repo.IncrementCompletedJobs(ctx, "r1"), ErrIllegalTransition)
}

func TestMemoryRepository_MarkTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	advanceToDispatched(t, repo, "r1", 42, 3)
	require.NoError(t, repo.IncrementCompletedJobs(ctx, "r1"))

	done := time.Now()
	require.NoError(t, repo.MarkTerminal(ctx, "r1", StatusSuccess, done))

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, wr.Status)
	assert.Equal(t, 3, wr.CompletedJobs)
	require.NotNil(t, wr.CompletedAt)

	// Replaying the terminal event is rejected, which makes webhook
	// redelivery idempotent.
	assert.ErrorIs(t, repo.MarkTerminal(ctx, "r1", StatusSuccess, done), ErrIllegalTransition)
}

func TestMemoryRepository_MarkTerminalRequiresFinalJob(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	advanceToDispatched(t, repo, "r1", 42, 3)

	// Only one of three jobs completed so far.
	assert.ErrorIs(t, repo.MarkTerminal(ctx, "r1", StatusSuccess, time.Now()), ErrIllegalTransition)

	assert.ErrorIs(t, repo.MarkTerminal(ctx, "r1", StatusQueued, time.Now()), ErrIllegalTransition)
}

func TestMemoryRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	advanceToDispatched(t, repo, "r1", 42, 3)

	// Exhaustion ignores the jobs counter: two of three jobs are still
	// outstanding but the run fails anyway.
	completedAt := time.Now()
	require.NoError(t, repo.MarkFailed(ctx, "r1", completedAt))

	wr, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, wr.Status)
	require.NotNil(t, wr.CompletedAt)
	assert.True(t, wr.CompletedAt.Equal(completedAt))

	// Terminal rows stay put.
	assert.ErrorIs(t, repo.MarkFailed(ctx, "r1", time.Now()), ErrIllegalTransition)

	// INIT rows never had a queue job, so exhaustion cannot reach them.
	createRun(t, repo, "r2")
	assert.ErrorIs(t, repo.MarkFailed(ctx, "r2", time.Now()), ErrIllegalTransition)

	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", time.Now()), ErrRunNotFound)
}

func TestMemoryRepository_FindActiveByExternalRunID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	advanceToDispatched(t, repo, "r1", 42, 3)
	advanceToDispatched(t, repo, "r2", 43, 3)
	createRun(t, repo, "r3")

	runs, err := repo.FindActiveByExternalRunID(ctx, 42)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)

	runs, err = repo.FindActiveByExternalRunID(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestMemoryRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.Create(ctx, &WorkflowRun{ID: "r1", WorkflowID: "wf-1", SubmissionID: "sub-1", Status: StatusInit}))
	require.NoError(t, repo.Create(ctx, &WorkflowRun{ID: "r2", WorkflowID: "wf-2", SubmissionID: "sub-1", Status: StatusInit}))
	require.NoError(t, repo.Create(ctx, &WorkflowRun{ID: "r3", WorkflowID: "wf-1", SubmissionID: "sub-2", Status: StatusInit}))
	require.NoError(t, repo.MarkQueued(ctx, "r3"))

	runs, err := repo.List(ctx, Filter{SubmissionID: "sub-1"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = repo.List(ctx, Filter{WorkflowID: "wf-1", Status: []Status{StatusQueued}})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r3", runs[0].ID)

	runs, err = repo.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
