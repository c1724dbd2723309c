// Package run tracks AI-review workflow run attempts and their status
// machine. Rows are an audit trail: the core never deletes them.
package run

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a workflow run. Transitions are strictly
// forward; there are no cycles.
type Status string

const (
	// StatusInit means the row exists but nothing was enqueued.
	StatusInit Status = "INIT"
	// StatusQueued means a job was enqueued and no worker has claimed it.
	StatusQueued Status = "QUEUED"
	// StatusDispatched means a worker asked the external runner to start.
	StatusDispatched Status = "DISPATCHED"
	// StatusInProgress means the external system confirmed the first job
	// started.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusSuccess is the terminal success state.
	StatusSuccess Status = "SUCCESS"
	// StatusFailure is the terminal failure state.
	StatusFailure Status = "FAILURE"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInit, StatusQueued, StatusDispatched, StatusInProgress, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

// IsTerminal returns true for SUCCESS and FAILURE.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// CanTransitionTo reports whether moving to next is a legal forward step.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusInit:
		return next == StatusQueued
	case StatusQueued:
		return next == StatusDispatched || next == StatusFailure
	case StatusDispatched:
		return next == StatusDispatched || next == StatusInProgress || next.IsTerminal()
	case StatusInProgress:
		return next == StatusDispatched || next.IsTerminal()
	default:
		return false
	}
}

// WorkflowRun is one attempt to execute a workflow definition for one
// submission.
type WorkflowRun struct {
	ID            string     `json:"id"`
	WorkflowID    string     `json:"workflow_id"`
	SubmissionID  string     `json:"submission_id"`
	Status        Status     `json:"status"`
	ExternalRunID int64      `json:"external_run_id,omitempty"`
	// ScheduledJobID is the queue's job id once the run is dispatched.
	ScheduledJobID string `json:"scheduled_job_id,omitempty"`
	// JobsCount is the number of jobs the external run reports, known only
	// once the run starts.
	JobsCount     int        `json:"jobs_count"`
	CompletedJobs int        `json:"completed_jobs"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

var (
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("run: not found")
	// ErrIllegalTransition is returned when a guarded update's status
	// precondition does not hold. Callers treat it as a logged no-op.
	ErrIllegalTransition = errors.New("run: illegal status transition")
)
