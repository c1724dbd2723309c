// Package queue provides the durable, singleton-policy job queue that backs
// AI-review workflow dispatch. Jobs are delivered at least once, held open
// while a dispatch is suspended on an external completion signal, and retried
// a bounded number of times when they fail or expire.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// JobState represents the lifecycle state of a queued job.
type JobState string

const (
	// JobStateCreated means the job is waiting to be claimed.
	JobStateCreated JobState = "created"
	// JobStateActive means a worker holds the job.
	JobStateActive JobState = "active"
	// JobStateCompleted means the job finished successfully.
	JobStateCompleted JobState = "completed"
	// JobStateFailed means the job failed and its retries are exhausted.
	JobStateFailed JobState = "failed"
	// JobStateCancelled means the job was cancelled explicitly.
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal returns true once the job can no longer be delivered.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// Job is one unit of work owned by the queue. The ID is caller-supplied; for
// dispatch jobs it equals the workflow run id.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	State       JobState        `json:"state"`
	RetryCount  int             `json:"retry_count"`
	RetryLimit  int             `json:"retry_limit"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// QueuePolicy is the admission policy of a queue.
type QueuePolicy string

// PolicySingleton admits at most one active job per queue at a time. Jobs
// enqueued behind an active one wait their turn.
const PolicySingleton QueuePolicy = "singleton"

// QueueOptions declares a queue's policy and retry/expiry bounds.
type QueueOptions struct {
	Policy     QueuePolicy
	RetryLimit int
	ExpireIn   time.Duration
}

// QueueStats is a point-in-time summary of a queue.
type QueueStats struct {
	Name      string
	Created   int
	Active    int
	Completed int
	Failed    int
	Cancelled int
}

// Resolution is the outcome a suspended job is resolved with.
type Resolution string

const (
	// ResolutionComplete resumes the suspended job successfully.
	ResolutionComplete Resolution = "complete"
	// ResolutionFail resumes the suspended job with a failure, driving the
	// queue's retry path.
	ResolutionFail Resolution = "fail"
)

var (
	// ErrJobNotFound is returned when a job id does not exist in a queue.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrQueueNotFound is returned when a queue has not been declared.
	ErrQueueNotFound = errors.New("queue: queue not found")
	// ErrDuplicateJob is returned when a job id is enqueued twice.
	ErrDuplicateJob = errors.New("queue: duplicate job id")
	// ErrRetryLimitReached reports a job whose bounded retries are exhausted.
	// It is fatal and must reach the operator rather than being swallowed.
	ErrRetryLimitReached = errors.New("queue: retry limit reached")
	// ErrEngineClosed is returned by engine operations after Close.
	ErrEngineClosed = errors.New("queue: engine closed")
)
