package queue

import "context"

// Handler processes one delivered job. Returning nil completes the job;
// returning an error fails it and lets the engine's retry policy decide
// whether it is re-delivered.
type Handler func(ctx context.Context, job *Job) error

// Engine is the durable queue backend contract. Implementations must survive
// process restarts: a job claimed by a worker that dies is reclaimed after the
// queue's expiry window and re-delivered, bounded by the retry limit.
type Engine interface {
	// CreateQueue idempotently declares a queue with the given options.
	CreateQueue(ctx context.Context, name string, opts QueueOptions) error
	// Send submits a job. The job's ID and Payload must be set.
	Send(ctx context.Context, job *Job) error
	// Complete marks an active job as completed.
	Complete(ctx context.Context, queue, jobID string) error
	// Fail records a failed delivery. The job is re-queued for another
	// attempt while retries remain, and marked failed once they exhaust.
	Fail(ctx context.Context, queue, jobID string, cause error) error
	// Cancel terminates a job regardless of retries remaining.
	Cancel(ctx context.Context, queue, jobID string) error
	// Resume nudges a paused or stalled queue so admission can proceed.
	Resume(ctx context.Context, queue string) error
	// Supervise reclaims expired active jobs across all queues.
	Supervise(ctx context.Context) error
	// Stats reports a point-in-time summary of a queue.
	Stats(ctx context.Context, queue string) (QueueStats, error)
	// JobByID loads a job, including its retry count and limit.
	JobByID(ctx context.Context, queue, jobID string) (*Job, error)
	// Close releases the engine's resources. In-flight jobs are recovered
	// later through expiry.
	Close() error
}

// Fetcher is implemented by engines that support explicit fetch. The service
// drives these with a poll loop.
type Fetcher interface {
	// Fetch claims up to limit jobs from the queue, honoring the queue's
	// admission policy. Claimed jobs are active until completed or failed.
	Fetch(ctx context.Context, queue string, limit int) ([]*Job, error)
}

// Worker is implemented by engines with native push delivery. The engine
// invokes the handler once per delivered job and applies its own retry
// policy to handler errors.
type Worker interface {
	// Work registers a long-lived consumer for the queue. It returns once
	// the consumer is running; delivery happens on engine-owned goroutines.
	Work(queue string, handler Handler) error
}
