package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryEngine is an in-memory Engine for tests and local development. It
// mirrors the PostgresEngine's semantics, including singleton admission and
// expiry supervision, without durability.
type MemoryEngine struct {
	mu     sync.Mutex
	queues map[string]QueueOptions
	jobs   map[string]map[string]*Job // queue -> job id -> job
	closed bool
	now    func() time.Time
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		queues: make(map[string]QueueOptions),
		jobs:   make(map[string]map[string]*Job),
		now:    time.Now,
	}
}

// SetClock overrides the engine's clock. Test hook for expiry supervision.
func (e *MemoryEngine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// CreateQueue idempotently declares a queue.
func (e *MemoryEngine) CreateQueue(ctx context.Context, name string, opts QueueOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	e.queues[name] = opts
	if _, ok := e.jobs[name]; !ok {
		e.jobs[name] = make(map[string]*Job)
	}
	return nil
}

// Send submits a job into a declared queue.
func (e *MemoryEngine) Send(ctx context.Context, job *Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	opts, ok := e.queues[job.Queue]
	if !ok {
		return ErrQueueNotFound
	}
	if _, exists := e.jobs[job.Queue][job.ID]; exists {
		return ErrDuplicateJob
	}

	stored := *job
	stored.State = JobStateCreated
	stored.RetryCount = 0
	stored.RetryLimit = opts.RetryLimit
	stored.CreatedAt = e.now()
	e.jobs[job.Queue][job.ID] = &stored
	return nil
}

// Fetch claims up to limit jobs, honoring singleton admission.
func (e *MemoryEngine) Fetch(ctx context.Context, queue string, limit int) ([]*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if limit <= 0 {
		limit = 1
	}

	opts, ok := e.queues[queue]
	if !ok {
		return nil, ErrQueueNotFound
	}

	if opts.Policy == PolicySingleton {
		for _, job := range e.jobs[queue] {
			if job.State == JobStateActive {
				return nil, nil
			}
		}
		limit = 1
	}

	var waiting []*Job
	for _, job := range e.jobs[queue] {
		if job.State == JobStateCreated {
			waiting = append(waiting, job)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].CreatedAt.Before(waiting[j].CreatedAt) })

	if len(waiting) > limit {
		waiting = waiting[:limit]
	}

	now := e.now()
	claimed := make([]*Job, 0, len(waiting))
	for _, job := range waiting {
		job.State = JobStateActive
		started := now
		job.StartedAt = &started
		copied := *job
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

// Complete marks an active job completed.
func (e *MemoryEngine) Complete(ctx context.Context, queue, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	job, ok := e.jobs[queue][jobID]
	if !ok || job.State != JobStateActive {
		return ErrJobNotFound
	}
	job.State = JobStateCompleted
	done := e.now()
	job.CompletedAt = &done
	return nil
}

// Fail records a failed delivery, re-queueing while retries remain.
func (e *MemoryEngine) Fail(ctx context.Context, queue, jobID string, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	job, ok := e.jobs[queue][jobID]
	if !ok || job.State != JobStateActive {
		return ErrJobNotFound
	}
	if cause != nil {
		job.Error = cause.Error()
	}
	if job.RetryCount < job.RetryLimit {
		job.RetryCount++
		job.State = JobStateCreated
		job.StartedAt = nil
	} else {
		job.State = JobStateFailed
		done := e.now()
		job.CompletedAt = &done
	}
	return nil
}

// Cancel terminates a non-terminal job.
func (e *MemoryEngine) Cancel(ctx context.Context, queue, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	job, ok := e.jobs[queue][jobID]
	if !ok || job.State.IsTerminal() {
		return ErrJobNotFound
	}
	job.State = JobStateCancelled
	done := e.now()
	job.CompletedAt = &done
	return nil
}

// Resume is a no-op for the in-memory engine.
func (e *MemoryEngine) Resume(ctx context.Context, queue string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// Supervise reclaims expired active jobs.
func (e *MemoryEngine) Supervise(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	now := e.now()
	for queue, opts := range e.queues {
		for _, job := range e.jobs[queue] {
			if job.State != JobStateActive || job.StartedAt == nil {
				continue
			}
			if job.StartedAt.Add(opts.ExpireIn).After(now) {
				continue
			}
			job.Error = "expired"
			if job.RetryCount < job.RetryLimit {
				job.RetryCount++
				job.State = JobStateCreated
				job.StartedAt = nil
			} else {
				job.State = JobStateFailed
				done := now
				job.CompletedAt = &done
			}
		}
	}
	return nil
}

// Stats reports job counts by state.
func (e *MemoryEngine) Stats(ctx context.Context, queue string) (QueueStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := QueueStats{Name: queue}
	if e.closed {
		return stats, ErrEngineClosed
	}
	if _, ok := e.queues[queue]; !ok {
		return stats, ErrQueueNotFound
	}

	for _, job := range e.jobs[queue] {
		switch job.State {
		case JobStateCreated:
			stats.Created++
		case JobStateActive:
			stats.Active++
		case JobStateCompleted:
			stats.Completed++
		case JobStateFailed:
			stats.Failed++
		case JobStateCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// JobByID loads a copy of a job.
func (e *MemoryEngine) JobByID(ctx context.Context, queue, jobID string) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	job, ok := e.jobs[queue][jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

// Close marks the engine closed.
func (e *MemoryEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
