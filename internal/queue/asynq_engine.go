package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// taskTypeDispatch is the asynq task type all dispatch jobs share. Routing is
// by queue name, not task type.
const taskTypeDispatch = "ai_workflow:dispatch"

// AsynqEngine is a queue backend on Redis via asynq. It implements Worker:
// each queue gets its own server with concurrency 1, which is the singleton
// admission lane. Lease renewal, expiry and retry are asynq's own.
type AsynqEngine struct {
	redisOpt  asynq.RedisClientOpt
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    *slog.Logger

	mu      sync.Mutex
	opts    map[string]QueueOptions
	servers map[string]*asynq.Server
	closed  bool

	// fatal is invoked when a job exhausts its retries. Wired by the
	// service so retry exhaustion surfaces instead of being archived
	// silently.
	fatal func(queue, jobID string, err error)
}

// NewAsynqEngine creates an engine connected to Redis.
func NewAsynqEngine(redisOpt asynq.RedisClientOpt, logger *slog.Logger) *AsynqEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqEngine{
		redisOpt:  redisOpt,
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		logger:    logger,
		opts:      make(map[string]QueueOptions),
		servers:   make(map[string]*asynq.Server),
	}
}

// SetFatalHandler registers the callback for retry-exhausted jobs.
func (e *AsynqEngine) SetFatalHandler(fn func(queue, jobID string, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fatal = fn
}

// CreateQueue records the queue's options. Queues are materialized lazily by
// asynq on first send.
func (e *AsynqEngine) CreateQueue(ctx context.Context, name string, opts QueueOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.opts[name] = opts
	return nil
}

// Send enqueues a job. The job id doubles as the asynq task id, so duplicate
// sends are rejected by the engine.
func (e *AsynqEngine) Send(ctx context.Context, job *Job) error {
	e.mu.Lock()
	opts, ok := e.opts[job.Queue]
	closed := e.closed
	e.mu.Unlock()

	if closed {
		return ErrEngineClosed
	}
	if !ok {
		return ErrQueueNotFound
	}

	task := asynq.NewTask(taskTypeDispatch, job.Payload)
	_, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(job.Queue),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(opts.RetryLimit),
		asynq.Timeout(opts.ExpireIn),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Work starts a dedicated single-concurrency server for the queue. Handler
// errors drive asynq's retry policy; exhaustion is reported through the fatal
// handler.
func (e *AsynqEngine) Work(queue string, handler Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if _, running := e.servers[queue]; running {
		return nil
	}

	server := asynq.NewServer(e.redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{queue: 1},
		RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
			delay := time.Duration(1<<uint(n)) * time.Second
			if delay > 10*time.Minute {
				delay = 10 * time.Minute
			}
			return delay
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			jobID, _ := asynq.GetTaskID(ctx)
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			e.logger.Error("job delivery failed",
				"queue", queue,
				"jobID", jobID,
				"retried", retried,
				"maxRetry", maxRetry,
				"error", err.Error(),
			)
			if retried >= maxRetry {
				e.mu.Lock()
				fatal := e.fatal
				e.mu.Unlock()
				if fatal != nil {
					fatal(queue, jobID, fmt.Errorf("%w: job %s: %v", ErrRetryLimitReached, jobID, err))
				}
			}
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeDispatch, func(ctx context.Context, task *asynq.Task) error {
		job := &Job{
			Queue:   queue,
			Payload: task.Payload(),
			State:   JobStateActive,
		}
		if id, ok := asynq.GetTaskID(ctx); ok {
			job.ID = id
		}
		if n, ok := asynq.GetRetryCount(ctx); ok {
			job.RetryCount = n
		}
		if n, ok := asynq.GetMaxRetry(ctx); ok {
			job.RetryLimit = n
		}
		return handler(ctx, job)
	})

	e.servers[queue] = server
	go func() {
		if err := server.Run(mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			e.logger.Error("queue server exited", "queue", queue, "error", err.Error())
		}
	}()
	return nil
}

// Complete removes a job that is not owned by an in-process handler. Jobs
// handled in-process complete by their handler returning nil.
func (e *AsynqEngine) Complete(ctx context.Context, queue, jobID string) error {
	if err := e.inspector.DeleteTask(queue, jobID); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// Fail cancels the active delivery so asynq's retry policy takes over.
func (e *AsynqEngine) Fail(ctx context.Context, queue, jobID string, cause error) error {
	if err := e.inspector.CancelProcessing(jobID); err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

// Cancel stops the active delivery of a job.
func (e *AsynqEngine) Cancel(ctx context.Context, queue, jobID string) error {
	if err := e.inspector.CancelProcessing(jobID); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return nil
}

// Resume unpauses the queue so admission can proceed.
func (e *AsynqEngine) Resume(ctx context.Context, queue string) error {
	if err := e.inspector.UnpauseQueue(queue); err != nil {
		// Resuming a queue that was never paused is not an error here.
		e.logger.Debug("resume queue", "queue", queue, "result", err.Error())
	}
	return nil
}

// Supervise is a no-op: asynq reclaims expired leases itself.
func (e *AsynqEngine) Supervise(ctx context.Context) error {
	return nil
}

// Stats reports queue counts from the inspector.
func (e *AsynqEngine) Stats(ctx context.Context, queue string) (QueueStats, error) {
	stats := QueueStats{Name: queue}

	info, err := e.inspector.GetQueueInfo(queue)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return stats, ErrQueueNotFound
		}
		return stats, fmt.Errorf("queue stats: %w", err)
	}

	stats.Created = info.Pending + info.Retry + info.Scheduled
	stats.Active = info.Active
	stats.Completed = info.Completed
	stats.Failed = info.Archived
	return stats, nil
}

// JobByID loads a job's state, retry count and limit from the inspector.
func (e *AsynqEngine) JobByID(ctx context.Context, queue, jobID string) (*Job, error) {
	info, err := e.inspector.GetTaskInfo(queue, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get task info: %w", err)
	}

	job := &Job{
		ID:         info.ID,
		Queue:      info.Queue,
		Payload:    info.Payload,
		RetryCount: info.Retried,
		RetryLimit: info.MaxRetry,
		Error:      info.LastErr,
	}

	switch info.State {
	case asynq.TaskStateActive:
		job.State = JobStateActive
	case asynq.TaskStateCompleted:
		job.State = JobStateCompleted
	case asynq.TaskStateArchived:
		job.State = JobStateFailed
	default:
		job.State = JobStateCreated
	}
	return job, nil
}

// Close shuts down all queue servers and the client connections.
func (e *AsynqEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	for _, server := range e.servers {
		server.Shutdown()
	}
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("close client: %w", err)
	}
	if err := e.inspector.Close(); err != nil {
		return fmt.Errorf("close inspector: %w", err)
	}
	return nil
}
