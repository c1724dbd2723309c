package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reviewflow/reviewflow/pkg/metrics"
)

// Config holds service-level queue settings.
type Config struct {
	// Enabled gates the entire subsystem. When false, Enqueue, CompleteJob
	// and Consume are clean no-ops.
	Enabled      bool
	RetryLimit   int
	ExpireIn     time.Duration
	PollInterval time.Duration
}

// Service is the job queue facade the orchestrator, dispatch workers and the
// webhook reconciler talk to. It owns the pending-completion registry and the
// consumer loops, delegating durability to an Engine.
type Service struct {
	engine  Engine
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Registry
	pending *completionRegistry

	// errorHandler receives fatal errors from the consumption loops, in
	// particular retry exhaustion, together with the queue and job they
	// concern. Defaults to logging at error level.
	errorHandler func(queueName, jobID string, err error)

	mu       sync.Mutex
	declared map[string]bool
	wg       sync.WaitGroup
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithErrorHandler sets the handler for fatal consumption-loop errors. The
// handler is invoked once per exhausted job with the queue name and job id.
func WithErrorHandler(fn func(queueName, jobID string, err error)) Option {
	return func(s *Service) {
		s.errorHandler = fn
	}
}

// NewService creates a queue service over the given engine.
func NewService(engine Engine, cfg Config, opts ...Option) *Service {
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	if cfg.ExpireIn <= 0 {
		cfg.ExpireIn = time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	s := &Service{
		engine:   engine,
		cfg:      cfg,
		logger:   slog.Default(),
		pending:  newCompletionRegistry(),
		declared: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.errorHandler == nil {
		s.errorHandler = func(queueName, jobID string, err error) {
			s.logger.Error("queue fatal error", "queue", queueName, "jobID", jobID, "error", err.Error())
		}
	}

	if reporter, ok := engine.(interface {
		SetFatalHandler(func(queue, jobID string, err error))
	}); ok {
		reporter.SetFatalHandler(func(queue, jobID string, err error) {
			s.metrics.JobRetryExhausted(queue)
			s.errorHandler(queue, jobID, err)
		})
	}

	return s
}

// Enabled reports whether the dispatch subsystem is on.
func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// ensureQueue lazily declares a queue with the singleton policy.
func (s *Service) ensureQueue(ctx context.Context, name string) error {
	s.mu.Lock()
	done := s.declared[name]
	s.mu.Unlock()
	if done {
		return nil
	}

	err := s.engine.CreateQueue(ctx, name, QueueOptions{
		Policy:     PolicySingleton,
		RetryLimit: s.cfg.RetryLimit,
		ExpireIn:   s.cfg.ExpireIn,
	})
	if err != nil {
		return fmt.Errorf("ensure queue %s: %w", name, err)
	}

	s.mu.Lock()
	s.declared[name] = true
	s.mu.Unlock()
	return nil
}

// Enqueue submits a job keyed by jobID into the named queue, creating the
// queue if needed. When dispatch is disabled this is a logged no-op, which is
// a supported operating mode rather than an error.
func (s *Service) Enqueue(ctx context.Context, queueName, jobID string, payload any) error {
	if !s.cfg.Enabled {
		s.logger.Info("dispatch disabled, skipping enqueue", "queue", queueName, "jobID", jobID)
		return nil
	}

	if err := s.ensureQueue(ctx, queueName); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	job := &Job{
		ID:      jobID,
		Queue:   queueName,
		Payload: body,
	}
	if err := s.engine.Send(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", queueName, jobID, err)
	}

	s.metrics.JobEnqueued(queueName)
	s.logger.Debug("job enqueued", "queue", queueName, "jobID", jobID)
	return nil
}

// RegisterCompletion stores a pending-completion handle for the job. The
// returned channel receives exactly one Resolution; cancel must be called on
// any exit path that did not consume one. Registration is logged because a
// leaked handle means a stuck job.
func (s *Service) RegisterCompletion(jobID string) (<-chan Resolution, func(), error) {
	ch, cancel, err := s.pending.Register(jobID)
	if err != nil {
		return nil, nil, err
	}

	outstanding := s.pending.Len()
	s.metrics.SetPendingCompletions(outstanding)
	s.logger.Info("completion handle registered", "jobID", jobID, "outstanding", outstanding)

	wrapped := func() {
		cancel()
		s.metrics.SetPendingCompletions(s.pending.Len())
	}
	return ch, wrapped, nil
}

// CompleteJob resolves a job with the given resolution. A registered
// pending-completion handle takes precedence: the suspended dispatch owns the
// job, so the resolution is delivered to it and the consumer loop settles the
// engine. Without a handle (the suspending process is gone), the engine is
// told directly.
func (s *Service) CompleteJob(ctx context.Context, queueName, jobID string, res Resolution) error {
	if !s.cfg.Enabled {
		s.logger.Debug("dispatch disabled, skipping completion", "queue", queueName, "jobID", jobID)
		return nil
	}

	if s.pending.Resolve(jobID, res) {
		s.metrics.SetPendingCompletions(s.pending.Len())
		s.metrics.JobResolved(queueName, string(res))
		s.logger.Info("suspended job resolved", "queue", queueName, "jobID", jobID, "resolution", res)
		return nil
	}

	// No in-process owner: settle against the engine directly.
	switch res {
	case ResolutionComplete:
		if err := s.engine.Complete(ctx, queueName, jobID); err != nil {
			return fmt.Errorf("complete %s/%s: %w", queueName, jobID, err)
		}
		s.metrics.JobResolved(queueName, string(res))
		return nil

	case ResolutionFail:
		if err := s.engine.Fail(ctx, queueName, jobID, fmt.Errorf("failed by completion signal")); err != nil {
			return fmt.Errorf("fail %s/%s: %w", queueName, jobID, err)
		}
		s.metrics.JobResolved(queueName, string(res))
		return s.afterFail(ctx, queueName, jobID)

	default:
		return fmt.Errorf("unknown resolution %q", res)
	}
}

// afterFail runs the post-failure bookkeeping: reclaim expired work, refresh
// stats, resume admission, then surface retry exhaustion as a fatal error.
// Fail has already settled the active delivery, so no separate Cancel is
// issued here; cancelling now would reject the job the engine just requeued.
func (s *Service) afterFail(ctx context.Context, queueName, jobID string) error {
	if err := s.engine.Supervise(ctx); err != nil {
		s.logger.Warn("queue supervision failed", "queue", queueName, "error", err.Error())
	}
	if stats, err := s.engine.Stats(ctx, queueName); err == nil {
		s.logger.Debug("queue stats after failure",
			"queue", queueName,
			"created", stats.Created,
			"active", stats.Active,
			"failed", stats.Failed,
		)
	}
	if err := s.engine.Resume(ctx, queueName); err != nil {
		s.logger.Warn("queue resume failed", "queue", queueName, "error", err.Error())
	}

	job, err := s.engine.JobByID(ctx, queueName, jobID)
	if err != nil {
		s.logger.Warn("retry check failed", "queue", queueName, "jobID", jobID, "error", err.Error())
		return nil
	}
	if job.State == JobStateFailed && job.RetryCount >= job.RetryLimit {
		s.metrics.JobRetryExhausted(queueName)
		err := fmt.Errorf("%w: job %s/%s after %d retries", ErrRetryLimitReached, queueName, jobID, job.RetryCount)
		s.errorHandler(queueName, jobID, err)
		return err
	}
	return nil
}

// PendingCompletions reports the number of suspended jobs in this process.
func (s *Service) PendingCompletions() int {
	return s.pending.Len()
}

// Wait blocks until all consumer loops have exited.
func (s *Service) Wait() {
	s.wg.Wait()
}
