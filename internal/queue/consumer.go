package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Consume registers long-lived consumption for the named queues. Engines with
// native push delivery are subscribed directly; fetch-capable engines are
// driven by a poll loop per queue. The strategy is selected by the engine's
// capabilities, not by configuration.
//
// Handler errors fail the delivered job and are contained at the loop
// boundary; they never terminate consumption. Retry exhaustion is reported
// through the service's error handler.
func (s *Service) Consume(ctx context.Context, queueNames []string, handler Handler) error {
	if !s.cfg.Enabled {
		s.logger.Info("dispatch disabled, not starting consumers", "queues", queueNames)
		return nil
	}

	for _, name := range queueNames {
		if err := s.ensureQueue(ctx, name); err != nil {
			return err
		}
	}

	if worker, ok := s.engine.(Worker); ok {
		for _, name := range queueNames {
			if err := worker.Work(name, handler); err != nil {
				return fmt.Errorf("subscribe %s: %w", name, err)
			}
			s.logger.Info("push consumer registered", "queue", name)
		}
		return nil
	}

	fetcher, ok := s.engine.(Fetcher)
	if !ok {
		return fmt.Errorf("engine %T supports neither push nor poll consumption", s.engine)
	}

	for _, name := range queueNames {
		name := name
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.pollLoop(ctx, fetcher, name, handler)
		}()
		s.logger.Info("poll consumer started", "queue", name, "interval", s.cfg.PollInterval)
	}
	return nil
}

// pollLoop fetches and processes one job per tick until the context is done
// or the engine is closed. Errors are logged and the loop continues; it never
// dies silently.
func (s *Service) pollLoop(ctx context.Context, fetcher Fetcher, queueName string, handler Handler) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll consumer stopping", "queue", queueName)
			return
		case <-ticker.C:
			if err := s.pollOnce(ctx, fetcher, queueName, handler); err != nil {
				if errors.Is(err, ErrEngineClosed) {
					s.logger.Info("engine closed, poll consumer exiting", "queue", queueName)
					return
				}
				s.logger.Error("queue poll failed", "queue", queueName, "error", err.Error())
			}
		}
	}
}

// pollOnce reclaims expired work, fetches a batch of one, and settles the job
// according to the handler's outcome.
func (s *Service) pollOnce(ctx context.Context, fetcher Fetcher, queueName string, handler Handler) error {
	if err := s.engine.Supervise(ctx); err != nil {
		if errors.Is(err, ErrEngineClosed) {
			return err
		}
		s.logger.Warn("queue supervision failed", "queue", queueName, "error", err.Error())
	}

	jobs, err := fetcher.Fetch(ctx, queueName, 1)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		s.processJob(ctx, queueName, job, handler)
	}
	return nil
}

// processJob runs the handler for one claimed job and settles it against the
// engine. This is the loop boundary: handler errors fail the job and are
// logged here.
func (s *Service) processJob(ctx context.Context, queueName string, job *Job, handler Handler) {
	handlerErr := handler(ctx, job)
	if handlerErr == nil {
		if err := s.engine.Complete(ctx, queueName, job.ID); err != nil {
			s.logger.Error("completing job failed", "queue", queueName, "jobID", job.ID, "error", err.Error())
		}
		s.metrics.JobResolved(queueName, string(ResolutionComplete))
		return
	}

	s.logger.Error("job handler failed", "queue", queueName, "jobID", job.ID, "error", handlerErr.Error())
	if err := s.engine.Fail(ctx, queueName, job.ID, handlerErr); err != nil {
		s.logger.Error("failing job failed", "queue", queueName, "jobID", job.ID, "error", err.Error())
		return
	}
	s.metrics.JobResolved(queueName, string(ResolutionFail))

	failed, err := s.engine.JobByID(ctx, queueName, job.ID)
	if err != nil {
		s.logger.Warn("retry check failed", "queue", queueName, "jobID", job.ID, "error", err.Error())
		return
	}
	if failed.State == JobStateFailed && failed.RetryCount >= failed.RetryLimit {
		s.metrics.JobRetryExhausted(queueName)
		s.errorHandler(queueName, job.ID, fmt.Errorf("%w: job %s/%s after %d retries: %v",
			ErrRetryLimitReached, queueName, job.ID, failed.RetryCount, handlerErr))
	}
}
