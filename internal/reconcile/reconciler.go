package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/reviewflow/reviewflow/internal/challenge"
	"github.com/reviewflow/reviewflow/internal/queue"
	"github.com/reviewflow/reviewflow/internal/run"
	"github.com/reviewflow/reviewflow/pkg/integration/github"
	"github.com/reviewflow/reviewflow/pkg/metrics"
)

// ContextRecoverer reads run context markers out of a workflow job's logs.
// Satisfied by *github.Client.
type ContextRecoverer interface {
	RunContext(ctx context.Context, repo string, jobID int64) (*github.RunContext, error)
}

// Reconciler maps workflow job events onto run rows. Events are delivered
// at least once and out of order with respect to dispatch, so every
// transition re-checks row state and drops what no longer applies.
type Reconciler struct {
	runs       run.Repository
	challenges challenge.Repository
	queue      *queue.Service
	recoverer  ContextRecoverer
	bootstrap  string
	logger     *slog.Logger
	metrics    *metrics.Registry
}

// Option configures the reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// New creates a reconciler. bootstrapJobName is the workflow job whose logs
// carry the run correlation markers.
func New(runs run.Repository, challenges challenge.Repository, qs *queue.Service, recoverer ContextRecoverer, bootstrapJobName string, opts ...Option) *Reconciler {
	r := &Reconciler{
		runs:       runs,
		challenges: challenges,
		queue:      qs,
		recoverer:  recoverer,
		bootstrap:  bootstrapJobName,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle processes one webhook event. It never returns an error for events
// that merely do not apply; only infrastructure failures propagate so the
// ingress can surface them.
func (r *Reconciler) Handle(ctx context.Context, event Event) error {
	r.metrics.WebhookEvent(event.Action)

	switch event.Action {
	case ActionQueued, ActionWaiting:
		r.logger.Debug("ignoring workflow job event", "action", event.Action, "job", event.WorkflowJob.Name)
		return nil
	case ActionInProgress, ActionCompleted:
	default:
		r.drop(event, "unknown_action")
		return nil
	}

	wr, ok, err := r.matchRun(ctx, event)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if wr == nil {
		// No row carries this external run id yet. Only the bootstrap
		// job can establish the mapping, through its log markers.
		if event.WorkflowJob.Name != r.bootstrap {
			r.drop(event, "unmatched")
			return nil
		}
		return r.recoverRunContext(ctx, event)
	}

	if event.WorkflowJob.Name == r.bootstrap {
		// The bootstrap job was already accounted for during recovery.
		// Anything further from it is replay.
		r.logger.Debug("bootstrap job event on recovered run, dropping",
			"run_id", wr.ID, "external_run_id", event.WorkflowJob.RunID)
		return nil
	}

	switch event.Action {
	case ActionInProgress:
		return r.applyInProgress(ctx, wr)
	default:
		return r.applyCompleted(ctx, wr, event)
	}
}

// matchRun resolves the event's external run id to at most one active run.
// The bool result is false when the event was consumed as a drop.
func (r *Reconciler) matchRun(ctx context.Context, event Event) (*run.WorkflowRun, bool, error) {
	matches, err := r.runs.FindActiveByExternalRunID(ctx, event.WorkflowJob.RunID)
	if err != nil {
		return nil, false, fmt.Errorf("match run for external run %d: %w", event.WorkflowJob.RunID, err)
	}
	if len(matches) > 1 {
		r.logger.Error("multiple active runs share an external run id",
			"external_run_id", event.WorkflowJob.RunID, "count", len(matches))
		r.drop(event, "ambiguous")
		return nil, false, nil
	}
	if len(matches) == 0 {
		return nil, true, nil
	}
	return &matches[0], true, nil
}

// recoverRunContext handles the race where the bootstrap job's event arrives
// before (or instead of) the dispatch call's own bookkeeping. The job's logs
// name the run row, which lets us backfill the external run id and the jobs
// count. Unresolvable logs drop the event without touching any row.
func (r *Reconciler) recoverRunContext(ctx context.Context, event Event) error {
	rc, err := r.recoverer.RunContext(ctx, event.Repository.Name, event.WorkflowJob.ID)
	if err != nil {
		r.logger.Warn("run context recovery failed",
			"repo", event.Repository.Name, "job_id", event.WorkflowJob.ID, "error", err.Error())
		r.drop(event, "unresolvable_logs")
		return nil
	}

	wr, err := r.runs.GetByID(ctx, rc.RunID)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			r.drop(event, "unknown_run")
			return nil
		}
		return fmt.Errorf("load run %s: %w", rc.RunID, err)
	}
	if wr.Status != run.StatusDispatched || wr.ExternalRunID != 0 {
		r.logger.Debug("run context already recovered, dropping",
			"run_id", wr.ID, "status", wr.Status, "external_run_id", wr.ExternalRunID)
		return nil
	}

	if err := r.runs.BackfillRunContext(ctx, wr.ID, event.WorkflowJob.RunID, rc.JobsCount); err != nil {
		if errors.Is(err, run.ErrIllegalTransition) {
			r.drop(event, "stale_recovery")
			return nil
		}
		return fmt.Errorf("backfill run %s: %w", wr.ID, err)
	}

	r.logger.Info("run context recovered from bootstrap logs",
		"run_id", wr.ID, "external_run_id", event.WorkflowJob.RunID, "jobs_count", rc.JobsCount)
	return nil
}

func (r *Reconciler) applyInProgress(ctx context.Context, wr *run.WorkflowRun) error {
	err := r.runs.MarkInProgress(ctx, wr.ID, time.Now())
	if errors.Is(err, run.ErrIllegalTransition) {
		r.logger.Debug("in_progress event on non-DISPATCHED run, dropping", "run_id", wr.ID, "status", wr.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark run %s in progress: %w", wr.ID, err)
	}
	r.metrics.RunTransition(string(run.StatusInProgress))
	r.logger.Info("run in progress", "run_id", wr.ID)
	return nil
}

// applyCompleted advances the completed-jobs counter and, on the final job,
// settles both the run row and the suspended queue job.
func (r *Reconciler) applyCompleted(ctx context.Context, wr *run.WorkflowRun, event Event) error {
	if wr.JobsCount == 0 {
		// Completed events can only be sequenced once the bootstrap
		// recovery has established the jobs count.
		r.drop(event, "no_jobs_count")
		return nil
	}

	if wr.CompletedJobs+1 < wr.JobsCount {
		err := r.runs.IncrementCompletedJobs(ctx, wr.ID)
		if err == nil {
			r.logger.Debug("workflow job completed",
				"run_id", wr.ID, "completed_jobs", wr.CompletedJobs+1, "jobs_count", wr.JobsCount)
			return nil
		}
		if !errors.Is(err, run.ErrIllegalTransition) {
			return fmt.Errorf("increment run %s: %w", wr.ID, err)
		}

		// A concurrent delivery advanced the counter between the match
		// read and this increment, so this event may now be the final
		// one. Re-read the row and re-evaluate before dropping.
		fresh, gerr := r.runs.GetByID(ctx, wr.ID)
		if gerr != nil {
			return fmt.Errorf("reload run %s: %w", wr.ID, gerr)
		}
		if fresh.Status.IsTerminal() || fresh.CompletedJobs+1 != fresh.JobsCount {
			r.drop(event, "stale_increment")
			return nil
		}
		wr = fresh
	}

	def, err := r.challenges.GetWorkflow(ctx, wr.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", wr.WorkflowID, err)
	}

	if event.WorkflowJob.Conclusion != ConclusionSuccess {
		// The run row stays non-terminal so the queue's retry can
		// re-dispatch it. Terminal FAILURE only lands once retries
		// exhaust and the operator gets the fatal signal.
		r.logger.Warn("final workflow job failed, routing through queue retry",
			"run_id", wr.ID, "conclusion", event.WorkflowJob.Conclusion)
		if err := r.queue.CompleteJob(ctx, def.QueueKey, wr.ScheduledJobID, queue.ResolutionFail); err != nil {
			if errors.Is(err, queue.ErrRetryLimitReached) {
				// Exhaustion is settled by the service's fatal
				// handler; redelivering the event cannot help.
				r.logger.Error("run retries exhausted",
					"run_id", wr.ID, "job_id", wr.ScheduledJobID)
				return nil
			}
			return fmt.Errorf("fail job %s: %w", wr.ScheduledJobID, err)
		}
		return nil
	}

	status := run.Status(strings.ToUpper(event.WorkflowJob.Conclusion))
	err = r.runs.MarkTerminal(ctx, wr.ID, status, time.Now())
	if errors.Is(err, run.ErrIllegalTransition) {
		// Replay of a terminal event already applied. Must not touch
		// the row or resolve the queue job a second time.
		r.drop(event, "terminal_replay")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark run %s terminal: %w", wr.ID, err)
	}
	r.metrics.RunTransition(string(status))

	if err := r.queue.CompleteJob(ctx, def.QueueKey, wr.ScheduledJobID, queue.ResolutionComplete); err != nil {
		return fmt.Errorf("complete job %s: %w", wr.ScheduledJobID, err)
	}

	r.logger.Info("run completed", "run_id", wr.ID, "status", string(status))
	return nil
}

func (r *Reconciler) drop(event Event, reason string) {
	r.metrics.WebhookDropped(reason)
	r.logger.Warn("dropping workflow job event",
		"action", event.Action, "job", event.WorkflowJob.Name,
		"external_run_id", event.WorkflowJob.RunID, "reason", reason)
}
