package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/reviewflow/reviewflow/internal/challenge"
	"github.com/reviewflow/reviewflow/internal/queue"
	"github.com/reviewflow/reviewflow/internal/run"
	"github.com/reviewflow/reviewflow/pkg/integration/github"
	"github.com/reviewflow/reviewflow/pkg/metrics"
)

// Runner is the GitHub surface the handler needs. Satisfied by
// *github.Client and by fakes in tests.
type Runner interface {
	EnsureRepository(ctx context.Context, name string) error
	DispatchWorkflow(ctx context.Context, repo, fileName, ref string, inputs map[string]interface{}) error
}

var _ Runner = (*github.Client)(nil)

// Handler processes dispatch jobs. It triggers the workflow on GitHub, then
// suspends until the webhook reconciler resolves the run or the job's expiry
// reclaims it.
type Handler struct {
	challenges challenge.Repository
	runs       run.Repository
	queue      *queue.Service
	runner     Runner
	logger     *slog.Logger
	metrics    *metrics.Registry
}

// Option configures the handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a dispatch job handler.
func NewHandler(challenges challenge.Repository, runs run.Repository, qs *queue.Service, runner Runner, opts ...Option) *Handler {
	h := &Handler{
		challenges: challenges,
		runs:       runs,
		queue:      qs,
		runner:     runner,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements queue.Handler. Returning an error drives the queue's
// retry path; returning nil settles the job as completed.
func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode dispatch payload: %w", err)
	}
	runID := payload.Params.AIWorkflowRunID

	wr, err := h.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if wr.Status.IsTerminal() {
		h.logger.Warn("dispatch job for settled run, dropping", "run_id", runID, "status", wr.Status)
		return nil
	}

	def, err := h.challenges.GetWorkflow(ctx, payload.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", payload.WorkflowID, err)
	}

	if err := h.runner.EnsureRepository(ctx, def.Repository); err != nil {
		h.metrics.DispatchAttempt("error")
		return fmt.Errorf("ensure repository: %w", err)
	}

	inputs := map[string]interface{}{
		"challengeId":     payload.Params.ChallengeID,
		"submissionId":    payload.Params.SubmissionID,
		"aiWorkflowId":    payload.Params.AIWorkflowID,
		"aiWorkflowRunId": runID,
	}
	if err := h.runner.DispatchWorkflow(ctx, def.Repository, def.FileName, def.Ref, inputs); err != nil {
		h.metrics.DispatchAttempt("error")
		return fmt.Errorf("dispatch workflow: %w", err)
	}
	h.metrics.DispatchAttempt("success")

	// The dispatch API returns no body, so the external run id stays
	// unknown until the bootstrap job's webhook event is reconciled.
	if err := h.runs.MarkDispatched(ctx, runID, job.ID); err != nil {
		return fmt.Errorf("mark run %s dispatched: %w", runID, err)
	}
	h.metrics.RunTransition(string(run.StatusDispatched))

	done, cancel, err := h.queue.RegisterCompletion(job.ID)
	if err != nil {
		return fmt.Errorf("register completion for job %s: %w", job.ID, err)
	}

	h.logger.Info("workflow dispatched, awaiting completion",
		"run_id", runID, "job_id", job.ID, "repo", def.Repository, "file", def.FileName)
	started := time.Now()

	select {
	case res := <-done:
		h.logger.Info("run resolved",
			"run_id", runID, "job_id", job.ID, "resolution", string(res),
			"waited", time.Since(started).String())
		if res == queue.ResolutionFail {
			return fmt.Errorf("workflow run %s reported failure", runID)
		}
		return nil

	case <-ctx.Done():
		cancel()
		h.logger.Warn("dispatch wait aborted", "run_id", runID, "job_id", job.ID, "error", ctx.Err().Error())
		return ctx.Err()
	}
}
