// Package orchestrator fans a scanned submission out into one queued run
// per AI workflow configured for its challenge.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/reviewflow/reviewflow/internal/challenge"
	"github.com/reviewflow/reviewflow/internal/dispatch"
	"github.com/reviewflow/reviewflow/internal/queue"
	"github.com/reviewflow/reviewflow/internal/run"
	"github.com/reviewflow/reviewflow/pkg/metrics"
)

// Orchestrator creates run rows and enqueues dispatch jobs for a submission.
type Orchestrator struct {
	db         *sql.DB
	runs       run.Repository
	challenges challenge.Repository
	queue      *queue.Service
	enabled    bool
	logger     *slog.Logger
	metrics    *metrics.Registry
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithDB enables transaction-scoped run writes. Without a database handle
// writes go straight through the repository, which is how tests run.
func WithDB(db *sql.DB) Option {
	return func(o *Orchestrator) {
		o.db = db
	}
}

// New creates an orchestrator. When enabled is false, run rows are still
// created but stay in INIT and nothing is enqueued.
func New(runs run.Repository, challenges challenge.Repository, qs *queue.Service, enabled bool, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runs:       runs,
		challenges: challenges,
		queue:      qs,
		enabled:    enabled,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestrate creates one run per configured workflow for the submission's
// challenge and enqueues a dispatch job for each. A challenge with no
// workflows is a no-op. All rows and jobs land together or not at all.
func (o *Orchestrator) Orchestrate(ctx context.Context, submissionID string) ([]run.WorkflowRun, error) {
	sub, err := o.challenges.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load submission %s: %w", submissionID, err)
	}

	defs, err := o.challenges.ListChallengeWorkflows(ctx, sub.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("load workflows for challenge %s: %w", sub.ChallengeID, err)
	}
	if len(defs) == 0 {
		o.logger.Debug("challenge has no AI workflows", "challenge_id", sub.ChallengeID, "submission_id", submissionID)
		return nil, nil
	}

	var tx *sql.Tx
	repo := o.runs
	if o.db != nil {
		if txRepo, ok := o.runs.(run.TxRepository); ok {
			tx, err = o.db.BeginTx(ctx, nil)
			if err != nil {
				return nil, fmt.Errorf("begin orchestration tx: %w", err)
			}
			defer tx.Rollback()
			repo = txRepo.WithTx(tx)
		}
	}

	runs := make([]run.WorkflowRun, 0, len(defs))
	for _, def := range defs {
		wr := &run.WorkflowRun{
			ID:           uuid.New().String(),
			WorkflowID:   def.ID,
			SubmissionID: sub.ID,
			Status:       run.StatusInit,
		}
		if err := repo.Create(ctx, wr); err != nil {
			return nil, fmt.Errorf("create run for workflow %s: %w", def.ID, err)
		}
		o.metrics.RunCreated(def.ID)

		if !o.enabled {
			o.logger.Info("workflow dispatch disabled, run left in INIT",
				"run_id", wr.ID, "workflow_id", def.ID, "submission_id", sub.ID)
			runs = append(runs, *wr)
			continue
		}

		payload := dispatch.Payload{
			WorkflowID: def.ID,
			Params: dispatch.Params{
				ChallengeID:     sub.ChallengeID,
				SubmissionID:    sub.ID,
				AIWorkflowID:    def.ID,
				AIWorkflowRunID: wr.ID,
			},
		}
		if err := o.queue.Enqueue(ctx, def.QueueKey, wr.ID, payload); err != nil {
			return nil, fmt.Errorf("enqueue run %s on queue %s: %w", wr.ID, def.QueueKey, err)
		}

		if err := repo.MarkQueued(ctx, wr.ID); err != nil {
			return nil, fmt.Errorf("mark run %s queued: %w", wr.ID, err)
		}
		wr.Status = run.StatusQueued
		o.metrics.RunTransition(string(run.StatusQueued))

		o.logger.Info("run queued",
			"run_id", wr.ID, "workflow_id", def.ID, "queue", def.QueueKey, "submission_id", sub.ID)
		runs = append(runs, *wr)
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit orchestration tx: %w", err)
		}
	}
	return runs, nil
}
