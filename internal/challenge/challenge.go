// Package challenge holds the read models the dispatch pipeline needs:
// submissions and the AI review workflows configured per challenge.
package challenge

import (
	"context"
	"errors"
)

// WorkflowDefinition describes one AI review workflow configured for a
// challenge.
type WorkflowDefinition struct {
	ID          string `json:"id"`
	ChallengeID string `json:"challengeId"`
	QueueKey    string `json:"queueKey"`
	Repository  string `json:"repository"`
	Ref         string `json:"ref"`
	FileName    string `json:"fileName"`
}

// Submission is the slice of a submission record the pipeline reads.
type Submission struct {
	ID          string `json:"id"`
	ChallengeID string `json:"challengeId"`
	MemberID    string `json:"memberId"`
}

var (
	// ErrSubmissionNotFound indicates the submission id is unknown.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrWorkflowNotFound indicates the workflow definition id is unknown.
	ErrWorkflowNotFound = errors.New("workflow definition not found")
)

// Repository provides read access to submissions and their challenge's
// workflow configuration.
type Repository interface {
	// GetSubmission returns the submission by id.
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	// GetWorkflow returns a single workflow definition by id.
	GetWorkflow(ctx context.Context, id string) (*WorkflowDefinition, error)
	// ListChallengeWorkflows returns the AI workflows configured for a
	// challenge. An empty slice means the challenge has none, which is
	// a normal condition rather than an error.
	ListChallengeWorkflows(ctx context.Context, challengeID string) ([]WorkflowDefinition, error)
	// ListQueueKeys returns the distinct queue keys across all configured
	// workflows, so consumers know which queues to serve.
	ListQueueKeys(ctx context.Context) ([]string, error)
}
