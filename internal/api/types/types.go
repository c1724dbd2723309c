// Package types defines the request and response shapes of the HTTP API.
package types

import "time"

// Pagination defaults.
const (
	DefaultLimit    = 20
	DefaultMaxLimit = 100
)

// ScanCompleteRequest is the inbound artifact-scan result for a submission.
type ScanCompleteRequest struct {
	SubmissionID string `json:"submissionId" validate:"required"`
	IsInfected   *bool  `json:"isInfected" validate:"required"`
}

// RunResponse is the API view of a workflow run.
type RunResponse struct {
	ID            string     `json:"id"`
	WorkflowID    string     `json:"workflowId"`
	SubmissionID  string     `json:"submissionId"`
	Status        string     `json:"status"`
	ExternalRunID int64      `json:"externalRunId,omitempty"`
	JobsCount     int        `json:"jobsCount"`
	CompletedJobs int        `json:"completedJobs"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ScanCompleteResponse reports what the orchestrator did for a scan.
type ScanCompleteResponse struct {
	SubmissionID string        `json:"submissionId"`
	Skipped      bool          `json:"skipped"`
	Reason       string        `json:"reason,omitempty"`
	Runs         []RunResponse `json:"runs"`
}

// ListRunsResponse wraps a page of runs.
type ListRunsResponse struct {
	Runs   []RunResponse `json:"runs"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}
