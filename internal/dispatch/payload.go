// Package dispatch runs queued AI workflow jobs: it triggers the workflow
// on GitHub and waits for the webhook reconciler to report the outcome.
package dispatch

// Params identifies the submission and run a workflow job operates on.
type Params struct {
	ChallengeID     string `json:"challengeId"`
	SubmissionID    string `json:"submissionId"`
	AIWorkflowID    string `json:"aiWorkflowId"`
	AIWorkflowRunID string `json:"aiWorkflowRunId"`
}

// Payload is the queue job body produced by the orchestrator.
type Payload struct {
	WorkflowID string `json:"workflowId"`
	Params     Params `json:"params"`
}
