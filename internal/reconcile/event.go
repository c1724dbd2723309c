// Package reconcile applies external workflow job events back onto run rows
// and resolves the suspended queue jobs waiting on them.
package reconcile

// Webhook actions for workflow job events.
const (
	ActionQueued     = "queued"
	ActionWaiting    = "waiting"
	ActionInProgress = "in_progress"
	ActionCompleted  = "completed"
)

// Conclusions a completed workflow job can carry.
const (
	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
)

// WorkflowJob is the job portion of a workflow_job webhook event.
type WorkflowJob struct {
	ID         int64  `json:"id"`
	RunID      int64  `json:"run_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// Repository identifies the repository the event originated from.
type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

// Event is a workflow_job webhook event.
type Event struct {
	Action      string      `json:"action"`
	WorkflowJob WorkflowJob `json:"workflow_job"`
	Repository  Repository  `json:"repository"`
}
