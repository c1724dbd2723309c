package challenge

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory challenge repository used in tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	submissions map[string]Submission
	workflows   map[string]WorkflowDefinition
}

// NewMemoryRepository creates an empty in-memory challenge repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		submissions: make(map[string]Submission),
		workflows:   make(map[string]WorkflowDefinition),
	}
}

// AddSubmission seeds a submission.
func (r *MemoryRepository) AddSubmission(s Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions[s.ID] = s
}

// AddWorkflow seeds a workflow definition.
func (r *MemoryRepository) AddWorkflow(def WorkflowDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[def.ID] = def
}

func (r *MemoryRepository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.submissions[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) GetWorkflow(ctx context.Context, id string) (*WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return &def, nil
}

func (r *MemoryRepository) ListQueueKeys(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var keys []string
	for _, def := range r.workflows {
		if !seen[def.QueueKey] {
			seen[def.QueueKey] = true
			keys = append(keys, def.QueueKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *MemoryRepository) ListChallengeWorkflows(ctx context.Context, challengeID string) ([]WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []WorkflowDefinition
	for _, def := range r.workflows {
		if def.ChallengeID == challengeID {
			defs = append(defs, def)
		}
	}
	return defs, nil
}
