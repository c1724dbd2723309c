package queue

import (
	"sync"
)

// completionRegistry maps job ids to single-shot resolution channels. A
// dispatch worker registers a handle before suspending; the webhook
// reconciler resolves it from a different goroutine, possibly hours later.
// Entries live only in process memory: a restart loses them and the job is
// recovered through queue expiry instead.
type completionRegistry struct {
	mu      sync.Mutex
	handles map[string]chan Resolution
}

func newCompletionRegistry() *completionRegistry {
	return &completionRegistry{
		handles: make(map[string]chan Resolution),
	}
}

// Register creates a handle for the job id. The returned channel receives
// exactly one Resolution. The cancel func removes the handle; it must be
// called on every exit path that did not consume a resolution, or the entry
// leaks and the job appears stuck.
func (r *completionRegistry) Register(jobID string) (<-chan Resolution, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[jobID]; exists {
		return nil, nil, ErrDuplicateJob
	}

	ch := make(chan Resolution, 1)
	r.handles[jobID] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handles, jobID)
	}

	return ch, cancel, nil
}

// Resolve delivers the resolution to the job's handle and removes it.
// Returns false when no handle is registered for the id.
func (r *completionRegistry) Resolve(jobID string, res Resolution) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.handles[jobID]
	if !ok {
		return false
	}
	delete(r.handles, jobID)
	ch <- res
	return true
}

// Len reports the number of outstanding handles.
func (r *completionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
