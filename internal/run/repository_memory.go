package run

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository used in tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*WorkflowRun
}

// NewMemoryRepository creates an empty in-memory run repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string]*WorkflowRun)}
}

func (r *MemoryRepository) Create(ctx context.Context, wr *WorkflowRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	wr.CreatedAt = now
	wr.UpdatedAt = now
	if wr.Status == "" {
		wr.Status = StatusInit
	}

	clone := *wr
	r.runs[wr.ID] = &clone
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wr, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	clone := *wr
	return &clone, nil
}

func (r *MemoryRepository) List(ctx context.Context, filter Filter) ([]WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var runs []WorkflowRun
	for _, wr := range r.runs {
		if filter.SubmissionID != "" && wr.SubmissionID != filter.SubmissionID {
			continue
		}
		if filter.WorkflowID != "" && wr.WorkflowID != filter.WorkflowID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, wr.Status) {
			continue
		}
		runs = append(runs, *wr)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	limit := 100
	if filter.Limit > 0 && filter.Limit <= 1000 {
		limit = filter.Limit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(runs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(runs) {
		end = len(runs)
	}
	return runs[offset:end], nil
}

func (r *MemoryRepository) FindActiveByExternalRunID(ctx context.Context, externalRunID int64) ([]WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var runs []WorkflowRun
	for _, wr := range r.runs {
		if wr.ExternalRunID != externalRunID {
			continue
		}
		if wr.Status != StatusDispatched && wr.Status != StatusInProgress {
			continue
		}
		runs = append(runs, *wr)
	}
	return runs, nil
}

func (r *MemoryRepository) MarkQueued(ctx context.Context, id string) error {
	return r.update(id, func(wr *WorkflowRun) bool {
		if wr.Status != StatusInit {
			return false
		}
		wr.Status = StatusQueued
		return true
	})
}

func (r *MemoryRepository) MarkDispatched(ctx context.Context, id, scheduledJobID string) error {
	return r.update(id, func(wr *WorkflowRun) bool {
		if wr.Status != StatusQueued && wr.Status != StatusDispatched && wr.Status != StatusInProgress {
			return false
		}
		wr.Status = StatusDispatched
		wr.ScheduledJobID = scheduledJobID
		wr.ExternalRunID = 0
		wr.JobsCount = 0
		wr.CompletedJobs = 0
		wr.StartedAt = nil
		return true
	})
}

func (r *MemoryRepository) MarkInProgress(ctx context.Context, id string, startedAt time.Time) error {
	return r.update(id, func(wr *WorkflowRun) bool {
		if wr.Status != StatusDispatched {
			return false
		}
		wr.Status = StatusInProgress
		t := startedAt
		wr.StartedAt = &t
		return true
	})
}

func (r *MemoryRepository) BackfillRunContext(ctx context.Context, id string, externalRunID int64, jobsCount int) error {
	return r.update(id, func(wr *WorkflowRun) bool {
		if wr.Status != StatusDispatched {
			return false
		}
		wr.ExternalRunID = externalRunID
		wr.JobsCount = jobsCount
		wr.CompletedJobs++
		return true
	})
}

func (r *MemoryRepository) IncrementCompletedJobs(ctx context.Context, id string) error {
	return r.update(id, func(wr *WorkflowRun) bool {
		if wr.Status != StatusDispatched && wr.Status != StatusInProgress {
			return false
		}
		if wr.CompletedJobs+1 >= wr.JobsCount {
			return false
		}
		wr.CompletedJobs++
		return true
	})
}

func (r *MemoryRepository) MarkTerminal(ctx context.Context, id string, status Status, completedAt time.Time) error {
	if !status.IsTerminal() {
		return ErrIllegalTransition
	}
	return r.update(id, func(wr *WorkflowRun) bool {
		if wr.Status != StatusDispatched && wr.Status != StatusInProgress {
			return false
		}
		if wr.CompletedJobs+1 != wr.JobsCount {
			return false
		}
		wr.Status = status
		wr.CompletedJobs = wr.JobsCount
		t := completedAt
		wr.CompletedAt = &t
		return true
	})
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, id string, completedAt time.Time) error {
	return r.update(id, func(wr *WorkflowRun) bool {
		if wr.Status.IsTerminal() || wr.Status == StatusInit {
			return false
		}
		wr.Status = StatusFailure
		t := completedAt
		wr.CompletedAt = &t
		return true
	})
}

// update applies fn under the lock; fn returns false when the transition
// guard rejects the change.
func (r *MemoryRepository) update(id string, fn func(*WorkflowRun) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wr, ok := r.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if !fn(wr) {
		return ErrIllegalTransition
	}
	wr.UpdatedAt = time.Now()
	return nil
}

func containsStatus(statuses []Status, s Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
