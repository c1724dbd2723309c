// Package health reports liveness and readiness of the service's
// dependencies.
package health

import (
	"context"
	"sync"
	"time"
)

// Status of a component or the service as a whole.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Severity decides whether a failing check blocks readiness.
type Severity string

const (
	// SeverityCritical checks gate the /ready endpoint.
	SeverityCritical Severity = "critical"
	// SeverityWarning checks degrade health but leave readiness intact.
	SeverityWarning Severity = "warning"
)

// CheckResult is one checker's outcome.
type CheckResult struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Response is the aggregate health report.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker reports the health of one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	Severity() Severity
}

// Registry holds the registered checkers.
type Registry struct {
	mu        sync.RWMutex
	checkers  []Checker
	startTime time.Time
	version   string
}

// NewRegistry creates a registry stamped with the service version.
func NewRegistry(version string) *Registry {
	return &Registry{
		startTime: time.Now(),
		version:   version,
	}
}

// Register adds a checker.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// Liveness only reports that the process is up.
func (r *Registry) Liveness(ctx context.Context) Response {
	return Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   r.version,
		Uptime:    time.Since(r.startTime).String(),
	}
}

// Readiness runs the critical checks only.
func (r *Registry) Readiness(ctx context.Context) Response {
	return r.run(ctx, true)
}

// Health runs every registered check.
func (r *Registry) Health(ctx context.Context) Response {
	return r.run(ctx, false)
}

func (r *Registry) run(ctx context.Context, criticalOnly bool) Response {
	r.mu.RLock()
	checkers := make([]Checker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	checks := make(map[string]CheckResult)
	overall := StatusHealthy

	for _, checker := range checkers {
		if criticalOnly && checker.Severity() != SeverityCritical {
			continue
		}

		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			start := time.Now()
			result := c.Check(ctx)
			result.Duration = time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			checks[c.Name()] = result

			switch {
			case result.Status == StatusUnhealthy && c.Severity() == SeverityCritical:
				overall = StatusUnhealthy
			case result.Status != StatusHealthy && overall == StatusHealthy:
				overall = StatusDegraded
			}
		}(checker)
	}
	wg.Wait()

	return Response{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   r.version,
		Uptime:    time.Since(r.startTime).String(),
		Checks:    checks,
	}
}
