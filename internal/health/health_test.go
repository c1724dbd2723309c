package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCheck struct {
	name     string
	result   CheckResult
	severity Severity
}

func (c staticCheck) Name() string                          { return c.name }
func (c staticCheck) Check(ctx context.Context) CheckResult { return c.result }
func (c staticCheck) Severity() Severity                    { return c.severity }

func TestLiveness(t *testing.T) {
	reg := NewRegistry("0.1.0")
	reg.Register(staticCheck{name: "broken", result: CheckResult{Status: StatusUnhealthy}, severity: SeverityCritical})

	// Liveness only reports the process is up; broken dependencies do not
	// flip it.
	resp := reg.Liveness(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "0.1.0", resp.Version)
}

func TestHealthAggregation(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry("0.1.0")
	reg.Register(staticCheck{name: "db", result: CheckResult{Status: StatusHealthy}, severity: SeverityCritical})
	reg.Register(staticCheck{name: "pending", result: CheckResult{Status: StatusDegraded}, severity: SeverityWarning})

	resp := reg.Health(ctx)
	assert.Equal(t, StatusDegraded, resp.Status)
	require.Len(t, resp.Checks, 2)

	reg.Register(staticCheck{name: "redis", result: CheckResult{Status: StatusUnhealthy}, severity: SeverityCritical})
	resp = reg.Health(ctx)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestReadinessRunsCriticalChecksOnly(t *testing.T) {
	ctx := context.Background()

	reg := NewRegistry("0.1.0")
	reg.Register(staticCheck{name: "db", result: CheckResult{Status: StatusHealthy}, severity: SeverityCritical})
	reg.Register(staticCheck{name: "pending", result: CheckResult{Status: StatusDegraded}, severity: SeverityWarning})

	resp := reg.Readiness(ctx)
	assert.Equal(t, StatusHealthy, resp.Status)
	require.Len(t, resp.Checks, 1)
	assert.Contains(t, resp.Checks, "db")
}

func TestPendingCompletionsCheck(t *testing.T) {
	ctx := context.Background()
	outstanding := 0
	check := NewPendingCompletionsCheck(func() int { return outstanding }, 5)

	assert.Equal(t, SeverityWarning, check.Severity())
	assert.Equal(t, StatusHealthy, check.Check(ctx).Status)

	outstanding = 5
	result := check.Check(ctx)
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, 5, result.Details["outstanding"])
}
