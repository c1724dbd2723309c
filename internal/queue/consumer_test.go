package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForJobState(t *testing.T, engine *MemoryEngine, queue, jobID string, want JobState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := engine.JobByID(context.Background(), queue, jobID)
		require.NoError(t, err)
		if job.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := engine.JobByID(context.Background(), queue, jobID)
	t.Fatalf("job %s never reached state %s, still %s", jobID, want, job.State)
}

func TestConsume_PollLoopProcessesJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := NewMemoryEngine()
	defer engine.Close()
	svc := NewService(engine, Config{
		Enabled:      true,
		RetryLimit:   1,
		ExpireIn:     time.Hour,
		PollInterval: 5 * time.Millisecond,
	})

	var mu sync.Mutex
	var seen []string
	handler := func(ctx context.Context, job *Job) error {
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		return nil
	}

	require.NoError(t, svc.Enqueue(ctx, "scan", "run-1", nil))
	require.NoError(t, svc.Consume(ctx, []string{"scan"}, handler))

	waitForJobState(t, engine, "scan", "run-1", JobStateCompleted)

	mu.Lock()
	assert.Equal(t, []string{"run-1"}, seen)
	mu.Unlock()

	cancel()
	svc.Wait()
}

func TestConsume_HandlerErrorFailsJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := NewMemoryEngine()
	defer engine.Close()

	type fatalReport struct {
		queue string
		jobID string
		err   error
	}
	fatal := make(chan fatalReport, 1)
	svc := NewService(engine, Config{
		Enabled:      true,
		RetryLimit:   0,
		ExpireIn:     time.Hour,
		PollInterval: 5 * time.Millisecond,
	}, WithErrorHandler(func(queueName, jobID string, err error) {
		select {
		case fatal <- fatalReport{queue: queueName, jobID: jobID, err: err}:
		default:
		}
	}))

	handler := func(ctx context.Context, job *Job) error {
		return assert.AnError
	}

	require.NoError(t, svc.Enqueue(ctx, "scan", "run-1", nil))
	require.NoError(t, svc.Consume(ctx, []string{"scan"}, handler))

	waitForJobState(t, engine, "scan", "run-1", JobStateFailed)

	select {
	case report := <-fatal:
		assert.ErrorIs(t, report.err, ErrRetryLimitReached)
		assert.Equal(t, "scan", report.queue)
		assert.Equal(t, "run-1", report.jobID)
	case <-time.After(2 * time.Second):
		t.Fatal("retry exhaustion never reached the error handler")
	}

	cancel()
	svc.Wait()
}

func TestConsume_HandlerErrorRetriesWhileRetriesRemain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := NewMemoryEngine()
	defer engine.Close()
	svc := NewService(engine, Config{
		Enabled:      true,
		RetryLimit:   2,
		ExpireIn:     time.Hour,
		PollInterval: 5 * time.Millisecond,
	})

	var mu sync.Mutex
	attempts := 0
	handler := func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return assert.AnError
		}
		return nil
	}

	require.NoError(t, svc.Enqueue(ctx, "scan", "run-1", nil))
	require.NoError(t, svc.Consume(ctx, []string{"scan"}, handler))

	waitForJobState(t, engine, "scan", "run-1", JobStateCompleted)

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	cancel()
	svc.Wait()
}

func TestConsume_StopsWhenEngineCloses(t *testing.T) {
	ctx := context.Background()

	engine := NewMemoryEngine()
	svc := NewService(engine, Config{
		Enabled:      true,
		ExpireIn:     time.Hour,
		PollInterval: 5 * time.Millisecond,
	})

	require.NoError(t, svc.Consume(ctx, []string{"scan"}, func(context.Context, *Job) error {
		return nil
	}))

	require.NoError(t, engine.Close())

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not exit after engine close")
	}
}
