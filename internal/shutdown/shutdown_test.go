package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsHooksInPriorityOrder(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) HookFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	m.Register("database", 10, record("database"))
	m.Register("http", 100, record("http"))
	m.Register("consumer", 90, record("consumer"))

	m.Shutdown()

	assert.Equal(t, []string{"http", "consumer", "database"}, order)
	assert.Empty(t, m.Errors())
}

func TestShutdown_RunsOnce(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil)

	calls := 0
	m.Register("once", 0, func(ctx context.Context) error {
		calls++
		return nil
	})

	m.Shutdown()
	m.Shutdown()
	m.Wait()

	assert.Equal(t, 1, calls)
}

func TestShutdown_CollectsHookErrors(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil)

	m.Register("broken", 10, func(ctx context.Context) error {
		return assert.AnError
	})
	m.Register("fine", 5, func(ctx context.Context) error {
		return nil
	})

	m.Shutdown()

	errs := m.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], assert.AnError)
}

func TestShutdown_RecoversFromPanickingHook(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil)

	ran := false
	m.Register("panicky", 10, func(ctx context.Context) error {
		panic("boom")
	})
	m.Register("after", 5, func(ctx context.Context) error {
		ran = true
		return nil
	})

	m.Shutdown()

	assert.True(t, ran, "hooks after a panic must still run")
	require.Len(t, m.Errors(), 1)
}

func TestShutdown_PerHookTimeout(t *testing.T) {
	m := NewManager(time.Second, 20*time.Millisecond, nil)

	m.Register("slow", 10, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	start := time.Now()
	m.Shutdown()

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.Len(t, m.Errors(), 1)
	assert.ErrorIs(t, m.Errors()[0], context.DeadlineExceeded)
}
