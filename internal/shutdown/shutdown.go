// Package shutdown coordinates graceful teardown of the service's
// components in a fixed order.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// HookFunc tears one component down.
type HookFunc func(ctx context.Context) error

// Hook is a named teardown step. Higher priority runs first, so ingress
// surfaces stop before the stores they depend on.
type Hook struct {
	Name     string
	Priority int
	Fn       HookFunc
}

// Manager runs registered hooks once, in priority order, when a shutdown
// signal arrives or Shutdown is called.
type Manager struct {
	mu             sync.Mutex
	hooks          []Hook
	logger         *slog.Logger
	overallTimeout time.Duration
	perHookTimeout time.Duration

	once sync.Once
	done chan struct{}
	errs []error
}

// NewManager creates a manager with the given timeouts. Zero values fall
// back to 30s overall and 10s per hook.
func NewManager(overallTimeout, perHookTimeout time.Duration, logger *slog.Logger) *Manager {
	if overallTimeout <= 0 {
		overallTimeout = 30 * time.Second
	}
	if perHookTimeout <= 0 {
		perHookTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:         logger.With("component", "shutdown"),
		overallTimeout: overallTimeout,
		perHookTimeout: perHookTimeout,
		done:           make(chan struct{}),
	}
}

// Register adds a hook.
func (m *Manager) Register(name string, priority int, fn HookFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, Hook{Name: name, Priority: priority, Fn: fn})
}

// ListenForSignals triggers shutdown on SIGINT or SIGTERM. The returned
// channel closes when shutdown completes.
func (m *Manager) ListenForSignals() <-chan struct{} {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		signal.Stop(sigCh)
		m.logger.Info("received shutdown signal", "signal", sig.String())
		m.Shutdown()
	}()

	return m.done
}

// Shutdown runs all hooks. Safe to call multiple times; only the first call
// does any work.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.overallTimeout)
		defer cancel()

		m.mu.Lock()
		hooks := make([]Hook, len(m.hooks))
		copy(hooks, m.hooks)
		m.mu.Unlock()

		sort.SliceStable(hooks, func(i, j int) bool {
			return hooks[i].Priority > hooks[j].Priority
		})

		m.logger.Info("starting graceful shutdown", "hooks", len(hooks))
		for _, hook := range hooks {
			if ctx.Err() != nil {
				m.errs = append(m.errs, fmt.Errorf("shutdown timeout exceeded before hook %s", hook.Name))
				break
			}
			if err := m.runHook(ctx, hook); err != nil {
				m.errs = append(m.errs, fmt.Errorf("hook %s: %w", hook.Name, err))
			}
		}
		m.logger.Info("graceful shutdown complete", "errors", len(m.errs))

		close(m.done)
	})
}

func (m *Manager) runHook(ctx context.Context, hook Hook) (err error) {
	ctx, cancel := context.WithTimeout(ctx, m.perHookTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	start := time.Now()
	err = hook.Fn(ctx)
	if err != nil {
		m.logger.Error("shutdown hook failed", "name", hook.Name, "error", err.Error())
		return err
	}
	m.logger.Debug("shutdown hook completed", "name", hook.Name, "duration", time.Since(start).String())
	return nil
}

// Errors returns the failures collected during shutdown.
func (m *Manager) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]error, len(m.errs))
	copy(out, m.errs)
	return out
}

// Wait blocks until shutdown completes.
func (m *Manager) Wait() {
	<-m.done
}
