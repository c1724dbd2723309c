package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reviewflow/reviewflow/internal/shutdown"
)

func newWorkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run the queue consumer without the HTTP API",
		Long: `Run only the workflow queue consumer.

Without a local webhook ingress, suspended dispatch jobs in this process
are resolved solely through queue expiry; webhook-driven completion needs
the reconciler running in the same process (see the serve command). This
mode exists for draining queues and for operational experiments.`,
		RunE: runWork,
	}
}

func runWork(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if !a.queueSvc.Enabled() {
		a.logger.Info("AI workflow dispatch disabled, nothing to consume")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.startConsumer(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	manager := shutdown.NewManager(0, 0, a.logger)
	manager.Register("consumer", 100, func(context.Context) error {
		cancel()
		a.queueSvc.Wait()
		return nil
	})
	done := manager.ListenForSignals()

	a.logger.Info("worker started", "engine", string(a.cfg.Queue.Engine))
	<-done

	if errs := manager.Errors(); len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d error(s), first: %w", len(errs), errs[0])
	}
	return nil
}
