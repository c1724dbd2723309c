package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reviewflow/reviewflow/internal/api"
	"github.com/reviewflow/reviewflow/internal/api/handlers"
	"github.com/reviewflow/reviewflow/internal/api/handlers/webhooks"
	"github.com/reviewflow/reviewflow/internal/shutdown"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the queue consumer",
		Long: `Start the reviewflow service: the HTTP API (scan ingress, webhook
ingress, runs API, health and metrics) together with the workflow queue
consumer.

The consumer and the webhook ingress share the in-process completion
registry, so a dispatched job can be resolved by the webhook that reports
its workflow's outcome.`,
		Example: `  reviewflow serve
  DISPATCH_AI_REVIEW_WORKFLOWS=false reviewflow serve`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	if a.queueSvc.Enabled() {
		if err := a.startConsumer(consumerCtx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
	}

	handler := handlers.NewHandler(a.orch, a.runs, a.healthReg, a.logger)
	routerCfg := api.RouterConfig{
		MetricsHandler: a.metrics.Handler(),
		Logger:         a.logger,
	}
	if a.reconciler != nil {
		routerCfg.WebhookHandler = webhooks.NewHandler(a.reconciler, a.cfg.GitHub.WebhookSecret, a.logger)
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	server := api.NewServer(api.NewRouter(handler, routerCfg), addr)

	manager := shutdown.NewManager(0, 0, a.logger)
	manager.Register("http", 100, server.Shutdown)
	manager.Register("consumer", 90, func(ctx context.Context) error {
		stopConsumer()
		a.queueSvc.Wait()
		return nil
	})
	done := manager.ListenForSignals()

	a.logger.Info("server starting", "addr", addr, "dispatch_enabled", a.cfg.DispatchEnabled)
	if err := server.Start(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	<-done
	if errs := manager.Errors(); len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d error(s), first: %w", len(errs), errs[0])
	}
	return nil
}
