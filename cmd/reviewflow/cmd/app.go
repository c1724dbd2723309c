package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/reviewflow/reviewflow/internal/challenge"
	"github.com/reviewflow/reviewflow/internal/config"
	"github.com/reviewflow/reviewflow/internal/database"
	"github.com/reviewflow/reviewflow/internal/dispatch"
	"github.com/reviewflow/reviewflow/internal/health"
	"github.com/reviewflow/reviewflow/internal/orchestrator"
	"github.com/reviewflow/reviewflow/internal/queue"
	"github.com/reviewflow/reviewflow/internal/reconcile"
	"github.com/reviewflow/reviewflow/internal/run"
	ghclient "github.com/reviewflow/reviewflow/pkg/integration/github"
	"github.com/reviewflow/reviewflow/pkg/logging"
	"github.com/reviewflow/reviewflow/pkg/metrics"
)

// app holds the wired components shared by the serve and work commands.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Registry

	db          *sql.DB
	redisClient redis.UniversalClient

	queueSvc   *queue.Service
	orch       *orchestrator.Orchestrator
	runs       *run.SQLRepository
	challenges challenge.Repository
	runner     *ghclient.Client
	handler    *dispatch.Handler
	reconciler *reconcile.Reconciler
	healthReg  *health.Registry
}

// buildApp wires the application from environment configuration. Components
// that are only meaningful with dispatch enabled (GitHub client, Redis,
// queue engine) stay nil when the feature flag is off.
func buildApp() (*app, error) {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logCfg := logging.FromEnv()
	if verbose {
		logCfg.Level = "debug"
	}
	logger := logging.New(logCfg)
	slog.SetDefault(logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRegistry(metrics.DefaultConfig()),
	}

	db, err := database.Connect(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db
	a.runs = run.NewSQLRepository(db)
	a.healthReg = health.NewRegistry(Version)
	a.healthReg.Register(health.NewDatabaseCheck(db))

	sqlChallenges := challenge.NewSQLRepository(db)
	a.challenges = sqlChallenges

	if !cfg.DispatchEnabled {
		logger.Info("AI workflow dispatch disabled, running in audit-only mode")
		a.queueSvc = queue.NewService(queue.NewMemoryEngine(), queue.Config{Enabled: false},
			queue.WithLogger(logger))
		a.buildOrchestratorAndAPI()
		return a, nil
	}

	a.redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.healthReg.Register(health.NewRedisCheck(a.redisClient))
	a.challenges = challenge.NewCachedRepository(sqlChallenges, a.redisClient, 5*time.Minute, logger)

	var engine queue.Engine
	switch cfg.Queue.Engine {
	case config.EngineAsynq:
		engine = queue.NewAsynqEngine(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
	default:
		engine = queue.NewPostgresEngine(db)
	}

	a.queueSvc = queue.NewService(engine, queue.Config{
		Enabled:      true,
		RetryLimit:   cfg.Queue.RetryLimit,
		ExpireIn:     cfg.Queue.ExpireIn,
		PollInterval: cfg.Queue.PollInterval,
	}, queue.WithLogger(logger), queue.WithMetrics(a.metrics),
		queue.WithErrorHandler(a.onRetryExhausted))
	a.healthReg.Register(health.NewPendingCompletionsCheck(a.queueSvc.PendingCompletions, 100))

	runner, err := ghclient.NewClient(ghclient.Config{
		Token:      cfg.GitHub.Token,
		Owner:      cfg.GitHub.Owner,
		DefaultRef: cfg.GitHub.DefaultRef,
	}, ghclient.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	a.runner = runner

	a.handler = dispatch.NewHandler(a.challenges, a.runs, a.queueSvc, runner,
		dispatch.WithLogger(logger), dispatch.WithMetrics(a.metrics))
	a.reconciler = reconcile.New(a.runs, a.challenges, a.queueSvc, runner,
		cfg.GitHub.BootstrapJobName,
		reconcile.WithLogger(logger), reconcile.WithMetrics(a.metrics))
	a.buildOrchestratorAndAPI()

	return a, nil
}

// onRetryExhausted settles the run whose dispatch job burned through its
// retries. Job ids are run ids, so the exhausted job maps straight to its
// run, which moves to FAILURE so the audit trail records the outcome.
func (a *app) onRetryExhausted(queueName, jobID string, err error) {
	a.logger.Error("job retries exhausted", "queue", queueName, "jobID", jobID, "error", err.Error())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if merr := a.runs.MarkFailed(ctx, jobID, time.Now()); merr != nil {
		if errors.Is(merr, run.ErrIllegalTransition) || errors.Is(merr, run.ErrRunNotFound) {
			return
		}
		a.logger.Error("marking run failed", "run_id", jobID, "error", merr.Error())
		return
	}
	a.metrics.RunTransition(string(run.StatusFailure))
}

// orchestrator is built last because it needs the queue service in place.
func (a *app) buildOrchestratorAndAPI() {
	a.orch = orchestrator.New(a.runs, a.challenges, a.queueSvc, a.cfg.DispatchEnabled,
		orchestrator.WithLogger(a.logger), orchestrator.WithMetrics(a.metrics),
		orchestrator.WithDB(a.db))
}

// startConsumer begins consuming every configured workflow queue.
func (a *app) startConsumer(ctx context.Context) error {
	keys, err := a.challenges.ListQueueKeys(ctx)
	if err != nil {
		return fmt.Errorf("list queue keys: %w", err)
	}
	if len(keys) == 0 {
		a.logger.Info("no workflow queues configured, consumer idle")
		return nil
	}
	return a.queueSvc.Consume(ctx, keys, a.handler.Handle)
}

func (a *app) close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err.Error())
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("database close failed", "error", err.Error())
		}
	}
}
