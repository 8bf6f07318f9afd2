package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/promptops/dispatch-api/internal/auth"
	"github.com/promptops/dispatch-api/internal/config"
	"github.com/promptops/dispatch-api/internal/consistency"
	"github.com/promptops/dispatch-api/internal/dispatch"
	"github.com/promptops/dispatch-api/internal/execution"
	"github.com/promptops/dispatch-api/internal/health"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/notify"
	"github.com/promptops/dispatch-api/internal/platform/logger"
	"github.com/promptops/dispatch-api/internal/platform/postgres"
	"github.com/promptops/dispatch-api/internal/recovery"
	"github.com/promptops/dispatch-api/internal/store"
)

// Operational defaults for the recovery actions. These are remediation
// parameters, not tuning knobs, so they are not part of the configuration
// surface.
const (
	stuckClaimMaxAge     = 10 * time.Minute
	stuckClaimBatchLimit = 100
	tempFileMaxAge       = 1 * time.Hour
	tempFilePattern      = "dispatch-*.tmp"
	loadShedWindow       = 2 * time.Minute
)

// application holds all long-lived components and their dependencies.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	manager      *lifecycle.StatusManager
	tokenService auth.TokenService

	submissionLoop *dispatch.SubmissionLoop
	pollingLoop    *dispatch.PollingLoop
	checker        *consistency.Checker
	engine         *recovery.Engine
	scheduler      *dispatch.Scheduler
	monitors       map[string]*health.Monitor
}

// newApplication wires every component of the task lifecycle system: the
// persistent stores, the status manager, the execution client, the health
// monitors, the recovery engine with its per-failure actions, both task
// loops, the consistency checker, and the cron scheduler driving them.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	client := execution.NewHTTPClient(execution.HTTPClientConfig{
		BaseURL:         cfg.Execution.BaseURL,
		ConnectTimeout:  time.Duration(cfg.Execution.ConnectTimeoutSeconds) * time.Second,
		ResponseTimeout: time.Duration(cfg.Execution.ResponseTimeoutSeconds) * time.Second,
	})

	dbMonitor := health.NewMonitor("database", health.ProberFunc(db.PingContext), logger)
	netMonitor := health.NewMonitor("network", health.ProberFunc(client.Ping), logger)
	monitors := map[string]*health.Monitor{
		"database": dbMonitor,
		"network":  netMonitor,
	}

	// Every store round-trip feeds the database monitor, so its passive
	// statistics track real workload, not only the active probe.
	taskStore := store.InstrumentTasks(postgres.NewPostgresTaskStore(db), dbMonitor)
	transitionStore := store.InstrumentTransitions(postgres.NewPostgresTransitionStore(db), dbMonitor)
	transactor := &store.SQLTransactor{DB: db}
	manager := lifecycle.NewStatusManager(transactor, taskStore, transitionStore, logger)

	tokenService, err := auth.NewTokenService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	engine, err := recovery.NewEngine(recovery.Config{
		MaxConcurrent:    cfg.Recovery.MaxConcurrent,
		TimeoutMs:        cfg.Recovery.TimeoutMs,
		MaxRetryAttempts: cfg.Recovery.MaxRetryAttempts,
		HistorySize:      cfg.Recovery.HistorySize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create recovery engine: %w", err)
	}

	emitter := notify.NewInMemoryEmitter(logger)
	emitter.RegisterHandler(notify.NewLogHandler(logger))

	submissionLoop := dispatch.NewSubmissionLoop(
		cfg.Submission, taskStore, manager, client, netMonitor, engine, logger)
	pollingLoop := dispatch.NewPollingLoop(
		cfg.Polling, taskStore, manager, client, netMonitor, engine, emitter, logger)
	checker := consistency.NewChecker(taskStore, transitionStore, manager, logger)

	registerRecoveryActions(engine, db, cfg, dbMonitor, netMonitor, client,
		taskStore, manager, submissionLoop, pollingLoop)

	app := &application{
		config:         cfg,
		logger:         logger,
		db:             db,
		manager:        manager,
		tokenService:   tokenService,
		submissionLoop: submissionLoop,
		pollingLoop:    pollingLoop,
		checker:        checker,
		engine:         engine,
		scheduler:      dispatch.NewScheduler(logger),
		monitors:       monitors,
	}

	if err := app.scheduleCycles(); err != nil {
		return nil, err
	}
	return app, nil
}

// registerRecoveryActions binds one remediation to each failure type.
func registerRecoveryActions(
	engine *recovery.Engine,
	db *sql.DB,
	cfg *config.Config,
	dbMonitor, netMonitor *health.Monitor,
	client *execution.HTTPClient,
	taskStore store.TaskStore,
	manager *lifecycle.StatusManager,
	loops ...recovery.Pauser,
) {
	engine.RegisterAction(recovery.FailureDatabaseConnection, &recovery.PoolResetAction{
		DB:           db,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		Monitor:      dbMonitor,
	})
	engine.RegisterAction(recovery.FailureMemoryHighUsage, &recovery.MemoryReclaimAction{})
	engine.RegisterAction(recovery.FailureNetwork, &recovery.NetworkResetAction{
		Conns:   client,
		Monitor: netMonitor,
	})
	engine.RegisterAction(recovery.FailureThreadPoolExhausted, &recovery.StuckClaimReleaseAction{
		Tasks:       taskStore,
		Manager:     manager,
		MaxClaimAge: stuckClaimMaxAge,
		BatchLimit:  stuckClaimBatchLimit,
	})
	engine.RegisterAction(recovery.FailureDiskSpaceLow, &recovery.TempFilePurgeAction{
		Dir:     os.TempDir(),
		Pattern: tempFilePattern,
		MaxAge:  tempFileMaxAge,
	})
	engine.RegisterAction(recovery.FailureSystemOverload, &recovery.LoadShedAction{
		Pausers: loops,
		ShedFor: loadShedWindow,
	})
}

// scheduleCycles registers the three periodic jobs with the cron scheduler.
func (app *application) scheduleCycles() error {
	ctx := logger.WithLogger(context.Background(), app.logger)

	err := app.scheduler.Add(ctx, "submission",
		time.Duration(app.config.Submission.IntervalSeconds)*time.Second,
		func(ctx context.Context) {
			if _, err := app.submissionLoop.RunCycle(ctx); err != nil {
				app.logger.Error("submission cycle failed", "error", err)
			}
		})
	if err != nil {
		return fmt.Errorf("failed to schedule submission loop: %w", err)
	}

	err = app.scheduler.Add(ctx, "polling",
		time.Duration(app.config.Polling.IntervalSeconds)*time.Second,
		func(ctx context.Context) {
			if _, err := app.pollingLoop.RunCycle(ctx); err != nil {
				app.logger.Error("polling cycle failed", "error", err)
			}
		})
	if err != nil {
		return fmt.Errorf("failed to schedule polling loop: %w", err)
	}

	err = app.scheduler.Add(ctx, "consistency",
		time.Duration(app.config.Consistency.IntervalSeconds)*time.Second,
		func(ctx context.Context) {
			if _, err := app.checker.PerformCheck(ctx, app.config.Consistency.AutoFix); err != nil {
				app.logger.Error("consistency check failed", "error", err)
			}
		})
	if err != nil {
		return fmt.Errorf("failed to schedule consistency checker: %w", err)
	}
	return nil
}

// cleanup releases resources during shutdown: the scheduler drains in-flight
// cycles before the database connection closes underneath them.
func (app *application) cleanup() {
	app.scheduler.Stop()
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		}
	}
	app.logger.Info("Application cleanup completed")
}
