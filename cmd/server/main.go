// Package main implements the entry point for the dispatch API server,
// which manages the lifecycle of prompt execution tasks: submission to the
// remote execution service, outcome polling, consistency checking, and
// self-healing recovery, all behind an operator control plane.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/promptops/dispatch-api/internal/config"
	"github.com/promptops/dispatch-api/internal/platform/logger"
)

func main() {
	app, err := initializeApp()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	ctx := context.Background()
	app.scheduler.Start()
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// initializeApp loads configuration, sets up logging, and wires the
// application components together.
func initializeApp() (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"submission_interval_seconds", cfg.Submission.IntervalSeconds,
		"polling_interval_seconds", cfg.Polling.IntervalSeconds,
		"consistency_interval_seconds", cfg.Consistency.IntervalSeconds)

	return newApplication(cfg, appLogger)
}
