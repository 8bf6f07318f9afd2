package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// stopGrace bounds how long Stop waits for in-flight cycles before giving
// up on them.
const stopGrace = 10 * time.Second

// CycleRunner is the surface the scheduler drives: both loops and the
// consistency checker's periodic sweep satisfy it through small adapters.
type CycleRunner func(ctx context.Context)

// Scheduler owns the cron instance driving the periodic cycles. Each entry
// runs on its own cadence; cron serializes nothing across entries, the loops
// serialize themselves on their cycle mutex.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Scheduler")
	}
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.With("component", "scheduler"),
	}
}

// Add registers a cycle at a fixed interval. The base context is inherited
// by every run so process shutdown cancels in-flight cycles' blocking work.
func (s *Scheduler) Add(ctx context.Context, name string, interval time.Duration, run CycleRunner) error {
	spec := fmt.Sprintf("@every %s", interval)
	_, err := s.cron.AddFunc(spec, func() {
		run(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.logger.Info("cycle scheduled", "name", name, "interval", interval.String())
	return nil
}

// Start begins firing entries on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits up to the grace window for in-flight
// cycles to finish. Cycles still running after the grace are abandoned with
// a log line; their context is canceled by the caller's shutdown.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped, all cycles drained")
	case <-time.After(stopGrace):
		s.logger.Warn("scheduler stop grace exceeded, abandoning in-flight cycles",
			"grace", stopGrace.String())
	}
}
