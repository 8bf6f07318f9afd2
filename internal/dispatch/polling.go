package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promptops/dispatch-api/internal/config"
	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/execution"
	"github.com/promptops/dispatch-api/internal/health"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/notify"
	"github.com/promptops/dispatch-api/internal/recovery"
	"github.com/promptops/dispatch-api/internal/store"
)

const pollingActor = "polling-loop"

// fetchTimeout bounds one outcome query to the execution service.
const fetchTimeout = 15 * time.Second

// PollingLoop tracks SUBMITTED and EXECUTING tasks to their terminal
// outcome. Execution-side failures become business FAILED outcomes, never
// escalations; only infrastructure trouble reaches the recovery engine.
type PollingLoop struct {
	*loopState

	cfg     config.PollingConfig
	tasks   store.TaskStore
	manager *lifecycle.StatusManager
	client  execution.Client
	monitor *health.Monitor
	engine  *recovery.Engine
	emitter notify.Emitter
	logger  *slog.Logger
}

// NewPollingLoop assembles the polling loop. The emitter receives an event
// for every terminal outcome the loop observes; pass nil to skip
// notifications.
func NewPollingLoop(
	cfg config.PollingConfig,
	tasks store.TaskStore,
	manager *lifecycle.StatusManager,
	client execution.Client,
	monitor *health.Monitor,
	engine *recovery.Engine,
	emitter notify.Emitter,
	logger *slog.Logger,
) *PollingLoop {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for PollingLoop")
	}
	return &PollingLoop{
		loopState: newLoopState("polling", cfg.RecoveryFailureThreshold, logger),
		cfg:       cfg,
		tasks:     tasks,
		manager:   manager,
		client:    client,
		monitor:   monitor,
		engine:    engine,
		emitter:   emitter,
		logger:    logger.With("component", "polling_loop"),
	}
}

// RunCycle executes one polling pass over the in-flight batch.
func (l *PollingLoop) RunCycle(ctx context.Context) (*CycleResult, error) {
	startedAt := time.Now().UTC()

	if !l.Enabled() {
		return skippedResult(startedAt, "loop disabled"), nil
	}
	if l.paused() {
		return skippedResult(startedAt, "loop paused for recovery backoff"), nil
	}

	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	if l.monitor != nil && !l.monitor.IsHealthy() {
		l.logger.Warn("skipping polling cycle, execution service unhealthy")
		return skippedResult(startedAt, "execution service unhealthy"), nil
	}

	batch, err := l.tasks.FindByStatus(ctx,
		[]domain.TaskStatus{domain.StatusSubmitted, domain.StatusExecuting}, l.cfg.BatchSize)
	if err != nil {
		if store.IsResourceExhausted(err) {
			l.escalate(ctx, l.engine, recovery.FailureDatabaseConnection,
				"connection pool exhausted while fetching in-flight tasks")
		}
		return nil, fmt.Errorf("failed to fetch in-flight tasks: %w", err)
	}

	result := &CycleResult{StartedAt: startedAt}
	staleCutoff := startedAt.Add(-time.Duration(l.cfg.StalenessMinutes) * time.Minute)
	for _, task := range batch {
		if err := ctx.Err(); err != nil {
			break
		}
		if l.flagIfStale(task, staleCutoff) {
			result.StaleCount++
		}
		l.pollOne(ctx, task, result)
	}

	result.DurationMs = time.Since(startedAt).Milliseconds()
	l.recordCycle(result)
	if result.Processed > 0 || result.StaleCount > 0 {
		l.logger.Info("polling cycle completed",
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
			"stale", result.StaleCount,
			"duration_ms", result.DurationMs)
	}
	return result, nil
}

// flagIfStale counts and logs a task that has been in flight past the
// staleness threshold. Flagging never terminates the task; the consistency
// checker adjudicates from store ground truth.
func (l *PollingLoop) flagIfStale(task *domain.Task, cutoff time.Time) bool {
	ref := task.UpdatedAt
	if task.ExecutionTime != nil {
		ref = *task.ExecutionTime
	} else if task.SubmissionTime != nil {
		ref = *task.SubmissionTime
	}
	if !ref.Before(cutoff) {
		return false
	}
	l.logger.Warn("task in flight past staleness threshold",
		"task_id", task.ID,
		"status", task.Status,
		"in_flight_since", ref.UTC().Format(time.RFC3339),
		"threshold_minutes", l.cfg.StalenessMinutes)
	return true
}

// pollOne fetches one task's outcome and advances its status. Per-task
// failures land in the result and never abort the batch.
func (l *PollingLoop) pollOne(ctx context.Context, task *domain.Task, result *CycleResult) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	start := time.Now()
	outcome, err := l.client.FetchOutcome(fetchCtx, task.ID)
	cancel()
	if l.monitor != nil {
		l.monitor.RecordAttempt(err == nil || errors.Is(err, execution.ErrTaskUnknown), time.Since(start))
	}

	if err != nil {
		switch {
		case errors.Is(err, execution.ErrTaskUnknown):
			// The execution service has no record of the task. Leave it for
			// the consistency checker rather than guessing an outcome here.
			l.logger.Warn("execution service does not know task",
				"task_id", task.ID,
				"status", task.Status)
			result.Skipped++
		case execution.IsResourceExhausted(err):
			l.escalate(ctx, l.engine, recovery.FailureNetwork, err.Error())
			result.TaskErrors = append(result.TaskErrors,
				fmt.Sprintf("%s: resource exhaustion: %v", task.ID, err))
		case execution.IsTransient(err):
			// Next cycle will retry; nothing to record on the task.
			result.Skipped++
		default:
			result.TaskErrors = append(result.TaskErrors,
				fmt.Sprintf("%s: outcome fetch failed: %v", task.ID, err))
		}
		return
	}

	result.Processed++
	switch outcome.State {
	case execution.StateQueued:
		// Still waiting on the execution side.

	case execution.StateRunning:
		if task.Status == domain.StatusExecuting {
			return
		}
		if _, err := l.manager.Transition(ctx, task.ID, domain.StatusExecuting,
			"execution started", pollingActor); err != nil && !l.benignConflict(err) {
			result.TaskErrors = append(result.TaskErrors,
				fmt.Sprintf("%s: failed to mark EXECUTING: %v", task.ID, err))
		}

	case execution.StateSucceeded:
		l.settle(ctx, task, domain.StatusCompleted, "", result)

	case execution.StateFailed:
		// A failed execution is a business outcome, not an infrastructure
		// problem.
		l.settle(ctx, task, domain.StatusFailed, outcome.Error, result)
	}
}

// settle moves a task to its terminal status and emits the outcome event.
func (l *PollingLoop) settle(
	ctx context.Context,
	task *domain.Task,
	status domain.TaskStatus,
	reason string,
	result *CycleResult,
) {
	if status == domain.StatusCompleted && reason == "" {
		reason = "execution succeeded"
	}
	if _, err := l.manager.Transition(ctx, task.ID, status, reason, pollingActor); err != nil {
		if l.benignConflict(err) {
			// Another observer already recorded the terminal outcome.
			result.Skipped++
			return
		}
		result.TaskErrors = append(result.TaskErrors,
			fmt.Sprintf("%s: failed to mark %s: %v", task.ID, status, err))
		return
	}

	if status == domain.StatusCompleted {
		result.Succeeded++
	} else {
		result.Failed++
	}

	if l.emitter != nil {
		event := notify.NewOutcomeEvent(task.ID, status, reason)
		if err := l.emitter.EmitOutcome(ctx, event); err != nil {
			l.logger.Warn("outcome notification failed",
				"task_id", task.ID,
				"status", status,
				"error", err)
		}
	}
}

// benignConflict reports errors that mean another actor already moved the
// task: a lost version race or a transition that is no longer legal because
// the task advanced.
func (l *PollingLoop) benignConflict(err error) bool {
	return errors.Is(err, lifecycle.ErrConcurrentModification) ||
		errors.Is(err, domain.ErrIllegalTransition)
}
