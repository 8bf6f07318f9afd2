package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/config"
	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/execution"
	"github.com/promptops/dispatch-api/internal/health"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/recovery"
	"github.com/promptops/dispatch-api/internal/store"
)

const submissionActor = "submission-loop"

// submitTimeout bounds one dispatch call to the execution service.
const submitTimeout = 30 * time.Second

// SubmissionLoop claims PENDING tasks and hands them to the execution
// service. Every status change goes through the StatusManager, so racing
// loop instances resolve through version conflicts instead of double
// submission.
type SubmissionLoop struct {
	*loopState

	cfg     config.SubmissionConfig
	tasks   store.TaskStore
	manager *lifecycle.StatusManager
	client  execution.Client
	monitor *health.Monitor
	engine  *recovery.Engine
	logger  *slog.Logger
}

// NewSubmissionLoop assembles the submission loop. The health monitor and
// recovery engine are required; the loop's degradation policy depends on
// both.
func NewSubmissionLoop(
	cfg config.SubmissionConfig,
	tasks store.TaskStore,
	manager *lifecycle.StatusManager,
	client execution.Client,
	monitor *health.Monitor,
	engine *recovery.Engine,
	logger *slog.Logger,
) *SubmissionLoop {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SubmissionLoop")
	}
	return &SubmissionLoop{
		loopState: newLoopState("submission", cfg.RecoveryFailureThreshold, logger),
		cfg:       cfg,
		tasks:     tasks,
		manager:   manager,
		client:    client,
		monitor:   monitor,
		engine:    engine,
		logger:    logger.With("component", "submission_loop"),
	}
}

// RunCycle executes one submission pass. It is called by the cron schedule
// and by the manual trigger endpoint; both paths serialize on the cycle
// mutex.
func (l *SubmissionLoop) RunCycle(ctx context.Context) (*CycleResult, error) {
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
		l.logger.Warn("skipping submission cycle, execution service unhealthy")
		return skippedResult(startedAt, "execution service unhealthy"), nil
	}

	batch, err := l.tasks.FindByStatus(ctx, []domain.TaskStatus{domain.StatusPending}, l.cfg.BatchSize)
	if err != nil {
		if store.IsResourceExhausted(err) {
			l.escalate(ctx, l.engine, recovery.FailureDatabaseConnection,
				"connection pool exhausted while fetching pending tasks")
		}
		return nil, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	result := &CycleResult{StartedAt: startedAt}
	for _, task := range batch {
		if err := ctx.Err(); err != nil {
			break
		}
		l.submitOne(ctx, task, result)
	}

	result.DurationMs = time.Since(startedAt).Milliseconds()
	l.recordCycle(result)
	if result.Processed > 0 {
		l.logger.Info("submission cycle completed",
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
			"skipped", result.Skipped,
			"duration_ms", result.DurationMs)
	}
	return result, nil
}

// submitOne claims a single task, dispatches it, and settles the outcome.
// Each task is isolated: its failure lands in the result, never aborts the
// batch.
func (l *SubmissionLoop) submitOne(ctx context.Context, task *domain.Task, result *CycleResult) {
	// Claim first. Losing the version race means another loop instance owns
	// the task; that is expected, not an error.
	if _, err := l.manager.Transition(ctx, task.ID, domain.StatusSubmissionStarted,
		"claimed for submission", submissionActor); err != nil {
		if errors.Is(err, lifecycle.ErrConcurrentModification) ||
			errors.Is(err, domain.ErrIllegalTransition) {
			result.Skipped++
			return
		}
		result.TaskErrors = append(result.TaskErrors,
			fmt.Sprintf("%s: claim failed: %v", task.ID, err))
		return
	}
	result.Processed++

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	start := time.Now()
	err := l.client.SubmitTask(submitCtx, task.ID, task.Payload)
	cancel()
	if l.monitor != nil {
		l.monitor.RecordAttempt(err == nil, time.Since(start))
	}

	if err == nil {
		if _, err := l.manager.Transition(ctx, task.ID, domain.StatusSubmitted,
			"accepted by execution service", submissionActor); err != nil {
			result.TaskErrors = append(result.TaskErrors,
				fmt.Sprintf("%s: submitted but status update failed: %v", task.ID, err))
			return
		}
		result.Succeeded++
		return
	}

	switch {
	case execution.IsResourceExhausted(err):
		// Never retried locally: release the claim, escalate, and let the
		// backoff window give the system room to recover.
		l.releaseClaim(ctx, task.ID, "released after execution service exhaustion")
		l.escalate(ctx, l.engine, recovery.FailureNetwork, err.Error())
		result.TaskErrors = append(result.TaskErrors,
			fmt.Sprintf("%s: resource exhaustion: %v", task.ID, err))

	case execution.IsTransient(err):
		l.retryOrFail(ctx, task.ID, err, result)

	default:
		// Business rejection: the task itself is the problem.
		if _, terr := l.manager.Transition(ctx, task.ID, domain.StatusFailed,
			fmt.Sprintf("submission rejected: %v", err), submissionActor); terr != nil {
			result.TaskErrors = append(result.TaskErrors,
				fmt.Sprintf("%s: failed to mark FAILED: %v", task.ID, terr))
			return
		}
		result.Failed++
	}
}

// retryOrFail handles a transient submission failure: bump the retry count
// and release the claim for the next cycle, or mark the task ERROR once the
// budget is spent.
func (l *SubmissionLoop) retryOrFail(ctx context.Context, taskID uuid.UUID, err error, result *CycleResult) {
	retries, rerr := l.tasks.IncrementRetry(ctx, taskID)
	if rerr != nil {
		result.TaskErrors = append(result.TaskErrors,
			fmt.Sprintf("%s: retry bookkeeping failed: %v", taskID, rerr))
		return
	}

	budget := l.retryBudget()
	if retries >= budget {
		if _, terr := l.manager.Transition(ctx, taskID, domain.StatusError,
			fmt.Sprintf("submission failed after %d attempts: %v", retries, err),
			submissionActor); terr != nil {
			result.TaskErrors = append(result.TaskErrors,
				fmt.Sprintf("%s: failed to mark ERROR: %v", taskID, terr))
			return
		}
		result.Failed++
		l.logger.Warn("task exhausted submission retries",
			"task_id", taskID,
			"retries", retries,
			"error", err)
		return
	}

	l.releaseClaim(ctx, taskID, fmt.Sprintf("transient submission failure (attempt %d): %v", retries, err))
}

// retryBudget derives the per-task retry bound from the execution service's
// recent health. The monitor recommends how many retries are worth spending
// at the current success rate; the configured maximum is a hard cap.
func (l *SubmissionLoop) retryBudget() int {
	budget := l.cfg.MaxRetries
	if l.monitor != nil {
		if rec := l.monitor.RecommendedRetries(); rec < budget {
			budget = rec
		}
	}
	return budget
}

func (l *SubmissionLoop) releaseClaim(ctx context.Context, taskID uuid.UUID, reason string) {
	if _, err := l.manager.Transition(ctx, taskID, domain.StatusPending, reason, submissionActor); err != nil {
		l.logger.Warn("failed to release submission claim",
			"task_id", taskID,
			"error", err)
	}
}
