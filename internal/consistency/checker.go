package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/store"
)

const checkerActor = "consistency-checker"

// Issue is one detected divergence between a task's recorded status and the
// status the stored evidence supports.
type Issue struct {
	TaskID         uuid.UUID         `json:"task_id"`
	ActualStatus   domain.TaskStatus `json:"actual_status"`
	ExpectedStatus domain.TaskStatus `json:"expected_status"`
	Detail         string            `json:"detail"`
	DetectedAt     time.Time         `json:"detected_at"`
	AutoFixed      bool              `json:"auto_fixed"`
}

// CheckResult is the immutable report of one full sweep.
type CheckResult struct {
	CheckTime            time.Time `json:"check_time"`
	CheckDurationMs      int64     `json:"check_duration_ms"`
	TotalChecked         int       `json:"total_checked"`
	InconsistenciesFound int       `json:"inconsistencies_found"`
	AutoFixed            int       `json:"auto_fixed"`
	Issues               []Issue   `json:"issues"`
	Errors               []string  `json:"errors,omitempty"`
}

// Checker re-derives expected task statuses from store ground truth and
// optionally repairs divergences.
type Checker struct {
	tasks       store.TaskStore
	transitions store.TransitionStore
	manager     *lifecycle.StatusManager
	logger      *slog.Logger
}

// NewChecker assembles a consistency checker.
func NewChecker(
	tasks store.TaskStore,
	transitions store.TransitionStore,
	manager *lifecycle.StatusManager,
	logger *slog.Logger,
) *Checker {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Checker")
	}
	return &Checker{
		tasks:       tasks,
		transitions: transitions,
		manager:     manager,
		logger:      logger.With("component", "consistency_checker"),
	}
}

// PerformCheck sweeps every non-terminal task. Per-task failures are
// aggregated into the result's error list; the sweep itself only fails when
// the initial scan cannot run. With autoFix false the check is strictly
// read-only.
func (c *Checker) PerformCheck(ctx context.Context, autoFix bool) (*CheckResult, error) {
	startedAt := time.Now().UTC()

	batch, err := c.tasks.FindByStatus(ctx, []domain.TaskStatus{
		domain.StatusPending,
		domain.StatusSubmissionStarted,
		domain.StatusSubmitted,
		domain.StatusExecuting,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to scan non-terminal tasks: %w", err)
	}

	result := &CheckResult{
		CheckTime: startedAt,
		Issues:    []Issue{},
	}
	for _, task := range batch {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sweep interrupted: %v", err))
			break
		}
		result.TotalChecked++
		c.checkOne(ctx, task, autoFix, result)
	}

	result.CheckDurationMs = time.Since(startedAt).Milliseconds()
	c.logger.Info("consistency check completed",
		"total_checked", result.TotalChecked,
		"inconsistencies", result.InconsistenciesFound,
		"auto_fixed", result.AutoFixed,
		"errors", len(result.Errors),
		"auto_fix_enabled", autoFix,
		"duration_ms", result.CheckDurationMs)
	return result, nil
}

func (c *Checker) checkOne(ctx context.Context, task *domain.Task, autoFix bool, result *CheckResult) {
	expected, detail, err := c.expectedStatus(ctx, task)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: failed to derive expected status: %v", task.ID, err))
		return
	}
	if expected == task.Status {
		return
	}

	issue := Issue{
		TaskID:         task.ID,
		ActualStatus:   task.Status,
		ExpectedStatus: expected,
		Detail:         detail,
		DetectedAt:     time.Now().UTC(),
	}
	result.InconsistenciesFound++

	c.logger.Warn("status inconsistency detected",
		"task_id", task.ID,
		"actual", task.Status,
		"expected", expected,
		"detail", detail)

	if autoFix {
		reason := fmt.Sprintf("consistency repair: %s", detail)
		if _, err := c.manager.Repair(ctx, task.ID, expected, reason, checkerActor); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: repair to %s failed: %v", task.ID, expected, err))
		} else {
			issue.AutoFixed = true
			result.AutoFixed++
		}
	}

	result.Issues = append(result.Issues, issue)
}

// expectedStatus adjudicates what the stored evidence supports for a task:
// the latest audit record and the recorded timestamps each propose a status,
// and the winner is a terminal proposal if any exists, otherwise the highest
// lifecycle rank.
func (c *Checker) expectedStatus(ctx context.Context, task *domain.Task) (domain.TaskStatus, string, error) {
	expected := task.Status
	detail := ""

	history, err := c.transitions.ListByTask(ctx, task.ID)
	if err != nil {
		return "", "", fmt.Errorf("audit trail unavailable: %w", err)
	}
	if len(history) > 0 {
		audited := history[len(history)-1].ToStatus
		if preferred(audited, expected) {
			expected = audited
			detail = fmt.Sprintf("audit trail records %s", audited)
		}
	}

	// Recorded timestamps put a floor under the status: an execution start
	// time means the task reached EXECUTING, a submission time means it
	// reached SUBMITTED.
	if task.ExecutionTime != nil && preferred(domain.StatusExecuting, expected) {
		expected = domain.StatusExecuting
		detail = "execution timestamp recorded but status lags"
	} else if task.SubmissionTime != nil && preferred(domain.StatusSubmitted, expected) {
		expected = domain.StatusSubmitted
		detail = "submission timestamp recorded but status lags"
	}

	return expected, detail, nil
}

// preferred reports whether candidate beats current under the adjudication
// rule: a terminal status always wins over a non-terminal one, otherwise the
// higher rank wins.
func preferred(candidate, current domain.TaskStatus) bool {
	if candidate.IsTerminal() != current.IsTerminal() {
		return candidate.IsTerminal()
	}
	return candidate.Rank() > current.Rank()
}
