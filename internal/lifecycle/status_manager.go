package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/platform/logger"
	"github.com/promptops/dispatch-api/internal/store"
)

// defaultMaxCommitAttempts bounds the read-validate-write cycle before a
// version conflict surfaces as ErrConcurrentModification.
const defaultMaxCommitAttempts = 3

// transitionMode selects which legality table a commit validates against.
type transitionMode int

const (
	// modeStrict follows the adjacent-successor table. Used by the loops
	// and the default manual endpoint.
	modeStrict transitionMode = iota

	// modeRepair allows any forward move, including non-adjacent jumps.
	// Used by consistency auto-fix; regression is never allowed.
	modeRepair

	// modeOverride allows any move, including regression out of a terminal
	// state. Requires an explicit force flag on the control plane and is
	// logged at WARN with the acting operator.
	modeOverride
)

func (m transitionMode) String() string {
	switch m {
	case modeStrict:
		return "strict"
	case modeRepair:
		return "repair"
	case modeOverride:
		return "override"
	default:
		return "unknown"
	}
}

// StatusSnapshot is the read-only view returned by GetStatus. It never
// requires a network round-trip beyond the task store read.
type StatusSnapshot struct {
	TaskID         uuid.UUID         `json:"task_id"`
	Status         domain.TaskStatus `json:"status"`
	Version        int64             `json:"version"`
	RetryCount     int               `json:"retry_count"`
	SubmissionTime *time.Time        `json:"submission_time,omitempty"`
	ExecutionTime  *time.Time        `json:"execution_time,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// StatusManager validates and commits task status transitions.
type StatusManager struct {
	txn         store.Transactor
	tasks       store.TaskStore
	transitions store.TransitionStore
	maxAttempts int
	logger      *slog.Logger
}

// NewStatusManager creates a StatusManager.
func NewStatusManager(
	txn store.Transactor,
	tasks store.TaskStore,
	transitions store.TransitionStore,
	logger *slog.Logger,
) *StatusManager {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for StatusManager")
	}
	return &StatusManager{
		txn:         txn,
		tasks:       tasks,
		transitions: transitions,
		maxAttempts: defaultMaxCommitAttempts,
		logger:      logger.With(slog.String("component", "status_manager")),
	}
}

// CreateTask persists a new task in PENDING status with the given payload.
func (m *StatusManager) CreateTask(ctx context.Context, payload []byte) (*domain.Task, error) {
	task, err := domain.NewTask(payload)
	if err != nil {
		return nil, err
	}
	if err := m.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	logger.FromContextOrDefault(ctx, m.logger).Info("task created",
		"task_id", task.ID,
		"status", task.Status)
	return task, nil
}

// Transition commits a strict-mode status change and returns the resulting
// version. On version conflict the read-validate-write cycle is retried up
// to a bounded attempt count before failing with ErrConcurrentModification.
func (m *StatusManager) Transition(
	ctx context.Context,
	taskID uuid.UUID,
	target domain.TaskStatus,
	reason, actor string,
) (int64, error) {
	return m.commit(ctx, taskID, target, reason, actor, modeStrict)
}

// Repair commits a forward-only correction on behalf of the consistency
// checker. Non-adjacent jumps are allowed; regression is not.
func (m *StatusManager) Repair(
	ctx context.Context,
	taskID uuid.UUID,
	target domain.TaskStatus,
	reason, actor string,
) (int64, error) {
	return m.commit(ctx, taskID, target, reason, actor, modeRepair)
}

// Override commits a forced manual move, including regression out of a
// terminal state. Callers must have confirmed operator intent.
func (m *StatusManager) Override(
	ctx context.Context,
	taskID uuid.UUID,
	target domain.TaskStatus,
	reason, actor string,
) (int64, error) {
	return m.commit(ctx, taskID, target, reason, actor, modeOverride)
}

// GetStatus returns the current status/version snapshot for a task.
func (m *StatusManager) GetStatus(ctx context.Context, taskID uuid.UUID) (*StatusSnapshot, error) {
	task, err := m.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &StatusSnapshot{
		TaskID:         task.ID,
		Status:         task.Status,
		Version:        task.Version,
		RetryCount:     task.RetryCount,
		SubmissionTime: task.SubmissionTime,
		ExecutionTime:  task.ExecutionTime,
		LastError:      task.LastError,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
	}, nil
}

// History returns the full audit trail for a task, oldest first.
func (m *StatusManager) History(
	ctx context.Context,
	taskID uuid.UUID,
) ([]*domain.StatusTransition, error) {
	return m.transitions.ListByTask(ctx, taskID)
}

// CommonPaths returns the most frequently taken transition edges.
func (m *StatusManager) CommonPaths(ctx context.Context, limit int) ([]store.TransitionPath, error) {
	return m.transitions.CommonPaths(ctx, limit)
}

// StatusCounts returns the number of tasks currently in each status.
func (m *StatusManager) StatusCounts(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return m.tasks.CountByStatus(ctx)
}

// WindowStats counts transitions committed within the trailing window.
func (m *StatusManager) WindowStats(
	ctx context.Context,
	window time.Duration,
) (*store.WindowStats, error) {
	return m.transitions.StatsSince(ctx, time.Now().UTC().Add(-window))
}

// commit runs the bounded read-validate-write cycle for one transition.
func (m *StatusManager) commit(
	ctx context.Context,
	taskID uuid.UUID,
	target domain.TaskStatus,
	reason, actor string,
	mode transitionMode,
) (int64, error) {
	log := logger.FromContextOrDefault(ctx, m.logger)

	if !target.IsValid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, target)
	}

	var lastConflict error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		task, err := m.tasks.Get(ctx, taskID)
		if err != nil {
			return 0, err
		}

		if err := validateMode(task.Status, target, mode); err != nil {
			return 0, err
		}

		newVersion := task.Version + 1
		record := domain.NewStatusTransition(taskID, task.Status, target, reason, actor, newVersion)
		update := statusSideEffects(target, reason)

		err = m.txn.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			tasks := m.tasks
			transitions := m.transitions
			if tx != nil {
				tasks = tasks.WithTx(tx)
				transitions = transitions.WithTx(tx)
			}

			committed, err := tasks.UpdateStatus(ctx, taskID, target, task.Version, update)
			if err != nil {
				return err
			}
			record.ResultingVersion = committed
			return transitions.Append(ctx, record)
		})

		if err == nil {
			level := slog.LevelInfo
			if mode == modeOverride {
				level = slog.LevelWarn
			}
			log.Log(ctx, level, "status transition committed",
				"task_id", taskID,
				"from_status", task.Status,
				"to_status", target,
				"resulting_version", record.ResultingVersion,
				"mode", mode.String(),
				"actor", actor,
				"reason", reason)
			return record.ResultingVersion, nil
		}

		if store.IsVersionConflict(err) {
			lastConflict = err
			log.Debug("version conflict, retrying transition",
				"task_id", taskID,
				"to_status", target,
				"attempt", attempt,
				"max_attempts", m.maxAttempts)
			continue
		}

		return 0, err
	}

	return 0, fmt.Errorf("%w: task %s -> %s after %d attempts: %v",
		ErrConcurrentModification, taskID, target, m.maxAttempts, lastConflict)
}

// validateMode checks legality of from → target under the given mode.
func validateMode(from, target domain.TaskStatus, mode transitionMode) error {
	var ok bool
	switch mode {
	case modeStrict:
		ok = domain.CanTransition(from, target)
	case modeRepair:
		ok = domain.CanRepair(from, target)
	case modeOverride:
		ok = domain.CanOverride(from, target)
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s (mode %s)",
			domain.ErrIllegalTransition, from, target, mode)
	}
	return nil
}

// statusSideEffects derives the task fields written alongside a status
// change: timestamps when the task reaches SUBMITTED and EXECUTING, the
// failure reason when it reaches FAILED or ERROR.
func statusSideEffects(target domain.TaskStatus, reason string) store.StatusUpdate {
	now := time.Now().UTC()
	var update store.StatusUpdate
	switch target {
	case domain.StatusSubmitted:
		update.SubmissionTime = &now
	case domain.StatusExecuting:
		update.ExecutionTime = &now
	case domain.StatusFailed, domain.StatusError:
		update.LastError = &reason
	}
	return update
}
