package consistency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/mocks"
	"github.com/promptops/dispatch-api/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type checkerFixture struct {
	tasks       *mocks.MockTaskStore
	transitions *mocks.MockTransitionStore
	manager     *lifecycle.StatusManager
	checker     *Checker
}

func newCheckerFixture(t *testing.T) *checkerFixture {
	t.Helper()

	tasks := mocks.NewMockTaskStore()
	transitions := mocks.NewMockTransitionStore()
	manager := lifecycle.NewStatusManager(mocks.NewMockTransactor(), tasks, transitions, testLogger())
	return &checkerFixture{
		tasks:       tasks,
		transitions: transitions,
		manager:     manager,
		checker:     NewChecker(tasks, transitions, manager, testLogger()),
	}
}

// laggingTask seeds a task whose recorded status lags the evidence: the
// submission timestamp is set but the status still reads PENDING.
func laggingTask(f *checkerFixture) *domain.Task {
	now := time.Now().UTC()
	submitted := now.Add(-5 * time.Minute)
	task := &domain.Task{
		ID:             uuid.New(),
		Status:         domain.StatusPending,
		Version:        3,
		Payload:        []byte(`{"prompt":"classify"}`),
		SubmissionTime: &submitted,
		CreatedAt:      now.Add(-10 * time.Minute),
		UpdatedAt:      submitted,
	}
	f.tasks.Seed(task)
	return task
}

func consistentTask(f *checkerFixture, status domain.TaskStatus) *domain.Task {
	now := time.Now().UTC()
	task := &domain.Task{
		ID:        uuid.New(),
		Status:    status,
		Version:   1,
		Payload:   []byte(`{"prompt":"ok"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.tasks.Seed(task)
	return task
}

func TestPerformCheck(t *testing.T) {
	t.Parallel()

	t.Run("consistent tasks produce no issues", func(t *testing.T) {
		t.Parallel()

		f := newCheckerFixture(t)
		consistentTask(f, domain.StatusPending)
		consistentTask(f, domain.StatusSubmissionStarted)

		result, err := f.checker.PerformCheck(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, 2, result.TotalChecked)
		assert.Equal(t, 0, result.InconsistenciesFound)
		assert.Empty(t, result.Issues)
		assert.Empty(t, result.Errors)
	})

	t.Run("terminal tasks are outside the sweep", func(t *testing.T) {
		t.Parallel()

		f := newCheckerFixture(t)
		consistentTask(f, domain.StatusCompleted)
		consistentTask(f, domain.StatusFailed)
		consistentTask(f, domain.StatusError)

		result, err := f.checker.PerformCheck(context.Background(), false)
		require.NoError(t, err)
		assert.Equal(t, 0, result.TotalChecked)
	})

	t.Run("timestamp evidence flags a lagging status", func(t *testing.T) {
		t.Parallel()

		f := newCheckerFixture(t)
		task := laggingTask(f)

		result, err := f.checker.PerformCheck(context.Background(), false)
		require.NoError(t, err)
		require.Len(t, result.Issues, 1)
		issue := result.Issues[0]
		assert.Equal(t, task.ID, issue.TaskID)
		assert.Equal(t, domain.StatusPending, issue.ActualStatus)
		assert.Equal(t, domain.StatusSubmitted, issue.ExpectedStatus)
		assert.False(t, issue.AutoFixed)
	})

	t.Run("audit trail evidence flags a lagging status", func(t *testing.T) {
		t.Parallel()

		f := newCheckerFixture(t)
		task := consistentTask(f, domain.StatusSubmitted)
		require.NoError(t, f.transitions.Append(context.Background(),
			domain.NewStatusTransition(task.ID, domain.StatusSubmitted, domain.StatusExecuting,
				"execution started", "polling-loop", 2)))

		result, err := f.checker.PerformCheck(context.Background(), false)
		require.NoError(t, err)
		require.Len(t, result.Issues, 1)
		assert.Equal(t, domain.StatusExecuting, result.Issues[0].ExpectedStatus)
	})

	t.Run("terminal audit evidence wins over rank", func(t *testing.T) {
		t.Parallel()

		f := newCheckerFixture(t)
		task := laggingTask(f)
		require.NoError(t, f.transitions.Append(context.Background(),
			domain.NewStatusTransition(task.ID, domain.StatusExecuting, domain.StatusCompleted,
				"execution succeeded", "polling-loop", 5)))

		result, err := f.checker.PerformCheck(context.Background(), false)
		require.NoError(t, err)
		require.Len(t, result.Issues, 1)
		assert.Equal(t, domain.StatusCompleted, result.Issues[0].ExpectedStatus,
			"terminal evidence beats the timestamp floor")
	})
}

// TestReadOnlyCheckIsIdempotent runs the same read-only check twice and
// verifies neither run changed anything.
func TestReadOnlyCheckIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newCheckerFixture(t)
	task := laggingTask(f)
	before := *f.tasks.Snapshot(task.ID)

	first, err := f.checker.PerformCheck(context.Background(), false)
	require.NoError(t, err)
	second, err := f.checker.PerformCheck(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, first.InconsistenciesFound, second.InconsistenciesFound)
	assert.Equal(t, before, *f.tasks.Snapshot(task.ID), "read-only check never writes")
	assert.Empty(t, f.transitions.Records())
}

func TestAutoFix(t *testing.T) {
	t.Parallel()

	t.Run("repairs the divergence through the audited path", func(t *testing.T) {
		t.Parallel()

		f := newCheckerFixture(t)
		task := laggingTask(f)

		result, err := f.checker.PerformCheck(context.Background(), true)
		require.NoError(t, err)
		require.Len(t, result.Issues, 1)
		assert.True(t, result.Issues[0].AutoFixed)
		assert.Equal(t, 1, result.AutoFixed)

		repaired := f.tasks.Snapshot(task.ID)
		assert.Equal(t, domain.StatusSubmitted, repaired.Status)
		assert.Equal(t, task.Version+1, repaired.Version)

		require.Len(t, f.transitions.Records(), 1)
		record := f.transitions.Records()[0]
		assert.Equal(t, "consistency-checker", record.Actor)
		assert.Equal(t, domain.StatusSubmitted, record.ToStatus)

		// A second sweep finds nothing left to fix.
		again, err := f.checker.PerformCheck(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, 0, again.InconsistenciesFound)
	})

	t.Run("fixes exactly the fixable and reports the rest", func(t *testing.T) {
		t.Parallel()

		f := newCheckerFixture(t)
		fixable := laggingTask(f)
		stubborn := laggingTask(f)

		// The stubborn task's version moves under the checker on every
		// attempt, so its repair keeps losing the race; the fixable one
		// goes through the store untouched.
		var stub func(ctx context.Context, id uuid.UUID, newStatus domain.TaskStatus, expectedVersion int64, update store.StatusUpdate) (int64, error)
		stub = func(ctx context.Context, id uuid.UUID, newStatus domain.TaskStatus, expectedVersion int64, update store.StatusUpdate) (int64, error) {
			if id == stubborn.ID {
				return 0, fmt.Errorf("%w: task %s moved again", store.ErrVersionConflict, id)
			}
			f.tasks.UpdateStatusFn = nil
			defer func() { f.tasks.UpdateStatusFn = stub }()
			return f.tasks.UpdateStatus(ctx, id, newStatus, expectedVersion, update)
		}
		f.tasks.UpdateStatusFn = stub

		result, err := f.checker.PerformCheck(context.Background(), true)
		require.NoError(t, err)
		assert.Equal(t, 2, result.InconsistenciesFound)
		assert.Equal(t, 1, result.AutoFixed)
		assert.Equal(t, result.InconsistenciesFound,
			result.AutoFixed+(result.InconsistenciesFound-result.AutoFixed))
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], stubborn.ID.String())

		assert.Equal(t, domain.StatusSubmitted, f.tasks.Snapshot(fixable.ID).Status)
		assert.Equal(t, domain.StatusPending, f.tasks.Snapshot(stubborn.ID).Status)
	})
}

func TestPerTaskErrorIsolation(t *testing.T) {
	t.Parallel()

	f := newCheckerFixture(t)
	broken := consistentTask(f, domain.StatusSubmitted)
	healthy := laggingTask(f)

	auditErr := errors.New("relation scan failed")
	f.transitions.ListByTaskFn = func(ctx context.Context, taskID uuid.UUID) ([]*domain.StatusTransition, error) {
		if taskID == broken.ID {
			return nil, auditErr
		}
		return nil, nil
	}

	result, err := f.checker.PerformCheck(context.Background(), false)
	require.NoError(t, err, "one broken task never aborts the sweep")
	assert.Equal(t, 2, result.TotalChecked)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], broken.ID.String())
	require.Len(t, result.Issues, 1)
	assert.Equal(t, healthy.ID, result.Issues[0].TaskID)
}
