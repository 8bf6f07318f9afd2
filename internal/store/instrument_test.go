package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/dispatch-api/internal/domain"
)

// recorderSpy captures every attempt fed to it.
type recorderSpy struct {
	successes int
	failures  int
}

func (r *recorderSpy) RecordAttempt(success bool, latency time.Duration) {
	if success {
		r.successes++
	} else {
		r.failures++
	}
}

// scriptedTaskStore returns the configured error from every operation.
type scriptedTaskStore struct {
	err error
}

func (s *scriptedTaskStore) Create(ctx context.Context, task *domain.Task) error { return s.err }
func (s *scriptedTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return nil, s.err
}
func (s *scriptedTaskStore) FindByStatus(ctx context.Context, statuses []domain.TaskStatus, limit int) ([]*domain.Task, error) {
	return nil, s.err
}
func (s *scriptedTaskStore) FindStatusOlderThan(ctx context.Context, status domain.TaskStatus, cutoff time.Time, limit int) ([]*domain.Task, error) {
	return nil, s.err
}
func (s *scriptedTaskStore) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus domain.TaskStatus, expectedVersion int64, update StatusUpdate) (int64, error) {
	return 0, s.err
}
func (s *scriptedTaskStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	return 0, s.err
}
func (s *scriptedTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	return nil, s.err
}
func (s *scriptedTaskStore) WithTx(tx *sql.Tx) TaskStore { return s }

// scriptedTransitionStore returns the configured error from every operation.
type scriptedTransitionStore struct {
	err error
}

func (s *scriptedTransitionStore) Append(ctx context.Context, transition *domain.StatusTransition) error {
	return s.err
}
func (s *scriptedTransitionStore) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.StatusTransition, error) {
	return nil, s.err
}
func (s *scriptedTransitionStore) CommonPaths(ctx context.Context, limit int) ([]TransitionPath, error) {
	return nil, s.err
}
func (s *scriptedTransitionStore) StatsSince(ctx context.Context, since time.Time) (*WindowStats, error) {
	return nil, s.err
}
func (s *scriptedTransitionStore) WithTx(tx *sql.Tx) TransitionStore { return s }

func TestInstrumentTasksRecordsEveryOperation(t *testing.T) {
	t.Parallel()

	spy := &recorderSpy{}
	wrapped := InstrumentTasks(&scriptedTaskStore{}, spy)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, wrapped.Create(ctx, &domain.Task{ID: id}))
	_, _ = wrapped.Get(ctx, id)
	_, _ = wrapped.FindByStatus(ctx, []domain.TaskStatus{domain.StatusPending}, 10)
	_, _ = wrapped.FindStatusOlderThan(ctx, domain.StatusSubmitted, time.Now(), 10)
	_, _ = wrapped.UpdateStatus(ctx, id, domain.StatusSubmitted, 1, StatusUpdate{})
	_, _ = wrapped.IncrementRetry(ctx, id)
	_, _ = wrapped.CountByStatus(ctx)

	assert.Equal(t, 7, spy.successes)
	assert.Zero(t, spy.failures)
}

func TestInstrumentTasksClassifiesOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantSuccess bool
	}{
		{"nil is a success", nil, true},
		{"not found proves the database answered", fmt.Errorf("get: %w", ErrTaskNotFound), true},
		{"version conflict proves the database answered", fmt.Errorf("update: %w", ErrVersionConflict), true},
		{"duplicate proves the database answered", ErrDuplicate, true},
		{"invalid entity proves the database answered", ErrInvalidEntity, true},
		{"transient failure counts against the resource", fmt.Errorf("%w: deadlock", ErrTransient), false},
		{"exhaustion counts against the resource", fmt.Errorf("%w: pool dry", ErrResourceExhausted), false},
		{"unclassified failure counts against the resource", errors.New("connection reset"), false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			spy := &recorderSpy{}
			wrapped := InstrumentTasks(&scriptedTaskStore{err: tc.err}, spy)
			_, _ = wrapped.Get(context.Background(), uuid.New())

			if tc.wantSuccess {
				assert.Equal(t, 1, spy.successes)
				assert.Zero(t, spy.failures)
			} else {
				assert.Equal(t, 1, spy.failures)
				assert.Zero(t, spy.successes)
			}
		})
	}
}

func TestInstrumentTasksFollowsWithTx(t *testing.T) {
	t.Parallel()

	spy := &recorderSpy{}
	wrapped := InstrumentTasks(&scriptedTaskStore{err: ErrTransient}, spy)

	txStore := wrapped.WithTx(nil)
	_, err := txStore.UpdateStatus(context.Background(), uuid.New(), domain.StatusSubmitted, 1, StatusUpdate{})
	require.Error(t, err)

	assert.Equal(t, 1, spy.failures)
}

func TestInstrumentTransitionsRecordsEveryOperation(t *testing.T) {
	t.Parallel()

	spy := &recorderSpy{}
	wrapped := InstrumentTransitions(&scriptedTransitionStore{}, spy)
	ctx := context.Background()

	require.NoError(t, wrapped.Append(ctx, &domain.StatusTransition{}))
	_, _ = wrapped.ListByTask(ctx, uuid.New())
	_, _ = wrapped.CommonPaths(ctx, 5)
	_, _ = wrapped.StatsSince(ctx, time.Now().Add(-time.Hour))

	assert.Equal(t, 4, spy.successes)
	assert.Zero(t, spy.failures)

	failing := InstrumentTransitions(&scriptedTransitionStore{err: errors.New("down")}, spy)
	_ = failing.WithTx(nil).Append(ctx, &domain.StatusTransition{})
	assert.Equal(t, 1, spy.failures)
}
