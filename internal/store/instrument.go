package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
)

// AttemptRecorder receives the outcome and latency of every store
// round-trip. The health monitor for the database resource implements it.
type AttemptRecorder interface {
	RecordAttempt(success bool, latency time.Duration)
}

// InstrumentTasks wraps a TaskStore so every operation feeds the recorder.
// The wrapper follows WithTx, so writes inside a transaction are recorded
// the same as direct calls.
func InstrumentTasks(inner TaskStore, recorder AttemptRecorder) TaskStore {
	return &instrumentedTaskStore{inner: inner, recorder: recorder}
}

// InstrumentTransitions wraps a TransitionStore the same way.
func InstrumentTransitions(inner TransitionStore, recorder AttemptRecorder) TransitionStore {
	return &instrumentedTransitionStore{inner: inner, recorder: recorder}
}

// isBusinessResult reports errors that prove the database answered: the
// round-trip worked, the row just was not what the caller hoped for. These
// count as successful attempts against the resource.
func isBusinessResult(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrInvalidEntity)
}

func recordOutcome(recorder AttemptRecorder, err error, start time.Time) {
	recorder.RecordAttempt(err == nil || isBusinessResult(err), time.Since(start))
}

type instrumentedTaskStore struct {
	inner    TaskStore
	recorder AttemptRecorder
}

var _ TaskStore = (*instrumentedTaskStore)(nil)

func (s *instrumentedTaskStore) Create(ctx context.Context, task *domain.Task) error {
	start := time.Now()
	err := s.inner.Create(ctx, task)
	recordOutcome(s.recorder, err, start)
	return err
}

func (s *instrumentedTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	start := time.Now()
	task, err := s.inner.Get(ctx, id)
	recordOutcome(s.recorder, err, start)
	return task, err
}

func (s *instrumentedTaskStore) FindByStatus(
	ctx context.Context,
	statuses []domain.TaskStatus,
	limit int,
) ([]*domain.Task, error) {
	start := time.Now()
	tasks, err := s.inner.FindByStatus(ctx, statuses, limit)
	recordOutcome(s.recorder, err, start)
	return tasks, err
}

func (s *instrumentedTaskStore) FindStatusOlderThan(
	ctx context.Context,
	status domain.TaskStatus,
	cutoff time.Time,
	limit int,
) ([]*domain.Task, error) {
	start := time.Now()
	tasks, err := s.inner.FindStatusOlderThan(ctx, status, cutoff, limit)
	recordOutcome(s.recorder, err, start)
	return tasks, err
}

func (s *instrumentedTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	newStatus domain.TaskStatus,
	expectedVersion int64,
	update StatusUpdate,
) (int64, error) {
	start := time.Now()
	version, err := s.inner.UpdateStatus(ctx, id, newStatus, expectedVersion, update)
	recordOutcome(s.recorder, err, start)
	return version, err
}

func (s *instrumentedTaskStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	start := time.Now()
	count, err := s.inner.IncrementRetry(ctx, id)
	recordOutcome(s.recorder, err, start)
	return count, err
}

func (s *instrumentedTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	start := time.Now()
	counts, err := s.inner.CountByStatus(ctx)
	recordOutcome(s.recorder, err, start)
	return counts, err
}

func (s *instrumentedTaskStore) WithTx(tx *sql.Tx) TaskStore {
	return &instrumentedTaskStore{inner: s.inner.WithTx(tx), recorder: s.recorder}
}

type instrumentedTransitionStore struct {
	inner    TransitionStore
	recorder AttemptRecorder
}

var _ TransitionStore = (*instrumentedTransitionStore)(nil)

func (s *instrumentedTransitionStore) Append(ctx context.Context, transition *domain.StatusTransition) error {
	start := time.Now()
	err := s.inner.Append(ctx, transition)
	recordOutcome(s.recorder, err, start)
	return err
}

func (s *instrumentedTransitionStore) ListByTask(
	ctx context.Context,
	taskID uuid.UUID,
) ([]*domain.StatusTransition, error) {
	start := time.Now()
	records, err := s.inner.ListByTask(ctx, taskID)
	recordOutcome(s.recorder, err, start)
	return records, err
}

func (s *instrumentedTransitionStore) CommonPaths(ctx context.Context, limit int) ([]TransitionPath, error) {
	start := time.Now()
	paths, err := s.inner.CommonPaths(ctx, limit)
	recordOutcome(s.recorder, err, start)
	return paths, err
}

func (s *instrumentedTransitionStore) StatsSince(ctx context.Context, since time.Time) (*WindowStats, error) {
	start := time.Now()
	stats, err := s.inner.StatsSince(ctx, since)
	recordOutcome(s.recorder, err, start)
	return stats, err
}

func (s *instrumentedTransitionStore) WithTx(tx *sql.Tx) TransitionStore {
	return &instrumentedTransitionStore{inner: s.inner.WithTx(tx), recorder: s.recorder}
}
