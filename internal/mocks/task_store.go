package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/store"
)

// MockTaskStore implements store.TaskStore backed by an in-memory map with
// real optimistic-concurrency semantics: updates conditioned on a stale
// version fail with store.ErrVersionConflict exactly like the PostgreSQL
// implementation.
type MockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	CreateFn              func(ctx context.Context, task *domain.Task) error
	GetFn                 func(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	FindByStatusFn        func(ctx context.Context, statuses []domain.TaskStatus, limit int) ([]*domain.Task, error)
	FindStatusOlderThanFn func(ctx context.Context, status domain.TaskStatus, cutoff time.Time, limit int) ([]*domain.Task, error)
	UpdateStatusFn        func(ctx context.Context, id uuid.UUID, newStatus domain.TaskStatus, expectedVersion int64, update store.StatusUpdate) (int64, error)
	IncrementRetryFn      func(ctx context.Context, id uuid.UUID) (int, error)
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// NewMockTaskStore creates an empty MockTaskStore.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

// Seed inserts tasks directly, bypassing any stubbed CreateFn.
func (s *MockTaskStore) Seed(tasks ...*domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		cp := *t
		s.tasks[t.ID] = &cp
	}
}

// Snapshot returns a copy of the stored task, or nil if absent.
func (s *MockTaskStore) Snapshot(id uuid.UUID) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// Create implements store.TaskStore.
func (s *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if s.CreateFn != nil {
		return s.CreateFn(ctx, task)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

// Get implements store.TaskStore.
func (s *MockTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	if s.GetFn != nil {
		return s.GetFn(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	cp := *t
	return &cp, nil
}

// FindByStatus implements store.TaskStore.
func (s *MockTaskStore) FindByStatus(
	ctx context.Context,
	statuses []domain.TaskStatus,
	limit int,
) ([]*domain.Task, error) {
	if s.FindByStatusFn != nil {
		return s.FindByStatusFn(ctx, statuses, limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[domain.TaskStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var out []*domain.Task
	for _, t := range s.tasks {
		if wanted[t.Status] {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindStatusOlderThan implements store.TaskStore.
func (s *MockTaskStore) FindStatusOlderThan(
	ctx context.Context,
	status domain.TaskStatus,
	cutoff time.Time,
	limit int,
) ([]*domain.Task, error) {
	if s.FindStatusOlderThanFn != nil {
		return s.FindStatusOlderThanFn(ctx, status, cutoff, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if t.Status == status && t.UpdatedAt.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus implements store.TaskStore with real version-conflict semantics.
func (s *MockTaskStore) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	newStatus domain.TaskStatus,
	expectedVersion int64,
	update store.StatusUpdate,
) (int64, error) {
	if s.UpdateStatusFn != nil {
		return s.UpdateStatusFn(ctx, id, newStatus, expectedVersion, update)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	if t.Version != expectedVersion {
		return 0, fmt.Errorf("%w: task %s expected version %d, found %d",
			store.ErrVersionConflict, id, expectedVersion, t.Version)
	}

	t.Status = newStatus
	t.Version++
	if update.SubmissionTime != nil {
		t.SubmissionTime = update.SubmissionTime
	}
	if update.ExecutionTime != nil {
		t.ExecutionTime = update.ExecutionTime
	}
	if update.LastError != nil {
		t.LastError = *update.LastError
	}
	t.UpdatedAt = time.Now().UTC()

	return t.Version, nil
}

// IncrementRetry implements store.TaskStore.
func (s *MockTaskStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	if s.IncrementRetryFn != nil {
		return s.IncrementRetryFn(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrTaskNotFound, id)
	}
	t.RetryCount++
	t.UpdatedAt = time.Now().UTC()
	return t.RetryCount, nil
}

// CountByStatus implements store.TaskStore.
func (s *MockTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// WithTx returns the mock itself; the in-memory map has no transactions.
func (s *MockTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return s
}
