package mocks

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/store"
)

// MockTransitionStore implements store.TransitionStore over an in-memory
// append-only slice.
type MockTransitionStore struct {
	mu      sync.Mutex
	records []*domain.StatusTransition

	AppendFn     func(ctx context.Context, transition *domain.StatusTransition) error
	ListByTaskFn func(ctx context.Context, taskID uuid.UUID) ([]*domain.StatusTransition, error)
}

var _ store.TransitionStore = (*MockTransitionStore)(nil)

// NewMockTransitionStore creates an empty MockTransitionStore.
func NewMockTransitionStore() *MockTransitionStore {
	return &MockTransitionStore{}
}

// Records returns a copy of everything appended so far.
func (s *MockTransitionStore) Records() []*domain.StatusTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.StatusTransition, len(s.records))
	copy(out, s.records)
	return out
}

// Append implements store.TransitionStore.
func (s *MockTransitionStore) Append(
	ctx context.Context,
	transition *domain.StatusTransition,
) error {
	if s.AppendFn != nil {
		return s.AppendFn(ctx, transition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *transition
	s.records = append(s.records, &cp)
	return nil
}

// ListByTask implements store.TransitionStore.
func (s *MockTransitionStore) ListByTask(
	ctx context.Context,
	taskID uuid.UUID,
) ([]*domain.StatusTransition, error) {
	if s.ListByTaskFn != nil {
		return s.ListByTaskFn(ctx, taskID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.StatusTransition
	for _, r := range s.records {
		if r.TaskID == taskID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResultingVersion < out[j].ResultingVersion
	})
	return out, nil
}

// CommonPaths implements store.TransitionStore.
func (s *MockTransitionStore) CommonPaths(
	ctx context.Context,
	limit int,
) ([]store.TransitionPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type edge struct{ from, to domain.TaskStatus }
	counts := make(map[edge]int)
	for _, r := range s.records {
		counts[edge{r.FromStatus, r.ToStatus}]++
	}

	var paths []store.TransitionPath
	for e, c := range counts {
		paths = append(paths, store.TransitionPath{From: e.from, To: e.to, Count: c})
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Count != paths[j].Count {
			return paths[i].Count > paths[j].Count
		}
		if paths[i].From != paths[j].From {
			return paths[i].From < paths[j].From
		}
		return paths[i].To < paths[j].To
	})
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// StatsSince implements store.TransitionStore.
func (s *MockTransitionStore) StatsSince(
	ctx context.Context,
	since time.Time,
) (*store.WindowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &store.WindowStats{
		Since:    since,
		ByTarget: make(map[domain.TaskStatus]int),
	}
	for _, r := range s.records {
		if !r.CreatedAt.Before(since) {
			stats.ByTarget[r.ToStatus]++
			stats.Total++
		}
	}
	return stats, nil
}

// WithTx returns the mock itself.
func (s *MockTransitionStore) WithTx(tx *sql.Tx) store.TransitionStore {
	return s
}
