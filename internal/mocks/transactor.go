package mocks

import (
	"context"

	"github.com/promptops/dispatch-api/internal/store"
)

// MockTransactor implements store.Transactor by running the function
// directly with a nil transaction. The in-memory mock stores ignore WithTx,
// so the composed behavior matches the production path without a database.
type MockTransactor struct {
	RunFn func(ctx context.Context, fn store.TxFn) error
}

var _ store.Transactor = (*MockTransactor)(nil)

// NewMockTransactor creates a pass-through transactor.
func NewMockTransactor() *MockTransactor {
	return &MockTransactor{}
}

// RunInTransaction implements store.Transactor.
func (t *MockTransactor) RunInTransaction(ctx context.Context, fn store.TxFn) error {
	if t.RunFn != nil {
		return t.RunFn(ctx, fn)
	}
	return fn(ctx, nil)
}
