package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/execution"
)

// MockExecutionClient implements execution.Client. By default every
// submission is accepted and every outcome fetch reports success; tests
// override the Fn fields to simulate transport failures, slow executions,
// and business failures.
type MockExecutionClient struct {
	mu        sync.Mutex
	submitted []uuid.UUID

	SubmitTaskFn   func(ctx context.Context, taskID uuid.UUID, payload json.RawMessage) error
	FetchOutcomeFn func(ctx context.Context, taskID uuid.UUID) (*execution.Outcome, error)
	PingFn         func(ctx context.Context) error
}

var _ execution.Client = (*MockExecutionClient)(nil)

// NewMockExecutionClient creates a MockExecutionClient with the default
// always-succeeds behavior.
func NewMockExecutionClient() *MockExecutionClient {
	return &MockExecutionClient{}
}

// Submitted returns the IDs of every task accepted by SubmitTask.
func (c *MockExecutionClient) Submitted() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, len(c.submitted))
	copy(out, c.submitted)
	return out
}

// SubmitTask implements execution.Client.
func (c *MockExecutionClient) SubmitTask(
	ctx context.Context,
	taskID uuid.UUID,
	payload json.RawMessage,
) error {
	if c.SubmitTaskFn != nil {
		if err := c.SubmitTaskFn(ctx, taskID, payload); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, taskID)
	return nil
}

// FetchOutcome implements execution.Client.
func (c *MockExecutionClient) FetchOutcome(
	ctx context.Context,
	taskID uuid.UUID,
) (*execution.Outcome, error) {
	if c.FetchOutcomeFn != nil {
		return c.FetchOutcomeFn(ctx, taskID)
	}
	return &execution.Outcome{TaskID: taskID, State: execution.StateSucceeded}, nil
}

// Ping implements execution.Client.
func (c *MockExecutionClient) Ping(ctx context.Context) error {
	if c.PingFn != nil {
		return c.PingFn(ctx)
	}
	return nil
}
