package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/dispatch-api/internal/config"
	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/execution"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/mocks"
	"github.com/promptops/dispatch-api/internal/notify"
	"github.com/promptops/dispatch-api/internal/recovery"
)

func pollingTestConfig() config.PollingConfig {
	return config.PollingConfig{
		IntervalSeconds:          5,
		BatchSize:                50,
		StalenessMinutes:         10,
		RecoveryFailureThreshold: 2,
	}
}

// capturingEmitter records outcome events for assertions.
type capturingEmitter struct {
	mu     sync.Mutex
	events []*notify.OutcomeEvent
}

func (e *capturingEmitter) EmitOutcome(ctx context.Context, event *notify.OutcomeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *capturingEmitter) all() []*notify.OutcomeEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*notify.OutcomeEvent, len(e.events))
	copy(out, e.events)
	return out
}

type pollingFixture struct {
	tasks   *mocks.MockTaskStore
	manager *lifecycle.StatusManager
	client  *mocks.MockExecutionClient
	engine  *recovery.Engine
	emitter *capturingEmitter
	loop    *PollingLoop
}

func newPollingFixture(t *testing.T, cfg config.PollingConfig) *pollingFixture {
	t.Helper()

	tasks := mocks.NewMockTaskStore()
	transitions := mocks.NewMockTransitionStore()
	manager := lifecycle.NewStatusManager(mocks.NewMockTransactor(), tasks, transitions, testLogger())
	client := mocks.NewMockExecutionClient()
	engine, err := recovery.NewEngine(recovery.Config{
		MaxConcurrent:    2,
		TimeoutMs:        30000,
		MaxRetryAttempts: 1,
		HistorySize:      10,
	}, testLogger())
	require.NoError(t, err)
	emitter := &capturingEmitter{}

	loop := NewPollingLoop(cfg, tasks, manager, client, nil, engine, emitter, testLogger())
	return &pollingFixture{
		tasks:   tasks,
		manager: manager,
		client:  client,
		engine:  engine,
		emitter: emitter,
		loop:    loop,
	}
}

// inFlightTask seeds a task in the given in-flight status with sensible
// timestamps.
func inFlightTask(t *testing.T, f *pollingFixture, status domain.TaskStatus) *domain.Task {
	t.Helper()
	require.True(t, status == domain.StatusSubmitted || status == domain.StatusExecuting)

	task, err := f.manager.CreateTask(context.Background(), []byte(`{"prompt":"translate"}`))
	require.NoError(t, err)
	_, err = f.manager.Transition(context.Background(), task.ID, domain.StatusSubmissionStarted, "claimed", "test")
	require.NoError(t, err)
	_, err = f.manager.Transition(context.Background(), task.ID, domain.StatusSubmitted, "accepted", "test")
	require.NoError(t, err)
	if status == domain.StatusExecuting {
		_, err = f.manager.Transition(context.Background(), task.ID, domain.StatusExecuting, "running", "test")
		require.NoError(t, err)
	}
	return f.tasks.Snapshot(task.ID)
}

func TestPollingCycle(t *testing.T) {
	t.Parallel()

	t.Run("running outcome advances SUBMITTED to EXECUTING", func(t *testing.T) {
		t.Parallel()

		f := newPollingFixture(t, pollingTestConfig())
		task := inFlightTask(t, f, domain.StatusSubmitted)
		f.client.FetchOutcomeFn = func(ctx context.Context, taskID uuid.UUID) (*execution.Outcome, error) {
			return &execution.Outcome{TaskID: taskID, State: execution.StateRunning}, nil
		}

		result, err := f.loop.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Processed)

		after := f.tasks.Snapshot(task.ID)
		assert.Equal(t, domain.StatusExecuting, after.Status)
		assert.NotNil(t, after.ExecutionTime)
		assert.Empty(t, f.emitter.all(), "no event until a terminal outcome")
	})

	t.Run("running outcome is a no-op for EXECUTING", func(t *testing.T) {
		t.Parallel()

		f := newPollingFixture(t, pollingTestConfig())
		task := inFlightTask(t, f, domain.StatusExecuting)
		before := f.tasks.Snapshot(task.ID).Version
		f.client.FetchOutcomeFn = func(ctx context.Context, taskID uuid.UUID) (*execution.Outcome, error) {
			return &execution.Outcome{TaskID: taskID, State: execution.StateRunning}, nil
		}

		_, err := f.loop.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, before, f.tasks.Snapshot(task.ID).Version, "no spurious write")
	})

	t.Run("succeeded outcome completes the task and notifies", func(t *testing.T) {
		t.Parallel()

		f := newPollingFixture(t, pollingTestConfig())
		task := inFlightTask(t, f, domain.StatusExecuting)

		result, err := f.loop.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Succeeded)
		assert.Equal(t, domain.StatusCompleted, f.tasks.Snapshot(task.ID).Status)

		events := f.emitter.all()
		require.Len(t, events, 1)
		assert.Equal(t, task.ID, events[0].TaskID)
		assert.Equal(t, domain.StatusCompleted, events[0].Status)
	})

	t.Run("failed outcome is a business failure, not an escalation", func(t *testing.T) {
		t.Parallel()

		f := newPollingFixture(t, pollingTestConfig())
		task := inFlightTask(t, f, domain.StatusExecuting)
		f.client.FetchOutcomeFn = func(ctx context.Context, taskID uuid.UUID) (*execution.Outcome, error) {
			return &execution.Outcome{
				TaskID: taskID,
				State:  execution.StateFailed,
				Error:  "model refused the prompt",
			}, nil
		}

		result, err := f.loop.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)

		settled := f.tasks.Snapshot(task.ID)
		assert.Equal(t, domain.StatusFailed, settled.Status)
		assert.Equal(t, "model refused the prompt", settled.LastError)
		assert.Nil(t, f.loop.Status().PausedUntil, "business failures never back off the loop")

		events := f.emitter.all()
		require.Len(t, events, 1)
		assert.Equal(t, domain.StatusFailed, events[0].Status)
	})

	t.Run("queued outcome leaves the task untouched", func(t *testing.T) {
		t.Parallel()

		f := newPollingFixture(t, pollingTestConfig())
		task := inFlightTask(t, f, domain.StatusSubmitted)
		f.client.FetchOutcomeFn = func(ctx context.Context, taskID uuid.UUID) (*execution.Outcome, error) {
			return &execution.Outcome{TaskID: taskID, State: execution.StateQueued}, nil
		}

		_, err := f.loop.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSubmitted, f.tasks.Snapshot(task.ID).Status)
	})

	t.Run("unknown task is left for the consistency checker", func(t *testing.T) {
		t.Parallel()

		f := newPollingFixture(t, pollingTestConfig())
		task := inFlightTask(t, f, domain.StatusSubmitted)
		f.client.FetchOutcomeFn = func(ctx context.Context, taskID uuid.UUID) (*execution.Outcome, error) {
			return nil, fmt.Errorf("%w: %s", execution.ErrTaskUnknown, taskID)
		}

		result, err := f.loop.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, domain.StatusSubmitted, f.tasks.Snapshot(task.ID).Status)
	})
}

func TestPollingStalenessFlagging(t *testing.T) {
	t.Parallel()

	f := newPollingFixture(t, pollingTestConfig())
	task := inFlightTask(t, f, domain.StatusExecuting)

	// Age the task past the threshold.
	stale := time.Now().UTC().Add(-30 * time.Minute)
	aged := f.tasks.Snapshot(task.ID)
	aged.ExecutionTime = &stale
	aged.UpdatedAt = stale
	f.tasks.Seed(aged)

	// Execution still reports running: stale but alive.
	f.client.FetchOutcomeFn = func(ctx context.Context, taskID uuid.UUID) (*execution.Outcome, error) {
		return &execution.Outcome{TaskID: taskID, State: execution.StateRunning}, nil
	}

	result, err := f.loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.StaleCount)
	assert.Equal(t, domain.StatusExecuting, f.tasks.Snapshot(task.ID).Status,
		"staleness never terminates a task")
	assert.Equal(t, int64(1), f.loop.Status().StaleFlagged)
}

func TestPollingConcurrentCompletion(t *testing.T) {
	t.Parallel()

	// Two pollers observe the same terminal outcome: exactly one records it.
	f := newPollingFixture(t, pollingTestConfig())
	task := inFlightTask(t, f, domain.StatusExecuting)

	second := NewPollingLoop(pollingTestConfig(), f.tasks, f.manager, f.client, nil, f.engine, f.emitter, testLogger())

	var wg sync.WaitGroup
	for _, loop := range []*PollingLoop{f.loop, second} {
		wg.Add(1)
		go func(l *PollingLoop) {
			defer wg.Done()
			_, err := l.RunCycle(context.Background())
			assert.NoError(t, err)
		}(loop)
	}
	wg.Wait()

	assert.Equal(t, domain.StatusCompleted, f.tasks.Snapshot(task.ID).Status)
	assert.Len(t, f.emitter.all(), 1, "exactly one winner emits the outcome")
}
