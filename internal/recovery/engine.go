package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/promptops/dispatch-api/internal/backoff"
)

// validate is the package-level validator instance for runtime
// reconfiguration checks.
var validate = validator.New()

var (
	// ErrRecoveryBusy is returned when the concurrency cap is reached and
	// the pending queue is full. The caller is always signaled; a trigger is
	// never silently dropped.
	ErrRecoveryBusy = errors.New("recovery engine at capacity")

	// ErrNoAction is returned when no remediation action is registered for
	// the requested failure type.
	ErrNoAction = errors.New("no recovery action registered")
)

// Config bounds the engine. The ranges mirror the control-plane contract and
// are re-validated on every runtime reconfiguration.
type Config struct {
	MaxConcurrent    int `json:"max_concurrent"     validate:"gte=1,lte=10"`
	TimeoutMs        int `json:"timeout_ms"         validate:"gte=30000,lte=600000"`
	MaxRetryAttempts int `json:"max_retry_attempts" validate:"gte=1,lte=10"`
	HistorySize      int `json:"history_size"       validate:"gte=10,lte=1000"`
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// AttemptState tracks an attempt handle through its observable lifecycle.
type AttemptState string

const (
	AttemptQueued  AttemptState = "queued"
	AttemptRunning AttemptState = "running"
	AttemptDone    AttemptState = "done"
)

// Attempt is the observable handle returned by TriggerRecovery. Callers can
// poll State, block on Done, or Wait for the final record; fire-and-forget
// callers may simply drop it.
type Attempt struct {
	ID          uuid.UUID
	FailureType FailureType
	TriggeredBy TriggeredBy

	mu     sync.Mutex
	state  AttemptState
	record *Record
	done   chan struct{}
}

func newAttempt(ft FailureType, by TriggeredBy) *Attempt {
	return &Attempt{
		ID:          uuid.New(),
		FailureType: ft,
		TriggeredBy: by,
		state:       AttemptQueued,
		done:        make(chan struct{}),
	}
}

// State returns the attempt's current lifecycle state.
func (a *Attempt) State() AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done returns a channel closed when the attempt concludes.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Record returns the final record, or nil while the attempt is in flight.
func (a *Attempt) Record() *Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record
}

// Wait blocks until the attempt concludes or the context is cancelled.
func (a *Attempt) Wait(ctx context.Context) (*Record, error) {
	select {
	case <-a.done:
		return a.Record(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Attempt) setRunning() {
	a.mu.Lock()
	a.state = AttemptRunning
	a.mu.Unlock()
}

func (a *Attempt) finish(record *Record) {
	a.mu.Lock()
	a.state = AttemptDone
	a.record = record
	a.mu.Unlock()
	close(a.done)
}

// Engine classifies failures and runs their remediation actions on a bounded
// concurrent pool, separate from the task loops so a stuck recovery cannot
// starve task processing.
type Engine struct {
	logger *slog.Logger

	mu       sync.Mutex
	cfg      Config
	sem      *semaphore.Weighted
	actions  map[FailureType]Action
	history  *history
	active   int
	queued   int
	totals   struct {
		attempts      int64
		successes     int64
		failures      int64
		totalDuration time.Duration
	}
}

// NewEngine creates an engine with the given bounds and no actions
// registered. Register actions with RegisterAction before triggering.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid recovery configuration: %w", err)
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for Engine")
	}
	return &Engine{
		logger:  logger.With(slog.String("component", "recovery_engine")),
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		actions: make(map[FailureType]Action),
		history: newHistory(cfg.HistorySize),
	}, nil
}

// RegisterAction binds a remediation action to a failure type, replacing any
// previous binding.
func (e *Engine) RegisterAction(ft FailureType, action Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[ft] = action
}

// TriggerRecovery classifies the failure and schedules its remediation.
// When a slot is free the attempt starts immediately; otherwise it is queued
// up to a bounded depth, beyond which the caller receives ErrRecoveryBusy.
func (e *Engine) TriggerRecovery(
	ctx context.Context,
	ft FailureType,
	description string,
	by TriggeredBy,
) (*Attempt, error) {
	e.mu.Lock()
	action, ok := e.actions[ft]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoAction, ft)
	}
	cfg := e.cfg
	sem := e.sem
	attempt := newAttempt(ft, by)

	if sem.TryAcquire(1) {
		e.active++
		e.mu.Unlock()
		attempt.setRunning()
		e.logger.Info("recovery started",
			"attempt_id", attempt.ID,
			"failure_type", ft,
			"triggered_by", by,
			"description", description)
		go e.run(attempt, action, cfg, sem)
		return attempt, nil
	}

	// The queue is bounded by the concurrency cap itself: at most one
	// waiting attempt per slot.
	if e.queued >= cfg.MaxConcurrent {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d active, %d queued", ErrRecoveryBusy, e.active, e.queued)
	}
	e.queued++
	e.mu.Unlock()

	e.logger.Info("recovery queued",
		"attempt_id", attempt.ID,
		"failure_type", ft,
		"triggered_by", by)

	go func() {
		// Queued attempts run as soon as a slot frees; the per-attempt
		// timeout starts when the attempt actually runs.
		if err := sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		e.mu.Lock()
		e.queued--
		e.active++
		e.mu.Unlock()
		attempt.setRunning()
		e.run(attempt, action, cfg, sem)
	}()

	return attempt, nil
}

// run executes one attempt end to end: bounded retries inside a hard
// timeout, then bookkeeping. Action errors and panics become a failure
// record; nothing propagates.
func (e *Engine) run(attempt *Attempt, action Action, cfg Config, sem *semaphore.Weighted) {
	defer sem.Release(1)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout())
	defer cancel()

	policy := backoff.Policy{
		Base:        time.Second,
		Multiplier:  2.0,
		Cap:         30 * time.Second,
		MaxAttempts: cfg.MaxRetryAttempts,
	}
	err := backoff.Do(ctx, policy, func(ctx context.Context) error {
		return e.attemptBounded(ctx, action)
	})

	duration := time.Since(start)
	record := Record{
		ID:          attempt.ID,
		FailureType: attempt.FailureType,
		TriggeredBy: attempt.TriggeredBy,
		StartedAt:   start.UTC(),
		DurationMs:  duration.Milliseconds(),
	}
	if err != nil {
		record.Outcome = OutcomeFailure
		record.Message = err.Error()
	} else {
		record.Outcome = OutcomeSuccess
		record.Message = fmt.Sprintf("%s completed", action.Name())
	}

	e.mu.Lock()
	e.active--
	e.history.add(record)
	e.totals.attempts++
	e.totals.totalDuration += duration
	if err != nil {
		e.totals.failures++
	} else {
		e.totals.successes++
	}
	e.mu.Unlock()

	attempt.finish(&record)

	if err != nil {
		e.logger.Error("recovery failed",
			"attempt_id", attempt.ID,
			"failure_type", attempt.FailureType,
			"action", action.Name(),
			"duration_ms", record.DurationMs,
			"error", err)
	} else {
		e.logger.Info("recovery succeeded",
			"attempt_id", attempt.ID,
			"failure_type", attempt.FailureType,
			"action", action.Name(),
			"duration_ms", record.DurationMs)
	}
}

// attemptBounded runs the action once, converting panics to errors and
// enforcing the deadline even against an action that ignores its context.
func (e *Engine) attemptBounded(ctx context.Context, action Action) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("recovery action %s panicked: %v", action.Name(), p)
			}
		}()
		done <- action.Attempt(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("recovery action %s exceeded timeout: %w", action.Name(), ctx.Err())
	}
}

// Stats returns a consistent snapshot of the rolling statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		TotalAttempts: e.totals.attempts,
		Successes:     e.totals.successes,
		Failures:      e.totals.failures,
		Active:        e.active,
		Queued:        e.queued,
	}
	if e.totals.attempts > 0 {
		stats.SuccessRate = float64(e.totals.successes) / float64(e.totals.attempts)
		stats.AverageDurationMs = float64(e.totals.totalDuration.Milliseconds()) / float64(e.totals.attempts)
	}
	return stats
}

// History returns up to limit records, newest first.
func (e *Engine) History(limit int) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.recent(limit)
}

// ClearHistory discards the record history. Rolling totals are kept.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.clear()
	e.logger.Info("recovery history cleared")
}

// Configure applies new bounds after range validation. The new concurrency
// cap applies to future triggers; attempts already running finish against
// the pool they started on.
func (e *Engine) Configure(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid recovery configuration: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.MaxConcurrent != e.cfg.MaxConcurrent {
		e.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	e.history.resize(cfg.HistorySize)
	e.cfg = cfg

	e.logger.Info("recovery engine reconfigured",
		"max_concurrent", cfg.MaxConcurrent,
		"timeout_ms", cfg.TimeoutMs,
		"max_retry_attempts", cfg.MaxRetryAttempts,
		"history_size", cfg.HistorySize)
	return nil
}

// Configuration returns the current bounds.
func (e *Engine) Configuration() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}
