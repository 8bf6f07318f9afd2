package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/promptops/dispatch-api/internal/backoff"
	"github.com/promptops/dispatch-api/internal/recovery"
)

// CycleResult summarizes one loop cycle, whether cron-driven or manually
// triggered through the control plane.
type CycleResult struct {
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	StaleCount  int       `json:"stale_count,omitempty"`
	SkipReason  string    `json:"skip_reason,omitempty"`
	TaskErrors  []string  `json:"task_errors,omitempty"`
}

// LoopStatus is a point-in-time snapshot of a loop's operational state.
type LoopStatus struct {
	Name                string     `json:"name"`
	Enabled             bool       `json:"enabled"`
	Degraded            bool       `json:"degraded"`
	PausedUntil         *time.Time `json:"paused_until,omitempty"`
	CyclesRun           int64      `json:"cycles_run"`
	TasksProcessed      int64      `json:"tasks_processed"`
	TasksSucceeded      int64      `json:"tasks_succeeded"`
	TasksFailed         int64      `json:"tasks_failed"`
	StaleFlagged        int64      `json:"stale_flagged,omitempty"`
	RecoveryFailures    int        `json:"recovery_failures"`
	LastCycleAt         *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleDurationMs int64      `json:"last_cycle_duration_ms"`
}

// loopState carries the operational machinery both loops share: the
// enable/disable and degraded flags, the pause window, the one-cycle-at-a-
// time mutex, and live statistics.
type loopState struct {
	name    string
	enabled atomic.Bool

	// degraded marks a loop that disabled itself after repeated recovery
	// failures; it is cleared on the next successful recovery or explicit
	// re-enable.
	degraded atomic.Bool

	// cycleMu serializes cycles. Stop waits on it to let an in-flight
	// cycle finish.
	cycleMu sync.Mutex

	mu               sync.Mutex
	pausedUntil      time.Time
	recoveryFailures int
	cyclesRun        int64
	tasksProcessed   int64
	tasksSucceeded   int64
	tasksFailed      int64
	staleFlagged     int64
	lastCycleAt      time.Time
	lastCycleMs      int64

	backoffPolicy    recoveryBackoff
	failureThreshold int
	logger           *slog.Logger
}

// recoveryBackoff is the whole-loop pause schedule applied after each
// escalation to the recovery engine.
type recoveryBackoff struct {
	policy backoff.Policy
}

func (b recoveryBackoff) pauseFor(consecutiveFailures int) time.Duration {
	return b.policy.Delay(consecutiveFailures)
}

func newLoopState(name string, failureThreshold int, logger *slog.Logger) *loopState {
	s := &loopState{
		name:             name,
		backoffPolicy:    recoveryBackoff{policy: backoff.DefaultPolicy()},
		failureThreshold: failureThreshold,
		logger:           logger.With("loop", name),
	}
	s.enabled.Store(true)
	return s
}

// Enable turns the loop on. It reports whether the call changed anything,
// so the control plane can answer "already enabled" honestly.
func (s *loopState) Enable() bool {
	changed := s.enabled.CompareAndSwap(false, true)
	if changed {
		s.degraded.Store(false)
		s.mu.Lock()
		s.recoveryFailures = 0
		s.pausedUntil = time.Time{}
		s.mu.Unlock()
		s.logger.Info("loop enabled")
	}
	return changed
}

// Disable turns the loop off at the next cycle boundary; an in-flight cycle
// runs to completion. It reports whether the call changed anything.
func (s *loopState) Disable() bool {
	changed := s.enabled.CompareAndSwap(true, false)
	if changed {
		s.logger.Info("loop disabled")
	}
	return changed
}

// Enabled reports whether the loop will run its next cycle.
func (s *loopState) Enabled() bool { return s.enabled.Load() }

// Degraded reports whether the loop disabled itself after repeated recovery
// failures.
func (s *loopState) Degraded() bool { return s.degraded.Load() }

// PauseFor suspends cycles for the given window without disabling the loop.
// The recovery engine's load-shedding action uses this.
func (s *loopState) PauseFor(d time.Duration) {
	until := time.Now().Add(d)
	s.mu.Lock()
	if until.After(s.pausedUntil) {
		s.pausedUntil = until
	}
	s.mu.Unlock()
	s.logger.Info("loop paused", "until", until.UTC().Format(time.RFC3339))
}

func (s *loopState) paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.pausedUntil)
}

// Status returns a consistent snapshot for the control plane.
func (s *loopState) Status() LoopStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := LoopStatus{
		Name:                s.name,
		Enabled:             s.enabled.Load(),
		Degraded:            s.degraded.Load(),
		CyclesRun:           s.cyclesRun,
		TasksProcessed:      s.tasksProcessed,
		TasksSucceeded:      s.tasksSucceeded,
		TasksFailed:         s.tasksFailed,
		StaleFlagged:        s.staleFlagged,
		RecoveryFailures:    s.recoveryFailures,
		LastCycleDurationMs: s.lastCycleMs,
	}
	if time.Now().Before(s.pausedUntil) {
		until := s.pausedUntil
		status.PausedUntil = &until
	}
	if !s.lastCycleAt.IsZero() {
		at := s.lastCycleAt
		status.LastCycleAt = &at
	}
	return status
}

func (s *loopState) recordCycle(result *CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cyclesRun++
	s.tasksProcessed += int64(result.Processed)
	s.tasksSucceeded += int64(result.Succeeded)
	s.tasksFailed += int64(result.Failed)
	s.staleFlagged += int64(result.StaleCount)
	s.lastCycleAt = result.StartedAt
	s.lastCycleMs = result.DurationMs
}

// escalate hands a resource-exhaustion condition to the recovery engine and
// pauses the loop while recovery runs. The attempt's outcome is watched in
// the background: a failure counts toward the self-disable threshold, a
// success clears it.
func (s *loopState) escalate(
	ctx context.Context,
	engine *recovery.Engine,
	ft recovery.FailureType,
	description string,
) {
	s.mu.Lock()
	failures := s.recoveryFailures
	s.mu.Unlock()

	s.PauseFor(s.backoffPolicy.pauseFor(failures + 1))

	attempt, err := engine.TriggerRecovery(ctx, ft, description, recovery.TriggeredAutomatic)
	if err != nil {
		s.logger.Warn("recovery trigger rejected",
			"failure_type", ft,
			"error", err)
		s.recordRecoveryFailure()
		return
	}

	go func() {
		record, err := attempt.Wait(context.Background())
		if err != nil || record.Outcome != recovery.OutcomeSuccess {
			s.recordRecoveryFailure()
			return
		}
		s.mu.Lock()
		s.recoveryFailures = 0
		s.pausedUntil = time.Time{}
		s.mu.Unlock()
		s.degraded.Store(false)
		s.logger.Info("recovery succeeded, loop resuming", "failure_type", ft)
	}()
}

func (s *loopState) recordRecoveryFailure() {
	s.mu.Lock()
	s.recoveryFailures++
	failures := s.recoveryFailures
	s.mu.Unlock()

	if failures >= s.failureThreshold {
		s.degraded.Store(true)
		if s.enabled.CompareAndSwap(true, false) {
			s.logger.Error("loop self-disabled after repeated recovery failures",
				"consecutive_failures", failures,
				"threshold", s.failureThreshold)
		}
		return
	}
	s.logger.Warn("recovery attempt failed",
		"consecutive_failures", failures,
		"threshold", s.failureThreshold)
}

func skippedResult(startedAt time.Time, reason string) *CycleResult {
	return &CycleResult{
		StartedAt:  startedAt,
		DurationMs: time.Since(startedAt).Milliseconds(),
		SkipReason: reason,
	}
}
