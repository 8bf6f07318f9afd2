package recovery

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/health"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/store"
)

// Action is one idempotent, independently retryable remediation bound to a
// failure type.
type Action interface {
	// Name identifies the action in logs and recovery records.
	Name() string

	// Attempt runs the remediation once. Implementations must be safe to
	// call repeatedly and honor context cancellation on blocking work.
	Attempt(ctx context.Context) error
}

// Pauser is anything whose work can be paused for a fixed window. The task
// loops implement it; the load-shedding action uses it without the recovery
// package needing to know about loops.
type Pauser interface {
	PauseFor(d time.Duration)
}

// PoolResetAction remediates database-connection failures: it flushes the
// idle connection pool so poisoned connections are discarded, then validates
// with a ping and folds the result into the database health monitor.
type PoolResetAction struct {
	DB           *sql.DB
	MaxIdleConns int
	Monitor      *health.Monitor
}

func (a *PoolResetAction) Name() string { return "reset_connection_pool" }

func (a *PoolResetAction) Attempt(ctx context.Context) error {
	// Dropping the idle limit to zero closes every pooled connection;
	// restoring it lets the pool refill with fresh ones.
	a.DB.SetMaxIdleConns(0)
	a.DB.SetMaxIdleConns(a.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.DB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("pool reset probe failed: %w", err)
	}

	if a.Monitor != nil {
		if err := a.Monitor.PerformCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed after pool reset: %w", err)
		}
	}
	return nil
}

// MemoryReclaimAction remediates high memory usage by forcing a garbage
// collection cycle and returning freed pages to the operating system.
type MemoryReclaimAction struct{}

func (a *MemoryReclaimAction) Name() string { return "reclaim_memory" }

func (a *MemoryReclaimAction) Attempt(ctx context.Context) error {
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	runtime.GC()
	debug.FreeOSMemory()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	slog.Default().Debug("memory reclaim completed",
		"heap_before_bytes", before.HeapAlloc,
		"heap_after_bytes", after.HeapAlloc)
	return nil
}

// IdleCloser matches http.Client-style transports whose pooled connections
// can be dropped.
type IdleCloser interface {
	CloseIdleConnections()
}

// NetworkResetAction remediates network failures by dropping pooled
// connections to the execution service and probing with the network monitor.
type NetworkResetAction struct {
	Conns   IdleCloser
	Monitor *health.Monitor
}

func (a *NetworkResetAction) Name() string { return "reset_network_connections" }

func (a *NetworkResetAction) Attempt(ctx context.Context) error {
	if a.Conns != nil {
		a.Conns.CloseIdleConnections()
	}
	if a.Monitor != nil {
		if err := a.Monitor.PerformCheck(ctx); err != nil {
			return fmt.Errorf("network probe failed after connection reset: %w", err)
		}
	}
	return nil
}

// StuckClaimReleaseAction remediates worker exhaustion by returning orphaned
// submission claims to the pool: tasks stuck in SUBMISSION_STARTED past the
// claim age are transitioned back to PENDING through the status manager, so
// each release is version-guarded and audited like any other transition.
type StuckClaimReleaseAction struct {
	Tasks       store.TaskStore
	Manager     *lifecycle.StatusManager
	MaxClaimAge time.Duration
	BatchLimit  int
}

func (a *StuckClaimReleaseAction) Name() string { return "release_stuck_claims" }

func (a *StuckClaimReleaseAction) Attempt(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.MaxClaimAge)
	stuck, err := a.Tasks.FindStatusOlderThan(ctx, domain.StatusSubmissionStarted, cutoff, a.BatchLimit)
	if err != nil {
		return fmt.Errorf("failed to find stuck claims: %w", err)
	}

	var released, lost int
	for _, task := range stuck {
		_, err := a.Manager.Transition(ctx, task.ID, domain.StatusPending,
			"claim released after exceeding maximum age", "recovery-engine")
		if err != nil {
			// A conflict means another worker is actively moving the task;
			// it is no longer stuck.
			lost++
			continue
		}
		released++
	}

	slog.Default().Info("stuck claim release completed",
		"found", len(stuck),
		"released", released,
		"skipped", lost)
	return nil
}

// TempFilePurgeAction remediates low disk space by deleting aged files
// matching a pattern under the given directory.
type TempFilePurgeAction struct {
	Dir     string
	Pattern string
	MaxAge  time.Duration
}

func (a *TempFilePurgeAction) Name() string { return "purge_temp_files" }

func (a *TempFilePurgeAction) Attempt(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(a.Dir, a.Pattern))
	if err != nil {
		return fmt.Errorf("bad temp file pattern: %w", err)
	}

	cutoff := time.Now().Add(-a.MaxAge)
	var removed int
	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err == nil {
			removed++
		}
	}

	slog.Default().Info("temp file purge completed",
		"dir", a.Dir,
		"matched", len(matches),
		"removed", removed)
	return nil
}

// LoadShedAction remediates system overload by pausing the task loops for a
// short window and reclaiming memory while the system drains.
type LoadShedAction struct {
	Pausers []Pauser
	ShedFor time.Duration
}

func (a *LoadShedAction) Name() string { return "shed_load" }

func (a *LoadShedAction) Attempt(ctx context.Context) error {
	for _, p := range a.Pausers {
		p.PauseFor(a.ShedFor)
	}
	runtime.GC()
	slog.Default().Info("load shed engaged", "pause", a.ShedFor.String())
	return nil
}
