// Package health maintains rolling success/failure/latency statistics for
// the system's two external dependencies, the task store database and the
// execution service network link, and derives the recommendations the task
// loops and the recovery engine act on.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// recentWindowSize bounds the window used for the success-rate calculation
// so old history cannot mask a fresh outage.
const recentWindowSize = 20

// Default thresholds for the IsHealthy predicate.
const (
	defaultMinSuccessRate          = 0.5
	defaultMaxConsecutiveFailures  = 5
	defaultMaxRecommendedRetries   = 5
	defaultRecommendedRetryHealthy = 1
)

// Prober performs the active round-trip behind PerformCheck, independent of
// the passive counters.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Stats is an immutable snapshot of a monitor's rolling counters.
type Stats struct {
	Resource            string     `json:"resource"`
	TotalAttempts       int64      `json:"total_attempts"`
	Successes           int64      `json:"successes"`
	Failures            int64      `json:"failures"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
	AverageLatencyMs    float64    `json:"average_latency_ms"`
	LastSuccessTime     *time.Time `json:"last_success_time,omitempty"`
	SuccessRate         float64    `json:"success_rate"`
	IsHealthy           bool       `json:"is_healthy"`
	RecommendedRetries  int        `json:"recommended_retries"`
}

// Monitor tracks one external dependency. All counters live behind a single
// mutex; the aggregate statistics drive automated decisions, so torn reads
// are not acceptable.
type Monitor struct {
	resource string
	prober   Prober
	logger   *slog.Logger

	mu                  sync.Mutex
	totalAttempts       int64
	successes           int64
	failures            int64
	consecutiveFailures int64
	totalLatency        time.Duration
	lastSuccessTime     time.Time
	recent              []bool // ring of the last recentWindowSize results
	recentNext          int
	recentCount         int
}

// NewMonitor creates a monitor for the named resource. The prober backs the
// active PerformCheck and may be nil if only passive tracking is needed.
func NewMonitor(resource string, prober Prober, logger *slog.Logger) *Monitor {
	return &Monitor{
		resource: resource,
		prober:   prober,
		logger:   logger.With(slog.String("component", "health_monitor"), slog.String("resource", resource)),
		recent:   make([]bool, recentWindowSize),
	}
}

// Resource returns the name of the monitored dependency.
func (m *Monitor) Resource() string { return m.resource }

// RecordAttempt updates the rolling counters with one observed attempt.
func (m *Monitor) RecordAttempt(success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalAttempts++
	m.totalLatency += latency
	m.recent[m.recentNext] = success
	m.recentNext = (m.recentNext + 1) % recentWindowSize
	if m.recentCount < recentWindowSize {
		m.recentCount++
	}

	if success {
		m.successes++
		m.consecutiveFailures = 0
		m.lastSuccessTime = time.Now().UTC()
	} else {
		m.failures++
		m.consecutiveFailures++
	}
}

// Snapshot returns a consistent copy of the current statistics.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// IsHealthy is the threshold predicate the loops consult to pause
// proactively instead of failing reactively.
func (m *Monitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isHealthyLocked()
}

// RecommendedRetries is a monotone function of the recent success rate: the
// healthier the dependency, the fewer retries are worth attempting. The
// ceiling is hard; retries are never unbounded.
func (m *Monitor) RecommendedRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recommendedRetriesLocked()
}

// PerformCheck runs the active probe and folds its result into the rolling
// counters. The recovery engine uses it to validate repairs before normal
// operation resumes.
func (m *Monitor) PerformCheck(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}

	start := time.Now()
	err := m.prober.Probe(ctx)
	latency := time.Since(start)

	m.RecordAttempt(err == nil, latency)

	if err != nil {
		m.logger.Warn("active health check failed",
			"latency_ms", latency.Milliseconds(),
			"error", err)
		return err
	}

	m.logger.Debug("active health check passed",
		"latency_ms", latency.Milliseconds())
	return nil
}

// Reset clears all counters. Exposed on the control plane so operators can
// discard stale history after a maintenance window.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalAttempts = 0
	m.successes = 0
	m.failures = 0
	m.consecutiveFailures = 0
	m.totalLatency = 0
	m.lastSuccessTime = time.Time{}
	m.recent = make([]bool, recentWindowSize)
	m.recentNext = 0
	m.recentCount = 0

	m.logger.Info("health statistics reset")
}

func (m *Monitor) snapshotLocked() Stats {
	stats := Stats{
		Resource:            m.resource,
		TotalAttempts:       m.totalAttempts,
		Successes:           m.successes,
		Failures:            m.failures,
		ConsecutiveFailures: m.consecutiveFailures,
		SuccessRate:         m.successRateLocked(),
		IsHealthy:           m.isHealthyLocked(),
		RecommendedRetries:  m.recommendedRetriesLocked(),
	}
	if m.totalAttempts > 0 {
		stats.AverageLatencyMs = float64(m.totalLatency.Milliseconds()) / float64(m.totalAttempts)
	}
	if !m.lastSuccessTime.IsZero() {
		t := m.lastSuccessTime
		stats.LastSuccessTime = &t
	}
	return stats
}

// successRateLocked computes the rate over the recent window; with no
// history the dependency is assumed healthy.
func (m *Monitor) successRateLocked() float64 {
	if m.recentCount == 0 {
		return 1.0
	}
	var ok int
	for i := 0; i < m.recentCount; i++ {
		if m.recent[i] {
			ok++
		}
	}
	return float64(ok) / float64(m.recentCount)
}

func (m *Monitor) isHealthyLocked() bool {
	return m.successRateLocked() >= defaultMinSuccessRate &&
		m.consecutiveFailures < defaultMaxConsecutiveFailures
}

func (m *Monitor) recommendedRetriesLocked() int {
	rate := m.successRateLocked()
	switch {
	case rate >= 0.95:
		return defaultRecommendedRetryHealthy
	case rate >= 0.8:
		return 2
	case rate >= 0.5:
		return 3
	default:
		return defaultMaxRecommendedRetries
	}
}
