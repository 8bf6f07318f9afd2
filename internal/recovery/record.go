package recovery

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the final result of one recovery attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record captures one concluded recovery attempt. Records live in a bounded
// most-recent-N history owned by the engine.
type Record struct {
	ID          uuid.UUID   `json:"id"`
	FailureType FailureType `json:"failure_type"`
	TriggeredBy TriggeredBy `json:"triggered_by"`
	StartedAt   time.Time   `json:"started_at"`
	DurationMs  int64       `json:"duration_ms"`
	Outcome     Outcome     `json:"outcome"`
	Message     string      `json:"message"`
}

// Stats is a snapshot of the engine's rolling statistics.
type Stats struct {
	TotalAttempts     int64   `json:"total_attempts"`
	Successes         int64   `json:"successes"`
	Failures          int64   `json:"failures"`
	SuccessRate       float64 `json:"success_rate"`
	Active            int     `json:"active"`
	Queued            int     `json:"queued"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// history is a bounded most-recent-N ring of records. Callers hold the
// engine mutex.
type history struct {
	records []Record
	max     int
}

func newHistory(max int) *history {
	return &history{max: max}
}

func (h *history) add(r Record) {
	h.records = append(h.records, r)
	if len(h.records) > h.max {
		h.records = h.records[len(h.records)-h.max:]
	}
}

// recent returns up to limit records, newest first.
func (h *history) recent(limit int) []Record {
	n := len(h.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.records[i])
	}
	return out
}

func (h *history) clear() {
	h.records = nil
}

// resize re-bounds the ring, keeping the newest entries.
func (h *history) resize(max int) {
	h.max = max
	if len(h.records) > max {
		h.records = h.records[len(h.records)-max:]
	}
}
