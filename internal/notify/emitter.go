package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/promptops/dispatch-api/internal/domain"
)

// InMemoryEmitter dispatches outcome events to handlers registered in
// memory.
type InMemoryEmitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEmitter creates a new InMemoryEmitter.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for InMemoryEmitter")
	}
	return &InMemoryEmitter{
		handlers: make([]Handler, 0),
		logger:   logger.With("component", "outcome_emitter"),
	}
}

// RegisterHandler adds a handler to receive outcome events.
func (e *InMemoryEmitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered outcome handler", "handler_count", len(e.handlers))
}

// EmitOutcome publishes the event to all registered handlers. Every handler
// sees the event even when an earlier one fails; the first error encountered
// is returned.
func (e *InMemoryEmitter) EmitOutcome(ctx context.Context, event *OutcomeEvent) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	if len(handlers) == 0 {
		e.logger.Debug("no handlers registered for outcome event",
			"event_id", event.ID,
			"task_id", event.TaskID)
		return nil
	}

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleOutcome(ctx, event); err != nil {
			e.logger.Error("handler failed to process outcome event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"task_id", event.TaskID,
				"status", event.Status)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LogHandler is the default outcome handler: it writes one structured log
// line per concluded task.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler writing to the given logger.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for LogHandler")
	}
	return &LogHandler{logger: logger.With("component", "outcome_log_handler")}
}

// HandleOutcome implements Handler.
func (h *LogHandler) HandleOutcome(ctx context.Context, event *OutcomeEvent) error {
	attrs := []any{
		"task_id", event.TaskID,
		"status", event.Status,
		"occurred_at", event.OccurredAt,
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	if event.Status == domain.StatusCompleted {
		h.logger.InfoContext(ctx, "task completed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "task concluded unsuccessfully", attrs...)
	}
	return nil
}
