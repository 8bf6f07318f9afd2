package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptops/dispatch-api/internal/dispatch"
)

// stubLoop is a minimal LoopController for handler tests.
type stubLoop struct {
	enabled    bool
	runErr     error
	cyclesRun  int64
	lastResult *dispatch.CycleResult
}

func (s *stubLoop) Enable() bool {
	if s.enabled {
		return false
	}
	s.enabled = true
	return true
}

func (s *stubLoop) Disable() bool {
	if !s.enabled {
		return false
	}
	s.enabled = false
	return true
}

func (s *stubLoop) RunCycle(ctx context.Context) (*dispatch.CycleResult, error) {
	if s.runErr != nil {
		return nil, s.runErr
	}
	s.cyclesRun++
	s.lastResult = &dispatch.CycleResult{
		StartedAt:  time.Now().UTC(),
		Processed:  3,
		Succeeded:  2,
		Failed:     1,
		DurationMs: 12,
	}
	return s.lastResult, nil
}

func (s *stubLoop) Status() dispatch.LoopStatus {
	return dispatch.LoopStatus{
		Name:      "submission",
		Enabled:   s.enabled,
		CyclesRun: s.cyclesRun,
	}
}

func TestLoopHandlerEnableDisable(t *testing.T) {
	t.Parallel()

	loop := &stubLoop{enabled: true}
	handler := NewLoopHandler("submission", loop)

	rec := httptest.NewRecorder()
	handler.Disable(rec, httptest.NewRequest(http.MethodPost, "/tasks/submission/disable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "submission loop disabled", decodeEnvelope(t, rec).Message)
	assert.False(t, loop.enabled)

	rec = httptest.NewRecorder()
	handler.Disable(rec, httptest.NewRequest(http.MethodPost, "/tasks/submission/disable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "submission loop already disabled", decodeEnvelope(t, rec).Message)

	rec = httptest.NewRecorder()
	handler.Enable(rec, httptest.NewRequest(http.MethodPost, "/tasks/submission/enable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	envelope := decodeEnvelope(t, rec)
	assert.Equal(t, "submission loop enabled", envelope.Message)
	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, true, data["enabled"])

	rec = httptest.NewRecorder()
	handler.Enable(rec, httptest.NewRequest(http.MethodPost, "/tasks/submission/enable", nil))
	assert.Equal(t, "submission loop already enabled", decodeEnvelope(t, rec).Message)
}

func TestLoopHandlerTrigger(t *testing.T) {
	t.Parallel()

	t.Run("runs one cycle and returns its result", func(t *testing.T) {
		t.Parallel()

		loop := &stubLoop{enabled: true}
		handler := NewLoopHandler("polling", loop)

		rec := httptest.NewRecorder()
		handler.Trigger(rec, httptest.NewRequest(http.MethodPost, "/tasks/polling/trigger", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		envelope := decodeEnvelope(t, rec)
		assert.Equal(t, "polling cycle completed", envelope.Message)
		data := envelope.Data.(map[string]interface{})
		assert.Equal(t, float64(3), data["processed"])
		assert.Equal(t, float64(2), data["succeeded"])
		assert.Equal(t, int64(1), loop.cyclesRun)
	})

	t.Run("cycle failure maps to a safe error response", func(t *testing.T) {
		t.Parallel()

		loop := &stubLoop{enabled: true, runErr: errors.New("host=db.internal port=5432 unreachable")}
		handler := NewLoopHandler("polling", loop)

		rec := httptest.NewRecorder()
		handler.Trigger(rec, httptest.NewRequest(http.MethodPost, "/tasks/polling/trigger", nil))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		envelope := decodeEnvelope(t, rec)
		assert.Equal(t, "An unexpected error occurred", envelope.Message)
		assert.NotContains(t, rec.Body.String(), "db.internal")
	})
}
