package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/promptops/dispatch-api/internal/api/shared"
	"github.com/promptops/dispatch-api/internal/health"
)

// HealthHandler exposes the per-resource health monitors.
type HealthHandler struct {
	monitors map[string]*health.Monitor
}

// NewHealthHandler creates a HealthHandler over the given monitors, keyed by
// resource name.
func NewHealthHandler(monitors map[string]*health.Monitor) *HealthHandler {
	return &HealthHandler{monitors: monitors}
}

func (h *HealthHandler) monitorFromPath(w http.ResponseWriter, r *http.Request) (*health.Monitor, bool) {
	resource := chi.URLParam(r, "resource")
	monitor, ok := h.monitors[resource]
	if !ok {
		shared.RespondWithError(w, r, http.StatusNotFound, "Unknown health resource")
		return nil, false
	}
	return monitor, true
}

// Get handles GET /health/{resource} requests.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	monitor, ok := h.monitorFromPath(w, r)
	if !ok {
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, "Health statistics", monitor.Snapshot())
}

// Check handles POST /health/{resource}/check requests: it runs an active
// probe and returns the updated statistics.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	monitor, ok := h.monitorFromPath(w, r)
	if !ok {
		return
	}

	if err := monitor.PerformCheck(r.Context()); err != nil {
		// The probe result is the payload; a failed probe is still a
		// successful check request.
		shared.RespondWithJSON(w, r, http.StatusOK, "Health check failed", monitor.Snapshot())
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, "Health check passed", monitor.Snapshot())
}

// Reset handles POST /health/{resource}/reset requests.
func (h *HealthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	monitor, ok := h.monitorFromPath(w, r)
	if !ok {
		return
	}
	monitor.Reset()
	shared.RespondWithJSON(w, r, http.StatusOK, "Health statistics reset", monitor.Snapshot())
}

// Liveness handles GET /healthz requests. It is the only unauthenticated
// endpoint and reports process liveness, nothing deeper.
func Liveness(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, "ok", nil)
}
