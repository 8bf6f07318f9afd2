package api

import (
	"context"
	"net/http"

	"github.com/promptops/dispatch-api/internal/api/shared"
	"github.com/promptops/dispatch-api/internal/dispatch"
)

// LoopController is the operational surface a task loop exposes to the
// control plane. Both loops satisfy it.
type LoopController interface {
	Enable() bool
	Disable() bool
	RunCycle(ctx context.Context) (*dispatch.CycleResult, error)
	Status() dispatch.LoopStatus
}

// LoopHandler handles enable/disable/trigger requests for one task loop.
type LoopHandler struct {
	name string
	loop LoopController
}

// NewLoopHandler creates a LoopHandler for the named loop.
func NewLoopHandler(name string, loop LoopController) *LoopHandler {
	return &LoopHandler{name: name, loop: loop}
}

// Enable handles POST /tasks/{loop}/enable requests. Enabling an already
// enabled loop succeeds and says so.
func (h *LoopHandler) Enable(w http.ResponseWriter, r *http.Request) {
	message := h.name + " loop enabled"
	if !h.loop.Enable() {
		message = h.name + " loop already enabled"
	}
	shared.RespondWithJSON(w, r, http.StatusOK, message, h.loop.Status())
}

// Disable handles POST /tasks/{loop}/disable requests. The change takes
// effect at the next cycle boundary; an in-flight cycle finishes.
func (h *LoopHandler) Disable(w http.ResponseWriter, r *http.Request) {
	message := h.name + " loop disabled"
	if !h.loop.Disable() {
		message = h.name + " loop already disabled"
	}
	shared.RespondWithJSON(w, r, http.StatusOK, message, h.loop.Status())
}

// Trigger handles POST /tasks/{loop}/trigger requests: it runs one cycle
// synchronously and returns its result.
func (h *LoopHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.loop.RunCycle(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, h.name+" cycle completed", result)
}
