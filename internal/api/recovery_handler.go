package api

import (
	"net/http"
	"strconv"

	"github.com/promptops/dispatch-api/internal/api/shared"
	"github.com/promptops/dispatch-api/internal/recovery"
)

// RecoveryHandler handles manual recovery operations.
type RecoveryHandler struct {
	engine *recovery.Engine
}

// NewRecoveryHandler creates a new RecoveryHandler.
func NewRecoveryHandler(engine *recovery.Engine) *RecoveryHandler {
	return &RecoveryHandler{engine: engine}
}

// triggerAcceptedResponse is the payload returned when an attempt is
// accepted; the attempt itself concludes asynchronously.
type triggerAcceptedResponse struct {
	AttemptID   string `json:"attempt_id"`
	FailureType string `json:"failure_type"`
	State       string `json:"state"`
}

// Trigger handles POST /recovery/trigger requests.
func (h *RecoveryHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	failureType, err := recovery.ParseFailureType(r.URL.Query().Get("failureType"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"Invalid failureType: must be one of the known failure types")
		return
	}
	description := r.URL.Query().Get("description")

	attempt, err := h.engine.TriggerRecovery(r.Context(), failureType, description, recovery.TriggeredManual)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, "Recovery attempt accepted", triggerAcceptedResponse{
		AttemptID:   attempt.ID.String(),
		FailureType: string(attempt.FailureType),
		State:       string(attempt.State()),
	})
}

// History handles GET /recovery/history requests.
func (h *RecoveryHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest,
				"Invalid limit: must be a positive integer")
			return
		}
		limit = parsed
	}
	shared.RespondWithJSON(w, r, http.StatusOK, "Recovery history", h.engine.History(limit))
}

// ClearHistory handles POST /recovery/history/clear requests.
func (h *RecoveryHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearHistory()
	shared.RespondWithJSON(w, r, http.StatusOK, "Recovery history cleared", nil)
}

// Stats handles GET /recovery/stats requests.
func (h *RecoveryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, "Recovery statistics", h.engine.Stats())
}

// Configure handles POST /recovery/configuration requests: the body is the
// full engine configuration, validated before it takes effect.
func (h *RecoveryHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var cfg recovery.Config
	if err := shared.DecodeJSON(r, &cfg); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.engine.Configure(cfg); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest,
			"Invalid recovery configuration: values out of allowed ranges", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, "Recovery configuration updated", h.engine.Configuration())
}

// Configuration handles GET /recovery/configuration requests.
func (h *RecoveryHandler) Configuration(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, "Recovery configuration", h.engine.Configuration())
}
