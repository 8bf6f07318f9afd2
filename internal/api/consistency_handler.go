package api

import (
	"net/http"

	"github.com/promptops/dispatch-api/internal/api/shared"
	"github.com/promptops/dispatch-api/internal/consistency"
)

// ConsistencyHandler handles on-demand consistency check requests.
type ConsistencyHandler struct {
	checker *consistency.Checker
}

// NewConsistencyHandler creates a new ConsistencyHandler.
func NewConsistencyHandler(checker *consistency.Checker) *ConsistencyHandler {
	return &ConsistencyHandler{checker: checker}
}

// Check handles POST /tasks/consistency/check requests. The autoFix query
// parameter selects between a read-only report and active repair.
func (h *ConsistencyHandler) Check(w http.ResponseWriter, r *http.Request) {
	autoFix := r.URL.Query().Get("autoFix") == "true"

	result, err := h.checker.PerformCheck(r.Context(), autoFix)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, "Consistency check completed", result)
}
