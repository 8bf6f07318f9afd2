package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/promptops/dispatch-api/internal/api/shared"
	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/lifecycle"
)

// Defaults for the transition statistics queries.
const (
	defaultStatsWindowMinutes = 60
	defaultPathsLimit         = 10
)

// TaskHandler handles task lifecycle HTTP requests.
type TaskHandler struct {
	manager   *lifecycle.StatusManager
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(manager *lifecycle.StatusManager) *TaskHandler {
	return &TaskHandler{
		manager:   manager,
		validator: validator.New(),
	}
}

// CreateTask handles POST /tasks requests.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: payload is required")
		return
	}

	task, err := h.manager.CreateTask(r.Context(), req.Payload)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, "Task created", TaskResponse{
		ID:        task.ID.String(),
		Status:    string(task.Status),
		Version:   task.Version,
		CreatedAt: task.CreatedAt,
	})
}

// GetStatus handles GET /tasks/{id}/status requests.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDFromPath(w, r)
	if !ok {
		return
	}

	snapshot, err := h.manager.GetStatus(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	history, err := h.manager.History(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	response := TaskStatusResponse{
		ID:             snapshot.TaskID.String(),
		Status:         string(snapshot.Status),
		Version:        snapshot.Version,
		RetryCount:     snapshot.RetryCount,
		SubmissionTime: snapshot.SubmissionTime,
		ExecutionTime:  snapshot.ExecutionTime,
		LastError:      snapshot.LastError,
		CreatedAt:      snapshot.CreatedAt,
		UpdatedAt:      snapshot.UpdatedAt,
		History:        make([]TransitionRecord, 0, len(history)),
	}
	for _, record := range history {
		response.History = append(response.History, TransitionRecord{
			FromStatus:       string(record.FromStatus),
			ToStatus:         string(record.ToStatus),
			Reason:           record.Reason,
			Actor:            record.Actor,
			ResultingVersion: record.ResultingVersion,
			CreatedAt:        record.CreatedAt,
		})
	}

	shared.RespondWithJSON(w, r, http.StatusOK, "Task status", response)
}

// Transition handles POST /tasks/{id}/transition requests. The target
// status, reason, and force flag come from query parameters; force switches
// from strict validation to a manual override.
func (h *TaskHandler) Transition(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskIDFromPath(w, r)
	if !ok {
		return
	}
	actor, ok := shared.GetActor(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Operator identity not found")
		return
	}

	target, err := domain.ParseStatus(r.URL.Query().Get("newStatus"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			"Invalid newStatus: must be one of the task lifecycle statuses")
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "reason query parameter is required")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	var version int64
	if force {
		version, err = h.manager.Override(r.Context(), taskID, target, reason, actor)
	} else {
		version, err = h.manager.Transition(r.Context(), taskID, target, reason, actor)
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, "Transition committed", TransitionResponse{
		ID:      taskID.String(),
		Status:  string(target),
		Version: version,
	})
}

// StatusCounts handles GET /tasks/counts requests, reporting how many tasks
// sit in each lifecycle status.
func (h *TaskHandler) StatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.manager.StatusCounts(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, "Task status counts", counts)
}

// TransitionStats handles GET /tasks/transitions/stats requests.
func (h *TaskHandler) TransitionStats(w http.ResponseWriter, r *http.Request) {
	windowMinutes := defaultStatsWindowMinutes
	if raw := r.URL.Query().Get("windowMinutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest,
				"Invalid windowMinutes: must be a positive integer")
			return
		}
		windowMinutes = parsed
	}

	stats, err := h.manager.WindowStats(r.Context(), time.Duration(windowMinutes)*time.Minute)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, "Transition statistics", stats)
}

// TransitionPaths handles GET /tasks/transitions/paths requests.
func (h *TaskHandler) TransitionPaths(w http.ResponseWriter, r *http.Request) {
	limit := defaultPathsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest,
				"Invalid limit: must be a positive integer")
			return
		}
		limit = parsed
	}

	paths, err := h.manager.CommonPaths(r.Context(), limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, "Common transition paths", paths)
}

func (h *TaskHandler) taskIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return uuid.Nil, false
	}
	return taskID, true
}
