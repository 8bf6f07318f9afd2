package api

import (
	"errors"
	"net/http"

	"github.com/promptops/dispatch-api/internal/auth"
	"github.com/promptops/dispatch-api/internal/domain"
	"github.com/promptops/dispatch-api/internal/lifecycle"
	"github.com/promptops/dispatch-api/internal/recovery"
	"github.com/promptops/dispatch-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// leaking internal error types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Concurrency conflicts
	case errors.Is(err, lifecycle.ErrConcurrentModification),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict

	// Lifecycle rule violations
	case errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusUnprocessableEntity

	// Bad request errors
	case errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidTask),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, recovery.ErrUnknownFailureType),
		errors.Is(err, recovery.ErrNoAction):
		return http.StatusBadRequest

	// Engine at capacity
	case errors.Is(err, recovery.ErrRecoveryBusy):
		return http.StatusTooManyRequests

	// Transient infrastructure trouble
	case errors.Is(err, store.ErrResourceExhausted),
		errors.Is(err, store.ErrTransient):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-facing message for the
// error. Internal detail stays in the logs.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken),
		errors.Is(err, auth.ErrTokenNotYetValid):
		return "Invalid token"

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, lifecycle.ErrConcurrentModification),
		errors.Is(err, store.ErrVersionConflict):
		return "Task was modified concurrently; retry the operation"

	case errors.Is(err, domain.ErrIllegalTransition):
		return "Requested status transition is not allowed"

	case errors.Is(err, domain.ErrInvalidStatus):
		return "Unknown task status"

	case errors.Is(err, domain.ErrInvalidTask),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid task data"

	case errors.Is(err, recovery.ErrUnknownFailureType):
		return "Unknown failure type"

	case errors.Is(err, recovery.ErrNoAction):
		return "No recovery action registered for this failure type"

	case errors.Is(err, recovery.ErrRecoveryBusy):
		return "Recovery engine is at capacity; retry later"

	case errors.Is(err, store.ErrResourceExhausted),
		errors.Is(err, store.ErrTransient):
		return "Service temporarily unavailable"

	default:
		return "An unexpected error occurred"
	}
}
