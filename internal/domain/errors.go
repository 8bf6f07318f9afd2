package domain

import "errors"

// Domain validation errors. Infrastructure errors (not found, version
// conflicts) belong to the store layer, not here.
var (
	// ErrInvalidStatus is returned when a string does not name a member of
	// the closed task status set.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidTask is returned when a task fails validation before being
	// created or stored.
	ErrInvalidTask = errors.New("invalid task")

	// ErrIllegalTransition is returned when a requested status change is not
	// permitted by the legality table for the requested mode.
	ErrIllegalTransition = errors.New("illegal status transition")
)
