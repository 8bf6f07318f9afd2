package execution

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Client error classes. Business failures never appear here: they arrive as
// a well-formed Outcome with StateFailed.
var (
	// ErrTransient marks failures worth retrying locally: timeouts,
	// refused or reset connections, server-side 5xx responses.
	ErrTransient = errors.New("transient execution service failure")

	// ErrResourceExhausted marks failures caused by an unavailable shared
	// resource (file descriptors, remote capacity). Never retried locally;
	// escalated to the recovery engine instead.
	ErrResourceExhausted = errors.New("execution service resource exhausted")

	// ErrTaskUnknown is returned when the execution service has no record of
	// the task. The consistency checker adjudicates what that means.
	ErrTaskUnknown = errors.New("task unknown to execution service")
)

// IsTransient checks whether the error is a retryable infrastructure failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsResourceExhausted checks whether the error is a resource-exhaustion
// failure that must be escalated rather than retried.
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrResourceExhausted)
}

// classifyTransportError wraps a raw transport error with the sentinel
// matching its failure class. Timeouts and connection-level failures are
// transient; descriptor exhaustion is a resource failure.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}

	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.EADDRNOTAVAIL} {
		if errors.Is(err, errno) {
			return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransient, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	// Unrecognized transport failures are treated as transient rather than
	// silently terminal, so a task is never errored out on a guess.
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
