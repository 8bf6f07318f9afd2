package lifecycle

import "errors"

var (
	// ErrConcurrentModification is returned when the bounded
	// read-validate-write retry cycle is exhausted by version conflicts.
	// The caller must decide whether to abandon the cycle or start over;
	// the conflict is never silently dropped.
	ErrConcurrentModification = errors.New("task modified concurrently, retries exhausted")
)
