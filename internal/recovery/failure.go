package recovery

import (
	"errors"
	"fmt"
)

// FailureType is the closed set of infrastructure failure classes the
// engine knows how to remediate.
type FailureType string

const (
	FailureDatabaseConnection  FailureType = "database_connection_failed"
	FailureMemoryHighUsage     FailureType = "memory_high_usage"
	FailureNetwork             FailureType = "network_failure"
	FailureThreadPoolExhausted FailureType = "thread_pool_exhausted"
	FailureDiskSpaceLow        FailureType = "disk_space_low"
	FailureSystemOverload      FailureType = "system_overload"
)

// AllFailureTypes lists every member of the closed set.
func AllFailureTypes() []FailureType {
	return []FailureType{
		FailureDatabaseConnection,
		FailureMemoryHighUsage,
		FailureNetwork,
		FailureThreadPoolExhausted,
		FailureDiskSpaceLow,
		FailureSystemOverload,
	}
}

// ErrUnknownFailureType is returned when a trigger names a failure type
// outside the closed set.
var ErrUnknownFailureType = errors.New("unknown failure type")

// ParseFailureType converts a string into a FailureType.
func ParseFailureType(raw string) (FailureType, error) {
	ft := FailureType(raw)
	for _, known := range AllFailureTypes() {
		if ft == known {
			return ft, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFailureType, raw)
}

// TriggeredBy records whether a recovery was requested by an automated
// component or a human operator.
type TriggeredBy string

const (
	TriggeredAutomatic TriggeredBy = "automatic"
	TriggeredManual    TriggeredBy = "manual"
)
