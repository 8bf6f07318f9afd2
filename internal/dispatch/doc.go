// Package dispatch runs the two periodic task loops: the submission loop
// that claims PENDING tasks and hands them to the execution service, and the
// polling loop that tracks in-flight tasks to their terminal outcome.
//
// Both loops share the same operational surface: they can be enabled,
// disabled, paused, and manually triggered at runtime, they keep live cycle
// statistics, and they escalate resource exhaustion to the recovery engine
// instead of retrying locally. A loop degrades (pauses, then disables
// itself) when recovery keeps failing; it never crashes.
package dispatch
