// Package execution provides the client for the remote execution service: an
// HTTP API that accepts a prompt task payload and eventually reports its
// outcome. Submissions can be long-running, so the client carries a short
// connect timeout and a much longer response timeout, and it classifies every
// failure as either business, transient, or resource exhaustion so callers
// can apply the right retry and escalation policy.
package execution
