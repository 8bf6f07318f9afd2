// Package api implements the HTTP control plane: task creation and status
// queries, manual transitions, loop control, consistency checks, recovery
// operations, and health monitoring. Every endpoint responds with the shared
// envelope and, except for the liveness probe, requires an operator bearer
// token.
package api
