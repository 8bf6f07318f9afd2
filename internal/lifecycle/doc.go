// Package lifecycle contains the StatusManager, the single authority for
// validating and committing task status transitions. Every transition is
// committed with optimistic concurrency (a versioned conditional write plus
// an audit record in one transaction) so that concurrent callers racing on
// the same task are resolved by version conflict, never by overwrite.
package lifecycle
