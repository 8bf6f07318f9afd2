// Package recovery classifies infrastructure failures into a closed taxonomy
// and drives bounded, concurrent remediation. It is the fallback path the
// task loops and the consistency checker invoke when they hit an
// infrastructure-class failure, never something they call routinely. Every
// attempt is bounded by a hard timeout, recorded in a bounded history, and
// summarized in rolling statistics; an action's own failure is recorded,
// never propagated to the caller.
package recovery
