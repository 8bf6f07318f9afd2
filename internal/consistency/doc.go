// Package consistency reconciles task statuses against store ground truth.
//
// The checker scans every non-terminal task, re-derives the status the
// stored evidence supports (recorded timestamps and the audit trail), and
// reports divergences. With auto-fix on, divergences are repaired through
// the status manager's repair mode so every correction is version-guarded
// and audited. A read-only check never writes anything.
package consistency
