// Package state tracks per-run conversation progress in a process-wide store.
//
// Invariants:
// - currentStep never exceeds totalSteps.
// - Status transitions only active -> completed | failed | paused.
// - toolsUsed and filesModified accumulate as deduplicated sets.
// - Entries expire on lastActivity age via the periodic sweep.
package state
