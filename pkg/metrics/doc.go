// Package metrics aggregates per-run execution metrics.
//
// Invariants:
// - Rates and averages are recomputed from raw counters on every update.
// - successRate + errorRate == 1 whenever any tool executed, else both 0.
package metrics
