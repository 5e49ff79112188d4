// Package budget plans step budgets per complexity tier and picks the model.
//
// Invariants:
// - Every plan leads with a hard step ceiling, so runs always terminate.
// - Stop conditions evaluate in order, first-match-wins.
// - Overrides replace the canonical config, never merge with it.
package budget
