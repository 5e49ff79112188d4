// Package recovery classifies failures and selects bounded recovery actions.
//
// Invariants:
// - Strategy selection is a pure function of (kind, attempts, tier).
// - Once attempts reach the feedback threshold the strategy is always
//   UserFeedback, guaranteeing loop termination.
// - Raw error text never reaches a transcript; each kind maps to a fixed
//   plain-language template.
package recovery
