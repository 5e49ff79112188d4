// Package complexity scores a request into a complexity tier that sizes the
// step budget and selects the model.
//
// Invariants:
// - Scores are clamped to [0,1]; the score is the max over matched category
//   weights, never a sum.
// - Classify never fails; the worst case is the neutral fallback score.
// - Cached results carry a "cached" factor tag on repeat lookups within TTL.
package complexity
