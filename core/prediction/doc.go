// Package prediction estimates per-patient quantile distributions for arrival
// offset and consultation duration from historical samples, and classifies
// clinical priority from symptoms and vital signs. Predictors never fail:
// when history is sparse they fall back to heuristic defaults.
package prediction
