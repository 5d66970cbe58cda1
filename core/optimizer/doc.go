// Package optimizer orders a doctor's queue under arrival and duration
// uncertainty. Emergencies are placed first, the remaining patients are
// inserted greedily at their cheapest position and the result is refined by
// adjacent swaps. Every candidate is scored by replaying the whole sequence.
package optimizer
