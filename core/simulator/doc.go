// Package simulator replays optimized schedules under sampled arrival and
// duration noise to estimate delay, idle time and overtime, and grid-searches
// optimizer parameters against those estimates.
package simulator
