package engine

import "time"

// rateLimiter tracks optimization passes over a rolling hour.
type rateLimiter struct {
	last    time.Time
	history []time.Time
}

func (r *rateLimiter) prune(now time.Time) {
	i := 0
	for i < len(r.history) && now.Sub(r.history[i]) >= time.Hour {
		i++
	}
	r.history = r.history[i:]
}

// count returns the passes within the hour preceding now.
func (r *rateLimiter) count(now time.Time) int {
	r.prune(now)
	return len(r.history)
}

// saturated reports whether the hourly cap is reached. A cap of 0 disables
// the check.
func (r *rateLimiter) saturated(now time.Time, maxPerHour int) bool {
	return maxPerHour > 0 && r.count(now) >= maxPerHour
}

// allow decides whether a non-emergency event may trigger a pass.
func (r *rateLimiter) allow(now time.Time, threshold time.Duration, maxPerHour int) bool {
	if !r.last.IsZero() && now.Sub(r.last) < threshold {
		return false
	}
	return !r.saturated(now, maxPerHour)
}

func (r *rateLimiter) record(now time.Time) {
	r.last = now
	r.history = append(r.history, now)
}
