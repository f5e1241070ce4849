package poller

import "time"

// DefaultInterval is the spacing of the wake-up grid.
const DefaultInterval = 5 * time.Second

// NextAlignedWake returns the first instant strictly after reference that
// lies on the interval grid. For intervals under a minute the grid restarts
// at every minute boundary, so :13.4 maps to :15.000 and :15.000 to :20.000.
// The result depends only on reference, not on how long a cycle took.
func NextAlignedWake(reference time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval >= time.Minute {
		return reference.Truncate(interval).Add(interval)
	}

	minute := reference.Truncate(time.Minute)
	steps := reference.Sub(minute) / interval
	next := minute.Add((steps + 1) * interval)
	if limit := minute.Add(time.Minute); next.After(limit) {
		next = limit
	}
	return next
}
