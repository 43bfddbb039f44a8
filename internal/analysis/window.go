package analysis

import "time"

// MonthStart returns the first instant of t's calendar month in UTC. The
// quota window is [MonthStart(now), now] and records created exactly at the
// boundary count toward the new month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
