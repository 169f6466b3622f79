package domain

import "time"

// CycleStart returns the start of the billing cycle containing now, for a
// cycle anchored at anchor. Computed in closed form rather than by
// stepping month by month from the anchor.
//
// AddDate normalizes instead of clamping, so an anchor on the 29th-31st
// can overshoot a short month (Jan 31 plus one month is Mar 3). The loop
// walks back until the start is at or before now.
func CycleStart(anchor, now time.Time) time.Time {
	anchor = anchor.UTC()
	now = now.UTC()
	if !anchor.Before(now) {
		return anchor
	}
	months := (now.Year()-anchor.Year())*12 + int(now.Month()-anchor.Month())
	start := anchor.AddDate(0, months, 0)
	for start.After(now) {
		months--
		start = anchor.AddDate(0, months, 0)
	}
	return start
}

// CycleEnd returns the exclusive end of the billing cycle containing now.
func CycleEnd(anchor, now time.Time) time.Time {
	return CycleStart(anchor, now).AddDate(0, 1, 0)
}
