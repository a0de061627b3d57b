// Package busday provides business-day arithmetic over UTC calendar dates.
// Weekends are Saturday and Sunday; holiday calendars are not modeled.
package busday

import (
	"sort"
	"time"
)

// WindowRadius is the number of business days expanded on each side of an
// anchor when building a candidate window.
const WindowRadius = 2

// IsWeekend reports whether the date falls on a UTC Saturday or Sunday.
func IsWeekend(d time.Time) bool {
	switch d.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

// Truncate drops the time component, keeping the UTC calendar date.
func Truncate(d time.Time) time.Time {
	u := d.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Add shifts the date by n business days, walking one calendar day at a time
// and skipping weekends. Negative n walks backward.
func Add(d time.Time, n int) time.Time {
	day := Truncate(d)
	step := 1
	if n < 0 {
		step = -1
		n = -n
	}
	for i := 0; i < n; i++ {
		day = day.AddDate(0, 0, step)
		for IsWeekend(day) {
			day = day.AddDate(0, 0, step)
		}
	}
	return day
}

// CandidateDates returns the anchor plus the two preceding and two following
// business days, deduplicated and sorted ascending. A zero anchor yields nil.
func CandidateDates(anchor time.Time) []time.Time {
	if anchor.IsZero() {
		return nil
	}
	base := Truncate(anchor)
	seen := map[time.Time]struct{}{}
	var dates []time.Time
	for _, offset := range []int{0, -WindowRadius, -1, 1, WindowRadius} {
		d := Add(base, offset)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
