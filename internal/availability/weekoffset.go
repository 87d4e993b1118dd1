package availability

import (
	"math"
	"time"
)

// ResolveWeekOffset computes how many whole weeks ahead of today the target
// date lies, so the availability window can be pointed at the week containing
// it. Both inputs are normalized to local midnight before differencing, which
// avoids partial-day arithmetic errors around DST and late-evening fetches.
//
// A target in the past returns ok=false: the window is never navigated
// backward to chase a stale saved selection.
func ResolveWeekOffset(today, target time.Time) (int, bool) {
	from := Midnight(today)
	to := Midnight(target)

	// Round rather than truncate: a DST transition makes one day in the
	// span 23 or 25 hours long.
	days := int(math.Round(to.Sub(from).Hours() / 24))
	if days < 0 {
		return 0, false
	}
	return days / 7, true
}

// WeekStart returns the first day of the window that is offset whole weeks
// after today, at local midnight.
func WeekStart(today time.Time, offset int) time.Time {
	return Midnight(today).AddDate(0, 0, offset*DaysPerWeek)
}
