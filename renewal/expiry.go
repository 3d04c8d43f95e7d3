package renewal

import (
	"math"
	"time"
)

// =============================================================================
// EXPIRY CALCULATOR - Pure date arithmetic, no I/O
// =============================================================================

const DateLayout = "2006-01-02"

// DaysUntilExpiry returns ceil((expiry - now) / 1 day). Negative once the
// expiry instant has passed by at least a full day.
func DaysUntilExpiry(expiry, now time.Time) int {
	days := expiry.Sub(now).Hours() / 24
	return int(math.Ceil(days))
}

// DeriveEndDate returns start + termYears calendar years.
func DeriveEndDate(start time.Time, termYears int) time.Time {
	return AddYears(start, termYears)
}

// AddYears adds n calendar years, clamping the day to the last day of the
// target month (Feb 29 + 1y = Feb 28). time.AddDate would roll into March.
func AddYears(t time.Time, n int) time.Time {
	year := t.Year() + n
	day := t.Day()
	if last := daysIn(t.Month(), year); day > last {
		day = last
	}
	return time.Date(year, t.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(month time.Month, year int) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ExpiryInstant places a calendar date at midnight in loc.
func ExpiryInstant(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
}

// ResolveEndDate picks the supplied end date, or derives one from the term.
// Any policy type with no end date and a positive term ends at start + term.
// ok is false when neither is available.
func ResolveEndDate(start time.Time, end *time.Time, termYears int) (time.Time, bool) {
	if end != nil && !end.IsZero() {
		return *end, true
	}
	if termYears > 0 {
		return DeriveEndDate(start, termYears), true
	}
	return time.Time{}, false
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns the calendar date in UTC.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
