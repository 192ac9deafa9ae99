package generic

import "time"

// =============================================================================
// CALENDAR ENGINE - Pure month arithmetic, no side effects
// =============================================================================

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DueDateForPeriod returns dueDay in the given month, clamped to the month's
// last day when the month is shorter (Feb 30 -> Feb 28/29, Apr 31 -> Apr 30).
// dueDay below 1 is treated as 1.
func DueDateForPeriod(year int, month time.Month, dueDay int) Date {
	if dueDay < 1 {
		dueDay = 1
	}
	if last := DaysIn(year, month); dueDay > last {
		dueDay = last
	}
	return NewDate(year, month, dueDay)
}

// NextPeriod advances one calendar month, rolling December into January.
func NextPeriod(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

// AddMonthsClamped moves d by n months keeping its day-of-month, clamped to
// the target month's length. Unlike time.AddDate, Jan 31 + 1 month is Feb 28
// (or 29), never Mar 3.
func AddMonthsClamped(d Date, n int) Date {
	total := int(d.Month()) - 1 + n
	year := d.Year() + total/12
	m := total % 12
	if m < 0 {
		m += 12
		year--
	}
	return DueDateForPeriod(year, time.Month(m+1), d.Day())
}

// EndOfMonth returns the last day of the month.
func EndOfMonth(year int, month time.Month) Date {
	return NewDate(year, month, DaysIn(year, month))
}
