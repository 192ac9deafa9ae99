/*
Package generic provides the calendar, money and error primitives shared by
the rental engine.

PURPOSE:
  Nothing in this package knows about tenants, landlords or payments. It
  answers calendar questions ("what is the 31st of February?"), carries
  money in minor units, and defines the error vocabulary every layer
  speaks.

KEY CONCEPTS:
  - Date:          A calendar day in UTC (no time-of-day component)
  - BillingPeriod: One calendar month, the unit of the rent schedule
  - Money:         An amount in minor currency units (cents)

SEE ALSO:
  - calendar.go: Due-day clamping and month iteration
  - period.go:   BillingPeriod and period keys
  - errors.go:   Sentinel and structured errors
*/
package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - A calendar day (this engine bills by day, never by hour)
// =============================================================================

// Date is a calendar day normalized to midnight UTC.
// The zero value means "no date".
type Date struct {
	t time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a date. Out-of-range days normalize the way time.Date does;
// use DueDateForPeriod when clamping is wanted.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustParseDate panics on malformed input. Tests and fixtures only.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.t.Before(o.t) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }
func (d Date) IsZero() bool      { return d.t.IsZero() }
func (d Date) Time() time.Time   { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

// DaysBetween returns the whole number of days from -> to (negative if to is earlier).
func DaysBetween(from, to Date) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// Today returns the current UTC day according to clock.
func Today(clock func() time.Time) Date {
	if clock == nil {
		clock = time.Now
	}
	return DateOf(clock())
}
