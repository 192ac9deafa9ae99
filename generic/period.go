package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// BILLING PERIOD - One calendar month
// =============================================================================

// BillingPeriod is a single calendar month. Exactly one rent payment exists
// per rental per billing period.
type BillingPeriod struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the billing period containing d.
func PeriodOf(d Date) BillingPeriod {
	return BillingPeriod{Year: d.Year(), Month: d.Month()}
}

// ParsePeriod parses a "YYYY-MM" key.
func ParsePeriod(key string) (BillingPeriod, error) {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return BillingPeriod{}, fmt.Errorf("invalid period %q: %w", key, err)
	}
	return BillingPeriod{Year: t.Year(), Month: t.Month()}, nil
}

// Key is the storage key for the period ("2025-02"). Keys sort chronologically.
func (p BillingPeriod) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Next returns the following calendar month.
func (p BillingPeriod) Next() BillingPeriod {
	y, m := NextPeriod(p.Year, p.Month)
	return BillingPeriod{Year: y, Month: m}
}

// Before reports whether p is an earlier month than o.
func (p BillingPeriod) Before(o BillingPeriod) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// DueDate returns the clamped due date for this period.
func (p BillingPeriod) DueDate(dueDay int) Date {
	return DueDateForPeriod(p.Year, p.Month, dueDay)
}

// Start returns the first day of the period.
func (p BillingPeriod) Start() Date { return NewDate(p.Year, p.Month, 1) }

// End returns the last day of the period.
func (p BillingPeriod) End() Date { return EndOfMonth(p.Year, p.Month) }

// String renders the period for humans ("February 2025").
func (p BillingPeriod) String() string {
	return fmt.Sprintf("%s %d", p.Month, p.Year)
}
