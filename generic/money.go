package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Amounts in minor currency units
// =============================================================================

// Money is an amount in minor units (cents). Stored and compared as int64;
// decimal is only involved at the human boundary (parsing and display).
type Money int64

// minorExponent is the number of decimal places between major and minor units.
const minorExponent = 2

// ParseMoney parses a major-unit string ("50.00") into minor units.
// More than two decimal places is rejected rather than rounded, and so
// is anything that does not fit in int64 minor units.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	minor := d.Shift(minorExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, minorExponent)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("invalid amount %q: out of range", s)
	}
	return Money(minor.IntPart()), nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -minorExponent)
}

func (m Money) IsPositive() bool { return m > 0 }

// String renders major units with two decimals ("5000" -> "50.00").
func (m Money) String() string {
	return m.Decimal().StringFixed(minorExponent)
}
