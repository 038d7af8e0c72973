// Package money implements fixed-precision currency arithmetic. Amounts
// are carried as int64 minor units (cents) so sums stay exact; fractional
// computation goes through decimal and is rounded once, at the end.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the fixed number of decimal places for currency values.
const Scale = 2

// RateScale is the number of implied decimal places in percentage rates:
// a rate of 550 means 5.50%.
const RateScale = 2

// FromUnits converts minor units to a decimal value.
func FromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -Scale)
}

// ToUnits converts a decimal value to minor units, applying banker's
// rounding at scale 2. This is the only place rounding happens.
func ToUnits(d decimal.Decimal) int64 {
	return d.RoundBank(Scale).Shift(Scale).IntPart()
}

// Percent computes rate percent of amount, where rate carries RateScale
// implied decimals. Intermediate math is exact; rounding applies once.
func Percent(amount int64, rate int64) int64 {
	base := FromUnits(amount)
	pct := decimal.New(rate, -RateScale).Div(decimal.NewFromInt(100))
	return ToUnits(base.Mul(pct))
}

// Parse reads a decimal string ("1234.50") into minor units. Inputs with
// more than Scale decimal places are rejected rather than rounded.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Exponent() < -Scale {
		return 0, fmt.Errorf("amount %q exceeds %d decimal places", s, Scale)
	}
	return d.Shift(Scale).IntPart(), nil
}

// Format renders minor units as a fixed two-decimal string.
func Format(units int64) string {
	return FromUnits(units).StringFixed(Scale)
}
