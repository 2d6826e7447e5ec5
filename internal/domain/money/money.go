// Package money implements fixed-point currency arithmetic on top of
// shopspring/decimal. Every monetary value in checkout passes through these
// helpers so that rounding happens at explicit, well-known scales.
package money

import (
	"github.com/shopspring/decimal"
)

const (
	// Scale is the number of decimal places kept for currency amounts.
	Scale int32 = 2
	// RateScale is the scale used for intermediate ratios and rates.
	RateScale int32 = 6
)

// Cent is the smallest representable currency unit.
var Cent = decimal.New(1, -Scale)

// Round rounds d to currency scale, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Floor truncates d to currency scale towards zero.
func Floor(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// Add returns a+b rounded to currency scale.
func Add(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Add(b))
}

// Sub returns a-b rounded to currency scale.
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Sub(b))
}

// Mul returns a*b rounded to the given scale.
func Mul(a, b decimal.Decimal, scale int32) decimal.Decimal {
	return a.Mul(b).Round(scale)
}

// MulQty multiplies a unit amount by an integral quantity.
func MulQty(unit decimal.Decimal, qty int) decimal.Decimal {
	return Round(unit.Mul(decimal.NewFromInt(int64(qty))))
}

// Div returns a/b rounded to the given scale. A zero denominator yields
// (zero, false) instead of panicking.
func Div(a, b decimal.Decimal, scale int32) (decimal.Decimal, bool) {
	if b.IsZero() {
		return decimal.Zero, false
	}
	return a.DivRound(b, scale), true
}

// Rate returns part/whole at RateScale. When whole is zero the rate is 1, so a
// zero-valued order never blocks a discount that would cover it entirely.
func Rate(part, whole decimal.Decimal) decimal.Decimal {
	r, ok := Div(part, whole, RateScale)
	if !ok {
		return decimal.NewFromInt(1)
	}
	return r
}

// Compare returns -1, 0 or +1 depending on whether a is less than, equal to or
// greater than b.
func Compare(a, b decimal.Decimal) int {
	return a.Cmp(b)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
