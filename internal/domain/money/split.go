package money

import (
	"github.com/shopspring/decimal"
)

// Split divides total into len(weights) parts proportional to weights. Every
// part except the last is truncated to currency scale; the last part absorbs
// the remainder so the parts always sum exactly to Round(total).
//
// Negative weights count as zero. When all weights are zero the total is
// divided evenly by count, again with the remainder on the last part.
func Split(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	n := len(weights)
	if n == 0 {
		return nil
	}
	total = Round(total)
	parts := make([]decimal.Decimal, n)

	clean := make([]decimal.Decimal, n)
	sum := decimal.Zero
	for i, w := range weights {
		clean[i] = NonNegative(w)
		sum = sum.Add(clean[i])
	}
	if sum.IsZero() {
		for i := range clean {
			clean[i] = decimal.NewFromInt(1)
		}
		sum = decimal.NewFromInt(int64(n))
	}

	assigned := decimal.Zero
	for i := 0; i < n-1; i++ {
		ratio, _ := Div(clean[i], sum, RateScale*2)
		parts[i] = Floor(total.Mul(ratio))
		assigned = assigned.Add(parts[i])
	}
	parts[n-1] = total.Sub(assigned)
	return parts
}

// SplitCapped is Split where each weight is also the maximum its part may
// receive, as when a discount is prorated over line prices. The total is
// first capped at the sum of caps; any overflow of the last part is moved
// backwards onto earlier parts that still have headroom.
func SplitCapped(total decimal.Decimal, caps []decimal.Decimal) []decimal.Decimal {
	n := len(caps)
	if n == 0 {
		return nil
	}
	capSum := decimal.Zero
	for _, c := range caps {
		capSum = capSum.Add(NonNegative(c))
	}
	total = Min(Round(NonNegative(total)), Round(capSum))

	parts := Split(total, caps)
	for i := range parts {
		limit := NonNegative(caps[i])
		if !parts[i].GreaterThan(limit) {
			continue
		}
		excess := parts[i].Sub(limit)
		parts[i] = limit
		for j := n - 1; j >= 0 && excess.IsPositive(); j-- {
			if j == i {
				continue
			}
			room := NonNegative(caps[j]).Sub(parts[j])
			if !room.IsPositive() {
				continue
			}
			move := Min(room, excess)
			parts[j] = parts[j].Add(move)
			excess = excess.Sub(move)
		}
	}
	return parts
}
