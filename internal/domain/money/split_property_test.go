package money

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

func cents(vs []int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = decimal.New(v, -Scale)
	}
	return out
}

func TestSplitProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	weightsGen := gen.SliceOfN(8, gen.Int64Range(0, 10_000_000)).
		SuchThat(func(v []int64) bool { return len(v) > 0 })

	properties.Property("parts sum exactly to total", prop.ForAll(
		func(total int64, weights []int64) bool {
			t := decimal.New(total, -Scale)
			return Sum(Split(t, cents(weights))...).Equal(t)
		},
		gen.Int64Range(0, 100_000_000),
		weightsGen,
	))

	properties.Property("no part is negative", prop.ForAll(
		func(total int64, weights []int64) bool {
			for _, p := range Split(decimal.New(total, -Scale), cents(weights)) {
				if p.IsNegative() {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 100_000_000),
		weightsGen,
	))

	properties.Property("capped parts stay within caps and sum to min(total, caps)", prop.ForAll(
		func(total int64, caps []int64) bool {
			c := cents(caps)
			parts := SplitCapped(decimal.New(total, -Scale), c)
			for i := range parts {
				if parts[i].GreaterThan(c[i]) || parts[i].IsNegative() {
					return false
				}
			}
			want := Min(decimal.New(total, -Scale), Sum(c...))
			return Sum(parts...).Equal(want)
		},
		gen.Int64Range(0, 100_000_000),
		weightsGen,
	))

	properties.TestingRun(t)
}
