package checkout

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/money"
)

// randomCart spreads the generated prices over three merchants, the first of
// which forbids coupons on membership-priced lines.
func randomCart(prices []int64, couponCents, points int64) PipelineInput {
	merchants := []catalog.Merchant{
		{ID: 1, MembershipEnabled: true, PointRate: d("0.3")},
		{ID: 2, MembershipEnabled: true, CouponsStackWithMembership: true, PointRate: d("1")},
		{ID: 3},
	}
	byMerchant := make(map[int64][]CartLine)
	for i, p := range prices {
		m := merchants[i%len(merchants)]
		l := line(int64(i+1), m.ID, "0", 1+i%3)
		l.UnitPrice = decimal.New(p, -money.Scale)
		if i%2 == 0 {
			l.MemberPrice = money.Floor(l.UnitPrice.Mul(d("0.9")))
			l.MembershipEligible = true
		}
		byMerchant[m.ID] = append(byMerchant[m.ID], l)
	}
	in := PipelineInput{
		Member:    catalog.Member{Points: points, SvipExpireAt: ptr(testNow.Add(time.Hour))},
		Selection: Selection{AutoCoupons: true, UsePoints: true},
		Now:       testNow,
	}
	face := decimal.New(couponCents, -money.Scale)
	for _, m := range merchants {
		if lines := byMerchant[m.ID]; len(lines) > 0 {
			in.Partitions = append(in.Partitions, partition(m, lines...))
			in.Coupons = append(in.Coupons, newCoupon(100+m.ID, coupon.ScopeStore, m.ID, face.String(), "0"))
		}
	}
	in.Coupons = append(in.Coupons, newCoupon(1, coupon.ScopePlatform, 0, face.String(), "0"))
	return in
}

func TestPipelineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	pricesGen := gen.SliceOfN(7, gen.Int64Range(1, 5_000_00)).
		SuchThat(func(v []int64) bool { return len(v) > 0 })
	couponGen := gen.Int64Range(1, 300_00)
	pointsGen := gen.Int64Range(0, 50_000)
	pipeline := NewPipeline(Settings{PointsEnabled: true, PointValue: d("0.01")})

	properties.Property("line payables add up to merchant and quote totals", prop.ForAll(
		func(prices []int64, couponCents, points int64) bool {
			res, err := pipeline.Run(randomCart(prices, couponCents, points))
			if err != nil {
				return false
			}
			in := randomCart(prices, couponCents, points)
			q := assemble(in.Partitions, res, res.Lines)
			total := decimal.Zero
			for _, m := range q.Merchants {
				sum := decimal.Zero
				for _, l := range m.Lines {
					if l.Payable.IsNegative() {
						return false
					}
					sum = sum.Add(l.Payable)
					spent := l.SvipDiscount.Add(l.ProductCoupon).Add(l.StoreCoupon).Add(l.PlatformCoupon).Add(l.PointsDeduction)
					if !l.Original.Sub(spent).Equal(l.Payable) {
						return false
					}
				}
				if !sum.Equal(m.Payable) {
					return false
				}
				total = total.Add(m.Total)
			}
			return total.Equal(q.Total) && q.Original.Sub(q.Discounts.Total()).Equal(q.Payable)
		},
		pricesGen, couponGen, pointsGen,
	))

	properties.Property("coupons never exceed face value", prop.ForAll(
		func(prices []int64, couponCents, points int64) bool {
			res, err := pipeline.Run(randomCart(prices, couponCents, points))
			if err != nil {
				return false
			}
			face := decimal.New(couponCents, -money.Scale)
			for _, a := range res.Allocations {
				if a.CouponID == 0 {
					continue
				}
				sum := decimal.Zero
				for _, s := range a.Shares {
					sum = sum.Add(s.Amount)
				}
				if !sum.Equal(a.Amount) || a.Amount.GreaterThan(face) {
					return false
				}
			}
			return true
		},
		pricesGen, couponGen, pointsGen,
	))

	properties.Property("redeemed points stay within the balance", prop.ForAll(
		func(prices []int64, couponCents, points int64) bool {
			res, err := pipeline.Run(randomCart(prices, couponCents, points))
			if err != nil {
				return false
			}
			var used int64
			for _, l := range res.Lines {
				used += l.PointsUsed
			}
			return used == res.PointsUsed && used <= points
		},
		pricesGen, couponGen, pointsGen,
	))

	properties.TestingRun(t)
}
