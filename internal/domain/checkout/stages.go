package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/money"
)

// membershipStage replaces the unit price with the membership price on
// eligible lines of an active member.
func membershipStage(in *PipelineInput, _ *pipelineState, lines []PricedLine) (stageOutput, error) {
	var out stageOutput
	if !in.Member.SvipActive(in.Now) {
		return out, nil
	}
	for _, part := range in.Partitions {
		a := Allocation{Stage: StageMembership, MerchantID: part.MerchantID, Amount: decimal.Zero}
		for _, l := range linesOf(lines, part.MerchantID) {
			if !l.Type.Capability().MembershipEligible || !l.MembershipEligible {
				continue
			}
			if !l.MemberPrice.IsPositive() || !l.MemberPrice.LessThan(l.UnitPrice) {
				continue
			}
			saved := money.MulQty(l.UnitPrice.Sub(l.MemberPrice), l.Quantity)
			a.Shares = append(a.Shares, Share{LineID: l.LineID, Amount: saved})
			a.Amount = a.Amount.Add(saved)
		}
		if len(a.Shares) > 0 {
			out.allocations = append(out.allocations, a)
		}
	}
	return out, nil
}

// couponsIn returns the coupons of scope for merchantID in catalog order.
func couponsIn(all []coupon.Coupon, scope coupon.Scope, merchantID int64) []coupon.Coupon {
	var out []coupon.Coupon
	for _, c := range all {
		if c.Scope == scope && c.MerchantID == merchantID {
			out = append(out, c)
		}
	}
	return out
}

// decide checks c against lines and explains an empty eligible set. covering
// are the lines the coupon targets before stacking rules; eligible are those
// it may discount.
func decide(in *PipelineInput, c coupon.Coupon, covering, eligible []PricedLine, sizing decimal.Decimal, pinned bool) coupon.Decision {
	d := coupon.Check(c, in.Now, sizing, len(eligible), pinned)
	if d.Applicable() || d.Reason != coupon.ReasonNoLines || len(covering) == 0 {
		return d
	}
	for _, l := range covering {
		if l.NoStack {
			return coupon.Decline(pinned, coupon.ReasonMembership)
		}
	}
	return d
}

func optionFor(c coupon.Coupon, d coupon.Decision) CouponOption {
	opt := newOption(c)
	if !d.Applicable() {
		opt.Disabled = true
		opt.Reason = d.Reason
	}
	return opt
}

func rejected(c coupon.Coupon, d coupon.Decision) error {
	return &CouponNotApplicableError{CouponID: c.ID, Reason: d.Reason}
}

// productCouponStage applies product-scope coupons. A line is covered by at
// most one product coupon. Lines targeted by a pinned coupon are left to it.
func productCouponStage(in *PipelineInput, st *pipelineState, lines []PricedLine) (stageOutput, error) {
	var out stageOutput
	for _, part := range in.Partitions {
		candidates := couponsIn(in.Coupons, coupon.ScopeProduct, part.MerchantID)
		partLines := linesOf(lines, part.MerchantID)
		reserved := make(map[int64]bool)
		for _, c := range candidates {
			if !st.pinned[c.ID] {
				continue
			}
			for _, l := range partLines {
				if c.Covers(l.CouponTarget()) && l.Type.Capability().CouponEligible {
					reserved[l.LineID] = true
				}
			}
		}

		covered := make(map[int64]bool)
		for _, c := range candidates {
			pinned := st.pinned[c.ID]
			var covering, eligible []PricedLine
			alreadyCovered := false
			for _, l := range partLines {
				if !c.Covers(l.CouponTarget()) || !l.Type.Capability().CouponEligible {
					continue
				}
				if covered[l.LineID] || (!pinned && reserved[l.LineID]) {
					alreadyCovered = true
					continue
				}
				covering = append(covering, l)
				if l.couponable() {
					eligible = append(eligible, l)
				}
			}
			subtotal := payableSum(eligible)
			d := decide(in, c, covering, eligible, subtotal, pinned)
			if !d.Applicable() && d.Reason == coupon.ReasonNoLines && alreadyCovered {
				d = coupon.Decline(pinned, coupon.ReasonCovered)
			}
			if d.Outcome == coupon.Rejected {
				return out, rejected(c, d)
			}
			opt := optionFor(c, d)
			if d.Applicable() && (pinned || in.Selection.AutoCoupons) {
				a := prorate(Allocation{
					Stage:      StageProductCoupon,
					Scope:      c.Scope,
					CouponID:   c.ID,
					MerchantID: part.MerchantID,
					Amount:     c.Amount(subtotal),
				}, eligible)
				for _, l := range eligible {
					covered[l.LineID] = true
				}
				opt.Applied, opt.Amount = true, a.Amount
				out.allocations = append(out.allocations, a)
			}
			out.options = append(out.options, opt)
		}
	}
	return out, nil
}

// storeCouponStage applies at most one store coupon per partition to what
// product coupons left.
func storeCouponStage(in *PipelineInput, st *pipelineState, lines []PricedLine) (stageOutput, error) {
	var out stageOutput
	for _, part := range in.Partitions {
		candidates := couponsIn(in.Coupons, coupon.ScopeStore, part.MerchantID)
		hasPinned := false
		for _, c := range candidates {
			hasPinned = hasPinned || st.pinned[c.ID]
		}
		var covering, eligible []PricedLine
		for _, l := range linesOf(lines, part.MerchantID) {
			if !l.Type.Capability().CouponEligible {
				continue
			}
			covering = append(covering, l)
			if l.couponable() {
				eligible = append(eligible, l)
			}
		}
		subtotal := payableSum(eligible)

		applied := false
		for _, c := range candidates {
			pinned := st.pinned[c.ID]
			d := decide(in, c, covering, eligible, subtotal, pinned)
			if d.Outcome == coupon.Rejected {
				return out, rejected(c, d)
			}
			opt := optionFor(c, d)
			wanted := pinned || (in.Selection.AutoCoupons && !hasPinned)
			if d.Applicable() && wanted && !applied {
				a := prorate(Allocation{
					Stage:      StageStoreCoupon,
					Scope:      c.Scope,
					CouponID:   c.ID,
					MerchantID: part.MerchantID,
					Amount:     c.Amount(subtotal),
				}, eligible)
				applied = true
				opt.Applied, opt.Amount = true, a.Amount
				out.allocations = append(out.allocations, a)
			}
			out.options = append(out.options, opt)
		}
	}
	return out, nil
}

// platformCouponStage applies at most one platform coupon across the whole
// cart. Lines excluded by the membership stacking rule still count toward the
// minimum spend but receive no share.
func platformCouponStage(in *PipelineInput, st *pipelineState, lines []PricedLine) (stageOutput, error) {
	var out stageOutput
	var candidates []coupon.Coupon
	hasPinned := false
	for _, c := range in.Coupons {
		if c.Scope.Platform() {
			candidates = append(candidates, c)
			hasPinned = hasPinned || st.pinned[c.ID]
		}
	}

	applied := false
	for _, c := range candidates {
		pinned := st.pinned[c.ID]
		var covering, eligible []PricedLine
		for _, l := range lines {
			if !l.Type.Capability().CouponEligible || !c.Covers(l.CouponTarget()) {
				continue
			}
			covering = append(covering, l)
			if l.couponable() {
				eligible = append(eligible, l)
			}
		}
		sizing := payableSum(covering)
		d := coupon.Check(c, in.Now, sizing, len(covering), pinned)
		if d.Applicable() && len(eligible) == 0 {
			d = coupon.Decline(pinned, coupon.ReasonMembership)
		}
		if d.Outcome == coupon.Rejected {
			return out, rejected(c, d)
		}
		opt := optionFor(c, d)
		wanted := pinned || (in.Selection.AutoCoupons && !hasPinned)
		if d.Applicable() && wanted && !applied {
			a := prorate(Allocation{
				Stage:    StagePlatformCoupon,
				Scope:    c.Scope,
				CouponID: c.ID,
				Amount:   money.Min(c.Value, payableSum(eligible)),
			}, eligible)
			applied = true
			opt.Applied, opt.Amount = true, a.Amount
			out.allocations = append(out.allocations, a)
		}
		out.options = append(out.options, opt)
	}
	return out, nil
}

// pointsStage redeems loyalty points on ordinary lines. The balance carries
// across lines in order.
func (p *Pipeline) pointsStage(in *PipelineInput, st *pipelineState, lines []PricedLine) (stageOutput, error) {
	var out stageOutput
	if !in.Selection.UsePoints || !p.settings.PointsEnabled || !p.settings.PointValue.IsPositive() {
		return out, nil
	}
	balance := in.Member.Points
	a := Allocation{Stage: StagePoints, Amount: decimal.Zero}
	for _, l := range lines {
		if balance <= 0 {
			break
		}
		if !l.Type.Capability().PointsEligible {
			continue
		}
		rate := st.merchants[l.MerchantID].PointRate
		if l.PointRate != nil {
			rate = *l.PointRate
		}
		if !rate.IsPositive() {
			continue
		}
		rate = money.Min(rate, decimal.NewFromInt(1))
		redeemable := money.Floor(l.Payable.Mul(rate))
		if !redeemable.IsPositive() {
			continue
		}
		points := redeemable.Div(p.settings.PointValue).Ceil().IntPart()
		if points > balance {
			points = balance
			redeemable = money.Min(redeemable, money.Floor(p.settings.PointValue.Mul(decimal.NewFromInt(points))))
		}
		if !redeemable.IsPositive() {
			continue
		}
		balance -= points
		a.Shares = append(a.Shares, Share{LineID: l.LineID, Amount: redeemable, Points: points})
		a.Amount = a.Amount.Add(redeemable)
		a.Points += points
	}
	if len(a.Shares) > 0 {
		out.allocations = append(out.allocations, a)
	}
	return out, nil
}
