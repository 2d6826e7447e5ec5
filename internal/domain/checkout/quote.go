package checkout

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

// LineQuote is the priced breakdown of one cart line.
type LineQuote struct {
	LineID          int64           `json:"line_id"`
	ProductID       int64           `json:"product_id"`
	SKUID           int64           `json:"sku_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	Type            promotion.Type  `json:"type"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	UnitCostPrice   decimal.Decimal `json:"unit_cost_price"`
	Original        decimal.Decimal `json:"original"`
	SvipDiscount    decimal.Decimal `json:"svip_discount"`
	ProductCoupon   decimal.Decimal `json:"product_coupon"`
	ProductCouponID int64           `json:"product_coupon_id,omitempty"`
	StoreCoupon     decimal.Decimal `json:"store_coupon"`
	PlatformCoupon  decimal.Decimal `json:"platform_coupon"`
	PointsDeduction decimal.Decimal `json:"points_deduction"`
	PointsUsed      int64           `json:"points_used"`
	Payable         decimal.Decimal `json:"payable"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	FinalPayment    decimal.Decimal `json:"final_payment"`
	UsedMembership  bool            `json:"used_membership"`
	RequiredForm    []string        `json:"required_form,omitempty"`
}

// Discounts sums discounts by kind.
type Discounts struct {
	Svip           decimal.Decimal `json:"svip"`
	ProductCoupon  decimal.Decimal `json:"product_coupon"`
	StoreCoupon    decimal.Decimal `json:"store_coupon"`
	PlatformCoupon decimal.Decimal `json:"platform_coupon"`
	Points         decimal.Decimal `json:"points"`
	PointsUsed     int64           `json:"points_used"`
}

// Total is the sum of all monetary discounts.
func (d Discounts) Total() decimal.Decimal {
	return d.Svip.Add(d.ProductCoupon).Add(d.StoreCoupon).Add(d.PlatformCoupon).Add(d.Points)
}

func (d Discounts) add(l LineQuote) Discounts {
	d.Svip = d.Svip.Add(l.SvipDiscount)
	d.ProductCoupon = d.ProductCoupon.Add(l.ProductCoupon)
	d.StoreCoupon = d.StoreCoupon.Add(l.StoreCoupon)
	d.PlatformCoupon = d.PlatformCoupon.Add(l.PlatformCoupon)
	d.Points = d.Points.Add(l.PointsDeduction)
	d.PointsUsed += l.PointsUsed
	return d
}

func zeroDiscounts() Discounts {
	return Discounts{
		Svip:           decimal.Zero,
		ProductCoupon:  decimal.Zero,
		StoreCoupon:    decimal.Zero,
		PlatformCoupon: decimal.Zero,
		Points:         decimal.Zero,
	}
}

// MerchantQuote is the priced partition of one merchant.
type MerchantQuote struct {
	MerchantID     int64             `json:"merchant_id"`
	MerchantName   string            `json:"merchant_name"`
	Delivery       DeliverySelection `json:"delivery"`
	DeliveryValid  bool              `json:"delivery_valid"`
	DeliveryIssue  string            `json:"delivery_issue,omitempty"`
	CommissionRate decimal.Decimal   `json:"commission_rate"`
	// LowStockThreshold triggers a merchant alert at commit time.
	LowStockThreshold int             `json:"low_stock_threshold"`
	Original          decimal.Decimal `json:"original"`
	Discounts         Discounts       `json:"discounts"`
	// Payable is the goods price after discounts, without shipping.
	Payable  decimal.Decimal `json:"payable"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
	Lines    []LineQuote     `json:"lines"`
}

// Quote is a priced checkout, keyed by Fingerprint.
type Quote struct {
	Fingerprint string          `json:"fingerprint"`
	UID         int64           `json:"uid"`
	LineIDs     []int64         `json:"line_ids"`
	AddressID   int64           `json:"address_id,omitempty"`
	UsePoints   bool            `json:"use_points"`
	Merchants   []MerchantQuote `json:"merchants"`
	Coupons     []CouponOption  `json:"coupons"`
	Allocations []Allocation    `json:"allocations"`
	Original    decimal.Decimal `json:"original"`
	Discounts   Discounts       `json:"discounts"`
	Payable     decimal.Decimal `json:"payable"`
	Shipping    decimal.Decimal `json:"shipping"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Expired reports whether the quote can no longer be committed at now.
func (q *Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// DeliveryIssue returns the first undeliverable partition's reason.
func (q *Quote) DeliveryIssue() (MerchantQuote, bool) {
	for _, m := range q.Merchants {
		if !m.DeliveryValid {
			return m, true
		}
	}
	return MerchantQuote{}, false
}

// CouponIDs lists applied coupons in ascending order.
func (q *Quote) CouponIDs() []int64 {
	var ids []int64
	for _, a := range q.Allocations {
		if a.CouponID != 0 {
			ids = append(ids, a.CouponID)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// assemble builds the quote breakdown from priced partitions.
func assemble(parts []Partition, res *PipelineResult, lines []PricedLine) *Quote {
	byID := make(map[int64]PricedLine, len(lines))
	for _, l := range lines {
		byID[l.LineID] = l
	}

	q := &Quote{
		Coupons:     res.Coupons,
		Allocations: res.Allocations,
		Original:    decimal.Zero,
		Discounts:   zeroDiscounts(),
		Payable:     decimal.Zero,
		Shipping:    decimal.Zero,
		Total:       decimal.Zero,
	}
	for _, p := range parts {
		mq := MerchantQuote{
			MerchantID:        p.MerchantID,
			MerchantName:      p.Merchant.Name,
			Delivery:          p.Delivery,
			DeliveryValid:     p.DeliveryValid,
			DeliveryIssue:     p.DeliveryIssue,
			CommissionRate:    p.CommissionRate,
			LowStockThreshold: p.Merchant.LowStockThreshold,
			Original:          decimal.Zero,
			Discounts:         zeroDiscounts(),
			Payable:           decimal.Zero,
			Shipping:          decimal.Zero,
		}
		for _, cl := range p.Lines {
			lq := lineQuote(byID[cl.LineID])
			mq.Original = mq.Original.Add(lq.Original)
			mq.Discounts = mq.Discounts.add(lq)
			mq.Payable = mq.Payable.Add(lq.Payable)
			mq.Shipping = mq.Shipping.Add(lq.ShippingFee)
			mq.Lines = append(mq.Lines, lq)
			q.LineIDs = append(q.LineIDs, lq.LineID)
		}
		mq.Total = mq.Payable.Add(mq.Shipping)

		q.Original = q.Original.Add(mq.Original)
		q.Payable = q.Payable.Add(mq.Payable)
		q.Shipping = q.Shipping.Add(mq.Shipping)
		q.Total = q.Total.Add(mq.Total)
		q.Discounts.Svip = q.Discounts.Svip.Add(mq.Discounts.Svip)
		q.Discounts.ProductCoupon = q.Discounts.ProductCoupon.Add(mq.Discounts.ProductCoupon)
		q.Discounts.StoreCoupon = q.Discounts.StoreCoupon.Add(mq.Discounts.StoreCoupon)
		q.Discounts.PlatformCoupon = q.Discounts.PlatformCoupon.Add(mq.Discounts.PlatformCoupon)
		q.Discounts.Points = q.Discounts.Points.Add(mq.Discounts.Points)
		q.Discounts.PointsUsed += mq.Discounts.PointsUsed
		q.Merchants = append(q.Merchants, mq)
	}
	slices.Sort(q.LineIDs)
	return q
}

func lineQuote(l PricedLine) LineQuote {
	return LineQuote{
		LineID:          l.LineID,
		ProductID:       l.ProductID,
		SKUID:           l.SKUID,
		ProductName:     l.ProductName,
		Quantity:        l.Quantity,
		Type:            l.Type,
		UnitPrice:       l.UnitPrice,
		UnitCostPrice:   l.UnitCostPrice,
		Original:        l.Original(),
		SvipDiscount:    l.SvipDiscount,
		ProductCoupon:   l.ProductCouponPrice,
		ProductCouponID: l.ProductCouponID,
		StoreCoupon:     l.StoreCouponPrice,
		PlatformCoupon:  l.PlatformCouponPrice,
		PointsDeduction: l.PointsDeduction,
		PointsUsed:      l.PointsUsed,
		Payable:         l.Payable,
		ShippingFee:     l.ShippingFee,
		FinalPayment:    l.FinalPayment(),
		UsedMembership:  l.UsedMembership,
		RequiredForm:    l.RequiredFormFields,
	}
}
