package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/money"
	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

// CartLine is a cart line resolved against the catalog and ready to price.
type CartLine struct {
	LineID      int64
	MerchantID  int64
	ProductID   int64
	SKUID       int64
	ProductName string
	Quantity    int
	Type        promotion.Type

	UnitPrice     decimal.Decimal
	UnitCostPrice decimal.Decimal
	MemberPrice   decimal.Decimal
	FinalPrice    decimal.Decimal

	// MembershipEligible is true when both product and merchant allow
	// membership pricing.
	MembershipEligible bool
	CategoryIDs        []int64
	DeliveryWays       catalog.DeliverySet
	PointRate          *decimal.Decimal
	TemplateID         int64
	Weight             decimal.Decimal
	Volume             decimal.Decimal
	Stock              int
	RequiredFormFields []string
}

// Original is the undiscounted line price.
func (l CartLine) Original() decimal.Decimal {
	return money.MulQty(l.UnitPrice, l.Quantity)
}

// CouponTarget is the view of the line coupons are matched against.
func (l CartLine) CouponTarget() coupon.Target {
	return coupon.Target{
		ProductID:   l.ProductID,
		MerchantID:  l.MerchantID,
		CategoryIDs: l.CategoryIDs,
	}
}

// PricedLine is a CartLine with the amounts every pipeline stage has taken
// off it. Payable is the running price the next stage consumes.
type PricedLine struct {
	CartLine

	Payable             decimal.Decimal
	SvipDiscount        decimal.Decimal
	ProductCouponPrice  decimal.Decimal
	StoreCouponPrice    decimal.Decimal
	PlatformCouponPrice decimal.Decimal
	PointsDeduction     decimal.Decimal
	PointsUsed          int64
	ShippingFee         decimal.Decimal

	// UsedMembership is set once the membership price replaced the unit price.
	UsedMembership bool
	// NoStack lines used membership at a merchant that forbids coupons on
	// membership-priced lines.
	NoStack bool
	// ProductCouponID is the product coupon that covered the line, if any.
	ProductCouponID int64
}

func newPricedLine(l CartLine) PricedLine {
	return PricedLine{
		CartLine:            l,
		Payable:             l.Original(),
		SvipDiscount:        decimal.Zero,
		ProductCouponPrice:  decimal.Zero,
		StoreCouponPrice:    decimal.Zero,
		PlatformCouponPrice: decimal.Zero,
		PointsDeduction:     decimal.Zero,
		ShippingFee:         decimal.Zero,
	}
}

// couponable reports whether coupons of a merchant scope may touch the line.
func (l PricedLine) couponable() bool {
	return l.Type.Capability().CouponEligible && !l.NoStack
}

// FinalPayment is the balance a presale line still owes after checkout.
func (l PricedLine) FinalPayment() decimal.Decimal {
	if !l.Type.Capability().FinalPayment {
		return decimal.Zero
	}
	return money.MulQty(l.FinalPrice, l.Quantity)
}
