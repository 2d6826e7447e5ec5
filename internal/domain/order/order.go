// Package order turns a cached checkout quote into persisted orders.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

// Status is the lifecycle status of a persisted order.
type Status string

const (
	StatusPendingPayment       Status = "pending_payment"
	StatusPaid                 Status = "paid"
	StatusAwaitingFinalPayment Status = "awaiting_final_payment"
)

// Kind distinguishes regular orders from follow-up orders.
type Kind string

const (
	KindStandard     Kind = "standard"
	KindFinalPayment Kind = "final_payment"
)

// Receipt is a shopper's invoice request, stored verbatim.
type Receipt struct {
	Title string `json:"title"`
	TaxID string `json:"tax_id,omitempty"`
	Email string `json:"email,omitempty"`
}

// Group is every order created by one commit.
type Group struct {
	ID          string
	UID         int64
	Fingerprint string
	PayMethod   string
	Original    decimal.Decimal
	Discount    decimal.Decimal
	Shipping    decimal.Decimal
	Total       decimal.Decimal
	PointsUsed  int64
	CouponIDs   []int64
	CreatedAt   time.Time
	Orders      []Order
}

// Order is one merchant's share of a Group.
type Order struct {
	ID         string
	GroupID    string
	ParentID   string
	MerchantID int64
	Kind       Kind
	Status     Status
	Delivery   checkout.DeliverySelection
	AddressID  int64

	Original       decimal.Decimal
	Discounts      checkout.Discounts
	Shipping       decimal.Decimal
	Total          decimal.Decimal
	CommissionRate decimal.Decimal

	Remark      string
	Receipt     *Receipt
	FormAnswers map[int64]map[string]string
	Lines       []Line
	CreatedAt   time.Time
}

// Line is an order line with the amounts captured from the quote.
type Line struct {
	ID              string
	OrderID         string
	CartLineID      int64
	ProductID       int64
	SKUID           int64
	ProductName     string
	Quantity        int
	Type            promotion.Type
	UnitPrice       decimal.Decimal
	UnitCostPrice   decimal.Decimal
	Original        decimal.Decimal
	SvipDiscount    decimal.Decimal
	ProductCoupon   decimal.Decimal
	ProductCouponID int64
	StoreCoupon     decimal.Decimal
	PlatformCoupon  decimal.Decimal
	PointsDeduction decimal.Decimal
	PointsUsed      int64
	ShippingFee     decimal.Decimal
	Payable         decimal.Decimal
}

// StatusLog records an order status transition.
type StatusLog struct {
	OrderID string
	From    Status
	To      Status
	Note    string
	At      time.Time
}

// LedgerEntry is the audit row written with every points debit.
type LedgerEntry struct {
	UID     int64
	Points  int64
	Reason  string
	GroupID string
	At      time.Time
}

// LowStockAlert tells a merchant a SKU fell below its threshold.
type LowStockAlert struct {
	MerchantID int64
	ProductID  int64
	SKUID      int64
	Remaining  int
	Threshold  int
}

// CommitRequest commits a previously quoted checkout.
type CommitRequest struct {
	UID           int64
	Fingerprint   string
	ExpectedTotal decimal.Decimal
	PayMethod     string
	// Remarks and Receipts are keyed by merchant id.
	Remarks  map[int64]string
	Receipts map[int64]Receipt
	// FormAnswers are keyed by cart line id.
	FormAnswers map[int64]map[string]string
}
