// Package catalog holds the read model checkout prices against: merchants,
// products, SKUs, shipping templates, stations, addresses and members.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

// ErrNotFound is returned when a requested catalog entity does not exist.
var ErrNotFound = errors.New("not found")

// Merchant is a store selling on the platform.
type Merchant struct {
	ID             int64
	Name           string
	Active         bool
	DeliveryWays   DeliverySet
	CommissionRate decimal.Decimal
	// CouponsStackWithMembership allows product and store coupons on lines
	// already repriced with the membership price.
	CouponsStackWithMembership bool
	MembershipEnabled          bool
	// PointRate is the default fraction of a line price payable with points.
	PointRate         decimal.Decimal
	LowStockThreshold int
}

// Product is a sellable item owned by a merchant.
type Product struct {
	ID                 int64
	MerchantID         int64
	Name               string
	Active             bool
	Type               promotion.Type
	CategoryIDs        []int64
	DeliveryWays       DeliverySet
	MembershipEnabled  bool
	PointRate          *decimal.Decimal
	MinPerOrder        int
	MaxPerOrder        int
	ShippingTemplateID int64
	RequiredFormFields []string
}

// SKU is a concrete purchasable variant of a product.
type SKU struct {
	ID          int64
	ProductID   int64
	Price       decimal.Decimal
	CostPrice   decimal.Decimal
	MemberPrice decimal.Decimal
	// FinalPrice is the per-unit balance due later for presale SKUs.
	FinalPrice decimal.Decimal
	Weight     decimal.Decimal
	Volume     decimal.Decimal
	// Stocks holds the displayable stock per pool.
	Stocks map[promotion.Pool]int
}

// StockIn returns the SKU's stock in pool.
func (s SKU) StockIn(pool promotion.Pool) int {
	return s.Stocks[pool]
}

// Address is a shopper's delivery address.
type Address struct {
	ID     int64
	UID    int64
	CityID int64
	Lat    float64
	Lng    float64
}

// Station is a merchant pickup point or local delivery depot.
type Station struct {
	ID            int64
	MerchantID    int64
	Name          string
	Pickup        bool
	LocalDelivery bool
	Lat           float64
	Lng           float64
	RangeKm       decimal.Decimal
}

// Supports reports whether the station serves the given delivery mode.
func (s Station) Supports(mode DeliveryMode) bool {
	switch mode {
	case Pickup:
		return s.Pickup
	case LocalDelivery:
		return s.LocalDelivery
	default:
		return false
	}
}

// Member is the shopper's membership and loyalty state.
type Member struct {
	UID          int64
	SvipExpireAt *time.Time
	Points       int64
}

// SvipActive reports whether paid membership is active at now.
func (m Member) SvipActive(now time.Time) bool {
	return m.SvipExpireAt != nil && m.SvipExpireAt.After(now)
}

// Reader provides batch lookups over the catalog. Missing ids are omitted
// from the results rather than reported as errors.
type Reader interface {
	Products(ctx context.Context, ids []int64) ([]Product, error)
	SKUs(ctx context.Context, ids []int64) ([]SKU, error)
	Merchants(ctx context.Context, ids []int64) ([]Merchant, error)
	ShippingTemplates(ctx context.Context, ids []int64) ([]ShippingTemplate, error)
	Stations(ctx context.Context, ids []int64) ([]Station, error)
}

// ShopperReader looks up per-shopper records.
type ShopperReader interface {
	// Member returns a zero Member (no membership, no points) for unknown
	// shoppers.
	Member(ctx context.Context, uid int64) (Member, error)
	// Address returns ErrNotFound when the address does not belong to uid.
	Address(ctx context.Context, uid, id int64) (*Address, error)
}
