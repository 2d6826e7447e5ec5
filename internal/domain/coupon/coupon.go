// Package coupon models shopper-owned coupons and decides whether a coupon
// can be applied to a set of lines.
package coupon

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Scope says which lines a coupon may discount.
type Scope uint8

const (
	// ScopeProduct discounts listed products of the issuing merchant.
	ScopeProduct Scope = iota + 1
	// ScopeStore discounts a whole merchant partition.
	ScopeStore
	// ScopePlatform is issued by the marketplace and spans every merchant.
	ScopePlatform
	// ScopePlatformCategory is a platform coupon limited to categories.
	ScopePlatformCategory
	// ScopePlatformMerchant is a platform coupon limited to a merchant set.
	ScopePlatformMerchant
)

var scopeNames = map[Scope]string{
	ScopeProduct:          "product",
	ScopeStore:            "store",
	ScopePlatform:         "platform",
	ScopePlatformCategory: "platform_category",
	ScopePlatformMerchant: "platform_merchant",
}

func (s Scope) String() string {
	if n, ok := scopeNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(b []byte) error {
	v, ok := ParseScope(string(b))
	if !ok {
		return &unknownScopeError{name: string(b)}
	}
	*s = v
	return nil
}

type unknownScopeError struct{ name string }

func (e *unknownScopeError) Error() string { return "unknown coupon scope " + e.name }

// ParseScope converts a scope name into a Scope.
func ParseScope(name string) (Scope, bool) {
	for s, n := range scopeNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// Platform reports whether the scope belongs to the marketplace operator.
func (s Scope) Platform() bool {
	return s >= ScopePlatform
}

// Status is the lifecycle state of a shopper-owned coupon.
type Status string

const (
	StatusUnused  Status = "unused"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// Coupon is a coupon instance owned by one shopper.
type Coupon struct {
	ID         int64
	UID        int64
	MerchantID int64
	Title      string
	Scope      Scope
	Value      decimal.Decimal
	MinSpend   decimal.Decimal
	ProductIDs []int64
	// CategoryIDs restricts ScopePlatformCategory coupons.
	CategoryIDs []int64
	// MerchantIDs restricts ScopePlatformMerchant coupons.
	MerchantIDs []int64
	Status      Status
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Sort        int
}

// Target is the part of a cart line a coupon scope is matched against.
type Target struct {
	ProductID   int64
	MerchantID  int64
	CategoryIDs []int64
}

// Covers reports whether the coupon's scope includes the target line.
func (c Coupon) Covers(t Target) bool {
	switch c.Scope {
	case ScopeProduct:
		return c.MerchantID == t.MerchantID && slices.Contains(c.ProductIDs, t.ProductID)
	case ScopeStore:
		return c.MerchantID == t.MerchantID
	case ScopePlatform:
		return true
	case ScopePlatformCategory:
		for _, id := range t.CategoryIDs {
			if slices.Contains(c.CategoryIDs, id) {
				return true
			}
		}
		return false
	case ScopePlatformMerchant:
		return slices.Contains(c.MerchantIDs, t.MerchantID)
	default:
		return false
	}
}

// Amount is the discount the coupon grants on an eligible subtotal: its face
// value, never more than the subtotal itself.
func (c Coupon) Amount(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.LessThan(c.Value) {
		return subtotal
	}
	return c.Value
}

// SortCatalog orders coupons the way the catalog lists them.
func SortCatalog(cs []Coupon) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Sort != cs[j].Sort {
			return cs[i].Sort < cs[j].Sort
		}
		return cs[i].ID < cs[j].ID
	})
}

// Repository provides lookup of shopper coupons.
type Repository interface {
	// Usable lists the shopper's unused coupons valid at now, in catalog order.
	Usable(ctx context.Context, uid int64, now time.Time) ([]Coupon, error)
}
