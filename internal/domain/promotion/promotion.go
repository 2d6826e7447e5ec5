// Package promotion describes the closed set of product promotion types and
// what each of them is allowed to do during checkout.
package promotion

import (
	"github.com/go-faster/errors"
)

// Type is a product promotion type.
type Type uint8

const (
	Normal Type = iota
	FlashSale
	Presale
	Assist
	GroupBuy
	DiscountBundle
)

// Pool identifies the stock pool a line draws from at commit time.
type Pool string

const (
	PoolNormal    Pool = "normal"
	PoolFlashSale Pool = "flash_sale"
	PoolPresale   Pool = "presale"
	PoolActivity  Pool = "activity"
)

// Capability lists what a promotion type permits.
type Capability struct {
	Pool Pool
	// CouponEligible lines take part in product, store and platform coupons.
	CouponEligible bool
	// MembershipEligible lines may be repriced with the membership price.
	MembershipEligible bool
	// PointsEligible lines may be partly paid with loyalty points.
	PointsEligible bool
	// SingleLineOnly types must be the only line of a checkout.
	SingleLineOnly bool
	// FinalPayment types create a follow-up order for the remaining balance.
	FinalPayment bool
	// Reserved pools are popped atomically outside the database transaction.
	Reserved bool
}

var capabilities = [...]Capability{
	Normal: {
		Pool:               PoolNormal,
		CouponEligible:     true,
		MembershipEligible: true,
		PointsEligible:     true,
	},
	FlashSale: {
		Pool:           PoolFlashSale,
		SingleLineOnly: true,
		Reserved:       true,
	},
	Presale: {
		Pool:         PoolPresale,
		FinalPayment: true,
	},
	Assist: {
		Pool:           PoolActivity,
		SingleLineOnly: true,
	},
	GroupBuy: {
		Pool:           PoolActivity,
		SingleLineOnly: true,
	},
	DiscountBundle: {
		Pool: PoolNormal,
	},
}

var names = [...]string{
	Normal:         "normal",
	FlashSale:      "flash_sale",
	Presale:        "presale",
	Assist:         "assist",
	GroupBuy:       "group_buy",
	DiscountBundle: "discount_bundle",
}

// ErrUnknownType is returned when parsing an unrecognised promotion type.
var ErrUnknownType = errors.New("unknown promotion type")

// Valid reports whether t is one of the declared types.
func (t Type) Valid() bool {
	return int(t) < len(names)
}

// Capability returns the capability row for t. Unknown types get the zero
// Capability, which permits nothing.
func (t Type) Capability() Capability {
	if !t.Valid() {
		return Capability{}
	}
	return capabilities[t]
}

func (t Type) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return names[t]
}

// Parse converts a type name into a Type.
func Parse(s string) (Type, error) {
	for i, n := range names {
		if n == s {
			return Type(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownType, "%q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrUnknownType, "%d", uint8(t))
	}
	return []byte(names[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
