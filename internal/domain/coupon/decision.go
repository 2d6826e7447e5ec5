package coupon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome classifies a coupon decision.
type Outcome uint8

const (
	// Applicable means the coupon can be applied.
	Applicable Outcome = iota
	// Skipped means an auto-selected coupon does not fit and is passed over.
	Skipped
	// Rejected means a coupon the shopper pinned does not fit.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applicable:
		return "applicable"
	case Skipped:
		return "skipped"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Decision is the result of checking one coupon against one set of lines.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Apply is the applicable decision.
func Apply() Decision { return Decision{Outcome: Applicable} }

// Decline returns Rejected for pinned coupons and Skipped otherwise.
func Decline(pinned bool, reason string) Decision {
	if pinned {
		return Decision{Outcome: Rejected, Reason: reason}
	}
	return Decision{Outcome: Skipped, Reason: reason}
}

// Applicable reports whether the coupon can be applied.
func (d Decision) Applicable() bool { return d.Outcome == Applicable }

// Common decline reasons.
const (
	ReasonUsed          = "coupon already used"
	ReasonExpired       = "coupon expired"
	ReasonNotYetValid   = "coupon not yet valid"
	ReasonNoLines       = "no eligible lines"
	ReasonMembership    = "coupons do not stack with membership pricing at this store"
	ReasonCovered       = "eligible lines already discounted by another coupon"
	ReasonOneStore      = "only one store coupon per order"
	ReasonOnePlatform   = "only one platform coupon per order"
	ReasonWrongMerchant = "coupon belongs to another store"
	ReasonNotOwned      = "coupon not found"
)

// Check decides whether c may discount lines with the given eligible
// subtotal at time now. eligible is the number of lines the coupon would
// cover.
func Check(c Coupon, now time.Time, subtotal decimal.Decimal, eligible int, pinned bool) Decision {
	switch c.Status {
	case StatusUnused:
	case StatusExpired:
		return Decline(pinned, ReasonExpired)
	default:
		return Decline(pinned, ReasonUsed)
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return Decline(pinned, ReasonNotYetValid)
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return Decline(pinned, ReasonExpired)
	}
	if eligible == 0 || !subtotal.IsPositive() {
		return Decline(pinned, ReasonNoLines)
	}
	if subtotal.LessThan(c.MinSpend) {
		return Decline(pinned, fmt.Sprintf("minimum spend %s not met", c.MinSpend.StringFixed(2)))
	}
	return Apply()
}
