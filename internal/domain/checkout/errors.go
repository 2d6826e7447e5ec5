package checkout

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Error categories. Typed errors below match their category with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrStaleQuote           = errors.New("stale quote")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrNotification         = errors.New("notification failed")
	ErrCommitFailed         = errors.New("commit failed")
)

// ValidationError reports bad or inconsistent checkout input.
type ValidationError struct {
	LineID     int64
	ProductID  int64
	MerchantID int64
	Reason     string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	switch {
	case e.ProductID != 0:
		fmt.Fprintf(&b, " (product %d)", e.ProductID)
	case e.LineID != 0:
		fmt.Fprintf(&b, " (cart line %d)", e.LineID)
	case e.MerchantID != 0:
		fmt.Fprintf(&b, " (merchant %d)", e.MerchantID)
	}
	return b.String()
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// CouponNotApplicableError reports a pinned coupon that cannot be applied.
type CouponNotApplicableError struct {
	CouponID int64
	Reason   string
}

func (e *CouponNotApplicableError) Error() string {
	return fmt.Sprintf("coupon %d not applicable: %s", e.CouponID, e.Reason)
}

func (e *CouponNotApplicableError) Is(target error) bool { return target == ErrValidation }

// StaleReason explains why a quote can no longer be committed.
type StaleReason string

const (
	StaleMissing       StaleReason = "quote missing or expired"
	StaleTotalMismatch StaleReason = "expected total does not match quote"
	StaleCommitted     StaleReason = "quote already committed"
	StalePriceChanged  StaleReason = "price changed since quote"
	StaleCartConsumed  StaleReason = "cart lines already ordered"
)

// StaleQuoteError means the caller must re-quote.
type StaleQuoteError struct {
	Fingerprint string
	Reason      StaleReason
	// GroupID is set when the quote was already committed.
	GroupID string
}

func (e *StaleQuoteError) Error() string {
	if e.GroupID != "" {
		return fmt.Sprintf("%s (order group %s)", e.Reason, e.GroupID)
	}
	return string(e.Reason)
}

func (e *StaleQuoteError) Is(target error) bool { return target == ErrStaleQuote }

// Resource names a commit-time resource that can run out.
type Resource string

const (
	ResourceStock  Resource = "stock"
	ResourceCoupon Resource = "coupon"
	ResourcePoints Resource = "points"
)

// InsufficientResourceError reports stock, coupon or points exhausted at
// commit time.
type InsufficientResourceError struct {
	Resource  Resource
	LineID    int64
	ProductID int64
	SKUID     int64
	CouponID  int64
}

func (e *InsufficientResourceError) Error() string {
	switch e.Resource {
	case ResourceStock:
		return fmt.Sprintf("insufficient stock for product %d (cart line %d)", e.ProductID, e.LineID)
	case ResourceCoupon:
		return fmt.Sprintf("coupon %d is no longer available", e.CouponID)
	default:
		return fmt.Sprintf("insufficient %s", e.Resource)
	}
}

func (e *InsufficientResourceError) Is(target error) bool { return target == ErrInsufficientResource }

// NotificationError wraps a failed post-commit side effect.
type NotificationError struct {
	Event string
	Err   error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Event, e.Err)
}

func (e *NotificationError) Is(target error) bool { return target == ErrNotification }

func (e *NotificationError) Unwrap() error { return e.Err }

// CommitError wraps an unexpected failure during commit.
type CommitError struct {
	Fingerprint string
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %v", e.Fingerprint, e.Err)
}

func (e *CommitError) Is(target error) bool { return target == ErrCommitFailed }

func (e *CommitError) Unwrap() error { return e.Err }
