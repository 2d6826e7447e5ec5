package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

// Errors returned by stores for exhausted resources.
var (
	ErrStockShort        = errors.New("stock short")
	ErrCouponUnavailable = errors.New("coupon unavailable")
	ErrPointsShort       = errors.New("points short")
	ErrCartConsumed      = errors.New("cart lines consumed")
	ErrAlreadyClaimed    = errors.New("fingerprint already claimed")
)

// SKUState is a SKU row locked for the rest of the transaction.
type SKUState struct {
	ID    int64
	Price decimal.Decimal
}

// Store runs commits atomically.
type Store interface {
	// InTx runs fn in one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// FindCommitted returns the group created for fingerprint, if any.
	FindCommitted(ctx context.Context, fingerprint string) (groupID string, ok bool, err error)
}

// Tx is the set of writes a commit performs. Every method participates in
// the transaction it was obtained from.
type Tx interface {
	// ClaimFingerprint returns ErrAlreadyClaimed for a fingerprint that was
	// committed before.
	ClaimFingerprint(ctx context.Context, uid int64, fingerprint, groupID string) error
	// LockSKU locks the SKU row until the transaction ends.
	LockSKU(ctx context.Context, skuID int64) (SKUState, error)
	// DecrementStock takes qty from the pool, adds it to sales and returns
	// the stock left. It returns ErrStockShort without writing when the pool
	// holds less than qty.
	DecrementStock(ctx context.Context, pool promotion.Pool, skuID int64, qty int) (int, error)
	// AddSales counts units sold from a reserved pool.
	AddSales(ctx context.Context, skuID int64, qty int) error
	// ConsumeCartLines returns ErrCartConsumed unless every line was still
	// open.
	ConsumeCartLines(ctx context.Context, uid int64, lineIDs []int64) error
	// MarkCouponUsed returns ErrCouponUnavailable unless the coupon was still
	// unused.
	MarkCouponUsed(ctx context.Context, uid, couponID int64, groupID string) error
	// DebitPoints returns ErrPointsShort when the balance is too low.
	DebitPoints(ctx context.Context, entry LedgerEntry) error
	CreateGroup(ctx context.Context, g *Group) error
	AppendStatusLogs(ctx context.Context, logs []StatusLog) error
}

// ReservedPool is the atomic counter behind reserved stock pools.
type ReservedPool interface {
	// Pop takes qty units and returns what is left, or ErrStockShort.
	Pop(ctx context.Context, skuID int64, qty int) (int, error)
	// Push returns qty units.
	Push(ctx context.Context, skuID int64, qty int) error
}

// Notifier receives post-commit events. Delivery is best effort.
type Notifier interface {
	OrderCreated(ctx context.Context, g *Group) error
	NotifyCustomer(ctx context.Context, g *Group) error
	LowStock(ctx context.Context, alerts []LowStockAlert) error
}
