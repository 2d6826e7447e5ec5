package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

const (
	findClaimSQL = `SELECT group_id FROM checkout_claims WHERE fingerprint = $1`

	claimSQL = `INSERT INTO checkout_claims (fingerprint, uid, group_id) VALUES ($1, $2, $3)`

	lockSKUSQL = `SELECT id, price FROM skus WHERE id = $1 FOR UPDATE`

	addSalesSQL = `UPDATE skus SET sales = sales + $2 WHERE id = $1`

	consumeCartSQL = `UPDATE cart_lines SET consumed = TRUE, consumed_at = now()
		WHERE uid = $1 AND id = ANY($2) AND NOT consumed`

	useCouponSQL = `UPDATE coupons SET status = 'used', used_group_id = $3, used_at = now()
		WHERE id = $1 AND uid = $2 AND status = 'unused'`

	debitPointsSQL = `UPDATE members SET points = points - $2 WHERE uid = $1 AND points >= $2`

	ledgerSQL = `INSERT INTO points_ledger (uid, points, reason, group_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	createGroupSQL = `INSERT INTO order_groups
		(id, uid, fingerprint, pay_method, original, discount, shipping, total, points_used, coupon_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	createOrderSQL = `INSERT INTO orders
		(id, group_id, parent_id, merchant_id, kind, status, delivery_mode, station_id, address_id,
		 original, discounts, shipping, total, commission_rate, remark, receipt, form_answers, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
)

var orderLineColumns = []string{
	"id", "order_id", "cart_line_id", "product_id", "sku_id", "product_name", "quantity", "type",
	"unit_price", "unit_cost_price", "original", "svip_discount", "product_coupon", "product_coupon_id",
	"store_coupon", "platform_coupon", "points_deduction", "points_used", "shipping_fee", "payable",
}

var statusLogColumns = []string{"order_id", "from_status", "to_status", "note", "created_at"}

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewOrderStore returns an OrderStore whose transactions are bounded by
// timeout. A zero timeout leaves them bounded only by the caller context.
func NewOrderStore(pool *pgxpool.Pool, timeout time.Duration) *OrderStore {
	return &OrderStore{pool: pool, timeout: timeout}
}

// InTx runs fn in a read-committed transaction. Errors from fn are returned
// as is.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// FindCommitted returns the group id claimed for fingerprint.
func (s *OrderStore) FindCommitted(ctx context.Context, fingerprint string) (string, bool, error) {
	var groupID string
	err := s.pool.QueryRow(ctx, findClaimSQL, fingerprint).Scan(&groupID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "find claim")
	}
	return groupID, true, nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) ClaimFingerprint(ctx context.Context, uid int64, fingerprint, groupID string) error {
	if _, err := t.tx.Exec(ctx, claimSQL, fingerprint, uid, groupID); err != nil {
		if isUniqueViolation(err) {
			return order.ErrAlreadyClaimed
		}
		return errors.Wrap(err, "insert claim")
	}
	return nil
}

func (t *orderTx) LockSKU(ctx context.Context, skuID int64) (order.SKUState, error) {
	var s order.SKUState
	if err := t.tx.QueryRow(ctx, lockSKUSQL, skuID).Scan(&s.ID, &s.Price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, catalog.ErrNotFound
		}
		return s, errors.Wrap(err, "select for update")
	}
	return s, nil
}

func stockColumn(pool promotion.Pool) (string, error) {
	switch pool {
	case promotion.PoolNormal:
		return "stock", nil
	case promotion.PoolFlashSale:
		return "flash_stock", nil
	case promotion.PoolPresale:
		return "presale_stock", nil
	case promotion.PoolActivity:
		return "activity_stock", nil
	default:
		return "", errors.Errorf("unknown stock pool %q", pool)
	}
}

func (t *orderTx) DecrementStock(ctx context.Context, pool promotion.Pool, skuID int64, qty int) (int, error) {
	col, err := stockColumn(pool)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(
		`UPDATE skus SET %[1]s = %[1]s - $2, sales = sales + $2 WHERE id = $1 AND %[1]s >= $2 RETURNING %[1]s`,
		col,
	)
	var remaining int
	if err := t.tx.QueryRow(ctx, query, skuID, qty).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, order.ErrStockShort
		}
		return 0, errors.Wrap(err, "update stock")
	}
	return remaining, nil
}

func (t *orderTx) AddSales(ctx context.Context, skuID int64, qty int) error {
	if _, err := t.tx.Exec(ctx, addSalesSQL, skuID, qty); err != nil {
		return errors.Wrap(err, "update sales")
	}
	return nil
}

func (t *orderTx) ConsumeCartLines(ctx context.Context, uid int64, lineIDs []int64) error {
	tag, err := t.tx.Exec(ctx, consumeCartSQL, uid, lineIDs)
	if err != nil {
		return errors.Wrap(err, "update cart lines")
	}
	if tag.RowsAffected() != int64(len(lineIDs)) {
		return order.ErrCartConsumed
	}
	return nil
}

func (t *orderTx) MarkCouponUsed(ctx context.Context, uid, couponID int64, groupID string) error {
	tag, err := t.tx.Exec(ctx, useCouponSQL, couponID, uid, groupID)
	if err != nil {
		return errors.Wrap(err, "update coupon")
	}
	if tag.RowsAffected() == 0 {
		return order.ErrCouponUnavailable
	}
	return nil
}

func (t *orderTx) DebitPoints(ctx context.Context, e order.LedgerEntry) error {
	tag, err := t.tx.Exec(ctx, debitPointsSQL, e.UID, e.Points)
	if err != nil {
		return errors.Wrap(err, "update points")
	}
	if tag.RowsAffected() == 0 {
		return order.ErrPointsShort
	}
	if _, err := t.tx.Exec(ctx, ledgerSQL, e.UID, -e.Points, e.Reason, e.GroupID, e.At); err != nil {
		return errors.Wrap(err, "insert ledger entry")
	}
	return nil
}

func (t *orderTx) CreateGroup(ctx context.Context, g *order.Group) error {
	_, err := t.tx.Exec(ctx, createGroupSQL,
		g.ID, g.UID, g.Fingerprint, g.PayMethod, g.Original, g.Discount, g.Shipping, g.Total,
		g.PointsUsed, g.CouponIDs, g.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert group %q", g.ID)
	}

	var lines [][]any
	for i := range g.Orders {
		o := &g.Orders[i]
		if err := t.createOrder(ctx, o); err != nil {
			return err
		}
		for _, l := range o.Lines {
			lines = append(lines, []any{
				l.ID, o.ID, l.CartLineID, l.ProductID, l.SKUID, l.ProductName, l.Quantity, int16(l.Type),
				l.UnitPrice, l.UnitCostPrice, l.Original, l.SvipDiscount, l.ProductCoupon, l.ProductCouponID,
				l.StoreCoupon, l.PlatformCoupon, l.PointsDeduction, l.PointsUsed, l.ShippingFee, l.Payable,
			})
		}
	}
	if _, err := t.tx.CopyFrom(ctx, pgx.Identifier{"order_lines"}, orderLineColumns, pgx.CopyFromRows(lines)); err != nil {
		return errors.Wrap(err, "copy order lines")
	}
	return nil
}

func (t *orderTx) createOrder(ctx context.Context, o *order.Order) error {
	discounts, err := json.Marshal(o.Discounts)
	if err != nil {
		return errors.Wrap(err, "marshal discounts")
	}
	var receipt, answers []byte
	if o.Receipt != nil {
		if receipt, err = json.Marshal(o.Receipt); err != nil {
			return errors.Wrap(err, "marshal receipt")
		}
	}
	if len(o.FormAnswers) > 0 {
		if answers, err = json.Marshal(o.FormAnswers); err != nil {
			return errors.Wrap(err, "marshal form answers")
		}
	}

	_, err = t.tx.Exec(ctx, createOrderSQL,
		o.ID, o.GroupID, o.ParentID, o.MerchantID, string(o.Kind), string(o.Status),
		o.Delivery.Mode.String(), o.Delivery.StationID, o.AddressID,
		o.Original, discounts, o.Shipping, o.Total, o.CommissionRate,
		o.Remark, receipt, answers, o.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}
	return nil
}

func (t *orderTx) AppendStatusLogs(ctx context.Context, logs []order.StatusLog) error {
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"order_status_logs"}, statusLogColumns,
		pgx.CopyFromSlice(len(logs), func(i int) ([]any, error) {
			l := logs[i]
			return []any{l.OrderID, string(l.From), string(l.To), l.Note, l.At}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "copy status logs")
	}
	return nil
}
