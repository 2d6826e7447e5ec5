package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const usableCouponsSQL = `SELECT id, uid, merchant_id, title, scope, value, min_spend,
		product_ids, category_ids, merchant_ids, status, valid_from, valid_until, sort
	FROM coupons
	WHERE uid = $1 AND status = 'unused'
		AND (valid_from IS NULL OR valid_from <= $2)
		AND (valid_until IS NULL OR valid_until > $2)
	ORDER BY sort, id`

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Usable lists the shopper's unused coupons valid at now in catalog order.
func (r *CouponRepository) Usable(ctx context.Context, uid int64, now time.Time) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, usableCouponsSQL, uid, now)
	if err != nil {
		return nil, errors.Wrapf(err, "query coupons of %d", uid)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c      coupon.Coupon
		scope  int16
		status string
	)
	err := row.Scan(
		&c.ID, &c.UID, &c.MerchantID, &c.Title, &scope, &c.Value, &c.MinSpend,
		&c.ProductIDs, &c.CategoryIDs, &c.MerchantIDs, &status, &c.ValidFrom, &c.ValidUntil, &c.Sort,
	)
	c.Scope = coupon.Scope(scope)
	c.Status = coupon.Status(status)
	return c, err
}
