package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

const (
	memberSQL = `SELECT uid, svip_expire_at, points FROM members WHERE uid = $1`

	addressSQL = `SELECT id, uid, city_id, lat, lng FROM addresses WHERE id = $1 AND uid = $2`

	cartLinesSQL = `SELECT id, uid, product_id, sku_id, quantity, consumed
		FROM cart_lines WHERE uid = $1 AND id = ANY($2) ORDER BY id`

	localFeeSQL = `SELECT fee FROM station_fees
		WHERE station_id = $1 AND max_weight_kg >= $2 AND max_distance_km >= $3
		ORDER BY max_distance_km, max_weight_kg LIMIT 1`
)

var (
	_ catalog.ShopperReader = (*ShopperRepository)(nil)
	_ cart.Repository       = (*CartRepository)(nil)
	_ checkout.FeeSchedule  = (*FeeScheduleRepository)(nil)
)

// ShopperRepository implements catalog.ShopperReader backed by PostgreSQL.
type ShopperRepository struct {
	pool *pgxpool.Pool
}

// NewShopperRepository returns a ShopperRepository that uses the given pool.
func NewShopperRepository(pool *pgxpool.Pool) *ShopperRepository {
	return &ShopperRepository{pool: pool}
}

// Member returns the shopper's membership state, or a zero Member when the
// shopper has none.
func (r *ShopperRepository) Member(ctx context.Context, uid int64) (catalog.Member, error) {
	rows, err := r.pool.Query(ctx, memberSQL, uid)
	if err != nil {
		return catalog.Member{}, errors.Wrapf(err, "query member %d", uid)
	}
	m, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (catalog.Member, error) {
		var m catalog.Member
		err := row.Scan(&m.UID, &m.SvipExpireAt, &m.Points)
		return m, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Member{UID: uid}, nil
		}
		return catalog.Member{}, errors.Wrapf(err, "scan member %d", uid)
	}
	return m, nil
}

// Address returns the shopper's address or catalog.ErrNotFound.
func (r *ShopperRepository) Address(ctx context.Context, uid, id int64) (*catalog.Address, error) {
	rows, err := r.pool.Query(ctx, addressSQL, id, uid)
	if err != nil {
		return nil, errors.Wrapf(err, "query address %d", id)
	}
	a, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (catalog.Address, error) {
		var a catalog.Address
		err := row.Scan(&a.ID, &a.UID, &a.CityID, &a.Lat, &a.Lng)
		return a, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan address %d", id)
	}
	return &a, nil
}

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Lines returns the shopper's cart lines among ids.
func (r *CartRepository) Lines(ctx context.Context, uid int64, ids []int64) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, cartLinesSQL, uid, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query cart lines")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ID, &l.UID, &l.ProductID, &l.SKUID, &l.Quantity, &l.Consumed)
		return l, err
	})
}

// FeeScheduleRepository implements checkout.FeeSchedule over station fee
// tiers.
type FeeScheduleRepository struct {
	pool *pgxpool.Pool
}

// NewFeeScheduleRepository returns a FeeScheduleRepository that uses the
// given pool.
func NewFeeScheduleRepository(pool *pgxpool.Pool) *FeeScheduleRepository {
	return &FeeScheduleRepository{pool: pool}
}

// LocalFee picks the smallest tier covering both distance and weight.
func (r *FeeScheduleRepository) LocalFee(
	ctx context.Context,
	stationID int64,
	weightKg, distanceKm decimal.Decimal,
) (decimal.Decimal, bool, error) {
	var fee decimal.Decimal
	err := r.pool.QueryRow(ctx, localFeeSQL, stationID, weightKg, distanceKm).Scan(&fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, errors.Wrapf(err, "query fee for station %d", stationID)
	}
	return fee, true, nil
}
