package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

const (
	productsSQL = `SELECT id, merchant_id, name, active, type, category_ids, delivery_ways,
		membership_enabled, point_rate, min_per_order, max_per_order, shipping_template_id,
		required_form_fields
		FROM products WHERE id = ANY($1)`

	skusSQL = `SELECT id, product_id, price, cost_price, member_price, final_price, weight, volume,
		stock, flash_stock, presale_stock, activity_stock
		FROM skus WHERE id = ANY($1)`

	merchantsSQL = `SELECT id, name, active, delivery_ways, commission_rate,
		coupons_stack_with_membership, membership_enabled, point_rate, low_stock_threshold
		FROM merchants WHERE id = ANY($1)`

	templatesSQL = `SELECT id, merchant_id, name, basis, tiers, free_rules, undeliverable
		FROM shipping_templates WHERE id = ANY($1)`

	stationsSQL = `SELECT id, merchant_id, name, pickup, local_delivery, lat, lng, range_km
		FROM stations WHERE id = ANY($1)`
)

var _ catalog.Reader = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Reader backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Products returns the products matching ids.
func (r *CatalogRepository) Products(ctx context.Context, ids []int64) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, productsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// SKUs returns the SKUs matching ids with their stock per pool.
func (r *CatalogRepository) SKUs(ctx context.Context, ids []int64) ([]catalog.SKU, error) {
	rows, err := r.pool.Query(ctx, skusSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query skus")
	}
	return pgx.CollectRows(rows, scanSKU)
}

// Merchants returns the merchants matching ids.
func (r *CatalogRepository) Merchants(ctx context.Context, ids []int64) ([]catalog.Merchant, error) {
	rows, err := r.pool.Query(ctx, merchantsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query merchants")
	}
	return pgx.CollectRows(rows, scanMerchant)
}

// ShippingTemplates returns the templates matching ids.
func (r *CatalogRepository) ShippingTemplates(ctx context.Context, ids []int64) ([]catalog.ShippingTemplate, error) {
	rows, err := r.pool.Query(ctx, templatesSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query shipping templates")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.ShippingTemplate, error) {
		var (
			t     catalog.ShippingTemplate
			basis string
		)
		err := row.Scan(&t.ID, &t.MerchantID, &t.Name, &basis, &t.Tiers, &t.Free, &t.Undeliverable)
		t.Basis = catalog.ChargeBasis(basis)
		return t, err
	})
}

// Stations returns the stations matching ids.
func (r *CatalogRepository) Stations(ctx context.Context, ids []int64) ([]catalog.Station, error) {
	rows, err := r.pool.Query(ctx, stationsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query stations")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Station, error) {
		var s catalog.Station
		err := row.Scan(&s.ID, &s.MerchantID, &s.Name, &s.Pickup, &s.LocalDelivery, &s.Lat, &s.Lng, &s.RangeKm)
		return s, err
	})
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p         catalog.Product
		typ       int16
		ways      int16
		pointRate decimal.NullDecimal
	)
	err := row.Scan(
		&p.ID, &p.MerchantID, &p.Name, &p.Active, &typ, &p.CategoryIDs, &ways,
		&p.MembershipEnabled, &pointRate, &p.MinPerOrder, &p.MaxPerOrder, &p.ShippingTemplateID,
		&p.RequiredFormFields,
	)
	p.Type = promotion.Type(typ)
	p.DeliveryWays = catalog.DeliverySet(ways)
	if pointRate.Valid {
		p.PointRate = &pointRate.Decimal
	}
	return p, err
}

func scanSKU(row pgx.CollectableRow) (catalog.SKU, error) {
	var (
		s                                catalog.SKU
		normal, flash, presale, activity int
	)
	err := row.Scan(
		&s.ID, &s.ProductID, &s.Price, &s.CostPrice, &s.MemberPrice, &s.FinalPrice, &s.Weight, &s.Volume,
		&normal, &flash, &presale, &activity,
	)
	s.Stocks = map[promotion.Pool]int{
		promotion.PoolNormal:    normal,
		promotion.PoolFlashSale: flash,
		promotion.PoolPresale:   presale,
		promotion.PoolActivity:  activity,
	}
	return s, err
}

func scanMerchant(row pgx.CollectableRow) (catalog.Merchant, error) {
	var (
		m    catalog.Merchant
		ways int16
	)
	err := row.Scan(
		&m.ID, &m.Name, &m.Active, &ways, &m.CommissionRate,
		&m.CouponsStackWithMembership, &m.MembershipEnabled, &m.PointRate, &m.LowStockThreshold,
	)
	m.DeliveryWays = catalog.DeliverySet(ways)
	return m, err
}
