package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/db"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/internal/storage/redis"
)

func main() {
	var (
		databaseURL string
		redisAddr   string
		fixture     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address for flash-sale pools (or CHECKOUT_REDIS_ADDR env); empty skips them")
	flag.StringVar(&fixture, "fixture", "", "path to catalog fixture; empty uses the embedded one")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if redisAddr == "" {
		redisAddr = os.Getenv("CHECKOUT_REDIS_ADDR")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, redisAddr, fixture); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, redisAddr, path string) error {
	f, err := readFixture(path)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	queued, err := seed(ctx, pool, f)
	if err != nil {
		return err
	}
	lg.Info("Upserted fixture rows",
		zap.Int("rows", queued),
		zap.Int("merchants", len(f.Merchants)),
		zap.Int("products", len(f.Products)),
		zap.Int("skus", len(f.SKUs)),
		zap.Int("coupons", len(f.Coupons)),
	)

	if redisAddr == "" {
		lg.Info("No Redis address, skipping flash-sale pools")
		return nil
	}
	return loadReserved(ctx, lg, redisAddr, f.SKUs)
}

func readFixture(path string) (*fixture, error) {
	data := db.Catalog
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read fixture")
		}
	}
	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parse fixture")
	}
	return &f, nil
}

// seed upserts the fixture in one transaction so a failing row leaves the
// database untouched.
func seed(ctx context.Context, pool *pgxpool.Pool, f *fixture) (int, error) {
	batch := &pgx.Batch{}
	for _, m := range f.Merchants {
		batch.Queue(upsertMerchantSQL, m.ID, m.Name, m.DeliveryWays, m.CommissionRate,
			m.CouponsStackWithMembership, m.MembershipEnabled, m.PointRate, m.LowStockThreshold)
	}
	for _, t := range f.Templates {
		tiers, err := json.Marshal(nonNil(t.Tiers))
		if err != nil {
			return 0, errors.Wrapf(err, "encode tiers of template %d", t.ID)
		}
		free, err := json.Marshal(nonNil(t.Free))
		if err != nil {
			return 0, errors.Wrapf(err, "encode free rules of template %d", t.ID)
		}
		batch.Queue(upsertTemplateSQL, t.ID, t.MerchantID, t.Name, string(t.Basis), tiers, free, nonNil(t.Undeliverable))
	}
	for _, p := range f.Products {
		batch.Queue(upsertProductSQL, p.ID, p.MerchantID, p.Name, p.Type, nonNil(p.CategoryIDs), p.DeliveryWays,
			p.MembershipEnabled, p.PointRate, p.MinPerOrder, p.MaxPerOrder, p.ShippingTemplateID, nonNil(p.RequiredFormFields))
	}
	for _, s := range f.SKUs {
		batch.Queue(upsertSKUSQL, s.ID, s.ProductID, s.Price, s.CostPrice, s.MemberPrice, s.FinalPrice,
			s.Weight, s.Volume, s.Stock, s.FlashStock, s.PresaleStock, s.ActivityStock)
	}
	for _, s := range f.Stations {
		batch.Queue(upsertStationSQL, s.ID, s.MerchantID, s.Name, s.Pickup, s.LocalDelivery, s.Lat, s.Lng, s.RangeKM)
		for _, fee := range s.Fees {
			batch.Queue(upsertStationFeeSQL, s.ID, fee.MaxDistanceKM, fee.MaxWeightKG, fee.Fee)
		}
	}
	for _, m := range f.Members {
		batch.Queue(upsertMemberSQL, m.UID, m.SVIPExpireAt, m.Points)
	}
	for _, a := range f.Addresses {
		batch.Queue(upsertAddressSQL, a.ID, a.UID, a.CityID, a.Lat, a.Lng)
	}
	for _, l := range f.CartLines {
		batch.Queue(upsertCartLineSQL, l.ID, l.UID, l.ProductID, l.SKUID, l.Quantity)
	}
	for _, c := range f.Coupons {
		batch.Queue(upsertCouponSQL, c.ID, c.UID, c.MerchantID, c.Title, c.Scope, c.Value, c.MinSpend,
			nonNil(c.ProductIDs), nonNil(c.CategoryIDs), nonNil(c.MerchantIDs), c.ValidFrom, c.ValidUntil, c.Sort)
	}

	queued := batch.Len()
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, errors.Wrap(err, "upsert fixture")
	}
	return queued, nil
}

func loadReserved(ctx context.Context, lg *zap.Logger, addr string, skus []skuRow) error {
	rdb, err := redis.NewClient(ctx, redis.Options{Addr: addr})
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	pools := redis.NewReservedPool(rdb, "")
	for _, s := range skus {
		if s.FlashStock == 0 {
			continue
		}
		if err := pools.Load(ctx, s.ID, s.FlashStock); err != nil {
			return err
		}
		lg.Info("Loaded flash-sale pool", zap.Int64("sku_id", s.ID), zap.Int("stock", s.FlashStock))
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type fixture struct {
	Merchants []merchantRow              `json:"merchants"`
	Templates []catalog.ShippingTemplate `json:"shipping_templates"`
	Products  []productRow               `json:"products"`
	SKUs      []skuRow                   `json:"skus"`
	Stations  []stationRow               `json:"stations"`
	Members   []memberRow                `json:"members"`
	Addresses []addressRow               `json:"addresses"`
	CartLines []cartLineRow              `json:"cart_lines"`
	Coupons   []couponRow                `json:"coupons"`
}

type merchantRow struct {
	ID                         int64           `json:"id"`
	Name                       string          `json:"name"`
	DeliveryWays               int16           `json:"delivery_ways"`
	CommissionRate             decimal.Decimal `json:"commission_rate"`
	CouponsStackWithMembership bool            `json:"coupons_stack_with_membership"`
	MembershipEnabled          bool            `json:"membership_enabled"`
	PointRate                  decimal.Decimal `json:"point_rate"`
	LowStockThreshold          int             `json:"low_stock_threshold"`
}

type productRow struct {
	ID                 int64               `json:"id"`
	MerchantID         int64               `json:"merchant_id"`
	Name               string              `json:"name"`
	Type               int16               `json:"type"`
	CategoryIDs        []int64             `json:"category_ids"`
	DeliveryWays       int16               `json:"delivery_ways"`
	MembershipEnabled  bool                `json:"membership_enabled"`
	PointRate          decimal.NullDecimal `json:"point_rate"`
	MinPerOrder        int                 `json:"min_per_order"`
	MaxPerOrder        int                 `json:"max_per_order"`
	ShippingTemplateID int64               `json:"shipping_template_id"`
	RequiredFormFields []string            `json:"required_form_fields"`
}

type skuRow struct {
	ID            int64           `json:"id"`
	ProductID     int64           `json:"product_id"`
	Price         decimal.Decimal `json:"price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	MemberPrice   decimal.Decimal `json:"member_price"`
	FinalPrice    decimal.Decimal `json:"final_price"`
	Weight        decimal.Decimal `json:"weight"`
	Volume        decimal.Decimal `json:"volume"`
	Stock         int             `json:"stock"`
	FlashStock    int             `json:"flash_stock"`
	PresaleStock  int             `json:"presale_stock"`
	ActivityStock int             `json:"activity_stock"`
}

type stationRow struct {
	ID            int64           `json:"id"`
	MerchantID    int64           `json:"merchant_id"`
	Name          string          `json:"name"`
	Pickup        bool            `json:"pickup"`
	LocalDelivery bool            `json:"local_delivery"`
	Lat           float64         `json:"lat"`
	Lng           float64         `json:"lng"`
	RangeKM       decimal.Decimal `json:"range_km"`
	Fees          []struct {
		MaxDistanceKM decimal.Decimal `json:"max_distance_km"`
		MaxWeightKG   decimal.Decimal `json:"max_weight_kg"`
		Fee           decimal.Decimal `json:"fee"`
	} `json:"fees"`
}

type memberRow struct {
	UID          int64      `json:"uid"`
	SVIPExpireAt *time.Time `json:"svip_expire_at"`
	Points       int64      `json:"points"`
}

type addressRow struct {
	ID     int64   `json:"id"`
	UID    int64   `json:"uid"`
	CityID int64   `json:"city_id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

type cartLineRow struct {
	ID        int64 `json:"id"`
	UID       int64 `json:"uid"`
	ProductID int64 `json:"product_id"`
	SKUID     int64 `json:"sku_id"`
	Quantity  int   `json:"quantity"`
}

type couponRow struct {
	ID          int64           `json:"id"`
	UID         int64           `json:"uid"`
	MerchantID  int64           `json:"merchant_id"`
	Title       string          `json:"title"`
	Scope       int16           `json:"scope"`
	Value       decimal.Decimal `json:"value"`
	MinSpend    decimal.Decimal `json:"min_spend"`
	ProductIDs  []int64         `json:"product_ids"`
	CategoryIDs []int64         `json:"category_ids"`
	MerchantIDs []int64         `json:"merchant_ids"`
	ValidFrom   *time.Time      `json:"valid_from"`
	ValidUntil  *time.Time      `json:"valid_until"`
	Sort        int             `json:"sort"`
}

const (
	upsertMerchantSQL = `INSERT INTO merchants (id, name, delivery_ways, commission_rate,
		coupons_stack_with_membership, membership_enabled, point_rate, low_stock_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, delivery_ways = EXCLUDED.delivery_ways,
			commission_rate = EXCLUDED.commission_rate,
			coupons_stack_with_membership = EXCLUDED.coupons_stack_with_membership,
			membership_enabled = EXCLUDED.membership_enabled, point_rate = EXCLUDED.point_rate,
			low_stock_threshold = EXCLUDED.low_stock_threshold`

	upsertTemplateSQL = `INSERT INTO shipping_templates (id, merchant_id, name, basis, tiers, free_rules, undeliverable)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, basis = EXCLUDED.basis, tiers = EXCLUDED.tiers,
			free_rules = EXCLUDED.free_rules, undeliverable = EXCLUDED.undeliverable`

	upsertProductSQL = `INSERT INTO products (id, merchant_id, name, type, category_ids, delivery_ways,
		membership_enabled, point_rate, min_per_order, max_per_order, shipping_template_id, required_form_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, type = EXCLUDED.type,
			category_ids = EXCLUDED.category_ids, delivery_ways = EXCLUDED.delivery_ways,
			membership_enabled = EXCLUDED.membership_enabled, point_rate = EXCLUDED.point_rate,
			min_per_order = EXCLUDED.min_per_order, max_per_order = EXCLUDED.max_per_order,
			shipping_template_id = EXCLUDED.shipping_template_id,
			required_form_fields = EXCLUDED.required_form_fields`

	upsertSKUSQL = `INSERT INTO skus (id, product_id, price, cost_price, member_price, final_price,
		weight, volume, stock, flash_stock, presale_stock, activity_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET price = EXCLUDED.price, cost_price = EXCLUDED.cost_price,
			member_price = EXCLUDED.member_price, final_price = EXCLUDED.final_price,
			weight = EXCLUDED.weight, volume = EXCLUDED.volume, stock = EXCLUDED.stock,
			flash_stock = EXCLUDED.flash_stock, presale_stock = EXCLUDED.presale_stock,
			activity_stock = EXCLUDED.activity_stock`

	upsertStationSQL = `INSERT INTO stations (id, merchant_id, name, pickup, local_delivery, lat, lng, range_km)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, pickup = EXCLUDED.pickup,
			local_delivery = EXCLUDED.local_delivery, lat = EXCLUDED.lat, lng = EXCLUDED.lng,
			range_km = EXCLUDED.range_km`

	upsertStationFeeSQL = `INSERT INTO station_fees (station_id, max_distance_km, max_weight_kg, fee)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (station_id, max_distance_km, max_weight_kg) DO UPDATE SET fee = EXCLUDED.fee`

	upsertMemberSQL = `INSERT INTO members (uid, svip_expire_at, points) VALUES ($1, $2, $3)
		ON CONFLICT (uid) DO UPDATE SET svip_expire_at = EXCLUDED.svip_expire_at, points = EXCLUDED.points`

	upsertAddressSQL = `INSERT INTO addresses (id, uid, city_id, lat, lng) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET city_id = EXCLUDED.city_id, lat = EXCLUDED.lat, lng = EXCLUDED.lng`

	upsertCartLineSQL = `INSERT INTO cart_lines (id, uid, product_id, sku_id, quantity) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity, consumed = FALSE, consumed_at = NULL`

	upsertCouponSQL = `INSERT INTO coupons (id, uid, merchant_id, title, scope, value, min_spend,
		product_ids, category_ids, merchant_ids, valid_from, valid_until, sort)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, scope = EXCLUDED.scope, value = EXCLUDED.value,
			min_spend = EXCLUDED.min_spend, product_ids = EXCLUDED.product_ids,
			category_ids = EXCLUDED.category_ids, merchant_ids = EXCLUDED.merchant_ids,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until, sort = EXCLUDED.sort,
			status = 'unused', used_group_id = NULL, used_at = NULL`
)
