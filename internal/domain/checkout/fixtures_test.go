package checkout

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

// --- Mock implementations ---

type mockStore struct {
	lines     map[int64]cart.Line
	products  map[int64]catalog.Product
	skus      map[int64]catalog.SKU
	merchants map[int64]catalog.Merchant
	templates map[int64]catalog.ShippingTemplate
	stations  map[int64]catalog.Station
	addresses map[int64]catalog.Address
	member    catalog.Member
	coupons   []coupon.Coupon
	err       error
}

func newMockStore() *mockStore {
	return &mockStore{
		lines:     map[int64]cart.Line{},
		products:  map[int64]catalog.Product{},
		skus:      map[int64]catalog.SKU{},
		merchants: map[int64]catalog.Merchant{},
		templates: map[int64]catalog.ShippingTemplate{},
		stations:  map[int64]catalog.Station{},
		addresses: map[int64]catalog.Address{},
	}
}

func pick[T any](m map[int64]T, ids []int64) []T {
	var out []T
	for _, id := range ids {
		if v, ok := m[id]; ok {
			out = append(out, v)
		}
	}
	return out
}

func (m *mockStore) Lines(_ context.Context, uid int64, ids []int64) ([]cart.Line, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []cart.Line
	for _, l := range pick(m.lines, ids) {
		if l.UID == uid {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) Products(_ context.Context, ids []int64) ([]catalog.Product, error) {
	return pick(m.products, ids), m.err
}

func (m *mockStore) SKUs(_ context.Context, ids []int64) ([]catalog.SKU, error) {
	return pick(m.skus, ids), m.err
}

func (m *mockStore) Merchants(_ context.Context, ids []int64) ([]catalog.Merchant, error) {
	return pick(m.merchants, ids), m.err
}

func (m *mockStore) ShippingTemplates(_ context.Context, ids []int64) ([]catalog.ShippingTemplate, error) {
	return pick(m.templates, ids), m.err
}

func (m *mockStore) Stations(_ context.Context, ids []int64) ([]catalog.Station, error) {
	return pick(m.stations, ids), m.err
}

func (m *mockStore) Member(_ context.Context, uid int64) (catalog.Member, error) {
	mem := m.member
	mem.UID = uid
	return mem, m.err
}

func (m *mockStore) Address(_ context.Context, uid, id int64) (*catalog.Address, error) {
	a, ok := m.addresses[id]
	if !ok || a.UID != uid {
		return nil, catalog.ErrNotFound
	}
	return &a, nil
}

func (m *mockStore) Usable(_ context.Context, uid int64, _ time.Time) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, c := range m.coupons {
		if c.UID == uid {
			out = append(out, c)
		}
	}
	return out, m.err
}

type mockFees struct {
	fee decimal.Decimal
	ok  bool
	err error

	gotWeight   decimal.Decimal
	gotDistance decimal.Decimal
}

func (m *mockFees) LocalFee(_ context.Context, _ int64, weightKg, distanceKm decimal.Decimal) (decimal.Decimal, bool, error) {
	m.gotWeight, m.gotDistance = weightKg, distanceKm
	return m.fee, m.ok, m.err
}

type mockCache struct {
	mu     sync.Mutex
	quotes map[string]*Quote
	ttls   map[string]time.Duration
	err    error
}

func newMockCache() *mockCache {
	return &mockCache{quotes: map[string]*Quote{}, ttls: map[string]time.Duration{}}
}

func (m *mockCache) Put(_ context.Context, q *Quote, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.quotes[q.Fingerprint] = q
	m.ttls[q.Fingerprint] = ttl
	return nil
}

func (m *mockCache) Get(_ context.Context, _ int64, fp string) (*Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[fp]
	if !ok {
		return nil, ErrQuoteNotFound
	}
	return q, nil
}

func (m *mockCache) Delete(_ context.Context, _ int64, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, fp)
	return nil
}

// --- Helpers ---

const (
	testUID      = int64(7)
	testMerchant = int64(1)
	testProduct  = int64(10)
	testSKU      = int64(100)
	testLine     = int64(1)
	testAddress  = int64(1)
	testTemplate = int64(100)
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T { return &v }

// newScenarioStore is one merchant selling one product at 100.00 with a
// membership price of 80.00, two units in the cart, shipped with a first fee
// of 10.00 for up to two units.
func newScenarioStore() *mockStore {
	s := newMockStore()
	s.merchants[testMerchant] = catalog.Merchant{
		ID:                testMerchant,
		Name:              "Corner Shop",
		Active:            true,
		DeliveryWays:      catalog.NewDeliverySet(catalog.Ship, catalog.Pickup),
		CommissionRate:    d("0.05"),
		MembershipEnabled: true,
		PointRate:         d("0.1"),
		LowStockThreshold: 3,
	}
	s.products[testProduct] = catalog.Product{
		ID:                 testProduct,
		MerchantID:         testMerchant,
		Name:               "Tea",
		Active:             true,
		Type:               promotion.Normal,
		CategoryIDs:        []int64{5},
		DeliveryWays:       catalog.AllDelivery,
		MembershipEnabled:  true,
		ShippingTemplateID: testTemplate,
	}
	s.skus[testSKU] = catalog.SKU{
		ID:          testSKU,
		ProductID:   testProduct,
		Price:       d("100.00"),
		CostPrice:   d("60.00"),
		MemberPrice: d("80.00"),
		Weight:      d("0.5"),
		Stocks:      map[promotion.Pool]int{promotion.PoolNormal: 10},
	}
	s.lines[testLine] = cart.Line{ID: testLine, UID: testUID, ProductID: testProduct, SKUID: testSKU, Quantity: 2}
	s.addresses[testAddress] = catalog.Address{ID: testAddress, UID: testUID, CityID: 1, Lat: 52.52, Lng: 13.405}
	s.templates[testTemplate] = catalog.ShippingTemplate{
		ID:         testTemplate,
		MerchantID: testMerchant,
		Name:       "Standard",
		Basis:      catalog.ByQuantity,
		Tiers: []catalog.FeeTier{
			{First: d("2"), FirstFee: d("10.00"), Step: d("1"), StepFee: d("5.00")},
		},
	}
	return s
}

func storeCoupon(id int64, value, minSpend string) coupon.Coupon {
	return coupon.Coupon{
		ID:         id,
		UID:        testUID,
		MerchantID: testMerchant,
		Title:      "Store coupon",
		Scope:      coupon.ScopeStore,
		Value:      d(value),
		MinSpend:   d(minSpend),
		Status:     coupon.StatusUnused,
	}
}

func newTestService(s *mockStore, settings Settings) (*Service, *mockCache) {
	cache := newMockCache()
	loader := NewLoader(s, s, s, s)
	svc := NewService(loader, &mockFees{}, cache, Options{
		Settings: settings,
		Now:      func() time.Time { return testNow },
	})
	return svc, cache
}

func scenarioRequest() QuoteRequest {
	return QuoteRequest{
		UID:       testUID,
		LineIDs:   []int64{testLine},
		AddressID: testAddress,
	}
}

// line builds a priced-ready cart line for direct pipeline tests.
func line(id, merchantID int64, price string, qty int) CartLine {
	return CartLine{
		LineID:       id,
		MerchantID:   merchantID,
		ProductID:    id * 10,
		SKUID:        id * 100,
		Quantity:     qty,
		Type:         promotion.Normal,
		UnitPrice:    d(price),
		DeliveryWays: catalog.AllDelivery,
		Weight:       decimal.Zero,
		Volume:       decimal.Zero,
	}
}

func partition(m catalog.Merchant, lines ...CartLine) Partition {
	return Partition{
		MerchantID:    m.ID,
		Merchant:      m,
		Lines:         lines,
		DeliveryModes: catalog.AllDelivery,
		DeliveryValid: true,
		Delivery:      DeliverySelection{Mode: catalog.Pickup},
	}
}

func lineIDs(lines []PricedLine) []int64 {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.LineID
	}
	slices.Sort(ids)
	return ids
}
