package order

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

// --- Mock implementations ---

type mockQuotes struct {
	mu      sync.Mutex
	quotes  map[string]*checkout.Quote
	deleted []string
	err     error
}

func newMockQuotes(qs ...*checkout.Quote) *mockQuotes {
	m := &mockQuotes{quotes: map[string]*checkout.Quote{}}
	for _, q := range qs {
		m.quotes[q.Fingerprint] = q
	}
	return m
}

func (m *mockQuotes) Put(_ context.Context, q *checkout.Quote, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[q.Fingerprint] = q
	return nil
}

func (m *mockQuotes) Get(_ context.Context, _ int64, fp string) (*checkout.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	q, ok := m.quotes[fp]
	if !ok {
		return nil, checkout.ErrQuoteNotFound
	}
	return q, nil
}

func (m *mockQuotes) Delete(_ context.Context, _ int64, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.quotes, fp)
	m.deleted = append(m.deleted, fp)
	return nil
}

type poolKey struct {
	pool promotion.Pool
	sku  int64
}

// storeState is everything the in-memory store mutates; transactions work
// on a copy and swap it in on success.
type storeState struct {
	prices   map[int64]decimal.Decimal
	stock    map[poolKey]int
	sales    map[int64]int
	consumed map[int64]bool
	coupons  map[int64]bool
	points   map[int64]int64
	claims   map[string]string
	groups   []*Group
	logs     []StatusLog
	ledger   []LedgerEntry
}

func (s storeState) clone() storeState {
	return storeState{
		prices:   maps.Clone(s.prices),
		stock:    maps.Clone(s.stock),
		sales:    maps.Clone(s.sales),
		consumed: maps.Clone(s.consumed),
		coupons:  maps.Clone(s.coupons),
		points:   maps.Clone(s.points),
		claims:   maps.Clone(s.claims),
		groups:   slices.Clone(s.groups),
		logs:     slices.Clone(s.logs),
		ledger:   slices.Clone(s.ledger),
	}
}

type mockStore struct {
	mu    sync.Mutex
	state storeState
	// failCreate makes CreateGroup fail with an unexpected error.
	failCreate error
}

func newMockStore() *mockStore {
	return &mockStore{state: storeState{
		prices:   map[int64]decimal.Decimal{},
		stock:    map[poolKey]int{},
		sales:    map[int64]int{},
		consumed: map[int64]bool{},
		coupons:  map[int64]bool{},
		points:   map[int64]int64{},
		claims:   map[string]string{},
	}}
}

func (s *mockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &mockTx{state: s.state.clone(), failCreate: s.failCreate}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *mockStore) FindCommitted(_ context.Context, fp string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.state.claims[fp]
	return id, ok, nil
}

func (s *mockStore) snapshot() storeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

type mockTx struct {
	state      storeState
	failCreate error
}

func (t *mockTx) ClaimFingerprint(_ context.Context, _ int64, fp, groupID string) error {
	if _, ok := t.state.claims[fp]; ok {
		return ErrAlreadyClaimed
	}
	t.state.claims[fp] = groupID
	return nil
}

func (t *mockTx) LockSKU(_ context.Context, skuID int64) (SKUState, error) {
	p, ok := t.state.prices[skuID]
	if !ok {
		return SKUState{}, errors.Errorf("sku %d not found", skuID)
	}
	return SKUState{ID: skuID, Price: p}, nil
}

func (t *mockTx) DecrementStock(_ context.Context, pool promotion.Pool, skuID int64, qty int) (int, error) {
	k := poolKey{pool, skuID}
	if t.state.stock[k] < qty {
		return 0, ErrStockShort
	}
	t.state.stock[k] -= qty
	t.state.sales[skuID] += qty
	return t.state.stock[k], nil
}

func (t *mockTx) AddSales(_ context.Context, skuID int64, qty int) error {
	t.state.sales[skuID] += qty
	return nil
}

func (t *mockTx) ConsumeCartLines(_ context.Context, _ int64, ids []int64) error {
	for _, id := range ids {
		if t.state.consumed[id] {
			return ErrCartConsumed
		}
		t.state.consumed[id] = true
	}
	return nil
}

func (t *mockTx) MarkCouponUsed(_ context.Context, _ int64, id int64, _ string) error {
	if t.state.coupons[id] {
		return ErrCouponUnavailable
	}
	t.state.coupons[id] = true
	return nil
}

func (t *mockTx) DebitPoints(_ context.Context, e LedgerEntry) error {
	if t.state.points[e.UID] < e.Points {
		return ErrPointsShort
	}
	t.state.points[e.UID] -= e.Points
	t.state.ledger = append(t.state.ledger, e)
	return nil
}

func (t *mockTx) CreateGroup(_ context.Context, g *Group) error {
	if t.failCreate != nil {
		return t.failCreate
	}
	t.state.groups = append(t.state.groups, g)
	return nil
}

func (t *mockTx) AppendStatusLogs(_ context.Context, logs []StatusLog) error {
	t.state.logs = append(t.state.logs, logs...)
	return nil
}

type mockPool struct {
	mu     sync.Mutex
	stock  map[int64]int
	pushes int
}

func (p *mockPool) Pop(_ context.Context, skuID int64, qty int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stock[skuID] < qty {
		return 0, ErrStockShort
	}
	p.stock[skuID] -= qty
	return p.stock[skuID], nil
}

func (p *mockPool) Push(_ context.Context, skuID int64, qty int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock[skuID] += qty
	p.pushes++
	return nil
}

type mockNotifier struct {
	mu      sync.Mutex
	created []string
	told    []string
	alerts  []LowStockAlert
	err     error
}

func (n *mockNotifier) OrderCreated(_ context.Context, g *Group) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, g.ID)
	return n.err
}

func (n *mockNotifier) NotifyCustomer(_ context.Context, g *Group) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.told = append(n.told, g.ID)
	return n.err
}

func (n *mockNotifier) LowStock(_ context.Context, alerts []LowStockAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alerts...)
	return n.err
}
