package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

// --- Helpers ---

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const (
	testUID = int64(7)
	testSKU = int64(100)
)

func testLine(id int64, price string, qty int) checkout.LineQuote {
	original := d(price).Mul(decimal.NewFromInt(int64(qty)))
	return checkout.LineQuote{
		LineID:      id,
		ProductID:   id * 10,
		SKUID:       testSKU,
		ProductName: "Tea",
		Quantity:    qty,
		Type:        promotion.Normal,
		UnitPrice:   d(price),
		Original:    original,
		Payable:     original,
		ShippingFee: decimal.Zero,
	}
}

// testQuote wraps lines into a one-merchant quote with consistent totals.
func testQuote(fp string, uid int64, lines ...checkout.LineQuote) *checkout.Quote {
	mq := checkout.MerchantQuote{
		MerchantID:        1,
		Delivery:          checkout.DeliverySelection{Mode: catalog.Ship},
		DeliveryValid:     true,
		LowStockThreshold: 2,
		Original:          decimal.Zero,
		Payable:           decimal.Zero,
		Shipping:          decimal.Zero,
		Lines:             lines,
	}
	q := &checkout.Quote{Fingerprint: fp, UID: uid, ExpiresAt: testNow.Add(time.Minute)}
	for _, l := range lines {
		mq.Original = mq.Original.Add(l.Original)
		mq.Payable = mq.Payable.Add(l.Payable)
		mq.Shipping = mq.Shipping.Add(l.ShippingFee)
		mq.Discounts.Points = mq.Discounts.Points.Add(l.PointsDeduction)
		mq.Discounts.PointsUsed += l.PointsUsed
		q.LineIDs = append(q.LineIDs, l.LineID)
	}
	mq.Total = mq.Payable.Add(mq.Shipping)
	q.Merchants = []checkout.MerchantQuote{mq}
	q.Original, q.Payable, q.Shipping, q.Total = mq.Original, mq.Payable, mq.Shipping, mq.Total
	q.Discounts = mq.Discounts
	return q
}

type env struct {
	quotes   *mockQuotes
	store    *mockStore
	pool     *mockPool
	notifier *mockNotifier
	m        *Materializer
}

func newEnv(t *testing.T, quotes ...*checkout.Quote) *env {
	t.Helper()
	e := &env{
		quotes:   newMockQuotes(quotes...),
		store:    newMockStore(),
		pool:     &mockPool{stock: map[int64]int{}},
		notifier: &mockNotifier{},
	}
	e.store.state.prices[testSKU] = d("100.00")
	e.store.state.stock[poolKey{promotion.PoolNormal, testSKU}] = 5

	var seq int
	var mu sync.Mutex
	m, err := NewMaterializer(e.quotes, e.store, e.pool, e.notifier, Options{
		MaxOrderTotal: d("10000"),
		Now:           func() time.Time { return testNow },
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	require.NoError(t, err)
	e.m = m
	return e
}

func commitReq(q *checkout.Quote) CommitRequest {
	return CommitRequest{UID: q.UID, Fingerprint: q.Fingerprint, ExpectedTotal: q.Total, PayMethod: "card"}
}

// --- Tests ---

func TestCommit_Success(t *testing.T) {
	l := testLine(1, "100.00", 2)
	l.PointsUsed = 500
	l.PointsDeduction = d("5.00")
	l.Payable = d("190.00")
	q := testQuote("fp-1", testUID, l)
	q.Allocations = []checkout.Allocation{{Stage: checkout.StageStoreCoupon, CouponID: 501, Amount: d("5.00")}}

	e := newEnv(t, q)
	e.store.state.points[testUID] = 1000

	req := commitReq(q)
	req.Remarks = map[int64]string{1: "leave at the door"}
	req.Receipts = map[int64]Receipt{1: {Title: "ACME"}}
	g, err := e.m.Commit(context.Background(), req)
	require.NoError(t, err)
	e.m.Wait()

	assert.Equal(t, "id-1", g.ID)
	assert.Equal(t, "190", g.Total.String())
	assert.Equal(t, []int64{501}, g.CouponIDs)
	require.Len(t, g.Orders, 1)
	o := g.Orders[0]
	assert.Equal(t, StatusPendingPayment, o.Status)
	assert.Equal(t, "leave at the door", o.Remark)
	require.NotNil(t, o.Receipt)
	assert.Equal(t, "ACME", o.Receipt.Title)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "190", o.Lines[0].Payable.String())

	st := e.store.snapshot()
	assert.Equal(t, 3, st.stock[poolKey{promotion.PoolNormal, testSKU}])
	assert.Equal(t, 2, st.sales[testSKU])
	assert.True(t, st.consumed[1])
	assert.True(t, st.coupons[501])
	assert.Equal(t, int64(500), st.points[testUID])
	require.Len(t, st.ledger, 1)
	assert.Equal(t, g.ID, st.ledger[0].GroupID)
	assert.Len(t, st.groups, 1)
	require.Len(t, st.logs, 1)
	assert.Equal(t, StatusPendingPayment, st.logs[0].To)
	assert.Equal(t, g.ID, st.claims["fp-1"])

	assert.Equal(t, []string{"fp-1"}, e.quotes.deleted)
	assert.Equal(t, []string{g.ID}, e.notifier.created)
	assert.Equal(t, []string{g.ID}, e.notifier.told)
	assert.Empty(t, e.notifier.alerts, "3 left is not below the threshold of 2")
}

func TestCommit_Once(t *testing.T) {
	q := testQuote("fp-1", testUID, testLine(1, "100.00", 1))
	e := newEnv(t, q)
	ctx := context.Background()

	g, err := e.m.Commit(ctx, commitReq(q))
	require.NoError(t, err)

	_, err = e.m.Commit(ctx, commitReq(q))
	var stale *checkout.StaleQuoteError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, checkout.StaleCommitted, stale.Reason)
	assert.Equal(t, g.ID, stale.GroupID)

	// Even with the quote still cached the claim blocks a second commit.
	require.NoError(t, e.quotes.Put(ctx, q, time.Minute))
	_, err = e.m.Commit(ctx, commitReq(q))
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, checkout.StaleCommitted, stale.Reason)
	assert.Equal(t, g.ID, stale.GroupID)

	st := e.store.snapshot()
	assert.Equal(t, 4, st.stock[poolKey{promotion.PoolNormal, testSKU}])
	assert.Len(t, st.groups, 1)
}

func TestCommit_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		quote  func(q *checkout.Quote)
		req    func(r *CommitRequest)
		target error
		reason string
	}{
		{
			name:   "total mismatch",
			req:    func(r *CommitRequest) { r.ExpectedTotal = d("99.99") },
			target: checkout.ErrStaleQuote,
			reason: string(checkout.StaleTotalMismatch),
		},
		{
			name:   "missing quote",
			req:    func(r *CommitRequest) { r.Fingerprint = "other" },
			target: checkout.ErrStaleQuote,
			reason: string(checkout.StaleMissing),
		},
		{
			name:   "expired",
			quote:  func(q *checkout.Quote) { q.ExpiresAt = testNow },
			target: checkout.ErrStaleQuote,
			reason: string(checkout.StaleMissing),
		},
		{
			name:   "other shopper",
			req:    func(r *CommitRequest) { r.UID = 8 },
			target: checkout.ErrStaleQuote,
			reason: string(checkout.StaleMissing),
		},
		{
			name: "undeliverable",
			quote: func(q *checkout.Quote) {
				q.Merchants[0].DeliveryValid = false
				q.Merchants[0].DeliveryIssue = "select a station"
			},
			target: checkout.ErrValidation,
			reason: "select a station (merchant 1)",
		},
		{
			name:   "missing form field",
			quote:  func(q *checkout.Quote) { q.Merchants[0].Lines[0].RequiredForm = []string{"engraving"} },
			req:    func(r *CommitRequest) { r.FormAnswers = map[int64]map[string]string{1: {"engraving": " "}} },
			target: checkout.ErrValidation,
			reason: `form field "engraving" is required (product 10)`,
		},
		{
			name: "over the limit",
			quote: func(q *checkout.Quote) {
				q.Total = d("20000")
			},
			req:    func(r *CommitRequest) { r.ExpectedTotal = d("20000") },
			target: checkout.ErrValidation,
			reason: "order total 20000.00 exceeds the limit of 10000.00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := testQuote("fp-1", testUID, testLine(1, "100.00", 1))
			if tt.quote != nil {
				tt.quote(q)
			}
			e := newEnv(t, q)
			req := commitReq(q)
			if tt.req != nil {
				tt.req(&req)
			}

			_, err := e.m.Commit(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.Equal(t, tt.reason, err.Error())

			st := e.store.snapshot()
			assert.Empty(t, st.claims)
			assert.Equal(t, 5, st.stock[poolKey{promotion.PoolNormal, testSKU}])
		})
	}
}

func TestCommit_ConcurrentCommitsForLastUnit(t *testing.T) {
	first := testQuote("fp-a", 1, testLine(1, "100.00", 1))
	second := testQuote("fp-b", 2, testLine(2, "100.00", 1))
	e := newEnv(t, first, second)
	e.store.state.stock[poolKey{promotion.PoolNormal, testSKU}] = 1

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, q := range []*checkout.Quote{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.m.Commit(context.Background(), commitReq(q))
		}()
	}
	wg.Wait()

	var succeeded, short int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, checkout.ErrInsufficientResource):
			short++
			var ire *checkout.InsufficientResourceError
			require.ErrorAs(t, err, &ire)
			assert.Equal(t, checkout.ResourceStock, ire.Resource)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)

	st := e.store.snapshot()
	assert.Zero(t, st.stock[poolKey{promotion.PoolNormal, testSKU}])
	assert.Equal(t, 1, st.sales[testSKU])
	assert.Len(t, st.groups, 1)
	assert.Len(t, st.claims, 1)
	assert.Len(t, st.consumed, 1)
}

func TestCommit_ReservedPoolCompensation(t *testing.T) {
	flash := testLine(1, "100.00", 1)
	flash.Type = promotion.FlashSale

	t.Run("pushed back when a later step fails", func(t *testing.T) {
		q := testQuote("fp-1", testUID, flash)
		e := newEnv(t, q)
		e.pool.stock[testSKU] = 3
		e.store.state.consumed[1] = true

		_, err := e.m.Commit(context.Background(), commitReq(q))
		var stale *checkout.StaleQuoteError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, checkout.StaleCartConsumed, stale.Reason)

		assert.Equal(t, 3, e.pool.stock[testSKU])
		assert.Equal(t, 1, e.pool.pushes)
		assert.Zero(t, e.store.snapshot().sales[testSKU])
	})

	t.Run("pushed back on unexpected errors", func(t *testing.T) {
		q := testQuote("fp-1", testUID, flash)
		e := newEnv(t, q)
		e.pool.stock[testSKU] = 3
		e.store.failCreate = errors.New("disk full")

		_, err := e.m.Commit(context.Background(), commitReq(q))
		require.Error(t, err)
		assert.True(t, errors.Is(err, checkout.ErrCommitFailed))
		var ce *checkout.CommitError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, ce.Err.Error(), "disk full")
		assert.Equal(t, 3, e.pool.stock[testSKU])
	})

	t.Run("nothing to return when the pop fails", func(t *testing.T) {
		q := testQuote("fp-1", testUID, flash)
		e := newEnv(t, q)

		_, err := e.m.Commit(context.Background(), commitReq(q))
		assert.True(t, errors.Is(err, checkout.ErrInsufficientResource))
		assert.Zero(t, e.pool.pushes)
	})
}

func TestCommit_ResourceErrors(t *testing.T) {
	t.Run("coupon already used", func(t *testing.T) {
		q := testQuote("fp-1", testUID, testLine(1, "100.00", 1))
		q.Allocations = []checkout.Allocation{{Stage: checkout.StagePlatformCoupon, CouponID: 9}}
		e := newEnv(t, q)
		e.store.state.coupons[9] = true

		_, err := e.m.Commit(context.Background(), commitReq(q))
		var ire *checkout.InsufficientResourceError
		require.ErrorAs(t, err, &ire)
		assert.Equal(t, checkout.ResourceCoupon, ire.Resource)
		assert.Equal(t, int64(9), ire.CouponID)
		assert.Equal(t, 5, e.store.snapshot().stock[poolKey{promotion.PoolNormal, testSKU}])
	})

	t.Run("points spent elsewhere", func(t *testing.T) {
		l := testLine(1, "100.00", 1)
		l.PointsUsed = 100
		q := testQuote("fp-1", testUID, l)
		e := newEnv(t, q)
		e.store.state.points[testUID] = 99

		_, err := e.m.Commit(context.Background(), commitReq(q))
		var ire *checkout.InsufficientResourceError
		require.ErrorAs(t, err, &ire)
		assert.Equal(t, checkout.ResourcePoints, ire.Resource)
	})

	t.Run("price changed", func(t *testing.T) {
		q := testQuote("fp-1", testUID, testLine(1, "100.00", 1))
		e := newEnv(t, q)
		e.store.state.prices[testSKU] = d("120.00")

		_, err := e.m.Commit(context.Background(), commitReq(q))
		var stale *checkout.StaleQuoteError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, checkout.StalePriceChanged, stale.Reason)
	})
}

func TestCommit_NotificationFailureKeepsOrder(t *testing.T) {
	q := testQuote("fp-1", testUID, testLine(1, "100.00", 4))
	e := newEnv(t, q)
	e.notifier.err = errors.New("broker down")

	core, logs := observer.New(zap.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	g, err := e.m.Commit(ctx, commitReq(q))
	require.NoError(t, err)
	e.m.Wait()

	assert.Len(t, e.store.snapshot().groups, 1)
	require.Len(t, e.notifier.alerts, 1)
	assert.Equal(t, LowStockAlert{MerchantID: 1, ProductID: 10, SKUID: testSKU, Remaining: 1, Threshold: 2}, e.notifier.alerts[0])

	failures := logs.FilterMessage("Notification failed").All()
	assert.Len(t, failures, 3)
	for _, entry := range failures {
		assert.Equal(t, g.ID, entry.ContextMap()["group_id"])
	}
}

func TestCommit_PresaleFollowUp(t *testing.T) {
	l := testLine(1, "30.00", 2)
	l.Type = promotion.Presale
	l.FinalPayment = d("140.00")
	q := testQuote("fp-1", testUID, l)
	e := newEnv(t, q)
	e.store.state.stock[poolKey{promotion.PoolPresale, testSKU}] = 10

	g, err := e.m.Commit(context.Background(), commitReq(q))
	require.NoError(t, err)

	require.Len(t, g.Orders, 2)
	parent, follow := g.Orders[0], g.Orders[1]
	assert.Equal(t, KindStandard, parent.Kind)
	assert.Equal(t, KindFinalPayment, follow.Kind)
	assert.Equal(t, parent.ID, follow.ParentID)
	assert.Equal(t, StatusAwaitingFinalPayment, follow.Status)
	assert.Equal(t, "140", follow.Total.String())
	require.Len(t, follow.Lines, 1)
	assert.Equal(t, int64(1), follow.Lines[0].CartLineID)

	st := e.store.snapshot()
	assert.Equal(t, 8, st.stock[poolKey{promotion.PoolPresale, testSKU}])
	assert.Len(t, st.logs, 2)
}

func TestAttemptTransitions(t *testing.T) {
	a := newAttempt()
	require.NoError(t, a.to(StateCommitting))
	require.Error(t, a.to(StateQuoted))
	require.NoError(t, a.to(StateCommitted))
	require.Error(t, a.to(StateFailed))
}
