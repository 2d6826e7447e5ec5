package order

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// Options tune a Materializer.
type Options struct {
	// MaxOrderTotal rejects larger commits. Zero disables the check.
	MaxOrderTotal decimal.Decimal
	// NotifyTimeout bounds each post-commit notification.
	NotifyTimeout  time.Duration
	Now            func() time.Time
	NewID          func() string
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
}

// Materializer commits quotes into orders exactly once.
type Materializer struct {
	quotes   checkout.QuoteCache
	store    Store
	reserved ReservedPool
	notifier Notifier

	maxTotal      decimal.Decimal
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string
	tracer        trace.Tracer

	commits        metric.Int64Counter
	duration       metric.Float64Histogram
	notifyFailures metric.Int64Counter

	wg sync.WaitGroup
}

// NewMaterializer creates a Materializer.
func NewMaterializer(
	quotes checkout.QuoteCache,
	store Store,
	reserved ReservedPool,
	notifier Notifier,
	opts Options,
) (*Materializer, error) {
	opts.setDefaults()
	meter := opts.MeterProvider.Meter("order")

	m := &Materializer{
		quotes:        quotes,
		store:         store,
		reserved:      reserved,
		notifier:      notifier,
		maxTotal:      opts.MaxOrderTotal,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
		newID:         opts.NewID,
		tracer:        opts.TracerProvider.Tracer("order"),
	}
	var err error
	if m.commits, err = meter.Int64Counter("checkout.commits",
		metric.WithDescription("Commit attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "commits counter")
	}
	if m.duration, err = meter.Float64Histogram("checkout.commit.duration",
		metric.WithDescription("Commit latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "commit duration histogram")
	}
	if m.notifyFailures, err = meter.Int64Counter("checkout.notify.failures",
		metric.WithDescription("Failed post-commit notifications"),
	); err != nil {
		return nil, errors.Wrap(err, "notify failures counter")
	}
	return m, nil
}

// reservation is a reserved-pool pop that must be returned if the commit
// fails.
type reservation struct {
	skuID int64
	qty   int
}

// Commit persists the quote behind req.Fingerprint. A fingerprint commits at
// most once; later attempts get a StaleQuoteError carrying the group id.
func (m *Materializer) Commit(ctx context.Context, req CommitRequest) (_ *Group, rerr error) {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "order.Commit",
		trace.WithAttributes(
			attribute.Int64("checkout.uid", req.UID),
			attribute.String("checkout.fingerprint", req.Fingerprint),
		),
	)
	defer func() {
		outcome := outcomeOf(rerr)
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		m.commits.Add(ctx, 1, attrs)
		m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	lg := zctx.From(ctx).With(
		zap.Int64("uid", req.UID),
		zap.String("fingerprint", req.Fingerprint),
	)
	at := newAttempt()
	q, err := m.lookup(ctx, req)
	if err == nil {
		err = m.precheck(q, req)
	}
	if err != nil {
		_ = at.to(StateFailed)
		lg.Debug("Commit rejected", zap.Error(err))
		return nil, err
	}
	if err := at.to(StateCommitting); err != nil {
		return nil, err
	}
	lg.Debug("Committing")

	g, logs := m.build(q, req)
	var (
		popped []reservation
		alerts []LowStockAlert
	)
	err = m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		popped, alerts = popped[:0], alerts[:0]
		return m.apply(ctx, tx, q, g, logs, &popped, &alerts)
	})
	if err != nil {
		m.compensate(ctx, popped)
		_ = at.to(StateFailed)
		err = m.classify(ctx, req.Fingerprint, err)
		lg.Debug("Commit failed", zap.Error(err))
		return nil, err
	}
	if err := at.to(StateCommitted); err != nil {
		return nil, err
	}

	if err := m.quotes.Delete(ctx, req.UID, req.Fingerprint); err != nil {
		lg.Warn("Failed to drop committed quote", zap.Error(err))
	}
	lg.Info("Order committed",
		zap.String("group_id", g.ID),
		zap.Int("orders", len(g.Orders)),
		zap.String("total", g.Total.StringFixed(2)),
	)
	m.notify(ctx, g, alerts)
	return g, nil
}

// Wait blocks until in-flight notifications finish.
func (m *Materializer) Wait() {
	m.wg.Wait()
}

func (m *Materializer) lookup(ctx context.Context, req CommitRequest) (*checkout.Quote, error) {
	q, err := m.quotes.Get(ctx, req.UID, req.Fingerprint)
	switch {
	case errors.Is(err, checkout.ErrQuoteNotFound):
		return nil, m.committedOrMissing(ctx, req.Fingerprint)
	case err != nil:
		return nil, &checkout.CommitError{Fingerprint: req.Fingerprint, Err: errors.Wrap(err, "get quote")}
	case q.UID != req.UID || q.Expired(m.now()):
		return nil, &checkout.StaleQuoteError{Fingerprint: req.Fingerprint, Reason: checkout.StaleMissing}
	}
	return q, nil
}

func (m *Materializer) committedOrMissing(ctx context.Context, fingerprint string) error {
	groupID, ok, err := m.store.FindCommitted(ctx, fingerprint)
	if err != nil {
		return &checkout.CommitError{Fingerprint: fingerprint, Err: errors.Wrap(err, "find committed")}
	}
	if ok {
		return &checkout.StaleQuoteError{Fingerprint: fingerprint, Reason: checkout.StaleCommitted, GroupID: groupID}
	}
	return &checkout.StaleQuoteError{Fingerprint: fingerprint, Reason: checkout.StaleMissing}
}

func (m *Materializer) precheck(q *checkout.Quote, req CommitRequest) error {
	if !req.ExpectedTotal.Equal(q.Total) {
		return &checkout.StaleQuoteError{Fingerprint: q.Fingerprint, Reason: checkout.StaleTotalMismatch}
	}
	if m.maxTotal.IsPositive() && q.Total.GreaterThan(m.maxTotal) {
		return &checkout.ValidationError{
			Reason: fmt.Sprintf("order total %s exceeds the limit of %s", q.Total.StringFixed(2), m.maxTotal.StringFixed(2)),
		}
	}
	if mq, ok := q.DeliveryIssue(); ok {
		return &checkout.ValidationError{MerchantID: mq.MerchantID, Reason: mq.DeliveryIssue}
	}
	for _, mq := range q.Merchants {
		for _, l := range mq.Lines {
			answers := req.FormAnswers[l.LineID]
			for _, field := range l.RequiredForm {
				if strings.TrimSpace(answers[field]) == "" {
					return &checkout.ValidationError{
						LineID:    l.LineID,
						ProductID: l.ProductID,
						Reason:    fmt.Sprintf("form field %q is required", field),
					}
				}
			}
		}
	}
	return nil
}

// apply performs every write of the commit inside tx.
func (m *Materializer) apply(
	ctx context.Context,
	tx Tx,
	q *checkout.Quote,
	g *Group,
	logs []StatusLog,
	popped *[]reservation,
	alerts *[]LowStockAlert,
) error {
	if err := tx.ClaimFingerprint(ctx, q.UID, q.Fingerprint, g.ID); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			return &checkout.StaleQuoteError{Fingerprint: q.Fingerprint, Reason: checkout.StaleCommitted}
		}
		return errors.Wrap(err, "claim fingerprint")
	}

	type stockLine struct {
		checkout.LineQuote
		merchantID int64
		threshold  int
	}
	var lines []stockLine
	for _, mq := range q.Merchants {
		for _, l := range mq.Lines {
			lines = append(lines, stockLine{LineQuote: l, merchantID: mq.MerchantID, threshold: mq.LowStockThreshold})
		}
	}
	// Lock SKUs in a stable order so concurrent commits cannot deadlock.
	slices.SortFunc(lines, func(a, b stockLine) int {
		return cmp.Or(cmp.Compare(a.SKUID, b.SKUID), cmp.Compare(a.LineID, b.LineID))
	})

	for _, l := range lines {
		sku, err := tx.LockSKU(ctx, l.SKUID)
		if err != nil {
			return errors.Wrapf(err, "lock sku %d", l.SKUID)
		}
		if !sku.Price.Equal(l.UnitPrice) {
			return &checkout.StaleQuoteError{Fingerprint: q.Fingerprint, Reason: checkout.StalePriceChanged}
		}

		short := &checkout.InsufficientResourceError{
			Resource:  checkout.ResourceStock,
			LineID:    l.LineID,
			ProductID: l.ProductID,
			SKUID:     l.SKUID,
		}
		capability := l.Type.Capability()
		var remaining int
		if capability.Reserved {
			remaining, err = m.reserved.Pop(ctx, l.SKUID, l.Quantity)
			if errors.Is(err, ErrStockShort) {
				return short
			}
			if err != nil {
				return errors.Wrapf(err, "pop reserved stock for sku %d", l.SKUID)
			}
			*popped = append(*popped, reservation{skuID: l.SKUID, qty: l.Quantity})
			if err := tx.AddSales(ctx, l.SKUID, l.Quantity); err != nil {
				return errors.Wrapf(err, "add sales for sku %d", l.SKUID)
			}
		} else {
			remaining, err = tx.DecrementStock(ctx, capability.Pool, l.SKUID, l.Quantity)
			if errors.Is(err, ErrStockShort) {
				return short
			}
			if err != nil {
				return errors.Wrapf(err, "decrement stock for sku %d", l.SKUID)
			}
		}
		if l.threshold > 0 && remaining < l.threshold {
			*alerts = append(*alerts, LowStockAlert{
				MerchantID: l.merchantID,
				ProductID:  l.ProductID,
				SKUID:      l.SKUID,
				Remaining:  remaining,
				Threshold:  l.threshold,
			})
		}
	}

	if err := tx.ConsumeCartLines(ctx, q.UID, q.LineIDs); err != nil {
		if errors.Is(err, ErrCartConsumed) {
			return &checkout.StaleQuoteError{Fingerprint: q.Fingerprint, Reason: checkout.StaleCartConsumed}
		}
		return errors.Wrap(err, "consume cart lines")
	}
	for _, id := range g.CouponIDs {
		if err := tx.MarkCouponUsed(ctx, q.UID, id, g.ID); err != nil {
			if errors.Is(err, ErrCouponUnavailable) {
				return &checkout.InsufficientResourceError{Resource: checkout.ResourceCoupon, CouponID: id}
			}
			return errors.Wrapf(err, "mark coupon %d used", id)
		}
	}
	if g.PointsUsed > 0 {
		err := tx.DebitPoints(ctx, LedgerEntry{
			UID:     q.UID,
			Points:  g.PointsUsed,
			Reason:  "order",
			GroupID: g.ID,
			At:      g.CreatedAt,
		})
		if errors.Is(err, ErrPointsShort) {
			return &checkout.InsufficientResourceError{Resource: checkout.ResourcePoints}
		}
		if err != nil {
			return errors.Wrap(err, "debit points")
		}
	}

	if err := tx.CreateGroup(ctx, g); err != nil {
		return errors.Wrap(err, "create order group")
	}
	if err := tx.AppendStatusLogs(ctx, logs); err != nil {
		return errors.Wrap(err, "append status logs")
	}
	return nil
}

// compensate returns reserved stock popped by a failed commit.
func (m *Materializer) compensate(ctx context.Context, popped []reservation) {
	if len(popped) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx)
	for _, r := range popped {
		if err := m.reserved.Push(ctx, r.skuID, r.qty); err != nil {
			lg.Error("Failed to return reserved stock",
				zap.Int64("sku_id", r.skuID),
				zap.Int("qty", r.qty),
				zap.Error(err),
			)
		}
	}
}

func (m *Materializer) classify(ctx context.Context, fingerprint string, err error) error {
	var stale *checkout.StaleQuoteError
	if errors.As(err, &stale) && stale.Reason == checkout.StaleCommitted && stale.GroupID == "" {
		if groupID, ok, ferr := m.store.FindCommitted(ctx, fingerprint); ferr == nil && ok {
			stale.GroupID = groupID
		}
		return stale
	}
	if errors.Is(err, checkout.ErrValidation) ||
		errors.Is(err, checkout.ErrStaleQuote) ||
		errors.Is(err, checkout.ErrInsufficientResource) {
		return err
	}
	return &checkout.CommitError{Fingerprint: fingerprint, Err: err}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, checkout.ErrValidation):
		return "invalid"
	case errors.Is(err, checkout.ErrStaleQuote):
		return "stale"
	case errors.Is(err, checkout.ErrInsufficientResource):
		return "insufficient"
	default:
		return "error"
	}
}
