package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// QuoteRequest is everything a shopper chooses on the checkout page.
type QuoteRequest struct {
	UID       int64
	LineIDs   []int64
	AddressID int64
	// CouponIDs are pinned coupons across all scopes.
	CouponIDs   []int64
	AutoCoupons bool
	UsePoints   bool
	// Delivery maps merchant id to the chosen delivery. Merchants without an
	// entry get their default mode.
	Delivery map[int64]DeliverySelection
}

// Options tune a Service.
type Options struct {
	Settings Settings
	QuoteTTL time.Duration
	// Now defaults to time.Now.
	Now            func() time.Time
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.QuoteTTL <= 0 {
		o.QuoteTTL = DefaultQuoteTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.TracerProvider == nil {
		o.TracerProvider = noop.NewTracerProvider()
	}
}

// Service computes checkout quotes. It serves both single and multi
// merchant carts through one pipeline.
type Service struct {
	loader      *Loader
	partitioner Partitioner
	pipeline    *Pipeline
	shipping    *ShippingCalculator
	cache       QuoteCache
	ttl         time.Duration
	now         func() time.Time
	tracer      trace.Tracer
}

// NewService creates a quoting Service.
func NewService(loader *Loader, fees FeeSchedule, cache QuoteCache, opts Options) *Service {
	opts.setDefaults()
	return &Service{
		loader:   loader,
		pipeline: NewPipeline(opts.Settings),
		shipping: NewShippingCalculator(fees),
		cache:    cache,
		ttl:      opts.QuoteTTL,
		now:      opts.Now,
		tracer:   opts.TracerProvider.Tracer("checkout"),
	}
}

// Quote prices req and caches the result under its fingerprint.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (_ *Quote, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Quote",
		trace.WithAttributes(
			attribute.Int64("checkout.uid", req.UID),
			attribute.Int("checkout.lines", len(req.LineIDs)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if len(req.LineIDs) == 0 {
		return nil, &ValidationError{Reason: "select at least one cart line"}
	}
	fp, err := Fingerprint(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("checkout.fingerprint", fp))
	now := s.now()

	stations := make([]int64, 0, len(req.Delivery))
	for _, sel := range req.Delivery {
		if sel.StationID != 0 {
			stations = append(stations, sel.StationID)
		}
	}
	snap, err := s.loader.Load(ctx, LoadRequest{
		UID:        req.UID,
		LineIDs:    req.LineIDs,
		AddressID:  req.AddressID,
		StationIDs: stations,
	}, now)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if err := snap.Err(); err != nil {
		return nil, err
	}

	parts, err := s.partitioner.Partition(snap, req.Delivery)
	if err != nil {
		return nil, err
	}
	res, err := s.pipeline.Run(PipelineInput{
		Partitions: parts,
		Coupons:    snap.Coupons,
		Member:     snap.Member,
		Selection: Selection{
			CouponIDs:   uniqueSorted(req.CouponIDs),
			AutoCoupons: req.AutoCoupons,
			UsePoints:   req.UsePoints,
		},
		Now: now,
	})
	if err != nil {
		return nil, err
	}
	parts, lines, err := s.shipping.Apply(ctx, snap, parts, res.Lines)
	if err != nil {
		return nil, errors.Wrap(err, "shipping")
	}

	q := assemble(parts, res, lines)
	q.Fingerprint = fp
	q.UID = req.UID
	q.AddressID = req.AddressID
	q.UsePoints = req.UsePoints
	q.CreatedAt = now.UTC()
	q.ExpiresAt = q.CreatedAt.Add(s.ttl)

	if err := s.cache.Put(ctx, q, s.ttl); err != nil {
		return nil, errors.Wrap(err, "cache quote")
	}
	zctx.From(ctx).Debug("Quote computed",
		zap.String("fingerprint", fp),
		zap.Int64("uid", req.UID),
		zap.Int("merchants", len(q.Merchants)),
		zap.String("total", q.Total.StringFixed(2)),
	)
	return q, nil
}

// Lookup returns a cached quote that has not expired.
func (s *Service) Lookup(ctx context.Context, uid int64, fingerprint string) (*Quote, error) {
	q, err := s.cache.Get(ctx, uid, fingerprint)
	if err != nil {
		if errors.Is(err, ErrQuoteNotFound) {
			return nil, &StaleQuoteError{Fingerprint: fingerprint, Reason: StaleMissing}
		}
		return nil, errors.Wrap(err, "get quote")
	}
	if q.Expired(s.now()) {
		return nil, &StaleQuoteError{Fingerprint: fingerprint, Reason: StaleMissing}
	}
	return q, nil
}
