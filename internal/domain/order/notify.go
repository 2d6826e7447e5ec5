package order

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// Notification event names.
const (
	EventOrderCreated   = "order_created"
	EventNotifyCustomer = "notify_customer"
	EventLowStock       = "low_stock"
)

type notification struct {
	event string
	run   func(ctx context.Context) error
}

// notify dispatches post-commit events without blocking the caller. Failures
// are logged and never affect the committed orders.
func (m *Materializer) notify(ctx context.Context, g *Group, alerts []LowStockAlert) {
	ctx = context.WithoutCancel(ctx)
	jobs := []notification{
		{EventOrderCreated, func(ctx context.Context) error { return m.notifier.OrderCreated(ctx, g) }},
		{EventNotifyCustomer, func(ctx context.Context) error { return m.notifier.NotifyCustomer(ctx, g) }},
	}
	if len(alerts) > 0 {
		jobs = append(jobs, notification{EventLowStock, func(ctx context.Context) error {
			return m.notifier.LowStock(ctx, alerts)
		}})
	}

	for _, job := range jobs {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(ctx, m.notifyTimeout)
			defer cancel()
			if err := job.run(ctx); err != nil {
				nerr := &checkout.NotificationError{Event: job.event, Err: err}
				m.notifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", job.event)))
				zctx.From(ctx).Warn("Notification failed",
					zap.String("group_id", g.ID),
					zap.String("event", job.event),
					zap.Error(nerr),
				)
			}
		}()
	}
}
