// Command api-server serves checkout quotes and commits.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	checkoutapp "github.com/xenking/kart-checkout/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := checkoutapp.LoadConfig()
		if err != nil {
			return err
		}
		lg.Info("Config loaded",
			zap.String("redis", cfg.Redis.Addr),
			zap.String("kafka", cfg.Kafka.Brokers),
			zap.Duration("quote_ttl", cfg.Checkout.QuoteTTL),
		)
		return checkoutapp.Run(ctx, lg, m, cfg)
	})
}
