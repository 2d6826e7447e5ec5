package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/internal/storage/redis"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	dispatcher := notify.NewDispatcher(notify.SplitBrokers(cfg.Kafka.Brokers), notify.Topics{
		OrderCreated:   cfg.Kafka.OrderCreatedTopic,
		CustomerNotice: cfg.Kafka.CustomerNoticeTopic,
		LowStock:       cfg.Kafka.LowStockTopic,
	})
	defer func() {
		if err := dispatcher.Close(); err != nil {
			lg.Warn("Close kafka writer", zap.Error(err))
		}
	}()

	svc, err := newService(ctx, cfg, pool, rdb, dispatcher, m)
	if err != nil {
		return err
	}
	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Checkout.TxTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		// Post-commit notifications still use the kafka writer.
		svc.materializer.Wait()
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

type service struct {
	handler      http.Handler
	health       *health.Health
	materializer *order.Materializer
}

// newService wires the checkout domain over ready connections. Health checks
// are registered but not started.
func newService(
	ctx context.Context,
	cfg *Config,
	pool *pgxpool.Pool,
	rdb *goredis.Client,
	notifier order.Notifier,
	m httpmiddleware.TelemetryProvider,
) (*service, error) {
	settings, err := cfg.Checkout.Settings()
	if err != nil {
		return nil, err
	}
	maxTotal, err := cfg.Checkout.MaxTotal()
	if err != nil {
		return nil, err
	}

	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.Add(health.Readiness, "redis", 3*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	shopperRepo := postgres.NewShopperRepository(pool)
	quotes := redis.NewQuoteCache(rdb, cfg.Checkout.CacheNamespace, cfg.Checkout.CompressAbove)

	// Domain services.
	quoter := checkout.NewService(
		checkout.NewLoader(
			postgres.NewCartRepository(pool),
			catalogRepo,
			shopperRepo,
			postgres.NewCouponRepository(pool),
		),
		postgres.NewFeeScheduleRepository(pool),
		quotes,
		checkout.Options{
			Settings:       settings,
			QuoteTTL:       cfg.Checkout.QuoteTTL,
			TracerProvider: m.TracerProvider(),
		},
	)
	materializer, err := order.NewMaterializer(
		quotes,
		postgres.NewOrderStore(pool, cfg.Checkout.TxTimeout),
		redis.NewReservedPool(rdb, cfg.Checkout.PoolNamespace),
		notifier,
		order.Options{
			MaxOrderTotal:  maxTotal,
			NotifyTimeout:  cfg.Checkout.NotifyTimeout,
			MeterProvider:  m.MeterProvider(),
			TracerProvider: m.TracerProvider(),
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create materializer")
	}

	// Mux: health endpoints + checkout routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.Handler(health.Liveness))
	mux.HandleFunc("GET /readyz", healthSvc.Handler(health.Readiness))
	handler.NewHandler(quoter, materializer).Register(mux,
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Rate:    rate.Limit(cfg.Throttle.Rate),
			Burst:   cfg.Throttle.Burst,
			KeyFunc: httpmiddleware.HeaderKey(handler.ShopperHeader),
		}),
	)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	return &service{
		handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
		health:       healthSvc,
		materializer: materializer,
	}, nil
}
