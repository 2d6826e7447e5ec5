package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Redis       RedisConfig
	Kafka       KafkaConfig
	Checkout    CheckoutConfig
	Throttle    ThrottleConfig
	Graceful    GracefulConfig
}

// RedisConfig locates the quote cache and reserved stock pools.
type RedisConfig struct {
	Addr     string `default:"localhost:6379" usage:"Redis address"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
	PoolSize int    `default:"20" usage:"Redis connection pool size" flag:"redis-pool-size"`
}

// KafkaConfig controls post-commit notifications.
type KafkaConfig struct {
	Brokers             string `default:"localhost:9092" usage:"Comma-separated Kafka brokers"`
	OrderCreatedTopic   string `default:"checkout.order-created" usage:"Topic for merchant order events" flag:"kafka-order-created-topic"`
	CustomerNoticeTopic string `default:"checkout.customer-notice" usage:"Topic for shopper notices" flag:"kafka-customer-notice-topic"`
	LowStockTopic       string `default:"checkout.low-stock" usage:"Topic for merchant low-stock alerts" flag:"kafka-low-stock-topic"`
}

// CheckoutConfig holds pricing and commit settings. Amounts are decimal
// strings.
type CheckoutConfig struct {
	QuoteTTL       time.Duration `default:"600s" usage:"How long a quote stays committable" flag:"quote-ttl"`
	CacheNamespace string        `default:"checkout:quote" usage:"Redis key prefix for cached quotes" flag:"cache-namespace"`
	PoolNamespace  string        `default:"checkout:reserved" usage:"Redis key prefix for reserved stock pools" flag:"pool-namespace"`
	CompressAbove  int           `default:"4096" usage:"Gzip cached quotes larger than this many bytes" flag:"compress-above"`
	MaxOrderTotal  string        `default:"1000000.00" usage:"Largest committable group total" flag:"max-order-total"`
	PointsEnabled  bool          `default:"true" usage:"Allow loyalty point redemption" flag:"points-enabled"`
	PointValue     string        `default:"0.01" usage:"Currency value of one loyalty point" flag:"point-value"`
	TxTimeout      time.Duration `default:"10s" usage:"Commit transaction timeout" flag:"tx-timeout"`
	NotifyTimeout  time.Duration `default:"10s" usage:"Timeout of each post-commit notification" flag:"notify-timeout"`
}

// Settings parses the pricing switches.
func (c CheckoutConfig) Settings() (checkout.Settings, error) {
	value, err := decimal.NewFromString(c.PointValue)
	if err != nil {
		return checkout.Settings{}, errors.Wrap(err, "point value")
	}
	if value.IsNegative() {
		return checkout.Settings{}, errors.Errorf("point value %s is negative", value)
	}
	return checkout.Settings{PointsEnabled: c.PointsEnabled, PointValue: value}, nil
}

// MaxTotal parses MaxOrderTotal.
func (c CheckoutConfig) MaxTotal() (decimal.Decimal, error) {
	v, err := decimal.NewFromString(c.MaxOrderTotal)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "max order total")
	}
	return v, nil
}

// ThrottleConfig limits commits per shopper.
type ThrottleConfig struct {
	Rate  float64 `default:"1" usage:"Sustained commits per second per shopper" flag:"throttle-rate"`
	Burst int     `default:"5" usage:"Commit burst per shopper" flag:"throttle-burst"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if _, err := c.Checkout.Settings(); err != nil {
		return err
	}
	if _, err := c.Checkout.MaxTotal(); err != nil {
		return err
	}
	if c.Throttle.Rate <= 0 || c.Throttle.Burst <= 0 {
		return errors.Errorf("throttle rate %v and burst %d must be positive", c.Throttle.Rate, c.Throttle.Burst)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) such as DATABASE_URL, REDIS_URL and PORT onto the
// CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if v := os.Getenv("REDIS_URL"); v != "" && os.Getenv("CHECKOUT_REDIS_ADDR") == "" {
		opts, err := redis.ParseURL(v)
		if err != nil {
			return errors.Wrap(err, "parse REDIS_URL")
		}
		c.Redis.Addr = opts.Addr
		c.Redis.Password = opts.Password
		c.Redis.DB = opts.DB
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	return nil
}
