package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrQuoteNotFound is returned by QuoteCache.Get for missing or expired
// entries.
var ErrQuoteNotFound = errors.New("quote not found")

// DefaultQuoteTTL matches the checkout page session.
const DefaultQuoteTTL = 600 * time.Second

// QuoteCache stores quotes by shopper and fingerprint until they expire.
type QuoteCache interface {
	Put(ctx context.Context, q *Quote, ttl time.Duration) error
	Get(ctx context.Context, uid int64, fingerprint string) (*Quote, error)
	Delete(ctx context.Context, uid int64, fingerprint string) error
}
