package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// DefaultNamespace prefixes quote keys.
const DefaultNamespace = "checkout:quote"

// Payload markers. Every cached value starts with one of them.
const (
	plainPayload   byte = 'j'
	gzippedPayload byte = 'z'
)

var _ checkout.QuoteCache = (*QuoteCache)(nil)

// QuoteCache implements checkout.QuoteCache. Payloads larger than the
// compression threshold are gzipped.
type QuoteCache struct {
	client        redis.Cmdable
	namespace     string
	compressAbove int
}

// NewQuoteCache creates a QuoteCache. A zero compressAbove disables
// compression.
func NewQuoteCache(client redis.Cmdable, namespace string, compressAbove int) *QuoteCache {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &QuoteCache{client: client, namespace: namespace, compressAbove: compressAbove}
}

func (c *QuoteCache) key(uid int64, fingerprint string) string {
	return fmt.Sprintf("%s:%d:%s", c.namespace, uid, fingerprint)
}

// Put stores q under its shopper and fingerprint for ttl.
func (c *QuoteCache) Put(ctx context.Context, q *checkout.Quote, ttl time.Duration) error {
	data, err := c.encode(q)
	if err != nil {
		return errors.Wrap(err, "encode quote")
	}
	if err := c.client.Set(ctx, c.key(q.UID, q.Fingerprint), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "set quote")
	}
	return nil
}

// Get returns checkout.ErrQuoteNotFound for missing or expired keys.
func (c *QuoteCache) Get(ctx context.Context, uid int64, fingerprint string) (*checkout.Quote, error) {
	data, err := c.client.Get(ctx, c.key(uid, fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, checkout.ErrQuoteNotFound
		}
		return nil, errors.Wrap(err, "get quote")
	}
	q, err := decodeQuote(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode quote")
	}
	return q, nil
}

// Delete removes the quote. Deleting a missing quote is not an error.
func (c *QuoteCache) Delete(ctx context.Context, uid int64, fingerprint string) error {
	if err := c.client.Del(ctx, c.key(uid, fingerprint)).Err(); err != nil {
		return errors.Wrap(err, "delete quote")
	}
	return nil
}

func (c *QuoteCache) encode(q *checkout.Quote) ([]byte, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	if c.compressAbove <= 0 || len(raw) <= c.compressAbove {
		return append([]byte{plainPayload}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(gzippedPayload)
	zw := pgzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrap(err, "gzip")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip close")
	}
	return buf.Bytes(), nil
}

func decodeQuote(data []byte) (*checkout.Quote, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	raw := data[1:]
	switch data[0] {
	case plainPayload:
	case gzippedPayload:
		zr, err := pgzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "gunzip")
		}
		defer func() { _ = zr.Close() }()
		if raw, err = io.ReadAll(zr); err != nil {
			return nil, errors.Wrap(err, "gunzip read")
		}
	default:
		return nil, errors.Errorf("unknown payload marker %q", data[0])
	}

	var q checkout.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, err
	}
	return &q, nil
}
