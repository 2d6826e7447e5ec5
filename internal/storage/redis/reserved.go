package redis

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// popScript takes ARGV[1] units from KEYS[1] only if that many are left.
// It returns the remaining units, or -1 when the pool is short.
var popScript = redis.NewScript(`
local left = tonumber(redis.call("GET", KEYS[1]) or "0")
local qty = tonumber(ARGV[1])
if left < qty then
    return -1
end
return redis.call("DECRBY", KEYS[1], qty)
`)

var _ order.ReservedPool = (*ReservedPool)(nil)

// ReservedPool implements order.ReservedPool with one counter per SKU.
type ReservedPool struct {
	client    redis.Cmdable
	namespace string
}

// NewReservedPool creates a ReservedPool with keys under namespace.
func NewReservedPool(client redis.Cmdable, namespace string) *ReservedPool {
	if namespace == "" {
		namespace = "checkout:reserved"
	}
	return &ReservedPool{client: client, namespace: namespace}
}

func (p *ReservedPool) key(skuID int64) string {
	return fmt.Sprintf("%s:%d", p.namespace, skuID)
}

// Pop takes qty units atomically and returns what is left.
func (p *ReservedPool) Pop(ctx context.Context, skuID int64, qty int) (int, error) {
	left, err := popScript.Run(ctx, p.client, []string{p.key(skuID)}, qty).Int()
	if err != nil {
		return 0, errors.Wrapf(err, "pop sku %d", skuID)
	}
	if left < 0 {
		return 0, order.ErrStockShort
	}
	return left, nil
}

// Push returns qty units to the pool.
func (p *ReservedPool) Push(ctx context.Context, skuID int64, qty int) error {
	if err := p.client.IncrBy(ctx, p.key(skuID), int64(qty)).Err(); err != nil {
		return errors.Wrapf(err, "push sku %d", skuID)
	}
	return nil
}

// Load sets the pool of a SKU to stock, replacing what was there.
func (p *ReservedPool) Load(ctx context.Context, skuID int64, stock int) error {
	if err := p.client.Set(ctx, p.key(skuID), stock, 0).Err(); err != nil {
		return errors.Wrapf(err, "load sku %d", skuID)
	}
	return nil
}
