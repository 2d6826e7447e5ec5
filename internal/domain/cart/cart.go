// Package cart exposes the shopper's raw cart lines.
package cart

import (
	"context"
)

// Line is a cart row as the shopper added it.
type Line struct {
	ID        int64
	UID       int64
	ProductID int64
	SKUID     int64
	Quantity  int
	// Consumed lines already became part of an order.
	Consumed bool
}

// Repository reads cart lines.
type Repository interface {
	// Lines returns the shopper's lines among ids. Unknown ids and lines of
	// other shoppers are omitted.
	Lines(ctx context.Context, uid int64, ids []int64) ([]Line, error)
}
