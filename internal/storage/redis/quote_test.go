package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

func testQuote(lines int) *checkout.Quote {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mq := checkout.MerchantQuote{
		MerchantID:    1,
		MerchantName:  "Acme",
		Delivery:      checkout.DeliverySelection{Mode: catalog.Ship},
		DeliveryValid: true,
		Total:         decimal.RequireFromString("19.90"),
	}
	for i := range lines {
		mq.Lines = append(mq.Lines, checkout.LineQuote{
			LineID:      int64(i + 1),
			ProductName: strings.Repeat("kettle ", 4),
			Quantity:    1,
			UnitPrice:   decimal.RequireFromString("19.90"),
			Payable:     decimal.RequireFromString("19.90"),
		})
	}
	return &checkout.Quote{
		Fingerprint: "abc",
		UID:         7,
		LineIDs:     []int64{1},
		Merchants:   []checkout.MerchantQuote{mq},
		Total:       decimal.RequireFromString("19.90"),
		CreatedAt:   created,
		ExpiresAt:   created.Add(checkout.DefaultQuoteTTL),
	}
}

func TestQuoteCacheKey(t *testing.T) {
	c := NewQuoteCache(nil, "", 0)
	assert.Equal(t, "checkout:quote:7:abc", c.key(7, "abc"))

	c = NewQuoteCache(nil, "shop:q", 0)
	assert.Equal(t, "shop:q:42:f00", c.key(42, "f00"))
}

func TestQuoteCacheCodec(t *testing.T) {
	for _, tt := range []struct {
		name          string
		lines         int
		compressAbove int
		marker        byte
	}{
		{name: "CompressionDisabled", lines: 50, compressAbove: 0, marker: plainPayload},
		{name: "BelowThreshold", lines: 1, compressAbove: 4096, marker: plainPayload},
		{name: "AboveThreshold", lines: 50, compressAbove: 512, marker: gzippedPayload},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := NewQuoteCache(nil, "", tt.compressAbove)
			q := testQuote(tt.lines)

			data, err := c.encode(q)
			require.NoError(t, err)
			assert.Equal(t, tt.marker, data[0])

			got, err := decodeQuote(data)
			require.NoError(t, err)
			assert.Equal(t, q.Fingerprint, got.Fingerprint)
			assert.Len(t, got.Merchants[0].Lines, tt.lines)
			assert.True(t, q.Total.Equal(got.Total))
			assert.Equal(t, catalog.Ship, got.Merchants[0].Delivery.Mode)
			assert.True(t, q.ExpiresAt.Equal(got.ExpiresAt))
		})
	}
}

func TestQuoteCacheCompresses(t *testing.T) {
	q := testQuote(200)
	plain, err := NewQuoteCache(nil, "", 0).encode(q)
	require.NoError(t, err)
	zipped, err := NewQuoteCache(nil, "", 1024).encode(q)
	require.NoError(t, err)
	assert.Less(t, len(zipped), len(plain))
}

func TestDecodeQuoteRejectsGarbage(t *testing.T) {
	_, err := decodeQuote(nil)
	require.Error(t, err)

	_, err = decodeQuote([]byte("x{}"))
	require.Error(t, err)

	_, err = decodeQuote([]byte("znot gzip"))
	require.Error(t, err)
}
