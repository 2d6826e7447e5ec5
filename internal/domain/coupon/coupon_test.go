package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestCheck(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	base := Coupon{ID: 1, Scope: ScopeStore, Value: d("30"), MinSpend: d("150"), Status: StatusUnused}

	tests := []struct {
		name     string
		mutate   func(c *Coupon)
		subtotal string
		eligible int
		pinned   bool
		want     Outcome
		reason   string
	}{
		{name: "fits", subtotal: "200", eligible: 1, want: Applicable},
		{name: "exactly min spend", subtotal: "150", eligible: 1, want: Applicable},
		{name: "below min spend auto", subtotal: "149.99", eligible: 1, want: Skipped, reason: "minimum spend 150.00 not met"},
		{name: "below min spend pinned", subtotal: "149.99", eligible: 1, pinned: true, want: Rejected, reason: "minimum spend 150.00 not met"},
		{name: "no eligible lines", subtotal: "0", eligible: 0, want: Skipped, reason: ReasonNoLines},
		{
			name:     "used",
			mutate:   func(c *Coupon) { c.Status = StatusUsed },
			subtotal: "200", eligible: 1, pinned: true, want: Rejected, reason: ReasonUsed,
		},
		{
			name:     "expired window",
			mutate:   func(c *Coupon) { c.ValidUntil = &past },
			subtotal: "200", eligible: 1, want: Skipped, reason: ReasonExpired,
		},
		{
			name:     "not yet valid",
			mutate:   func(c *Coupon) { c.ValidFrom = &future },
			subtotal: "200", eligible: 1, want: Skipped, reason: ReasonNotYetValid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			got := Check(c, fixedNow, d(tt.subtotal), tt.eligible, tt.pinned)
			assert.Equal(t, tt.want, got.Outcome)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestCovers(t *testing.T) {
	line := Target{ProductID: 10, MerchantID: 2, CategoryIDs: []int64{5, 6}}

	assert.True(t, Coupon{Scope: ScopeProduct, MerchantID: 2, ProductIDs: []int64{10}}.Covers(line))
	assert.False(t, Coupon{Scope: ScopeProduct, MerchantID: 3, ProductIDs: []int64{10}}.Covers(line))
	assert.True(t, Coupon{Scope: ScopeStore, MerchantID: 2}.Covers(line))
	assert.True(t, Coupon{Scope: ScopePlatform}.Covers(line))
	assert.True(t, Coupon{Scope: ScopePlatformCategory, CategoryIDs: []int64{6}}.Covers(line))
	assert.False(t, Coupon{Scope: ScopePlatformCategory, CategoryIDs: []int64{7}}.Covers(line))
	assert.True(t, Coupon{Scope: ScopePlatformMerchant, MerchantIDs: []int64{1, 2}}.Covers(line))
	assert.False(t, Coupon{Scope: ScopePlatformMerchant, MerchantIDs: []int64{1}}.Covers(line))
}

func TestAmountAndSort(t *testing.T) {
	c := Coupon{Value: d("30")}
	assert.True(t, c.Amount(d("20")).Equal(d("20")))
	assert.True(t, c.Amount(d("200")).Equal(d("30")))

	cs := []Coupon{{ID: 3, Sort: 1}, {ID: 2, Sort: 0}, {ID: 1, Sort: 1}}
	SortCatalog(cs)
	assert.Equal(t, []int64{2, 1, 3}, []int64{cs[0].ID, cs[1].ID, cs[2].ID})

	assert.True(t, ScopePlatformMerchant.Platform())
	assert.False(t, ScopeStore.Platform())
	s, ok := ParseScope("platform_category")
	assert.True(t, ok)
	assert.Equal(t, ScopePlatformCategory, s)
}
