package checkout

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/promotion"
)

func TestPartitioner_GroupsByMerchant(t *testing.T) {
	a1 := line(3, 2, "1.00", 1)
	a2 := line(1, 2, "1.00", 1)
	b1 := line(2, 1, "1.00", 1)
	snap := &Snapshot{
		Lines: []CartLine{a1, a2, b1},
		Merchants: map[int64]catalog.Merchant{
			1: {ID: 1, DeliveryWays: catalog.AllDelivery},
			2: {ID: 2, DeliveryWays: catalog.NewDeliverySet(catalog.Pickup, catalog.Ship)},
		},
		Address: &catalog.Address{ID: 1},
	}

	parts, err := Partitioner{}.Partition(snap, nil)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, int64(1), parts[0].MerchantID)
	assert.Equal(t, int64(2), parts[1].MerchantID)
	assert.Equal(t, []int64{1, 3}, []int64{parts[1].Lines[0].LineID, parts[1].Lines[1].LineID})
	assert.Equal(t, catalog.Ship, parts[0].Delivery.Mode)
	assert.True(t, parts[0].DeliveryValid)
}

func TestPartitioner_Validation(t *testing.T) {
	pickupOnly := line(2, 1, "1.00", 1)
	pickupOnly.DeliveryWays = catalog.NewDeliverySet(catalog.Pickup)
	shipOnly := line(1, 1, "1.00", 1)
	shipOnly.DeliveryWays = catalog.NewDeliverySet(catalog.Ship)
	flash := line(3, 1, "1.00", 1)
	flash.Type = promotion.FlashSale
	presale := line(4, 2, "1.00", 1)
	presale.Type = promotion.Presale

	merchants := map[int64]catalog.Merchant{
		1: {ID: 1, DeliveryWays: catalog.AllDelivery},
		2: {ID: 2, DeliveryWays: catalog.AllDelivery},
	}
	tests := []struct {
		name   string
		lines  []CartLine
		reason string
	}{
		{name: "empty", reason: "no cart lines to check out"},
		{
			name:   "inconsistent delivery",
			lines:  []CartLine{shipOnly, pickupOnly},
			reason: "inconsistent delivery modes, split into separate orders",
		},
		{
			name:   "single line promotion with others",
			lines:  []CartLine{flash, shipOnly},
			reason: "flash_sale products must be ordered alone",
		},
		{
			name:   "mixed promotion types",
			lines:  []CartLine{shipOnly, presale},
			reason: "promotion and regular products must be ordered separately",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Partitioner{}.Partition(&Snapshot{Lines: tt.lines, Merchants: merchants}, nil)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.reason, ve.Reason)
		})
	}
}

func TestPartitioner_Stations(t *testing.T) {
	snap := &Snapshot{
		Lines:     []CartLine{line(1, 1, "1.00", 1)},
		Merchants: map[int64]catalog.Merchant{1: {ID: 1, DeliveryWays: catalog.AllDelivery}},
		Stations: map[int64]catalog.Station{
			3: {ID: 3, MerchantID: 1, Pickup: true},
			4: {ID: 4, MerchantID: 9, Pickup: true, LocalDelivery: true},
		},
	}

	t.Run("pickup without address", func(t *testing.T) {
		parts, err := Partitioner{}.Partition(snap, map[int64]DeliverySelection{1: {Mode: catalog.Pickup, StationID: 3}})
		require.NoError(t, err)
		assert.True(t, parts[0].DeliveryValid)
		require.NotNil(t, parts[0].Station)
		assert.Equal(t, int64(3), parts[0].Station.ID)
	})

	t.Run("pickup without station", func(t *testing.T) {
		parts, err := Partitioner{}.Partition(snap, map[int64]DeliverySelection{1: {Mode: catalog.Pickup}})
		require.NoError(t, err)
		assert.False(t, parts[0].DeliveryValid)
		assert.Equal(t, "select a station", parts[0].DeliveryIssue)
	})

	t.Run("station of another merchant", func(t *testing.T) {
		_, err := Partitioner{}.Partition(snap, map[int64]DeliverySelection{1: {Mode: catalog.Pickup, StationID: 4}})
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("station without local delivery", func(t *testing.T) {
		_, err := Partitioner{}.Partition(snap, map[int64]DeliverySelection{1: {Mode: catalog.LocalDelivery, StationID: 3}})
		assert.True(t, errors.Is(err, ErrValidation))
	})
}

func TestLoader_CollectsEveryFailure(t *testing.T) {
	s := newScenarioStore()
	s.lines[2] = cart.Line{ID: 2, UID: testUID, ProductID: testProduct, SKUID: testSKU, Quantity: 50}
	s.lines[3] = cart.Line{ID: 3, UID: testUID, ProductID: testProduct, SKUID: testSKU, Quantity: 1, Consumed: true}
	s.lines[4] = cart.Line{ID: 4, UID: 999, ProductID: testProduct, SKUID: testSKU, Quantity: 1}

	snap, err := NewLoader(s, s, s, s).Load(context.Background(), LoadRequest{
		UID:     testUID,
		LineIDs: []int64{4, 3, 2, 1, 2},
	}, testNow)
	require.NoError(t, err)

	require.Len(t, snap.Lines, 1)
	assert.Equal(t, testLine, snap.Lines[0].LineID)
	assert.Equal(t, []LineFailure{
		{LineID: 2, ProductID: testProduct, Reason: "insufficient stock"},
		{LineID: 3, ProductID: testProduct, Reason: "cart line already ordered"},
		{LineID: 4, Reason: "cart line not found"},
	}, snap.Failures)

	err = snap.Err()
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "insufficient stock; 2 more invalid line(s)", ve.Reason)
	assert.Equal(t, int64(2), ve.LineID)
}

func TestLoader_ResolvesAttributes(t *testing.T) {
	s := newScenarioStore()
	snap, err := NewLoader(s, s, s, s).Load(context.Background(), LoadRequest{
		UID:       testUID,
		LineIDs:   []int64{testLine},
		AddressID: testAddress,
	}, testNow)
	require.NoError(t, err)
	require.NoError(t, snap.Err())

	l := snap.Lines[0]
	assert.Equal(t, testMerchant, l.MerchantID)
	assert.Equal(t, "200", l.Original().String())
	assert.True(t, l.MembershipEligible)
	assert.Equal(t, 10, l.Stock)
	assert.Equal(t, testTemplate, l.TemplateID)
	require.NotNil(t, snap.Address)
	assert.Contains(t, snap.Templates, testTemplate)
	assert.Contains(t, snap.Merchants, testMerchant)
}
