package checkout

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/money"
)

// FeeSchedule prices local delivery from a station.
type FeeSchedule interface {
	// LocalFee returns false when no schedule row covers the weight and
	// distance.
	LocalFee(ctx context.Context, stationID int64, weightKg, distanceKm decimal.Decimal) (decimal.Decimal, bool, error)
}

// ShippingCalculator computes per-line shipping fees.
type ShippingCalculator struct {
	fees FeeSchedule
}

// NewShippingCalculator creates a ShippingCalculator.
func NewShippingCalculator(fees FeeSchedule) *ShippingCalculator {
	return &ShippingCalculator{fees: fees}
}

// Apply sets ShippingFee on every line and may mark partitions undeliverable.
// Neither argument slice is modified.
func (c *ShippingCalculator) Apply(
	ctx context.Context,
	snap *Snapshot,
	parts []Partition,
	lines []PricedLine,
) ([]Partition, []PricedLine, error) {
	parts = slices.Clone(parts)
	lines = slices.Clone(lines)
	idx := make(map[int64]int, len(lines))
	for i, l := range lines {
		idx[l.LineID] = i
		lines[i].ShippingFee = decimal.Zero
	}

	for i := range parts {
		p := &parts[i]
		var fees map[int64]decimal.Decimal
		switch p.Delivery.Mode {
		case catalog.Ship:
			fees = c.ship(p, snap)
		case catalog.LocalDelivery:
			var err error
			if fees, err = c.local(ctx, p, snap); err != nil {
				return nil, nil, errors.Wrapf(err, "local delivery fee for merchant %d", p.MerchantID)
			}
		}
		for id, fee := range fees {
			lines[idx[id]].ShippingFee = fee
		}
	}
	return parts, lines, nil
}

func (c *ShippingCalculator) ship(p *Partition, snap *Snapshot) map[int64]decimal.Decimal {
	if snap.Address == nil {
		return nil
	}
	city := snap.Address.CityID

	groups := make(map[int64][]CartLine)
	var templateIDs []int64
	for _, l := range p.Lines {
		if _, ok := groups[l.TemplateID]; !ok {
			templateIDs = append(templateIDs, l.TemplateID)
		}
		groups[l.TemplateID] = append(groups[l.TemplateID], l)
	}
	slices.Sort(templateIDs)

	fees := make(map[int64]decimal.Decimal)
	for _, id := range templateIDs {
		t, ok := snap.Templates[id]
		if !ok {
			// Lines without a template ship free.
			continue
		}
		if !t.Delivers(city) {
			p.invalidate(fmt.Sprintf("%s does not deliver to this address", t.Name))
			continue
		}
		group := groups[id]
		weights := make([]decimal.Decimal, len(group))
		aggregate, price := decimal.Zero, decimal.Zero
		for i, l := range group {
			weights[i] = contribution(t.Basis, l)
			aggregate = aggregate.Add(weights[i])
			price = price.Add(l.Original())
		}
		fee := templateFee(t, city, aggregate, price)
		for i, part := range money.Split(fee, weights) {
			fees[group[i].LineID] = part
		}
	}
	return fees
}

func contribution(basis catalog.ChargeBasis, l CartLine) decimal.Decimal {
	switch basis {
	case catalog.ByWeight:
		return l.Weight.Mul(decimal.NewFromInt(int64(l.Quantity)))
	case catalog.ByVolume:
		return l.Volume.Mul(decimal.NewFromInt(int64(l.Quantity)))
	default:
		return decimal.NewFromInt(int64(l.Quantity))
	}
}

// templateFee is zero when a free rule matches, otherwise the first fee plus
// one step fee per started continuation step.
func templateFee(t catalog.ShippingTemplate, city int64, aggregate, price decimal.Decimal) decimal.Decimal {
	for _, r := range t.FreeRules(city) {
		if aggregate.GreaterThanOrEqual(r.Aggregate) && price.GreaterThanOrEqual(r.Price) {
			return decimal.Zero
		}
	}
	tier, ok := t.Tier(city)
	if !ok {
		return decimal.Zero
	}
	fee := tier.FirstFee
	if aggregate.GreaterThan(tier.First) && tier.Step.IsPositive() {
		steps := aggregate.Sub(tier.First).Div(tier.Step).Ceil()
		fee = fee.Add(steps.Mul(tier.StepFee))
	}
	return money.Round(fee)
}

func (c *ShippingCalculator) local(ctx context.Context, p *Partition, snap *Snapshot) (map[int64]decimal.Decimal, error) {
	if snap.Address == nil || p.Station == nil {
		return nil, nil
	}
	km := distanceKm(p.Station.Lat, p.Station.Lng, snap.Address.Lat, snap.Address.Lng)
	if p.Station.RangeKm.IsPositive() && km.GreaterThan(p.Station.RangeKm) {
		p.invalidate(fmt.Sprintf("address is outside the delivery range of %s", p.Station.Name))
		return nil, nil
	}

	weights := make([]decimal.Decimal, len(p.Lines))
	total := decimal.Zero
	for i, l := range p.Lines {
		weights[i] = contribution(catalog.ByWeight, l)
		total = total.Add(weights[i])
	}
	fee, ok, err := c.fees.LocalFee(ctx, p.Station.ID, total, km)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.invalidate(fmt.Sprintf("%s has no delivery fee for this distance", p.Station.Name))
		return nil, nil
	}

	fees := make(map[int64]decimal.Decimal, len(p.Lines))
	for i, part := range money.Split(money.Round(fee), weights) {
		fees[p.Lines[i].LineID] = part
	}
	return fees, nil
}

const earthRadiusKm = 6371.0

// distanceKm is the great-circle distance rounded to 0.01 km.
func distanceKm(lat1, lng1, lat2, lng2 float64) decimal.Decimal {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	d := 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
	return decimal.NewFromFloat(d).Round(2)
}
