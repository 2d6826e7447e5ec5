package catalog

import (
	"slices"

	"github.com/shopspring/decimal"
)

// ChargeBasis is the quantity a shipping template charges by.
type ChargeBasis string

const (
	ByQuantity ChargeBasis = "quantity"
	ByWeight   ChargeBasis = "weight"
	ByVolume   ChargeBasis = "volume"
)

// ShippingTemplate prices parcel delivery for a group of lines.
type ShippingTemplate struct {
	ID            int64       `json:"id"`
	MerchantID    int64       `json:"merchant_id"`
	Name          string      `json:"name"`
	Basis         ChargeBasis `json:"basis"`
	Tiers         []FeeTier   `json:"tiers"`
	Free          []FreeRule  `json:"free"`
	Undeliverable []int64     `json:"undeliverable"`
}

// FeeTier is a first-unit plus continuation price. A tier with no CityIDs is
// the template default.
type FeeTier struct {
	CityIDs  []int64         `json:"city_ids"`
	First    decimal.Decimal `json:"first"`
	FirstFee decimal.Decimal `json:"first_fee"`
	Step     decimal.Decimal `json:"step"`
	StepFee  decimal.Decimal `json:"step_fee"`
}

// FreeRule waives the fee once both the aggregate and the goods price reach
// their thresholds.
type FreeRule struct {
	CityIDs   []int64         `json:"city_ids"`
	Aggregate decimal.Decimal `json:"aggregate"`
	Price     decimal.Decimal `json:"price"`
}

// Delivers reports whether the template ships to the city.
func (t ShippingTemplate) Delivers(cityID int64) bool {
	return !slices.Contains(t.Undeliverable, cityID)
}

// Tier returns the tier for a city, falling back to the default tier.
func (t ShippingTemplate) Tier(cityID int64) (FeeTier, bool) {
	var (
		fallback FeeTier
		found    bool
	)
	for _, tier := range t.Tiers {
		if slices.Contains(tier.CityIDs, cityID) {
			return tier, true
		}
		if len(tier.CityIDs) == 0 && !found {
			fallback, found = tier, true
		}
	}
	return fallback, found
}

// FreeRules returns rules applicable to the city, including city-less rules.
func (t ShippingTemplate) FreeRules(cityID int64) []FreeRule {
	var out []FreeRule
	for _, r := range t.Free {
		if len(r.CityIDs) == 0 || slices.Contains(r.CityIDs, cityID) {
			out = append(out, r)
		}
	}
	return out
}
