package checkout

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// DeliverySelection is the shopper's delivery choice for one merchant.
type DeliverySelection struct {
	Mode      catalog.DeliveryMode `json:"mode"`
	StationID int64                `json:"station_id,omitempty"`
}

// Partition is the subset of the cart one merchant fulfils.
type Partition struct {
	MerchantID     int64
	Merchant       catalog.Merchant
	Lines          []CartLine
	DeliveryModes  catalog.DeliverySet
	CommissionRate decimal.Decimal

	Delivery DeliverySelection
	Station  *catalog.Station
	// DeliveryValid is false when the partition cannot be delivered as
	// selected; DeliveryIssue says why. Commit rejects invalid partitions.
	DeliveryValid bool
	DeliveryIssue string
}

func (p *Partition) invalidate(issue string) {
	if !p.DeliveryValid {
		return
	}
	p.DeliveryValid = false
	p.DeliveryIssue = issue
}

// Partitioner groups lines by merchant and resolves delivery modes.
type Partitioner struct{}

// Partition splits snapshot lines into merchant partitions ordered by
// merchant id. Lines keep ascending line id order.
func (Partitioner) Partition(snap *Snapshot, selections map[int64]DeliverySelection) ([]Partition, error) {
	if len(snap.Lines) == 0 {
		return nil, &ValidationError{Reason: "no cart lines to check out"}
	}
	if err := checkPromotionMix(snap.Lines); err != nil {
		return nil, err
	}

	byMerchant := make(map[int64]*Partition)
	var order []int64
	for _, line := range snap.Lines {
		p, ok := byMerchant[line.MerchantID]
		if !ok {
			m := snap.Merchants[line.MerchantID]
			p = &Partition{
				MerchantID:     m.ID,
				Merchant:       m,
				DeliveryModes:  m.DeliveryWays,
				CommissionRate: m.CommissionRate,
				DeliveryValid:  true,
			}
			byMerchant[line.MerchantID] = p
			order = append(order, line.MerchantID)
		}
		p.Lines = append(p.Lines, line)
		p.DeliveryModes = p.DeliveryModes.Intersect(line.DeliveryWays)
	}
	slices.Sort(order)

	out := make([]Partition, 0, len(order))
	for _, id := range order {
		p := byMerchant[id]
		slices.SortFunc(p.Lines, func(a, b CartLine) int { return cmp.Compare(a.LineID, b.LineID) })
		if p.DeliveryModes.Empty() {
			return nil, &ValidationError{
				MerchantID: id,
				Reason:     "inconsistent delivery modes, split into separate orders",
			}
		}
		if err := selectDelivery(p, selections[id], snap); err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// checkPromotionMix rejects carts that mix promotion types or put a
// single-line promotion next to other lines.
func checkPromotionMix(lines []CartLine) error {
	first := lines[0]
	for _, l := range lines {
		if l.Type.Capability().SingleLineOnly && len(lines) > 1 {
			return &ValidationError{
				ProductID: l.ProductID,
				Reason:    fmt.Sprintf("%s products must be ordered alone", l.Type),
			}
		}
		if l.Type != first.Type {
			return &ValidationError{
				ProductID: l.ProductID,
				Reason:    "promotion and regular products must be ordered separately",
			}
		}
	}
	return nil
}

func selectDelivery(p *Partition, sel DeliverySelection, snap *Snapshot) error {
	if sel.Mode == 0 {
		sel.Mode = p.DeliveryModes.Default()
	}
	if !p.DeliveryModes.Has(sel.Mode) {
		return &ValidationError{
			MerchantID: p.MerchantID,
			Reason:     fmt.Sprintf("delivery mode %s is not available for this store", sel.Mode),
		}
	}
	p.Delivery = sel

	if !sel.Mode.NeedsStation() {
		if snap.Address == nil {
			p.invalidate("delivery address required")
		}
		return nil
	}
	if sel.StationID == 0 {
		p.invalidate("select a station")
		return nil
	}
	st, ok := snap.Stations[sel.StationID]
	if !ok || st.MerchantID != p.MerchantID || !st.Supports(sel.Mode) {
		return &ValidationError{
			MerchantID: p.MerchantID,
			Reason:     fmt.Sprintf("station %d does not offer %s for this store", sel.StationID, sel.Mode),
		}
	}
	p.Station = &st
	if sel.Mode == catalog.LocalDelivery && snap.Address == nil {
		p.invalidate("delivery address required")
	}
	return nil
}
