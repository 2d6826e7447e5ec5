package checkout

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/money"
)

// Stage names a step of the discount pipeline.
type Stage string

const (
	StageMembership     Stage = "membership"
	StageProductCoupon  Stage = "product_coupon"
	StageStoreCoupon    Stage = "store_coupon"
	StagePlatformCoupon Stage = "platform_coupon"
	StagePoints         Stage = "points"
)

// Share is the part of an allocation charged to one line.
type Share struct {
	LineID int64           `json:"line_id"`
	Amount decimal.Decimal `json:"amount"`
	Points int64           `json:"points,omitempty"`
}

// Allocation is one discount spread over the lines it affects.
type Allocation struct {
	Stage      Stage           `json:"stage"`
	Scope      coupon.Scope    `json:"scope,omitempty"`
	CouponID   int64           `json:"coupon_id,omitempty"`
	MerchantID int64           `json:"merchant_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Points     int64           `json:"points,omitempty"`
	Shares     []Share         `json:"shares"`
}

// LineIDs lists the lines the allocation touched.
func (a Allocation) LineIDs() []int64 {
	ids := make([]int64, len(a.Shares))
	for i, s := range a.Shares {
		ids[i] = s.LineID
	}
	return ids
}

// CouponOption is a candidate coupon as shown in the quote breakdown.
type CouponOption struct {
	CouponID   int64           `json:"coupon_id"`
	MerchantID int64           `json:"merchant_id,omitempty"`
	Title      string          `json:"title"`
	Scope      coupon.Scope    `json:"scope"`
	Value      decimal.Decimal `json:"value"`
	MinSpend   decimal.Decimal `json:"min_spend"`
	Applied    bool            `json:"applied"`
	Amount     decimal.Decimal `json:"amount"`
	Disabled   bool            `json:"disabled"`
	Reason     string          `json:"reason,omitempty"`
}

func newOption(c coupon.Coupon) CouponOption {
	return CouponOption{
		CouponID:   c.ID,
		MerchantID: c.MerchantID,
		Title:      c.Title,
		Scope:      c.Scope,
		Value:      c.Value,
		MinSpend:   c.MinSpend,
		Amount:     decimal.Zero,
	}
}

// Settings are platform-wide pricing switches.
type Settings struct {
	PointsEnabled bool
	// PointValue is the currency value of one loyalty point.
	PointValue decimal.Decimal
}

// Selection is the shopper's discount choice.
type Selection struct {
	// CouponIDs are pinned coupons; each must apply or the quote fails.
	CouponIDs []int64
	// AutoCoupons lets every scope without a pinned coupon pick the first
	// fitting coupon in catalog order.
	AutoCoupons bool
	UsePoints   bool
}

// PipelineInput is the complete, immutable input of one pipeline run.
type PipelineInput struct {
	Partitions []Partition
	Coupons    []coupon.Coupon
	Member     catalog.Member
	Selection  Selection
	Now        time.Time
}

// PipelineResult is the folded outcome of all stages.
type PipelineResult struct {
	Lines       []PricedLine
	Allocations []Allocation
	Coupons     []CouponOption
	PointsUsed  int64
}

// Line returns the priced line with the given id.
func (r *PipelineResult) Line(id int64) (PricedLine, bool) {
	for _, l := range r.Lines {
		if l.LineID == id {
			return l, true
		}
	}
	return PricedLine{}, false
}

// stageOutput is what a stage proposes; the pipeline folds it into the lines.
type stageOutput struct {
	allocations []Allocation
	options     []CouponOption
}

type stage func(in *PipelineInput, st *pipelineState, lines []PricedLine) (stageOutput, error)

// Pipeline applies membership pricing, product, store and platform coupons,
// and loyalty points, in that order. Each stage sees the payable prices left
// by the previous one.
type Pipeline struct {
	settings Settings
	stages   []stage
}

// NewPipeline creates a Pipeline with the given platform settings.
func NewPipeline(settings Settings) *Pipeline {
	p := &Pipeline{settings: settings}
	p.stages = []stage{
		membershipStage,
		productCouponStage,
		storeCouponStage,
		platformCouponStage,
		p.pointsStage,
	}
	return p
}

// pipelineState carries lookups shared by every stage of one run.
type pipelineState struct {
	pinned    map[int64]bool
	merchants map[int64]catalog.Merchant
}

// Run prices the partitions. It does not mutate its input.
func (p *Pipeline) Run(in PipelineInput) (*PipelineResult, error) {
	st := &pipelineState{
		pinned:    make(map[int64]bool, len(in.Selection.CouponIDs)),
		merchants: make(map[int64]catalog.Merchant, len(in.Partitions)),
	}
	var lines []PricedLine
	for _, part := range in.Partitions {
		st.merchants[part.MerchantID] = part.Merchant
		for _, l := range part.Lines {
			lines = append(lines, newPricedLine(l))
		}
	}
	for _, id := range in.Selection.CouponIDs {
		st.pinned[id] = true
	}
	if err := checkPinned(&in, st); err != nil {
		return nil, err
	}

	res := &PipelineResult{}
	for _, run := range p.stages {
		out, err := run(&in, st, lines)
		if err != nil {
			return nil, err
		}
		for _, a := range out.allocations {
			lines = fold(lines, a, st)
			res.PointsUsed += a.Points
		}
		res.Allocations = append(res.Allocations, out.allocations...)
		res.Coupons = append(res.Coupons, out.options...)
	}
	res.Lines = lines
	return res, nil
}

// checkPinned rejects pinned coupons the shopper does not own or that can
// never apply to this cart.
func checkPinned(in *PipelineInput, st *pipelineState) error {
	owned := make(map[int64]coupon.Coupon, len(in.Coupons))
	for _, c := range in.Coupons {
		owned[c.ID] = c
	}
	var platform int
	stores := make(map[int64]int)
	for _, id := range in.Selection.CouponIDs {
		c, ok := owned[id]
		if !ok {
			return &CouponNotApplicableError{CouponID: id, Reason: coupon.ReasonNotOwned}
		}
		switch {
		case c.Scope.Platform():
			platform++
			if platform > 1 {
				return &CouponNotApplicableError{CouponID: id, Reason: coupon.ReasonOnePlatform}
			}
		default:
			if _, ok := st.merchants[c.MerchantID]; !ok {
				return &CouponNotApplicableError{CouponID: id, Reason: coupon.ReasonWrongMerchant}
			}
			if c.Scope == coupon.ScopeStore {
				stores[c.MerchantID]++
				if stores[c.MerchantID] > 1 {
					return &CouponNotApplicableError{CouponID: id, Reason: coupon.ReasonOneStore}
				}
			}
		}
	}
	return nil
}

// fold returns a copy of lines with the allocation applied.
func fold(lines []PricedLine, a Allocation, st *pipelineState) []PricedLine {
	out := make([]PricedLine, len(lines))
	copy(out, lines)
	idx := make(map[int64]int, len(out))
	for i, l := range out {
		idx[l.LineID] = i
	}
	for _, s := range a.Shares {
		i, ok := idx[s.LineID]
		if !ok {
			continue
		}
		l := &out[i]
		l.Payable = money.NonNegative(l.Payable.Sub(s.Amount))
		switch a.Stage {
		case StageMembership:
			l.SvipDiscount = l.SvipDiscount.Add(s.Amount)
			l.UsedMembership = true
			l.NoStack = !st.merchants[l.MerchantID].CouponsStackWithMembership
		case StageProductCoupon:
			l.ProductCouponPrice = l.ProductCouponPrice.Add(s.Amount)
			l.ProductCouponID = a.CouponID
		case StageStoreCoupon:
			l.StoreCouponPrice = l.StoreCouponPrice.Add(s.Amount)
		case StagePlatformCoupon:
			l.PlatformCouponPrice = l.PlatformCouponPrice.Add(s.Amount)
		case StagePoints:
			l.PointsDeduction = l.PointsDeduction.Add(s.Amount)
			l.PointsUsed += s.Points
		}
	}
	return out
}

// prorate spreads amount over lines by payable price, capped per line.
func prorate(a Allocation, lines []PricedLine) Allocation {
	caps := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		caps[i] = l.Payable
	}
	parts := money.SplitCapped(a.Amount, caps)
	a.Amount = money.Sum(parts...)
	a.Shares = make([]Share, len(lines))
	for i, l := range lines {
		a.Shares[i] = Share{LineID: l.LineID, Amount: parts[i]}
	}
	return a
}

func payableSum(lines []PricedLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Payable)
	}
	return total
}

func linesOf(lines []PricedLine, merchantID int64) []PricedLine {
	var out []PricedLine
	for _, l := range lines {
		if l.MerchantID == merchantID {
			out = append(out, l)
		}
	}
	return out
}
