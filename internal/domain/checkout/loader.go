package checkout

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

// LoadRequest names the cart lines and selections to resolve.
type LoadRequest struct {
	UID        int64
	LineIDs    []int64
	AddressID  int64
	StationIDs []int64
}

// LineFailure explains why a requested cart line cannot be checked out.
type LineFailure struct {
	LineID    int64
	ProductID int64
	Reason    string
}

// Snapshot is everything the quote phase reads, captured once.
type Snapshot struct {
	UID       int64
	Lines     []CartLine
	Merchants map[int64]catalog.Merchant
	Templates map[int64]catalog.ShippingTemplate
	Stations  map[int64]catalog.Station
	Member    catalog.Member
	Address   *catalog.Address
	Coupons   []coupon.Coupon
	Failures  []LineFailure
}

// Err converts the failure list into a ValidationError naming the first
// offending line.
func (s *Snapshot) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	f := s.Failures[0]
	reason := f.Reason
	if n := len(s.Failures) - 1; n > 0 {
		reason = fmt.Sprintf("%s; %d more invalid line(s)", reason, n)
	}
	return &ValidationError{LineID: f.LineID, ProductID: f.ProductID, Reason: reason}
}

// Loader resolves cart line ids into priced, attribute-complete lines. It
// only reads.
type Loader struct {
	carts    cart.Repository
	catalog  catalog.Reader
	shoppers catalog.ShopperReader
	coupons  coupon.Repository
}

// NewLoader creates a Loader over the given collaborators.
func NewLoader(
	carts cart.Repository,
	catalogReader catalog.Reader,
	shoppers catalog.ShopperReader,
	coupons coupon.Repository,
) *Loader {
	return &Loader{
		carts:    carts,
		catalog:  catalogReader,
		shoppers: shoppers,
		coupons:  coupons,
	}
}

// Load reads the snapshot for req. Invalid lines are collected in
// Snapshot.Failures; infrastructure errors are returned.
func (l *Loader) Load(ctx context.Context, req LoadRequest, now time.Time) (*Snapshot, error) {
	ids := uniqueSorted(req.LineIDs)
	snap := &Snapshot{UID: req.UID}

	var rawLines []cart.Line

	// Shopper-scoped reads are independent of each other.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lines, err := l.carts.Lines(gctx, req.UID, ids)
		if err != nil {
			return errors.Wrap(err, "get cart lines")
		}
		rawLines = lines
		return nil
	})
	g.Go(func() error {
		m, err := l.shoppers.Member(gctx, req.UID)
		if err != nil {
			return errors.Wrap(err, "get member")
		}
		snap.Member = m
		return nil
	})
	g.Go(func() error {
		cs, err := l.coupons.Usable(gctx, req.UID, now)
		if err != nil {
			return errors.Wrap(err, "list coupons")
		}
		coupon.SortCatalog(cs)
		snap.Coupons = cs
		return nil
	})
	if req.AddressID != 0 {
		g.Go(func() error {
			addr, err := l.shoppers.Address(gctx, req.UID, req.AddressID)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return &ValidationError{Reason: fmt.Sprintf("address %d not found", req.AddressID)}
				}
				return errors.Wrap(err, "get address")
			}
			snap.Address = addr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[int64]cart.Line, len(rawLines))
	productIDs := make([]int64, 0, len(rawLines))
	skuIDs := make([]int64, 0, len(rawLines))
	for _, cl := range rawLines {
		byID[cl.ID] = cl
		productIDs = append(productIDs, cl.ProductID)
		skuIDs = append(skuIDs, cl.SKUID)
	}

	var (
		products []catalog.Product
		skus     []catalog.SKU
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		ps, err := l.catalog.Products(gctx, uniqueSorted(productIDs))
		if err != nil {
			return errors.Wrap(err, "get products")
		}
		products = ps
		return nil
	})
	g.Go(func() error {
		ss, err := l.catalog.SKUs(gctx, uniqueSorted(skuIDs))
		if err != nil {
			return errors.Wrap(err, "get skus")
		}
		skus = ss
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	productByID := make(map[int64]catalog.Product, len(products))
	merchantIDs := make([]int64, 0, len(products))
	templateIDs := make([]int64, 0, len(products))
	for _, p := range products {
		productByID[p.ID] = p
		merchantIDs = append(merchantIDs, p.MerchantID)
		if p.ShippingTemplateID != 0 {
			templateIDs = append(templateIDs, p.ShippingTemplateID)
		}
	}
	skuByID := make(map[int64]catalog.SKU, len(skus))
	for _, s := range skus {
		skuByID[s.ID] = s
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		ms, err := l.catalog.Merchants(gctx, uniqueSorted(merchantIDs))
		if err != nil {
			return errors.Wrap(err, "get merchants")
		}
		snap.Merchants = make(map[int64]catalog.Merchant, len(ms))
		for _, m := range ms {
			snap.Merchants[m.ID] = m
		}
		return nil
	})
	g.Go(func() error {
		ts, err := l.catalog.ShippingTemplates(gctx, uniqueSorted(templateIDs))
		if err != nil {
			return errors.Wrap(err, "get shipping templates")
		}
		snap.Templates = make(map[int64]catalog.ShippingTemplate, len(ts))
		for _, t := range ts {
			snap.Templates[t.ID] = t
		}
		return nil
	})
	g.Go(func() error {
		snap.Stations = map[int64]catalog.Station{}
		stationIDs := uniqueSorted(req.StationIDs)
		if len(stationIDs) == 0 {
			return nil
		}
		ss, err := l.catalog.Stations(gctx, stationIDs)
		if err != nil {
			return errors.Wrap(err, "get stations")
		}
		for _, s := range ss {
			snap.Stations[s.ID] = s
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		cl, ok := byID[id]
		if !ok {
			snap.fail(id, 0, "cart line not found")
			continue
		}
		line, reason := resolveLine(cl, productByID, skuByID, snap.Merchants)
		if reason != "" {
			snap.fail(cl.ID, cl.ProductID, reason)
			continue
		}
		snap.Lines = append(snap.Lines, line)
	}
	return snap, nil
}

func (s *Snapshot) fail(lineID, productID int64, reason string) {
	s.Failures = append(s.Failures, LineFailure{LineID: lineID, ProductID: productID, Reason: reason})
}

// resolveLine validates one cart line and joins its catalog attributes. A
// non-empty reason means the line is invalid.
func resolveLine(
	cl cart.Line,
	products map[int64]catalog.Product,
	skus map[int64]catalog.SKU,
	merchants map[int64]catalog.Merchant,
) (CartLine, string) {
	if cl.Consumed {
		return CartLine{}, "cart line already ordered"
	}
	p, ok := products[cl.ProductID]
	if !ok || !p.Active {
		return CartLine{}, "product is off the shelf or removed"
	}
	sku, ok := skus[cl.SKUID]
	if !ok || sku.ProductID != p.ID {
		return CartLine{}, "product specification is no longer available"
	}
	m, ok := merchants[p.MerchantID]
	if !ok || !m.Active {
		return CartLine{}, "store is closed"
	}
	if !p.Type.Valid() {
		return CartLine{}, "unsupported promotion type"
	}
	switch {
	case cl.Quantity <= 0:
		return CartLine{}, "quantity must be greater than 0"
	case p.MinPerOrder > 0 && cl.Quantity < p.MinPerOrder:
		return CartLine{}, fmt.Sprintf("minimum purchase quantity is %d", p.MinPerOrder)
	case p.MaxPerOrder > 0 && cl.Quantity > p.MaxPerOrder:
		return CartLine{}, fmt.Sprintf("purchase limit of %d exceeded", p.MaxPerOrder)
	}
	stock := sku.StockIn(p.Type.Capability().Pool)
	if stock < cl.Quantity {
		return CartLine{}, "insufficient stock"
	}

	return CartLine{
		LineID:             cl.ID,
		MerchantID:         p.MerchantID,
		ProductID:          p.ID,
		SKUID:              sku.ID,
		ProductName:        p.Name,
		Quantity:           cl.Quantity,
		Type:               p.Type,
		UnitPrice:          sku.Price,
		UnitCostPrice:      sku.CostPrice,
		MemberPrice:        sku.MemberPrice,
		FinalPrice:         sku.FinalPrice,
		MembershipEligible: p.MembershipEnabled && m.MembershipEnabled,
		CategoryIDs:        p.CategoryIDs,
		DeliveryWays:       p.DeliveryWays,
		PointRate:          p.PointRate,
		TemplateID:         p.ShippingTemplateID,
		Weight:             sku.Weight,
		Volume:             sku.Volume,
		Stock:              stock,
		RequiredFormFields: p.RequiredFormFields,
	}, ""
}

func uniqueSorted(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
