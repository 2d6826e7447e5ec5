package order

import (
	"maps"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// build captures the quote's priced fields into a Group without recomputing
// them.
func (m *Materializer) build(q *checkout.Quote, req CommitRequest) (*Group, []StatusLog) {
	now := m.now().UTC()
	g := &Group{
		ID:          m.newID(),
		UID:         q.UID,
		Fingerprint: q.Fingerprint,
		PayMethod:   req.PayMethod,
		Original:    q.Original,
		Discount:    q.Discounts.Total(),
		Shipping:    q.Shipping,
		Total:       q.Total,
		PointsUsed:  q.Discounts.PointsUsed,
		CouponIDs:   q.CouponIDs(),
		CreatedAt:   now,
	}

	var logs []StatusLog
	for _, mq := range q.Merchants {
		o := Order{
			ID:             m.newID(),
			GroupID:        g.ID,
			MerchantID:     mq.MerchantID,
			Kind:           KindStandard,
			Status:         StatusPendingPayment,
			Delivery:       mq.Delivery,
			AddressID:      q.AddressID,
			Original:       mq.Original,
			Discounts:      mq.Discounts,
			Shipping:       mq.Shipping,
			Total:          mq.Total,
			CommissionRate: mq.CommissionRate,
			Remark:         req.Remarks[mq.MerchantID],
			CreatedAt:      now,
		}
		if mq.Total.IsZero() {
			o.Status = StatusPaid
		}
		if r, ok := req.Receipts[mq.MerchantID]; ok {
			o.Receipt = &r
		}

		finalPayment := decimal.Zero
		for _, l := range mq.Lines {
			o.Lines = append(o.Lines, orderLine(m.newID(), o.ID, l))
			if answers, ok := req.FormAnswers[l.LineID]; ok {
				if o.FormAnswers == nil {
					o.FormAnswers = make(map[int64]map[string]string)
				}
				o.FormAnswers[l.LineID] = maps.Clone(answers)
			}
			finalPayment = finalPayment.Add(l.FinalPayment)
		}
		g.Orders = append(g.Orders, o)
		logs = append(logs, StatusLog{OrderID: o.ID, To: o.Status, Note: "order created", At: now})

		if finalPayment.IsPositive() {
			f := followUp(m.newID, o, mq.Lines, finalPayment)
			g.Orders = append(g.Orders, f)
			logs = append(logs, StatusLog{OrderID: f.ID, To: f.Status, Note: "final payment order created", At: now})
		}
	}
	return g, logs
}

func orderLine(id, orderID string, l checkout.LineQuote) Line {
	return Line{
		ID:              id,
		OrderID:         orderID,
		CartLineID:      l.LineID,
		ProductID:       l.ProductID,
		SKUID:           l.SKUID,
		ProductName:     l.ProductName,
		Quantity:        l.Quantity,
		Type:            l.Type,
		UnitPrice:       l.UnitPrice,
		UnitCostPrice:   l.UnitCostPrice,
		Original:        l.Original,
		SvipDiscount:    l.SvipDiscount,
		ProductCoupon:   l.ProductCoupon,
		ProductCouponID: l.ProductCouponID,
		StoreCoupon:     l.StoreCoupon,
		PlatformCoupon:  l.PlatformCoupon,
		PointsDeduction: l.PointsDeduction,
		PointsUsed:      l.PointsUsed,
		ShippingFee:     l.ShippingFee,
		Payable:         l.Payable,
	}
}

// followUp is the order collecting the balance of presale lines.
func followUp(newID func() string, parent Order, lines []checkout.LineQuote, total decimal.Decimal) Order {
	f := Order{
		ID:             newID(),
		GroupID:        parent.GroupID,
		ParentID:       parent.ID,
		MerchantID:     parent.MerchantID,
		Kind:           KindFinalPayment,
		Status:         StatusAwaitingFinalPayment,
		Delivery:       parent.Delivery,
		AddressID:      parent.AddressID,
		Original:       total,
		Discounts:      checkout.Discounts{},
		Shipping:       decimal.Zero,
		Total:          total,
		CommissionRate: parent.CommissionRate,
		CreatedAt:      parent.CreatedAt,
	}
	for _, l := range lines {
		if !l.FinalPayment.IsPositive() {
			continue
		}
		f.Lines = append(f.Lines, Line{
			ID:         newID(),
			OrderID:    f.ID,
			CartLineID: l.LineID,
			ProductID:  l.ProductID,
			SKUID:      l.SKUID,
			Quantity:   l.Quantity,
			Type:       l.Type,
			Original:   l.FinalPayment,
			Payable:    l.FinalPayment,
		})
	}
	return f
}
