package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

type quoteRequest struct {
	LineIDs     []int64                              `json:"line_ids"`
	AddressID   int64                                `json:"address_id"`
	CouponIDs   []int64                              `json:"coupon_ids"`
	AutoCoupons bool                                 `json:"auto_coupons"`
	UsePoints   bool                                 `json:"use_points"`
	Delivery    map[int64]checkout.DeliverySelection `json:"delivery"`
}

type commitRequest struct {
	Fingerprint   string                      `json:"fingerprint"`
	ExpectedTotal decimal.Decimal             `json:"expected_total"`
	PayMethod     string                      `json:"pay_method"`
	Remarks       map[int64]string            `json:"remarks"`
	Receipts      map[int64]order.Receipt     `json:"receipts"`
	FormAnswers   map[int64]map[string]string `json:"form_answers"`
}

type groupResponse struct {
	GroupID    string          `json:"group_id"`
	Original   decimal.Decimal `json:"original"`
	Discount   decimal.Decimal `json:"discount"`
	Shipping   decimal.Decimal `json:"shipping"`
	Total      decimal.Decimal `json:"total"`
	PointsUsed int64           `json:"points_used"`
	CouponIDs  []int64         `json:"coupon_ids"`
	CreatedAt  time.Time       `json:"created_at"`
	Orders     []orderResponse `json:"orders"`
}

type orderResponse struct {
	OrderID    string          `json:"order_id"`
	ParentID   string          `json:"parent_id,omitempty"`
	MerchantID int64           `json:"merchant_id"`
	Kind       order.Kind      `json:"kind"`
	Status     order.Status    `json:"status"`
	Shipping   decimal.Decimal `json:"shipping"`
	Total      decimal.Decimal `json:"total"`
}

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request, uid int64) {
	var req quoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	q, err := h.quoter.Quote(r.Context(), checkout.QuoteRequest{
		UID:         uid,
		LineIDs:     req.LineIDs,
		AddressID:   req.AddressID,
		CouponIDs:   req.CouponIDs,
		AutoCoupons: req.AutoCoupons,
		UsePoints:   req.UsePoints,
		Delivery:    req.Delivery,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, q)
}

func (h *Handler) getQuote(w http.ResponseWriter, r *http.Request, uid int64) {
	q, err := h.quoter.Lookup(r.Context(), uid, r.PathValue("fingerprint"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, q)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request, uid int64) {
	var req commitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Fingerprint == "" {
		writeMessage(w, http.StatusBadRequest, "fingerprint is required")
		return
	}

	g, err := h.committer.Commit(r.Context(), order.CommitRequest{
		UID:           uid,
		Fingerprint:   req.Fingerprint,
		ExpectedTotal: req.ExpectedTotal,
		PayMethod:     req.PayMethod,
		Remarks:       req.Remarks,
		Receipts:      req.Receipts,
		FormAnswers:   req.FormAnswers,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusCreated, newGroupResponse(g))
}

func newGroupResponse(g *order.Group) groupResponse {
	resp := groupResponse{
		GroupID:    g.ID,
		Original:   g.Original,
		Discount:   g.Discount,
		Shipping:   g.Shipping,
		Total:      g.Total,
		PointsUsed: g.PointsUsed,
		CouponIDs:  g.CouponIDs,
		CreatedAt:  g.CreatedAt,
		Orders:     make([]orderResponse, len(g.Orders)),
	}
	for i, o := range g.Orders {
		resp.Orders[i] = orderResponse{
			OrderID:    o.ID,
			ParentID:   o.ParentID,
			MerchantID: o.MerchantID,
			Kind:       o.Kind,
			Status:     o.Status,
			Shipping:   o.Shipping,
			Total:      o.Total,
		}
	}
	return resp
}
