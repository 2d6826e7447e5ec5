// Package handler exposes checkout over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// ShopperHeader carries the authenticated shopper id set by the gateway.
const ShopperHeader = "X-Shopper-ID"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Quoter prices checkouts and re-reads cached quotes.
type Quoter interface {
	Quote(ctx context.Context, req checkout.QuoteRequest) (*checkout.Quote, error)
	Lookup(ctx context.Context, uid int64, fingerprint string) (*checkout.Quote, error)
}

// Committer turns a quote into orders.
type Committer interface {
	Commit(ctx context.Context, req order.CommitRequest) (*order.Group, error)
}

// Handler serves the checkout endpoints.
type Handler struct {
	quoter    Quoter
	committer Committer
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(quoter Quoter, committer Committer) *Handler {
	return &Handler{quoter: quoter, committer: committer}
}

// Register mounts the checkout routes on mux. The commit middlewares wrap only
// the commit endpoint.
func (h *Handler) Register(mux *http.ServeMux, commit ...httpmiddleware.Middleware) {
	mux.Handle("POST /api/checkout/quote", h.shopper(h.createQuote))
	mux.Handle("GET /api/checkout/quote/{fingerprint}", h.shopper(h.getQuote))
	mux.Handle("POST /api/checkout/commit", httpmiddleware.Wrap(h.shopper(h.commit), commit...))
}

type shopperHandler func(w http.ResponseWriter, r *http.Request, uid int64)

// shopper rejects requests without a valid shopper id.
func (h *Handler) shopper(next shopperHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := strconv.ParseInt(r.Header.Get(ShopperHeader), 10, 64)
		if err != nil || uid <= 0 {
			writeMessage(w, http.StatusUnauthorized, "missing or invalid shopper id")
			return
		}
		ctx := zctx.With(r.Context(), zap.Int64("uid", uid))
		next(w, r.WithContext(ctx), uid)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	d := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Debug("Write response", zap.Error(err))
	}
}
