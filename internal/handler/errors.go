package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// statusOf maps checkout error categories to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, checkout.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrStaleQuote), errors.Is(err, checkout.ErrInsufficientResource):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the error envelope. Internal errors are logged and their
// cause is not exposed.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		writeMessage(w, status, "internal error")
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(err.Error()) })
		encodeDetails(e, err)
	})
	write(w, status, e.Bytes())
}

func encodeDetails(e *jx.Encoder, err error) {
	id := func(name string, v int64) {
		if v != 0 {
			e.Field(name, func(e *jx.Encoder) { e.Int64(v) })
		}
	}
	str := func(name, v string) {
		if v != "" {
			e.Field(name, func(e *jx.Encoder) { e.Str(v) })
		}
	}

	var (
		verr *checkout.ValidationError
		cerr *checkout.CouponNotApplicableError
		serr *checkout.StaleQuoteError
		rerr *checkout.InsufficientResourceError
	)
	switch {
	case errors.As(err, &verr):
		str("error", "validation")
		id("line_id", verr.LineID)
		id("product_id", verr.ProductID)
		id("merchant_id", verr.MerchantID)
	case errors.As(err, &cerr):
		str("error", "coupon_not_applicable")
		id("coupon_id", cerr.CouponID)
		str("reason", cerr.Reason)
	case errors.As(err, &serr):
		str("error", "stale_quote")
		str("reason", string(serr.Reason))
		str("group_id", serr.GroupID)
	case errors.As(err, &rerr):
		str("error", "insufficient_resource")
		str("resource", string(rerr.Resource))
		id("line_id", rerr.LineID)
		id("product_id", rerr.ProductID)
		id("coupon_id", rerr.CouponID)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	write(w, status, e.Bytes())
}

func write(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
