package checkout

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"

	"github.com/go-faster/errors"
	"github.com/gowebpki/jcs"
)

type fingerprintDelivery struct {
	MerchantID int64             `json:"merchant_id"`
	Selection  DeliverySelection `json:"selection"`
}

type fingerprintInput struct {
	UID         int64                 `json:"uid"`
	LineIDs     []int64               `json:"line_ids"`
	AddressID   int64                 `json:"address_id"`
	CouponIDs   []int64               `json:"coupon_ids"`
	AutoCoupons bool                  `json:"auto_coupons"`
	UsePoints   bool                  `json:"use_points"`
	Delivery    []fingerprintDelivery `json:"delivery"`
}

// Fingerprint hashes every quote-affecting input of req. Id lists are
// order-insensitive.
func Fingerprint(req QuoteRequest) (string, error) {
	in := fingerprintInput{
		UID:         req.UID,
		LineIDs:     uniqueSorted(req.LineIDs),
		AddressID:   req.AddressID,
		CouponIDs:   uniqueSorted(req.CouponIDs),
		AutoCoupons: req.AutoCoupons,
		UsePoints:   req.UsePoints,
		Delivery:    []fingerprintDelivery{},
	}
	for id, sel := range req.Delivery {
		in.Delivery = append(in.Delivery, fingerprintDelivery{MerchantID: id, Selection: sel})
	}
	slices.SortFunc(in.Delivery, func(a, b fingerprintDelivery) int {
		return cmp.Compare(a.MerchantID, b.MerchantID)
	})

	raw, err := json.Marshal(in)
	if err != nil {
		return "", errors.Wrap(err, "marshal fingerprint input")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize fingerprint input")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
