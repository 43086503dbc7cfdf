package handler

import (
	"net/http"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/domain/profile"
)

type settingsResponse struct {
	Coupons       discount.Settings     `json:"coupons"`
	FirstPurchase profile.Settings      `json:"firstPurchase"`
	Shipping      cart.ShippingSettings `json:"shipping"`
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.settings.CouponSettings(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	firstPurchase, err := h.settings.FirstPurchaseSettings(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	shipping, err := h.settings.ShippingSettings(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Coupons:       coupons,
		FirstPurchase: firstPurchase,
		Shipping:      shipping,
	})
}
