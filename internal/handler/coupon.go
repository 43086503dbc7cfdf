package handler

import (
	"net/http"

	"github.com/oakmint/storefront-checkout/internal/domain/discount"
)

type applyCouponRequest struct {
	Code string `json:"code"`
}

type applyCouponResponse struct {
	Coupon *discount.AppliedCoupon `json:"coupon"`
	cartResponse
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: http.StatusBadRequest, Message: "code is required"})
		return
	}

	s := h.sessions.Get(r.PathValue("id"))
	applied, err := s.Discounts.Apply(r.Context(), req.Code, s.Items(), false)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, applyCouponResponse{
		Coupon:       applied,
		cartResponse: h.cartView(s),
	})
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Get(r.PathValue("id"))

	code := r.PathValue("code")
	if !s.Discounts.Remove(code, discount.SignatureOf(s.Items())) {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Code:    http.StatusNotFound,
			Message: "coupon is not applied",
		})
		return
	}
	writeJSON(w, http.StatusOK, h.cartView(s))
}

type offersResponse struct {
	Offers []discount.Quote `json:"offers"`
}

func (h *Handler) listOffers(w http.ResponseWriter, r *http.Request) {
	cartID := r.URL.Query().Get("cart")
	if cartID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: http.StatusBadRequest, Message: "cart query parameter is required"})
		return
	}

	s := h.sessions.Get(cartID)
	quotes, err := s.Discounts.AvailableOffers(r.Context(), s.Items())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, offersResponse{Offers: quotes})
}
