// Package handler exposes the storefront over a JSON HTTP API: cart
// mutations, coupon apply/remove, available offers, store settings, and
// checkout submission.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/checkout"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/domain/offer"
	"github.com/oakmint/storefront-checkout/internal/domain/profile"
	"github.com/oakmint/storefront-checkout/internal/session"
)

// SettingsSource provides the store settings surfaced by the API and used
// during checkout.
type SettingsSource interface {
	CouponSettings(ctx context.Context) (discount.Settings, error)
	FirstPurchaseSettings(ctx context.Context) (profile.Settings, error)
	ShippingSettings(ctx context.Context) (cart.ShippingSettings, error)
}

// Handler serves the storefront API.
type Handler struct {
	sessions *session.Manager
	settings SettingsSource
	profiles profile.Repository
	currency string
}

// NewHandler creates a Handler. profiles may be nil when first-purchase
// discounts are not configured.
func NewHandler(sessions *session.Manager, settings SettingsSource, profiles profile.Repository, currency string) *Handler {
	if currency == "" {
		currency = "usd"
	}
	return &Handler{
		sessions: sessions,
		settings: settings,
		profiles: profiles,
		currency: currency,
	}
}

// Routes returns the API route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/cart/{id}", h.getCart)
	mux.HandleFunc("POST /api/cart/{id}/items", h.addItem)
	mux.HandleFunc("PATCH /api/cart/{id}/items/{productId}", h.patchItem)
	mux.HandleFunc("DELETE /api/cart/{id}/items/{productId}", h.removeItem)

	mux.HandleFunc("POST /api/cart/{id}/coupons", h.applyCoupon)
	mux.HandleFunc("DELETE /api/cart/{id}/coupons/{code}", h.removeCoupon)
	mux.HandleFunc("GET /api/offers", h.listOffers)

	mux.HandleFunc("POST /api/cart/{id}/checkout", h.submitCheckout)
	mux.HandleFunc("GET /api/settings", h.getSettings)

	return mux
}

// errorResponse is the error envelope for all API failures.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses:
//
//	400 invalid input or billing form
//	402 card or payment rejection
//	404 unknown cart line
//	409 conflicting state (stock ceiling, duplicate coupon, checkout busy)
//	422 coupon rejected by validation
//	500 everything else
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		formErr *checkout.FormInvalidError
		qtyErr  *cart.QuantityExceededError
		cardErr *checkout.CardError
		payErr  *checkout.PaymentError
		status  int
		message = err.Error()
	)
	switch {
	case errors.As(err, &formErr):
		status = http.StatusBadRequest
	case errors.Is(err, cart.ErrInvalidQuantity):
		status = http.StatusBadRequest
	case errors.Is(err, cart.ErrItemNotFound):
		status = http.StatusNotFound
	case errors.As(err, &qtyErr),
		errors.Is(err, discount.ErrCouponAlreadyApplied),
		errors.Is(err, checkout.ErrCheckoutInFlight):
		status = http.StatusConflict
	case errors.Is(err, offer.ErrInvalidCoupon),
		errors.Is(err, offer.ErrCouponExpired),
		errors.Is(err, offer.ErrCouponUsageLimitReached),
		errors.Is(err, offer.ErrMinOrderNotMet),
		errors.Is(err, offer.ErrNotApplicable),
		errors.Is(err, discount.ErrEmptyCart):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &cardErr), errors.As(err, &payErr):
		status = http.StatusPaymentRequired
	default:
		status = http.StatusInternalServerError
		message = "internal error"
		zctx.From(ctx).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}
