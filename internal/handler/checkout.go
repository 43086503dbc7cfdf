package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/oakmint/storefront-checkout/internal/domain/checkout"
	"github.com/oakmint/storefront-checkout/internal/domain/profile"
)

type checkoutRequest struct {
	CustomerID    string                `json:"customerId"`
	Billing       checkout.BillingForm  `json:"billing"`
	PaymentMethod checkout.Method       `json:"paymentMethod"`
	Card          *checkout.CardDetails `json:"card,omitempty"`
	ExpectedTotal decimal.Decimal       `json:"expectedTotal"`
}

type checkoutResponse struct {
	OrderID   string          `json:"orderId"`
	Total     decimal.Decimal `json:"total"`
	FreeOrder bool            `json:"freeOrder,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
}

func (h *Handler) submitCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}

	s := h.sessions.Get(r.PathValue("id"))

	firstTime, err := h.firstPurchaseState(r, req.CustomerID, !s.Cart.IsEmpty())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	result, err := s.Checkout.Submit(r.Context(), checkout.SubmitRequest{
		CustomerID:  req.CustomerID,
		Billing:     req.Billing,
		Method:      req.PaymentMethod,
		Card:        req.Card,
		Cart:        s.Cart.Snapshot(),
		Coupons:     s.Discounts.Applied(),
		FirstTime:   firstTime,
		Currency:    h.currency,
		ClientTotal: req.ExpectedTotal,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	// The order is placed; the cart and its coupons are spent.
	s.Cart.Clear(r.Context())
	s.Discounts.ClearApplied()

	writeJSON(w, http.StatusOK, checkoutResponse{
		OrderID:   result.OrderID,
		Total:     result.Total,
		FreeOrder: result.FreeOrder,
		Degraded:  result.Degraded,
	})
}

// firstPurchaseState derives the first-time discount for this attempt from
// store settings and the customer's purchase history.
func (h *Handler) firstPurchaseState(r *http.Request, customerID string, cartNonEmpty bool) (profile.State, error) {
	if h.profiles == nil || customerID == "" {
		return profile.State{}, nil
	}
	settings, err := h.settings.FirstPurchaseSettings(r.Context())
	if err != nil {
		return profile.State{}, err
	}
	if !settings.Enabled {
		return profile.State{}, nil
	}
	used, err := h.profiles.FirstPurchaseUsed(r.Context(), customerID)
	if err != nil {
		return profile.State{}, err
	}
	return profile.Evaluate(used, cartNonEmpty, settings.Percentage), nil
}
