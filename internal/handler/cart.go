package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/session"
)

// cartResponse is the cart view returned by every cart endpoint: the snapshot
// plus applied coupons and the resulting totals.
type cartResponse struct {
	Cart          cart.Snapshot            `json:"cart"`
	Coupons       []discount.AppliedCoupon `json:"coupons"`
	DiscountTotal decimal.Decimal          `json:"discountTotal"`
	Total         decimal.Decimal          `json:"total"`
}

func (h *Handler) cartView(s *session.Session) cartResponse {
	snap := s.Cart.Snapshot()
	discountTotal := s.Discounts.TotalDiscount()

	total := snap.Subtotal.Add(snap.ShippingTotal).Sub(discountTotal)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return cartResponse{
		Cart:          snap,
		Coupons:       s.Discounts.Applied(),
		DiscountTotal: discountTotal,
		Total:         total.Round(2),
	}
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Get(r.PathValue("id"))
	s.Viewed(r.Context())
	writeJSON(w, http.StatusOK, h.cartView(s))
}

type addItemRequest struct {
	Item     cart.Item `json:"item"`
	Quantity int       `json:"quantity"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	s := h.sessions.Get(r.PathValue("id"))
	result, err := s.Cart.AddItem(r.Context(), req.Item, req.Quantity)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if result.Changed {
		s.CartChanged(r.Context())
	}
	writeJSON(w, http.StatusOK, h.cartView(s))
}

// itemKeyFromRequest rebuilds the line identity from the path and query. The
// option, configuration, and notes signatures travel as query parameters
// since they are part of the merge identity, not the product id.
func itemKeyFromRequest(r *http.Request) cart.ItemKey {
	q := r.URL.Query()
	return cart.ItemKey{
		ProductID:         r.PathValue("productId"),
		SelectedOptionKey: q.Get("option"),
		ConfigSignature:   q.Get("config"),
		NotesSignature:    q.Get("notes"),
	}
}

type patchItemRequest struct {
	Op string `json:"op"` // "increment" or "decrement"
}

func (h *Handler) patchItem(w http.ResponseWriter, r *http.Request) {
	var req patchItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}

	s := h.sessions.Get(r.PathValue("id"))
	key := itemKeyFromRequest(r)

	var (
		result cart.Result
		err    error
	)
	switch req.Op {
	case "increment":
		result, err = s.Cart.IncrementItem(r.Context(), key)
	case "decrement":
		result, err = s.Cart.DecrementItem(r.Context(), key)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    http.StatusBadRequest,
			Message: "op must be increment or decrement",
		})
		return
	}
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if result.Changed {
		s.CartChanged(r.Context())
	}
	writeJSON(w, http.StatusOK, h.cartView(s))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Get(r.PathValue("id"))

	result, err := s.Cart.RemoveItem(r.Context(), itemKeyFromRequest(r))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if result.Changed {
		s.CartChanged(r.Context())
	}
	writeJSON(w, http.StatusOK, h.cartView(s))
}
