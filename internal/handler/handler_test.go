package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/checkout"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/domain/offer"
	"github.com/oakmint/storefront-checkout/internal/domain/profile"
	"github.com/oakmint/storefront-checkout/internal/session"
)

type stubCatalog struct{}

func (stubCatalog) ListActive(context.Context) ([]offer.Rule, error) { return nil, nil }

type stubValidator struct {
	valid map[string]decimal.Decimal
}

func (v stubValidator) Validate(_ context.Context, code string, _ []offer.Item) (*offer.Validation, error) {
	code = strings.ToUpper(code)
	if amount, ok := v.valid[code]; ok {
		return &offer.Validation{Code: code, Amount: amount}, nil
	}
	return nil, offer.ErrInvalidCoupon
}

func (v stubValidator) ValidateMany(_ context.Context, codes, _ []string, _ []offer.Item) ([]offer.CodeResult, error) {
	out := make([]offer.CodeResult, 0, len(codes))
	for _, code := range codes {
		amount, ok := v.valid[code]
		out = append(out, offer.CodeResult{Code: code, Valid: ok, Amount: amount})
	}
	return out, nil
}

type stubSettings struct {
	coupons       discount.Settings
	firstPurchase profile.Settings
}

func (s stubSettings) CouponSettings(context.Context) (discount.Settings, error) {
	return s.coupons, nil
}

func (s stubSettings) FirstPurchaseSettings(context.Context) (profile.Settings, error) {
	return s.firstPurchase, nil
}

func (s stubSettings) ShippingSettings(context.Context) (cart.ShippingSettings, error) {
	return cart.DefaultShippingSettings(), nil
}

type stubGateway struct {
	declineCard bool
}

func (g stubGateway) CreatePaymentMethod(context.Context, checkout.CardDetails) (string, error) {
	if g.declineCard {
		return "", &checkout.CardError{Kind: checkout.CardDeclined, Message: "declined"}
	}
	return "pm_1", nil
}

func (stubGateway) CreateIntent(_ context.Context, _ decimal.Decimal, _ string) (*checkout.Intent, error) {
	return &checkout.Intent{ID: "pi_1", ClientSecret: "cs_1"}, nil
}

func (stubGateway) ConfirmPayment(context.Context, string, string) (*checkout.Confirmation, error) {
	return &checkout.Confirmation{IntentID: "pi_1", Status: "succeeded"}, nil
}

type stubOrders struct {
	saved []*checkout.OrderRecord
}

func (s *stubOrders) Save(_ context.Context, o *checkout.OrderRecord) error {
	s.saved = append(s.saved, o)
	return nil
}

func newTestHandler(t *testing.T, gateway checkout.Gateway, orders checkout.OrderStore) *Handler {
	t.Helper()
	sessions := session.NewManager(session.Deps{
		Shipping: stubSettings{},
		Catalog:  stubCatalog{},
		Validator: stubValidator{valid: map[string]decimal.Decimal{
			"SAVE5": decimal.NewFromInt(5),
		}},
		Settings: stubSettings{},
		Gateway:  gateway,
		Orders:   orders,
	})
	return NewHandler(sessions, stubSettings{}, nil, "usd")
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func addItemBody(productID, price string, ceiling int) string {
	raw, _ := json.Marshal(map[string]any{
		"item": map[string]any{
			"productId":    productID,
			"title":        "Waffle",
			"unitPrice":    price,
			"stockCeiling": ceiling,
		},
		"quantity": 1,
	})
	return string(raw)
}

func TestHandler_AddItemAndGetCart(t *testing.T) {
	h := newTestHandler(t, stubGateway{}, &stubOrders{}).Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/cart/c1/items", addItemBody("waffle-1", "9.00", 0))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Cart.Items, 1)
	assert.True(t, resp.Cart.Subtotal.Equal(decimal.NewFromInt(9)))

	rec = doJSON(t, h, http.MethodGet, "/api/cart/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_StockCeilingConflict(t *testing.T) {
	h := newTestHandler(t, stubGateway{}, &stubOrders{}).Routes()

	require.Equal(t, http.StatusOK,
		doJSON(t, h, http.MethodPost, "/api/cart/c1/items", addItemBody("rare-1", "20.00", 1)).Code)

	rec := doJSON(t, h, http.MethodPost, "/api/cart/c1/items", addItemBody("rare-1", "20.00", 1))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_PatchItem(t *testing.T) {
	h := newTestHandler(t, stubGateway{}, &stubOrders{}).Routes()

	doJSON(t, h, http.MethodPost, "/api/cart/c1/items", addItemBody("waffle-1", "9.00", 0))

	rec := doJSON(t, h, http.MethodPatch, "/api/cart/c1/items/waffle-1", `{"op":"increment"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp cartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Cart.Items[0].Quantity)

	rec = doJSON(t, h, http.MethodPatch, "/api/cart/c1/items/missing", `{"op":"decrement"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPatch, "/api/cart/c1/items/waffle-1", `{"op":"truncate"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CouponLifecycle(t *testing.T) {
	h := newTestHandler(t, stubGateway{}, &stubOrders{}).Routes()

	doJSON(t, h, http.MethodPost, "/api/cart/c1/items", addItemBody("waffle-1", "9.00", 0))

	rec := doJSON(t, h, http.MethodPost, "/api/cart/c1/coupons", `{"code":"save5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var applied applyCouponResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	require.NotNil(t, applied.Coupon)
	assert.Equal(t, "SAVE5", applied.Coupon.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/cart/c1/coupons", `{"code":"SAVE5"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate apply")

	rec = doJSON(t, h, http.MethodPost, "/api/cart/c1/coupons", `{"code":"BOGUS"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/cart/c1/coupons/SAVE5", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/cart/c1/coupons/SAVE5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_CouponOnEmptyCart(t *testing.T) {
	h := newTestHandler(t, stubGateway{}, &stubOrders{}).Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/cart/empty/coupons", `{"code":"SAVE5"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func checkoutBody(method string) string {
	raw, _ := json.Marshal(map[string]any{
		"customerId":    "cust-1",
		"paymentMethod": method,
		"billing": map[string]string{
			"name": "Ada Lovelace", "email": "ada@example.com",
			"address": "12 Analytical Way", "city": "London",
			"postalCode": "EC1A 1AA", "country": "GB",
		},
		"card": map[string]any{
			"number": "4242424242424242", "expMonth": 12, "expYear": 2030, "cvc": "123",
		},
	})
	return string(raw)
}

func TestHandler_CheckoutSuccessClearsCart(t *testing.T) {
	orders := &stubOrders{}
	h := newTestHandler(t, stubGateway{}, orders).Routes()

	doJSON(t, h, http.MethodPost, "/api/cart/c1/items", addItemBody("waffle-1", "9.00", 0))

	rec := doJSON(t, h, http.MethodPost, "/api/cart/c1/checkout", checkoutBody("card"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.OrderID)
	require.Len(t, orders.saved, 1)

	var view cartResponse
	rec = doJSON(t, h, http.MethodGet, "/api/cart/c1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Empty(t, view.Cart.Items, "cart is spent after checkout")
	assert.Empty(t, view.Coupons)
}

func TestHandler_CheckoutFormInvalid(t *testing.T) {
	orders := &stubOrders{}
	h := newTestHandler(t, stubGateway{}, orders).Routes()

	doJSON(t, h, http.MethodPost, "/api/cart/c1/items", addItemBody("waffle-1", "9.00", 0))

	rec := doJSON(t, h, http.MethodPost, "/api/cart/c1/checkout",
		`{"paymentMethod":"card","billing":{"name":"Ada"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, orders.saved)
}

func TestHandler_CheckoutCardDeclined(t *testing.T) {
	h := newTestHandler(t, stubGateway{declineCard: true}, &stubOrders{}).Routes()

	doJSON(t, h, http.MethodPost, "/api/cart/c1/items", addItemBody("waffle-1", "9.00", 0))

	rec := doJSON(t, h, http.MethodPost, "/api/cart/c1/checkout", checkoutBody("card"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestHandler_Settings(t *testing.T) {
	h := newTestHandler(t, stubGateway{}, &stubOrders{}).Routes()

	rec := doJSON(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp settingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.FirstPurchase.Enabled)
	assert.Nil(t, resp.Shipping.FreeShippingThreshold)
	assert.Len(t, resp.Shipping.Tiers, 4)
}

func TestHandler_OffersRequireCartParam(t *testing.T) {
	h := newTestHandler(t, stubGateway{}, &stubOrders{}).Routes()

	rec := doJSON(t, h, http.MethodGet, "/api/offers", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/offers?cart=c1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
