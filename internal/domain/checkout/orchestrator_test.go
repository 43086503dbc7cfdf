package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/domain/profile"
)

type mockGateway struct {
	methodErr  error
	intentErr  error
	confirmErr error
	status     string

	createMethodCalls  atomic.Int64
	createIntentCalls  atomic.Int64
	confirmCalls       atomic.Int64
	confirmBlock       chan struct{}
	lastIntentAmount   decimal.Decimal
	lastIntentCurrency string
}

func (g *mockGateway) CreatePaymentMethod(_ context.Context, _ CardDetails) (string, error) {
	g.createMethodCalls.Add(1)
	if g.methodErr != nil {
		return "", g.methodErr
	}
	return "pm_test", nil
}

func (g *mockGateway) CreateIntent(_ context.Context, amount decimal.Decimal, currency string) (*Intent, error) {
	g.createIntentCalls.Add(1)
	g.lastIntentAmount = amount
	g.lastIntentCurrency = currency
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	return &Intent{ID: "pi_test", ClientSecret: "cs_test"}, nil
}

func (g *mockGateway) ConfirmPayment(_ context.Context, _, _ string) (*Confirmation, error) {
	g.confirmCalls.Add(1)
	if g.confirmBlock != nil {
		<-g.confirmBlock
	}
	if g.confirmErr != nil {
		return nil, g.confirmErr
	}
	status := g.status
	if status == "" {
		status = "succeeded"
	}
	return &Confirmation{IntentID: "pi_test", Status: status}, nil
}

type mockOrderStore struct {
	mu     sync.Mutex
	err    error
	orders []*OrderRecord
}

func (s *mockOrderStore) Save(_ context.Context, order *OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.orders = append(s.orders, order)
	return nil
}

type mockLedger struct {
	consumed []string
	err      error
}

func (l *mockLedger) ConsumeFirstPurchase(_ context.Context, customerID string) error {
	l.consumed = append(l.consumed, customerID)
	return l.err
}

type mockUsage struct {
	codes []string
}

func (u *mockUsage) RecordUse(_ context.Context, code string) error {
	u.codes = append(u.codes, code)
	return nil
}

func validBilling() BillingForm {
	return BillingForm{
		Name:       "Ada Lovelace",
		Email:      "ada@example.com",
		Address:    "12 Analytical Way",
		City:       "London",
		PostalCode: "EC1A 1AA",
		Country:    "GB",
	}
}

func snapshot(subtotal, shipping string) cart.Snapshot {
	return cart.Snapshot{
		CartID: "cart-1",
		Items: []cart.Item{{
			ProductID: "waffle-1",
			UnitPrice: decimal.RequireFromString(subtotal),
			Quantity:  1,
		}},
		Subtotal:      decimal.RequireFromString(subtotal),
		ShippingTotal: decimal.RequireFromString(shipping),
		TotalQuantity: 1,
	}
}

func cardRequest(subtotal, shipping string) SubmitRequest {
	return SubmitRequest{
		CustomerID: "cust-1",
		Billing:    validBilling(),
		Method:     MethodCard,
		Card:       &CardDetails{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "123"},
		Cart:       snapshot(subtotal, shipping),
		Currency:   "usd",
	}
}

func TestOrchestrator_CardHappyPath(t *testing.T) {
	gateway := &mockGateway{}
	orders := &mockOrderStore{}
	uses := &mockUsage{}
	o := NewOrchestrator(gateway, orders, nil, uses, nil)

	req := cardRequest("50.00", "7.50")
	req.Coupons = []discount.AppliedCoupon{{Code: "SAVE10", DiscountAmount: decimal.RequireFromString("10.00")}}

	result, err := o.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "47.50", result.Total.StringFixed(2))
	assert.False(t, result.FreeOrder)
	assert.False(t, result.Degraded)

	assert.Equal(t, "47.50", gateway.lastIntentAmount.StringFixed(2))
	assert.Equal(t, "usd", gateway.lastIntentCurrency)
	assert.EqualValues(t, 1, gateway.confirmCalls.Load())

	require.Len(t, orders.orders, 1)
	order := orders.orders[0]
	assert.Equal(t, "succeeded", order.Payment.Status)
	assert.Equal(t, "pi_test", order.Payment.IntentID)
	assert.Equal(t, []string{"SAVE10"}, uses.codes)
	assert.Equal(t, StateIdle, o.State())
}

func TestOrchestrator_FreeOrderSkipsConfirmation(t *testing.T) {
	gateway := &mockGateway{}
	orders := &mockOrderStore{}
	o := NewOrchestrator(gateway, orders, nil, nil, nil)

	req := cardRequest("20.00", "0.00")
	req.Coupons = []discount.AppliedCoupon{{Code: "FREEBIE", DiscountAmount: decimal.RequireFromString("20.00")}}

	result, err := o.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.FreeOrder)
	assert.True(t, result.Total.IsZero())

	assert.EqualValues(t, 1, gateway.createMethodCalls.Load(), "card is still tokenized")
	assert.EqualValues(t, 0, gateway.createIntentCalls.Load(), "no intent for a free order")
	assert.EqualValues(t, 0, gateway.confirmCalls.Load(), "confirmation must never run")

	require.Len(t, orders.orders, 1)
	payment := orders.orders[0].Payment
	assert.Equal(t, "succeeded", payment.Status)
	assert.True(t, payment.FreeOrder)
	assert.True(t, payment.Amount.IsZero())
	assert.Empty(t, payment.IntentID)
}

func TestOrchestrator_OverDiscountClampsToFree(t *testing.T) {
	gateway := &mockGateway{}
	orders := &mockOrderStore{}
	o := NewOrchestrator(gateway, orders, nil, nil, nil)

	req := cardRequest("20.00", "0.00")
	req.Coupons = []discount.AppliedCoupon{
		{Code: "BIG", DiscountAmount: decimal.RequireFromString("15.00")},
		{Code: "BIGGER", DiscountAmount: decimal.RequireFromString("15.00")},
	}

	result, err := o.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Total.IsZero(), "total never goes negative")
	assert.True(t, result.FreeOrder)
	assert.EqualValues(t, 0, gateway.confirmCalls.Load())
}

func TestOrchestrator_DegradedSuccessWhenSaveFailsAfterPayment(t *testing.T) {
	gateway := &mockGateway{}
	orders := &mockOrderStore{err: errors.New("connection reset")}
	ledger := &mockLedger{}
	o := NewOrchestrator(gateway, orders, ledger, nil, nil)

	req := cardRequest("50.00", "0.00")
	req.FirstTime = profile.State{Eligible: true, Applied: true, Percentage: decimal.NewFromInt(10)}

	result, err := o.Submit(context.Background(), req)
	require.NoError(t, err, "payment went through, so the user sees success")
	assert.True(t, result.Degraded)
	assert.Equal(t, "45.00", result.Total.StringFixed(2))

	assert.EqualValues(t, 1, gateway.confirmCalls.Load())
	assert.Equal(t, []string{"cust-1"}, ledger.consumed,
		"first-purchase flag is consumed even when the save fails")
}

func TestOrchestrator_CODSaveFailureIsPlainError(t *testing.T) {
	gateway := &mockGateway{}
	orders := &mockOrderStore{err: errors.New("connection reset")}
	o := NewOrchestrator(gateway, orders, nil, nil, nil)

	req := cardRequest("50.00", "0.00")
	req.Method = MethodCashOnDelivery
	req.Card = nil

	_, err := o.Submit(context.Background(), req)
	require.Error(t, err)
	assert.EqualValues(t, 0, gateway.createMethodCalls.Load())
	assert.Equal(t, StateIdle, o.State(), "failed attempt re-arms the machine")
}

func TestOrchestrator_FormInvalidBeforeAnyExternalCall(t *testing.T) {
	gateway := &mockGateway{}
	orders := &mockOrderStore{}
	o := NewOrchestrator(gateway, orders, nil, nil, nil)

	req := cardRequest("50.00", "0.00")
	req.Billing.Email = ""
	req.Billing.Country = ""

	_, err := o.Submit(context.Background(), req)
	var formErr *FormInvalidError
	require.ErrorAs(t, err, &formErr)
	assert.ElementsMatch(t, []string{"email", "country"}, formErr.Missing)

	assert.EqualValues(t, 0, gateway.createMethodCalls.Load())
	assert.Empty(t, orders.orders)
}

func TestOrchestrator_EmptyCartRejected(t *testing.T) {
	gateway := &mockGateway{}
	o := NewOrchestrator(gateway, &mockOrderStore{}, nil, nil, nil)

	req := cardRequest("0.00", "0.00")
	req.Cart.Items = nil

	_, err := o.Submit(context.Background(), req)
	var formErr *FormInvalidError
	require.ErrorAs(t, err, &formErr)
	assert.EqualValues(t, 0, gateway.createMethodCalls.Load())
}

func TestOrchestrator_CardErrorPropagates(t *testing.T) {
	gateway := &mockGateway{methodErr: &CardError{Kind: CardExpired, Message: "card expired"}}
	orders := &mockOrderStore{}
	o := NewOrchestrator(gateway, orders, nil, nil, nil)

	_, err := o.Submit(context.Background(), cardRequest("50.00", "0.00"))
	var cardErr *CardError
	require.ErrorAs(t, err, &cardErr)
	assert.Equal(t, CardExpired, cardErr.Kind)
	assert.Empty(t, orders.orders, "no order is created on tokenization failure")
}

func TestOrchestrator_PaymentDeclinedPropagates(t *testing.T) {
	gateway := &mockGateway{confirmErr: &PaymentError{Kind: PaymentDeclined, Message: "insufficient funds"}}
	orders := &mockOrderStore{}
	ledger := &mockLedger{}
	o := NewOrchestrator(gateway, orders, ledger, nil, nil)

	req := cardRequest("50.00", "0.00")
	req.FirstTime = profile.State{Eligible: true, Applied: true, Percentage: decimal.NewFromInt(10)}

	_, err := o.Submit(context.Background(), req)
	var payErr *PaymentError
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, PaymentDeclined, payErr.Kind)
	assert.Empty(t, orders.orders)
	assert.Empty(t, ledger.consumed, "flag survives a failed attempt")
}

func TestOrchestrator_NonSucceededConfirmationFails(t *testing.T) {
	gateway := &mockGateway{status: "requires_action"}
	orders := &mockOrderStore{}
	o := NewOrchestrator(gateway, orders, nil, nil, nil)

	_, err := o.Submit(context.Background(), cardRequest("50.00", "0.00"))
	var payErr *PaymentError
	require.ErrorAs(t, err, &payErr)
	assert.Empty(t, orders.orders)
}

func TestOrchestrator_DuplicateSubmitRejected(t *testing.T) {
	gateway := &mockGateway{confirmBlock: make(chan struct{})}
	orders := &mockOrderStore{}
	o := NewOrchestrator(gateway, orders, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), cardRequest("50.00", "0.00"))
		done <- err
	}()

	require.Eventually(t, func() bool {
		return gateway.confirmCalls.Load() == 1
	}, time.Second, time.Millisecond)

	_, err := o.Submit(context.Background(), cardRequest("50.00", "0.00"))
	assert.ErrorIs(t, err, ErrCheckoutInFlight)

	close(gateway.confirmBlock)
	require.NoError(t, <-done)
	require.Len(t, orders.orders, 1, "only the first submission produced an order")
}

func TestOrchestrator_FirstPurchaseConsumedOnSuccess(t *testing.T) {
	gateway := &mockGateway{}
	orders := &mockOrderStore{}
	ledger := &mockLedger{}
	o := NewOrchestrator(gateway, orders, ledger, nil, nil)

	req := cardRequest("100.00", "0.00")
	req.FirstTime = profile.State{Eligible: true, Applied: true, Percentage: decimal.NewFromInt(15)}

	result, err := o.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "85.00", result.Total.StringFixed(2))
	assert.Equal(t, []string{"cust-1"}, ledger.consumed)
}
