package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
)

// State is the checkout state machine position. The machine is re-entrant
// only from StateIdle.
type State string

const (
	StateIdle                  State = "idle"
	StateFormValidating        State = "form_validating"
	StateCreatingPaymentMethod State = "creating_payment_method"
	StateCreatingPaymentIntent State = "creating_payment_intent"
	StateConfirmingPayment     State = "confirming_payment"
	StateSavingOrder           State = "saving_order"
	StateSucceeded             State = "succeeded"
	StateFailed                State = "failed"
)

// ErrCheckoutInFlight is returned when Submit is called while a submission is
// already running. Checkout is strictly single-flight per cart.
var ErrCheckoutInFlight = errors.New("checkout already in progress")

// FormInvalidError rejects a submission with missing billing fields before
// any external system is contacted.
type FormInvalidError struct {
	Missing []string
}

func (e *FormInvalidError) Error() string {
	return fmt.Sprintf("billing form incomplete: missing %v", e.Missing)
}

// CardErrorKind classifies tokenization failures from the payment gateway.
type CardErrorKind string

const (
	CardDeclined   CardErrorKind = "declined"
	CardExpired    CardErrorKind = "expired"
	CardBadCVC     CardErrorKind = "bad_cvc"
	CardProcessing CardErrorKind = "processing"
)

// CardError is a terminal tokenization failure; the user must change payment
// method. No order is created.
type CardError struct {
	Kind    CardErrorKind
	Message string
}

func (e *CardError) Error() string {
	return fmt.Sprintf("card error (%s): %s", e.Kind, e.Message)
}

// PaymentErrorKind classifies confirmation failures from the payment gateway.
type PaymentErrorKind string

const (
	PaymentDeclined   PaymentErrorKind = "declined"
	PaymentExpired    PaymentErrorKind = "expired"
	PaymentProcessing PaymentErrorKind = "processing"
)

// PaymentError is a terminal confirmation failure for this attempt. The order
// draft is discarded, never retried automatically.
type PaymentError struct {
	Kind    PaymentErrorKind
	Message string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment error (%s): %s", e.Kind, e.Message)
}

// BillingForm holds the customer's billing details.
type BillingForm struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// MissingFields returns the names of required fields that are empty.
func (f BillingForm) MissingFields() []string {
	var missing []string
	for _, field := range []struct{ name, value string }{
		{"name", f.Name},
		{"email", f.Email},
		{"address", f.Address},
		{"city", f.City},
		{"postalCode", f.PostalCode},
		{"country", f.Country},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// Method is the selected payment method.
type Method string

const (
	MethodCard           Method = "card"
	MethodCashOnDelivery Method = "cod"
)

// CardDetails is the raw card input handed to the gateway for tokenization.
// It never touches persistent storage.
type CardDetails struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
	CVC      string `json:"cvc"`
}

// Intent is a gateway payment intent awaiting confirmation.
type Intent struct {
	ID           string
	ClientSecret string
}

// Confirmation is the gateway's answer to a confirm call.
type Confirmation struct {
	IntentID string
	Status   string // "succeeded" or "failed"
}

// Gateway is the external card processor adapter. Implementations own their
// timeouts; the orchestrator treats timeout and failure identically.
type Gateway interface {
	CreatePaymentMethod(ctx context.Context, card CardDetails) (paymentMethodID string, err error)
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*Intent, error)
	ConfirmPayment(ctx context.Context, clientSecret, paymentMethodID string) (*Confirmation, error)
}

// PaymentRecord is the payment outcome persisted with the order. Free orders
// carry a synthetic succeeded record with a zero amount and no intent.
type PaymentRecord struct {
	IntentID       string          `json:"intentId,omitempty"`
	MethodID       string          `json:"methodId,omitempty"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	FreeOrder      bool            `json:"freeOrder,omitempty"`
	CashOnDelivery bool            `json:"cashOnDelivery,omitempty"`
}

// OrderRecord is the finalized order persisted to the order store.
type OrderRecord struct {
	ID         string
	CustomerID string
	Cart       cart.Snapshot
	Coupons    []discount.AppliedCoupon
	Payment    PaymentRecord
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	Discounts  decimal.Decimal
	Total      decimal.Decimal
	CreatedAt  time.Time
}

// OrderStore persists finalized orders.
type OrderStore interface {
	Save(ctx context.Context, order *OrderRecord) error
}

// FirstPurchaseLedger consumes the one-shot first-purchase discount flag.
type FirstPurchaseLedger interface {
	ConsumeFirstPurchase(ctx context.Context, customerID string) error
}

// UsageRecorder increments coupon usage counters once an order completes.
type UsageRecorder interface {
	RecordUse(ctx context.Context, code string) error
}

// Pricing is the authoritative order total breakdown, recomputed server-side
// at intent creation; the client's total is advisory only.
type Pricing struct {
	Subtotal          decimal.Decimal
	Shipping          decimal.Decimal
	CouponDiscount    decimal.Decimal
	FirstTimeDiscount decimal.Decimal
}

// Total is subtotal + shipping − all discounts, clamped at zero so stacked
// discounts can never produce a negative charge, rounded to 2 decimal places.
func (p Pricing) Total() decimal.Decimal {
	total := p.Subtotal.
		Add(p.Shipping).
		Sub(p.CouponDiscount).
		Sub(p.FirstTimeDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2)
}
