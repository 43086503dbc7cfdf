package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/domain/profile"
)

// SubmitRequest carries everything a checkout attempt needs: the validated
// cart snapshot, applied coupons, billing details, and payment selection.
type SubmitRequest struct {
	CustomerID string
	Billing    BillingForm
	Method     Method
	Card       *CardDetails
	Cart       cart.Snapshot
	Coupons    []discount.AppliedCoupon
	FirstTime  profile.State
	Currency   string

	// ClientTotal is what the UI displayed. It is advisory: the orchestrator
	// recomputes the authoritative total and logs a mismatch, nothing more.
	ClientTotal decimal.Decimal
}

// SubmitResult is the outcome of a completed checkout.
type SubmitResult struct {
	OrderID   string
	Total     decimal.Decimal
	FreeOrder bool

	// Degraded is set when payment succeeded (or the order was free) but the
	// order store failed. Payment is never reversed; the order needs
	// operational follow-up.
	Degraded bool
}

// Orchestrator drives the checkout state machine:
//
//	Idle → FormValidating → {COD: SavingOrder}
//	     | {Card: CreatingPaymentMethod → CreatingPaymentIntent
//	              → {free order: SavingOrder}
//	              | {ConfirmingPayment → SavingOrder}}
//	→ Succeeded | Failed
//
// Submissions are strictly single-flight; a second Submit while not Idle
// returns ErrCheckoutInFlight.
type Orchestrator struct {
	gateway Gateway
	orders  OrderStore
	ledger  FirstPurchaseLedger
	uses    UsageRecorder

	attempts metric.Int64Counter
	outcomes metric.Int64Counter

	mu    sync.Mutex
	state State
}

// NewOrchestrator creates an Orchestrator. ledger and uses may be nil when
// the deployment does not track those concerns; mp may be nil to use the
// globally registered meter provider.
func NewOrchestrator(gateway Gateway, orders OrderStore, ledger FirstPurchaseLedger, uses UsageRecorder, mp metric.MeterProvider) *Orchestrator {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("checkout")
	attempts, _ := meter.Int64Counter("checkout.attempts")
	outcomes, _ := meter.Int64Counter("checkout.outcomes")

	return &Orchestrator{
		gateway:  gateway,
		orders:   orders,
		ledger:   ledger,
		uses:     uses,
		attempts: attempts,
		outcomes: outcomes,
		state:    StateIdle,
	}
}

// State returns the current state machine position.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Submit runs one checkout attempt to a terminal state. On return the
// machine is back in Idle: a failed attempt may be resubmitted after the
// user corrects the cause.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, ErrCheckoutInFlight
	}
	o.state = StateFormValidating
	o.mu.Unlock()

	o.attempts.Add(ctx, 1)

	result, err := o.run(ctx, req)
	if err != nil {
		o.setState(StateFailed)
		o.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", "failed"),
			attribute.String("kind", failureKind(err)),
		))
	} else {
		o.setState(StateSucceeded)
		outcome := "succeeded"
		if result.Degraded {
			outcome = "degraded"
		}
		o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	// Terminal state reached; re-arm for the next attempt.
	o.setState(StateIdle)
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	lg := zctx.From(ctx)

	if missing := req.Billing.MissingFields(); len(missing) > 0 {
		return nil, &FormInvalidError{Missing: missing}
	}
	if len(req.Cart.Items) == 0 {
		return nil, &FormInvalidError{Missing: []string{"cart"}}
	}

	// The authoritative total is recomputed here from the cart snapshot; the
	// client-provided total is display-only and clamping happens at every
	// stage through Pricing.Total.
	pricing := Pricing{
		Subtotal:          req.Cart.Subtotal,
		Shipping:          req.Cart.ShippingTotal,
		CouponDiscount:    couponTotal(req.Coupons),
		FirstTimeDiscount: req.FirstTime.DiscountAmount(req.Cart.Subtotal),
	}
	total := pricing.Total()
	if !req.ClientTotal.IsZero() && !req.ClientTotal.Equal(total) {
		lg.Info("Client total mismatch, using server total",
			zap.String("client", req.ClientTotal.String()),
			zap.String("server", total.String()))
	}

	var payment PaymentRecord
	switch req.Method {
	case MethodCashOnDelivery:
		payment = PaymentRecord{
			Status:         "pending",
			Amount:         total,
			CashOnDelivery: true,
		}

	default:
		if req.Card == nil {
			return nil, &FormInvalidError{Missing: []string{"card"}}
		}

		o.setState(StateCreatingPaymentMethod)
		methodID, err := o.gateway.CreatePaymentMethod(ctx, *req.Card)
		if err != nil {
			var cardErr *CardError
			if errors.As(err, &cardErr) {
				return nil, cardErr
			}
			return nil, errors.Wrap(err, "create payment method")
		}

		o.setState(StateCreatingPaymentIntent)
		if total.IsZero() {
			// Free order: discounts cover the whole total. Skip straight to
			// order persistence with a synthetic succeeded record; the
			// gateway confirmation step must not run.
			payment = PaymentRecord{
				MethodID:  methodID,
				Status:    "succeeded",
				Amount:    decimal.Zero,
				FreeOrder: true,
			}
			break
		}

		intent, err := o.gateway.CreateIntent(ctx, total, req.Currency)
		if err != nil {
			return nil, errors.Wrap(err, "create payment intent")
		}

		o.setState(StateConfirmingPayment)
		conf, err := o.gateway.ConfirmPayment(ctx, intent.ClientSecret, methodID)
		if err != nil {
			var payErr *PaymentError
			if errors.As(err, &payErr) {
				return nil, payErr
			}
			return nil, errors.Wrap(err, "confirm payment")
		}
		if conf.Status != "succeeded" {
			return nil, &PaymentError{Kind: PaymentDeclined, Message: "payment was not completed"}
		}

		payment = PaymentRecord{
			IntentID: intent.ID,
			MethodID: methodID,
			Status:   "succeeded",
			Amount:   total,
		}
	}

	o.setState(StateSavingOrder)
	record := &OrderRecord{
		ID:         uuid.New().String(),
		CustomerID: req.CustomerID,
		Cart:       req.Cart,
		Coupons:    req.Coupons,
		Payment:    payment,
		Subtotal:   pricing.Subtotal,
		Shipping:   pricing.Shipping,
		Discounts:  pricing.CouponDiscount.Add(pricing.FirstTimeDiscount),
		Total:      total,
		CreatedAt:  time.Now(),
	}

	result := &SubmitResult{
		OrderID:   record.ID,
		Total:     total,
		FreeOrder: payment.FreeOrder,
	}

	if err := o.orders.Save(ctx, record); err != nil {
		paid := payment.Status == "succeeded"
		if !paid {
			// Nothing moved yet (COD): a plain failure, resubmit allowed.
			return nil, errors.Wrap(err, "save order")
		}
		// Payment already happened. This is a degraded success: never
		// reverse the payment, tell the user it went through, and flag the
		// order for operational follow-up.
		lg.Error("Order save failed after successful payment",
			zap.String("order_id", record.ID),
			zap.String("intent_id", payment.IntentID),
			zap.Error(err))
		result.Degraded = true
	}

	o.finalize(ctx, req)
	return result, nil
}

// finalize performs the post-success bookkeeping: first-time discount
// consumption and coupon usage counters. Both are best-effort.
func (o *Orchestrator) finalize(ctx context.Context, req SubmitRequest) {
	lg := zctx.From(ctx)

	if o.ledger != nil && req.FirstTime.Applied && req.CustomerID != "" {
		if err := o.ledger.ConsumeFirstPurchase(ctx, req.CustomerID); err != nil {
			lg.Warn("First-purchase flag not consumed",
				zap.String("customer_id", req.CustomerID), zap.Error(err))
		}
	}
	if o.uses != nil {
		for _, c := range req.Coupons {
			if err := o.uses.RecordUse(ctx, c.Code); err != nil {
				lg.Warn("Coupon use not recorded", zap.String("code", c.Code), zap.Error(err))
			}
		}
	}
}

func couponTotal(coupons []discount.AppliedCoupon) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range coupons {
		sum = sum.Add(c.DiscountAmount)
	}
	return sum
}

// failureKind maps an error to its metric attribute.
func failureKind(err error) string {
	var (
		formErr *FormInvalidError
		cardErr *CardError
		payErr  *PaymentError
	)
	switch {
	case errors.As(err, &formErr):
		return "form_invalid"
	case errors.As(err, &cardErr):
		return "card_" + string(cardErr.Kind)
	case errors.As(err, &payErr):
		return "payment_" + string(payErr.Kind)
	default:
		return "network"
	}
}
