package discount

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/oakmint/storefront-checkout/internal/domain/offer"
)

// Local rejections that never reach the validation backend.
var (
	ErrCouponAlreadyApplied = errors.New("coupon already applied")
	ErrEmptyCart            = errors.New("cannot apply a coupon to an empty cart")
)

// Source records how a coupon entered the applied set.
type Source string

const (
	// SourceSingle is the legacy one-coupon-per-cart mode.
	SourceSingle Source = "single"
	// SourceStacked marks a coupon that participates in multi-coupon stacking.
	SourceStacked Source = "stacked"
)

// AppliedCoupon is a coupon currently attached to the cart. DiscountAmount is
// the amount computed against the subtotal at validation time; it changes
// only through explicit revalidation.
type AppliedCoupon struct {
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	AutoApplied    bool            `json:"isAutoApplied"`
	Source         Source          `json:"source"`
}

// Dropped reports a coupon removed during revalidation and why.
type Dropped struct {
	Code   string
	Reason string
}

// Settings controls coupon auto-apply behaviour.
type Settings struct {
	AutoApply        bool     `json:"autoApply"`
	Strategy         Strategy `json:"autoApplyStrategy"`
	ShowToastOnApply bool     `json:"showToastOnApply"`
}

// SettingsSource provides the store's coupon behaviour settings.
type SettingsSource interface {
	CouponSettings(ctx context.Context) (Settings, error)
}

// Catalog lists active offers for display and auto-apply evaluation.
type Catalog interface {
	ListActive(ctx context.Context) ([]offer.Rule, error)
}

// Validator is the authoritative validation backend.
type Validator interface {
	Validate(ctx context.Context, code string, items []offer.Item) (*offer.Validation, error)
	ValidateMany(ctx context.Context, codes, exclude []string, items []offer.Item) ([]offer.CodeResult, error)
}

// Engine owns the applied-coupon state of one cart and every rule about how
// coupons enter and leave it: explicit apply, auto-apply with suppression,
// and batch revalidation after cart changes.
//
// Concurrency: auto-apply and revalidation are each guarded by an in-flight
// flag. A trigger arriving while one is running is skipped, not queued; the
// scheduler re-triggers afterward if the condition still holds.
type Engine struct {
	catalog   Catalog
	validator Validator
	settings  SettingsSource
	tracer    trace.Tracer

	suppressor Suppressor

	mu      sync.Mutex
	applied []AppliedCoupon

	autoApplyBusy  atomic.Bool
	revalidateBusy atomic.Bool
}

// NewEngine creates an Engine with no coupons applied. tp may be nil, in
// which case the globally registered tracer provider is used.
func NewEngine(catalog Catalog, validator Validator, settings SettingsSource, tp trace.TracerProvider) *Engine {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Engine{
		catalog:   catalog,
		validator: validator,
		settings:  settings,
		tracer:    tp.Tracer("discount"),
	}
}

// SignatureOf derives the suppression signature from cart items.
func SignatureOf(items []offer.Item) Signature {
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	return Signature{ItemCount: count, Subtotal: offer.Subtotal(items)}
}

// Applied returns a copy of the currently applied coupons.
func (e *Engine) Applied() []AppliedCoupon {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AppliedCoupon, len(e.applied))
	copy(out, e.applied)
	return out
}

// TotalDiscount returns the sum of all applied coupons' discount amounts.
func (e *Engine) TotalDiscount() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	sum := decimal.Zero
	for _, c := range e.applied {
		sum = sum.Add(c.DiscountAmount)
	}
	return sum
}

// ClearApplied removes every applied coupon without suppression side effects.
func (e *Engine) ClearApplied() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = nil
}

// AvailableOffers lists active offers applicable to the cart, with display
// amounts estimated at the current subtotal.
func (e *Engine) AvailableOffers(ctx context.Context, items []offer.Item) ([]Quote, error) {
	rules, err := e.catalog.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list offers")
	}

	subtotal := offer.Subtotal(items)
	now := time.Now()

	quotes := make([]Quote, 0, len(rules))
	for i := range rules {
		r := &rules[i]
		if !r.AppliesTo(items) {
			continue
		}
		if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
			continue
		}
		if r.ValidUntil != nil && now.After(*r.ValidUntil) {
			continue
		}
		if r.MinOrderAmount.IsPositive() && subtotal.LessThan(r.MinOrderAmount) {
			continue
		}
		quotes = append(quotes, Quote{
			Code:           r.Code,
			Description:    r.Description,
			Discount:       r.Discount,
			DiscountAmount: r.Discount.AmountAt(subtotal),
			MinOrderAmount: r.MinOrderAmount,
			AllowAutoApply: r.AllowAutoApply,
			Locked:         r.Locked,
			CreatedAt:      r.CreatedAt,
		})
	}
	return quotes, nil
}

// Apply validates a code and attaches it to the cart. Codes already applied
// (case-insensitive) and empty carts are rejected locally, without a
// validation round trip. A stackable coupon joins the stacked set when the
// cart is unconditioned or already stacked; a non-stackable coupon replaces
// whatever is applied and puts the cart in single-coupon mode.
func (e *Engine) Apply(ctx context.Context, code string, items []offer.Item, auto bool) (*AppliedCoupon, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if e.isApplied(code) {
		return nil, ErrCouponAlreadyApplied
	}

	ctx, span := e.tracer.Start(ctx, "discount.Apply")
	defer span.End()

	val, err := e.validator.Validate(ctx, code, items)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The pre-validation duplicate check ran under a separate lock hold; a
	// concurrent Apply of the same code may have landed during the validator
	// round trip. Re-check before inserting.
	for _, c := range e.applied {
		if c.Code == val.Code {
			return nil, ErrCouponAlreadyApplied
		}
	}

	applied := AppliedCoupon{
		Code:           val.Code,
		DiscountAmount: val.Amount,
		AutoApplied:    auto,
	}
	if val.Stackable && e.stackableLocked() {
		applied.Source = SourceStacked
		e.applied = append(e.applied, applied)
	} else {
		// Single-coupon mode: the new coupon is the only one.
		applied.Source = SourceSingle
		e.applied = []AppliedCoupon{applied}
	}
	return &applied, nil
}

// Remove detaches a coupon by code. When the removed coupon was auto-applied,
// the current cart signature is recorded so auto-apply stays quiet until the
// cart changes.
func (e *Engine) Remove(code string, sig Signature) bool {
	code = strings.ToUpper(strings.TrimSpace(code))

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, c := range e.applied {
		if c.Code != code {
			continue
		}
		e.applied = append(e.applied[:i], e.applied[i+1:]...)
		if c.AutoApplied {
			e.suppressor.Suppress(sig)
		}
		return true
	}
	return false
}

// TryRevalidate re-runs validation for every applied coupon in one batched
// call. It returns started=false when another revalidation is in flight (the
// trigger is skipped, not queued). Coupons that fail revalidation are dropped
// and reported; amounts of surviving coupons are refreshed against the new
// subtotal. A transport failure leaves the applied set untouched.
func (e *Engine) TryRevalidate(ctx context.Context, items []offer.Item) (started bool, dropped []Dropped, err error) {
	if !e.revalidateBusy.CompareAndSwap(false, true) {
		return false, nil, nil
	}
	defer e.revalidateBusy.Store(false)

	codes := e.appliedCodes()
	if len(codes) == 0 {
		return true, nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "discount.Revalidate")
	defer span.End()

	results, err := e.validator.ValidateMany(ctx, codes, nil, items)
	if err != nil {
		// Transport failure: previously applied coupons stay untouched rather
		// than being cleared speculatively.
		zctx.From(ctx).Debug("Coupon revalidation transport failure", zap.Error(err))
		return true, nil, err
	}

	byCode := make(map[string]offer.CodeResult, len(results))
	for _, r := range results {
		byCode[r.Code] = r
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.applied[:0]
	for _, c := range e.applied {
		res, ok := byCode[c.Code]
		if !ok {
			kept = append(kept, c)
			continue
		}
		if !res.Valid {
			dropped = append(dropped, Dropped{Code: c.Code, Reason: res.Reason})
			continue
		}
		c.DiscountAmount = res.Amount
		kept = append(kept, c)
	}
	e.applied = kept
	if len(e.applied) == 0 {
		// All coupons failed: the cart returns to an unconditioned state, not
		// an error state.
		e.applied = nil
	}
	return true, dropped, nil
}

// TryAutoApply evaluates auto-apply for the cart. It returns started=false
// when another evaluation is in flight. The evaluation is skipped while a
// manual removal's suppression signature matches the current cart, when
// settings disable auto-apply, or when a coupon is already applied.
func (e *Engine) TryAutoApply(ctx context.Context, items []offer.Item) (started bool, applied *AppliedCoupon, err error) {
	if !e.autoApplyBusy.CompareAndSwap(false, true) {
		return false, nil, nil
	}
	defer e.autoApplyBusy.Store(false)

	if len(items) == 0 || len(e.appliedCodes()) > 0 {
		return true, nil, nil
	}
	if e.suppressor.ShouldSkip(SignatureOf(items)) {
		return true, nil, nil
	}

	cfg, err := e.settings.CouponSettings(ctx)
	if err != nil {
		return true, nil, errors.Wrap(err, "coupon settings")
	}
	if !cfg.AutoApply || cfg.Strategy == StrategyCustomerChoice {
		return true, nil, nil
	}

	ctx, span := e.tracer.Start(ctx, "discount.AutoApply")
	defer span.End()

	quotes, err := e.AvailableOffers(ctx, items)
	if err != nil {
		return true, nil, err
	}
	best := PickBestOffer(quotes, cfg.Strategy)
	if best == nil {
		return true, nil, nil
	}

	applied, err = e.Apply(ctx, best.Code, items, true)
	if err != nil {
		// The display estimate qualified but the authoritative validation
		// disagreed; treat as "nothing to auto-apply".
		if errors.Is(err, ErrCouponAlreadyApplied) {
			return true, nil, nil
		}
		return true, nil, err
	}
	return true, applied, nil
}

func (e *Engine) isApplied(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.applied {
		if c.Code == code {
			return true
		}
	}
	return false
}

func (e *Engine) appliedCodes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	codes := make([]string, len(e.applied))
	for i, c := range e.applied {
		codes[i] = c.Code
	}
	return codes
}

// stackableLocked reports whether the applied set accepts another stacked
// coupon. Must be called with e.mu held.
func (e *Engine) stackableLocked() bool {
	for _, c := range e.applied {
		if c.Source != SourceStacked {
			return false
		}
	}
	return true
}
