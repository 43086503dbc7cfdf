package offer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCoupon is returned when a code is unknown or the cart does not
	// satisfy the offer's eligibility constraints.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when an offer is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when an offer has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinOrderNotMet is returned when the cart subtotal is below the offer's minimum.
	ErrMinOrderNotMet = errors.New("order subtotal below coupon minimum")
	// ErrNotApplicable is returned when a product-scoped offer matches nothing in the cart.
	ErrNotApplicable = errors.New("coupon does not apply to any item in the cart")
)

var hundred = decimal.NewFromInt(100)

// Discount is the sealed tagged union of supported discount shapes.
// Implementations are Percentage and FixedAmount.
type Discount interface {
	// AmountAt computes the discount value at the given subtotal. The result
	// is never negative and never exceeds the subtotal.
	AmountAt(subtotal decimal.Decimal) decimal.Decimal

	sealedDiscount()
}

// Percentage discounts scale with the subtotal.
type Percentage struct {
	Value decimal.Decimal // e.g. 20 for 20% off
}

func (p Percentage) AmountAt(subtotal decimal.Decimal) decimal.Decimal {
	return clampAmount(subtotal.Mul(p.Value).Div(hundred), subtotal)
}

func (Percentage) sealedDiscount() {}

// FixedAmount discounts are a flat value, capped at the subtotal so a
// discount can never exceed the order value.
type FixedAmount struct {
	Value decimal.Decimal
}

func (f FixedAmount) AmountAt(subtotal decimal.Decimal) decimal.Decimal {
	return clampAmount(f.Value, subtotal)
}

func (FixedAmount) sealedDiscount() {}

// clampAmount floors at zero, caps at the subtotal, and rounds the final
// result to 2 decimal places.
func clampAmount(amount, subtotal decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount.Round(2)
}

// Rule defines an offer's discount behaviour and eligibility constraints.
// Codes are stored upper-cased.
type Rule struct {
	Code           string
	Discount       Discount
	Description    string
	MinOrderAmount decimal.Decimal
	// ProductIDs scopes the offer to specific products. Empty means storewide.
	ProductIDs     []string
	AllowAutoApply bool
	AllowStacking  bool
	Locked         bool
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	MaxUses        int
	Uses           int
	CreatedAt      time.Time
}

// AppliesTo reports whether the rule's product scope intersects the cart.
func (r *Rule) AppliesTo(items []Item) bool {
	if len(r.ProductIDs) == 0 {
		return true
	}
	scoped := make(map[string]struct{}, len(r.ProductIDs))
	for _, id := range r.ProductIDs {
		scoped[id] = struct{}{}
	}
	for _, it := range items {
		if _, ok := scoped[it.ProductID]; ok {
			return true
		}
	}
	return false
}

// Item is a cart line for discount calculation purposes.
type Item struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// Subtotal returns the sum of price * quantity across all items.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// Repository provides lookup and mutation of offer rules.
type Repository interface {
	// FindByCode resolves a code (direct offer code or campaign alias) to its
	// rule. Lookup is case-insensitive. Returns ErrInvalidCoupon when no
	// active offer matches.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// ListActive returns all currently active offers.
	ListActive(ctx context.Context) ([]Rule, error)
	// RecordUse increments the usage counter for a code's offer.
	RecordUse(ctx context.Context, code string) error
}
