// Package profile tracks per-customer purchase state consumed by pricing:
// currently the one-shot first-purchase discount flag. The flag is durably
// owned by the customer profile store; this package only reads eligibility
// and consumes it on successful order completion.
package profile

import (
	"context"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Settings is the store-level first-purchase discount configuration.
type Settings struct {
	Enabled    bool            `json:"enabled"`
	Percentage decimal.Decimal `json:"percentage"`
}

// State is the first-time discount state derived for a cart.
type State struct {
	Eligible   bool            `json:"isEligible"`
	Applied    bool            `json:"isApplied"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Repository reads and consumes the first-purchase flag.
type Repository interface {
	// FirstPurchaseUsed reports whether the customer already consumed the
	// first-purchase discount.
	FirstPurchaseUsed(ctx context.Context, customerID string) (bool, error)
	// ConsumeFirstPurchase marks the discount as used. Called only on
	// successful order completion, never on abandonment.
	ConsumeFirstPurchase(ctx context.Context, customerID string) error
}

// Evaluate derives the first-time discount state from the persisted flag and
// the cart. An abandoned checkout never consumes the flag, so eligibility
// survives until an order actually completes.
func Evaluate(used, cartNonEmpty bool, percentage decimal.Decimal) State {
	eligible := !used && cartNonEmpty && percentage.IsPositive()
	return State{
		Eligible:   eligible,
		Applied:    eligible,
		Percentage: percentage,
	}
}

// DiscountAmount returns the first-time discount at the given subtotal, or
// zero when the state is not applied.
func (s State) DiscountAmount(subtotal decimal.Decimal) decimal.Decimal {
	if !s.Applied {
		return decimal.Zero
	}
	amount := subtotal.Mul(s.Percentage).Div(hundred)
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}
