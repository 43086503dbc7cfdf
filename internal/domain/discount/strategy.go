package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/oakmint/storefront-checkout/internal/domain/offer"
)

// Strategy selects which applicable offer to auto-apply.
type Strategy string

const (
	// StrategyBestSavings picks the offer with the largest discount amount.
	StrategyBestSavings Strategy = "best_savings"
	// StrategyFirstCreated picks the oldest offer by creation time.
	StrategyFirstCreated Strategy = "first_created"
	// StrategyHighestPercentage prefers the percentage offer with the highest
	// value; when no percentage offers are applicable it falls back to
	// best savings among the rest.
	StrategyHighestPercentage Strategy = "highest_percentage"
	// StrategyCustomerChoice disables auto-apply entirely; the customer must
	// pick a coupon explicitly.
	StrategyCustomerChoice Strategy = "customer_choice"
)

// Quote is a display-time estimate of an offer at a specific subtotal.
// Amounts here are advisory; authoritative amounts come from validation.
type Quote struct {
	Code           string          `json:"code"`
	Description    string          `json:"description"`
	Discount       offer.Discount  `json:"-"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	MinOrderAmount decimal.Decimal `json:"minOrderAmount"`
	AllowAutoApply bool            `json:"allowAutoApply"`
	Locked         bool            `json:"-"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// PickBestOffer applies the strategy to the quotes and returns the winner, or
// nil when nothing qualifies. Offers marked non-auto-applicable or locked are
// excluded from every strategy; they remain available for explicit selection.
func PickBestOffer(quotes []Quote, strategy Strategy) *Quote {
	if strategy == StrategyCustomerChoice {
		return nil
	}

	eligible := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		if !q.AllowAutoApply || q.Locked {
			continue
		}
		eligible = append(eligible, q)
	}
	if len(eligible) == 0 {
		return nil
	}

	switch strategy {
	case StrategyFirstCreated:
		return pickOldest(eligible)
	case StrategyHighestPercentage:
		if best := pickHighestPercentage(eligible); best != nil {
			return best
		}
		return pickBestSavings(eligible)
	default:
		return pickBestSavings(eligible)
	}
}

// pickBestSavings returns the quote with the largest discount amount.
// Equal savings break toward the older offer for determinism.
func pickBestSavings(quotes []Quote) *Quote {
	best := &quotes[0]
	for i := 1; i < len(quotes); i++ {
		q := &quotes[i]
		switch {
		case q.DiscountAmount.GreaterThan(best.DiscountAmount):
			best = q
		case q.DiscountAmount.Equal(best.DiscountAmount) && q.CreatedAt.Before(best.CreatedAt):
			best = q
		}
	}
	return best
}

func pickOldest(quotes []Quote) *Quote {
	best := &quotes[0]
	for i := 1; i < len(quotes); i++ {
		if quotes[i].CreatedAt.Before(best.CreatedAt) {
			best = &quotes[i]
		}
	}
	return best
}

// pickHighestPercentage returns the percentage-type quote with the highest
// percentage value, or nil when no quote is percentage-typed.
func pickHighestPercentage(quotes []Quote) *Quote {
	var best *Quote
	var bestValue decimal.Decimal
	for i := range quotes {
		pct, ok := quotes[i].Discount.(offer.Percentage)
		if !ok {
			continue
		}
		if best == nil || pct.Value.GreaterThan(bestValue) {
			best = &quotes[i]
			bestValue = pct.Value
		}
	}
	return best
}
