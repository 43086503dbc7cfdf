package cart

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// ShippingTier maps a cumulative item count to a shipping discount fraction.
// Exactly one tier applies to a cart: the one with the highest MinItems not
// exceeding the total quantity.
type ShippingTier struct {
	MinItems int             `json:"minItems"`
	Fraction decimal.Decimal `json:"fraction"`
}

// ShippingSettings is the store's shipping configuration: the quantity tier
// table plus an optional subtotal threshold above which shipping is waived
// entirely.
type ShippingSettings struct {
	// FreeShippingThreshold waives shipping once the cart subtotal reaches
	// it. Nil means no waiver.
	FreeShippingThreshold *decimal.Decimal `json:"freeShippingThreshold,omitempty"`
	Tiers                 []ShippingTier   `json:"shippingDiscountTiers"`
}

// ShippingSettingsSource provides the current shipping configuration. The
// store consults it on every mutation, so configuration changes reach live
// carts without a restart.
type ShippingSettingsSource interface {
	ShippingSettings(ctx context.Context) (ShippingSettings, error)
}

// DefaultShippingSettings returns the standard tier table with no free
// shipping threshold.
func DefaultShippingSettings() ShippingSettings {
	return ShippingSettings{Tiers: DefaultShippingTiers()}
}

// DefaultShippingTiers returns the standard quantity-tier table:
// up to 2 items ship at full price, 3 items at 50% off, 4 at 40% off,
// 5 or more at 33% off.
func DefaultShippingTiers() []ShippingTier {
	return []ShippingTier{
		{MinItems: 0, Fraction: decimal.Zero},
		{MinItems: 3, Fraction: decimal.RequireFromString("0.5")},
		{MinItems: 4, Fraction: decimal.RequireFromString("0.4")},
		{MinItems: 5, Fraction: decimal.RequireFromString("0.33")},
	}
}

// tierFraction selects the discount fraction for the given total quantity.
// Tiers do not blend: crossing a boundary switches to the new fraction for
// the entire shipping amount.
func tierFraction(tiers []ShippingTier, totalQty int) decimal.Decimal {
	sorted := make([]ShippingTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinItems < sorted[j].MinItems })

	fraction := decimal.Zero
	for _, t := range sorted {
		if totalQty >= t.MinItems {
			fraction = t.Fraction
		}
	}
	return fraction
}

// ShippingTotal computes the cart's shipping cost: the sum of per-line
// shipping cost times quantity, reduced by the applicable tier fraction.
// The free shipping threshold is checked first, against the cart subtotal;
// past it the tier table is irrelevant. Rounding happens once on the final
// result to avoid per-line drift.
func ShippingTotal(items []Item, cfg ShippingSettings) decimal.Decimal {
	if len(items) == 0 {
		return decimal.Zero
	}
	if cfg.FreeShippingThreshold != nil && !subtotal(items).LessThan(*cfg.FreeShippingThreshold) {
		return decimal.Zero
	}

	raw := decimal.Zero
	totalQty := 0
	for _, it := range items {
		qty := decimal.NewFromInt(int64(it.Quantity))
		raw = raw.Add(it.ShippingUnitCost.Mul(qty))
		totalQty += it.Quantity
	}

	fraction := tierFraction(cfg.Tiers, totalQty)
	total := raw.Mul(decimal.NewFromInt(1).Sub(fraction))
	return total.Round(2)
}
