package discount

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakmint/storefront-checkout/internal/domain/offer"
)

func quote(code string, d offer.Discount, amount string, createdAt time.Time) Quote {
	return Quote{
		Code:           code,
		Discount:       d,
		DiscountAmount: decimal.RequireFromString(amount),
		AllowAutoApply: true,
		CreatedAt:      createdAt,
	}
}

func TestPickBestOffer(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	pct10 := quote("PCT10", offer.Percentage{Value: decimal.NewFromInt(10)}, "10.00", t1)
	pct25 := quote("PCT25", offer.Percentage{Value: decimal.NewFromInt(25)}, "25.00", t2)
	fix30 := quote("FIX30", offer.FixedAmount{Value: decimal.NewFromInt(30)}, "30.00", t0)

	tests := []struct {
		name     string
		quotes   []Quote
		strategy Strategy
		want     string // empty means nil
	}{
		{
			name:     "best savings picks max amount",
			quotes:   []Quote{pct10, pct25, fix30},
			strategy: StrategyBestSavings,
			want:     "FIX30",
		},
		{
			name:     "first created picks oldest",
			quotes:   []Quote{pct10, pct25, fix30},
			strategy: StrategyFirstCreated,
			want:     "FIX30",
		},
		{
			name:     "highest percentage prefers percentage offers",
			quotes:   []Quote{pct10, pct25, fix30},
			strategy: StrategyHighestPercentage,
			want:     "PCT25",
		},
		{
			name:     "highest percentage falls back to best savings",
			quotes:   []Quote{fix30},
			strategy: StrategyHighestPercentage,
			want:     "FIX30",
		},
		{
			name:     "customer choice always yields nil",
			quotes:   []Quote{pct10, pct25, fix30},
			strategy: StrategyCustomerChoice,
			want:     "",
		},
		{
			name:     "no quotes",
			quotes:   nil,
			strategy: StrategyBestSavings,
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickBestOffer(tt.quotes, tt.strategy)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Code)
		})
	}
}

func TestPickBestOffer_ExcludesNonAutoAndLocked(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	noAuto := quote("NOAUTO", offer.FixedAmount{Value: decimal.NewFromInt(50)}, "50.00", t0)
	noAuto.AllowAutoApply = false
	locked := quote("LOCKED", offer.FixedAmount{Value: decimal.NewFromInt(40)}, "40.00", t0)
	locked.Locked = true
	small := quote("SMALL", offer.FixedAmount{Value: decimal.NewFromInt(5)}, "5.00", t0)

	got := PickBestOffer([]Quote{noAuto, locked, small}, StrategyBestSavings)
	require.NotNil(t, got)
	assert.Equal(t, "SMALL", got.Code)

	got = PickBestOffer([]Quote{noAuto, locked}, StrategyBestSavings)
	assert.Nil(t, got)
}

func TestPickBestOffer_EqualSavingsBreaksTowardOlder(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	newer := quote("NEWER", offer.FixedAmount{Value: decimal.NewFromInt(10)}, "10.00", t0.Add(time.Hour))
	older := quote("OLDER", offer.FixedAmount{Value: decimal.NewFromInt(10)}, "10.00", t0)

	got := PickBestOffer([]Quote{newer, older}, StrategyBestSavings)
	require.NotNil(t, got)
	assert.Equal(t, "OLDER", got.Code)
}
