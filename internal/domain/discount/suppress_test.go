package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func sig(count int, subtotal string) Signature {
	return Signature{ItemCount: count, Subtotal: decimal.RequireFromString(subtotal)}
}

func TestSuppressor(t *testing.T) {
	var s Suppressor

	assert.False(t, s.ShouldSkip(sig(3, "100")), "inactive suppressor never skips")

	s.Suppress(sig(3, "100"))
	assert.True(t, s.ShouldSkip(sig(3, "100")), "unchanged cart stays suppressed")
	assert.True(t, s.ShouldSkip(sig(3, "100")), "repeated checks stay suppressed")

	// Subtotal change clears the suppression permanently.
	assert.False(t, s.ShouldSkip(sig(3, "150")))
	assert.False(t, s.ShouldSkip(sig(3, "100")), "suppression does not reactivate")
}

func TestSuppressor_ItemCountChangeClears(t *testing.T) {
	var s Suppressor

	s.Suppress(sig(2, "50"))
	assert.False(t, s.ShouldSkip(sig(3, "50")))
}
