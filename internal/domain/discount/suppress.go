package discount

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Signature identifies a cart composition for auto-apply suppression. Two
// carts with the same item count and subtotal are considered unchanged.
type Signature struct {
	ItemCount int
	Subtotal  decimal.Decimal
}

// Equal reports whether two signatures describe the same cart composition.
func (s Signature) Equal(o Signature) bool {
	return s.ItemCount == o.ItemCount && s.Subtotal.Equal(o.Subtotal)
}

// Suppressor remembers that the user explicitly removed an auto-applied
// coupon for a given cart signature. While the signature is unchanged,
// auto-apply is skipped; any change to the cart clears the suppression so
// auto-apply can reconsider.
type Suppressor struct {
	mu     sync.Mutex
	active bool
	sig    Signature
}

// Suppress records a manual removal at the given cart signature.
func (s *Suppressor) Suppress(sig Signature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.sig = sig
}

// ShouldSkip reports whether auto-apply must be skipped for the current cart
// signature. A changed signature deactivates the suppression.
func (s *Suppressor) ShouldSkip(current Signature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return false
	}
	if !s.sig.Equal(current) {
		s.active = false
		return false
	}
	return true
}
