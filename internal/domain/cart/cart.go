package cart

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sentinel errors for cart mutations.
var (
	ErrItemNotFound    = fmt.Errorf("cart item not found")
	ErrInvalidQuantity = fmt.Errorf("quantity must be greater than 0")
)

// QuantityExceededError indicates an increment would push a line item past
// its per-product stock ceiling. The increment is rejected, not truncated.
type QuantityExceededError struct {
	ProductID string
	Remaining int
	InCart    int
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("only %d more unit(s) of product %s available (%d already in cart)",
		e.Remaining, e.ProductID, e.InCart)
}

// Item is a single cart line. Two items with the same product but different
// option, configuration, or notes signatures are distinct lines and are
// never merged.
type Item struct {
	ProductID         string          `json:"productId"`
	Title             string          `json:"title"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	Quantity          int             `json:"quantity"`
	ShippingUnitCost  decimal.Decimal `json:"shippingUnitCost"`
	SelectedOptionKey string          `json:"selectedOptionKey,omitempty"`
	ConfigSignature   string          `json:"configSignature,omitempty"`
	NotesSignature    string          `json:"notesSignature,omitempty"`

	// StockCeiling caps the quantity for this line. Zero means unlimited.
	StockCeiling int `json:"stockCeiling,omitempty"`
}

// ItemKey is the merge identity of a cart line.
type ItemKey struct {
	ProductID         string
	SelectedOptionKey string
	ConfigSignature   string
	NotesSignature    string
}

// Key returns the merge identity of the item.
func (i Item) Key() ItemKey {
	return ItemKey{
		ProductID:         i.ProductID,
		SelectedOptionKey: i.SelectedOptionKey,
		ConfigSignature:   i.ConfigSignature,
		NotesSignature:    i.NotesSignature,
	}
}

// Result reports the outcome of a cart mutation.
type Result struct {
	// Quantity is the resulting quantity of the affected line, zero if the
	// line was removed.
	Quantity int
	// Changed reports whether discount-relevant state changed, i.e. whether
	// applied coupons should be revalidated.
	Changed bool
}

// Snapshot is an immutable copy of the cart used for pricing, persistence,
// and checkout.
type Snapshot struct {
	CartID        string          `json:"cartId"`
	Items         []Item          `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	ShippingTotal decimal.Decimal `json:"shippingTotal"`
	TotalQuantity int             `json:"totalQuantity"`
}

// SnapshotSink persists cart snapshots for display continuity. Persistence is
// best-effort: a sink failure never fails the mutation that triggered it.
type SnapshotSink interface {
	Persist(ctx context.Context, snap Snapshot) error
}

// Store holds the authoritative in-memory state of one cart. All mutations
// recompute the shipping total and persist a snapshot through the sink.
type Store struct {
	id       string
	shipping ShippingSettingsSource
	sink     SnapshotSink

	mu            sync.Mutex
	items         []Item
	shippingTotal decimal.Decimal
}

// NewStore creates an empty cart. A nil shipping source falls back to the
// default tier table; sink may be nil.
func NewStore(id string, shipping ShippingSettingsSource, sink SnapshotSink) *Store {
	return &Store{
		id:            id,
		shipping:      shipping,
		sink:          sink,
		shippingTotal: decimal.Zero,
	}
}

// ID returns the cart identifier.
func (s *Store) ID() string { return s.id }

// AddItem appends a new line or, when a line with the same identity exists,
// increments its quantity. The increment is bounded by the line's stock
// ceiling: exceeding it returns QuantityExceededError and leaves the cart
// untouched.
func (s *Store) AddItem(ctx context.Context, item Item, qty int) (Result, error) {
	if qty <= 0 {
		return Result{}, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := item.Key()
	for i := range s.items {
		if s.items[i].Key() != key {
			continue
		}
		current := s.items[i].Quantity
		ceiling := s.items[i].StockCeiling
		if ceiling > 0 && current+qty > ceiling {
			return Result{Quantity: current}, &QuantityExceededError{
				ProductID: item.ProductID,
				Remaining: ceiling - current,
				InCart:    current,
			}
		}
		s.items[i].Quantity = current + qty
		s.afterMutation(ctx)
		return Result{Quantity: s.items[i].Quantity, Changed: true}, nil
	}

	if item.StockCeiling > 0 && qty > item.StockCeiling {
		return Result{}, &QuantityExceededError{
			ProductID: item.ProductID,
			Remaining: item.StockCeiling,
			InCart:    0,
		}
	}
	item.Quantity = qty
	s.items = append(s.items, item)
	s.afterMutation(ctx)
	return Result{Quantity: qty, Changed: true}, nil
}

// IncrementItem increases an existing line's quantity by one, subject to the
// line's stock ceiling. Unlike AddItem it never creates a new line.
func (s *Store) IncrementItem(ctx context.Context, key ItemKey) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Key() != key {
			continue
		}
		current := s.items[i].Quantity
		ceiling := s.items[i].StockCeiling
		if ceiling > 0 && current+1 > ceiling {
			return Result{Quantity: current}, &QuantityExceededError{
				ProductID: key.ProductID,
				Remaining: ceiling - current,
				InCart:    current,
			}
		}
		s.items[i].Quantity = current + 1
		s.afterMutation(ctx)
		return Result{Quantity: s.items[i].Quantity, Changed: true}, nil
	}
	return Result{}, ErrItemNotFound
}

// DecrementItem reduces a line's quantity by one. Quantity never drops below
// one this way: decrementing a single unit is a no-op. Removal is the only
// path to zero units.
func (s *Store) DecrementItem(ctx context.Context, key ItemKey) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Key() != key {
			continue
		}
		if s.items[i].Quantity <= 1 {
			return Result{Quantity: s.items[i].Quantity}, nil
		}
		s.items[i].Quantity--
		s.afterMutation(ctx)
		return Result{Quantity: s.items[i].Quantity, Changed: true}, nil
	}
	return Result{}, ErrItemNotFound
}

// RemoveItem deletes the line with the given identity.
func (s *Store) RemoveItem(ctx context.Context, key ItemKey) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Key() != key {
			continue
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		s.afterMutation(ctx)
		return Result{Changed: true}, nil
	}
	return Result{}, ErrItemNotFound
}

// Clear removes every line from the cart.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return
	}
	s.items = nil
	s.afterMutation(ctx)
}

// IsEmpty reports whether the cart has no lines.
func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

// Subtotal returns the sum of unit price times quantity across all lines.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return subtotal(s.items)
}

// ShippingTotal returns the tier-discounted shipping cost computed at the
// last mutation.
func (s *Store) ShippingTotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shippingTotal
}

// TotalQuantity returns the cumulative item count across all lines.
func (s *Store) TotalQuantity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalQuantity(s.items)
}

// Snapshot returns an immutable copy of the current cart state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	items := make([]Item, len(s.items))
	copy(items, s.items)
	return Snapshot{
		CartID:        s.id,
		Items:         items,
		Subtotal:      subtotal(s.items),
		ShippingTotal: s.shippingTotal,
		TotalQuantity: totalQuantity(s.items),
	}
}

// afterMutation recomputes shipping and persists a snapshot. Must be called
// with s.mu held.
func (s *Store) afterMutation(ctx context.Context) {
	s.shippingTotal = ShippingTotal(s.items, s.shippingSettings(ctx))

	if s.sink == nil {
		return
	}
	snap := s.snapshotLocked()
	if err := s.sink.Persist(ctx, snap); err != nil {
		zctx.From(ctx).Warn("Cart snapshot persist failed",
			zap.String("cart_id", s.id), zap.Error(err))
	}
}

// shippingSettings fetches the current shipping configuration. An
// unreachable source degrades to the defaults rather than freezing the
// shipping total; the cheapest-wrong answer is the standard tier table.
func (s *Store) shippingSettings(ctx context.Context) ShippingSettings {
	if s.shipping == nil {
		return DefaultShippingSettings()
	}
	cfg, err := s.shipping.ShippingSettings(ctx)
	if err != nil {
		zctx.From(ctx).Warn("Shipping settings unavailable, using defaults",
			zap.String("cart_id", s.id), zap.Error(err))
		return DefaultShippingSettings()
	}
	return cfg
}

func subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

func totalQuantity(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.Quantity
	}
	return total
}
