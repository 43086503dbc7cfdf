// Package session binds a cart, its discount engine, and its checkout
// orchestrator into one unit of per-customer state, and owns the debounced
// reaction to cart changes: revalidate applied coupons first, then attempt
// auto-apply.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/checkout"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/domain/offer"
)

const (
	// minDebounce is the floor for the quiet period after a cart mutation
	// before coupons are re-checked. Rapid +/- quantity clicks coalesce into
	// one validation round trip.
	minDebounce = 500 * time.Millisecond

	defaultIdleTTL = 30 * time.Minute
)

// Deps carries everything a new session needs.
type Deps struct {
	Shipping  cart.ShippingSettingsSource
	Sink      cart.SnapshotSink
	Catalog   discount.Catalog
	Validator discount.Validator
	Settings  discount.SettingsSource
	Gateway   checkout.Gateway
	Orders    checkout.OrderStore
	Ledger    checkout.FirstPurchaseLedger
	Uses      checkout.UsageRecorder

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// Debounce below minDebounce is raised to it.
	Debounce time.Duration
	// IdleTTL is how long an untouched session survives the sweep.
	IdleTTL time.Duration
}

// Session is the live state for one cart.
type Session struct {
	id        string
	Cart      *cart.Store
	Discounts *discount.Engine
	Checkout  *checkout.Orchestrator

	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	lastSeen time.Time
}

// ID returns the session (cart) identifier.
func (s *Session) ID() string { return s.id }

// Items returns the cart contents as pricing items.
func (s *Session) Items() []offer.Item {
	snap := s.Cart.Snapshot()
	items := make([]offer.Item, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, offer.Item{
			ProductID: it.ProductID,
			Price:     it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	return items
}

// CartChanged schedules a coupon refresh after the debounce window. Another
// change inside the window restarts it, so a burst of mutations costs one
// refresh.
func (s *Session) CartChanged(ctx context.Context) {
	lg := zctx.From(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		// The triggering request is long gone; refresh runs on its own
		// deadline with the request's logger carried over.
		refreshCtx, cancel := context.WithTimeout(zctx.Base(context.Background(), lg), 10*time.Second)
		defer cancel()
		s.refresh(refreshCtx)
	})
}

// Viewed gives auto-apply a chance when the cart is read, not just when it
// changes: an eligible coupon published since the last mutation should show
// up on the next load. The attempt runs off the request path; the engine's
// busy guard makes overlapping views a no-op.
func (s *Session) Viewed(ctx context.Context) {
	s.touch()

	items := s.Items()
	if len(items) == 0 || len(s.Discounts.Applied()) > 0 {
		return
	}

	lg := zctx.From(ctx)
	go func() {
		applyCtx, cancel := context.WithTimeout(zctx.Base(context.Background(), lg), 10*time.Second)
		defer cancel()
		if _, applied, err := s.Discounts.TryAutoApply(applyCtx, items); err != nil {
			lg.Warn("Auto-apply failed", zap.Error(err))
		} else if applied != nil {
			lg.Info("Coupon auto-applied", zap.String("code", applied.Code))
		}
	}()
}

// refresh revalidates applied coupons against the current cart, then gives
// auto-apply a chance. Order matters: auto-apply must see the post-drop set.
func (s *Session) refresh(ctx context.Context) {
	lg := zctx.From(ctx)
	items := s.Items()

	started, dropped, err := s.Discounts.TryRevalidate(ctx, items)
	if err != nil {
		lg.Warn("Coupon revalidation failed", zap.Error(err))
	}
	if started {
		for _, d := range dropped {
			lg.Info("Coupon dropped on revalidation",
				zap.String("code", d.Code), zap.String("reason", d.Reason))
		}
	}

	if _, applied, err := s.Discounts.TryAutoApply(ctx, items); err != nil {
		lg.Warn("Auto-apply failed", zap.Error(err))
	} else if applied != nil {
		lg.Info("Coupon auto-applied", zap.String("code", applied.Code))
	}
}

// touch marks the session as recently used.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen.Before(cutoff)
}

func (s *Session) stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

// Manager creates sessions on demand and evicts idle ones.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager. Debounce and IdleTTL are defaulted when
// unset.
func NewManager(deps Deps) *Manager {
	if deps.Debounce < minDebounce {
		deps.Debounce = minDebounce
	}
	if deps.IdleTTL <= 0 {
		deps.IdleTTL = defaultIdleTTL
	}
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for the given cart id, creating it on first use.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.touch()
		return s
	}

	d := m.deps
	s := &Session{
		id:        id,
		Cart:      cart.NewStore(id, d.Shipping, d.Sink),
		Discounts: discount.NewEngine(d.Catalog, d.Validator, d.Settings, d.TracerProvider),
		Checkout:  checkout.NewOrchestrator(d.Gateway, d.Orders, d.Ledger, d.Uses, d.MeterProvider),
		debounce:  d.Debounce,
		lastSeen:  time.Now(),
	}
	m.sessions[id] = s
	return s
}

// Peek returns an existing session without creating one.
func (m *Manager) Peek(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.touch()
	}
	return s, ok
}

// Drop removes a session, stopping its pending refresh.
func (m *Manager) Drop(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run sweeps idle sessions until ctx is cancelled. Intended to run as a
// background goroutine alongside the HTTP server.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.deps.IdleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			return ctx.Err()
		case <-ticker.C:
			if n := m.sweep(time.Now().Add(-m.deps.IdleTTL)); n > 0 {
				zctx.From(ctx).Debug("Idle sessions evicted", zap.Int("count", n))
			}
		}
	}
}

func (m *Manager) sweep(cutoff time.Time) int {
	m.mu.Lock()
	var evicted []*Session
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			evicted = append(evicted, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.stop()
	}
	return len(evicted)
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}
