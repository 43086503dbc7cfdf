package offer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Validation is the authoritative result of validating one code against a cart.
type Validation struct {
	Code        string
	Amount      decimal.Decimal
	Description string
	AutoApply   bool
	Stackable   bool
}

// CodeResult is the per-code outcome of a batch validation.
type CodeResult struct {
	Code   string
	Valid  bool
	Amount decimal.Decimal
	// Reason carries the rejection cause when Valid is false.
	Reason string
}

// Validator is the authoritative coupon validation surface. Display-time
// estimates elsewhere are advisory; amounts that reach an order always come
// from here.
type Validator struct {
	repo  Repository
	guard *CodeGuard // optional; nil disables the bloom short-circuit
	now   func() time.Time
}

// NewValidator creates a Validator backed by the given repository.
// guard may be nil.
func NewValidator(repo Repository, guard *CodeGuard) *Validator {
	return &Validator{repo: repo, guard: guard, now: time.Now}
}

// Validate checks a single code against the cart and returns the computed
// discount at the current subtotal.
func (v *Validator) Validate(ctx context.Context, code string, items []Item) (*Validation, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	// Campaign code sets run to the hundreds of millions; the bloom guard
	// rejects definitely-unknown codes without a round trip.
	if v.guard != nil && !v.guard.MightContain(code) {
		return nil, ErrInvalidCoupon
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup offer")
	}

	if err := v.checkEligibility(rule, items); err != nil {
		return nil, err
	}

	subtotal := Subtotal(items)
	return &Validation{
		Code:        code,
		Amount:      rule.Discount.AmountAt(subtotal),
		Description: rule.Description,
		AutoApply:   rule.AllowAutoApply,
		Stackable:   rule.AllowStacking,
	}, nil
}

// ValidateMany validates a batch of codes in one call, skipping any code in
// the exclusion list. It returns one result per non-excluded code; transport
// errors abort the whole batch so callers can distinguish "code rejected"
// from "backend unreachable".
func (v *Validator) ValidateMany(ctx context.Context, codes, exclude []string, items []Item) ([]CodeResult, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, c := range exclude {
		excluded[strings.ToUpper(c)] = struct{}{}
	}

	var kept []string
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if _, skip := excluded[c]; skip || c == "" {
			continue
		}
		kept = append(kept, c)
	}

	results := make([]CodeResult, len(kept))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, code := range kept {
		g.Go(func() error {
			val, err := v.Validate(gctx, code, items)

			res := CodeResult{Code: code}
			switch {
			case err == nil:
				res.Valid = true
				res.Amount = val.Amount
			case isRejection(err):
				res.Reason = err.Error()
			default:
				return err
			}

			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (v *Validator) checkEligibility(rule *Rule, items []Item) error {
	now := v.now()

	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return ErrCouponExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return ErrCouponExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return ErrCouponUsageLimitReached
	}
	if !rule.AppliesTo(items) {
		return ErrNotApplicable
	}
	if rule.MinOrderAmount.IsPositive() && Subtotal(items).LessThan(rule.MinOrderAmount) {
		return ErrMinOrderNotMet
	}
	return nil
}

// isRejection reports whether err is a business rejection of the code rather
// than a transport or storage failure.
func isRejection(err error) bool {
	return errors.Is(err, ErrInvalidCoupon) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponUsageLimitReached) ||
		errors.Is(err, ErrMinOrderNotMet) ||
		errors.Is(err, ErrNotApplicable)
}
