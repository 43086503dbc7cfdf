package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oakmint/storefront-checkout/internal/domain/offer"
)

const (
	offerColumns = `o.code, o.discount_type, o.value, o.description, o.min_order,
		o.product_ids, o.allow_auto, o.allow_stacking, o.locked,
		o.valid_from, o.valid_until, o.max_uses, o.uses, o.created_at`

	// A code resolves either directly to an offer or through a campaign
	// alias. Direct match wins.
	getOfferByCodeSQL = `SELECT ` + offerColumns + `
		FROM offers o WHERE UPPER(o.code) = UPPER($1) AND o.active = TRUE
		UNION ALL
		SELECT ` + offerColumns + `
		FROM campaign_codes c JOIN offers o ON o.code = c.offer_code
		WHERE UPPER(c.code) = UPPER($1) AND o.active = TRUE
		LIMIT 1`

	listActiveOffersSQL = `SELECT ` + offerColumns + `
		FROM offers o WHERE o.active = TRUE ORDER BY o.created_at`

	recordOfferUseSQL = `UPDATE offers SET uses = uses + 1
		WHERE code = $1
		   OR code = (SELECT offer_code FROM campaign_codes WHERE UPPER(code) = UPPER($1))`

	iterateCampaignCodesSQL = `SELECT code FROM campaign_codes
		UNION ALL
		SELECT code FROM offers WHERE active = TRUE`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL. It also
// serves as the code source for building the bloom guard.
type OfferRepository struct {
	pool *pgxpool.Pool
}

// NewOfferRepository returns an OfferRepository that uses the given pool.
func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

// FindByCode resolves a code (direct or campaign alias) to its active offer.
// Returns offer.ErrInvalidCoupon when nothing matches.
func (r *OfferRepository) FindByCode(ctx context.Context, code string) (*offer.Rule, error) {
	rows, err := r.pool.Query(ctx, getOfferByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding offer by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanOfferRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding offer by code %q: %w", code, err)
	}
	return &rule, nil
}

// ListActive returns all active offers ordered by creation time.
func (r *OfferRepository) ListActive(ctx context.Context) ([]offer.Rule, error) {
	rows, err := r.pool.Query(ctx, listActiveOffersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing active offers: %w", err)
	}

	rules, err := pgx.CollectRows(rows, scanOfferRule)
	if err != nil {
		return nil, fmt.Errorf("listing active offers: %w", err)
	}
	return rules, nil
}

// RecordUse atomically increments the usage counter of the offer behind the
// given code, resolving campaign aliases to their parent offer.
func (r *OfferRepository) RecordUse(ctx context.Context, code string) error {
	_, err := r.pool.Exec(ctx, recordOfferUseSQL, code)
	if err != nil {
		return fmt.Errorf("recording use for code %q: %w", code, err)
	}
	return nil
}

// ForEachCode streams every known coupon code (campaign aliases plus direct
// offer codes) to fn. Used to build the bloom guard at startup.
func (r *OfferRepository) ForEachCode(ctx context.Context, fn func(code string) error) error {
	rows, err := r.pool.Query(ctx, iterateCampaignCodesSQL)
	if err != nil {
		return fmt.Errorf("iterating coupon codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return fmt.Errorf("scanning coupon code: %w", err)
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating coupon codes: %w", err)
	}
	return nil
}

func scanOfferRule(row pgx.CollectableRow) (offer.Rule, error) {
	var (
		rule         offer.Rule
		discountType string
		value        decimal.Decimal
		validFrom    *time.Time
		validUntil   *time.Time
		maxUses      int32
		uses         int32
	)
	err := row.Scan(
		&rule.Code, &discountType, &value, &rule.Description, &rule.MinOrderAmount,
		&rule.ProductIDs, &rule.AllowAutoApply, &rule.AllowStacking, &rule.Locked,
		&validFrom, &validUntil, &maxUses, &uses, &rule.CreatedAt,
	)
	if err != nil {
		return rule, err
	}

	switch discountType {
	case "fixed":
		rule.Discount = offer.FixedAmount{Value: value}
	default:
		rule.Discount = offer.Percentage{Value: value}
	}
	rule.ValidFrom = validFrom
	rule.ValidUntil = validUntil
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	return rule, nil
}
