package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmint/storefront-checkout/internal/domain/profile"
)

const (
	getFirstPurchaseUsedSQL = `SELECT first_purchase_used FROM customer_profiles
		WHERE customer_id = $1`

	consumeFirstPurchaseSQL = `INSERT INTO customer_profiles (customer_id, first_purchase_used)
		VALUES ($1, TRUE)
		ON CONFLICT (customer_id)
		DO UPDATE SET first_purchase_used = TRUE, updated_at = now()`
)

var _ profile.Repository = (*ProfileRepository)(nil)

// ProfileRepository implements profile.Repository backed by PostgreSQL.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// FirstPurchaseUsed reports whether the customer already consumed the
// first-purchase discount. An unknown customer has not.
func (r *ProfileRepository) FirstPurchaseUsed(ctx context.Context, customerID string) (bool, error) {
	var used bool
	err := r.pool.QueryRow(ctx, getFirstPurchaseUsedSQL, customerID).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reading profile for %q: %w", customerID, err)
	}
	return used, nil
}

// ConsumeFirstPurchase marks the first-purchase discount as used, creating
// the profile row if needed. Idempotent.
func (r *ProfileRepository) ConsumeFirstPurchase(ctx context.Context, customerID string) error {
	_, err := r.pool.Exec(ctx, consumeFirstPurchaseSQL, customerID)
	if err != nil {
		return fmt.Errorf("consuming first purchase for %q: %w", customerID, err)
	}
	return nil
}
