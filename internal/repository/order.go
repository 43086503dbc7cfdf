package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmint/storefront-checkout/internal/domain/checkout"
)

const createOrderSQL = `INSERT INTO orders
	(id, customer_id, cart, coupons, payment, subtotal, shipping, discounts, total, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

var _ checkout.OrderStore = (*OrderRepository)(nil)

// OrderRepository implements checkout.OrderStore backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Save persists a finalized order. Cart contents, applied coupons, and the
// payment record are serialized to JSON for the JSONB columns.
func (r *OrderRepository) Save(ctx context.Context, o *checkout.OrderRecord) error {
	cartJSON, err := json.Marshal(o.Cart)
	if err != nil {
		return fmt.Errorf("marshaling order cart: %w", err)
	}
	couponsJSON, err := json.Marshal(o.Coupons)
	if err != nil {
		return fmt.Errorf("marshaling order coupons: %w", err)
	}
	paymentJSON, err := json.Marshal(o.Payment)
	if err != nil {
		return fmt.Errorf("marshaling order payment: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, cartJSON, couponsJSON, paymentJSON,
		o.Subtotal, o.Shipping, o.Discounts, o.Total, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}
