package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
)

const putSnapshotSQL = `INSERT INTO cart_snapshots (cart_id, snapshot)
	VALUES ($1, $2)
	ON CONFLICT (cart_id)
	DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()`

var _ cart.SnapshotSink = (*SnapshotRepository)(nil)

// SnapshotRepository persists cart snapshots for display continuity. Callers
// treat failures as non-fatal; the live cart state never depends on it.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository returns a SnapshotRepository that uses the given pool.
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Persist upserts the latest snapshot for a cart.
func (r *SnapshotRepository) Persist(ctx context.Context, snap cart.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling cart snapshot: %w", err)
	}
	if _, err := r.pool.Exec(ctx, putSnapshotSQL, snap.CartID, raw); err != nil {
		return fmt.Errorf("storing snapshot for cart %q: %w", snap.CartID, err)
	}
	return nil
}
