package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/domain/profile"
)

const (
	getSettingSQL = `SELECT value FROM store_settings WHERE name = $1`

	putSettingSQL = `INSERT INTO store_settings (name, value)
		VALUES ($1, $2)
		ON CONFLICT (name)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	couponSettingsName        = "coupons"
	firstPurchaseSettingsName = "first_purchase"
	shippingSettingsName      = "shipping"
)

// ErrSettingNotFound is returned when a named setting has never been stored.
var ErrSettingNotFound = errors.New("setting not found")

var (
	_ discount.SettingsSource     = (*SettingsRepository)(nil)
	_ cart.ShippingSettingsSource = (*SettingsRepository)(nil)
)

// SettingsRepository stores named JSON settings documents and serves the
// coupon behaviour settings to the discount engine.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// CouponSettings returns the store's coupon behaviour settings. A store that
// never configured them gets the defaults: auto-apply on, best savings.
func (r *SettingsRepository) CouponSettings(ctx context.Context) (discount.Settings, error) {
	settings := discount.Settings{
		AutoApply:        true,
		Strategy:         discount.StrategyBestSavings,
		ShowToastOnApply: true,
	}
	err := r.Get(ctx, couponSettingsName, &settings)
	if err != nil && !errors.Is(err, ErrSettingNotFound) {
		return discount.Settings{}, err
	}
	return settings, nil
}

// SaveCouponSettings stores the coupon behaviour settings.
func (r *SettingsRepository) SaveCouponSettings(ctx context.Context, settings discount.Settings) error {
	return r.Put(ctx, couponSettingsName, settings)
}

// ShippingSettings returns the shipping configuration: the quantity tier
// table and the optional free-shipping threshold. A store that never
// configured shipping gets the default tiers with no threshold.
func (r *SettingsRepository) ShippingSettings(ctx context.Context) (cart.ShippingSettings, error) {
	settings := cart.DefaultShippingSettings()
	err := r.Get(ctx, shippingSettingsName, &settings)
	if err != nil && !errors.Is(err, ErrSettingNotFound) {
		return cart.ShippingSettings{}, err
	}
	return settings, nil
}

// SaveShippingSettings stores the shipping configuration.
func (r *SettingsRepository) SaveShippingSettings(ctx context.Context, settings cart.ShippingSettings) error {
	return r.Put(ctx, shippingSettingsName, settings)
}

// FirstPurchaseSettings returns the first-purchase discount configuration.
// Disabled when never configured.
func (r *SettingsRepository) FirstPurchaseSettings(ctx context.Context) (profile.Settings, error) {
	var settings profile.Settings
	err := r.Get(ctx, firstPurchaseSettingsName, &settings)
	if err != nil && !errors.Is(err, ErrSettingNotFound) {
		return profile.Settings{}, err
	}
	return settings, nil
}

// SaveFirstPurchaseSettings stores the first-purchase discount configuration.
func (r *SettingsRepository) SaveFirstPurchaseSettings(ctx context.Context, settings profile.Settings) error {
	return r.Put(ctx, firstPurchaseSettingsName, settings)
}

// Get loads the named setting into out. Returns ErrSettingNotFound when the
// setting was never stored.
func (r *SettingsRepository) Get(ctx context.Context, name string, out any) error {
	var raw []byte
	err := r.pool.QueryRow(ctx, getSettingSQL, name).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSettingNotFound
		}
		return fmt.Errorf("reading setting %q: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding setting %q: %w", name, err)
	}
	return nil
}

// Put stores the named setting as a JSON document.
func (r *SettingsRepository) Put(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding setting %q: %w", name, err)
	}
	if _, err := r.pool.Exec(ctx, putSettingSQL, name, raw); err != nil {
		return fmt.Errorf("storing setting %q: %w", name, err)
	}
	return nil
}
