// Command seed-db prepares a fresh database: runs migrations, inserts a set
// of starter offers, default store settings, and the management API key.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oakmint/storefront-checkout/internal/domain/auth"
	"github.com/oakmint/storefront-checkout/internal/domain/cart"
	"github.com/oakmint/storefront-checkout/internal/domain/discount"
	"github.com/oakmint/storefront-checkout/internal/domain/profile"
	"github.com/oakmint/storefront-checkout/internal/repository"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedOffers(ctx, pool); err != nil {
		return errors.Wrap(err, "seed offers")
	}

	if err := seedSettings(ctx, pool); err != nil {
		return errors.Wrap(err, "seed settings")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

const upsertOfferSQL = `INSERT INTO offers
	(code, discount_type, value, description, min_order, allow_auto, allow_stacking)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (code) DO UPDATE SET
		discount_type = EXCLUDED.discount_type,
		value = EXCLUDED.value,
		description = EXCLUDED.description,
		min_order = EXCLUDED.min_order,
		allow_auto = EXCLUDED.allow_auto,
		allow_stacking = EXCLUDED.allow_stacking`

func seedOffers(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding starter offers")

	offers := []struct {
		code         string
		discountType string
		value        decimal.Decimal
		description  string
		minOrder     decimal.Decimal
		allowAuto    bool
		allowStack   bool
	}{
		{"WELCOME10", "percentage", decimal.NewFromInt(10), "Welcome: 10% off", decimal.Zero, true, false},
		{"HAPPYHOURS", "percentage", decimal.NewFromInt(18), "Happy Hours: 18% off entire order", decimal.Zero, true, false},
		{"FREESHIP5", "fixed", decimal.NewFromInt(5), "$5 off shipping costs", decimal.NewFromInt(25), true, true},
		{"BIGSPENDER", "fixed", decimal.NewFromInt(20), "$20 off orders over $100", decimal.NewFromInt(100), false, false},
	}

	for _, o := range offers {
		if _, err := pool.Exec(ctx, upsertOfferSQL,
			o.code, o.discountType, o.value, o.description, o.minOrder, o.allowAuto, o.allowStack,
		); err != nil {
			return errors.Wrapf(err, "upsert offer %s", o.code)
		}
		slog.Info("upserted offer", slog.String("code", o.code), slog.String("description", o.description))
	}

	return nil
}

func seedSettings(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding default store settings")

	settings := repository.NewSettingsRepository(pool)
	if err := settings.SaveCouponSettings(ctx, discount.Settings{
		AutoApply:        true,
		Strategy:         discount.StrategyBestSavings,
		ShowToastOnApply: true,
	}); err != nil {
		return err
	}
	if err := settings.SaveFirstPurchaseSettings(ctx, profile.Settings{
		Enabled:    true,
		Percentage: decimal.NewFromInt(10),
	}); err != nil {
		return err
	}
	return settings.SaveShippingSettings(ctx, cart.DefaultShippingSettings())
}

const upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, scopes = EXCLUDED.scopes`

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding management API key")

	hasher := auth.NewHasher([]byte(pepper))
	if _, err := pool.Exec(ctx, upsertAPIKeySQL,
		uuid.New(), hasher.Hash(apiKey), "Default management key", []string{"manage"},
	); err != nil {
		return errors.Wrap(err, "upsert management API key")
	}

	slog.Info("upserted API key", slog.String("name", "Default management key"))
	return nil
}
