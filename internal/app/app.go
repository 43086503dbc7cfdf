// Package app wires the storefront together: database, bloom guard, session
// manager, payment gateway client, HTTP server, health probes, and graceful
// shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/oakmint/storefront-checkout/internal/domain/auth"
	"github.com/oakmint/storefront-checkout/internal/domain/offer"
	"github.com/oakmint/storefront-checkout/internal/handler"
	"github.com/oakmint/storefront-checkout/internal/payment"
	"github.com/oakmint/storefront-checkout/internal/repository"
	"github.com/oakmint/storefront-checkout/internal/session"
	"github.com/oakmint/storefront-checkout/pkg/health"
	"github.com/oakmint/storefront-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories.
	offerRepo := repository.NewOfferRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	profileRepo := repository.NewProfileRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)
	snapshotRepo := repository.NewSnapshotRepository(pool)

	// Negative cache over the full coupon code set. Unknown codes are
	// rejected locally without a database round trip.
	guard, err := offer.LoadCodeGuard(ctx, offerRepo, cfg.Bloom.ExpectedCodes, cfg.Bloom.FalsePositive)
	if err != nil {
		return errors.Wrap(err, "load code guard")
	}

	// Domain services.
	validator := offer.NewValidator(offerRepo, guard)
	gateway := payment.NewClient(cfg.Gateway.URL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)

	sessions := session.NewManager(session.Deps{
		Shipping:       settingsRepo,
		Sink:           snapshotRepo,
		Catalog:        offerRepo,
		Validator:      validator,
		Settings:       settingsRepo,
		Gateway:        gateway,
		Orders:         orderRepo,
		Ledger:         profileRepo,
		Uses:           offerRepo,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
		Debounce:       cfg.Session.Debounce,
		IdleTTL:        cfg.Session.IdleTTL,
	})
	go func() {
		if err := sessions.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("Session sweeper stopped", zap.Error(err))
		}
	}()

	// HTTP handlers.
	h := handler.NewHandler(sessions, settingsRepo, profileRepo, cfg.Currency)
	hasher := auth.NewHasher([]byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", httpmiddleware.Wrap(h.Routes(),
		httpmiddleware.APIKeyAuth(hasher, apikeyRepo),
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "storefront-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-API-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
