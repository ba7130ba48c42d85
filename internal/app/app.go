package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/dealdesk/internal/domain/auth"
	"github.com/xenking/dealdesk/internal/domain/currency"
	"github.com/xenking/dealdesk/internal/domain/inventory"
	"github.com/xenking/dealdesk/internal/domain/invoice"
	"github.com/xenking/dealdesk/internal/domain/quotation"
	"github.com/xenking/dealdesk/internal/handler"
	"github.com/xenking/dealdesk/internal/ratesource"
	"github.com/xenking/dealdesk/internal/storage/postgres"
	"github.com/xenking/dealdesk/pkg/health"
	"github.com/xenking/dealdesk/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the expiry sweeper,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	quoteRepo := postgres.NewQuotationRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	customerDir := postgres.NewCustomerDirectory(pool)
	inventoryStore := postgres.NewInventoryStore(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	docSeq := postgres.NewDocSequence(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	rates := currency.NewConverter(currency.ConverterConfig{
		Base:         cfg.BaseCurrency,
		TTL:          cfg.Rates.TTL,
		FetchTimeout: cfg.Rates.FetchTimeout,
	}, ratesource.NewClient(cfg.Rates.ProviderURL, cfg.Rates.FetchTimeout), lg)
	coordinator := inventory.NewCoordinator(inventoryStore, lg)
	factory := invoice.NewFactory(invoiceRepo, docSeq)
	quoteService := quotation.NewService(
		quoteRepo, catalogRepo, customerDir, rates, coordinator, factory,
		auth.ScopeGate{}, lg, cfg.Quotation.Validity,
	)

	// HTTP handlers.
	h := handler.NewHandler(quoteService, invoiceRepo, lg)
	security := handler.NewSecurityMiddleware(apikeyRepo, []byte(cfg.APIKeyPepper))

	// Mux: health endpoints + authenticated API routes on one server.
	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Route("/api", func(r chi.Router) {
		r.Use(security.Authenticate)
		h.Routes(r)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("dealdesk-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Background expiry sweep: quotations whose validity lapsed move to
	// expired without user interaction.
	go runExpirySweeper(ctx, lg, quoteService, cfg.Quotation)

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

// runExpirySweeper periodically expires overdue quotations until ctx is
// cancelled. Sweep errors are logged, not fatal: the next tick retries.
func runExpirySweeper(ctx context.Context, lg *zap.Logger, svc *quotation.Service, cfg QuotationConfig) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := svc.ExpireOverdue(ctx, cfg.SweepBatch)
			if err != nil {
				lg.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				lg.Info("expired overdue quotations", zap.Int("count", expired))
			}
		}
	}
}
