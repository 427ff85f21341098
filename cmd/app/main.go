// File: cmd/app/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"practice-entitlement-engine/internal/config"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/adapter"
	analyticsAdapters "practice-entitlement-engine/internal/infra/adapters/analytics"
	billingAdapters "practice-entitlement-engine/internal/infra/adapters/billing"
	notifyAdapters "practice-entitlement-engine/internal/infra/adapters/notify"
	pg "practice-entitlement-engine/internal/infra/db/postgres"
	"practice-entitlement-engine/internal/infra/logging"
	"practice-entitlement-engine/internal/infra/metrics"
	red "practice-entitlement-engine/internal/infra/redis"
	"practice-entitlement-engine/internal/infra/sched"
	"practice-entitlement-engine/internal/infra/web"
	"practice-entitlement-engine/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	txManager := pg.NewTxManager(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	routineRepo := pg.NewRoutineRepo(pool)
	tenantRepo := pg.NewTenantRepo(pool)
	deadLetterRepo := pg.NewDeadLetterRepo(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect failed")
	}
	defer redisClient.Close()

	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)
	eventDedup := red.NewEventDedup(redisClient)

	// ---- Outbound adapters ----
	catalog := buildCatalog(cfg.Billing.Prices)

	var provider adapter.BillingProvider
	var notifier adapter.NotificationSender
	var analytics adapter.AnalyticsSink
	if cfg.Runtime.Dev {
		provider = billingAdapters.NewNoopGateway()
		notifier = notifyAdapters.NewNoopSender()
		analytics = analyticsAdapters.NewNoopSink()
	} else {
		provider = billingAdapters.NewStripeGateway(cfg.Billing.APIKey, cfg.Billing.BaseURL)
		notifier = notifyAdapters.NewMailgunSender(cfg.Notify)
		analytics = analyticsAdapters.NewPostHogSink(cfg.Analytics, logger)
	}

	// ---- Use cases ----
	entitlementUC := usecase.NewEntitlementUseCase(subRepo, txManager, catalog, logger)
	reconcilerUC := usecase.NewReconcilerUseCase(subRepo, routineRepo, txManager, provider, eventDedup, catalog, logger)
	quotaUC := usecase.NewQuotaUseCase(subRepo, txManager, logger)
	graceUC := usecase.NewGraceUseCase(subRepo, txManager, provider, logger)
	billingUC := usecase.NewBillingUseCase(
		subRepo, txManager, provider, catalog,
		cfg.Billing.SuccessURL, cfg.Billing.CancelURL, cfg.Billing.PortalURL,
		logger,
	)
	terminationUC := usecase.NewTerminationUseCase(
		subRepo, tenantRepo, txManager, provider, notifier, analytics,
		locker, cfg.Scheduler.SweepBatchSize, logger,
	)

	// ---- Metrics ----
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	go poolStatsLoop(ctx, pool)

	// ---- HTTP servers ----
	webhookHandler := web.NewWebhookHandler(
		reconcilerUC, deadLetterRepo, eventDedup, rateLimiter,
		cfg.Billing.WebhookSecret, logger,
	)
	auth := web.NewAuthManager(cfg.HTTP.JWTSecret)
	server := web.NewServer(entitlementUC, billingUC, quotaUC, graceUC, terminationUC, webhookHandler, auth, logger)
	go func() {
		if err := server.Start(cfg.HTTP.Port); err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	adminServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler:           web.NewAdminRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", adminServer.Addr).Msg("admin server listening")
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server error")
		}
	}()

	// ---- Background workers ----
	terminationWorker := sched.NewTerminationWorker(cfg.Scheduler.SweepInterval, terminationUC, logger)
	go func() { _ = terminationWorker.Run(ctx) }()

	refreshWorker := sched.NewPeriodRefreshWorker(cfg.Scheduler.RefreshInterval, subRepo, entitlementUC, provider, logger)
	go func() { _ = refreshWorker.Run(ctx) }()

	inactivityWorker := sched.NewInactivityWorker(
		cfg.Scheduler.InactivityInterval, cfg.Scheduler.InactivityCutoff,
		tenantRepo, subRepo, notifier, logger,
	)
	go func() { _ = inactivityWorker.Run(ctx) }()

	quotaResetWorker := sched.NewQuotaResetWorker(cfg.Scheduler.QuotaResetInterval, subRepo, logger)
	go func() { _ = quotaResetWorker.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin shutdown incomplete")
	}
}

// buildCatalog maps deployment price refs from configuration onto the tier
// table. Unknown tier keys are skipped so a stale config entry cannot crash
// startup.
func buildCatalog(prices map[string]config.PriceRefConfig) *model.PriceCatalog {
	var points []model.PricePoint
	for tierKey, refs := range prices {
		tier := model.Tier(tierKey)
		if !model.ValidPaidTier(tier) {
			continue
		}
		limits := model.Limits(tier, false)
		if refs.Monthly != "" {
			points = append(points, model.PricePoint{
				PriceRef:    refs.Monthly,
				Tier:        tier,
				Interval:    model.IntervalMonth,
				AmountCents: limits.MonthlyPriceCents,
			})
		}
		if refs.Yearly != "" {
			points = append(points, model.PricePoint{
				PriceRef:    refs.Yearly,
				Tier:        tier,
				Interval:    model.IntervalYear,
				AmountCents: limits.YearlyPriceCents,
			})
		}
	}
	return model.NewPriceCatalog(points)
}

func poolStatsLoop(ctx context.Context, pool *pgxpool.Pool) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := pool.Stat()
			metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		}
	}
}
