package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitlane-hq/pitlane-backend/api/routes"
	"github.com/pitlane-hq/pitlane-backend/internal/cars"
	"github.com/pitlane-hq/pitlane-backend/internal/checkin"
	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/ledger"
	"github.com/pitlane-hq/pitlane-backend/internal/payments"
	"github.com/pitlane-hq/pitlane-backend/internal/refunds"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	stripewebhook "github.com/pitlane-hq/pitlane-backend/internal/webhooks/stripe"
	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/db"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/metrics"
	"github.com/pitlane-hq/pitlane-backend/pkg/migrate"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox"
	"github.com/pitlane-hq/pitlane-backend/pkg/paymentpoll"
	"github.com/pitlane-hq/pitlane-backend/pkg/redis"
	pkgstripe "github.com/pitlane-hq/pitlane-backend/pkg/stripe"
)

const (
	webhookGuardScope = "stripe-webhook"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(bootCtx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	conn := dbClient.DB()
	regRepo := registrations.NewRepository(conn)
	eventRepo := events.NewRepository(conn)
	carRepo := cars.NewRepository(conn)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	regMetrics := metrics.NewRegistrationMetrics(prometheus.DefaultRegisterer)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return err
	}

	orchestrator, err := refunds.NewOrchestrator(refunds.OrchestratorParams{
		DB:            dbClient,
		Registrations: regRepo,
		Events:        eventRepo,
		Gateway:       stripeClient,
		Ledger:        ledgerSvc,
		Outbox:        outboxSvc,
		Concurrency:   cfg.Payments.RefundBatchConcurrency,
		Metrics:       regMetrics,
		Logger:        logg,
	})
	if err != nil {
		return err
	}

	regSvc, err := registrations.NewService(registrations.ServiceParams{
		DB:         dbClient,
		Repository: regRepo,
		Events:     eventRepo,
		Cars:       carRepo,
		Outbox:     outboxSvc,
		Refunds:    orchestrator,
		Metrics:    regMetrics,
		Logger:     logg,
	})
	if err != nil {
		return err
	}

	paySvc, err := payments.NewService(payments.ServiceParams{
		DB:            dbClient,
		Registrations: regRepo,
		Events:        eventRepo,
		Cars:          carRepo,
		Gateway:       stripeClient,
		Outbox:        outboxSvc,
		Stripe:        cfg.Stripe,
		Metrics:       regMetrics,
		Logger:        logg,
	})
	if err != nil {
		return err
	}

	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		DB:            dbClient,
		Registrations: regRepo,
		Events:        eventRepo,
		Ledger:        ledgerSvc,
		Outbox:        outboxSvc,
		Currency:      cfg.Payments.Currency,
		Metrics:       regMetrics,
		Logger:        logg,
	})
	if err != nil {
		return err
	}

	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Registrations: regRepo,
		Reconciler:    reconciler,
		Metrics:       regMetrics,
		Logger:        logg,
	})
	if err != nil {
		return err
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Stripe.WebhookEventTTL, webhookGuardScope)
	if err != nil {
		return err
	}

	checkinSvc, err := checkin.NewService(checkin.ServiceParams{
		DB:            dbClient,
		Codes:         checkin.NewRepository(conn),
		Registrations: regRepo,
		Events:        eventRepo,
		Outbox:        outboxSvc,
		Logger:        logg,
	})
	if err != nil {
		return err
	}

	handler := routes.NewRouter(routes.Dependencies{
		Config:             cfg,
		Logger:             logg,
		DB:                 dbClient,
		Redis:              redisClient,
		Idempotency:        redisClient,
		RateLimiter:        redisClient,
		Registrations:      regSvc,
		Checkout:           paySvc,
		PaymentStatus:      paySvc,
		CheckIn:            checkinSvc,
		Events:             orchestrator,
		StripeWebhook:      webhookSvc,
		StripeVerifier:     stripeClient.Webhooks(),
		StripeWebhookGuard: webhookGuard,
		PaymentPoll:        paymentpoll.Options{Initial: 500 * time.Millisecond, Factor: 1.5, Max: 3 * time.Second},
		Gatherer:           prometheus.DefaultGatherer,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(bootCtx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"stripe":   stripeClient.Environment(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
