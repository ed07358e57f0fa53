package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitlane-hq/pitlane-backend/internal/checkin"
	"github.com/pitlane-hq/pitlane-backend/internal/cron"
	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/ledger"
	"github.com/pitlane-hq/pitlane-backend/internal/payments"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/db"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/metrics"
	"github.com/pitlane-hq/pitlane-backend/pkg/migrate"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox"
	"github.com/pitlane-hq/pitlane-backend/pkg/redis"
	pkgstripe "github.com/pitlane-hq/pitlane-backend/pkg/stripe"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cron.LockKey), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"jobs":     registry.Names(),
		"interval": cfg.Cron.Interval.String(),
	})

	if *once {
		logg.Info(ctx, "running single cron cycle")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, gateway payments.Gateway) (*cron.Registry, error) {
	conn := dbClient.DB()
	regRepo := registrations.NewRepository(conn)
	eventRepo := events.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)
	regMetrics := metrics.NewRegistrationMetrics(prometheus.DefaultRegisterer)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
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
		return nil, err
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
		return nil, err
	}

	sweep, err := cron.NewPaymentSessionSweepJob(cron.PaymentSessionSweepJobParams{
		Logger:        logg,
		Registrations: regRepo,
		Events:        eventRepo,
		Gateway:       gateway,
		Reconciler:    reconciler,
		StaleAfter:    cfg.Stripe.SessionTTL + cfg.Cron.StaleSessionGrace,
	})
	if err != nil {
		return nil, err
	}
	codes, err := cron.NewRegistrationCodeCleanupJob(cron.RegistrationCodeCleanupJobParams{
		Logger:    logg,
		Codes:     checkinSvc,
		Retention: cfg.Cron.CodeRetention,
	})
	if err != nil {
		return nil, err
	}
	stalls, err := cron.NewRefundStallReportJob(cron.RefundStallReportJobParams{
		Logger:        logg,
		Registrations: regRepo,
		Metrics:       regMetrics,
		StallAfter:    cfg.Cron.RefundStallAfter,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(sweep, codes, stalls, retention), nil
}
