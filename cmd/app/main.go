package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"shop-fulfillment/internal/application"
	"shop-fulfillment/internal/config"
	"shop-fulfillment/internal/infra/api"
	"shop-fulfillment/internal/infra/api/apiv1"
	"shop-fulfillment/internal/infra/i18n"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/infra/metrics"
	"shop-fulfillment/internal/infra/sched"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.New(config.LogConfig{Level: "info"}, true).Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	c, err := application.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap")
	}
	defer c.Close()

	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.HTTP.Lang)
	if err != nil {
		logger.Fatal().Err(err).Msg("translator")
	}

	expiry, err := sched.NewExpiryWorker(cfg.Scheduler.SweepRule, c.Expiration, c.Locker, cfg.Scheduler.LockTTL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("expiry worker")
	}
	reconciler := sched.NewPaymentReconciler(c.Payments, cfg.Scheduler.ReconcileEvery, cfg.Payment.PendingTimeout, logger).
		WithResumer(c.Checkout, cfg.Scheduler.ResumeGrace)

	auth := api.NewAuthManager(cfg.Admin.JWTSecret, cfg.Admin.Username, cfg.Admin.Password, !cfg.Runtime.Dev, cfg.Admin.TokenTTL)
	v1 := apiv1.NewServer(c.Checkout, c.Catalog, c.Expiration, c.Prices, cfg.Currency.Default, logger)
	srv := api.NewServer(cfg.HTTP, c.Checkout, v1, auth, tr, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return expiry.Run(gctx) })
	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		c.ReportPoolStats(gctx, 15*time.Second)
		return nil
	})

	logger.Info().Str("version", version).Str("addr", cfg.HTTP.Addr).Msg("shop fulfillment started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("service stopped")
		return
	}
	logger.Info().Msg("shutdown complete")
}
