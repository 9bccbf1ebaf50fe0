package application

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"shop-fulfillment/internal/config"
	"shop-fulfillment/internal/domain/ports/adapter"
	"shop-fulfillment/internal/domain/ports/repository"
	"shop-fulfillment/internal/infra/adapters/payment"
	"shop-fulfillment/internal/infra/currency"
	pg "shop-fulfillment/internal/infra/db/postgres"
	"shop-fulfillment/internal/infra/kafka"
	"shop-fulfillment/internal/infra/metrics"
	red "shop-fulfillment/internal/infra/redis"
	"shop-fulfillment/internal/infra/security"
	"shop-fulfillment/internal/usecase"
)

// Container owns the process-wide dependencies shared by the server and the
// admin CLI.
type Container struct {
	Cfg    *config.Config
	Log    *zerolog.Logger
	Pool   *pgxpool.Pool
	Redis  red.RedisClient
	Locker red.Locker

	Registry   *payment.Registry
	Dispatcher adapter.CommandDispatcher
	Prices     *currency.Formatter

	Checkout   usecase.CheckoutUseCase
	Catalog    usecase.CatalogUseCase
	Expiration usecase.ExpirationUseCase

	// Payments is shared with the reconciler.
	Payments repository.PaymentRepository

	closers []io.Closer
}

// Build connects to Postgres and Redis, picks a command dispatcher and wires
// the use cases. Close releases everything Build opened.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Container, error) {
	c := &Container{Cfg: cfg, Log: logger}

	pool, err := pg.NewPgxPool(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	c.Pool = pool

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	c.Redis = redisClient
	c.closers = append(c.closers, redisClient)
	c.Locker = red.NewLocker(redisClient)

	if len(cfg.Kafka.Brokers) > 0 {
		d, err := kafka.NewCommandDispatcher(cfg.Kafka, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("kafka: %w", err)
		}
		c.Dispatcher = d
		c.closers = append(c.closers, d)
	} else {
		logger.Warn().Msg("no kafka brokers configured; delivery commands are only logged")
		c.Dispatcher = kafka.NewLogDispatcher(logger)
	}

	c.Prices, err = currency.NewFormatter(cfg.Currency.Locale, cfg.Currency.Default, cfg.Currency.SiteMoneyName)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("currency: %w", err)
	}

	// ---- Repositories ----
	paymentRepo := pg.NewPaymentRepo(pool)
	itemRepo := pg.NewPurchaseItemRepo(pool)
	purchaseRepo := pg.NewPostgresPurchaseRepo(pool)
	packageRepo := pg.NewPackageRepoCacheDecorator(pg.NewPackageRepo(pool), redisClient, cfg.Redis.TTL)
	offerRepo := pg.NewOfferRepo(pool)
	var gatewayRepo repository.GatewayRepository = pg.NewGatewayRepo(pool)
	if key := cfg.Security.EncryptionKey; key != "" {
		enc, err := security.NewEncryptionService(key)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("security: %w", err)
		}
		gatewayRepo = pg.NewGatewayRepoCryptDecorator(gatewayRepo, enc)
	}
	balanceRepo := pg.NewBalanceRepo(pool)
	tm := pg.NewTxManager(pool)
	c.Payments = paymentRepo

	// ---- Payment methods ----
	defaults := payment.Defaults{
		ZarinPal: payment.ZarinPalOptions{
			MerchantID:  cfg.Payment.ZarinPal.MerchantID,
			CallbackURL: cfg.Payment.ZarinPal.CallbackURL,
			Sandbox:     cfg.Payment.ZarinPal.Sandbox,
		},
		Stripe: payment.StripeOptions{
			SecretKey:  cfg.Payment.Stripe.SecretKey,
			SuccessURL: cfg.Payment.Stripe.SuccessURL,
			CancelURL:  cfg.Payment.Stripe.CancelURL,
		},
		Midtrans: payment.MidtransOptions{
			ServerKey:  cfg.Payment.Midtrans.ServerKey,
			Production: cfg.Payment.Midtrans.Production,
			FinishURL:  cfg.Payment.Midtrans.FinishURL,
		},
	}
	if cfg.Payment.SiteMoney {
		defaults.Balances = balanceRepo
	}
	if cfg.Runtime.Dev {
		defaults.NoopBaseURL = cfg.HTTP.PublicURL
	}
	c.Registry = payment.NewDefaultRegistry(defaults)

	// ---- Use cases ----
	catalog := usecase.NewCatalogUseCase(packageRepo, offerRepo, balanceRepo, c.Dispatcher, logger)
	c.Catalog = catalog
	c.Checkout = usecase.NewCheckoutUseCase(usecase.CheckoutDeps{
		Registry:  c.Registry,
		Gateways:  gatewayRepo,
		Payments:  paymentRepo,
		Items:     itemRepo,
		Purchases: purchaseRepo,
		Resolver:  catalog,
		TM:        tm,
		Limiter:   red.NewRateLimiter(redisClient),
		Limit:     cfg.Payment.CheckoutLimit,
		Window:    cfg.Payment.CheckoutWindow,
	}, logger)
	c.Expiration = usecase.NewExpirationUseCase(itemRepo, paymentRepo, catalog, tm, cfg.Scheduler.SweepBatch, logger)

	return c, nil
}

// ReportPoolStats publishes pgx pool gauges every interval until ctx ends.
func (c *Container) ReportPoolStats(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st := c.Pool.Stat()
		metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			c.Log.Warn().Err(err).Msg("close failed")
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
