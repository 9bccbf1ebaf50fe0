package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"shop-fulfillment/internal/config"
	"shop-fulfillment/internal/domain/model"
	"shop-fulfillment/internal/domain/ports/repository"
	pg "shop-fulfillment/internal/infra/db/postgres"
	"shop-fulfillment/internal/infra/logging"
	"shop-fulfillment/internal/infra/security"
)

// catalogFile is the layout of the seed file, see catalog.example.yaml.
type catalogFile struct {
	Packages []*model.Package `yaml:"packages"`
	Offers   []*model.Offer   `yaml:"offers"`
	Gateways []*model.Gateway `yaml:"gateways"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config yaml")
	catalogPath := flag.String("catalog", "catalog.yaml", "path to catalog yaml")
	dev := flag.Bool("dev", false, "development mode")
	flag.Parse()

	cfg, err := config.Load(*configPath, *dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	raw, err := os.ReadFile(*catalogPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("read catalog")
	}
	var cat catalogFile
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		logger.Fatal().Err(err).Msg("parse catalog")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	packages := pg.NewPackageRepo(pool)
	offers := pg.NewOfferRepo(pool)
	var gateways repository.GatewayRepository = pg.NewGatewayRepo(pool)
	if key := cfg.Security.EncryptionKey; key != "" {
		enc, err := security.NewEncryptionService(key)
		if err != nil {
			logger.Fatal().Err(err).Msg("security")
		}
		gateways = pg.NewGatewayRepoCryptDecorator(gateways, enc)
	}

	for _, p := range cat.Packages {
		np, err := model.NewPackage(p.ID, p.Name, p.Price, p.BillingPeriod, p.Commands, p.ExpireCommands)
		if err != nil {
			logger.Fatal().Err(err).Str("package", p.ID).Msg("invalid package")
		}
		np.Enabled = p.Enabled
		if err := packages.Save(ctx, repository.NoTX, np); err != nil {
			logger.Fatal().Err(err).Str("package", p.ID).Msg("save package")
		}
		fmt.Printf("seeded package:%s (%s, price=%d, period=%s)\n", np.ID, np.Name, np.Price, periodOf(np))
	}
	for _, o := range cat.Offers {
		no, err := model.NewOffer(o.ID, o.Name, o.Price, o.Money)
		if err != nil {
			logger.Fatal().Err(err).Str("offer", o.ID).Msg("invalid offer")
		}
		no.Enabled = o.Enabled
		if err := offers.Save(ctx, repository.NoTX, no); err != nil {
			logger.Fatal().Err(err).Str("offer", o.ID).Msg("save offer")
		}
		fmt.Printf("seeded offer:%s (%s, price=%d, money=%d)\n", no.ID, no.Name, no.Price, no.Money)
	}
	for _, g := range cat.Gateways {
		if g.ID == "" || g.Type == "" {
			logger.Fatal().Str("gateway", g.Name).Msg("gateway needs id and type")
		}
		if err := gateways.Save(ctx, repository.NoTX, g); err != nil {
			logger.Fatal().Err(err).Str("gateway", g.ID).Msg("save gateway")
		}
		fmt.Printf("seeded gateway:%s (%s)\n", g.ID, g.Type)
	}

	fmt.Println("Seeding complete.")
}

func periodOf(p *model.Package) string {
	if p.BillingPeriod == nil {
		return "permanent"
	}
	return p.BillingPeriod.String()
}
