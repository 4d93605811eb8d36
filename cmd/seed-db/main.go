package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/grup/db"
	"github.com/xenking/grup/internal/domain/account"
	"github.com/xenking/grup/internal/domain/auth"
	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/internal/repository"
)

// demoWallets are opened with a starting balance unless they already exist.
var demoWallets = map[string]decimal.Decimal{
	"demo-alice": decimal.NewFromInt(5000),
	"demo-bob":   decimal.NewFromInt(250),
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to a products JSON file (defaults to the embedded demo catalog)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or GRUP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or GRUP_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GRUP_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or GRUP_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("GRUP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s := &seeder{lg: lg}
	if err := s.run(ctx, databaseURL, productsFile, apiKey, []byte(apiKeyPepper)); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	lg.Info("Seed completed")
}

type seeder struct {
	lg *zap.Logger
}

func (s *seeder) run(ctx context.Context, databaseURL, productsFile, apiKey string, pepper []byte) error {
	s.lg.Info("Connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	s.lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	data := db.SeedProducts
	if productsFile != "" {
		if data, err = os.ReadFile(productsFile); err != nil {
			return errors.Wrap(err, "read products file")
		}
	}

	if err := s.seedProducts(ctx, repository.NewProductRepository(pool), data); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := s.seedWallets(ctx, repository.NewWalletRepository(pool)); err != nil {
		return errors.Wrap(err, "seed wallets")
	}
	if err := s.seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func (s *seeder) seedProducts(ctx context.Context, repo product.Repository, data []byte) error {
	var products []product.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	s.lg.Info("Upserting products", zap.Int("count", len(products)))
	for i := range products {
		p := &products[i]
		if err := product.Check(p); err != nil {
			return errors.Wrapf(err, "product %s", p.ID)
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		s.lg.Info("Upserted product",
			zap.String("id", p.ID),
			zap.String("name", p.Name),
			zap.Bool("selling_units", p.SellingUnitsEnabled()),
		)
	}
	return nil
}

func (s *seeder) seedWallets(ctx context.Context, repo account.Repository) error {
	for userID, balance := range demoWallets {
		_, err := repo.Get(ctx, userID)
		switch {
		case err == nil:
			s.lg.Info("Wallet exists, skipping", zap.String("user_id", userID))
			continue
		case !errors.Is(err, account.ErrNotFound):
			return err
		}

		acc, err := repo.Credit(ctx, userID, balance)
		if err != nil {
			return err
		}
		s.lg.Info("Opened wallet", zap.String("user_id", userID), zap.Stringer("balance", acc.Balance))
	}
	return nil
}

func (s *seeder) seedAPIKey(ctx context.Context, repo auth.Repository, apiKey string, pepper []byte) error {
	info := &auth.APIKeyInfo{
		ID:      "admin",
		KeyHash: auth.HashHex(pepper, apiKey),
		Name:    "Catalog admin",
		Scopes:  []string{auth.ScopeCatalogWrite},
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}
	s.lg.Info("Upserted API key", zap.String("id", info.ID), zap.Strings("scopes", info.Scopes))
	return nil
}
