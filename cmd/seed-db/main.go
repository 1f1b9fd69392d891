package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/auth"
	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
	"github.com/xenking/cargo-orchestrator/internal/storage/postgres"
)

type customerJSON struct {
	CustomerID string          `json:"customer_id"`
	Name       string          `json:"name"`
	Tier       string          `json:"tier"`
	Balance    decimal.Decimal `json:"balance"`
	APIKey     string          `json:"api_key"`
}

type seedJSON struct {
	Customers []customerJSON `json:"customers"`
	AdminKeys []string       `json:"admin_keys"`
}

func main() {
	var (
		databaseURL string
		seedFile    string
		pepper      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/seed.json", "path to seed JSON file")
	flag.StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CARGO_AUTH_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if pepper == "" {
		pepper = os.Getenv("CARGO_AUTH_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedFile, []byte(pepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedFile string, pepper []byte) error {
	seed, err := readSeed(seedFile)
	if err != nil {
		return err
	}

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")

	d, err := postgres.Open(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer d.Close()

	var (
		wallets = postgres.NewWalletRepository(d)
		ledger  = wallet.NewLedger(wallets)
		plans   = plan.NewService(postgres.NewPlanRepository(d))
		keys    = postgres.NewAPIKeyRepository(d)
	)

	for _, c := range seed.Customers {
		if err := seedWallet(ctx, wallets, ledger, c); err != nil {
			return errors.Wrapf(err, "seed wallet for %s", c.CustomerID)
		}
		if c.Tier != "" {
			if _, err := plans.Assign(ctx, c.CustomerID, c.Name, c.Tier); err != nil {
				return errors.Wrapf(err, "assign plan for %s", c.CustomerID)
			}
			slog.Info("assigned plan", slog.String("customer_id", c.CustomerID), slog.String("tier", c.Tier))
		}
		if c.APIKey != "" {
			if err := seedAPIKey(ctx, keys, &auth.APIKeyInfo{
				ID:         "seed-" + c.CustomerID,
				KeyHash:    auth.Hash(pepper, c.APIKey),
				Name:       c.Name,
				CustomerID: c.CustomerID,
			}); err != nil {
				return err
			}
		}
	}

	for i, k := range seed.AdminKeys {
		if err := seedAPIKey(ctx, keys, &auth.APIKeyInfo{
			ID:      "seed-admin-" + strconv.Itoa(i+1),
			KeyHash: auth.Hash(pepper, k),
			Name:    "Seeded admin key",
			Scopes:  []string{auth.ScopeAdmin},
		}); err != nil {
			return err
		}
	}

	return nil
}

func readSeed(path string) (*seedJSON, error) {
	slog.Info("reading seed file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed file")
	}

	var seed seedJSON
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, errors.Wrap(err, "parse seed JSON")
	}
	for _, c := range seed.Customers {
		if c.CustomerID == "" {
			return nil, errors.New("seed customer without customer_id")
		}
		if c.Balance.IsNegative() {
			return nil, errors.Errorf("seed customer %s has negative balance", c.CustomerID)
		}
	}
	return &seed, nil
}

// seedWallet creates the customer's wallet once and funds it through the
// ledger. Re-running the seed leaves an existing wallet untouched.
func seedWallet(ctx context.Context, repo *postgres.WalletRepository, ledger *wallet.Ledger, c customerJSON) error {
	if _, err := repo.FindByCustomer(ctx, c.CustomerID); err == nil {
		slog.Info("wallet exists, skipping", slog.String("customer_id", c.CustomerID))
		return nil
	} else if !errors.Is(err, wallet.ErrNotFound) {
		return err
	}

	w := &wallet.Wallet{
		ID:         uuid.NewString(),
		CustomerID: c.CustomerID,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := repo.Create(ctx, w); err != nil {
		return err
	}
	if c.Balance.IsPositive() {
		if _, err := ledger.Credit(ctx, w.ID, c.Balance, wallet.Entry{Description: wallet.OpeningBalance}); err != nil {
			return errors.Wrap(err, "fund wallet")
		}
	}

	slog.Info("created wallet",
		slog.String("customer_id", c.CustomerID),
		slog.String("balance", c.Balance.StringFixed(2)),
	)
	return nil
}

func seedAPIKey(ctx context.Context, keys *postgres.APIKeyRepository, k *auth.APIKeyInfo) error {
	if err := keys.Insert(ctx, k); err != nil {
		return errors.Wrapf(err, "upsert API key %s", k.ID)
	}
	slog.Info("upserted API key", slog.String("id", k.ID), slog.String("name", k.Name))
	return nil
}
