package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/cargo-orchestrator/internal/domain/auth"
	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
	"github.com/xenking/cargo-orchestrator/internal/domain/shipment"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
	"github.com/xenking/cargo-orchestrator/internal/storage/memory"
	"github.com/xenking/cargo-orchestrator/internal/storage/postgres"
	"github.com/xenking/cargo-orchestrator/pkg/health"
)

// stores are the repositories behind the domain services.
type stores struct {
	orders  shipment.Repository
	wallets wallet.Repository
	plans   plan.Repository
	keys    auth.Repository
	// db is nil for the memory backend.
	db    health.Pinger
	close func()
}

func openStores(ctx context.Context, cfg *Config) (*stores, error) {
	if cfg.Storage == StorageMemory {
		return memoryStores(ctx, cfg)
	}

	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	d, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	return &stores{
		orders:  postgres.NewOrderRepository(d),
		wallets: postgres.NewWalletRepository(d),
		plans:   postgres.NewPlanRepository(d),
		keys:    postgres.NewAPIKeyRepository(d),
		db:      d,
		close:   d.Close,
	}, nil
}

// memoryStores builds empty in-memory repositories and seeds them with the
// configured static keys. Every seeded customer gets a wallet.
func memoryStores(ctx context.Context, cfg *Config) (*stores, error) {
	seed, err := cfg.SeedKeys()
	if err != nil {
		return nil, err
	}
	balance, err := cfg.SeedBalance()
	if err != nil {
		return nil, err
	}

	var (
		wallets = memory.NewWalletStore()
		ledger  = wallet.NewLedger(wallets)
		keys    = memory.NewAPIKeyStore()
		pepper  = []byte(cfg.Auth.Pepper)
		now     = time.Now().UTC()
		seen    = make(map[string]bool)
	)
	for _, k := range seed {
		info := &auth.APIKeyInfo{
			ID:         uuid.NewString(),
			KeyHash:    auth.Hash(pepper, k.Key),
			Name:       "static",
			CustomerID: k.CustomerID,
		}
		if k.Admin {
			info.Scopes = []string{auth.ScopeAdmin}
		}
		if err := keys.Insert(ctx, info); err != nil {
			return nil, errors.Wrap(err, "seed api key")
		}

		if k.CustomerID == "" || seen[k.CustomerID] {
			continue
		}
		seen[k.CustomerID] = true
		w := wallet.Wallet{ID: uuid.NewString(), CustomerID: k.CustomerID, UpdatedAt: now}
		wallets.Put(w)
		if balance.IsPositive() {
			// Fund through the ledger so the statement explains the balance.
			if _, err := ledger.Credit(ctx, w.ID, balance, wallet.Entry{Description: wallet.OpeningBalance}); err != nil {
				return nil, errors.Wrapf(err, "fund wallet for %q", k.CustomerID)
			}
		}
	}

	zctx.From(ctx).Warn("Using in-memory storage, state is lost on restart",
		zap.Int("keys", len(seed)),
		zap.Int("wallets", len(seen)),
	)
	return &stores{
		orders:  memory.NewOrderStore(),
		wallets: wallets,
		plans:   memory.NewPlanStore(),
		keys:    keys,
		close:   func() {},
	}, nil
}
