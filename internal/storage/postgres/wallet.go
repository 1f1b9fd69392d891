package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
)

var _ wallet.Repository = (*WalletRepository)(nil)

var walletColumns = []string{"id", "customer_id", "balance", "hold_amount", "updated_at"}

// WalletRepository implements wallet.Repository backed by PostgreSQL.
type WalletRepository struct {
	db         tx.DBGetter
	transactor *tx.Transactor
}

// NewWalletRepository returns a WalletRepository over d.
func NewWalletRepository(d *DB) *WalletRepository {
	return &WalletRepository{db: d.DBGetter, transactor: d.Transactor}
}

// Create inserts a wallet.
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	q, args, err := psql.Insert("wallets").
		Columns(walletColumns...).
		Values(w.ID, w.CustomerID, w.Balance, w.HoldAmount, w.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building wallet insert: %w", err)
	}
	if _, err := r.db(ctx).Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("creating wallet %q: %w", w.ID, err)
	}
	return nil
}

func (r *WalletRepository) FindByCustomer(ctx context.Context, customerID string) (*wallet.Wallet, error) {
	q, args, err := psql.Select(walletColumns...).
		From("wallets").
		Where(sq.Eq{"customer_id": customerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building wallet query: %w", err)
	}

	var w wallet.Wallet
	err = r.db(ctx).QueryRow(ctx, q, args...).Scan(&w.ID, &w.CustomerID, &w.Balance, &w.HoldAmount, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, wallet.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying wallet for %q: %w", customerID, err)
	}
	return &w, nil
}

// Apply moves the balance and records t in one transaction. A debit only
// succeeds while balance - hold_amount covers it; the check and decrement
// are a single conditional UPDATE so concurrent debits cannot overdraw.
func (r *WalletRepository) Apply(ctx context.Context, t *wallet.Transaction) error {
	return r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		upd := psql.Update("wallets").
			Set("balance", sq.Expr("balance + ?", t.Signed())).
			Set("updated_at", t.CreatedAt).
			Where(sq.Eq{"id": t.WalletID})
		if t.Category == wallet.Debit {
			upd = upd.Where(sq.Expr("balance - hold_amount >= ?", t.Amount))
		}
		q, args, err := upd.Suffix("RETURNING balance").ToSql()
		if err != nil {
			return fmt.Errorf("building balance update: %w", err)
		}

		var balance decimal.Decimal
		err = r.db(ctx).QueryRow(ctx, q, args...).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrShort(ctx, t.WalletID)
		}
		if err != nil {
			return fmt.Errorf("updating wallet %q: %w", t.WalletID, err)
		}
		t.BalanceAfter = balance

		q, args, err = psql.Insert("wallet_transactions").
			Columns("id", "wallet_id", "category", "amount", "balance_after",
				"correlation_id", "reference", "description", "created_at").
			Values(t.ID, t.WalletID, string(t.Category), t.Amount, t.BalanceAfter,
				t.CorrelationID, t.Reference, t.Description, t.CreatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("building transaction insert: %w", err)
		}
		if _, err := r.db(ctx).Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("recording transaction %q: %w", t.ID, err)
		}
		return nil
	})
}

func (r *WalletRepository) missingOrShort(ctx context.Context, walletID string) error {
	var exists bool
	err := r.db(ctx).QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM wallets WHERE id = $1)", walletID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking wallet %q: %w", walletID, err)
	}
	if !exists {
		return wallet.ErrNotFound
	}
	return wallet.ErrInsufficientFunds
}

func (r *WalletRepository) Transactions(ctx context.Context, walletID string) ([]wallet.Transaction, error) {
	q, args, err := psql.Select("id", "wallet_id", "category", "amount", "balance_after",
		"correlation_id", "reference", "description", "created_at").
		From("wallet_transactions").
		Where(sq.Eq{"wallet_id": walletID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building transactions query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.Transaction, error) {
		var t wallet.Transaction
		var category string
		err := row.Scan(&t.ID, &t.WalletID, &category, &t.Amount, &t.BalanceAfter,
			&t.CorrelationID, &t.Reference, &t.Description, &t.CreatedAt)
		t.Category = wallet.Category(category)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("collecting transactions: %w", err)
	}
	return txs, nil
}
