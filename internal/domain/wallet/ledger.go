package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Statement is a wallet with its transaction history.
type Statement struct {
	Wallet       *Wallet
	Transactions []Transaction
}

// Ledger moves money in and out of wallets.
type Ledger struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewLedger creates a Ledger over the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{
		repo:  repo,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Wallet returns the customer's wallet.
func (l *Ledger) Wallet(ctx context.Context, customerID string) (*Wallet, error) {
	w, err := l.repo.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, errors.Wrapf(err, "find wallet for %q", customerID)
	}
	return w, nil
}

// CanCharge returns the customer's wallet if its effective balance covers
// amount, and ErrInsufficientFunds otherwise. It does not change anything.
func (l *Ledger) CanCharge(ctx context.Context, customerID string, amount decimal.Decimal) (*Wallet, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	w, err := l.Wallet(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !w.CanCharge(amount) {
		return w, errors.Wrapf(ErrInsufficientFunds, "need %s, available %s", amount, w.EffectiveBalance())
	}
	return w, nil
}

// Debit takes amount from the wallet and records a debit transaction.
func (l *Ledger) Debit(ctx context.Context, walletID string, amount decimal.Decimal, e Entry) (*Transaction, error) {
	return l.apply(ctx, walletID, Debit, amount, e)
}

// Credit adds amount to the wallet and records a credit transaction. A zero
// amount is recorded as well.
func (l *Ledger) Credit(ctx context.Context, walletID string, amount decimal.Decimal, e Entry) (*Transaction, error) {
	return l.apply(ctx, walletID, Credit, amount, e)
}

func (l *Ledger) apply(ctx context.Context, walletID string, c Category, amount decimal.Decimal, e Entry) (*Transaction, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	tx := &Transaction{
		ID:            l.newID(),
		WalletID:      walletID,
		Category:      c,
		Amount:        amount.Round(2),
		CorrelationID: e.CorrelationID,
		Reference:     e.Reference,
		Description:   e.Description,
		CreatedAt:     l.now().UTC(),
	}
	if err := l.repo.Apply(ctx, tx); err != nil {
		return nil, errors.Wrapf(err, "%s wallet %s", c, walletID)
	}

	zctx.From(ctx).Info("Wallet transaction recorded",
		zap.String("wallet_id", walletID),
		zap.String("category", string(c)),
		zap.Stringer("amount", tx.Amount),
		zap.Stringer("balance_after", tx.BalanceAfter),
		zap.String("correlation_id", e.CorrelationID),
	)
	return tx, nil
}

// Statement returns the customer's wallet and its transactions, newest first.
func (l *Ledger) Statement(ctx context.Context, customerID string) (*Statement, error) {
	w, err := l.Wallet(ctx, customerID)
	if err != nil {
		return nil, err
	}
	txs, err := l.repo.Transactions(ctx, w.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	return &Statement{Wallet: w, Transactions: txs}, nil
}

// FindDebit returns the most recent debit on the wallet recorded against
// reference, or ErrNoTransaction.
func (l *Ledger) FindDebit(ctx context.Context, walletID, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, ErrNoTransaction
	}
	txs, err := l.repo.Transactions(ctx, walletID)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	for i := range txs {
		if txs[i].Category == Debit && txs[i].Reference == reference {
			return &txs[i], nil
		}
	}
	return nil, ErrNoTransaction
}
