// Package wallet implements the prepaid customer wallet: a cached balance
// backed by an append-only list of debit and credit transactions.
package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for wallet operations.
var (
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrInvalidAmount     = errors.New("amount must not be negative")
	ErrNotFound          = errors.New("wallet not found")
	ErrNoTransaction     = errors.New("transaction not found")
)

// Category is the direction of a wallet transaction.
type Category string

const (
	Debit  Category = "debit"
	Credit Category = "credit"
)

// Wallet is a customer's prepaid balance. HoldAmount is reserved and cannot
// be charged.
type Wallet struct {
	ID         string
	CustomerID string
	Balance    decimal.Decimal
	HoldAmount decimal.Decimal
	UpdatedAt  time.Time
}

// EffectiveBalance is the amount available for charging.
func (w *Wallet) EffectiveBalance() decimal.Decimal {
	return w.Balance.Sub(w.HoldAmount)
}

// CanCharge reports whether amount can be debited right now.
func (w *Wallet) CanCharge(amount decimal.Decimal) bool {
	return w.EffectiveBalance().GreaterThanOrEqual(amount)
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID            string
	WalletID      string
	Category      Category
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	CorrelationID string
	Reference     string
	Description   string
	CreatedAt     time.Time
}

// Signed returns the amount with its effect on the balance applied.
func (t Transaction) Signed() decimal.Decimal {
	if t.Category == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// OpeningBalance describes the credit that funds a newly created wallet.
const OpeningBalance = "Opening balance"

// Entry carries the bookkeeping details of a debit or credit.
type Entry struct {
	// CorrelationID ties the entry to the channel order that caused it.
	CorrelationID string
	// Reference is the carrier-side identifier, usually the waybill.
	Reference   string
	Description string
}

// Repository persists wallets and their transactions.
type Repository interface {
	FindByCustomer(ctx context.Context, customerID string) (*Wallet, error)
	// Apply changes the wallet balance by tx's signed amount and appends tx
	// in one atomic step, filling in tx.BalanceAfter. A debit that would take
	// the effective balance below zero fails with ErrInsufficientFunds and
	// changes nothing. Concurrent calls for one wallet are serialized.
	Apply(ctx context.Context, tx *Transaction) error
	// Transactions returns the wallet's entries, newest first.
	Transactions(ctx context.Context, walletID string) ([]Transaction, error)
}
