// Package memory provides in-process implementations of the domain
// repositories, used for local runs without PostgreSQL and in tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
)

var _ wallet.Repository = (*WalletStore)(nil)

// WalletStore keeps wallets and their transactions in memory. A single mutex
// serializes every balance change.
type WalletStore struct {
	mu         sync.Mutex
	wallets    map[string]*wallet.Wallet
	byCustomer map[string]string
	txs        map[string][]wallet.Transaction
}

// NewWalletStore returns an empty WalletStore.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		wallets:    make(map[string]*wallet.Wallet),
		byCustomer: make(map[string]string),
		txs:        make(map[string][]wallet.Transaction),
	}
}

// Put creates or replaces a wallet.
func (s *WalletStore) Put(w wallet.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallets[w.ID] = &w
	s.byCustomer[w.CustomerID] = w.ID
}

// FindByCustomer returns a copy of the customer's wallet.
func (s *WalletStore) FindByCustomer(_ context.Context, customerID string) (*wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCustomer[customerID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	w := *s.wallets[id]
	return &w, nil
}

// Apply updates the balance and appends tx under the store lock.
func (s *WalletStore) Apply(_ context.Context, tx *wallet.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[tx.WalletID]
	if !ok {
		return wallet.ErrNotFound
	}
	if tx.Category == wallet.Debit && !w.CanCharge(tx.Amount) {
		return wallet.ErrInsufficientFunds
	}

	w.Balance = w.Balance.Add(tx.Signed())
	w.UpdatedAt = tx.CreatedAt
	tx.BalanceAfter = w.Balance
	s.txs[w.ID] = append(s.txs[w.ID], *tx)
	return nil
}

// Transactions returns the wallet's entries, newest first.
func (s *WalletStore) Transactions(_ context.Context, walletID string) ([]wallet.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[walletID]; !ok {
		return nil, wallet.ErrNotFound
	}
	out := slices.Clone(s.txs[walletID])
	slices.Reverse(out)
	return out, nil
}

// Sum returns the signed total of the wallet's transactions.
func (s *WalletStore) Sum(walletID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := decimal.Zero
	for _, tx := range s.txs[walletID] {
		total = total.Add(tx.Signed())
	}
	return total
}
