package memory

import (
	"context"
	"sync"

	"github.com/xenking/cargo-orchestrator/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyStore)(nil)

// APIKeyStore holds API keys in memory, keyed by hash.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]auth.APIKeyInfo
}

func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{keys: make(map[string]auth.APIKeyInfo)}
}

// Insert stores k, replacing any key with the same hash.
func (s *APIKeyStore) Insert(_ context.Context, k *auth.APIKeyInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.KeyHash] = *k
	return nil
}

func (s *APIKeyStore) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &k, nil
}
