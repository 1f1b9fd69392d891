package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin lets a key manage plans and read any customer's wallet.
const ScopeAdmin = "admin"

var (
	ErrNotFound     = errors.New("api key not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// APIKeyInfo is a stored API key. Keys are never kept in clear text, only
// their HMAC-SHA256 under the server pepper.
type APIKeyInfo struct {
	ID         string
	KeyHash    string
	Name       string
	CustomerID string
	Scopes     []string
}

// Has reports whether the key carries scope.
func (k *APIKeyInfo) Has(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of active API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Hash returns the hex HMAC-SHA256 of key under pepper.
func Hash(pepper []byte, key string) string {
	return hex.EncodeToString(sum(pepper, key))
}

func sum(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Authenticator resolves raw API keys to their stored identity.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate hashes key, looks it up and compares the stored hash in
// constant time. Every failure is reported as ErrUnauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := sum(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hex.EncodeToString(hash))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, ErrUnauthorized
	}
	if info.CustomerID == "" && !info.Has(ScopeAdmin) {
		return nil, ErrUnauthorized
	}
	return info, nil
}
