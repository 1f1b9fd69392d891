package auth

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockRepo struct {
	keys map[string]*APIKeyInfo
	err  error
}

func (m *mockRepo) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	k, ok := m.keys[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return k, nil
}

// --- Tests ---

var pepper = []byte("test-pepper")

func TestAuthenticate(t *testing.T) {
	customer := &APIKeyInfo{ID: "k1", KeyHash: Hash(pepper, "secret-1"), CustomerID: "cust-1"}
	admin := &APIKeyInfo{ID: "k2", KeyHash: Hash(pepper, "secret-2"), Scopes: []string{ScopeAdmin}}
	orphan := &APIKeyInfo{ID: "k3", KeyHash: Hash(pepper, "secret-3")}
	repo := &mockRepo{keys: map[string]*APIKeyInfo{
		customer.KeyHash: customer,
		admin.KeyHash:    admin,
		orphan.KeyHash:   orphan,
	}}
	a := NewAuthenticator(repo, pepper)
	ctx := context.Background()

	got, err := a.Authenticate(ctx, "secret-1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", got.CustomerID)
	assert.False(t, got.Has(ScopeAdmin))

	got, err = a.Authenticate(ctx, "secret-2")
	require.NoError(t, err)
	assert.True(t, got.Has(ScopeAdmin))

	for _, key := range []string{"", "wrong", "secret-3"} {
		_, err := a.Authenticate(ctx, key)
		assert.ErrorIs(t, err, ErrUnauthorized, "key %q", key)
	}
}

func TestAuthenticate_PepperMatters(t *testing.T) {
	k := &APIKeyInfo{KeyHash: Hash([]byte("other"), "secret"), CustomerID: "c"}
	a := NewAuthenticator(&mockRepo{keys: map[string]*APIKeyInfo{k.KeyHash: k}}, pepper)

	_, err := a.Authenticate(context.Background(), "secret")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate_StaleRow(t *testing.T) {
	// A repository returning a row whose hash differs must not authenticate.
	wrong := &APIKeyInfo{KeyHash: Hash(pepper, "other"), CustomerID: "c"}
	a := NewAuthenticator(&mockRepo{keys: map[string]*APIKeyInfo{Hash(pepper, "secret"): wrong}}, pepper)

	_, err := a.Authenticate(context.Background(), "secret")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate_RepositoryError(t *testing.T) {
	a := NewAuthenticator(&mockRepo{err: errors.New("db down")}, pepper)

	_, err := a.Authenticate(context.Background(), "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}
