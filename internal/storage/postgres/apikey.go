package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/cargo-orchestrator/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	db tx.DBGetter
}

func NewAPIKeyRepository(d *DB) *APIKeyRepository {
	return &APIKeyRepository{db: d.DBGetter}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	q, args, err := psql.Select("id", "key_hash", "name", "customer_id", "scopes").
		From("api_keys").
		Where(sq.Eq{"key_hash": hash, "active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building api key query: %w", err)
	}

	var info auth.APIKeyInfo
	err = r.db(ctx).QueryRow(ctx, q, args...).Scan(
		&info.ID, &info.KeyHash, &info.Name, &info.CustomerID, &info.Scopes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &info, nil
}

// Insert stores k, replacing any key with the same hash.
func (r *APIKeyRepository) Insert(ctx context.Context, k *auth.APIKeyInfo) error {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	q, args, err := psql.Insert("api_keys").
		Columns("id", "key_hash", "name", "customer_id", "scopes").
		Values(k.ID, k.KeyHash, k.Name, k.CustomerID, scopes).
		Suffix("ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, customer_id = EXCLUDED.customer_id, scopes = EXCLUDED.scopes, active = TRUE").
		ToSql()
	if err != nil {
		return fmt.Errorf("building api key insert: %w", err)
	}
	if _, err := r.db(ctx).Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("inserting api key %q: %w", k.Name, err)
	}
	return nil
}
