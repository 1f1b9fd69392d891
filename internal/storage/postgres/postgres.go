// Package postgres implements the domain repositories on PostgreSQL.
package postgres

import (
	"context"
	"net/url"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/cargo-orchestrator/db"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DB bundles the pool with a transactor. Repositories run their statements
// through DBGetter so they join any transaction open on the context.
type DB struct {
	Pool       *pgxpool.Pool
	Transactor *tx.Transactor
	DBGetter   tx.DBGetter
}

// Open creates a pool with shopspring/decimal support for NUMERIC columns.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}

	transactor, getter := tx.NewTransactorFromPool(pool)
	return &DB{Pool: pool, Transactor: transactor, DBGetter: getter}, nil
}

// Close closes the pool.
func (d *DB) Close() {
	d.Pool.Close()
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, databaseURL string) error {
	src, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "open migrations")
	}

	target, err := migrateURL(databaseURL)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return errors.Wrap(err, "create migrator")
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			zctx.From(ctx).Debug("No migrations to apply")
			return nil
		}
		return errors.Wrap(err, "apply migrations")
	}

	version, _, _ := m.Version()
	zctx.From(ctx).Info("Migrations applied", zap.Uint("version", version))
	return nil
}

// migrateURL rewrites a postgres:// URL to the scheme of the pgx/v5
// migrate driver.
func migrateURL(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse database url")
	}
	switch u.Scheme {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
	case "pgx5":
	default:
		return "", errors.Errorf("unsupported database scheme %q", u.Scheme)
	}
	return u.String(), nil
}
