package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
)

var _ plan.Repository = (*PlanRepository)(nil)

// PlanRepository implements plan.Repository backed by PostgreSQL.
type PlanRepository struct {
	db tx.DBGetter
}

// NewPlanRepository returns a PlanRepository over d.
func NewPlanRepository(d *DB) *PlanRepository {
	return &PlanRepository{db: d.DBGetter}
}

func (r *PlanRepository) Upsert(ctx context.Context, p *plan.Plan) error {
	q, args, err := psql.Insert("plans").
		Columns("customer_id", "customer_name", "tier", "assigned_at").
		Values(p.CustomerID, p.CustomerName, string(p.Tier), p.AssignedAt).
		Suffix(`ON CONFLICT (customer_id) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			tier = EXCLUDED.tier,
			assigned_at = EXCLUDED.assigned_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("building plan upsert: %w", err)
	}
	if _, err := r.db(ctx).Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("upserting plan for %q: %w", p.CustomerID, err)
	}
	return nil
}

func (r *PlanRepository) FindByCustomer(ctx context.Context, customerID string) (*plan.Plan, error) {
	q, args, err := psql.Select("customer_id", "customer_name", "tier", "assigned_at").
		From("plans").
		Where(sq.Eq{"customer_id": customerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building plan query: %w", err)
	}

	var (
		p    plan.Plan
		tier string
	)
	err = r.db(ctx).QueryRow(ctx, q, args...).Scan(&p.CustomerID, &p.CustomerName, &tier, &p.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plan.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan for %q: %w", customerID, err)
	}
	p.Tier = plan.Tier(tier)
	return &p, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]plan.Plan, error) {
	q, args, err := psql.Select("customer_id", "customer_name", "tier", "assigned_at").
		From("plans").
		OrderBy("assigned_at DESC", "customer_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building plan list: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	plans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (plan.Plan, error) {
		var (
			p    plan.Plan
			tier string
		)
		err := row.Scan(&p.CustomerID, &p.CustomerName, &tier, &p.AssignedAt)
		p.Tier = plan.Tier(tier)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("collecting plans: %w", err)
	}
	return plans, nil
}
