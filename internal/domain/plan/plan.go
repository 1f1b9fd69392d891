// Package plan maps customers to pricing tiers and resolves the markup a
// customer pays on carrier charges.
package plan

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for plan management.
var (
	ErrNotFound    = errors.New("plan not found")
	ErrUnknownTier = errors.New("unknown plan tier")
	ErrNoCustomer  = errors.New("customer id required")
)

// Tier is a named pricing tier.
type Tier string

const (
	Bronze   Tier = "Bronze"
	Silver   Tier = "Silver"
	Gold     Tier = "Gold"
	Platinum Tier = "Platinum"
)

var markups = map[Tier]decimal.Decimal{
	Bronze:   decimal.NewFromInt(45),
	Silver:   decimal.NewFromInt(35),
	Gold:     decimal.NewFromInt(25),
	Platinum: decimal.NewFromInt(15),
}

// Markup returns the tier's markup percentage. Unknown tiers carry no markup.
func (t Tier) Markup() decimal.Decimal {
	if m, ok := markups[t]; ok {
		return m
	}
	return decimal.Zero
}

// Label renders the tier the way plans are shown to operators, e.g.
// "Bronze - 45%".
func (t Tier) Label() string {
	return string(t) + " - " + t.Markup().String() + "%"
}

// ParseTier accepts a bare tier name ("gold") or a label ("Gold - 25%").
func ParseTier(s string) (Tier, error) {
	name, _, _ := strings.Cut(s, "-")
	name = strings.TrimSpace(name)
	for t := range markups {
		if strings.EqualFold(string(t), name) {
			return t, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownTier, "%q", s)
}

// Plan is a customer's current tier assignment.
type Plan struct {
	CustomerID   string
	CustomerName string
	Tier         Tier
	AssignedAt   time.Time
}

// Repository defines persistence operations for plans.
type Repository interface {
	// Upsert stores p, replacing any existing assignment for the customer.
	Upsert(ctx context.Context, p *Plan) error
	FindByCustomer(ctx context.Context, customerID string) (*Plan, error)
	// List returns all plans, most recently assigned first.
	List(ctx context.Context) ([]Plan, error)
}

// Service resolves and manages plan assignments.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a plan Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// MarkupFor returns the markup percentage for a customer. Customers without
// a plan pay no markup.
func (s *Service) MarkupFor(ctx context.Context, customerID string) (decimal.Decimal, error) {
	p, err := s.repo.FindByCustomer(ctx, customerID)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "find plan")
	}
	return p.Tier.Markup(), nil
}

// Assign sets the customer's tier. The last assignment wins.
func (s *Service) Assign(ctx context.Context, customerID, customerName, tier string) (*Plan, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, ErrNoCustomer
	}
	t, err := ParseTier(tier)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		CustomerID:   customerID,
		CustomerName: customerName,
		Tier:         t,
		AssignedAt:   s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, errors.Wrap(err, "upsert plan")
	}
	return p, nil
}

// List returns every assignment, newest first.
func (s *Service) List(ctx context.Context) ([]Plan, error) {
	plans, err := s.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list plans")
	}
	return plans, nil
}
