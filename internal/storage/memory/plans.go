package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
)

var _ plan.Repository = (*PlanStore)(nil)

// PlanStore keeps plan assignments in memory, keyed by customer.
type PlanStore struct {
	mu    sync.RWMutex
	plans map[string]plan.Plan
}

// NewPlanStore returns an empty PlanStore.
func NewPlanStore() *PlanStore {
	return &PlanStore{plans: make(map[string]plan.Plan)}
}

func (s *PlanStore) Upsert(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plans[p.CustomerID] = *p
	return nil
}

func (s *PlanStore) FindByCustomer(_ context.Context, customerID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[customerID]
	if !ok {
		return nil, plan.ErrNotFound
	}
	return &p, nil
}

func (s *PlanStore) List(_ context.Context) ([]plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b plan.Plan) int {
		if c := b.AssignedAt.Compare(a.AssignedAt); c != 0 {
			return c
		}
		return strings.Compare(a.CustomerID, b.CustomerID)
	})
	return out, nil
}
