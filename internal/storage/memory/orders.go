package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/cargo-orchestrator/internal/domain/shipment"
)

var _ shipment.Repository = (*OrderStore)(nil)

// ErrOrderExists is returned by Create for a duplicate order id.
var ErrOrderExists = errors.New("order already exists")

// OrderStore keeps orders in memory. Stored orders are copied on the way in
// and out so callers never share state with the store.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*shipment.Order
}

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*shipment.Order)}
}

func (s *OrderStore) Create(_ context.Context, o *shipment.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return errors.Wrapf(ErrOrderExists, "order %q", o.ID)
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (*shipment.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, shipment.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *OrderStore) Update(_ context.Context, o *shipment.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; !ok {
		return shipment.ErrOrderNotFound
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

func copyOrder(o *shipment.Order) *shipment.Order {
	cp := *o
	cp.Packages = slices.Clone(o.Packages)
	cp.ChildWaybills = slices.Clone(o.ChildWaybills)
	cp.Tracking = slices.Clone(o.Tracking)
	if o.Waybill != nil {
		wb := *o.Waybill
		cp.Waybill = &wb
	}
	if o.ShipmentCreatedAt != nil {
		at := *o.ShipmentCreatedAt
		cp.ShipmentCreatedAt = &at
	}
	return &cp
}
