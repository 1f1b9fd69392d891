package shipment

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
	"github.com/xenking/cargo-orchestrator/internal/events"
	"github.com/xenking/cargo-orchestrator/internal/scheduler"
)

// --- Mock implementations ---

type mockOrders struct {
	mu        sync.Mutex
	orders    map[string]*Order
	updates   int
	updateErr error
	// failUpdate rejects individual saves when set.
	failUpdate func(o *Order) error
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Packages = slices.Clone(o.Packages)
	cp.ChildWaybills = slices.Clone(o.ChildWaybills)
	cp.Tracking = slices.Clone(o.Tracking)
	if o.Waybill != nil {
		wb := *o.Waybill
		cp.Waybill = &wb
	}
	return &cp
}

func newMockOrders(orders ...*Order) *mockOrders {
	m := &mockOrders{orders: make(map[string]*Order)}
	for _, o := range orders {
		m.orders[o.ID] = cloneOrder(o)
	}
	return m
}

func (m *mockOrders) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *mockOrders) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (m *mockOrders) Update(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if m.failUpdate != nil {
		if err := m.failUpdate(o); err != nil {
			return err
		}
	}
	m.updates++
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *mockOrders) get(id string) *Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrder(m.orders[id])
}

type mockWalletRepo struct {
	mu        sync.Mutex
	wallet    wallet.Wallet
	txs       []wallet.Transaction
	failDebit error
}

func (m *mockWalletRepo) FindByCustomer(_ context.Context, customerID string) (*wallet.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if customerID != m.wallet.CustomerID {
		return nil, wallet.ErrNotFound
	}
	w := m.wallet
	return &w, nil
}

func (m *mockWalletRepo) Apply(_ context.Context, tx *wallet.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.Category == wallet.Debit {
		if m.failDebit != nil {
			return m.failDebit
		}
		if !m.wallet.CanCharge(tx.Amount) {
			return wallet.ErrInsufficientFunds
		}
	}
	m.wallet.Balance = m.wallet.Balance.Add(tx.Signed())
	tx.BalanceAfter = m.wallet.Balance
	m.txs = append(m.txs, *tx)
	return nil
}

func (m *mockWalletRepo) Transactions(_ context.Context, _ string) ([]wallet.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.txs), nil
}

func (m *mockWalletRepo) balance() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallet.Balance
}

func (m *mockWalletRepo) transactions(c wallet.Category) []wallet.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wallet.Transaction
	for _, tx := range m.txs {
		if tx.Category == c {
			out = append(out, tx)
		}
	}
	return out
}

type mockGateway struct {
	mu sync.Mutex

	createErr []error
	assocErr  []error
	detail    *carrier.ShipmentDetail
	detailErr error
	cancel    *carrier.CancelResult
	cancelErr error
	tracking  *carrier.Tracking
	charges   []pricing.ServiceCharges

	createCalls int
	assocCalls  int
	detailCalls int
	cancelCalls int
	tokens      []string

	lastOrder  carrier.OrderPayload
	lastAssoc  carrier.AssociationPayload
	lastCancel string
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		cancel: &carrier.CancelResult{Accepted: true},
	}
}

// next pops the first queued error, if any.
func next(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *mockGateway) CreateOrder(_ context.Context, token string, p carrier.OrderPayload) (*carrier.RemoteOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.tokens = append(m.tokens, token)
	m.lastOrder = p
	if err := next(&m.createErr); err != nil {
		return nil, err
	}
	return &carrier.RemoteOrder{ID: "R-100"}, nil
}

func (m *mockGateway) AssociateShipment(_ context.Context, token string, p carrier.AssociationPayload) (*carrier.Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assocCalls++
	m.tokens = append(m.tokens, token)
	m.lastAssoc = p
	if err := next(&m.assocErr); err != nil {
		return nil, err
	}
	return &carrier.Association{ShipmentID: "S-200"}, nil
}

func (m *mockGateway) FetchShipmentDetail(_ context.Context, _, shipmentID string) (*carrier.ShipmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailCalls++
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	if m.detail == nil {
		return &carrier.ShipmentDetail{ShipmentID: shipmentID}, nil
	}
	d := *m.detail
	return &d, nil
}

func (m *mockGateway) FetchTracking(_ context.Context, _, waybill string) (*carrier.Tracking, error) {
	if m.tracking == nil {
		return &carrier.Tracking{Waybill: waybill}, nil
	}
	return m.tracking, nil
}

func (m *mockGateway) CancelOrder(_ context.Context, _, remoteOrderID string) (*carrier.CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	m.lastCancel = remoteOrderID
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return m.cancel, nil
}

func (m *mockGateway) Charges(_ context.Context, _ string, _ pricing.QuoteRequest) ([]pricing.ServiceCharges, error) {
	return m.charges, nil
}

type mockAuth struct {
	mu          sync.Mutex
	issued      int
	invalidated int
}

func (m *mockAuth) Token(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued++
	if m.invalidated > 0 {
		return "fresh-token", nil
	}
	return "token", nil
}

func (m *mockAuth) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
}

type scheduledJob struct {
	job   scheduler.Job
	delay time.Duration
}

type mockScheduler struct {
	mu   sync.Mutex
	jobs []scheduledJob
	err  error
}

func (m *mockScheduler) Schedule(_ context.Context, job scheduler.Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, scheduledJob{job: job, delay: delay})
	return nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (m *mockPublisher) Publish(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockPublisher) types() []events.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.Type, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type mockPlans struct {
	markup decimal.Decimal
}

func (m mockPlans) MarkupFor(_ context.Context, _ string) (decimal.Decimal, error) {
	return m.markup, nil
}

// --- Helpers ---

var testNow = time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestOrder() *Order {
	return &Order{
		ID:          "order-1",
		CustomerID:  "cust-1",
		OrderNumber: "ORD-1001",
		Status:      "New",
		Stage:       StageQuoted,
		Pickup: carrier.Address{
			Name: "Warehouse", Phone: "9999999999", Line1: "Plot 7",
			City: "New Delhi", State: "Delhi", Pincode: "110001", Country: "India",
		},
		Delivery: carrier.Address{
			Name: "Consignee", Phone: "8888888888", Line1: "Shop 3",
			City: "Mumbai", State: "Maharashtra", Pincode: "400001", Country: "India",
		},
		Packages: []pricing.Package{
			{Units: 2, Weight: d("5"), Length: d("30"), Width: d("20"), Height: d("10")},
			{Units: 1},
		},
		Payment:      Payment{Method: PaymentPrepaid, Amount: d("2500")},
		FinalCharges: KnownCharge(d("184")),
	}
}

type fixture struct {
	orders    *mockOrders
	wallets   *mockWalletRepo
	gateway   *mockGateway
	auth      *mockAuth
	sched     *mockScheduler
	events    *mockPublisher
	orch      *Orchestrator
	canceller *Canceller
}

func newFixture(t *testing.T, balance string, cfg Config, orders ...*Order) *fixture {
	t.Helper()
	if len(orders) == 0 {
		orders = []*Order{newTestOrder()}
	}

	f := &fixture{
		orders: newMockOrders(orders...),
		wallets: &mockWalletRepo{wallet: wallet.Wallet{
			ID: "w-1", CustomerID: "cust-1", Balance: d(balance), HoldAmount: decimal.Zero,
		}},
		gateway: newMockGateway(),
		auth:    &mockAuth{},
		sched:   &mockScheduler{},
		events:  &mockPublisher{},
	}
	deps := Deps{
		Orders:    f.orders,
		Ledger:    wallet.NewLedger(f.wallets),
		Gateway:   f.gateway,
		Auth:      f.auth,
		Scheduler: f.sched,
		Events:    f.events,
		Plans:     mockPlans{markup: d("45")},
		Locks:     NewLocks(),
	}
	f.orch = NewOrchestrator(cfg, deps)
	f.orch.now = func() time.Time { return testNow }
	f.canceller = NewCanceller(deps)
	f.canceller.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) create(t *testing.T) (*CreateResult, error) {
	t.Helper()
	return f.orch.CreateShipment(context.Background(), CreateRequest{
		OrderID:            "order-1",
		CustomerID:         "cust-1",
		Provider:           "shiprocket-cargo",
		CourierServiceName: "Smart Cargo Advantage-surface",
	})
}
