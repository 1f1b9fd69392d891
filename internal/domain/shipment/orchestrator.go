// Package shipment drives a channel order through carrier order creation,
// courier association, wallet charging, deferred waybill enrichment and
// cancellation.
package shipment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
	"github.com/xenking/cargo-orchestrator/internal/events"
	"github.com/xenking/cargo-orchestrator/internal/scheduler"
)

// Wallet transaction descriptions.
const (
	DebitDescription  = "Freight Charges Applied (Cargo)"
	CreditDescription = "Freight Charges Received"
)

const (
	defaultEnrichDelay = 30 * time.Second
	instrumentation    = "github.com/xenking/cargo-orchestrator/internal/domain/shipment"
)

// Ledger is the wallet surface the shipment flow needs.
type Ledger interface {
	Wallet(ctx context.Context, customerID string) (*wallet.Wallet, error)
	CanCharge(ctx context.Context, customerID string, amount decimal.Decimal) (*wallet.Wallet, error)
	Debit(ctx context.Context, walletID string, amount decimal.Decimal, e wallet.Entry) (*wallet.Transaction, error)
	Credit(ctx context.Context, walletID string, amount decimal.Decimal, e wallet.Entry) (*wallet.Transaction, error)
	FindDebit(ctx context.Context, walletID, reference string) (*wallet.Transaction, error)
}

// MarkupSource resolves a customer's markup percentage.
type MarkupSource interface {
	MarkupFor(ctx context.Context, customerID string) (decimal.Decimal, error)
}

// Scheduler runs delayed one-shot jobs.
type Scheduler interface {
	Schedule(ctx context.Context, job scheduler.Job, delay time.Duration) error
}

// Config tunes the shipment flow.
type Config struct {
	// ClientID identifies the merchant account on the carrier.
	ClientID string
	// EnrichDelay is how long after association the waybill is fetched.
	EnrichDelay time.Duration
	// EnrichAttempts bounds how many times a waybill fetch is tried. One
	// means a single deferred fetch with no retry.
	EnrichAttempts int
}

// Deps are the collaborators of Orchestrator and Canceller.
type Deps struct {
	Orders    Repository
	Ledger    Ledger
	Gateway   carrier.Gateway
	Auth      carrier.AuthProvider
	Scheduler Scheduler
	Events    events.Publisher
	Plans     MarkupSource
	// Locks is shared between Orchestrator and Canceller so that the two
	// never work on one order at the same time.
	Locks  *Locks
	Tracer trace.TracerProvider
	Meter  metric.MeterProvider
}

func (d *Deps) setDefaults() {
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Locks == nil {
		d.Locks = NewLocks()
	}
	if d.Tracer == nil {
		d.Tracer = tracenoop.NewTracerProvider()
	}
	if d.Meter == nil {
		d.Meter = metricnoop.NewMeterProvider()
	}
}

// CreateRequest asks for a shipment of an existing order.
type CreateRequest struct {
	OrderID            string
	CustomerID         string
	Provider           string
	CourierServiceName string
	// FinalCharges overrides the charge recorded on the order when known.
	FinalCharges Charge
}

// CreateResult is returned as soon as the shipment exists. Waybill is always
// nil here; it is filled in later by enrichment.
type CreateResult struct {
	OrderID       string
	RemoteOrderID string
	ShipmentID    string
	Waybill       *string
	Charged       decimal.Decimal
	TransactionID string
}

// EnrichOutcome is the result of a deferred waybill fetch.
type EnrichOutcome string

const (
	EnrichDone       EnrichOutcome = "enriched"
	EnrichIncomplete EnrichOutcome = "incomplete"
	EnrichSkipped    EnrichOutcome = "skipped"
	EnrichFailed     EnrichOutcome = "failed"
)

type instruments struct {
	created    metric.Int64Counter
	failed     metric.Int64Counter
	enrichment metric.Int64Counter
	cancelled  metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) instruments {
	m := mp.Meter(instrumentation)
	// Names are constant and valid.
	created, _ := m.Int64Counter("cargo.shipment.created")
	failed, _ := m.Int64Counter("cargo.shipment.failed")
	enrichment, _ := m.Int64Counter("cargo.shipment.enrichment")
	cancelled, _ := m.Int64Counter("cargo.shipment.cancelled")
	return instruments{created: created, failed: failed, enrichment: enrichment, cancelled: cancelled}
}

// Orchestrator creates shipments and enriches them with carrier waybills.
type Orchestrator struct {
	cfg     Config
	orders  Repository
	ledger  Ledger
	gateway carrier.Gateway
	auth    carrier.AuthProvider
	sched   Scheduler
	events  events.Publisher
	plans   MarkupSource
	pricing *pricing.Engine
	locks   *Locks
	tracer  trace.Tracer
	metrics instruments
	now     func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, d Deps) *Orchestrator {
	d.setDefaults()
	if cfg.EnrichDelay <= 0 {
		cfg.EnrichDelay = defaultEnrichDelay
	}
	if cfg.EnrichAttempts <= 0 {
		cfg.EnrichAttempts = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		orders:  d.Orders,
		ledger:  d.Ledger,
		gateway: d.Gateway,
		auth:    d.Auth,
		sched:   d.Scheduler,
		events:  d.Events,
		plans:   d.Plans,
		pricing: pricing.NewEngine(carrier.RateFeed{Gateway: d.Gateway, Auth: d.Auth}),
		locks:   d.Locks,
		tracer:  d.Tracer.Tracer(instrumentation),
		metrics: newInstruments(d.Meter),
		now:     time.Now,
	}
}

// Order returns an order owned by customerID. An empty customerID skips the
// ownership check.
func (o *Orchestrator) Order(ctx context.Context, orderID, customerID string) (*Order, error) {
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if customerID != "" && ord.CustomerID != customerID {
		return nil, ErrForbidden
	}
	return ord, nil
}

// NewOrder is a channel order handed over for shipping.
type NewOrder struct {
	CustomerID         string
	OrderNumber        string
	Pickup             carrier.Address
	Delivery           carrier.Address
	Packages           []pricing.Package
	Payment            Payment
	InvoiceNumber      string
	FinalCharges       Charge
	Provider           string
	CourierServiceName string
}

func (n *NewOrder) validate() error {
	switch {
	case n.CustomerID == "":
		return errors.Wrap(ErrInvalidOrder, "customer is required")
	case n.OrderNumber == "":
		return errors.Wrap(ErrInvalidOrder, "order number is required")
	case n.Pickup.Pincode == "" || n.Delivery.Pincode == "":
		return errors.Wrap(ErrInvalidOrder, "pickup and delivery pincodes are required")
	case len(n.Packages) == 0:
		return errors.Wrap(ErrInvalidOrder, "at least one package is required")
	case n.Payment.Amount.IsNegative():
		return errors.Wrap(ErrInvalidOrder, "payment amount is negative")
	case n.FinalCharges.Known && n.FinalCharges.Amount.IsNegative():
		return errors.Wrap(ErrInvalidOrder, "final charges are negative")
	}
	for i, p := range n.Packages {
		if p.Units <= 0 {
			return errors.Wrapf(ErrInvalidOrder, "package %d has no units", i)
		}
		if p.Weight.IsNegative() {
			return errors.Wrapf(ErrInvalidOrder, "package %d has negative weight", i)
		}
	}
	return nil
}

// Register stores a new order in the Quoted stage.
func (o *Orchestrator) Register(ctx context.Context, n NewOrder) (*Order, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	if n.Payment.Method == "" {
		n.Payment.Method = PaymentPrepaid
	}

	now := o.now().UTC()
	ord := &Order{
		ID:                 uuid.New().String(),
		CustomerID:         n.CustomerID,
		OrderNumber:        n.OrderNumber,
		Status:             StatusNew,
		Stage:              StageQuoted,
		Pickup:             n.Pickup,
		Delivery:           n.Delivery,
		Packages:           n.Packages,
		Payment:            n.Payment,
		InvoiceNumber:      n.InvoiceNumber,
		FinalCharges:       n.FinalCharges,
		Provider:           n.Provider,
		CourierServiceName: n.CourierServiceName,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	ord.note(StatusNew, now)
	if err := o.orders.Create(ctx, ord); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order registered",
		zap.String("order_id", ord.ID),
		zap.String("customer_id", ord.CustomerID),
		zap.String("order_number", ord.OrderNumber),
	)
	return ord, nil
}

// Quote prices a free-form shipment for customerID.
func (o *Orchestrator) Quote(ctx context.Context, customerID string, req pricing.QuoteRequest) ([]pricing.Quote, error) {
	markup, err := o.plans.MarkupFor(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve markup")
	}
	return o.pricing.Quote(ctx, req, markup)
}

// QuoteOrder prices an existing order for its owner.
func (o *Orchestrator) QuoteOrder(ctx context.Context, orderID, customerID string) ([]pricing.Quote, error) {
	ord, err := o.Order(ctx, orderID, customerID)
	if err != nil {
		return nil, err
	}
	return o.Quote(ctx, ord.CustomerID, ord.QuoteRequest())
}

// CreateShipment runs the shipment flow for one order: balance check, remote
// order, courier association, then a single wallet debit. Waybill enrichment
// is scheduled after the response.
//
// Failures before the debit leave the wallet untouched. An order whose
// remote order exists but whose association failed can be resubmitted; the
// remote order is reused.
func (o *Orchestrator) CreateShipment(ctx context.Context, req CreateRequest) (_ *CreateResult, rerr error) {
	ctx, span := o.tracer.Start(ctx, "shipment.Create", trace.WithAttributes(
		attribute.String("order.id", req.OrderID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	unlock := o.locks.Lock(req.OrderID)
	defer unlock()

	ord, err := o.Order(ctx, req.OrderID, req.CustomerID)
	if err != nil {
		return nil, err
	}
	switch ord.Stage {
	case StageAssociated, StageEnriched:
		return nil, ErrAlreadyShipped
	case StageCancelled:
		return nil, ErrAlreadyCancelled
	}

	charge := req.FinalCharges
	if !charge.Known {
		charge = ord.FinalCharges
	}
	if !charge.Known || charge.Amount.IsNegative() {
		return nil, ErrInvalidCharge
	}
	charge.Amount = charge.Amount.Round(2)

	lg := zctx.From(ctx).With(
		zap.String("order_id", ord.ID),
		zap.String("customer_id", ord.CustomerID),
	)

	w, err := o.ledger.CanCharge(ctx, ord.CustomerID, charge.Amount)
	if err != nil {
		return nil, errors.Wrap(err, "check balance")
	}

	if req.Provider != "" {
		ord.Provider = req.Provider
	}
	if req.CourierServiceName != "" {
		ord.CourierServiceName = req.CourierServiceName
	}
	ord.FinalCharges = charge

	if ord.RemoteOrderID == "" {
		if err := o.createRemote(ctx, lg, ord); err != nil {
			return nil, err
		}
	}

	assoc, err := carrier.WithToken(ctx, o.auth, func(ctx context.Context, token string) (*carrier.Association, error) {
		return o.gateway.AssociateShipment(ctx, token, buildAssociationPayload(ord, o.cfg.ClientID, o.now()))
	})
	if err != nil {
		lg.Warn("Courier association failed", zap.String("remote_order_id", ord.RemoteOrderID), zap.Error(err))
		o.metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "associate")))
		return nil, &CarrierFailure{Kind: ErrAssociationFailed, OrderID: ord.ID, Err: err}
	}

	now := o.now().UTC()
	ord.ShipmentID = assoc.ShipmentID
	if err := ord.moveTo(StageAssociated); err != nil {
		return nil, err
	}
	ord.Status = StatusReadyToShip
	ord.ShipmentCreatedAt = &now
	ord.UpdatedAt = now
	ord.note(StatusReadyToShip, now)
	if err := o.orders.Update(ctx, ord); err != nil {
		lg.Error("Shipment created but order not saved, wallet not charged",
			zap.String("shipment_id", ord.ShipmentID), zap.Error(err))
		return nil, errors.Wrap(err, "save shipment")
	}

	tx, err := o.ledger.Debit(ctx, w.ID, charge.Amount, wallet.Entry{
		CorrelationID: ord.OrderNumber,
		Reference:     ord.ShipmentID,
		Description:   DebitDescription,
	})
	if err != nil {
		return nil, o.compensate(ctx, lg, ord, err)
	}

	ord.ChargeTxID = tx.ID
	if err := o.orders.Update(ctx, ord); err != nil {
		// Cancel finds the debit by shipment id when the reference is missing.
		lg.Error("Wallet charged but charge reference not saved",
			zap.String("transaction_id", tx.ID), zap.Error(err))
	}

	o.scheduleEnrichment(ctx, lg, scheduler.Job{Key: ord.ID, Ref: ord.ShipmentID})
	o.publish(ctx, events.ShipmentCreated, ord, charge.Amount)
	o.metrics.created.Add(ctx, 1)

	lg.Info("Shipment created",
		zap.String("remote_order_id", ord.RemoteOrderID),
		zap.String("shipment_id", ord.ShipmentID),
		zap.Stringer("charged", charge.Amount),
	)

	return &CreateResult{
		OrderID:       ord.ID,
		RemoteOrderID: ord.RemoteOrderID,
		ShipmentID:    ord.ShipmentID,
		Charged:       charge.Amount,
		TransactionID: tx.ID,
	}, nil
}

func (o *Orchestrator) createRemote(ctx context.Context, lg *zap.Logger, ord *Order) error {
	if ord.Stage == StageQuoted || ord.Stage == StageFailed {
		if err := ord.moveTo(StageCharged); err != nil {
			return err
		}
	}

	remote, err := carrier.WithToken(ctx, o.auth, func(ctx context.Context, token string) (*carrier.RemoteOrder, error) {
		return o.gateway.CreateOrder(ctx, token, buildOrderPayload(ord, o.cfg.ClientID))
	})
	if err != nil {
		now := o.now().UTC()
		ord.Stage = StageFailed
		ord.Status = StatusFailed
		ord.UpdatedAt = now
		ord.note(StatusFailed, now)
		if uerr := o.orders.Update(ctx, ord); uerr != nil {
			lg.Error("Save failed order", zap.Error(uerr))
		}
		lg.Warn("Remote order creation failed", zap.Error(err))
		o.metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "create")))
		o.publish(ctx, events.ShipmentFailed, ord, decimal.Zero)
		return &CarrierFailure{Kind: ErrCarrierUnavailable, OrderID: ord.ID, Err: err}
	}

	ord.RemoteOrderID = remote.ID
	if err := ord.moveTo(StageRemoteCreated); err != nil {
		return err
	}
	ord.UpdatedAt = o.now().UTC()
	if err := o.orders.Update(ctx, ord); err != nil {
		lg.Error("Remote order created but not saved", zap.String("remote_order_id", remote.ID), zap.Error(err))
		return errors.Wrap(err, "save remote order")
	}
	return nil
}

// compensate cancels the remote order when the wallet could not be charged
// after association, so that no shipment exists without payment.
func (o *Orchestrator) compensate(ctx context.Context, lg *zap.Logger, ord *Order, debitErr error) error {
	lg.Error("Debit failed after association, cancelling remote order",
		zap.String("remote_order_id", ord.RemoteOrderID), zap.Error(debitErr))

	res, err := carrier.WithToken(ctx, o.auth, func(ctx context.Context, token string) (*carrier.CancelResult, error) {
		return o.gateway.CancelOrder(ctx, token, ord.RemoteOrderID)
	})
	switch {
	case err != nil:
		lg.Error("Compensating cancel failed, shipment left unpaid", zap.Error(err))
	case !res.Accepted:
		lg.Error("Compensating cancel rejected, shipment left unpaid", zap.ByteString("payload", res.Payload))
	default:
		now := o.now().UTC()
		ord.Stage = StageCancelled
		ord.Status = StatusCancelled
		ord.UpdatedAt = now
		ord.note(StatusCancelled, now)
		if uerr := o.orders.Update(ctx, ord); uerr != nil {
			lg.Error("Save compensated order", zap.Error(uerr))
		}
		o.publish(ctx, events.ShipmentCancelled, ord, decimal.Zero)
	}
	o.metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("step", "debit")))
	return errors.Wrap(debitErr, "charge wallet")
}

func (o *Orchestrator) scheduleEnrichment(ctx context.Context, lg *zap.Logger, job scheduler.Job) {
	if err := o.sched.Schedule(ctx, job, o.cfg.EnrichDelay); err != nil {
		lg.Error("Schedule waybill enrichment", zap.Int("attempt", job.Attempt), zap.Error(err))
	}
}

// Enrich fetches the shipment from the carrier and records its waybill. It
// only acts on orders still waiting for one.
func (o *Orchestrator) Enrich(ctx context.Context, orderID, shipmentID string) (_ EnrichOutcome, rerr error) {
	ctx, span := o.tracer.Start(ctx, "shipment.Enrich", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("shipment.id", shipmentID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	unlock := o.locks.Lock(orderID)
	defer unlock()

	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return EnrichFailed, errors.Wrap(err, "get order")
	}
	if ord.Stage != StageAssociated || ord.ShipmentID != shipmentID {
		return EnrichSkipped, nil
	}

	detail, err := carrier.WithToken(ctx, o.auth, func(ctx context.Context, token string) (*carrier.ShipmentDetail, error) {
		return o.gateway.FetchShipmentDetail(ctx, token, shipmentID)
	})
	if err != nil {
		return EnrichFailed, errors.Wrap(err, "fetch shipment")
	}
	if detail.Waybill == "" {
		return EnrichIncomplete, nil
	}

	waybill := detail.Waybill
	ord.Waybill = &waybill
	ord.DeliveryPartner = detail.DeliveryPartner
	ord.LabelURL = detail.LabelURL

	// Children are recorded only when there is one per unit.
	children := detail.ChildWaybills
	if len(children) == 0 && ord.TotalUnits() == 1 {
		children = []string{detail.Waybill}
	}
	if len(children) == ord.TotalUnits() {
		ord.ChildWaybills = children
	} else {
		zctx.From(ctx).Warn("Child waybill count does not match units, children not recorded",
			zap.String("order_id", ord.ID),
			zap.String("waybill", waybill),
			zap.Int("children", len(children)),
			zap.Int("units", ord.TotalUnits()),
		)
		ord.ChildWaybills = nil
	}

	if err := ord.moveTo(StageEnriched); err != nil {
		return EnrichFailed, err
	}
	ord.UpdatedAt = o.now().UTC()
	if err := o.orders.Update(ctx, ord); err != nil {
		return EnrichFailed, errors.Wrap(err, "save waybill")
	}

	o.publish(ctx, events.ShipmentEnriched, ord, decimal.Zero)
	return EnrichDone, nil
}

// HandleEnrichment is the scheduler entry point for deferred enrichment.
// Outcomes are logged; an unfinished enrichment is retried only while
// attempts remain.
func (o *Orchestrator) HandleEnrichment(ctx context.Context, job scheduler.Job) {
	lg := zctx.From(ctx).With(
		zap.String("order_id", job.Key),
		zap.String("shipment_id", job.Ref),
		zap.Int("attempt", job.Attempt),
	)

	outcome, err := o.Enrich(ctx, job.Key, job.Ref)
	o.metrics.enrichment.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))

	switch outcome {
	case EnrichDone:
		lg.Info("Waybill recorded")
		return
	case EnrichSkipped:
		lg.Debug("Enrichment no longer needed")
		return
	case EnrichIncomplete:
		lg.Warn("Carrier has no waybill yet")
	default:
		lg.Error("Waybill enrichment failed", zap.Error(err))
	}

	if next := job.Attempt + 1; next < o.cfg.EnrichAttempts {
		job.Attempt = next
		o.scheduleEnrichment(ctx, lg, job)
	}
}

// ShipmentDetail returns the carrier's view of a shipment.
func (o *Orchestrator) ShipmentDetail(ctx context.Context, shipmentID string) (*carrier.ShipmentDetail, error) {
	return carrier.WithToken(ctx, o.auth, func(ctx context.Context, token string) (*carrier.ShipmentDetail, error) {
		return o.gateway.FetchShipmentDetail(ctx, token, shipmentID)
	})
}

// Track returns the carrier's scan history for a waybill.
func (o *Orchestrator) Track(ctx context.Context, waybill string) (*carrier.Tracking, error) {
	return carrier.WithToken(ctx, o.auth, func(ctx context.Context, token string) (*carrier.Tracking, error) {
		return o.gateway.FetchTracking(ctx, token, waybill)
	})
}

func (o *Orchestrator) publish(ctx context.Context, t events.Type, ord *Order, amount decimal.Decimal) {
	publishEvent(ctx, o.events, o.now, t, ord, amount)
}

func publishEvent(ctx context.Context, p events.Publisher, now func() time.Time, t events.Type, ord *Order, amount decimal.Decimal) {
	e := events.Event{
		ID:            uuid.New().String(),
		Type:          t,
		OrderID:       ord.ID,
		CustomerID:    ord.CustomerID,
		RemoteOrderID: ord.RemoteOrderID,
		ShipmentID:    ord.ShipmentID,
		Amount:        amount,
		At:            now().UTC(),
	}
	if ord.Waybill != nil {
		e.Waybill = *ord.Waybill
	}
	if err := p.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish event", zap.String("type", string(t)), zap.String("order_id", ord.ID), zap.Error(err))
	}
}
