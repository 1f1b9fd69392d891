package shipment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
	"github.com/xenking/cargo-orchestrator/internal/events"
)

// CancelResult describes a completed cancellation.
type CancelResult struct {
	OrderID       string
	Refunded      decimal.Decimal
	TransactionID string
}

// Canceller cancels shipped orders and refunds their freight charge.
type Canceller struct {
	orders  Repository
	ledger  Ledger
	gateway carrier.Gateway
	auth    carrier.AuthProvider
	events  events.Publisher
	locks   *Locks
	tracer  trace.Tracer
	metrics instruments
	now     func() time.Time
}

// NewCanceller creates a Canceller. Pass the same Locks as the Orchestrator.
func NewCanceller(d Deps) *Canceller {
	d.setDefaults()
	return &Canceller{
		orders:  d.Orders,
		ledger:  d.Ledger,
		gateway: d.Gateway,
		auth:    d.Auth,
		events:  d.Events,
		locks:   d.Locks,
		tracer:  d.Tracer.Tracer(instrumentation),
		metrics: newInstruments(d.Meter),
		now:     time.Now,
	}
}

// Cancel cancels the customer's order at the carrier, marks it cancelled and
// credits back what was charged. An unavailable charge refunds nothing. The
// wallet is only touched after the carrier has accepted the cancellation.
func (c *Canceller) Cancel(ctx context.Context, orderID, customerID string) (_ *CancelResult, rerr error) {
	ctx, span := c.tracer.Start(ctx, "shipment.Cancel", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	ord, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if ord.CustomerID != customerID {
		return nil, ErrForbidden
	}
	if ord.Stage == StageCancelled {
		return nil, ErrAlreadyCancelled
	}
	if ord.RemoteOrderID == "" || !ord.Stage.CanMove(StageCancelled) {
		return nil, errors.Wrapf(ErrNotCancellable, "order in stage %s", ord.Stage)
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", ord.ID),
		zap.String("remote_order_id", ord.RemoteOrderID),
	)

	w, err := c.ledger.Wallet(ctx, ord.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "refund wallet")
	}
	refund, err := c.refundFor(ctx, lg, w.ID, ord)
	if err != nil {
		return nil, err
	}

	res, err := carrier.WithToken(ctx, c.auth, func(ctx context.Context, token string) (*carrier.CancelResult, error) {
		return c.gateway.CancelOrder(ctx, token, ord.RemoteOrderID)
	})
	if err != nil {
		return nil, &CarrierFailure{Kind: ErrCancellationRejected, OrderID: ord.ID, Err: err}
	}
	if !res.Accepted {
		return nil, &CarrierFailure{
			Kind:    ErrCancellationRejected,
			OrderID: ord.ID,
			Err:     &carrier.Error{Op: "cancel order", Payload: res.Payload},
		}
	}

	now := c.now().UTC()
	if err := ord.moveTo(StageCancelled); err != nil {
		return nil, err
	}
	ord.Status = StatusCancelled
	ord.UpdatedAt = now
	ord.note(StatusCancelled, now)
	if err := c.orders.Update(ctx, ord); err != nil {
		lg.Error("Carrier cancelled the order but it was not saved", zap.Error(err))
		return nil, errors.Wrap(err, "save cancellation")
	}

	reference := ord.ShipmentID
	if ord.Waybill != nil {
		reference = *ord.Waybill
	}
	tx, err := c.ledger.Credit(ctx, w.ID, refund, wallet.Entry{
		CorrelationID: ord.OrderNumber,
		Reference:     reference,
		Description:   CreditDescription,
	})
	if err != nil {
		lg.Error("Order cancelled but refund failed", zap.Stringer("refund", refund), zap.Error(err))
		return nil, errors.Wrap(err, "refund")
	}

	publishEvent(ctx, c.events, c.now, events.ShipmentCancelled, ord, refund)
	c.metrics.cancelled.Add(ctx, 1)
	lg.Info("Order cancelled", zap.Stringer("refund", refund))

	return &CancelResult{
		OrderID:       ord.ID,
		Refunded:      refund,
		TransactionID: tx.ID,
	}, nil
}

// refundFor returns what the order paid. The order normally records its
// debit; when that reference was not saved the wallet's debit against the
// shipment decides.
func (c *Canceller) refundFor(ctx context.Context, lg *zap.Logger, walletID string, ord *Order) (decimal.Decimal, error) {
	if ord.Charged() {
		return ord.FinalCharges.Value(), nil
	}
	tx, err := c.ledger.FindDebit(ctx, walletID, ord.ShipmentID)
	switch {
	case errors.Is(err, wallet.ErrNoTransaction):
		return decimal.Zero, nil
	case err != nil:
		return decimal.Zero, errors.Wrap(err, "find charge")
	}
	lg.Warn("Order has no charge reference, refunding the wallet debit",
		zap.String("transaction_id", tx.ID),
		zap.Stringer("amount", tx.Amount),
	)
	ord.ChargeTxID = tx.ID
	return ord.FinalCharges.Value(), nil
}
