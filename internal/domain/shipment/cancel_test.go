package shipment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
	"github.com/xenking/cargo-orchestrator/internal/events"
)

func TestCancel_RefundsCharge(t *testing.T) {
	ord := newTestOrder()
	ord.FinalCharges = KnownCharge(d("300"))
	f := newFixture(t, "1000", Config{}, ord)
	_, err := f.create(t)
	require.NoError(t, err)
	require.True(t, d("700").Equal(f.wallets.balance()))

	res, err := f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.NoError(t, err)

	assert.Equal(t, "order-1", res.OrderID)
	assert.True(t, d("300").Equal(res.Refunded))
	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, "R-100", f.gateway.lastCancel)

	credits := f.wallets.transactions(wallet.Credit)
	require.Len(t, credits, 1)
	assert.True(t, d("300").Equal(credits[0].Amount))
	assert.Equal(t, CreditDescription, credits[0].Description)
	assert.Equal(t, "ORD-1001", credits[0].CorrelationID)
	assert.True(t, d("1000").Equal(f.wallets.balance()))

	got := f.orders.get("order-1")
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, StageCancelled, got.Stage)
	assert.Equal(t, StatusCancelled, got.Tracking[len(got.Tracking)-1].Status)

	assert.Equal(t, []events.Type{events.ShipmentCreated, events.ShipmentCancelled}, f.events.types())
}

func TestCancel_UsesWaybillAsReference(t *testing.T) {
	f := newFixture(t, "500", Config{})
	_, err := f.create(t)
	require.NoError(t, err)
	f.gateway.detail = &carrier.ShipmentDetail{Waybill: "WB-1", ChildWaybills: []string{"a", "b", "c"}}
	_, err = f.orch.Enrich(context.Background(), "order-1", "S-200")
	require.NoError(t, err)

	_, err = f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.NoError(t, err)

	credits := f.wallets.transactions(wallet.Credit)
	require.Len(t, credits, 1)
	assert.Equal(t, "WB-1", credits[0].Reference)
}

func TestCancel_UnavailableChargeRefundsNothing(t *testing.T) {
	ord := newTestOrder()
	ord.Stage = StageAssociated
	ord.RemoteOrderID = "R-100"
	ord.ShipmentID = "S-200"
	ord.FinalCharges = Charge{}
	f := newFixture(t, "500", Config{}, ord)

	res, err := f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.NoError(t, err)

	assert.True(t, res.Refunded.IsZero())
	credits := f.wallets.transactions(wallet.Credit)
	require.Len(t, credits, 1, "zero credit is still recorded")
	assert.True(t, credits[0].Amount.IsZero())
	assert.True(t, d("500").Equal(f.wallets.balance()))
}

func TestCancel_NeverChargedRefundsNothing(t *testing.T) {
	ord := newTestOrder()
	ord.Stage = StageAssociated
	ord.RemoteOrderID = "R-100"
	ord.ShipmentID = "S-200"
	f := newFixture(t, "500", Config{}, ord)

	res, err := f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.NoError(t, err)
	assert.True(t, res.Refunded.IsZero())
	assert.True(t, d("500").Equal(f.wallets.balance()))
}

func TestCancel_RefundsDebitWhenChargeReferenceLost(t *testing.T) {
	f := newFixture(t, "500", Config{})
	lost := errors.New("connection reset")
	f.orders.failUpdate = func(o *Order) error {
		if o.ChargeTxID != "" && o.Stage == StageAssociated {
			return lost
		}
		return nil
	}

	res, err := f.create(t)
	require.NoError(t, err, "the shipment exists and is paid")
	assert.True(t, d("316").Equal(f.wallets.balance()))
	assert.Empty(t, f.orders.get("order-1").ChargeTxID)

	cancelled, err := f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.NoError(t, err)
	assert.True(t, d("184").Equal(cancelled.Refunded))
	assert.True(t, d("500").Equal(f.wallets.balance()))

	ord := f.orders.get("order-1")
	assert.Equal(t, res.TransactionID, ord.ChargeTxID, "cancellation records the debit it refunded")
	assert.Equal(t, StageCancelled, ord.Stage)
}

func TestCancel_NotCancellable(t *testing.T) {
	tests := []struct {
		name       string
		customerID string
		mutate     func(*Order)
	}{
		{
			name:       "no remote order",
			customerID: "cust-1",
			mutate:     func(*Order) {},
		},
		{
			name:       "failed order",
			customerID: "cust-1",
			mutate: func(o *Order) {
				o.Stage = StageFailed
				o.RemoteOrderID = "R-100"
			},
		},
		{
			name:       "association pending",
			customerID: "cust-1",
			mutate: func(o *Order) {
				o.Stage = StageRemoteCreated
				o.RemoteOrderID = "R-100"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ord := newTestOrder()
			tt.mutate(ord)
			f := newFixture(t, "500", Config{}, ord)

			_, err := f.canceller.Cancel(context.Background(), "order-1", tt.customerID)
			require.ErrorIs(t, err, ErrNotCancellable)
			assert.Zero(t, f.gateway.cancelCalls)
			assert.Empty(t, f.wallets.txs)
		})
	}
}

func TestCancel_OtherCustomer(t *testing.T) {
	ord := newTestOrder()
	ord.Stage = StageAssociated
	ord.RemoteOrderID = "R-100"
	f := newFixture(t, "500", Config{}, ord)

	_, err := f.canceller.Cancel(context.Background(), "order-1", "cust-2")
	require.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, f.gateway.cancelCalls)
	assert.Empty(t, f.wallets.txs)
	assert.Equal(t, StageAssociated, f.orders.get("order-1").Stage)
}

func TestCancel_Rejected(t *testing.T) {
	f := newFixture(t, "500", Config{})
	_, err := f.create(t)
	require.NoError(t, err)
	f.gateway.cancel = &carrier.CancelResult{Accepted: false, Payload: []byte(`{"message":"already picked up"}`)}

	_, err = f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.ErrorIs(t, err, ErrCancellationRejected)

	var failure *CarrierFailure
	require.ErrorAs(t, err, &failure)
	assert.JSONEq(t, `{"message":"already picked up"}`, string(failure.Payload()))

	assert.Empty(t, f.wallets.transactions(wallet.Credit))
	assert.True(t, d("316").Equal(f.wallets.balance()))
	got := f.orders.get("order-1")
	assert.Equal(t, StatusReadyToShip, got.Status)
	assert.Equal(t, StageAssociated, got.Stage)
}

func TestCancel_CarrierError(t *testing.T) {
	f := newFixture(t, "500", Config{})
	_, err := f.create(t)
	require.NoError(t, err)
	f.gateway.cancelErr = &carrier.Error{Op: "cancel order", Status: 500}

	_, err = f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.ErrorIs(t, err, ErrCancellationRejected)
	assert.Empty(t, f.wallets.transactions(wallet.Credit))
}

func TestCancel_Twice(t *testing.T) {
	f := newFixture(t, "500", Config{})
	_, err := f.create(t)
	require.NoError(t, err)

	_, err = f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.NoError(t, err)
	_, err = f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.ErrorIs(t, err, ErrAlreadyCancelled)

	assert.Len(t, f.wallets.transactions(wallet.Credit), 1)
	assert.Equal(t, 1, f.gateway.cancelCalls)
}

func TestCancel_CreateAfterCancel(t *testing.T) {
	f := newFixture(t, "500", Config{})
	_, err := f.create(t)
	require.NoError(t, err)
	_, err = f.canceller.Cancel(context.Background(), "order-1", "cust-1")
	require.NoError(t, err)

	_, err = f.create(t)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
}
