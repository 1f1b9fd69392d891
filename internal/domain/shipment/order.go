package shipment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
)

// Persisted status strings.
const (
	StatusNew         = "New"
	StatusReadyToShip = "Ready To Ship"
	StatusCancelled   = "Cancelled"
	StatusFailed      = "Failed"
)

// Stage is where an order sits in the shipment lifecycle.
type Stage string

const (
	StageQuoted        Stage = "quoted"
	StageCharged       Stage = "charged"
	StageRemoteCreated Stage = "remote_created"
	StageAssociated    Stage = "associated"
	StageEnriched      Stage = "enriched"
	StageCancelled     Stage = "cancelled"
	StageFailed        Stage = "failed"
)

var transitions = map[Stage][]Stage{
	StageQuoted:        {StageCharged, StageFailed},
	StageCharged:       {StageRemoteCreated, StageFailed},
	StageRemoteCreated: {StageAssociated, StageFailed},
	StageAssociated:    {StageEnriched, StageCancelled},
	StageEnriched:      {StageCancelled},
	StageFailed:        {StageCharged},
}

// CanMove reports whether an order may move from s to next.
func (s Stage) CanMove(next Stage) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// Payment methods.
const (
	PaymentPrepaid = "prepaid"
	PaymentCOD     = "cod"
)

// Payment is how the consignee pays for the goods.
type Payment struct {
	Method string
	Amount decimal.Decimal
}

// IsCOD reports whether the carrier collects cash on delivery.
func (p Payment) IsCOD() bool {
	return strings.EqualFold(p.Method, PaymentCOD)
}

// Charge is the freight charge recorded on an order. Known is false when the
// charge is unavailable, which the channel records as "N/A".
type Charge struct {
	Amount decimal.Decimal
	Known  bool
}

// NotAvailable is the textual form of an unknown charge.
const NotAvailable = "N/A"

// KnownCharge returns a known charge of amount.
func KnownCharge(amount decimal.Decimal) Charge {
	return Charge{Amount: amount, Known: true}
}

// ParseCharge reads a charge in its textual form.
func ParseCharge(s string) (Charge, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, NotAvailable) {
		return Charge{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Charge{}, errors.Wrapf(err, "parse charge %q", s)
	}
	return KnownCharge(v), nil
}

// Value returns the charge amount, or zero when unknown.
func (c Charge) Value() decimal.Decimal {
	if !c.Known {
		return decimal.Zero
	}
	return c.Amount
}

func (c Charge) String() string {
	if !c.Known {
		return NotAvailable
	}
	return c.Amount.StringFixed(2)
}

// TrackingNote is a free-form status line on an order.
type TrackingNote struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// Order is a channel order being shipped through the carrier.
type Order struct {
	ID                 string
	CustomerID         string
	OrderNumber        string
	Status             string
	Stage              Stage
	Pickup             carrier.Address
	Delivery           carrier.Address
	Packages           []pricing.Package
	Payment            Payment
	InvoiceNumber      string
	FinalCharges       Charge
	Provider           string
	CourierServiceName string
	RemoteOrderID      string
	ShipmentID         string
	// Waybill stays nil until enrichment has recorded one.
	Waybill         *string
	ChildWaybills   []string
	DeliveryPartner carrier.DeliveryPartner
	LabelURL        string
	// ChargeTxID is the wallet transaction that paid for the shipment.
	ChargeTxID        string
	Tracking          []TrackingNote
	ShipmentCreatedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TotalUnits is the number of physical pieces in the shipment.
func (o *Order) TotalUnits() int {
	n := 0
	for _, p := range o.Packages {
		n += p.Units
	}
	return n
}

// Charged reports whether the order records the wallet debit that paid for
// it. The debit itself is authoritative: see Canceller.refundFor.
func (o *Order) Charged() bool {
	return o.ChargeTxID != ""
}

// QuoteRequest derives the rating request for this order.
func (o *Order) QuoteRequest() pricing.QuoteRequest {
	return pricing.QuoteRequest{
		Origin:        pricing.Location{Pincode: o.Pickup.Pincode, City: o.Pickup.City, State: o.Pickup.State},
		Destination:   pricing.Location{Pincode: o.Delivery.Pincode, City: o.Delivery.City, State: o.Delivery.State},
		Packages:      o.Packages,
		DeclaredValue: o.Payment.Amount,
		COD:           o.Payment.IsCOD(),
	}
}

func (o *Order) moveTo(next Stage) error {
	if !o.Stage.CanMove(next) {
		return errors.Errorf("order %s: cannot move from %s to %s", o.ID, o.Stage, next)
	}
	o.Stage = next
	return nil
}

func (o *Order) note(status string, at time.Time) {
	o.Tracking = append(o.Tracking, TrackingNote{Status: status, At: at})
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
}

// ErrOrderNotFound is returned by repositories for unknown order ids.
var ErrOrderNotFound = errors.New("order not found")
