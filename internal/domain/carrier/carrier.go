// Package carrier defines the port through which shipments reach the
// external carrier network.
package carrier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
)

// ErrUnauthorized is returned when the carrier rejects the access token.
var ErrUnauthorized = errors.New("carrier rejected access token")

// Error is a failed carrier call. Payload holds the carrier's response body
// when one was received.
type Error struct {
	Op      string
	Status  int
	Payload []byte
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("carrier %s", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Payload) > 0 {
		msg += ": " + truncate(string(e.Payload), 512)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Address is a pickup or delivery address as sent to the carrier.
type Address struct {
	Name    string
	Phone   string
	Email   string
	Line1   string
	Line2   string
	City    string
	State   string
	Pincode string
	Country string
}

// OrderPayload is the remote order creation request.
type OrderPayload struct {
	ClientID      string
	OrderNumber   string
	Pickup        Address
	Delivery      Address
	Packages      []pricing.Package
	PackageCount  int
	TotalWeight   decimal.Decimal
	InvoiceValue  decimal.Decimal
	COD           bool
	CODAmount     decimal.Decimal
	Mode          string
	ServiceName   string
	InvoiceNumber string
}

// RemoteOrder is the carrier's record of a created order.
type RemoteOrder struct {
	ID string
}

// AssociationPayload attaches a courier to a remote order.
type AssociationPayload struct {
	ClientID          string
	RemoteOrderID     string
	PickupAt          time.Time
	ModeID            int
	DeliveryPartnerID int
	InvoiceNumber     string
	InvoiceValue      decimal.Decimal
	InvoiceDate       time.Time
}

// Association is the carrier's confirmation of a courier assignment.
type Association struct {
	ShipmentID string
}

// DeliveryPartner is the courier that physically moves the shipment.
type DeliveryPartner struct {
	Name       string
	CommonName string
	Logo       string
}

// ShipmentDetail is what the carrier knows about a shipment. Waybill is
// empty until the carrier has generated one.
type ShipmentDetail struct {
	ShipmentID      string
	Waybill         string
	ChildWaybills   []string
	DeliveryPartner DeliveryPartner
	LabelURL        string
	Status          string
}

// TrackingEvent is a single scan on a shipment's journey.
type TrackingEvent struct {
	Status   string
	Location string
	Remarks  string
	At       time.Time
}

// Tracking is the carrier's scan history for a waybill.
type Tracking struct {
	Waybill string
	Status  string
	Events  []TrackingEvent
}

// CancelResult reports whether the carrier accepted a cancellation.
type CancelResult struct {
	Accepted bool
	Payload  []byte
}

// Gateway is the carrier API. Implementations never retry.
type Gateway interface {
	CreateOrder(ctx context.Context, token string, p OrderPayload) (*RemoteOrder, error)
	AssociateShipment(ctx context.Context, token string, p AssociationPayload) (*Association, error)
	FetchShipmentDetail(ctx context.Context, token, shipmentID string) (*ShipmentDetail, error)
	FetchTracking(ctx context.Context, token, waybill string) (*Tracking, error)
	CancelOrder(ctx context.Context, token, remoteOrderID string) (*CancelResult, error)
	Charges(ctx context.Context, token string, req pricing.QuoteRequest) ([]pricing.ServiceCharges, error)
}

// AuthProvider supplies carrier access tokens.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops a cached token so the next Token call fetches anew.
	Invalidate()
}
