// Package events publishes shipment lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Type names a lifecycle event.
type Type string

const (
	ShipmentCreated   Type = "shipment.created"
	ShipmentEnriched  Type = "shipment.enriched"
	ShipmentCancelled Type = "shipment.cancelled"
	ShipmentFailed    Type = "shipment.failed"
)

// Event is a lifecycle change of one order.
type Event struct {
	ID            string
	Type          Type
	OrderID       string
	CustomerID    string
	RemoteOrderID string
	ShipmentID    string
	Waybill       string
	Amount        decimal.Decimal
	At            time.Time
}

// Encode renders e as JSON.
func (e Event) Encode() []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("id")
	w.Str(e.ID)
	w.FieldStart("type")
	w.Str(string(e.Type))
	w.FieldStart("order_id")
	w.Str(e.OrderID)
	w.FieldStart("customer_id")
	w.Str(e.CustomerID)
	if e.RemoteOrderID != "" {
		w.FieldStart("remote_order_id")
		w.Str(e.RemoteOrderID)
	}
	if e.ShipmentID != "" {
		w.FieldStart("shipment_id")
		w.Str(e.ShipmentID)
	}
	if e.Waybill != "" {
		w.FieldStart("waybill")
		w.Str(e.Waybill)
	}
	w.FieldStart("amount")
	w.Num(jx.Num(e.Amount.StringFixed(2)))
	w.FieldStart("at")
	w.Str(e.At.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return w.Bytes()
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }
