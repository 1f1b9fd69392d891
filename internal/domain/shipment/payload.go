package shipment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
)

// Fixed association parameters of the cargo product.
const (
	associationModeID            = 16
	associationDeliveryPartnerID = 11
	pickupLead                   = 2 * time.Hour
	surfaceMode                  = "surface"
)

var (
	defaultDimension = decimal.NewFromInt(10)
	defaultWeight    = decimal.NewFromInt(1)
)

// invoiceNumber falls back to a number derived from the channel order.
func invoiceNumber(o *Order) string {
	if o.InvoiceNumber != "" {
		return o.InvoiceNumber
	}
	return "INV-" + o.OrderNumber
}

func packagingUnits(pkgs []pricing.Package) []pricing.Package {
	out := make([]pricing.Package, len(pkgs))
	for i, p := range pkgs {
		if !p.Weight.IsPositive() {
			p.Weight = defaultWeight
		}
		if !p.Length.IsPositive() {
			p.Length = defaultDimension
		}
		if !p.Width.IsPositive() {
			p.Width = defaultDimension
		}
		if !p.Height.IsPositive() {
			p.Height = defaultDimension
		}
		out[i] = p
	}
	return out
}

func buildOrderPayload(o *Order, clientID string) carrier.OrderPayload {
	units := packagingUnits(o.Packages)
	weight := decimal.Zero
	for _, p := range units {
		weight = weight.Add(p.Weight.Mul(decimal.NewFromInt(int64(p.Units))))
	}

	p := carrier.OrderPayload{
		ClientID:      clientID,
		OrderNumber:   o.OrderNumber,
		Pickup:        o.Pickup,
		Delivery:      o.Delivery,
		Packages:      units,
		PackageCount:  o.TotalUnits(),
		TotalWeight:   weight,
		InvoiceValue:  o.Payment.Amount,
		Mode:          surfaceMode,
		ServiceName:   o.CourierServiceName,
		InvoiceNumber: invoiceNumber(o),
	}
	if o.Payment.IsCOD() {
		p.COD = true
		p.CODAmount = o.Payment.Amount
	}
	return p
}

func buildAssociationPayload(o *Order, clientID string, now time.Time) carrier.AssociationPayload {
	return carrier.AssociationPayload{
		ClientID:          clientID,
		RemoteOrderID:     o.RemoteOrderID,
		PickupAt:          now.Add(pickupLead),
		ModeID:            associationModeID,
		DeliveryPartnerID: associationDeliveryPartnerID,
		InvoiceNumber:     invoiceNumber(o),
		InvoiceValue:      o.Payment.Amount,
		InvoiceDate:       now,
	}
}
