// Package pricing turns raw carrier charge sheets into customer-facing quotes
// by applying the customer's plan markup to a fixed set of charge fields.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for quoting.
var (
	ErrInvalidRequest = errors.New("quote request is incomplete")
	ErrNoServices     = errors.New("carrier offered no services")
)

// Location is a pickup or delivery point as far as rating is concerned.
type Location struct {
	Pincode string
	City    string
	State   string
}

// Package describes one group of identical packages.
type Package struct {
	Units  int             `json:"units"`
	Weight decimal.Decimal `json:"weight"`
	Length decimal.Decimal `json:"length"`
	Width  decimal.Decimal `json:"width"`
	Height decimal.Decimal `json:"height"`
}

// QuoteRequest holds the shipment shape the carrier needs for rating.
type QuoteRequest struct {
	Origin        Location
	Destination   Location
	Packages      []Package
	DeclaredValue decimal.Decimal
	COD           bool
}

// TotalUnits returns the sum of units across all packages.
func (r QuoteRequest) TotalUnits() int {
	n := 0
	for _, p := range r.Packages {
		n += p.Units
	}
	return n
}

// TotalWeight returns the chargeable weight across all packages.
func (r QuoteRequest) TotalWeight() decimal.Decimal {
	w := decimal.Zero
	for _, p := range r.Packages {
		w = w.Add(p.Weight.Mul(decimal.NewFromInt(int64(p.Units))))
	}
	return w
}

// Validate checks that the carrier has enough information to rate.
func (r QuoteRequest) Validate() error {
	if r.Origin.Pincode == "" || r.Destination.Pincode == "" {
		return errors.Wrap(ErrInvalidRequest, "pincode required")
	}
	if r.TotalUnits() <= 0 {
		return errors.Wrap(ErrInvalidRequest, "at least one package unit required")
	}
	if r.DeclaredValue.IsNegative() {
		return errors.Wrap(ErrInvalidRequest, "declared value must not be negative")
	}
	return nil
}

// ServiceCharges is the raw charge sheet the carrier returns for one service.
type ServiceCharges struct {
	Name            string
	Mode            string
	DeliveryPartner string
	Fields          Breakdown
}

// Quote is a single priced service option.
type Quote struct {
	ServiceName     string
	Mode            string
	DeliveryPartner string
	Charges
}

// RateSource provides raw charge sheets for a shipment.
type RateSource interface {
	Charges(ctx context.Context, req QuoteRequest) ([]ServiceCharges, error)
}

// Engine prices shipments against a rate source.
type Engine struct {
	rates RateSource
}

// NewEngine creates an Engine backed by the given rate source.
func NewEngine(rates RateSource) *Engine {
	return &Engine{rates: rates}
}

// Quote fetches raw charges for every service the carrier offers and applies
// markupPercent to each. Either every service is priced or an error is
// returned.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest, markupPercent decimal.Decimal) ([]Quote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	services, err := e.rates.Charges(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch charges")
	}
	if len(services) == 0 {
		return nil, ErrNoServices
	}

	quotes := make([]Quote, len(services))
	for i, s := range services {
		quotes[i] = Quote{
			ServiceName:     s.Name,
			Mode:            s.Mode,
			DeliveryPartner: s.DeliveryPartner,
			Charges:         ApplyMarkup(s.Fields, markupPercent),
		}
	}
	return quotes, nil
}
