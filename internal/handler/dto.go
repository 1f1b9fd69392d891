package handler

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.openly.dev/pointy"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
	"github.com/xenking/cargo-orchestrator/internal/domain/shipment"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
)

// money renders as a JSON number with two decimals.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}

// charge renders a known charge as a number and an unknown one as "N/A".
// It accepts the same forms, plus numeric strings.
type charge shipment.Charge

func (c charge) MarshalJSON() ([]byte, error) {
	if !c.Known {
		return json.Marshal(shipment.NotAvailable)
	}
	return money(c.Amount).MarshalJSON()
}

func (c *charge) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var (
		parsed shipment.Charge
		err    error
	)
	switch v := raw.(type) {
	case nil:
	case string:
		parsed, err = shipment.ParseCharge(v)
	case float64:
		parsed, err = shipment.ParseCharge(string(b))
	default:
		err = errors.Errorf("final_charges: unexpected %T", raw)
	}
	if err != nil {
		return err
	}
	*c = charge(parsed)
	return nil
}

type addressDTO struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country,omitempty"`
}

func (a addressDTO) domain() carrier.Address {
	return carrier.Address(a)
}

type packageDTO struct {
	Units  int             `json:"units"`
	Weight decimal.Decimal `json:"weight"`
	Length decimal.Decimal `json:"length"`
	Width  decimal.Decimal `json:"width"`
	Height decimal.Decimal `json:"height"`
}

func packagesDomain(in []packageDTO) []pricing.Package {
	out := make([]pricing.Package, len(in))
	for i, p := range in {
		out[i] = pricing.Package(p)
	}
	return out
}

func packagesDTO(in []pricing.Package) []packageDTO {
	out := make([]packageDTO, len(in))
	for i, p := range in {
		out[i] = packageDTO(p)
	}
	return out
}

type paymentDTO struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type createOrderRequest struct {
	// CustomerID is only honoured for admin keys.
	CustomerID         string       `json:"customer_id,omitempty"`
	OrderNumber        string       `json:"order_number"`
	Pickup             addressDTO   `json:"pickup"`
	Delivery           addressDTO   `json:"delivery"`
	Packages           []packageDTO `json:"packages"`
	Payment            paymentDTO   `json:"payment"`
	InvoiceNumber      string       `json:"invoice_number,omitempty"`
	FinalCharges       *charge      `json:"final_charges,omitempty"`
	Provider           string       `json:"provider,omitempty"`
	CourierServiceName string       `json:"courier_service_name,omitempty"`
}

type partnerDTO struct {
	Name       string `json:"name"`
	CommonName string `json:"common_name"`
	Logo       string `json:"logo,omitempty"`
}

type noteDTO struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

type orderResponse struct {
	ID                 string       `json:"id"`
	CustomerID         string       `json:"customer_id"`
	OrderNumber        string       `json:"order_number"`
	Status             string       `json:"status"`
	Stage              string       `json:"stage"`
	Pickup             addressDTO   `json:"pickup"`
	Delivery           addressDTO   `json:"delivery"`
	Packages           []packageDTO `json:"packages"`
	Payment            paymentDTO   `json:"payment"`
	InvoiceNumber      string       `json:"invoice_number,omitempty"`
	FinalCharges       charge       `json:"final_charges"`
	Provider           string       `json:"provider,omitempty"`
	CourierServiceName string       `json:"courier_service_name,omitempty"`
	RemoteOrderID      *string      `json:"remote_order_id"`
	ShipmentID         *string      `json:"shipment_id"`
	Waybill            *string      `json:"waybill"`
	ChildWaybills      []string     `json:"child_waybills"`
	DeliveryPartner    *partnerDTO  `json:"delivery_partner"`
	LabelURL           *string      `json:"label_url"`
	Tracking           []noteDTO    `json:"tracking"`
	ShipmentCreatedAt  *time.Time   `json:"shipment_created_at"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// optional maps "" to nil so that absent values render as null.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return pointy.String(s)
}

func newOrderResponse(o *shipment.Order) orderResponse {
	resp := orderResponse{
		ID:                 o.ID,
		CustomerID:         o.CustomerID,
		OrderNumber:        o.OrderNumber,
		Status:             o.Status,
		Stage:              string(o.Stage),
		Pickup:             addressDTO(o.Pickup),
		Delivery:           addressDTO(o.Delivery),
		Packages:           packagesDTO(o.Packages),
		Payment:            paymentDTO{Method: o.Payment.Method, Amount: o.Payment.Amount},
		InvoiceNumber:      o.InvoiceNumber,
		FinalCharges:       charge(o.FinalCharges),
		Provider:           o.Provider,
		CourierServiceName: o.CourierServiceName,
		RemoteOrderID:      optional(o.RemoteOrderID),
		ShipmentID:         optional(o.ShipmentID),
		Waybill:            o.Waybill,
		ChildWaybills:      o.ChildWaybills,
		LabelURL:           optional(o.LabelURL),
		ShipmentCreatedAt:  o.ShipmentCreatedAt,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if resp.ChildWaybills == nil {
		resp.ChildWaybills = []string{}
	}
	if p := o.DeliveryPartner; p != (carrier.DeliveryPartner{}) {
		resp.DeliveryPartner = &partnerDTO{Name: p.Name, CommonName: p.CommonName, Logo: p.Logo}
	}
	resp.Tracking = make([]noteDTO, len(o.Tracking))
	for i, n := range o.Tracking {
		resp.Tracking[i] = noteDTO(n)
	}
	return resp
}

type quoteRequest struct {
	Origin        pricing.Location `json:"origin"`
	Destination   pricing.Location `json:"destination"`
	Packages      []packageDTO     `json:"packages"`
	DeclaredValue decimal.Decimal  `json:"declared_value"`
	COD           bool             `json:"cod"`
}

func (q quoteRequest) domain() pricing.QuoteRequest {
	return pricing.QuoteRequest{
		Origin:        q.Origin,
		Destination:   q.Destination,
		Packages:      packagesDomain(q.Packages),
		DeclaredValue: q.DeclaredValue,
		COD:           q.COD,
	}
}

type quoteDTO struct {
	ServiceName     string           `json:"service_name"`
	Mode            string           `json:"mode"`
	DeliveryPartner string           `json:"delivery_partner"`
	Breakdown       map[string]money `json:"breakdown"`
	Total           money            `json:"total"`
	Tax             money            `json:"tax"`
	GrandTotal      money            `json:"grand_total"`
}

func newQuotes(in []pricing.Quote) []quoteDTO {
	out := make([]quoteDTO, len(in))
	for i, q := range in {
		breakdown := make(map[string]money, len(q.Fields))
		for k, v := range q.Fields {
			breakdown[k] = money(v)
		}
		out[i] = quoteDTO{
			ServiceName:     q.ServiceName,
			Mode:            q.Mode,
			DeliveryPartner: q.DeliveryPartner,
			Breakdown:       breakdown,
			Total:           money(q.Total),
			Tax:             money(q.Tax),
			GrandTotal:      money(q.GrandTotal),
		}
	}
	return out
}

type createShipmentRequest struct {
	OrderID            string  `json:"order_id"`
	Provider           string  `json:"provider,omitempty"`
	CourierServiceName string  `json:"courier_service_name,omitempty"`
	FinalCharges       *charge `json:"final_charges,omitempty"`
}

type createShipmentResponse struct {
	OrderID       string  `json:"order_id"`
	RemoteOrderID string  `json:"remote_order_id"`
	ShipmentID    string  `json:"shipment_id"`
	Waybill       *string `json:"waybill"`
	Charged       money   `json:"charged"`
	TransactionID string  `json:"transaction_id"`
}

type cancelResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Refunded      money  `json:"refunded"`
	TransactionID string `json:"transaction_id"`
}

type shipmentResponse struct {
	ShipmentID      string     `json:"shipment_id"`
	Waybill         *string    `json:"waybill"`
	ChildWaybills   []string   `json:"child_waybills"`
	DeliveryPartner partnerDTO `json:"delivery_partner"`
	LabelURL        *string    `json:"label_url"`
	Status          string     `json:"status"`
}

func newShipmentResponse(d *carrier.ShipmentDetail) shipmentResponse {
	children := d.ChildWaybills
	if children == nil {
		children = []string{}
	}
	return shipmentResponse{
		ShipmentID:      d.ShipmentID,
		Waybill:         optional(d.Waybill),
		ChildWaybills:   children,
		DeliveryPartner: partnerDTO(d.DeliveryPartner),
		LabelURL:        optional(d.LabelURL),
		Status:          d.Status,
	}
}

type trackingEventDTO struct {
	Status   string    `json:"status"`
	Location string    `json:"location,omitempty"`
	Remarks  string    `json:"remarks,omitempty"`
	At       time.Time `json:"at"`
}

type trackingResponse struct {
	Waybill string             `json:"waybill"`
	Status  string             `json:"status"`
	Events  []trackingEventDTO `json:"events"`
}

func newTrackingResponse(t *carrier.Tracking) trackingResponse {
	resp := trackingResponse{Waybill: t.Waybill, Status: t.Status, Events: make([]trackingEventDTO, len(t.Events))}
	for i, e := range t.Events {
		resp.Events[i] = trackingEventDTO(e)
	}
	return resp
}

type transactionDTO struct {
	ID            string    `json:"id"`
	Category      string    `json:"category"`
	Amount        money     `json:"amount"`
	BalanceAfter  money     `json:"balance_after"`
	CorrelationID string    `json:"correlation_id"`
	Reference     string    `json:"reference"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

type walletResponse struct {
	ID               string           `json:"id"`
	CustomerID       string           `json:"customer_id"`
	Balance          money            `json:"balance"`
	HoldAmount       money            `json:"hold_amount"`
	EffectiveBalance money            `json:"effective_balance"`
	Transactions     []transactionDTO `json:"transactions"`
}

func newWalletResponse(s *wallet.Statement) walletResponse {
	w := s.Wallet
	resp := walletResponse{
		ID:               w.ID,
		CustomerID:       w.CustomerID,
		Balance:          money(w.Balance),
		HoldAmount:       money(w.HoldAmount),
		EffectiveBalance: money(w.EffectiveBalance()),
		Transactions:     make([]transactionDTO, len(s.Transactions)),
	}
	for i, t := range s.Transactions {
		resp.Transactions[i] = transactionDTO{
			ID:            t.ID,
			Category:      string(t.Category),
			Amount:        money(t.Amount),
			BalanceAfter:  money(t.BalanceAfter),
			CorrelationID: t.CorrelationID,
			Reference:     t.Reference,
			Description:   t.Description,
			CreatedAt:     t.CreatedAt,
		}
	}
	return resp
}

type planDTO struct {
	Serial       int       `json:"serial"`
	CustomerID   string    `json:"customer_id"`
	CustomerName string    `json:"customer_name"`
	Tier         string    `json:"tier"`
	Label        string    `json:"label"`
	Markup       string    `json:"markup"`
	AssignedAt   time.Time `json:"assigned_at"`
}

func newPlanDTO(serial int, p plan.Plan) planDTO {
	return planDTO{
		Serial:       serial,
		CustomerID:   p.CustomerID,
		CustomerName: p.CustomerName,
		Tier:         string(p.Tier),
		Label:        p.Tier.Label(),
		Markup:       p.Tier.Markup().String(),
		AssignedAt:   p.AssignedAt,
	}
}

type assignPlanRequest struct {
	CustomerName string `json:"customer_name"`
	Tier         string `json:"tier"`
}
