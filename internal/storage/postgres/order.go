package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
	"github.com/xenking/cargo-orchestrator/internal/domain/shipment"
)

var _ shipment.Repository = (*OrderRepository)(nil)

var orderColumns = []string{
	"id", "customer_id", "order_number", "status", "stage",
	"pickup", "delivery", "packages", "payment_method", "payment_amount",
	"invoice_number", "final_charges", "provider", "courier_service_name",
	"remote_order_id", "shipment_id", "waybill", "child_waybills",
	"delivery_partner", "label_url", "charge_tx_id", "tracking",
	"shipment_created_at", "created_at", "updated_at",
}

// OrderRepository implements shipment.Repository backed by PostgreSQL.
// Addresses, packages, partner and tracking notes live in JSONB columns.
type OrderRepository struct {
	db tx.DBGetter
}

// NewOrderRepository returns an OrderRepository over d.
func NewOrderRepository(d *DB) *OrderRepository {
	return &OrderRepository{db: d.DBGetter}
}

type orderDocs struct {
	pickup, delivery, packages, partner, tracking []byte
}

func marshalDocs(o *shipment.Order) (orderDocs, error) {
	var (
		d   orderDocs
		err error
	)
	if d.pickup, err = json.Marshal(o.Pickup); err != nil {
		return d, fmt.Errorf("marshaling pickup: %w", err)
	}
	if d.delivery, err = json.Marshal(o.Delivery); err != nil {
		return d, fmt.Errorf("marshaling delivery: %w", err)
	}
	packages := o.Packages
	if packages == nil {
		packages = []pricing.Package{}
	}
	if d.packages, err = json.Marshal(packages); err != nil {
		return d, fmt.Errorf("marshaling packages: %w", err)
	}
	if d.partner, err = json.Marshal(o.DeliveryPartner); err != nil {
		return d, fmt.Errorf("marshaling delivery partner: %w", err)
	}
	tracking := o.Tracking
	if tracking == nil {
		tracking = []shipment.TrackingNote{}
	}
	if d.tracking, err = json.Marshal(tracking); err != nil {
		return d, fmt.Errorf("marshaling tracking: %w", err)
	}
	return d, nil
}

func finalCharges(c shipment.Charge) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: c.Amount, Valid: c.Known}
}

func childWaybills(o *shipment.Order) []string {
	if o.ChildWaybills == nil {
		return []string{}
	}
	return o.ChildWaybills
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *shipment.Order) error {
	docs, err := marshalDocs(o)
	if err != nil {
		return err
	}

	q, args, err := psql.Insert("orders").
		Columns(orderColumns...).
		Values(
			o.ID, o.CustomerID, o.OrderNumber, o.Status, string(o.Stage),
			docs.pickup, docs.delivery, docs.packages, o.Payment.Method, o.Payment.Amount,
			o.InvoiceNumber, finalCharges(o.FinalCharges), o.Provider, o.CourierServiceName,
			o.RemoteOrderID, o.ShipmentID, o.Waybill, childWaybills(o),
			docs.partner, o.LabelURL, o.ChargeTxID, docs.tracking,
			o.ShipmentCreatedAt, o.CreatedAt, o.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building order insert: %w", err)
	}
	if _, err := r.db(ctx).Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*shipment.Order, error) {
	q, args, err := psql.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building order query: %w", err)
	}

	var (
		o       shipment.Order
		stage   string
		charges decimal.NullDecimal
		docs    orderDocs
	)
	err = r.db(ctx).QueryRow(ctx, q, args...).Scan(
		&o.ID, &o.CustomerID, &o.OrderNumber, &o.Status, &stage,
		&docs.pickup, &docs.delivery, &docs.packages, &o.Payment.Method, &o.Payment.Amount,
		&o.InvoiceNumber, &charges, &o.Provider, &o.CourierServiceName,
		&o.RemoteOrderID, &o.ShipmentID, &o.Waybill, &o.ChildWaybills,
		&docs.partner, &o.LabelURL, &o.ChargeTxID, &docs.tracking,
		&o.ShipmentCreatedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shipment.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying order %q: %w", id, err)
	}

	o.Stage = shipment.Stage(stage)
	if charges.Valid {
		o.FinalCharges = shipment.KnownCharge(charges.Decimal)
	}
	if err := unmarshalDocs(&o, docs); err != nil {
		return nil, fmt.Errorf("order %q: %w", id, err)
	}
	return &o, nil
}

func unmarshalDocs(o *shipment.Order, d orderDocs) error {
	if err := json.Unmarshal(d.pickup, &o.Pickup); err != nil {
		return fmt.Errorf("unmarshaling pickup: %w", err)
	}
	if err := json.Unmarshal(d.delivery, &o.Delivery); err != nil {
		return fmt.Errorf("unmarshaling delivery: %w", err)
	}
	if err := json.Unmarshal(d.packages, &o.Packages); err != nil {
		return fmt.Errorf("unmarshaling packages: %w", err)
	}
	var partner carrier.DeliveryPartner
	if err := json.Unmarshal(d.partner, &partner); err != nil {
		return fmt.Errorf("unmarshaling delivery partner: %w", err)
	}
	o.DeliveryPartner = partner
	if err := json.Unmarshal(d.tracking, &o.Tracking); err != nil {
		return fmt.Errorf("unmarshaling tracking: %w", err)
	}
	return nil
}

// Update writes every mutable column of o.
func (r *OrderRepository) Update(ctx context.Context, o *shipment.Order) error {
	docs, err := marshalDocs(o)
	if err != nil {
		return err
	}

	q, args, err := psql.Update("orders").
		SetMap(map[string]any{
			"status":               o.Status,
			"stage":                string(o.Stage),
			"pickup":               docs.pickup,
			"delivery":             docs.delivery,
			"packages":             docs.packages,
			"payment_method":       o.Payment.Method,
			"payment_amount":       o.Payment.Amount,
			"invoice_number":       o.InvoiceNumber,
			"final_charges":        finalCharges(o.FinalCharges),
			"provider":             o.Provider,
			"courier_service_name": o.CourierServiceName,
			"remote_order_id":      o.RemoteOrderID,
			"shipment_id":          o.ShipmentID,
			"waybill":              o.Waybill,
			"child_waybills":       childWaybills(o),
			"delivery_partner":     docs.partner,
			"label_url":            o.LabelURL,
			"charge_tx_id":         o.ChargeTxID,
			"tracking":             docs.tracking,
			"shipment_created_at":  o.ShipmentCreatedAt,
			"updated_at":           o.UpdatedAt,
		}).
		Where(sq.Eq{"id": o.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building order update: %w", err)
	}

	tag, err := r.db(ctx).Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return shipment.ErrOrderNotFound
	}
	return nil
}
