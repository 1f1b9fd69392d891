package shiprocket

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
)

const (
	pickupLayout  = "2006-01-02 15:04:05"
	invoiceLayout = "2006-01-02"
)

func num(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}

func encodeAddress(e *jx.Encoder, a carrier.Address) {
	e.ObjStart()
	e.FieldStart("name")
	e.Str(a.Name)
	e.FieldStart("phone")
	e.Str(a.Phone)
	e.FieldStart("email")
	e.Str(a.Email)
	e.FieldStart("address_line_1")
	e.Str(a.Line1)
	e.FieldStart("address_line_2")
	e.Str(a.Line2)
	e.FieldStart("city")
	e.Str(a.City)
	e.FieldStart("state")
	e.Str(a.State)
	e.FieldStart("pincode")
	e.Str(a.Pincode)
	e.FieldStart("country")
	e.Str(a.Country)
	e.ObjEnd()
}

func encodePackages(e *jx.Encoder, pkgs []pricing.Package) {
	e.ArrStart()
	for _, p := range pkgs {
		e.ObjStart()
		e.FieldStart("units")
		e.Int(p.Units)
		e.FieldStart("weight")
		num(e, p.Weight)
		e.FieldStart("length")
		num(e, p.Length)
		e.FieldStart("width")
		num(e, p.Width)
		e.FieldStart("height")
		num(e, p.Height)
		e.FieldStart("unit")
		e.Str("cm")
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeOrder(p carrier.OrderPayload) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("client_id")
	e.Str(p.ClientID)
	e.FieldStart("order_id")
	e.Str(p.OrderNumber)
	e.FieldStart("pickup_address")
	encodeAddress(&e, p.Pickup)
	e.FieldStart("consignee_address")
	encodeAddress(&e, p.Delivery)
	e.FieldStart("no_of_packages")
	e.Int(p.PackageCount)
	e.FieldStart("approx_weight")
	num(&e, p.TotalWeight)
	e.FieldStart("invoice_value")
	num(&e, p.InvoiceValue)
	e.FieldStart("is_cod")
	e.Bool(p.COD)
	e.FieldStart("cod_amount")
	num(&e, p.CODAmount)
	e.FieldStart("mode")
	e.Str(p.Mode)
	e.FieldStart("courier_service")
	e.Str(p.ServiceName)
	e.FieldStart("invoice_number")
	e.Str(p.InvoiceNumber)
	e.FieldStart("packaging_unit_details")
	encodePackages(&e, p.Packages)
	e.ObjEnd()
	return e.Bytes()
}

func encodeAssociation(p carrier.AssociationPayload) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("client_id")
	e.Str(p.ClientID)
	e.FieldStart("order_id")
	e.Str(p.RemoteOrderID)
	e.FieldStart("pickup_date_time")
	e.Str(p.PickupAt.UTC().Format(pickupLayout))
	e.FieldStart("mode_id")
	e.Int(p.ModeID)
	e.FieldStart("delivery_partner_id")
	e.Int(p.DeliveryPartnerID)
	e.FieldStart("invoice_number")
	e.Str(p.InvoiceNumber)
	e.FieldStart("invoice_value")
	num(&e, p.InvoiceValue)
	e.FieldStart("invoice_date")
	e.Str(p.InvoiceDate.UTC().Format(invoiceLayout))
	e.ObjEnd()
	return e.Bytes()
}

// encodeCancel sends numeric order ids as integers, which is what the
// cancellation API expects.
func encodeCancel(remoteOrderID string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("ids")
	e.ArrStart()
	if n, err := strconv.ParseInt(remoteOrderID, 10, 64); err == nil {
		e.Int64(n)
	} else {
		e.Str(remoteOrderID)
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

func encodeChargesRequest(r pricing.QuoteRequest) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("from_pincode")
	e.Str(r.Origin.Pincode)
	e.FieldStart("to_pincode")
	e.Str(r.Destination.Pincode)
	e.FieldStart("cod")
	e.Bool(r.COD)
	e.FieldStart("invoice_value")
	num(&e, r.DeclaredValue)
	e.FieldStart("calculator_page")
	e.Str("true")
	e.FieldStart("packaging_unit_details")
	encodePackages(&e, r.Packages)
	e.ObjEnd()
	return e.Bytes()
}

func encodeRefresh(refreshToken string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("refresh")
	e.Str(refreshToken)
	e.ObjEnd()
	return e.Bytes()
}

// readString reads a string, number or null as text.
func readString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.Errorf("expected string, got %s", d.Next())
	}
}

// readDecimal reads a number that may be sent as a JSON number or a string.
// ok is false for values that are not numeric.
func readDecimal(d *jx.Decoder) (v decimal.Decimal, ok bool, err error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return v, false, err
		}
		v, err = decimal.NewFromString(n.String())
		return v, err == nil, err
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return v, false, err
		}
		v, err = decimal.NewFromString(strings.TrimSpace(s))
		return v, err == nil, nil
	default:
		return v, false, d.Skip()
	}
}

func readStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := readString(d)
		if err != nil {
			return err
		}
		if s != "" {
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// decodeID returns the first of keys found at the top level, optionally
// nested under "data".
func decodeID(body []byte, keys ...string) (string, error) {
	found := make(map[string]string, len(keys))
	var walk func(d *jx.Decoder) error
	walk = func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key == "data" && d.Next() == jx.Object {
				return walk(d)
			}
			if slices.Contains(keys, key) {
				switch d.Next() {
				case jx.String, jx.Number, jx.Null:
					s, err := readString(d)
					if err != nil {
						return err
					}
					if _, ok := found[key]; !ok {
						found[key] = s
					}
					return nil
				}
			}
			return d.Skip()
		})
	}
	if err := walk(jx.DecodeBytes(body)); err != nil {
		return "", errors.Wrap(err, "decode id")
	}
	for _, k := range keys {
		if v := found[k]; v != "" {
			return v, nil
		}
	}
	return "", nil
}

func decodeStatus(body []byte) (int, error) {
	status := 0
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		s, err := readString(d)
		if err != nil {
			return err
		}
		status, _ = strconv.Atoi(s)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "decode status")
	}
	return status, nil
}

func decodePartner(d *jx.Decoder) (carrier.DeliveryPartner, error) {
	var p carrier.DeliveryPartner
	if d.Next() == jx.Null {
		return p, d.Null()
	}
	if d.Next() != jx.Object {
		// Some responses carry only the partner name.
		s, err := readString(d)
		p.Name = s
		return p, err
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			p.Name, err = readString(d)
		case "common_name":
			p.CommonName, err = readString(d)
		case "logo":
			p.Logo, err = readString(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}

func decodeShipmentDetail(body []byte) (*carrier.ShipmentDetail, error) {
	var (
		s             carrier.ShipmentDetail
		labelFallback string
	)
	var walk func(d *jx.Decoder) error
	walk = func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "data":
				if d.Next() == jx.Object {
					return walk(d)
				}
				err = d.Skip()
			case "id":
				s.ShipmentID, err = readString(d)
			case "waybill_no":
				s.Waybill, err = readString(d)
			case "child_waybill_nos":
				s.ChildWaybills, err = readStrings(d)
			case "delivery_partner":
				s.DeliveryPartner, err = decodePartner(d)
			case "label_url":
				var v string
				v, err = readString(d)
				if v != "" {
					s.LabelURL = v
				}
			case "labelUrl":
				var v string
				v, err = readString(d)
				if v != "" && labelFallback == "" {
					labelFallback = v
				}
			case "status":
				s.Status, err = readString(d)
			default:
				err = d.Skip()
			}
			return err
		})
	}
	if err := walk(jx.DecodeBytes(body)); err != nil {
		return nil, errors.Wrap(err, "decode shipment")
	}
	if s.LabelURL == "" {
		s.LabelURL = labelFallback
	}
	return &s, nil
}

func decodeScan(d *jx.Decoder) (carrier.TrackingEvent, error) {
	var ev carrier.TrackingEvent
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status", "scan":
			s, err := readString(d)
			if s != "" {
				ev.Status = s
			}
			return err
		case "location":
			s, err := readString(d)
			ev.Location = s
			return err
		case "remarks":
			s, err := readString(d)
			ev.Remarks = s
			return err
		case "timestamp", "scan_datetime":
			s, err := readString(d)
			if err != nil || s == "" {
				return err
			}
			if at, perr := time.Parse(time.RFC3339, s); perr == nil {
				ev.At = at
			} else if at, perr := time.Parse(pickupLayout, s); perr == nil {
				ev.At = at
			}
			return nil
		default:
			return d.Skip()
		}
	})
	return ev, err
}

func decodeTracking(body []byte) (*carrier.Tracking, error) {
	var tr carrier.Tracking
	var walk func(d *jx.Decoder) error
	walk = func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "data":
				if d.Next() == jx.Object {
					return walk(d)
				}
				err = d.Skip()
			case "waybill_no":
				tr.Waybill, err = readString(d)
			case "status", "current_status":
				var s string
				s, err = readString(d)
				if s != "" && tr.Status == "" {
					tr.Status = s
				}
			case "scans", "events":
				if d.Next() != jx.Array {
					return d.Skip()
				}
				err = d.Arr(func(d *jx.Decoder) error {
					ev, err := decodeScan(d)
					if err != nil {
						return err
					}
					tr.Events = append(tr.Events, ev)
					return nil
				})
			default:
				err = d.Skip()
			}
			return err
		})
	}
	if err := walk(jx.DecodeBytes(body)); err != nil {
		return nil, errors.Wrap(err, "decode tracking")
	}
	return &tr, nil
}

// decodeCharges reads the calculator response: one object per service,
// keyed by service name. The numeric members of a service's "working"
// object form its breakdown; a few descriptive members name the courier.
// A service without a breakdown cannot be priced and is left out.
func decodeCharges(body []byte) ([]pricing.ServiceCharges, error) {
	var out []pricing.ServiceCharges
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, name string) error {
		if d.Next() != jx.Object {
			return d.Skip()
		}
		s := pricing.ServiceCharges{
			Name: name,
			Mode: serviceMode(name),
		}
		err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "common_name":
				v, err := readString(d)
				if v != "" {
					s.DeliveryPartner = v
				}
				return err
			case "delivery_partner":
				v, err := readString(d)
				if s.DeliveryPartner == "" {
					s.DeliveryPartner = v
				}
				return err
			case "working":
				if d.Next() != jx.Object {
					return d.Skip()
				}
				fields, err := decodeBreakdown(d)
				if err != nil {
					return errors.Wrapf(err, "%s.working", name)
				}
				s.Fields = fields
				return nil
			default:
				return d.Skip()
			}
		})
		if err != nil {
			return err
		}
		if s.Fields != nil {
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode charges")
	}

	slices.SortStableFunc(out, func(a, b pricing.ServiceCharges) int {
		return cmp.Or(
			cmp.Compare(modeRank(a.Mode), modeRank(b.Mode)),
			strings.Compare(a.Name, b.Name),
		)
	})
	return out, nil
}

// decodeBreakdown keeps the numeric members of a charge breakdown.
func decodeBreakdown(d *jx.Decoder) (pricing.Breakdown, error) {
	fields := pricing.Breakdown{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, ok, err := readDecimal(d)
		if err != nil {
			return errors.Wrap(err, key)
		}
		if ok {
			fields[key] = v
		}
		return nil
	})
	return fields, err
}

// serviceMode extracts the transport mode from names like
// "Smart Cargo Advantage-surface".
func serviceMode(name string) string {
	i := strings.LastIndex(name, "-")
	if i < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(name[i+1:]))
}

func modeRank(mode string) int {
	switch mode {
	case "surface":
		return 0
	case "air":
		return 1
	default:
		return 2
	}
}
