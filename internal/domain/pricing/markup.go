package pricing

import (
	"github.com/shopspring/decimal"
)

// MarkupFields is the set of carrier charge fields that receive the plan
// markup. Tax and every other field pass through untouched.
var MarkupFields = []string{
	"rate",
	"freight",
	"handling_charges",
	"oda",
	"fsc",
	"awb_charges",
	"rov",
	"fm_charges",
}

// TaxField is the breakdown field holding tax. It is added to the total but
// never marked up.
const TaxField = "gst"

var hundred = decimal.NewFromInt(100)

// Breakdown maps a charge field name to its numeric value. Non-numeric
// carrier fields are not represented.
type Breakdown map[string]decimal.Decimal

// Clone returns a shallow copy of b.
func (b Breakdown) Clone() Breakdown {
	out := make(Breakdown, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Charges is a marked-up breakdown with recomputed totals.
type Charges struct {
	Fields     Breakdown
	Total      decimal.Decimal
	Tax        decimal.Decimal
	GrandTotal decimal.Decimal
}

// ApplyMarkup raises every positive field listed in MarkupFields by
// percent and recomputes the totals. The carrier's own total is ignored:
// Total is the sum of the marked-up fields and GrandTotal adds tax on top.
// All amounts are rounded half away from zero to two decimal places.
func ApplyMarkup(fields Breakdown, percent decimal.Decimal) Charges {
	out := fields.Clone()

	total := decimal.Zero
	for _, name := range MarkupFields {
		v, ok := out[name]
		if !ok {
			continue
		}
		if v.IsPositive() {
			v = v.Add(v.Mul(percent).Div(hundred)).Round(2)
			out[name] = v
		}
		total = total.Add(v)
	}
	total = total.Round(2)

	tax := out[TaxField].Round(2)

	return Charges{
		Fields:     out,
		Total:      total,
		Tax:        tax,
		GrandTotal: total.Add(tax).Round(2),
	}
}
