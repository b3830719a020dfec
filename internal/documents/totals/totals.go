// Package totals derives line, subtotal, VAT and grand totals from line items.
//
// Inputs that cannot be read as a number count as zero. The calculator never
// fails and never emits NaN.
package totals

import (
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places emitted amounts are rounded to.
const Places int32 = 2

var hundred = decimal.NewFromInt(100)

// Line is the numeric part of a line item.
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	VATRate   decimal.Decimal
	// Discount is a percentage applied before VAT. Zero means no discount.
	Discount decimal.Decimal
}

// LineResult carries the per-line amounts, rounded to Places.
type LineResult struct {
	Total     Amount `json:"total"`
	VATAmount Amount `json:"vat_amount"`
}

// Result is the outcome of Calculate.
type Result struct {
	Subtotal  Amount       `json:"subtotal"`
	VATAmount Amount       `json:"vat_amount"`
	Total     Amount       `json:"total"`
	Lines     []LineResult `json:"lines"`
}

// Calculate computes totals for lines. VAT is computed per line and summed at
// full precision; emitted values are rounded half-up to two places.
func Calculate(lines []Line) Result {
	subtotal := decimal.Zero
	vat := decimal.Zero
	results := make([]LineResult, 0, len(lines))
	for _, line := range lines {
		net, lineVAT := lineAmounts(line)
		subtotal = subtotal.Add(net)
		vat = vat.Add(lineVAT)
		results = append(results, LineResult{
			Total:     NewAmount(net),
			VATAmount: NewAmount(lineVAT),
		})
	}
	sub := NewAmount(subtotal)
	vatAmount := NewAmount(vat)
	return Result{
		Subtotal:  sub,
		VATAmount: vatAmount,
		Total:     NewAmount(sub.Add(vatAmount.Decimal)),
		Lines:     results,
	}
}

// LineTotal returns the VAT-exclusive total of a single line.
func LineTotal(line Line) decimal.Decimal {
	net, _ := lineAmounts(line)
	return Round(net)
}

// Round rounds d half-up (away from zero) to Places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

func lineAmounts(line Line) (net, vat decimal.Decimal) {
	net = line.Quantity.Mul(line.UnitPrice)
	if discount := clampPercent(line.Discount); !discount.IsZero() {
		net = net.Mul(hundred.Sub(discount)).Div(hundred)
	}
	vat = net.Mul(line.VATRate).Div(hundred)
	return net, vat
}

func clampPercent(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}
