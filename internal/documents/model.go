package documents

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/documents/totals"
)

// UnknownClient is displayed when a document references a client that no
// longer resolves.
const UnknownClient = "Unknown client"

// Unit is the unit-of-measure tag of a line item.
type Unit string

const (
	UnitUnit  Unit = "unit"
	UnitHour  Unit = "hour"
	UnitDay   Unit = "day"
	UnitPiece Unit = "piece"
	UnitMonth Unit = "month"
	UnitKM    Unit = "km"
	UnitM2    Unit = "m2"
	UnitKG    Unit = "kg"
	UnitFlat  Unit = "flat"
)

// Units lists the supported units of measure.
func Units() []Unit {
	return []Unit{UnitUnit, UnitHour, UnitDay, UnitPiece, UnitMonth, UnitKM, UnitM2, UnitKG, UnitFlat}
}

// Valid reports whether u is a supported unit.
func (u Unit) Valid() bool {
	return slices.Contains(Units(), u)
}

// StandardVATRates are the rates offered by default. Other non-negative
// rates are accepted.
var StandardVATRates = []int64{0, 6, 9, 21}

// LineItem is one billable entry of a document. Line items are owned by
// their document and stored embedded in it.
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        Unit            `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	Discount    decimal.Decimal `json:"discount"`
	// Total is quantity × unit price after discount, VAT exclusive.
	Total totals.Amount `json:"total"`
}

func (l LineItem) totalsLine() totals.Line {
	return totals.Line{
		Quantity:  l.Quantity,
		UnitPrice: l.UnitPrice,
		VATRate:   l.VATRate,
		Discount:  l.Discount,
	}
}

// Document is an invoice or a quote.
type Document struct {
	ID             uuid.UUID     `json:"id"`
	Type           doctype.Type  `json:"type"`
	UserID         uuid.UUID     `json:"user_id"`
	ClientID       uuid.UUID     `json:"client_id"`
	Number         string        `json:"number"`
	Date           Date          `json:"date"`
	DueDate        *Date         `json:"due_date,omitempty"`
	DeliveryDate   *Date         `json:"delivery_date,omitempty"`
	PONumber       *string       `json:"po_number,omitempty"`
	Notes          *string       `json:"notes,omitempty"`
	PaymentInfo    *string       `json:"payment_info,omitempty"`
	PaymentTerms   *string       `json:"payment_terms,omitempty"`
	LineItems      []LineItem    `json:"line_items"`
	Subtotal       totals.Amount `json:"subtotal"`
	VATAmount      totals.Amount `json:"vat_amount"`
	Total          totals.Amount `json:"total"`
	Status         status.Status `json:"status"`
	PaidDate       *Date         `json:"paid_date,omitempty"`
	AttachmentPath *string       `json:"attachment_path,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DocumentWithClient is a document joined with its client's display name.
type DocumentWithClient struct {
	Document
	ClientName string `json:"client_name"`
	// Overdue is inferred at read time from the due date; it is not stored.
	Overdue bool `json:"overdue"`
}

// applyTotals derives line totals, subtotal, VAT and grand total from the
// line items. Caller-supplied amounts are always overwritten.
func applyTotals(doc *Document) {
	lines := make([]totals.Line, len(doc.LineItems))
	for i, item := range doc.LineItems {
		lines[i] = item.totalsLine()
	}
	res := totals.Calculate(lines)
	for i := range doc.LineItems {
		doc.LineItems[i].Total = res.Lines[i].Total
	}
	doc.Subtotal = res.Subtotal
	doc.VATAmount = res.VATAmount
	doc.Total = res.Total
}

// clone returns a deep copy of doc.
func (doc Document) clone() Document {
	out := doc
	out.LineItems = slices.Clone(doc.LineItems)
	out.DueDate = cloneDate(doc.DueDate)
	out.DeliveryDate = cloneDate(doc.DeliveryDate)
	out.PaidDate = cloneDate(doc.PaidDate)
	out.PONumber = cloneString(doc.PONumber)
	out.Notes = cloneString(doc.Notes)
	out.PaymentInfo = cloneString(doc.PaymentInfo)
	out.PaymentTerms = cloneString(doc.PaymentTerms)
	out.AttachmentPath = cloneString(doc.AttachmentPath)
	return out
}

func cloneDate(d *Date) *Date {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
