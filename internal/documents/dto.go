package documents

import (
	"strings"

	"github.com/google/uuid"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/status"
	"github.com/invoicely/invoicely/internal/documents/totals"
)

// LineItemInput is a line item as submitted by a client. Numeric fields
// decode leniently; unreadable values become zero and are then rejected by
// validation where zero is not allowed.
type LineItemInput struct {
	ID          *uuid.UUID    `json:"id,omitempty"`
	Description string        `json:"description" validate:"required,max=500"`
	Quantity    totals.Number `json:"quantity" validate:"gte=0.01,lte=1000000000"`
	Unit        Unit          `json:"unit" validate:"omitempty,oneof=unit hour day piece month km m2 kg flat"`
	UnitPrice   totals.Number `json:"unit_price" validate:"gte=0,lte=1000000000"`
	VATRate     totals.Number `json:"vat_rate" validate:"gte=0,lte=100"`
	Discount    totals.Number `json:"discount" validate:"gte=0,lte=100"`
}

func (in LineItemInput) normalized() LineItemInput {
	in.Description = strings.TrimSpace(in.Description)
	in.Unit = Unit(strings.ToLower(strings.TrimSpace(string(in.Unit))))
	return in
}

func (in LineItemInput) toLineItem() LineItem {
	id := uuid.New()
	if in.ID != nil && *in.ID != uuid.Nil {
		id = *in.ID
	}
	unit := in.Unit
	if unit == "" {
		unit = UnitUnit
	}
	return LineItem{
		ID:          id,
		Description: in.Description,
		Quantity:    in.Quantity.Decimal,
		Unit:        unit,
		UnitPrice:   in.UnitPrice.Decimal,
		VATRate:     in.VATRate.Decimal,
		Discount:    in.Discount.Decimal,
	}
}

// CreateRequest is the payload for creating a document. The owner is always
// taken from the authenticated context and the number is generated.
type CreateRequest struct {
	Type           doctype.Type    `json:"type" validate:"required,oneof=invoice quote"`
	ClientID       uuid.UUID       `json:"client_id"`
	Date           *Date           `json:"date,omitempty"`
	DueDate        *Date           `json:"due_date,omitempty"`
	DeliveryDate   *Date           `json:"delivery_date,omitempty"`
	PONumber       *string         `json:"po_number,omitempty" validate:"omitempty,max=100"`
	Notes          *string         `json:"notes,omitempty" validate:"omitempty,max=5000"`
	PaymentInfo    *string         `json:"payment_info,omitempty" validate:"omitempty,max=2000"`
	PaymentTerms   *string         `json:"payment_terms,omitempty" validate:"omitempty,max=2000"`
	LineItems      []LineItemInput `json:"line_items" validate:"min=1,dive"`
	AttachmentPath *string         `json:"attachment_path,omitempty" validate:"omitempty,max=1024"`
}

// UpdateRequest is a partial update. Nil fields are left untouched; line
// items are replaced only when supplied, and a supplied empty list is
// rejected.
type UpdateRequest struct {
	ClientID       *uuid.UUID      `json:"client_id,omitempty"`
	Date           *Date           `json:"date,omitempty"`
	DueDate        *Date           `json:"due_date,omitempty"`
	DeliveryDate   *Date           `json:"delivery_date,omitempty"`
	PONumber       *string         `json:"po_number,omitempty" validate:"omitempty,max=100"`
	Notes          *string         `json:"notes,omitempty" validate:"omitempty,max=5000"`
	PaymentInfo    *string         `json:"payment_info,omitempty" validate:"omitempty,max=2000"`
	PaymentTerms   *string         `json:"payment_terms,omitempty" validate:"omitempty,max=2000"`
	LineItems      []LineItemInput `json:"line_items,omitempty" validate:"omitempty,dive"`
	AttachmentPath *string         `json:"attachment_path,omitempty" validate:"omitempty,max=1024"`
}

// StatusRequest changes a document's status either directly or through a
// named workflow action. Exactly one of the fields must be set.
type StatusRequest struct {
	Status status.Status `json:"status,omitempty"`
	Action status.Action `json:"action,omitempty"`
}

// ListRequest filters a tenant's documents.
type ListRequest struct {
	Type     *doctype.Type  `json:"type,omitempty"`
	Status   *status.Status `json:"status,omitempty"`
	ClientID *uuid.UUID     `json:"client_id,omitempty"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

// PreviewRequest asks for totals of unsaved line items.
type PreviewRequest struct {
	LineItems []LineItemInput `json:"line_items"`
}
