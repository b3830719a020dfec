package documents

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/invoicely/invoicely/internal/documents/doctype"
	"github.com/invoicely/invoicely/internal/documents/totals"
	"github.com/invoicely/invoicely/internal/shared"
)

const maxNumberLength = 64

// maxTotal is the exclusive upper bound of a stored document total.
var maxTotal = decimal.New(1, 12)

func newValidator() *validator.Validate {
	v := shared.NewValidator()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		n, ok := field.Interface().(totals.Number)
		if !ok {
			return nil
		}
		f, _ := n.Float64()
		return f
	}, totals.Number{})
	return v
}

func normalizeLines(in []LineItemInput) []LineItemInput {
	if in == nil {
		return nil
	}
	out := make([]LineItemInput, len(in))
	for i, line := range in {
		out[i] = line.normalized()
	}
	return out
}

func toLineItems(in []LineItemInput) []LineItem {
	out := make([]LineItem, len(in))
	for i, line := range in {
		out[i] = line.toLineItem()
	}
	return out
}

// ValidateCreate checks a create payload without touching the store.
func (s *Store) ValidateCreate(req CreateRequest) error {
	req.LineItems = normalizeLines(req.LineItems)
	return s.validateCreate(req)
}

func (s *Store) validateCreate(req CreateRequest) error {
	verr := &ValidationError{}
	if err := shared.ValidateStruct(s.validate, req); err != nil {
		fields, ok := err.(*ValidationError)
		if !ok {
			return err
		}
		verr = fields
	}
	if req.ClientID == uuid.Nil {
		verr.Add("client_id", "is required")
	}
	checkDates(verr, req.Date, req.DueDate)
	checkTotal(verr, req.LineItems)
	return verr.OrNil()
}

func (s *Store) validateUpdate(req UpdateRequest) error {
	verr := &ValidationError{}
	if err := shared.ValidateStruct(s.validate, req); err != nil {
		fields, ok := err.(*ValidationError)
		if !ok {
			return err
		}
		verr = fields
	}
	if req.LineItems != nil && len(req.LineItems) == 0 {
		verr.Add("line_items", "must contain at least 1 item(s)")
	}
	checkTotal(verr, req.LineItems)
	if req.ClientID != nil && *req.ClientID == uuid.Nil {
		verr.Add("client_id", "is required")
	}
	return verr.OrNil()
}

func checkDates(verr *ValidationError, issued, due *Date) {
	if issued == nil || due == nil || issued.IsZero() || due.IsZero() {
		return
	}
	if due.Before(issued.Time) {
		verr.Add("due_date", "must not be before date")
	}
}

func checkTotal(verr *ValidationError, in []LineItemInput) {
	if len(in) == 0 {
		return
	}
	lines := make([]totals.Line, len(in))
	for i, item := range in {
		lines[i] = totals.Line{
			Quantity:  item.Quantity.Decimal,
			UnitPrice: item.UnitPrice.Decimal,
			VATRate:   item.VATRate.Decimal,
			Discount:  item.Discount.Decimal,
		}
	}
	if totals.Calculate(lines).Total.GreaterThanOrEqual(maxTotal) {
		verr.Add("line_items", "document total must be below "+maxTotal.String())
	}
}

func validateNumber(t doctype.Type, number string) error {
	switch {
	case number == "":
		return shared.NewValidationError("number", "is required")
	case len(number) > maxNumberLength:
		return shared.NewValidationError("number", fmt.Sprintf("must be at most %d characters", maxNumberLength))
	case t.Prefix() == "" || len(number) <= len(t.Prefix()) || number[:len(t.Prefix())+1] != t.Prefix()+"-":
		return shared.NewValidationError("number", fmt.Sprintf("must start with %s-", t.Prefix()))
	}
	return nil
}
