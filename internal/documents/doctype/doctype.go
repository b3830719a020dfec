// Package doctype names the two document kinds handled by the engine.
package doctype

import (
	"fmt"
	"strings"
)

// Type tags a document as an invoice or a quote.
type Type string

const (
	Invoice Type = "invoice"
	Quote   Type = "quote"
)

// ErrUnknownType is returned by Parse for unsupported tags.
var ErrUnknownType = fmt.Errorf("unknown document type")

// All lists every supported document type.
func All() []Type {
	return []Type{Invoice, Quote}
}

// Parse normalises a raw tag into a Type.
func Parse(raw string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
	return t, nil
}

// Valid reports whether t is a supported type.
func (t Type) Valid() bool {
	return t == Invoice || t == Quote
}

// Prefix returns the document number prefix for t.
func (t Type) Prefix() string {
	switch t {
	case Invoice:
		return "INV"
	case Quote:
		return "QUO"
	default:
		return ""
	}
}

func (t Type) String() string {
	return string(t)
}
