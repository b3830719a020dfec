package totals

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxIntegerDigits bounds the integer part of a parsed value.
	MaxIntegerDigits = 18
	// MaxFractionDigits bounds the fractional part of a parsed value.
	MaxFractionDigits = 20
)

// Parse reads v as a decimal. Missing, empty, non-numeric and non-finite
// values yield zero, as do values with more than MaxIntegerDigits integer
// digits or MaxFractionDigits fractional digits.
func Parse(v any) decimal.Decimal {
	switch n := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return n
	case *decimal.Decimal:
		if n == nil {
			return decimal.Zero
		}
		return *n
	case Number:
		return n.Decimal
	case string:
		return parseString(n)
	case json.Number:
		return parseString(n.String())
	case float64:
		return fromFloat(n)
	case float32:
		return fromFloat(float64(n))
	case int:
		return decimal.NewFromInt(int64(n))
	case int32:
		return decimal.NewFromInt32(n)
	case int64:
		return decimal.NewFromInt(n)
	default:
		return decimal.Zero
	}
}

func parseString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return bounded(d)
}

func fromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return bounded(decimal.NewFromFloat(f))
}

// bounded returns zero for values whose magnitude or precision is out of
// range. Only the exponent and coefficient length are inspected, so the
// check stays cheap for inputs like 1e20000000.
func bounded(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	exp := int64(d.Exponent())
	if exp < -MaxFractionDigits || exp > MaxIntegerDigits {
		return decimal.Zero
	}
	if int64(d.NumDigits())+exp > MaxIntegerDigits {
		return decimal.Zero
	}
	return d
}

// Number is a decimal that decodes leniently from JSON numbers, strings,
// null or garbage. Decoding never fails; unreadable input becomes zero.
type Number struct {
	decimal.Decimal
}

// NewNumber wraps d.
func NewNumber(d decimal.Decimal) Number {
	return Number{Decimal: d}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		n.Decimal = decimal.Zero
		return nil
	}
	n.Decimal = Parse(raw)
	return nil
}

// MarshalJSON renders the value the way decimal.Decimal does.
func (n Number) MarshalJSON() ([]byte, error) {
	return n.Decimal.MarshalJSON()
}
