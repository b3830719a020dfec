package totals

import (
	"github.com/shopspring/decimal"
)

// Amount is a monetary value rounded to Places. It prints and encodes with
// exactly Places decimals, so 5 renders as "5.00".
type Amount struct {
	decimal.Decimal
}

// NewAmount rounds d to Places.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: Round(d)}
}

// String implements fmt.Stringer.
func (a Amount) String() string {
	return a.StringFixed(Places)
}

// MarshalJSON encodes the amount as a quoted fixed-point string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.StringFixed(Places) + `"`), nil
}

// UnmarshalJSON accepts quoted and bare numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}
