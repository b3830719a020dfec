package totals

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateMixedVATRates(t *testing.T) {
	res := Calculate([]Line{
		{Quantity: d("2"), UnitPrice: d("10"), VATRate: d("21")},
		{Quantity: d("1"), UnitPrice: d("5"), VATRate: d("0")},
	})

	assert.Equal(t, "25.00", res.Subtotal.StringFixed(2))
	assert.Equal(t, "4.20", res.VATAmount.StringFixed(2))
	assert.Equal(t, "29.20", res.Total.StringFixed(2))
	require.Len(t, res.Lines, 2)
	assert.Equal(t, "20.00", res.Lines[0].Total.StringFixed(2))
	assert.Equal(t, "4.20", res.Lines[0].VATAmount.StringFixed(2))
	assert.Equal(t, "5.00", res.Lines[1].Total.StringFixed(2))
}

func TestCalculateEmpty(t *testing.T) {
	for _, lines := range [][]Line{nil, {}} {
		res := Calculate(lines)
		assert.True(t, res.Subtotal.IsZero())
		assert.True(t, res.VATAmount.IsZero())
		assert.True(t, res.Total.IsZero())
		assert.Empty(t, res.Lines)
	}
}

func TestCalculateIsIdempotent(t *testing.T) {
	lines := []Line{
		{Quantity: d("3"), UnitPrice: d("19.99"), VATRate: d("9")},
		{Quantity: d("0.5"), UnitPrice: d("120"), VATRate: d("21"), Discount: d("10")},
		{Quantity: d("7"), UnitPrice: d("0.333"), VATRate: d("6")},
	}
	first := Calculate(lines)
	second := Calculate(lines)

	assert.True(t, first.Subtotal.Equal(second.Subtotal.Decimal))
	assert.True(t, first.VATAmount.Equal(second.VATAmount.Decimal))
	assert.True(t, first.Total.Equal(second.Total.Decimal))
}

func TestCalculateDiscountBeforeVAT(t *testing.T) {
	res := Calculate([]Line{{Quantity: d("1"), UnitPrice: d("200"), VATRate: d("21"), Discount: d("25")}})

	assert.Equal(t, "150.00", res.Subtotal.StringFixed(2))
	assert.Equal(t, "31.50", res.VATAmount.StringFixed(2))
	assert.Equal(t, "181.50", res.Total.StringFixed(2))
}

func TestCalculateClampsDiscount(t *testing.T) {
	res := Calculate([]Line{
		{Quantity: d("1"), UnitPrice: d("10"), Discount: d("150")},
		{Quantity: d("1"), UnitPrice: d("10"), Discount: d("-5")},
	})
	assert.Equal(t, "10.00", res.Subtotal.StringFixed(2))
}

func TestCalculateRoundsHalfUpAfterAccumulation(t *testing.T) {
	// Three lines of 0.005 VAT each: summed at full precision before rounding.
	lines := []Line{
		{Quantity: d("1"), UnitPrice: d("0.05"), VATRate: d("10")},
		{Quantity: d("1"), UnitPrice: d("0.05"), VATRate: d("10")},
		{Quantity: d("1"), UnitPrice: d("0.05"), VATRate: d("10")},
	}
	res := Calculate(lines)
	assert.Equal(t, "0.15", res.Subtotal.StringFixed(2))
	assert.Equal(t, "0.02", res.VATAmount.StringFixed(2))
	assert.Equal(t, "0.17", res.Total.StringFixed(2))
	assert.Equal(t, "0.01", res.Lines[0].VATAmount.StringFixed(2))
}

func TestParseDegradesToZero(t *testing.T) {
	cases := map[string]any{
		"nil":          nil,
		"empty":        "",
		"blank":        "   ",
		"garbage":      "abc",
		"nan":          math.NaN(),
		"inf":          math.Inf(1),
		"unsupported":  []int{1},
		"bool":         true,
		"nil pointer":  (*decimal.Decimal)(nil),
		"partial text": "12abc",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, Parse(in).IsZero())
		})
	}
}

func TestAmountEncodesTwoPlaces(t *testing.T) {
	res := Calculate([]Line{
		{Quantity: d("2"), UnitPrice: d("10"), VATRate: d("21")},
		{Quantity: d("1"), UnitPrice: d("5"), VATRate: d("0")},
	})

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"subtotal": "25.00",
		"vat_amount": "4.20",
		"total": "29.20",
		"lines": [
			{"total": "20.00", "vat_amount": "4.20"},
			{"total": "5.00", "vat_amount": "0.00"}
		]
	}`, string(out))
	assert.Equal(t, "29.20", res.Total.String())

	var back Amount
	require.NoError(t, json.Unmarshal([]byte(`"4.20"`), &back))
	assert.Equal(t, "4.20", back.String())
	require.NoError(t, json.Unmarshal([]byte(`5`), &back))
	assert.Equal(t, "5.00", back.String())
}

func TestParseRejectsOutOfRangeValues(t *testing.T) {
	cases := map[string]any{
		"huge exponent":     "1e20000000",
		"tiny exponent":     "1e-20000000",
		"too many digits":   "1e20",
		"long integer":      "1234567890123456789",
		"long fraction":     "0.000000000000000000001",
		"huge json number":  json.Number("9e999999999"),
		"huge float":        1e300,
		"negative exponent": "-5e30",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, Parse(in).IsZero())
		})
	}

	assert.Equal(t, "123456789012345678", Parse("123456789012345678").String())
	assert.Equal(t, "0.5", Parse("5e-1").String())
	assert.Equal(t, "1000", Parse("1e3").String())
}

func TestCalculateOutOfRangeInputStaysFast(t *testing.T) {
	var payload struct {
		Quantity Number `json:"quantity"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"quantity":"1e20000000"}`), &payload))

	done := make(chan Result, 1)
	go func() {
		done <- Calculate([]Line{{Quantity: payload.Quantity.Decimal, UnitPrice: d("10"), VATRate: d("21")}})
	}()
	select {
	case res := <-done:
		assert.Equal(t, "0.00", res.Total.StringFixed(2))
	case <-time.After(2 * time.Second):
		t.Fatal("calculate did not return for an out-of-range quantity")
	}
}

func TestParseAcceptsNumbers(t *testing.T) {
	assert.Equal(t, "12.5", Parse("12.5").String())
	assert.Equal(t, "12.5", Parse(" 12,5 ").String())
	assert.Equal(t, "3", Parse(3).String())
	assert.Equal(t, "1.25", Parse(1.25).String())
	assert.Equal(t, "7", Parse(json.Number("7")).String())
}

func TestNumberUnmarshalJSONNeverFails(t *testing.T) {
	var payload struct {
		Quantity  Number `json:"quantity"`
		UnitPrice Number `json:"unit_price"`
		VATRate   Number `json:"vat_rate"`
		Discount  Number `json:"discount"`
	}
	err := json.Unmarshal([]byte(`{"quantity":"","unit_price":null,"vat_rate":"21","discount":{"x":1}}`), &payload)
	require.NoError(t, err)

	assert.True(t, payload.Quantity.IsZero())
	assert.True(t, payload.UnitPrice.IsZero())
	assert.Equal(t, "21", payload.VATRate.String())
	assert.True(t, payload.Discount.IsZero())

	res := Calculate([]Line{{Quantity: payload.Quantity.Decimal, UnitPrice: payload.UnitPrice.Decimal, VATRate: payload.VATRate.Decimal}})
	assert.Equal(t, "0.00", res.Total.StringFixed(2))
}
