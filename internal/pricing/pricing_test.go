package pricing

import (
	"errors"
	"testing"

	"github.com/safar/go-order-engine/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeWorkedExample(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	b, err := calc.Compute([]Line{{UnitPrice: dec("50.00"), Quantity: 2}})
	require.NoError(t, err)

	assert.True(t, b.Subtotal.Equal(dec("100.00")), "subtotal %s", b.Subtotal)
	assert.True(t, b.Tax.Equal(dec("10.00")), "tax %s", b.Tax)
	assert.True(t, b.Shipping.Equal(dec("10.00")), "shipping %s", b.Shipping)
	assert.True(t, b.Total.Equal(dec("120.00")), "total %s", b.Total)
}

func TestComputeShippingBoundary(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	tests := []struct {
		name     string
		price    string
		shipping string
	}{
		{"at threshold pays shipping", "100.00", "10.00"},
		{"one cent above is free", "100.01", "0"},
		{"below threshold pays shipping", "99.99", "10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := calc.Compute([]Line{{UnitPrice: dec(tt.price), Quantity: 1}})
			require.NoError(t, err)
			assert.True(t, b.Shipping.Equal(dec(tt.shipping)), "shipping %s", b.Shipping)
		})
	}
}

func TestComputeTotalIdentityAfterRounding(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	b, err := calc.Compute([]Line{
		{UnitPrice: dec("19.99"), Quantity: 3},
		{UnitPrice: dec("0.05"), Quantity: 7},
		{UnitPrice: dec("33.33"), Quantity: 1},
	})
	require.NoError(t, err)

	assert.True(t, b.Total.Equal(b.Subtotal.Add(b.Tax).Add(b.Shipping)))
	assert.True(t, b.Subtotal.Equal(dec("93.65")), "subtotal %s", b.Subtotal)
	// 9.365 rounds half-up
	assert.True(t, b.Tax.Equal(dec("9.37")), "tax %s", b.Tax)
	assert.Equal(t, int32(-2), b.Total.Exponent())
}

func TestComputeRejectsBadLines(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	_, err := calc.Compute([]Line{{UnitPrice: dec("10"), Quantity: 0}})
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "quantity", verr.Field)

	_, err = calc.Compute([]Line{{UnitPrice: dec("-1"), Quantity: 1}})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "price", verr.Field)
}

func TestComputeUsesInjectedConfig(t *testing.T) {
	calc := NewCalculator(Config{
		TaxRate:               dec("0.20"),
		FreeShippingThreshold: dec("50"),
		FlatShippingFee:       dec("5"),
	})

	b, err := calc.Compute([]Line{{UnitPrice: dec("40"), Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, b.Tax.Equal(dec("8")))
	assert.True(t, b.Shipping.Equal(dec("5")))
	assert.True(t, b.Total.Equal(dec("53")))
}
