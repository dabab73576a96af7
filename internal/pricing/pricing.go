// Package pricing turns priced line items into order totals.
package pricing

import (
	"github.com/safar/go-order-engine/internal/models"
	"github.com/shopspring/decimal"
)

type Config struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		TaxRate:               decimal.RequireFromString("0.10"),
		FreeShippingThreshold: decimal.RequireFromString("100.00"),
		FlatShippingFee:       decimal.RequireFromString("10.00"),
	}
}

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Breakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// LineTotal is unit price times quantity, rounded to cents.
func LineTotal(l Line) decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

// Compute prices the lines. Each component is rounded to cents before the
// total is summed, so Total always equals Subtotal + Tax + Shipping exactly.
// Shipping is free only when the subtotal is strictly above the threshold.
func (c *Calculator) Compute(lines []Line) (Breakdown, error) {
	subtotal := decimal.Zero
	for i, l := range lines {
		if l.Quantity < 1 {
			return Breakdown{}, models.NewValidationError("quantity", "line %d: quantity must be at least 1, got %d", i, l.Quantity)
		}
		if l.UnitPrice.IsNegative() {
			return Breakdown{}, models.NewValidationError("price", "line %d: unit price must not be negative, got %s", i, l.UnitPrice)
		}
		subtotal = subtotal.Add(LineTotal(l))
	}
	subtotal = subtotal.Round(2)

	tax := subtotal.Mul(c.cfg.TaxRate).Round(2)

	shipping := c.cfg.FlatShippingFee.Round(2)
	if subtotal.GreaterThan(c.cfg.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	return Breakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}, nil
}
