package order

import (
	"github.com/shopspring/decimal"
)

// Address carries the shipping destination handed to the injected tax and
// shipping functions. The engine itself never interprets it.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// TaxFunc computes the tax amount for a taxable base. Implementations must
// be pure.
type TaxFunc func(subtotal, discount decimal.Decimal, addr Address) decimal.Decimal

// ShippingFunc computes the shipping amount for an order snapshot.
// Implementations must be pure.
type ShippingFunc func(items []Item, addr Address) decimal.Decimal

// FlatRateTax returns a TaxFunc applying a single percentage rate to the
// discounted subtotal, rounded to 2 decimal places.
func FlatRateTax(rate decimal.Decimal) TaxFunc {
	return func(subtotal, discount decimal.Decimal, _ Address) decimal.Decimal {
		base := subtotal.Sub(discount)
		if base.IsNegative() {
			base = decimal.Zero
		}
		return base.Mul(rate).Div(hundred).Round(2)
	}
}

// ThresholdShipping returns a ShippingFunc charging a flat rate, waived once
// the merchandise value reaches the free-shipping threshold.
func ThresholdShipping(flat, freeOver decimal.Decimal) ShippingFunc {
	return func(items []Item, _ Address) decimal.Decimal {
		value := decimal.Zero
		for _, item := range items {
			value = value.Add(item.LineTotal)
		}
		if value.GreaterThanOrEqual(freeOver) {
			return decimal.Zero
		}
		return flat
	}
}

// NoTax is a TaxFunc that always returns zero.
func NoTax(_, _ decimal.Decimal, _ Address) decimal.Decimal {
	return decimal.Zero
}

// FreeShipping is a ShippingFunc that always returns zero.
func FreeShipping(_ []Item, _ Address) decimal.Decimal {
	return decimal.Zero
}

var hundred = decimal.NewFromInt(100)
