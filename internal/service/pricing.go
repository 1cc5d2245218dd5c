package service

import (
	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

const currencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// DiscountedUnitPrice applies a product-level percentage discount. The result
// is not rounded.
func DiscountedUnitPrice(listPrice, discountPercent decimal.Decimal) decimal.Decimal {
	if discountPercent.IsZero() {
		return listPrice
	}
	return listPrice.Mul(hundred.Sub(discountPercent)).Div(hundred)
}

// ComputeTotals prices cart lines from their current list price and discount.
// Rounding to currency precision happens once, on the subtotal.
func ComputeTotals(lines []models.CartLine) models.CartTotals {
	totals := models.CartTotals{
		Subtotal:   decimal.Zero,
		UnitPrices: make(map[int64]decimal.Decimal, len(lines)),
	}

	sum := decimal.Zero
	for _, l := range lines {
		unit := DiscountedUnitPrice(l.ListPrice, l.DiscountPercent)
		totals.UnitPrices[l.VariantID] = unit
		sum = sum.Add(unit.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	totals.Subtotal = sum.Round(currencyPlaces)
	return totals
}

// orderTotal sums item snapshots and rounds once
func orderTotal(items []models.OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum.Round(currencyPlaces)
}
