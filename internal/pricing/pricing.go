// Package pricing derives checkout totals from line items and an optional coupon.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/fjod/go_checkout/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Calculate is pure. Tax and shipping are carried as zero.
func Calculate(items []domain.CartItem, coupon *domain.Coupon) Totals {
	subtotal := Subtotal(items)
	discount := Discount(subtotal, coupon)

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      decimal.Zero,
		Shipping: decimal.Zero,
		Total:    total,
	}
}

func Subtotal(items []domain.CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum.Round(2)
}

// Discount never goes below zero or above the subtotal.
func Discount(subtotal decimal.Decimal, coupon *domain.Coupon) decimal.Decimal {
	if coupon == nil || !subtotal.IsPositive() {
		return decimal.Zero
	}
	if subtotal.LessThan(coupon.MinOrderAmount) {
		return decimal.Zero
	}

	var d decimal.Decimal
	switch coupon.Type {
	case domain.CouponTypePercentage:
		pct := clamp(coupon.Value, decimal.Zero, hundred)
		d = subtotal.Mul(pct).Div(hundred)
	case domain.CouponTypeFixed:
		d = decimal.Min(coupon.Value, subtotal)
	default:
		return decimal.Zero
	}

	return clamp(d.Round(2), decimal.Zero, subtotal)
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
