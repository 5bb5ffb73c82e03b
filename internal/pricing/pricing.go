// Package pricing computes checkout amounts. It is pure: no I/O, no
// clock, decimal in and decimal out.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

var one = decimal.NewFromInt(1)

// Totals is the money triple written onto an order. TotalAmount,
// DiscountAmount and ActualAmount are each rounded to 2 decimal places
// independently, so TotalAmount may differ from ActualAmount plus
// DiscountAmount by up to a cent.
type Totals struct {
	TotalAmount    decimal.Decimal
	DiscountAmount decimal.Decimal
	ActualAmount   decimal.Decimal
}

// LineSubtotal prices one cart line: unit price times quantity times the
// item's own discount multiplier, rounded to 2 decimal places.
func LineSubtotal(unitPrice, quantity, itemDiscount decimal.Decimal) (decimal.Decimal, error) {
	if quantity.Sign() <= 0 {
		return decimal.Decimal{}, ErrInvalidQuantity
	}
	if itemDiscount.Sign() <= 0 || itemDiscount.Cmp(one) > 0 {
		itemDiscount = one
	}
	return unitPrice.Mul(quantity).Mul(itemDiscount).Round(2), nil
}

// OrderTotals folds line subtotals into the order triple. memberRate is
// the member tier discount multiplier; anything outside (0, 1] is
// treated as no discount.
func OrderTotals(subtotals []decimal.Decimal, memberRate decimal.Decimal) Totals {
	total := decimal.Zero
	for _, s := range subtotals {
		total = total.Add(s)
	}
	total = total.Round(2)
	if memberRate.Sign() <= 0 || memberRate.Cmp(one) > 0 {
		memberRate = one
	}
	discount := total.Mul(one.Sub(memberRate)).Round(2)
	actual := total.Mul(memberRate).Round(2)
	return Totals{TotalAmount: total, DiscountAmount: discount, ActualAmount: actual}
}

// BulkPrice prices a weighed item: unit price times weight times the
// item's own discount multiplier, rounded to 2 decimal places. Weight
// must be strictly positive.
func BulkPrice(unitPrice, weight, itemDiscount decimal.Decimal) (decimal.Decimal, error) {
	if weight.Sign() <= 0 {
		return decimal.Decimal{}, ErrInvalidQuantity
	}
	if itemDiscount.Sign() <= 0 || itemDiscount.Cmp(one) > 0 {
		itemDiscount = one
	}
	return unitPrice.Mul(weight).Mul(itemDiscount).Round(2), nil
}

// PointsEarned converts the settled amount into loyalty points:
// floor(actual × rate). Never negative.
func PointsEarned(actual, rate decimal.Decimal) int64 {
	if actual.Sign() <= 0 || rate.Sign() <= 0 {
		return 0
	}
	return actual.Mul(rate).Floor().IntPart()
}

// RefundShare prorates points for a partial refund:
// floor(refund × points / actual), capped at the order's full points.
// Multiplication runs before the division so exact ratios stay exact.
// Zero when the order settled at zero.
func RefundShare(refund, actual decimal.Decimal, points int64) int64 {
	if points <= 0 || actual.Sign() <= 0 || refund.Sign() <= 0 {
		return 0
	}
	if refund.Cmp(actual) >= 0 {
		return points
	}
	return refund.Mul(decimal.NewFromInt(points)).Div(actual).Floor().IntPart()
}
