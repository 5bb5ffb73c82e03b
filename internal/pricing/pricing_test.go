package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLineSubtotalRoundsToCents(t *testing.T) {
	got, err := LineSubtotal(dec("3.333"), dec("3"), dec("1"))
	if err != nil {
		t.Fatalf("LineSubtotal: %v", err)
	}
	if !got.Equal(dec("10.00")) {
		t.Fatalf("expected 10.00, got %s", got)
	}
}

func TestLineSubtotalAppliesItemDiscount(t *testing.T) {
	got, err := LineSubtotal(dec("10"), dec("2"), dec("0.85"))
	if err != nil {
		t.Fatalf("LineSubtotal: %v", err)
	}
	if !got.Equal(dec("17.00")) {
		t.Fatalf("expected 17.00, got %s", got)
	}
}

func TestLineSubtotalRejectsNonPositiveQuantity(t *testing.T) {
	if _, err := LineSubtotal(dec("10"), dec("0"), dec("1")); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := LineSubtotal(dec("10"), dec("-1"), dec("1")); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestLineSubtotalIgnoresBadDiscount(t *testing.T) {
	got, err := LineSubtotal(dec("5"), dec("1"), dec("1.5"))
	if err != nil {
		t.Fatalf("LineSubtotal: %v", err)
	}
	if !got.Equal(dec("5.00")) {
		t.Fatalf("discount above 1 should be ignored, got %s", got)
	}
}

func TestOrderTotalsMemberRate(t *testing.T) {
	totals := OrderTotals([]decimal.Decimal{dec("10.00"), dec("5.55")}, dec("0.9"))
	if !totals.TotalAmount.Equal(dec("15.55")) {
		t.Fatalf("total: expected 15.55, got %s", totals.TotalAmount)
	}
	if !totals.ActualAmount.Equal(dec("14.00")) {
		t.Fatalf("actual: expected 14.00, got %s", totals.ActualAmount)
	}
	// discount rounds on its own: 1.555 carries up even though actual
	// rounded up too, so total-discount-actual can disagree by a cent
	if !totals.DiscountAmount.Equal(dec("1.56")) {
		t.Fatalf("discount: expected 1.56, got %s", totals.DiscountAmount)
	}
}

func TestOrderTotalsNoMember(t *testing.T) {
	totals := OrderTotals([]decimal.Decimal{dec("7.30")}, decimal.Zero)
	if !totals.ActualAmount.Equal(dec("7.30")) || !totals.DiscountAmount.Equal(dec("0.00")) {
		t.Fatalf("rate <= 0 must mean no discount, got actual=%s discount=%s", totals.ActualAmount, totals.DiscountAmount)
	}
}

func TestBulkPrice(t *testing.T) {
	got, err := BulkPrice(dec("12.80"), dec("0.455"), dec("1"))
	if err != nil {
		t.Fatalf("BulkPrice: %v", err)
	}
	if !got.Equal(dec("5.82")) {
		t.Fatalf("expected 5.82, got %s", got)
	}
	got, err = BulkPrice(dec("10"), dec("2"), dec("0.85"))
	if err != nil {
		t.Fatalf("BulkPrice: %v", err)
	}
	if !got.Equal(dec("17.00")) {
		t.Fatalf("expected 17.00 with item discount, got %s", got)
	}
	if _, err := BulkPrice(dec("12.80"), decimal.Zero, dec("1")); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity for zero weight, got %v", err)
	}
}

func TestPointsEarnedFloors(t *testing.T) {
	if got := PointsEarned(dec("19.99"), dec("1")); got != 19 {
		t.Fatalf("expected 19 points, got %d", got)
	}
	if got := PointsEarned(dec("19.99"), dec("0.5")); got != 9 {
		t.Fatalf("expected 9 points at half rate, got %d", got)
	}
	if got := PointsEarned(decimal.Zero, dec("1")); got != 0 {
		t.Fatalf("expected 0 points on zero amount, got %d", got)
	}
}

func TestRefundShareProportional(t *testing.T) {
	if got := RefundShare(dec("30"), dec("90"), 90); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}
	// floor, never round up
	if got := RefundShare(dec("10"), dec("30"), 10); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	// refund capped at the full points even if refund overshoots actual
	if got := RefundShare(dec("100"), dec("90"), 90); got != 90 {
		t.Fatalf("expected 90, got %d", got)
	}
	if got := RefundShare(dec("10"), decimal.Zero, 50); got != 0 {
		t.Fatalf("zero-amount order must claw back nothing, got %d", got)
	}
}

func TestRefundShareMonotonic(t *testing.T) {
	prev := int64(-1)
	for _, refund := range []string{"1", "5", "12.5", "40", "90"} {
		got := RefundShare(dec(refund), dec("90"), 90)
		if got < prev {
			t.Fatalf("clawback not monotonic at refund=%s: %d < %d", refund, got, prev)
		}
		prev = got
	}
}
