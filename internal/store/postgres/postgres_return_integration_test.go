package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/xid"
)

func TestFullReturnRestocksWarehouse(t *testing.T) {
	databaseURL := os.Getenv("MINIMART_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MINIMART_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	goodsID := fmt.Sprintf("g-return-it-%d", stamp)
	barcode := fmt.Sprintf("690%d", stamp)
	orderID := fmt.Sprintf("ord-return-it-%d", stamp)
	lineID := fmt.Sprintf("oli-return-it-%d", stamp)
	returnID := fmt.Sprintf("ret-return-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_lines WHERE return_id = $1`, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_records WHERE id = $1`, returnID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payment_records WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory WHERE goods_id = $1`, goodsID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM goods WHERE id = $1`, goodsID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO goods (id, barcode, name, category, unit, is_weighted, price, discount, shelf_status, created_at)
		VALUES ($1, $2, 'Return IT Cola', 'drinks', 'bottle', false, 3.50, 1, 'on', now())
	`, goodsID, barcode); err != nil {
		t.Fatalf("insert goods: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (goods_id, warehouse_qty, shelf_qty, stock_warning, shelf_warning, status, updated_at)
		VALUES ($1, 50, 10, 10, 5, 'sufficient', now())
	`, goodsID); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	now := time.Now().UTC()
	completed := now
	order := domain.Order{
		ID:             orderID,
		OrderNo:        xid.OrderNo(now),
		CashierID:      "cashier",
		TotalAmount:    decimal.RequireFromString("7.00"),
		DiscountAmount: decimal.Zero,
		ActualAmount:   decimal.RequireFromString("7.00"),
		PayMethod:      domain.PayTypeCash,
		Status:         domain.OrderStatusCompleted,
		CreatedAt:      now,
		CompletedAt:    &completed,
		Lines: []domain.OrderLine{{
			ID:        lineID,
			OrderID:   orderID,
			GoodsID:   goodsID,
			GoodsName: "Return IT Cola",
			Barcode:   barcode,
			UnitPrice: decimal.RequireFromString("3.50"),
			Quantity:  decimal.NewFromInt(2),
			Discount:  decimal.NewFromInt(1),
			Subtotal:  decimal.RequireFromString("7.00"),
		}},
	}
	payment := domain.PaymentRecord{
		ID:              xid.New("pay"),
		OrderID:         orderID,
		PaymentType:     domain.PayTypeCash,
		Amount:          order.ActualAmount,
		TransactionType: domain.TxTypePay,
		PaidAt:          now,
	}
	if _, err := s.SettleOrder(ctx, order, payment); err != nil {
		t.Fatalf("settle order: %v", err)
	}

	var shelfQty decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT shelf_qty FROM inventory WHERE goods_id = $1`, goodsID).Scan(&shelfQty); err != nil {
		t.Fatalf("query shelf qty: %v", err)
	}
	if !shelfQty.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected shelf qty 8 after sale, got %s", shelfQty)
	}

	record := domain.ReturnRecord{
		ID:           returnID,
		OrderID:      orderID,
		Type:         domain.ReturnTypeFull,
		RefundAmount: order.ActualAmount,
		Reason:       "unwanted",
		OperatorID:   "admin",
		CreatedAt:    now,
		Lines: []domain.ReturnLine{{
			ID:           xid.New("rli"),
			ReturnID:     returnID,
			OrderLineID:  lineID,
			GoodsID:      goodsID,
			GoodsName:    "Return IT Cola",
			Quantity:     decimal.NewFromInt(2),
			RefundAmount: order.ActualAmount,
			Disposition:  domain.DispositionToStock,
		}},
	}
	created, err := s.CreateReturn(ctx, record, domain.OrderStatusFullReturned)
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if created.ReturnNo == "" {
		t.Fatalf("expected assigned return number")
	}

	var warehouseQty decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT warehouse_qty FROM inventory WHERE goods_id = $1`, goodsID).Scan(&warehouseQty); err != nil {
		t.Fatalf("query warehouse qty: %v", err)
	}
	if !warehouseQty.Equal(decimal.NewFromInt(52)) {
		t.Fatalf("expected warehouse qty 52 after restock, got %s", warehouseQty)
	}

	var status string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status); err != nil {
		t.Fatalf("query order status: %v", err)
	}
	if status != domain.OrderStatusFullReturned {
		t.Fatalf("expected order status %s, got %s", domain.OrderStatusFullReturned, status)
	}
}
