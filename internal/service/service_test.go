package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/store"
	"minimart/backend/internal/store/memory"
	"minimart/backend/internal/xid"
)

const (
	waterBarcode   = "6901234567890"
	noodlesBarcode = "6901234567891"
	bananaBarcode  = "6901234567892"
)

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, nil, zerolog.Nop(), Config{
		NonReturnableCategories: []string{"fresh"},
	})
	return svc, repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func demoMemberID(t *testing.T, svc *Service) string {
	t.Helper()
	member, err := svc.GetMemberByCardNo(context.Background(), "M0001")
	if err != nil {
		t.Fatalf("demo member: %v", err)
	}
	return member.ID
}

func shelfQty(t *testing.T, svc *Service, barcode string) decimal.Decimal {
	t.Helper()
	goods, err := svc.GetGoodsByBarcode(context.Background(), barcode)
	if err != nil {
		t.Fatalf("goods %s: %v", barcode, err)
	}
	inv, err := svc.GetInventory(context.Background(), goods.ID)
	if err != nil {
		t.Fatalf("inventory %s: %v", barcode, err)
	}
	return inv.ShelfQty
}

func warehouseQty(t *testing.T, svc *Service, barcode string) decimal.Decimal {
	t.Helper()
	goods, err := svc.GetGoodsByBarcode(context.Background(), barcode)
	if err != nil {
		t.Fatalf("goods %s: %v", barcode, err)
	}
	inv, err := svc.GetInventory(context.Background(), goods.ID)
	if err != nil {
		t.Fatalf("inventory %s: %v", barcode, err)
	}
	return inv.WarehouseQty
}

func TestCreateOrderDeductsShelfOnly(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("3")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed order, got %s", order.Status)
	}
	if !order.TotalAmount.Equal(dec("6.00")) {
		t.Fatalf("expected total 6.00, got %s", order.TotalAmount)
	}
	if !strings.HasPrefix(order.OrderNo, "ORD") || len(order.OrderNo) != 21 {
		t.Fatalf("unexpected order number %q", order.OrderNo)
	}
	if got := shelfQty(t, svc, waterBarcode); !got.Equal(dec("45")) {
		t.Fatalf("expected shelf 45 after sale, got %s", got)
	}
	if got := warehouseQty(t, svc, waterBarcode); !got.Equal(dec("200")) {
		t.Fatalf("expected warehouse untouched at 200, got %s", got)
	}
}

func TestCreateOrderMergesDuplicateScans(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items: []domain.CartLine{
			{Barcode: waterBarcode, Quantity: dec("1")},
			{Barcode: waterBarcode, Quantity: dec("2")},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if len(order.Lines) != 1 {
		t.Fatalf("expected merged single line, got %d", len(order.Lines))
	}
	if !order.Lines[0].Quantity.Equal(dec("3")) {
		t.Fatalf("expected merged quantity 3, got %s", order.Lines[0].Quantity)
	}
}

func TestCreateOrderRejectsInsufficientShelfStock(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("100")}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := shelfQty(t, svc, waterBarcode); !got.Equal(dec("48")) {
		t.Fatalf("expected shelf untouched at 48 after rejection, got %s", got)
	}
}

func TestCreateOrderRejectsFractionalUnitsForUnitGoods(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1.5")}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateOrderPricesWeightedGoodsByWeight(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: bananaBarcode, Quantity: dec("0.455")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !order.Lines[0].Subtotal.Equal(dec("3.09")) {
		t.Fatalf("expected weighted subtotal 3.09, got %s", order.Lines[0].Subtotal)
	}
}

func TestCreateOrderUnknownBarcode(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: "0000000000000", Quantity: dec("1")}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateOrderRejectsOffShelfGoods(t *testing.T) {
	svc, repo := newTestService(t)

	now := time.Now().UTC()
	_, err := repo.CreateGoods(context.Background(), domain.Goods{
		ID: xid.New("gd"), Barcode: "111", Name: "Retired Item", Category: "general",
		Price: dec("1.00"), Discount: dec("1"), ShelfStatus: domain.ShelfStatusOff, CreatedAt: now,
	}, domain.InventoryRecord{WarehouseQty: dec("10"), ShelfQty: dec("10"), UpdatedAt: now})
	if err != nil {
		t.Fatalf("seed goods: %v", err)
	}

	_, err = svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: "111", Quantity: dec("1")}},
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for off-shelf goods, got %v", err)
	}
}

func TestCreateOrderMapsLocalizedPayMethods(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "微信",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.PayMethod != domain.PayTypeWeChat {
		t.Fatalf("expected wechat, got %s", order.PayMethod)
	}

	payments, err := svc.ListPayments(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 || payments[0].PaymentType != domain.PayTypeWeChat || payments[0].TransactionType != domain.TxTypePay {
		t.Fatalf("unexpected payment records %+v", payments)
	}
}

func TestCreateOrderAppliesMemberDiscountAndAccruesPoints(t *testing.T) {
	svc, _ := newTestService(t)
	memberID := demoMemberID(t, svc)

	_, err := svc.UpdateTierRule(adminCtx(), domain.TierRuleUpdateRequest{
		TierCode: domain.TierNormal, DiscountRate: dec("0.9"), PointsRate: dec("1"),
	})
	if err != nil {
		t.Fatalf("update tier rule: %v", err)
	}

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		MemberID:  memberID,
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("10")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !order.TotalAmount.Equal(dec("20.00")) || !order.ActualAmount.Equal(dec("18.00")) || !order.DiscountAmount.Equal(dec("2.00")) {
		t.Fatalf("unexpected totals %s/%s/%s", order.TotalAmount, order.DiscountAmount, order.ActualAmount)
	}
	if order.PointsEarned != 18 {
		t.Fatalf("expected 18 points, got %d", order.PointsEarned)
	}

	member, err := svc.GetMember(context.Background(), memberID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.TotalPoints != 18 || !member.TotalConsume.Equal(dec("18.00")) {
		t.Fatalf("expected accrual 18 points / 18.00 consume, got %d / %s", member.TotalPoints, member.TotalConsume)
	}
}

func TestCreateOrderRejectsDisabledMember(t *testing.T) {
	svc, repo := newTestService(t)

	disabled := domain.Member{
		ID: xid.New("mb"), CardNo: "M0002", Name: "Blocked",
		TierCode: domain.TierNormal, TotalConsume: decimal.Zero,
		Status: domain.MemberStatusDisabled, CreatedAt: time.Now().UTC(),
	}
	if _, err := repo.CreateMember(context.Background(), disabled); err != nil {
		t.Fatalf("seed member: %v", err)
	}

	_, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		MemberID:  disabled.ID,
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1")}},
	})
	if !errors.Is(err, store.ErrMemberDisabled) {
		t.Fatalf("expected ErrMemberDisabled, got %v", err)
	}
}

func TestCreateOrderSellsAtFullPriceWhenMemberLookupFails(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		MemberID:  "mb-missing",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("expected sale to proceed at full price, got %v", err)
	}
	if !order.ActualAmount.Equal(dec("4.00")) || order.PointsEarned != 0 {
		t.Fatalf("expected full price and no points, got %s / %d", order.ActualAmount, order.PointsEarned)
	}
}

func TestHangResumeAndCancel(t *testing.T) {
	svc, _ := newTestService(t)

	held, err := svc.HangOrder(context.Background(), domain.HangOrderRequest{
		CashierID: "cashier",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("hang order: %v", err)
	}
	if held.Status != domain.OrderStatusHanged {
		t.Fatalf("expected hanged, got %s", held.Status)
	}
	if got := shelfQty(t, svc, waterBarcode); !got.Equal(dec("48")) {
		t.Fatalf("hanging must not touch stock, shelf is %s", got)
	}

	queue, err := svc.ListHeldOrders(context.Background(), "cashier", 10)
	if err != nil {
		t.Fatalf("list held: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != held.ID {
		t.Fatalf("expected held order in queue, got %+v", queue)
	}

	settled, err := svc.ResumeOrder(context.Background(), domain.ResumeOrderRequest{
		OrderID: held.ID, CashierID: "cashier2", PayMethod: "alipay",
	})
	if err != nil {
		t.Fatalf("resume order: %v", err)
	}
	if settled.Status != domain.OrderStatusCompleted || settled.OrderNo != held.OrderNo {
		t.Fatalf("expected completed order keeping its number, got %s %s", settled.Status, settled.OrderNo)
	}
	if settled.PayMethod != domain.PayTypeAlipay {
		t.Fatalf("expected alipay, got %s", settled.PayMethod)
	}
	if got := shelfQty(t, svc, waterBarcode); !got.Equal(dec("46")) {
		t.Fatalf("expected shelf 46 after resume, got %s", got)
	}

	if _, err := svc.ResumeOrder(context.Background(), domain.ResumeOrderRequest{
		OrderID: held.ID, CashierID: "cashier", PayMethod: "cash",
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState resuming settled order, got %v", err)
	}

	held2, err := svc.HangOrder(context.Background(), domain.HangOrderRequest{
		CashierID: "cashier",
		Items:     []domain.CartLine{{Barcode: noodlesBarcode, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("hang second order: %v", err)
	}
	cancelled, err := svc.CancelOrder(context.Background(), held2.ID)
	if err != nil {
		t.Fatalf("cancel held order: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CompletedAt != nil {
		t.Fatalf("cancelled order must not carry a completion time, got %v", cancelled.CompletedAt)
	}

	if _, err := svc.CancelOrder(context.Background(), settled.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState cancelling settled order, got %v", err)
	}
}

func TestFullReturnRestoresWarehouseAndClawsBackPoints(t *testing.T) {
	svc, _ := newTestService(t)
	memberID := demoMemberID(t, svc)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		MemberID:  memberID,
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	result, err := svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: order.ID, Reason: "unwanted", OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("full return: %v", err)
	}
	record := result.Record
	if record.Type != domain.ReturnTypeFull {
		t.Fatalf("expected full return, got %s", record.Type)
	}
	if !record.RefundAmount.Equal(order.ActualAmount) {
		t.Fatalf("full refund must equal actual amount, got %s vs %s", record.RefundAmount, order.ActualAmount)
	}
	if record.PointsDeducted != order.PointsEarned {
		t.Fatalf("expected full clawback of %d points, got %d", order.PointsEarned, record.PointsDeducted)
	}
	if record.Lines[0].Disposition != domain.DispositionToStock {
		t.Fatalf("expected to_stock disposition, got %s", record.Lines[0].Disposition)
	}

	returned, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if returned.Status != domain.OrderStatusFullReturned {
		t.Fatalf("expected full_returned, got %s", returned.Status)
	}
	if !returned.Lines[0].IsReturned {
		t.Fatalf("expected line marked returned")
	}

	if got := warehouseQty(t, svc, waterBarcode); !got.Equal(dec("202")) {
		t.Fatalf("expected warehouse 202 after restock, got %s", got)
	}
	if got := shelfQty(t, svc, waterBarcode); !got.Equal(dec("46")) {
		t.Fatalf("returns restock the warehouse, not the shelf; shelf is %s", got)
	}

	member, err := svc.GetMember(context.Background(), memberID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.TotalPoints != 0 || member.TotalConsume.Sign() != 0 {
		t.Fatalf("expected member totals unwound, got %d / %s", member.TotalPoints, member.TotalConsume)
	}

	payments, err := svc.ListPayments(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 2 || payments[1].TransactionType != domain.TxTypeRefund {
		t.Fatalf("expected pay then refund records, got %+v", payments)
	}
}

func TestReturnsRequireAdminRole(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = svc.CreateFullReturn(cashierCtx(), domain.FullReturnRequest{
		OrderID: order.ID, Reason: "unwanted", OperatorID: "cashier",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestQualityIssueReturnsAreHeldForInspection(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	result, err := svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: order.ID, Reason: domain.ReturnReasonQualityIssue, OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("full return: %v", err)
	}
	if result.Record.Lines[0].Disposition != domain.DispositionPendingInspect {
		t.Fatalf("expected pending_inspect, got %s", result.Record.Lines[0].Disposition)
	}
	if got := warehouseQty(t, svc, waterBarcode); !got.Equal(dec("200")) {
		t.Fatalf("inspection returns must not restock, warehouse is %s", got)
	}
}

func TestPartReturnClampsQuantityAndProratesClawback(t *testing.T) {
	svc, _ := newTestService(t)
	memberID := demoMemberID(t, svc)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		MemberID:  memberID,
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("4")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.PointsEarned != 8 {
		t.Fatalf("expected 8 points on 8.00, got %d", order.PointsEarned)
	}
	lineID := order.Lines[0].ID

	first, err := svc.CreatePartReturn(adminCtx(), domain.PartReturnRequest{
		OrderID:    order.ID,
		Items:      []domain.PartReturnItem{{OrderLineID: lineID, Quantity: dec("2")}},
		Reason:     "unwanted",
		OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("first part return: %v", err)
	}
	if !first.Record.RefundAmount.Equal(dec("4.00")) || first.Record.PointsDeducted != 4 {
		t.Fatalf("expected 4.00 refund and 4 points, got %s / %d", first.Record.RefundAmount, first.Record.PointsDeducted)
	}

	second, err := svc.CreatePartReturn(adminCtx(), domain.PartReturnRequest{
		OrderID:    order.ID,
		Items:      []domain.PartReturnItem{{OrderLineID: lineID, Quantity: dec("10")}},
		Reason:     "unwanted",
		OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("second part return: %v", err)
	}
	if !second.Record.Lines[0].Quantity.Equal(dec("2")) {
		t.Fatalf("expected quantity clamped to outstanding 2, got %s", second.Record.Lines[0].Quantity)
	}
	if second.Record.PointsDeducted != 4 {
		t.Fatalf("expected 4 points on second clawback, got %d", second.Record.PointsDeducted)
	}

	member, err := svc.GetMember(context.Background(), memberID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.TotalPoints != 0 {
		t.Fatalf("clawbacks must never push points negative, got %d", member.TotalPoints)
	}

	final, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if final.Status != domain.OrderStatusPartReturned {
		t.Fatalf("order stays part_returned even when everything came back, got %s", final.Status)
	}
	if got := warehouseQty(t, svc, waterBarcode); !got.Equal(dec("204")) {
		t.Fatalf("expected warehouse 204 after both restocks, got %s", got)
	}
}

func TestPartReturnMergesDuplicateLineReferences(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	lineID := order.Lines[0].ID

	result, err := svc.CreatePartReturn(adminCtx(), domain.PartReturnRequest{
		OrderID: order.ID,
		Items: []domain.PartReturnItem{
			{OrderLineID: lineID, Quantity: dec("2")},
			{OrderLineID: lineID, Quantity: dec("2")},
		},
		Reason:     "unwanted",
		OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("part return: %v", err)
	}
	if len(result.Record.Lines) != 1 || !result.Record.Lines[0].Quantity.Equal(dec("2")) {
		t.Fatalf("duplicate references must merge and clamp to the outstanding 2, got %+v", result.Record.Lines)
	}
	if !result.Record.RefundAmount.Equal(dec("4.00")) {
		t.Fatalf("expected 4.00 refund, got %s", result.Record.RefundAmount)
	}

	final, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !final.Lines[0].ReturnedQuantity.Equal(final.Lines[0].Quantity) {
		t.Fatalf("returned quantity must stop at the sold quantity, got %s of %s",
			final.Lines[0].ReturnedQuantity, final.Lines[0].Quantity)
	}
	if got := warehouseQty(t, svc, waterBarcode); !got.Equal(dec("202")) {
		t.Fatalf("expected a single restock to 202, got %s", got)
	}

	if _, err := svc.CreatePartReturn(adminCtx(), domain.PartReturnRequest{
		OrderID:    order.ID,
		Items:      []domain.PartReturnItem{{OrderLineID: lineID, Quantity: dec("1")}},
		Reason:     "unwanted",
		OperatorID: "admin",
	}); !errors.Is(err, store.ErrNoValidReturnItems) {
		t.Fatalf("expected ErrNoValidReturnItems once the line is exhausted, got %v", err)
	}
}

func TestStoreRejectsReturnBeyondOutstandingQuantity(t *testing.T) {
	svc, repo := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	line := order.Lines[0]

	record := domain.ReturnRecord{
		ID:           xid.New("rt"),
		OrderID:      order.ID,
		Type:         domain.ReturnTypePart,
		RefundAmount: dec("6.00"),
		Reason:       "unwanted",
		OperatorID:   "admin",
		CreatedAt:    time.Now().UTC(),
		Lines: []domain.ReturnLine{{
			ID:           xid.New("rtl"),
			OrderLineID:  line.ID,
			GoodsID:      line.GoodsID,
			GoodsName:    line.GoodsName,
			Quantity:     dec("3"),
			RefundAmount: dec("6.00"),
			Disposition:  domain.DispositionToStock,
		}},
	}
	if _, err := repo.CreateReturn(context.Background(), record, domain.OrderStatusPartReturned); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for a return beyond the sold quantity, got %v", err)
	}

	untouched, err := svc.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if untouched.Status != domain.OrderStatusCompleted || untouched.Lines[0].ReturnedQuantity.Sign() != 0 {
		t.Fatalf("rejected return must leave the order untouched, got %s / %s",
			untouched.Status, untouched.Lines[0].ReturnedQuantity)
	}
	if got := warehouseQty(t, svc, waterBarcode); !got.Equal(dec("200")) {
		t.Fatalf("rejected return must not restock, warehouse is %s", got)
	}
}

func TestReturnWindowCountsFromSettlement(t *testing.T) {
	svc, _ := newTestService(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	held, err := svc.HangOrder(context.Background(), domain.HangOrderRequest{
		CashierID: "cashier",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("hang order: %v", err)
	}

	// Ten days in the hold queue, then settled.
	svc.now = func() time.Time { return base.AddDate(0, 0, 10) }
	settled, err := svc.ResumeOrder(context.Background(), domain.ResumeOrderRequest{
		OrderID: held.ID, CashierID: "cashier", PayMethod: "cash",
	})
	if err != nil {
		t.Fatalf("resume order: %v", err)
	}

	if _, err := svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: settled.ID, Reason: "unwanted", OperatorID: "admin",
	}); err != nil {
		t.Fatalf("window must count from settlement, not hang time: %v", err)
	}
}

func TestReturnRefundsCarryGoodsPriceNotMemberDiscount(t *testing.T) {
	svc, _ := newTestService(t)
	memberID := demoMemberID(t, svc)

	_, err := svc.UpdateTierRule(adminCtx(), domain.TierRuleUpdateRequest{
		TierCode: domain.TierNormal, DiscountRate: dec("0.9"), PointsRate: dec("1"),
	})
	if err != nil {
		t.Fatalf("update tier rule: %v", err)
	}

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		MemberID:  memberID,
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !order.ActualAmount.Equal(dec("3.60")) || order.PointsEarned != 3 {
		t.Fatalf("unexpected member order %s / %d", order.ActualAmount, order.PointsEarned)
	}

	result, err := svc.CreatePartReturn(adminCtx(), domain.PartReturnRequest{
		OrderID:    order.ID,
		Items:      []domain.PartReturnItem{{OrderLineID: order.Lines[0].ID, Quantity: dec("1")}},
		Reason:     "unwanted",
		OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("part return: %v", err)
	}
	// The line refunds at goods price; only the points clawback is
	// prorated against what the member actually paid.
	if !result.Record.RefundAmount.Equal(dec("2.00")) {
		t.Fatalf("expected goods-price refund 2.00, got %s", result.Record.RefundAmount)
	}
	if result.Record.PointsDeducted != 1 {
		t.Fatalf("expected floor(2.00 x 3 / 3.60) = 1 point, got %d", result.Record.PointsDeducted)
	}

	second, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		MemberID:  memberID,
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("second order: %v", err)
	}
	full, err := svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: second.ID, Reason: "unwanted", OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("full return: %v", err)
	}
	if !full.Record.RefundAmount.Equal(second.ActualAmount) {
		t.Fatalf("full refund is the charged amount, got %s", full.Record.RefundAmount)
	}
	if !full.Record.Lines[0].RefundAmount.Equal(dec("2.00")) {
		t.Fatalf("line share carries the goods price, got %s", full.Record.Lines[0].RefundAmount)
	}
}

func TestPartReturnedOrderRejectsFullReturn(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := svc.CreatePartReturn(adminCtx(), domain.PartReturnRequest{
		OrderID:    order.ID,
		Items:      []domain.PartReturnItem{{OrderLineID: order.Lines[0].ID, Quantity: dec("1")}},
		Reason:     "unwanted",
		OperatorID: "admin",
	}); err != nil {
		t.Fatalf("part return: %v", err)
	}

	_, err = svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: order.ID, Reason: "unwanted", OperatorID: "admin",
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPartReturnBlocksNonReturnableCategories(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items: []domain.CartLine{
			{Barcode: waterBarcode, Quantity: dec("1")},
			{Barcode: bananaBarcode, Quantity: dec("1")},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	var waterLine, bananaLine domain.OrderLine
	for _, line := range order.Lines {
		if line.Barcode == waterBarcode {
			waterLine = line
		} else {
			bananaLine = line
		}
	}

	_, err = svc.CreatePartReturn(adminCtx(), domain.PartReturnRequest{
		OrderID: order.ID,
		Items: []domain.PartReturnItem{
			{OrderLineID: waterLine.ID, Quantity: dec("1")},
			{OrderLineID: bananaLine.ID, Quantity: dec("1")},
		},
		Reason:     "unwanted",
		OperatorID: "admin",
	})
	if !errors.Is(err, store.ErrGoodsNotReturnable) {
		t.Fatalf("a non-returnable line must reject the whole request, got %v", err)
	}

	result, err := svc.CreatePartReturn(adminCtx(), domain.PartReturnRequest{
		OrderID:    order.ID,
		Items:      []domain.PartReturnItem{{OrderLineID: waterLine.ID, Quantity: dec("1")}},
		Reason:     "unwanted",
		OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("part return without the blocked line: %v", err)
	}
	if len(result.Record.Lines) != 1 || result.Record.Lines[0].OrderLineID != waterLine.ID {
		t.Fatalf("expected the returnable line only, got %+v", result.Record.Lines)
	}
}

func TestFullReturnBlocksNonReturnableCategories(t *testing.T) {
	svc, _ := newTestService(t)

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items: []domain.CartLine{
			{Barcode: waterBarcode, Quantity: dec("1")},
			{Barcode: bananaBarcode, Quantity: dec("0.5")},
		},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: order.ID, Reason: "unwanted", OperatorID: "admin",
	})
	if !errors.Is(err, store.ErrGoodsNotReturnable) {
		t.Fatalf("expected ErrGoodsNotReturnable, got %v", err)
	}
}

func TestReturnWindowIncludesTheLastDay(t *testing.T) {
	svc, _ := newTestService(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	svc.now = func() time.Time { return base.AddDate(0, 0, 7) }
	if _, err := svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: order.ID, Reason: "unwanted", OperatorID: "admin",
	}); err != nil {
		t.Fatalf("return on the deadline must be allowed, got %v", err)
	}

	svc.now = func() time.Time { return base }
	late, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("create second order: %v", err)
	}
	svc.now = func() time.Time { return base.AddDate(0, 0, 7).Add(time.Second) }
	_, err = svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: late.ID, Reason: "unwanted", OperatorID: "admin",
	})
	if !errors.Is(err, store.ErrReturnWindowExpired) {
		t.Fatalf("expected ErrReturnWindowExpired, got %v", err)
	}
}

func TestReturnNumbersSequencePerDay(t *testing.T) {
	svc, _ := newTestService(t)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	var returnNos []string
	for i := 0; i < 2; i++ {
		order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
			CashierID: "cashier",
			PayMethod: "cash",
			Items:     []domain.CartLine{{Barcode: waterBarcode, Quantity: dec("1")}},
		})
		if err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
		result, err := svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
			OrderID: order.ID, Reason: "unwanted", OperatorID: "admin",
		})
		if err != nil {
			t.Fatalf("full return %d: %v", i, err)
		}
		returnNos = append(returnNos, result.Record.ReturnNo)
	}

	if returnNos[0] != "RT202603100001" || returnNos[1] != "RT202603100002" {
		t.Fatalf("expected per-day sequence, got %v", returnNos)
	}
}

func TestTierPromotionAndDemotion(t *testing.T) {
	svc, _ := newTestService(t)
	memberID := demoMemberID(t, svc)

	big, err := svc.CreateGoods(adminCtx(), domain.GoodsCreateRequest{
		Barcode: "8800000000001", Name: "Gift Hamper", Category: "general",
		Unit: "box", Price: dec("600"), StockWarning: dec("2"),
	})
	if err != nil {
		t.Fatalf("create goods: %v", err)
	}
	if _, err := svc.ReceiveStock(adminCtx(), domain.MoveToShelfRequest{GoodsID: big.ID, Quantity: dec("10")}); err != nil {
		t.Fatalf("receive stock: %v", err)
	}
	if _, err := svc.MoveToShelf(adminCtx(), domain.MoveToShelfRequest{GoodsID: big.ID, Quantity: dec("5")}); err != nil {
		t.Fatalf("move to shelf: %v", err)
	}

	order, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CashierID: "cashier",
		MemberID:  memberID,
		PayMethod: "cash",
		Items:     []domain.CartLine{{Barcode: big.Barcode, Quantity: dec("2")}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	member, err := svc.GetMember(context.Background(), memberID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.TierCode != domain.TierSilver {
		t.Fatalf("expected promotion to silver on 1200 consume, got %s", member.TierCode)
	}

	result, err := svc.CreateFullReturn(adminCtx(), domain.FullReturnRequest{
		OrderID: order.ID, Reason: "unwanted", OperatorID: "admin",
	})
	if err != nil {
		t.Fatalf("full return: %v", err)
	}
	if !result.TierChange.Changed || result.TierChange.NewTier != domain.TierNormal {
		t.Fatalf("expected demotion back to normal, got %+v", result.TierChange)
	}
}

func TestCreateGoodsInitializesInventory(t *testing.T) {
	svc, _ := newTestService(t)

	goods, err := svc.CreateGoods(adminCtx(), domain.GoodsCreateRequest{
		Barcode: "222", Name: "New Snack", Category: "food",
		Unit: "bag", Price: dec("3.20"), StockWarning: dec("30"),
	})
	if err != nil {
		t.Fatalf("create goods: %v", err)
	}

	inv, err := svc.GetInventory(context.Background(), goods.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if inv.WarehouseQty.Sign() != 0 || inv.ShelfQty.Sign() != 0 {
		t.Fatalf("expected empty buckets, got %s / %s", inv.WarehouseQty, inv.ShelfQty)
	}
	if !inv.ShelfWarning.Equal(dec("15")) {
		t.Fatalf("expected shelf warning 15 (half of 30), got %s", inv.ShelfWarning)
	}
	if inv.Status != domain.StockStatusStockShortage {
		t.Fatalf("empty warehouse must report stock_shortage, got %s", inv.Status)
	}

	small, err := svc.CreateGoods(adminCtx(), domain.GoodsCreateRequest{
		Barcode: "333", Name: "Tiny", Category: "food",
		Unit: "pc", Price: dec("1.00"), StockWarning: dec("4"),
	})
	if err != nil {
		t.Fatalf("create small goods: %v", err)
	}
	smallInv, err := svc.GetInventory(context.Background(), small.ID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if !smallInv.ShelfWarning.Equal(dec("5")) {
		t.Fatalf("shelf warning floor is 5, got %s", smallInv.ShelfWarning)
	}

	if _, err := svc.CreateGoods(cashierCtx(), domain.GoodsCreateRequest{
		Barcode: "444", Name: "Nope", Category: "food", Price: dec("1"),
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier, got %v", err)
	}
}

func TestMoveToShelfAndAlerts(t *testing.T) {
	svc, _ := newTestService(t)

	goods, err := svc.GetGoodsByBarcode(context.Background(), waterBarcode)
	if err != nil {
		t.Fatalf("get goods: %v", err)
	}

	inv, err := svc.MoveToShelf(adminCtx(), domain.MoveToShelfRequest{GoodsID: goods.ID, Quantity: dec("20")})
	if err != nil {
		t.Fatalf("move to shelf: %v", err)
	}
	if !inv.WarehouseQty.Equal(dec("180")) || !inv.ShelfQty.Equal(dec("68")) {
		t.Fatalf("expected 180/68 after move, got %s/%s", inv.WarehouseQty, inv.ShelfQty)
	}

	if _, err := svc.MoveToShelf(adminCtx(), domain.MoveToShelfRequest{GoodsID: goods.ID, Quantity: dec("500")}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	if _, err := svc.SetWarningThresholds(adminCtx(), domain.ThresholdUpdateRequest{
		GoodsID: goods.ID, StockWarning: dec("999"), ShelfWarning: dec("1"),
	}); err != nil {
		t.Fatalf("set thresholds: %v", err)
	}
	alerts, err := svc.ListStockWarnings(context.Background(), 10)
	if err != nil {
		t.Fatalf("list stock warnings: %v", err)
	}
	found := false
	for _, alert := range alerts {
		if alert.GoodsID == goods.ID {
			found = true
			if alert.Status != domain.StockStatusWarning {
				t.Fatalf("expected warning status, got %s", alert.Status)
			}
		}
	}
	if !found {
		t.Fatalf("expected %s in stock warnings, got %+v", goods.ID, alerts)
	}
}

func TestResolveDiscountUsesCache(t *testing.T) {
	repo := memory.NewSeeded()
	cached := &mapCache{entries: make(map[string]domain.MemberDiscount)}
	svc := New(repo, cached, zerolog.Nop(), Config{})

	member, err := svc.GetMemberByCardNo(context.Background(), "M0001")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}

	first, err := svc.ResolveDiscount(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("resolve discount: %v", err)
	}
	if !first.DiscountRate.Equal(dec("1")) {
		t.Fatalf("expected normal tier rate 1, got %s", first.DiscountRate)
	}

	poisoned := first
	poisoned.DiscountRate = dec("0.5")
	cached.entries[member.ID] = poisoned

	second, err := svc.ResolveDiscount(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("resolve discount: %v", err)
	}
	if !second.DiscountRate.Equal(dec("0.5")) {
		t.Fatalf("expected cached rate 0.5, got %s", second.DiscountRate)
	}
}

type mapCache struct {
	entries map[string]domain.MemberDiscount
}

func (c *mapCache) Get(ctx context.Context, memberID string) (*domain.MemberDiscount, bool, error) {
	entry, ok := c.entries[memberID]
	if !ok {
		return nil, false, nil
	}
	out := entry
	return &out, true, nil
}

func (c *mapCache) Set(ctx context.Context, memberID string, value *domain.MemberDiscount, ttl time.Duration) error {
	c.entries[memberID] = *value
	return nil
}

func (c *mapCache) Invalidate(ctx context.Context, memberID string) error {
	delete(c.entries, memberID)
	return nil
}
