package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/pricing"
	"minimart/backend/internal/store"
	"minimart/backend/internal/xid"
)

// mapPayMethod normalizes register-facing payment labels, including the
// localized display names older register builds still send. Unknown
// labels fall back to cash.
func mapPayMethod(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case domain.PayTypeCash, "现金":
		return domain.PayTypeCash
	case domain.PayTypeBankCard, "bank card", "银行卡":
		return domain.PayTypeBankCard
	case domain.PayTypeWeChat, "微信", "微信支付":
		return domain.PayTypeWeChat
	case domain.PayTypeAlipay, "支付宝":
		return domain.PayTypeAlipay
	default:
		return domain.PayTypeCash
	}
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.CashierID == "" {
		return domain.Order{}, fmt.Errorf("%w: cashier id is required", store.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order has no items", store.ErrInvalidInput)
	}

	rate, pointsRate, err := s.resolveRate(ctx, req.MemberID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:        xid.New("ord"),
		OrderNo:   xid.OrderNo(now),
		MemberID:  strings.TrimSpace(req.MemberID),
		CashierID: req.CashierID,
		PayMethod: mapPayMethod(req.PayMethod),
		Status:    domain.OrderStatusCompleted,
		CreatedAt: now,
	}

	lines, subtotals, err := s.buildLines(ctx, order.ID, req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	totals := pricing.OrderTotals(subtotals, rate)
	order.Lines = lines
	order.TotalAmount = totals.TotalAmount
	order.DiscountAmount = totals.DiscountAmount
	order.ActualAmount = totals.ActualAmount
	order.PointsEarned = pricing.PointsEarned(totals.ActualAmount, pointsRate.Mul(s.cfg.PointsRate))
	order.CompletedAt = &now

	payment := domain.PaymentRecord{
		ID:              xid.New("pay"),
		OrderID:         order.ID,
		PaymentType:     order.PayMethod,
		Amount:          order.ActualAmount,
		TransactionType: domain.TxTypePay,
		PaidAt:          now,
	}

	settled, err := s.repo.SettleOrder(ctx, order, payment)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Info().
		Str("order_no", settled.OrderNo).
		Str("cashier_id", settled.CashierID).
		Str("actual_amount", settled.ActualAmount.String()).
		Msg("order settled")

	s.reevaluateTier(ctx, settled.MemberID)
	return *settled, nil
}

func (s *Service) HangOrder(ctx context.Context, req domain.HangOrderRequest) (domain.Order, error) {
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.CashierID == "" {
		return domain.Order{}, fmt.Errorf("%w: cashier id is required", store.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: nothing to hang", store.ErrInvalidInput)
	}

	rate, _, err := s.resolveRate(ctx, req.MemberID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order := domain.Order{
		ID:        xid.New("ord"),
		OrderNo:   xid.OrderNo(now),
		MemberID:  strings.TrimSpace(req.MemberID),
		CashierID: req.CashierID,
		Status:    domain.OrderStatusHanged,
		CreatedAt: now,
	}

	lines, subtotals, err := s.buildLines(ctx, order.ID, req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	// Hanging reserves nothing: amounts are provisional and recomputed at
	// resume against the then-current catalog.
	totals := pricing.OrderTotals(subtotals, rate)
	order.Lines = lines
	order.TotalAmount = totals.TotalAmount
	order.DiscountAmount = totals.DiscountAmount
	order.ActualAmount = totals.ActualAmount

	held, err := s.repo.HangOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Info().Str("order_no", held.OrderNo).Str("cashier_id", held.CashierID).Msg("order hanged")
	return *held, nil
}

func (s *Service) ResumeOrder(ctx context.Context, req domain.ResumeOrderRequest) (domain.Order, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.OrderID == "" || req.CashierID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id and cashier id are required", store.ErrInvalidInput)
	}

	held, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if held.Status != domain.OrderStatusHanged {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, held.ID, held.Status)
	}

	rate, pointsRate, err := s.resolveRate(ctx, held.MemberID)
	if err != nil {
		return domain.Order{}, err
	}

	// Reprice from the current catalog: the shelf price may have moved
	// while the cart sat in the hold queue.
	items := make([]domain.CartLine, 0, len(held.Lines))
	for _, line := range held.Lines {
		items = append(items, domain.CartLine{Barcode: line.Barcode, Quantity: line.Quantity})
	}
	lines, subtotals, err := s.buildLines(ctx, held.ID, items)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	totals := pricing.OrderTotals(subtotals, rate)
	order := *held
	order.CashierID = req.CashierID
	order.PayMethod = mapPayMethod(req.PayMethod)
	order.Lines = lines
	order.TotalAmount = totals.TotalAmount
	order.DiscountAmount = totals.DiscountAmount
	order.ActualAmount = totals.ActualAmount
	order.PointsEarned = pricing.PointsEarned(totals.ActualAmount, pointsRate.Mul(s.cfg.PointsRate))
	order.Status = domain.OrderStatusCompleted
	order.CompletedAt = &now

	payment := domain.PaymentRecord{
		ID:              xid.New("pay"),
		OrderID:         order.ID,
		PaymentType:     order.PayMethod,
		Amount:          order.ActualAmount,
		TransactionType: domain.TxTypePay,
		PaidAt:          now,
	}

	settled, err := s.repo.ResumeOrder(ctx, order, payment)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Info().Str("order_no", settled.OrderNo).Str("cashier_id", settled.CashierID).Msg("held order settled")

	s.reevaluateTier(ctx, settled.MemberID)
	return *settled, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}
	cancelled, err := s.repo.CancelOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.Info().Str("order_no", cancelled.OrderNo).Msg("order cancelled")
	return *cancelled, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) GetOrderByNo(ctx context.Context, orderNo string) (domain.Order, error) {
	order, err := s.repo.GetOrderByNo(ctx, strings.TrimSpace(orderNo))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListHeldOrders(ctx context.Context, cashierID string, limit int) ([]domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.repo.ListHeldOrders(ctx, strings.TrimSpace(cashierID), limit)
}

func (s *Service) ListPayments(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", store.ErrInvalidInput)
	}
	return s.repo.ListPayments(ctx, orderID)
}

// resolveRate turns an optional member id into (discount rate, points
// rate). Lookup failures other than a disabled card are logged and sold
// at full price rather than blocking the lane.
func (s *Service) resolveRate(ctx context.Context, memberID string) (decimal.Decimal, decimal.Decimal, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return decimal.NewFromInt(1), decimal.Zero, nil
	}
	discount, err := s.ResolveDiscount(ctx, memberID)
	if err != nil {
		if errors.Is(err, store.ErrMemberDisabled) {
			return decimal.Decimal{}, decimal.Decimal{}, err
		}
		s.logger.Warn().Err(err).Str("member_id", memberID).Msg("member lookup failed, selling at full price")
		return decimal.NewFromInt(1), decimal.Zero, nil
	}
	return discount.DiscountRate, discount.PointsRate, nil
}

// buildLines resolves scanned barcodes against the catalog and prices
// each line. Duplicate scans of the same barcode are merged.
func (s *Service) buildLines(ctx context.Context, orderID string, items []domain.CartLine) ([]domain.OrderLine, []decimal.Decimal, error) {
	merged := make([]domain.CartLine, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		barcode := strings.TrimSpace(item.Barcode)
		if barcode == "" {
			return nil, nil, fmt.Errorf("%w: item barcode is required", store.ErrInvalidInput)
		}
		if item.Quantity.Sign() <= 0 {
			return nil, nil, fmt.Errorf("%w: quantity for %s must be positive", store.ErrInvalidInput, barcode)
		}
		if i, ok := index[barcode]; ok {
			merged[i].Quantity = merged[i].Quantity.Add(item.Quantity)
			continue
		}
		index[barcode] = len(merged)
		merged = append(merged, domain.CartLine{Barcode: barcode, Quantity: item.Quantity})
	}

	barcodes := make([]string, 0, len(merged))
	for _, item := range merged {
		barcodes = append(barcodes, item.Barcode)
	}
	catalog, err := s.repo.GetGoodsByBarcodes(ctx, barcodes)
	if err != nil {
		return nil, nil, err
	}
	goodsIDs := make([]string, 0, len(catalog))
	for _, goods := range catalog {
		goodsIDs = append(goodsIDs, goods.ID)
	}
	// Scan-time shelf check so the register rejects oversells before
	// payment; the settlement transaction re-checks under lock.
	stock, err := s.repo.GetInventoryMap(ctx, goodsIDs)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]domain.OrderLine, 0, len(merged))
	subtotals := make([]decimal.Decimal, 0, len(merged))
	for _, item := range merged {
		goods, ok := catalog[item.Barcode]
		if !ok {
			return nil, nil, fmt.Errorf("%w: barcode %s", store.ErrNotFound, item.Barcode)
		}
		if goods.ShelfStatus != domain.ShelfStatusOn {
			return nil, nil, fmt.Errorf("%w: %s is off shelf", store.ErrInvalidState, goods.Name)
		}
		if !goods.IsWeighted && !item.Quantity.Equal(item.Quantity.Truncate(0)) {
			return nil, nil, fmt.Errorf("%w: %s is sold by whole units", store.ErrInvalidInput, goods.Name)
		}
		// Goods without an inventory record are not stock-tracked.
		if inv, ok := stock[goods.ID]; ok && item.Quantity.Cmp(inv.ShelfQty) > 0 {
			return nil, nil, fmt.Errorf("%w: %s has %s on shelf", store.ErrInsufficientStock, goods.Name, inv.ShelfQty.String())
		}

		var subtotal decimal.Decimal
		if goods.IsWeighted {
			subtotal, err = pricing.BulkPrice(goods.Price, item.Quantity, goods.Discount)
		} else {
			subtotal, err = pricing.LineSubtotal(goods.Price, item.Quantity, goods.Discount)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", store.ErrInvalidInput, err)
		}
		lines = append(lines, domain.OrderLine{
			ID:        xid.New("oli"),
			OrderID:   orderID,
			GoodsID:   goods.ID,
			GoodsName: goods.Name,
			Barcode:   goods.Barcode,
			UnitPrice: goods.Price,
			Quantity:  item.Quantity,
			Discount:  goods.Discount,
			Subtotal:  subtotal,
		})
		subtotals = append(subtotals, subtotal)
	}
	return lines, subtotals, nil
}
