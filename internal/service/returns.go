package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/pricing"
	"minimart/backend/internal/store"
	"minimart/backend/internal/xid"
)

// CreateFullReturn unwinds a completed order in one shot: every line
// comes back, the refund is exactly what was charged and every earned
// point is clawed back. Orders already partially returned must keep
// using the partial flow.
func (s *Service) CreateFullReturn(ctx context.Context, req domain.FullReturnRequest) (domain.ReturnResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ReturnResult{}, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.OrderID == "" || req.Reason == "" || strings.TrimSpace(req.OperatorID) == "" {
		return domain.ReturnResult{}, fmt.Errorf("%w: order id, reason and operator are required", store.ErrInvalidInput)
	}

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return domain.ReturnResult{}, err
	}
	if order.Status != domain.OrderStatusCompleted {
		return domain.ReturnResult{}, fmt.Errorf("%w: order %s is %s, full return needs a completed order", store.ErrInvalidState, order.ID, order.Status)
	}
	if err := s.checkReturnWindow(order); err != nil {
		return domain.ReturnResult{}, err
	}

	catalog, err := s.goodsForLines(ctx, order.Lines)
	if err != nil {
		return domain.ReturnResult{}, err
	}
	for _, line := range order.Lines {
		if goods, ok := catalog[line.Barcode]; ok && s.nonReturnable(goods.Category) {
			return domain.ReturnResult{}, fmt.Errorf("%w: %s (%s)", store.ErrGoodsNotReturnable, line.GoodsName, goods.Category)
		}
	}

	now := s.now()
	disposition := domain.DispositionToStock
	if req.Reason == domain.ReturnReasonQualityIssue {
		disposition = domain.DispositionPendingInspect
	}

	record := domain.ReturnRecord{
		ID:             xid.New("rt"),
		OrderID:        order.ID,
		Type:           domain.ReturnTypeFull,
		RefundAmount:   order.ActualAmount,
		PointsDeducted: order.PointsEarned,
		Reason:         req.Reason,
		Detail:         strings.TrimSpace(req.Detail),
		OperatorID:     strings.TrimSpace(req.OperatorID),
		CreatedAt:      now,
	}
	for _, line := range order.Lines {
		qty := line.Returnable()
		if qty.Sign() <= 0 {
			continue
		}
		// Line shares carry the goods-level price only; the member
		// discount lives on the order refund, not the lines.
		record.Lines = append(record.Lines, domain.ReturnLine{
			ID:           xid.New("rtl"),
			ReturnID:     record.ID,
			OrderLineID:  line.ID,
			GoodsID:      line.GoodsID,
			GoodsName:    line.GoodsName,
			Quantity:     qty,
			RefundAmount: line.Subtotal,
			Disposition:  disposition,
		})
	}

	created, err := s.repo.CreateReturn(ctx, record, domain.OrderStatusFullReturned)
	if err != nil {
		return domain.ReturnResult{}, err
	}
	s.logger.Info().
		Str("return_no", created.ReturnNo).
		Str("order_no", order.OrderNo).
		Str("refund", created.RefundAmount.String()).
		Msg("full return recorded")

	change := s.reevaluateTier(ctx, order.MemberID)
	return domain.ReturnResult{Record: *created, TierChange: change}, nil
}

// CreatePartReturn returns a subset of an order's lines. Requested
// quantities are clamped to what each line still has outstanding, lines
// that survive nothing are dropped, and the points clawback is the
// refund's share of what the order earned, floored. The order lands in
// part_returned and stays there even if the last unit comes back.
func (s *Service) CreatePartReturn(ctx context.Context, req domain.PartReturnRequest) (domain.ReturnResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ReturnResult{}, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.OrderID == "" || req.Reason == "" || strings.TrimSpace(req.OperatorID) == "" {
		return domain.ReturnResult{}, fmt.Errorf("%w: order id, reason and operator are required", store.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return domain.ReturnResult{}, fmt.Errorf("%w: no items requested", store.ErrInvalidInput)
	}

	order, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return domain.ReturnResult{}, err
	}
	if order.Status != domain.OrderStatusCompleted && order.Status != domain.OrderStatusPartReturned {
		return domain.ReturnResult{}, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, order.ID, order.Status)
	}
	if err := s.checkReturnWindow(order); err != nil {
		return domain.ReturnResult{}, err
	}

	catalog, err := s.goodsForLines(ctx, order.Lines)
	if err != nil {
		return domain.ReturnResult{}, err
	}

	linesByID := make(map[string]domain.OrderLine, len(order.Lines))
	for _, line := range order.Lines {
		linesByID[line.ID] = line
	}

	now := s.now()
	disposition := domain.DispositionToStock
	if req.Reason == domain.ReturnReasonQualityIssue {
		disposition = domain.DispositionPendingInspect
	}

	record := domain.ReturnRecord{
		ID:         xid.New("rt"),
		OrderID:    order.ID,
		Type:       domain.ReturnTypePart,
		Reason:     req.Reason,
		Detail:     strings.TrimSpace(req.Detail),
		OperatorID: strings.TrimSpace(req.OperatorID),
		CreatedAt:  now,
	}
	// Duplicate references to the same line accumulate before the clamp,
	// so a request cannot pass the per-item check twice against one
	// snapshot of the outstanding quantity.
	items := make([]domain.PartReturnItem, 0, len(req.Items))
	itemIndex := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		if i, ok := itemIndex[item.OrderLineID]; ok {
			items[i].Quantity = items[i].Quantity.Add(item.Quantity)
			continue
		}
		itemIndex[item.OrderLineID] = len(items)
		items = append(items, item)
	}

	refund := decimal.Zero
	for _, item := range items {
		line, ok := linesByID[item.OrderLineID]
		if !ok {
			s.logger.Warn().Str("order_id", order.ID).Str("order_line_id", item.OrderLineID).Msg("return request names an unknown line, skipping")
			continue
		}
		if goods, ok := catalog[line.Barcode]; ok && s.nonReturnable(goods.Category) {
			return domain.ReturnResult{}, fmt.Errorf("%w: %s (%s)", store.ErrGoodsNotReturnable, line.GoodsName, goods.Category)
		}
		qty := item.Quantity
		if qty.Cmp(line.Returnable()) > 0 {
			qty = line.Returnable()
		}
		if qty.Sign() <= 0 {
			continue
		}
		unitPaid := line.Subtotal.Div(line.Quantity)
		lineRefund := unitPaid.Mul(qty).Round(2)
		record.Lines = append(record.Lines, domain.ReturnLine{
			ID:           xid.New("rtl"),
			ReturnID:     record.ID,
			OrderLineID:  line.ID,
			GoodsID:      line.GoodsID,
			GoodsName:    line.GoodsName,
			Quantity:     qty,
			RefundAmount: lineRefund,
			Disposition:  disposition,
		})
		refund = refund.Add(lineRefund)
	}
	if len(record.Lines) == 0 {
		return domain.ReturnResult{}, fmt.Errorf("%w: order %s", store.ErrNoValidReturnItems, order.ID)
	}

	record.RefundAmount = refund
	record.PointsDeducted = pricing.RefundShare(refund, order.ActualAmount, order.PointsEarned)

	created, err := s.repo.CreateReturn(ctx, record, domain.OrderStatusPartReturned)
	if err != nil {
		return domain.ReturnResult{}, err
	}
	s.logger.Info().
		Str("return_no", created.ReturnNo).
		Str("order_no", order.OrderNo).
		Str("refund", created.RefundAmount.String()).
		Int64("points_deducted", created.PointsDeducted).
		Msg("partial return recorded")

	change := s.reevaluateTier(ctx, order.MemberID)
	return domain.ReturnResult{Record: *created, TierChange: change}, nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.ReturnRecord, error) {
	record, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	return *record, nil
}

func (s *Service) ListReturns(ctx context.Context, from, to time.Time, orderID string, limit int) ([]domain.ReturnRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.repo.ListReturns(ctx, from, to, strings.TrimSpace(orderID), limit)
}

// checkReturnWindow allows a return up to and including the last day of
// the window, counted from settlement. Time spent in the hold queue
// before a resume does not eat into the window.
func (s *Service) checkReturnWindow(order *domain.Order) error {
	settled := order.CreatedAt
	if order.CompletedAt != nil {
		settled = *order.CompletedAt
	}
	deadline := settled.AddDate(0, 0, s.cfg.ReturnWindowDays)
	if s.now().After(deadline) {
		return fmt.Errorf("%w: order %s settled %s", store.ErrReturnWindowExpired, order.OrderNo, settled.Format("2006-01-02"))
	}
	return nil
}

func (s *Service) goodsForLines(ctx context.Context, lines []domain.OrderLine) (map[string]domain.Goods, error) {
	barcodes := make([]string, 0, len(lines))
	for _, line := range lines {
		barcodes = append(barcodes, line.Barcode)
	}
	return s.repo.GetGoodsByBarcodes(ctx, barcodes)
}
