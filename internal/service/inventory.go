package service

import (
	"context"
	"fmt"
	"strings"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/store"
)

func (s *Service) GetInventory(ctx context.Context, goodsID string) (domain.InventoryRecord, error) {
	goodsID = strings.TrimSpace(goodsID)
	if goodsID == "" {
		return domain.InventoryRecord{}, fmt.Errorf("%w: goods id is required", store.ErrInvalidInput)
	}
	inv, err := s.repo.GetInventory(ctx, goodsID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	return *inv, nil
}

func (s *Service) ReceiveStock(ctx context.Context, req domain.MoveToShelfRequest) (domain.InventoryRecord, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InventoryRecord{}, err
	}
	inv, err := s.repo.ReceiveStock(ctx, strings.TrimSpace(req.GoodsID), req.Quantity)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	s.logger.Info().Str("goods_id", inv.GoodsID).Str("quantity", req.Quantity.String()).Msg("stock received")
	return *inv, nil
}

func (s *Service) MoveToShelf(ctx context.Context, req domain.MoveToShelfRequest) (domain.InventoryRecord, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InventoryRecord{}, err
	}
	inv, err := s.repo.MoveToShelf(ctx, strings.TrimSpace(req.GoodsID), req.Quantity)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	s.logger.Info().Str("goods_id", inv.GoodsID).Str("quantity", req.Quantity.String()).Msg("stock moved to shelf")
	return *inv, nil
}

func (s *Service) SetWarningThresholds(ctx context.Context, req domain.ThresholdUpdateRequest) (domain.InventoryRecord, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InventoryRecord{}, err
	}
	inv, err := s.repo.SetWarningThresholds(ctx, strings.TrimSpace(req.GoodsID), req.StockWarning, req.ShelfWarning)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	return *inv, nil
}

func (s *Service) ListStockWarnings(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.repo.ListStockWarnings(ctx, limit)
}

func (s *Service) ListShelfWarnings(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.repo.ListShelfWarnings(ctx, limit)
}

func (s *Service) ListShortages(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.repo.ListShortages(ctx, limit)
}
