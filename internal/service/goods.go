package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/store"
	"minimart/backend/internal/xid"
)

var minShelfWarning = decimal.NewFromInt(5)

func (s *Service) CreateGoods(ctx context.Context, req domain.GoodsCreateRequest) (domain.Goods, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Goods{}, err
	}

	req.Barcode = strings.TrimSpace(req.Barcode)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Barcode == "" || req.Name == "" || req.Category == "" {
		return domain.Goods{}, fmt.Errorf("%w: barcode, name and category are required", store.ErrInvalidInput)
	}
	if req.Price.Sign() <= 0 {
		return domain.Goods{}, fmt.Errorf("%w: price must be positive", store.ErrInvalidInput)
	}
	if req.Discount.Sign() <= 0 || req.Discount.Cmp(decimal.NewFromInt(1)) > 0 {
		req.Discount = decimal.NewFromInt(1)
	}
	if req.StockWarning.Sign() < 0 {
		return domain.Goods{}, fmt.Errorf("%w: stock warning must not be negative", store.ErrInvalidInput)
	}

	now := s.now()
	goods := domain.Goods{
		ID:          xid.New("gd"),
		Barcode:     req.Barcode,
		Name:        req.Name,
		Category:    req.Category,
		Unit:        req.Unit,
		IsWeighted:  req.IsWeighted,
		Price:       req.Price,
		Discount:    req.Discount,
		ShelfStatus: domain.ShelfStatusOn,
		CreatedAt:   now,
	}

	// New goods start with empty buckets; the shelf threshold defaults to
	// half the stock threshold with a floor of 5.
	shelfWarning := req.StockWarning.Div(decimal.NewFromInt(2)).Round(0)
	if shelfWarning.Cmp(minShelfWarning) < 0 {
		shelfWarning = minShelfWarning
	}
	inventory := domain.InventoryRecord{
		GoodsID:      goods.ID,
		WarehouseQty: decimal.Zero,
		ShelfQty:     decimal.Zero,
		StockWarning: req.StockWarning,
		ShelfWarning: shelfWarning,
		UpdatedAt:    now,
	}

	created, err := s.repo.CreateGoods(ctx, goods, inventory)
	if err != nil {
		return domain.Goods{}, err
	}
	s.logger.Info().Str("goods_id", created.ID).Str("barcode", created.Barcode).Msg("goods created")
	return *created, nil
}

func (s *Service) GetGoods(ctx context.Context, id string) (domain.Goods, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Goods{}, fmt.Errorf("%w: goods id is required", store.ErrInvalidInput)
	}
	goods, err := s.repo.GetGoodsByID(ctx, id)
	if err != nil {
		return domain.Goods{}, err
	}
	return *goods, nil
}

func (s *Service) GetGoodsByBarcode(ctx context.Context, barcode string) (domain.Goods, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Goods{}, fmt.Errorf("%w: barcode is required", store.ErrInvalidInput)
	}
	goods, err := s.repo.GetGoodsByBarcode(ctx, barcode)
	if err != nil {
		return domain.Goods{}, err
	}
	return *goods, nil
}

func (s *Service) ListGoods(ctx context.Context, category string, keyword string, limit int) ([]domain.Goods, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.repo.ListGoods(ctx, strings.TrimSpace(category), keyword, limit)
}
