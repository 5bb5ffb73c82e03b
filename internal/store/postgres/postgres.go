// Package postgres implements store.Repository against PostgreSQL using
// database/sql over the pgx stdlib driver. Every mutating operation runs
// in a single serializable transaction with row locks on the stock and
// member rows it touches.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/store"
	"minimart/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateGoods(ctx context.Context, goods domain.Goods, inventory domain.InventoryRecord) (*domain.Goods, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO goods (id, barcode, name, category, unit, is_weighted, price, discount, shelf_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, goods.ID, goods.Barcode, goods.Name, goods.Category, goods.Unit, goods.IsWeighted, goods.Price, goods.Discount, goods.ShelfStatus, goods.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s already exists", store.ErrInvalidInput, goods.Barcode)
		}
		return nil, err
	}

	inventory.GoodsID = goods.ID
	inventory.Status = domain.DeriveStockStatus(inventory.WarehouseQty, inventory.ShelfQty, inventory.StockWarning, inventory.ShelfWarning)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory (goods_id, warehouse_qty, shelf_qty, stock_warning, shelf_warning, status, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, inventory.GoodsID, inventory.WarehouseQty, inventory.ShelfQty, inventory.StockWarning, inventory.ShelfWarning, inventory.Status)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := goods
	return &created, nil
}

const goodsColumns = `id, barcode, name, category, unit, is_weighted, price, discount, shelf_status, created_at`

func scanGoods(row interface{ Scan(...any) error }) (domain.Goods, error) {
	var g domain.Goods
	err := row.Scan(&g.ID, &g.Barcode, &g.Name, &g.Category, &g.Unit, &g.IsWeighted, &g.Price, &g.Discount, &g.ShelfStatus, &g.CreatedAt)
	if err != nil {
		return domain.Goods{}, err
	}
	g.CreatedAt = g.CreatedAt.UTC()
	return g, nil
}

func (s *Store) GetGoodsByID(ctx context.Context, id string) (*domain.Goods, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goodsColumns+` FROM goods WHERE id = $1`, id)
	goods, err := scanGoods(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: goods %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &goods, nil
}

func (s *Store) GetGoodsByBarcode(ctx context.Context, barcode string) (*domain.Goods, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goodsColumns+` FROM goods WHERE barcode = $1`, barcode)
	goods, err := scanGoods(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: barcode %s", store.ErrNotFound, barcode)
		}
		return nil, err
	}
	return &goods, nil
}

func (s *Store) GetGoodsByBarcodes(ctx context.Context, barcodes []string) (map[string]domain.Goods, error) {
	result := make(map[string]domain.Goods, len(barcodes))
	if len(barcodes) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+goodsColumns+` FROM goods WHERE barcode = ANY($1)`, barcodes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		goods, err := scanGoods(rows)
		if err != nil {
			return nil, err
		}
		result[goods.Barcode] = goods
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListGoods(ctx context.Context, category string, keyword string, limit int) ([]domain.Goods, error) {
	if limit < 1 {
		limit = 100
	}
	keyword = strings.TrimSpace(keyword)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+goodsColumns+`
		FROM goods
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR barcode LIKE $2 || '%')
		ORDER BY name
		LIMIT $3
	`, category, keyword, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	goods := make([]domain.Goods, 0, limit)
	for rows.Next() {
		g, err := scanGoods(rows)
		if err != nil {
			return nil, err
		}
		goods = append(goods, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return goods, nil
}

const inventoryColumns = `goods_id, warehouse_qty, shelf_qty, stock_warning, shelf_warning, status, updated_at`

func scanInventory(row interface{ Scan(...any) error }) (domain.InventoryRecord, error) {
	var inv domain.InventoryRecord
	err := row.Scan(&inv.GoodsID, &inv.WarehouseQty, &inv.ShelfQty, &inv.StockWarning, &inv.ShelfWarning, &inv.Status, &inv.UpdatedAt)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return inv, nil
}

func (s *Store) GetInventory(ctx context.Context, goodsID string) (*domain.InventoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE goods_id = $1`, goodsID)
	inv, err := scanInventory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: inventory for goods %s", store.ErrNotFound, goodsID)
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) GetInventoryMap(ctx context.Context, goodsIDs []string) (map[string]domain.InventoryRecord, error) {
	result := make(map[string]domain.InventoryRecord, len(goodsIDs))
	if len(goodsIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE goods_id = ANY($1)`, goodsIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		result[inv.GoodsID] = inv
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ReceiveStock(ctx context.Context, goodsID string, quantity decimal.Decimal) (*domain.InventoryRecord, error) {
	if quantity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: receive quantity must be positive", store.ErrInvalidInput)
	}
	return s.mutateInventory(ctx, goodsID, func(inv *domain.InventoryRecord) error {
		inv.WarehouseQty = inv.WarehouseQty.Add(quantity)
		return nil
	})
}

func (s *Store) MoveToShelf(ctx context.Context, goodsID string, quantity decimal.Decimal) (*domain.InventoryRecord, error) {
	if quantity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: move quantity must be positive", store.ErrInvalidInput)
	}
	return s.mutateInventory(ctx, goodsID, func(inv *domain.InventoryRecord) error {
		if inv.WarehouseQty.Cmp(quantity) < 0 {
			return fmt.Errorf("%w: warehouse has %s, requested %s", store.ErrInsufficientStock, inv.WarehouseQty, quantity)
		}
		inv.WarehouseQty = inv.WarehouseQty.Sub(quantity)
		inv.ShelfQty = inv.ShelfQty.Add(quantity)
		return nil
	})
}

func (s *Store) SetWarningThresholds(ctx context.Context, goodsID string, stockWarning, shelfWarning decimal.Decimal) (*domain.InventoryRecord, error) {
	if stockWarning.Sign() < 0 || shelfWarning.Sign() < 0 {
		return nil, fmt.Errorf("%w: thresholds must not be negative", store.ErrInvalidInput)
	}
	return s.mutateInventory(ctx, goodsID, func(inv *domain.InventoryRecord) error {
		inv.StockWarning = stockWarning
		inv.ShelfWarning = shelfWarning
		return nil
	})
}

// mutateInventory applies one change to a single inventory row under a
// serializable transaction and recomputes its derived status.
func (s *Store) mutateInventory(ctx context.Context, goodsID string, apply func(*domain.InventoryRecord) error) (*domain.InventoryRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE goods_id = $1 FOR UPDATE`, goodsID)
	inv, err := scanInventory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: inventory for goods %s", store.ErrNotFound, goodsID)
		}
		return nil, err
	}

	if err := apply(&inv); err != nil {
		return nil, err
	}
	if err := writeInventory(ctx, tx, &inv); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func writeInventory(ctx context.Context, tx *sql.Tx, inv *domain.InventoryRecord) error {
	inv.Status = domain.DeriveStockStatus(inv.WarehouseQty, inv.ShelfQty, inv.StockWarning, inv.ShelfWarning)
	inv.UpdatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET warehouse_qty = $2, shelf_qty = $3, stock_warning = $4, shelf_warning = $5, status = $6, updated_at = now()
		WHERE goods_id = $1
	`, inv.GoodsID, inv.WarehouseQty, inv.ShelfQty, inv.StockWarning, inv.ShelfWarning, inv.Status)
	return err
}

func (s *Store) ListStockWarnings(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	return s.scanAlerts(ctx, `
		SELECT i.goods_id, g.name, g.barcode, i.warehouse_qty, i.stock_warning, i.status
		FROM inventory i
		JOIN goods g ON g.id = i.goods_id
		WHERE i.warehouse_qty <= i.stock_warning
		ORDER BY i.warehouse_qty ASC
		LIMIT $1
	`, limit)
}

func (s *Store) ListShelfWarnings(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	return s.scanAlerts(ctx, `
		SELECT i.goods_id, g.name, g.barcode, i.shelf_qty, i.shelf_warning, i.status
		FROM inventory i
		JOIN goods g ON g.id = i.goods_id
		WHERE i.shelf_qty <= i.shelf_warning
		ORDER BY i.shelf_qty ASC
		LIMIT $1
	`, limit)
}

func (s *Store) ListShortages(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	return s.scanAlerts(ctx, `
		SELECT i.goods_id, g.name, g.barcode,
		       CASE WHEN i.warehouse_qty <= 0 THEN i.warehouse_qty ELSE i.shelf_qty END,
		       CASE WHEN i.warehouse_qty <= 0 THEN i.stock_warning ELSE i.shelf_warning END,
		       i.status
		FROM inventory i
		JOIN goods g ON g.id = i.goods_id
		WHERE i.warehouse_qty <= 0 OR i.shelf_qty <= 0
		ORDER BY 4 ASC
		LIMIT $1
	`, limit)
}

func (s *Store) scanAlerts(ctx context.Context, query string, limit int) ([]domain.InventoryAlert, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]domain.InventoryAlert, 0, limit)
	for rows.Next() {
		var alert domain.InventoryAlert
		if err := rows.Scan(&alert.GoodsID, &alert.GoodsName, &alert.Barcode, &alert.Quantity, &alert.Threshold, &alert.Status); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (s *Store) SettleOrder(ctx context.Context, order domain.Order, payment domain.PaymentRecord) (*domain.Order, error) {
	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := deductShelfStock(ctx, tx, order.Lines); err != nil {
		return nil, err
	}
	if err := insertOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := insertPayment(ctx, tx, payment); err != nil {
		return nil, err
	}
	if err := accruePoints(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) HangOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) ResumeOrder(ctx context.Context, order domain.Order, payment domain.PaymentRecord) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, order.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, order.ID)
		}
		return nil, err
	}
	if status != domain.OrderStatusHanged {
		return nil, fmt.Errorf("%w: order %s is %s, only hanged orders can be resumed", store.ErrInvalidState, order.ID, status)
	}

	if err := deductShelfStock(ctx, tx, order.Lines); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET cashier_id = $2, total_amount = $3, discount_amount = $4, actual_amount = $5,
		    pay_method = $6, points_earned = $7, status = $8, completed_at = $9
		WHERE id = $1
	`, order.ID, order.CashierID, order.TotalAmount, order.DiscountAmount, order.ActualAmount,
		order.PayMethod, order.PointsEarned, order.Status, order.CompletedAt)
	if err != nil {
		return nil, err
	}

	// The held lines were priced at hang time; replace them with the
	// repriced set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, order.ID); err != nil {
		return nil, err
	}
	if err := insertOrderLines(ctx, tx, order.Lines); err != nil {
		return nil, err
	}
	if err := insertPayment(ctx, tx, payment); err != nil {
		return nil, err
	}
	if err := accruePoints(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	settled := order
	return &settled, nil
}

func (s *Store) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	switch status {
	case domain.OrderStatusHanged, domain.OrderStatusPendingPay:
	case domain.OrderStatusCompleted, domain.OrderStatusPartReturned, domain.OrderStatusFullReturned:
		return nil, fmt.Errorf("%w: order %s is settled, use the returns flow", store.ErrInvalidState, orderID)
	default:
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, orderID, status)
	}

	_, err = tx.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`,
		orderID, domain.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

// deductShelfStock locks the inventory rows for the sold goods, verifies
// shelf quantity and applies the deduction. Goods with no inventory row
// are sold without stock tracking.
func deductShelfStock(ctx context.Context, tx *sql.Tx, lines []domain.OrderLine) error {
	goodsIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		goodsIDs = append(goodsIDs, line.GoodsID)
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE goods_id = ANY($1) FOR UPDATE`, goodsIDs)
	if err != nil {
		return err
	}
	invMap := make(map[string]domain.InventoryRecord, len(goodsIDs))
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			_ = rows.Close()
			return err
		}
		invMap[inv.GoodsID] = inv
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, line := range lines {
		inv, ok := invMap[line.GoodsID]
		if !ok {
			continue
		}
		if inv.ShelfQty.Cmp(line.Quantity) < 0 {
			return fmt.Errorf("%w: %s has %s on shelf, requested %s", store.ErrInsufficientStock, line.GoodsName, inv.ShelfQty, line.Quantity)
		}
		inv.ShelfQty = inv.ShelfQty.Sub(line.Quantity)
		invMap[line.GoodsID] = inv
	}
	for _, inv := range invMap {
		record := inv
		if err := writeInventory(ctx, tx, &record); err != nil {
			return err
		}
	}
	return nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_no, member_id, cashier_id, total_amount, discount_amount, actual_amount, pay_method, points_earned, status, created_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, order.ID, order.OrderNo, nullIfEmpty(order.MemberID), order.CashierID,
		order.TotalAmount, order.DiscountAmount, order.ActualAmount, nullIfEmpty(order.PayMethod),
		order.PointsEarned, order.Status, order.CreatedAt, order.CompletedAt)
	if err != nil {
		return err
	}
	return insertOrderLines(ctx, tx, order.Lines)
}

func insertOrderLines(ctx context.Context, tx *sql.Tx, lines []domain.OrderLine) error {
	for _, line := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, goods_id, goods_name, barcode, unit_price, quantity, discount, subtotal, returned_quantity, is_returned)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, line.ID, line.OrderID, line.GoodsID, line.GoodsName, line.Barcode,
			line.UnitPrice, line.Quantity, line.Discount, line.Subtotal, line.ReturnedQuantity, line.IsReturned)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertPayment(ctx context.Context, tx *sql.Tx, payment domain.PaymentRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_records (id, order_id, payment_type, amount, transaction_type, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, payment.ID, payment.OrderID, payment.PaymentType, payment.Amount, payment.TransactionType, payment.PaidAt)
	return err
}

// accruePoints adds the order's points and actual amount to the member's
// lifetime totals. Missing or inactive members are skipped so a stale
// member reference never blocks a settled sale.
func accruePoints(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	if order.MemberID == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE members
		SET total_points = total_points + $2, total_consume = total_consume + $3
		WHERE id = $1 AND status = $4
	`, order.MemberID, order.PointsEarned, order.ActualAmount, domain.MemberStatusActive)
	return err
}

const orderColumns = `id, order_no, member_id, cashier_id, total_amount, discount_amount, actual_amount, pay_method, points_earned, status, created_at, completed_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	var memberID, payMethod sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&o.ID, &o.OrderNo, &memberID, &o.CashierID, &o.TotalAmount, &o.DiscountAmount,
		&o.ActualAmount, &payMethod, &o.PointsEarned, &o.Status, &o.CreatedAt, &completedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.MemberID = memberID.String
	o.PayMethod = payMethod.String
	o.CreatedAt = o.CreatedAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		o.CompletedAt = &at
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	if order.Lines, err = s.loadOrderLines(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_no = $1`, orderNo)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order number %s", store.ErrNotFound, orderNo)
		}
		return nil, err
	}
	if order.Lines, err = s.loadOrderLines(ctx, order.ID); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) loadOrderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, goods_id, goods_name, barcode, unit_price, quantity, discount, subtotal, returned_quantity, is_returned
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.GoodsID, &line.GoodsName, &line.Barcode,
			&line.UnitPrice, &line.Quantity, &line.Discount, &line.Subtotal, &line.ReturnedQuantity, &line.IsReturned); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListHeldOrders(ctx context.Context, cashierID string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND ($2 = '' OR cashier_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, domain.OrderStatusHanged, cashierID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].Lines, err = s.loadOrderLines(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) ListPayments(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, payment_type, amount, transaction_type, paid_at
		FROM payment_records
		WHERE order_id = $1
		ORDER BY paid_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.PaymentRecord, 0, 2)
	for rows.Next() {
		var p domain.PaymentRecord
		if err := rows.Scan(&p.ID, &p.OrderID, &p.PaymentType, &p.Amount, &p.TransactionType, &p.PaidAt); err != nil {
			return nil, err
		}
		p.PaidAt = p.PaidAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) CreateReturn(ctx context.Context, record domain.ReturnRecord, newOrderStatus string) (*domain.ReturnRecord, error) {
	if len(record.Lines) == 0 {
		return nil, fmt.Errorf("%w: return has no lines", store.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, record.OrderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, record.OrderID)
		}
		return nil, err
	}

	// Per-day sequence computed inside the transaction; serializable
	// isolation keeps two same-day returns from sharing a number.
	prefix := "RT" + record.CreatedAt.Format("20060102")
	var seq int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(RIGHT(return_no, 4) AS INTEGER)), 0)
		FROM return_records
		WHERE return_no LIKE $1 || '%'
	`, prefix).Scan(&seq)
	if err != nil {
		return nil, err
	}
	record.ReturnNo = xid.ReturnNo(record.CreatedAt, seq+1)

	for _, rl := range record.Lines {
		// Clamp re-checked under the row lock: the quantity the service
		// validated against may be stale by the time the lock is taken.
		var quantity, returned decimal.Decimal
		err := tx.QueryRowContext(ctx, `
			SELECT quantity, returned_quantity FROM order_lines
			WHERE id = $1 AND order_id = $2
			FOR UPDATE
		`, rl.OrderLineID, order.ID).Scan(&quantity, &returned)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: order line %s", store.ErrNotFound, rl.OrderLineID)
			}
			return nil, err
		}
		if returned.Add(rl.Quantity).Cmp(quantity) > 0 {
			return nil, fmt.Errorf("%w: line %s return exceeds outstanding quantity", store.ErrInvalidState, rl.OrderLineID)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE order_lines
			SET returned_quantity = returned_quantity + $2,
			    is_returned = (returned_quantity + $2 >= quantity)
			WHERE id = $1
		`, rl.OrderLineID, rl.Quantity)
		if err != nil {
			return nil, err
		}

		if rl.Disposition == domain.DispositionToStock {
			if err := restoreWarehouseStock(ctx, tx, rl.GoodsID, rl.Quantity); err != nil {
				return nil, err
			}
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, order.ID, newOrderStatus)
	if err != nil {
		return nil, err
	}

	if order.MemberID != "" {
		if err := deductPoints(ctx, tx, order.MemberID, record.PointsDeducted, record.RefundAmount); err != nil {
			return nil, err
		}
	}

	refundType := domain.PayTypeCash
	err = tx.QueryRowContext(ctx, `
		SELECT payment_type FROM payment_records
		WHERE order_id = $1 AND transaction_type = $2
		ORDER BY paid_at
		LIMIT 1
	`, order.ID, domain.TxTypePay).Scan(&refundType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err := insertPayment(ctx, tx, domain.PaymentRecord{
		ID:              xid.New("pay"),
		OrderID:         order.ID,
		PaymentType:     refundType,
		Amount:          record.RefundAmount,
		TransactionType: domain.TxTypeRefund,
		PaidAt:          record.CreatedAt,
	}); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO return_records (id, return_no, order_id, return_type, refund_amount, points_deducted, reason, detail, operator_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, record.ID, record.ReturnNo, record.OrderID, record.Type, record.RefundAmount,
		record.PointsDeducted, record.Reason, nullIfEmpty(record.Detail), record.OperatorID, record.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, rl := range record.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO return_lines (id, return_id, order_line_id, goods_id, goods_name, quantity, refund_amount, disposition)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, rl.ID, rl.ReturnID, rl.OrderLineID, rl.GoodsID, rl.GoodsName, rl.Quantity, rl.RefundAmount, rl.Disposition)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := record
	return &created, nil
}

// restoreWarehouseStock puts returned quantity back into the warehouse
// bucket. Goods without an inventory row are skipped, mirroring the
// sale-side behavior.
func restoreWarehouseStock(ctx context.Context, tx *sql.Tx, goodsID string, quantity decimal.Decimal) error {
	row := tx.QueryRowContext(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE goods_id = $1 FOR UPDATE`, goodsID)
	inv, err := scanInventory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	inv.WarehouseQty = inv.WarehouseQty.Add(quantity)
	return writeInventory(ctx, tx, &inv)
}

// deductPoints claws back points clamped at zero and rolls the refund
// out of the member's lifetime consumption, also clamped.
func deductPoints(ctx context.Context, tx *sql.Tx, memberID string, points int64, refund decimal.Decimal) error {
	var totalPoints int64
	var totalConsume decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT total_points, total_consume FROM members WHERE id = $1 FOR UPDATE
	`, memberID).Scan(&totalPoints, &totalConsume)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	if points > totalPoints {
		points = totalPoints
	}
	totalConsume = totalConsume.Sub(refund)
	if totalConsume.Sign() < 0 {
		totalConsume = decimal.Zero
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE members SET total_points = total_points - $2, total_consume = $3 WHERE id = $1
	`, memberID, points, totalConsume)
	return err
}

const returnColumns = `id, return_no, order_id, return_type, refund_amount, points_deducted, reason, detail, operator_id, created_at`

func scanReturn(row interface{ Scan(...any) error }) (domain.ReturnRecord, error) {
	var r domain.ReturnRecord
	var detail sql.NullString
	err := row.Scan(&r.ID, &r.ReturnNo, &r.OrderID, &r.Type, &r.RefundAmount, &r.PointsDeducted,
		&r.Reason, &detail, &r.OperatorID, &r.CreatedAt)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	r.Detail = detail.String
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM return_records WHERE id = $1`, id)
	record, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: return %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	if record.Lines, err = s.loadReturnLines(ctx, record.ID); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) ListReturns(ctx context.Context, from, to time.Time, orderID string, limit int) ([]domain.ReturnRecord, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+returnColumns+`
		FROM return_records
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		  AND ($3 = '' OR order_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, nullTime(from), nullTime(to), orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ReturnRecord, 0, limit)
	for rows.Next() {
		record, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Lines, err = s.loadReturnLines(ctx, records[i].ID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *Store) loadReturnLines(ctx context.Context, returnID string) ([]domain.ReturnLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, return_id, order_line_id, goods_id, goods_name, quantity, refund_amount, disposition
		FROM return_lines
		WHERE return_id = $1
		ORDER BY id
	`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.ReturnLine, 0, 4)
	for rows.Next() {
		var line domain.ReturnLine
		if err := rows.Scan(&line.ID, &line.ReturnID, &line.OrderLineID, &line.GoodsID, &line.GoodsName,
			&line.Quantity, &line.RefundAmount, &line.Disposition); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

const memberColumns = `id, card_no, name, phone, tier_code, total_consume, total_points, status, created_at`

func scanMember(row interface{ Scan(...any) error }) (domain.Member, error) {
	var m domain.Member
	var phone sql.NullString
	err := row.Scan(&m.ID, &m.CardNo, &m.Name, &phone, &m.TierCode, &m.TotalConsume, &m.TotalPoints, &m.Status, &m.CreatedAt)
	if err != nil {
		return domain.Member{}, err
	}
	m.Phone = phone.String
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: member %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &member, nil
}

func (s *Store) GetMemberByCardNo(ctx context.Context, cardNo string) (*domain.Member, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE card_no = $1`, cardNo)
	member, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: card %s", store.ErrNotFound, cardNo)
		}
		return nil, err
	}
	return &member, nil
}

func (s *Store) CreateMember(ctx context.Context, member domain.Member) (*domain.Member, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, card_no, name, phone, tier_code, total_consume, total_points, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, member.ID, member.CardNo, member.Name, nullIfEmpty(member.Phone), member.TierCode,
		member.TotalConsume, member.TotalPoints, member.Status, member.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: card %s already exists", store.ErrInvalidInput, member.CardNo)
		}
		return nil, err
	}
	created := member
	return &created, nil
}

func (s *Store) ListTierRules(ctx context.Context) ([]domain.TierRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier_code, tier_name, min_consume, min_points, discount_rate, points_rate
		FROM tier_rules
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.TierRule, 0, 4)
	for rows.Next() {
		var rule domain.TierRule
		if err := rows.Scan(&rule.TierCode, &rule.TierName, &rule.MinConsume, &rule.MinPoints, &rule.DiscountRate, &rule.PointsRate); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) UpdateTierRule(ctx context.Context, rule domain.TierRule) (*domain.TierRule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tier_rules
		SET min_consume = $2, min_points = $3, discount_rate = $4, points_rate = $5
		WHERE tier_code = $1
	`, rule.TierCode, rule.MinConsume, rule.MinPoints, rule.DiscountRate, rule.PointsRate)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: tier %s", store.ErrNotFound, rule.TierCode)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT tier_code, tier_name, min_consume, min_points, discount_rate, points_rate
		FROM tier_rules WHERE tier_code = $1
	`, rule.TierCode)
	var updated domain.TierRule
	if err := row.Scan(&updated.TierCode, &updated.TierName, &updated.MinConsume, &updated.MinPoints, &updated.DiscountRate, &updated.PointsRate); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) EvaluateMemberTier(ctx context.Context, memberID string) (*domain.TierChange, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var currentTier string
	var totalConsume decimal.Decimal
	var totalPoints int64
	err = tx.QueryRowContext(ctx, `
		SELECT tier_code, total_consume, total_points FROM members WHERE id = $1 FOR UPDATE
	`, memberID).Scan(&currentTier, &totalConsume, &totalPoints)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: member %s", store.ErrNotFound, memberID)
		}
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT tier_code, min_consume, min_points FROM tier_rules`)
	if err != nil {
		return nil, err
	}
	best := domain.TierNormal
	for rows.Next() {
		var code string
		var minConsume decimal.Decimal
		var minPoints int64
		if err := rows.Scan(&code, &minConsume, &minPoints); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if totalConsume.Cmp(minConsume) >= 0 && totalPoints >= minPoints && domain.TierRank(code) > domain.TierRank(best) {
			best = code
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	change := domain.TierChange{OldTier: currentTier, NewTier: best}
	if best != currentTier {
		change.Changed = true
		if _, err := tx.ExecContext(ctx, `UPDATE members SET tier_code = $2 WHERE id = $1`, memberID, best); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s already exists", store.ErrInvalidInput, user.Username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
