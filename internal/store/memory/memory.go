// Package memory implements store.Repository with mutex-guarded maps.
// It backs the test suite and dev mode when DATABASE_URL is unset.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/store"
	"minimart/backend/internal/xid"
)

type Store struct {
	mu sync.Mutex

	goods     map[string]domain.Goods
	byBarcode map[string]string
	inventory map[string]domain.InventoryRecord

	orders    map[string]domain.Order
	byOrderNo map[string]string
	payments  map[string][]domain.PaymentRecord

	returns   map[string]domain.ReturnRecord
	returnSeq map[string]int

	members  map[string]domain.Member
	byCardNo map[string]string
	tiers    map[string]domain.TierRule

	users map[string]domain.UserAccount
}

func New() *Store {
	s := &Store{
		goods:     make(map[string]domain.Goods),
		byBarcode: make(map[string]string),
		inventory: make(map[string]domain.InventoryRecord),
		orders:    make(map[string]domain.Order),
		byOrderNo: make(map[string]string),
		payments:  make(map[string][]domain.PaymentRecord),
		returns:   make(map[string]domain.ReturnRecord),
		returnSeq: make(map[string]int),
		members:   make(map[string]domain.Member),
		byCardNo:  make(map[string]string),
		tiers:     make(map[string]domain.TierRule),
		users:     make(map[string]domain.UserAccount),
	}
	s.seedTierRules()
	return s
}

// NewSeeded returns a store preloaded with demo goods, inventory, members
// and login accounts so a fresh dev instance is usable immediately.
func NewSeeded() *Store {
	s := New()
	s.seedCatalog()
	s.seedMembers()
	s.seedUsers()
	return s
}

func (s *Store) seedTierRules() {
	s.tiers[domain.TierNormal] = domain.TierRule{
		TierCode: domain.TierNormal, TierName: "Normal",
		MinConsume: decimal.Zero, MinPoints: 0,
		DiscountRate: dec("1"), PointsRate: dec("1"),
	}
	s.tiers[domain.TierSilver] = domain.TierRule{
		TierCode: domain.TierSilver, TierName: "Silver",
		MinConsume: dec("1000"), MinPoints: 500,
		DiscountRate: dec("0.95"), PointsRate: dec("1.2"),
	}
	s.tiers[domain.TierGold] = domain.TierRule{
		TierCode: domain.TierGold, TierName: "Gold",
		MinConsume: dec("5000"), MinPoints: 3000,
		DiscountRate: dec("0.9"), PointsRate: dec("1.5"),
	}
}

func (s *Store) seedCatalog() {
	now := time.Now().UTC()
	seed := []struct {
		goods     domain.Goods
		warehouse string
		shelf     string
	}{
		{domain.Goods{ID: xid.New("gd"), Barcode: "6901234567890", Name: "Mineral Water 550ml", Category: "beverage", Unit: "bottle", Price: dec("2.00"), Discount: dec("1"), ShelfStatus: domain.ShelfStatusOn, CreatedAt: now}, "200", "48"},
		{domain.Goods{ID: xid.New("gd"), Barcode: "6901234567891", Name: "Instant Noodles", Category: "food", Unit: "bag", Price: dec("4.50"), Discount: dec("0.9"), ShelfStatus: domain.ShelfStatusOn, CreatedAt: now}, "120", "30"},
		{domain.Goods{ID: xid.New("gd"), Barcode: "6901234567892", Name: "Bananas", Category: "fresh", Unit: "kg", IsWeighted: true, Price: dec("6.80"), Discount: dec("1"), ShelfStatus: domain.ShelfStatusOn, CreatedAt: now}, "40", "12.5"},
	}
	for _, item := range seed {
		s.goods[item.goods.ID] = item.goods
		s.byBarcode[item.goods.Barcode] = item.goods.ID
		inv := domain.InventoryRecord{
			GoodsID:      item.goods.ID,
			WarehouseQty: dec(item.warehouse),
			ShelfQty:     dec(item.shelf),
			StockWarning: dec("20"),
			ShelfWarning: dec("10"),
			UpdatedAt:    now,
		}
		inv.Status = domain.DeriveStockStatus(inv.WarehouseQty, inv.ShelfQty, inv.StockWarning, inv.ShelfWarning)
		s.inventory[item.goods.ID] = inv
	}
}

func (s *Store) seedMembers() {
	now := time.Now().UTC()
	member := domain.Member{
		ID: xid.New("mb"), CardNo: "M0001", Name: "Demo Member",
		TierCode: domain.TierNormal, TotalConsume: decimal.Zero,
		Status: domain.MemberStatusActive, CreatedAt: now,
	}
	s.members[member.ID] = member
	s.byCardNo[member.CardNo] = member.ID
}

func (s *Store) seedUsers() {
	now := time.Now().UTC()
	for _, acct := range []struct {
		name, role, envVar, fallback string
	}{
		{"admin", "admin", "MINIMART_ADMIN_PASSWORD", "admin123"},
		{"cashier", "cashier", "MINIMART_CASHIER_PASSWORD", "cashier123"},
	} {
		password := os.Getenv(acct.envVar)
		if password == "" {
			password = acct.fallback
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			continue
		}
		s.users[acct.name] = domain.UserAccount{
			Username: acct.name, Password: string(hashed),
			Role: acct.role, Active: true, CreatedAt: now,
		}
	}
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(fmt.Sprintf("bad seed decimal %q", v))
	}
	return d
}

func (s *Store) CreateGoods(ctx context.Context, goods domain.Goods, inventory domain.InventoryRecord) (*domain.Goods, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byBarcode[goods.Barcode]; exists {
		return nil, fmt.Errorf("%w: barcode %s already exists", store.ErrInvalidInput, goods.Barcode)
	}
	s.goods[goods.ID] = goods
	s.byBarcode[goods.Barcode] = goods.ID
	inventory.GoodsID = goods.ID
	inventory.Status = domain.DeriveStockStatus(inventory.WarehouseQty, inventory.ShelfQty, inventory.StockWarning, inventory.ShelfWarning)
	s.inventory[goods.ID] = inventory
	out := goods
	return &out, nil
}

func (s *Store) GetGoodsByID(ctx context.Context, id string) (*domain.Goods, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	goods, ok := s.goods[id]
	if !ok {
		return nil, fmt.Errorf("%w: goods %s", store.ErrNotFound, id)
	}
	out := goods
	return &out, nil
}

func (s *Store) GetGoodsByBarcode(ctx context.Context, barcode string) (*domain.Goods, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byBarcode[barcode]
	if !ok {
		return nil, fmt.Errorf("%w: barcode %s", store.ErrNotFound, barcode)
	}
	out := s.goods[id]
	return &out, nil
}

func (s *Store) GetGoodsByBarcodes(ctx context.Context, barcodes []string) (map[string]domain.Goods, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]domain.Goods, len(barcodes))
	for _, barcode := range barcodes {
		if id, ok := s.byBarcode[barcode]; ok {
			result[barcode] = s.goods[id]
		}
	}
	return result, nil
}

func (s *Store) ListGoods(ctx context.Context, category string, keyword string, limit int) ([]domain.Goods, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	result := make([]domain.Goods, 0)
	for _, goods := range s.goods {
		if category != "" && goods.Category != category {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(goods.Name), keyword) && !strings.Contains(goods.Barcode, keyword) {
			continue
		}
		result = append(result, goods)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetInventory(ctx context.Context, goodsID string) (*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventory[goodsID]
	if !ok {
		return nil, fmt.Errorf("%w: inventory for goods %s", store.ErrNotFound, goodsID)
	}
	out := inv
	return &out, nil
}

func (s *Store) GetInventoryMap(ctx context.Context, goodsIDs []string) (map[string]domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]domain.InventoryRecord, len(goodsIDs))
	for _, id := range goodsIDs {
		if inv, ok := s.inventory[id]; ok {
			result[id] = inv
		}
	}
	return result, nil
}

func (s *Store) ReceiveStock(ctx context.Context, goodsID string, quantity decimal.Decimal) (*domain.InventoryRecord, error) {
	if quantity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: receive quantity must be positive", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventory[goodsID]
	if !ok {
		return nil, fmt.Errorf("%w: inventory for goods %s", store.ErrNotFound, goodsID)
	}
	inv.WarehouseQty = inv.WarehouseQty.Add(quantity)
	touchInventory(&inv)
	s.inventory[goodsID] = inv
	out := inv
	return &out, nil
}

func (s *Store) MoveToShelf(ctx context.Context, goodsID string, quantity decimal.Decimal) (*domain.InventoryRecord, error) {
	if quantity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: move quantity must be positive", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventory[goodsID]
	if !ok {
		return nil, fmt.Errorf("%w: inventory for goods %s", store.ErrNotFound, goodsID)
	}
	if inv.WarehouseQty.Cmp(quantity) < 0 {
		return nil, fmt.Errorf("%w: warehouse has %s, requested %s", store.ErrInsufficientStock, inv.WarehouseQty, quantity)
	}
	inv.WarehouseQty = inv.WarehouseQty.Sub(quantity)
	inv.ShelfQty = inv.ShelfQty.Add(quantity)
	touchInventory(&inv)
	s.inventory[goodsID] = inv
	out := inv
	return &out, nil
}

func (s *Store) SetWarningThresholds(ctx context.Context, goodsID string, stockWarning, shelfWarning decimal.Decimal) (*domain.InventoryRecord, error) {
	if stockWarning.Sign() < 0 || shelfWarning.Sign() < 0 {
		return nil, fmt.Errorf("%w: thresholds must not be negative", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventory[goodsID]
	if !ok {
		return nil, fmt.Errorf("%w: inventory for goods %s", store.ErrNotFound, goodsID)
	}
	inv.StockWarning = stockWarning
	inv.ShelfWarning = shelfWarning
	touchInventory(&inv)
	s.inventory[goodsID] = inv
	out := inv
	return &out, nil
}

func touchInventory(inv *domain.InventoryRecord) {
	inv.Status = domain.DeriveStockStatus(inv.WarehouseQty, inv.ShelfQty, inv.StockWarning, inv.ShelfWarning)
	inv.UpdatedAt = time.Now().UTC()
}

func (s *Store) ListStockWarnings(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	return s.scanAlerts(limit, func(inv domain.InventoryRecord) (decimal.Decimal, decimal.Decimal, bool) {
		return inv.WarehouseQty, inv.StockWarning, inv.WarehouseQty.Cmp(inv.StockWarning) <= 0
	})
}

func (s *Store) ListShelfWarnings(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	return s.scanAlerts(limit, func(inv domain.InventoryRecord) (decimal.Decimal, decimal.Decimal, bool) {
		return inv.ShelfQty, inv.ShelfWarning, inv.ShelfQty.Cmp(inv.ShelfWarning) <= 0
	})
}

func (s *Store) ListShortages(ctx context.Context, limit int) ([]domain.InventoryAlert, error) {
	return s.scanAlerts(limit, func(inv domain.InventoryRecord) (decimal.Decimal, decimal.Decimal, bool) {
		if inv.WarehouseQty.Sign() <= 0 {
			return inv.WarehouseQty, inv.StockWarning, true
		}
		return inv.ShelfQty, inv.ShelfWarning, inv.ShelfQty.Sign() <= 0
	})
}

func (s *Store) scanAlerts(limit int, match func(domain.InventoryRecord) (decimal.Decimal, decimal.Decimal, bool)) ([]domain.InventoryAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.InventoryAlert, 0)
	for goodsID, inv := range s.inventory {
		qty, threshold, ok := match(inv)
		if !ok {
			continue
		}
		goods := s.goods[goodsID]
		result = append(result, domain.InventoryAlert{
			GoodsID:   goodsID,
			GoodsName: goods.Name,
			Barcode:   goods.Barcode,
			Quantity:  qty,
			Threshold: threshold,
			Status:    inv.Status,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Quantity.Cmp(result[j].Quantity) < 0 })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SettleOrder(ctx context.Context, order domain.Order, payment domain.PaymentRecord) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deductShelfStockLocked(order.Lines); err != nil {
		return nil, err
	}
	s.writeOrderLocked(order, payment)
	s.accruePointsLocked(order)
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) HangOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
	s.byOrderNo[order.OrderNo] = order.ID
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) ResumeOrder(ctx context.Context, order domain.Order, payment domain.PaymentRecord) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.orders[order.ID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, order.ID)
	}
	if existing.Status != domain.OrderStatusHanged {
		return nil, fmt.Errorf("%w: order %s is %s, only hanged orders can be resumed", store.ErrInvalidState, order.ID, existing.Status)
	}
	if err := s.deductShelfStockLocked(order.Lines); err != nil {
		return nil, err
	}
	order.OrderNo = existing.OrderNo
	order.CreatedAt = existing.CreatedAt
	s.writeOrderLocked(order, payment)
	s.accruePointsLocked(order)
	out := cloneOrder(order)
	return &out, nil
}

// deductShelfStockLocked validates every line before touching any bucket
// so a failing line leaves stock untouched. Lines whose goods carry no
// inventory record are sold without stock tracking.
func (s *Store) deductShelfStockLocked(lines []domain.OrderLine) error {
	for _, line := range lines {
		inv, ok := s.inventory[line.GoodsID]
		if !ok {
			continue
		}
		if inv.ShelfQty.Cmp(line.Quantity) < 0 {
			return fmt.Errorf("%w: %s has %s on shelf, requested %s", store.ErrInsufficientStock, line.GoodsName, inv.ShelfQty, line.Quantity)
		}
	}
	for _, line := range lines {
		inv, ok := s.inventory[line.GoodsID]
		if !ok {
			continue
		}
		inv.ShelfQty = inv.ShelfQty.Sub(line.Quantity)
		touchInventory(&inv)
		s.inventory[line.GoodsID] = inv
	}
	return nil
}

func (s *Store) writeOrderLocked(order domain.Order, payment domain.PaymentRecord) {
	s.orders[order.ID] = cloneOrder(order)
	s.byOrderNo[order.OrderNo] = order.ID
	s.payments[order.ID] = append(s.payments[order.ID], payment)
}

func (s *Store) accruePointsLocked(order domain.Order) {
	if order.MemberID == "" {
		return
	}
	member, ok := s.members[order.MemberID]
	if !ok || member.Status != domain.MemberStatusActive {
		return
	}
	member.TotalPoints += order.PointsEarned
	member.TotalConsume = member.TotalConsume.Add(order.ActualAmount)
	s.members[order.MemberID] = member
}

func (s *Store) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	switch order.Status {
	case domain.OrderStatusHanged, domain.OrderStatusPendingPay:
	case domain.OrderStatusCompleted, domain.OrderStatusPartReturned, domain.OrderStatusFullReturned:
		return nil, fmt.Errorf("%w: order %s is settled, use the returns flow", store.ErrInvalidState, orderID)
	default:
		return nil, fmt.Errorf("%w: order %s is %s", store.ErrInvalidState, orderID, order.Status)
	}
	order.Status = domain.OrderStatusCancelled
	s.orders[orderID] = order
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
	}
	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOrderNo[orderNo]
	if !ok {
		return nil, fmt.Errorf("%w: order number %s", store.ErrNotFound, orderNo)
	}
	out := cloneOrder(s.orders[id])
	return &out, nil
}

func (s *Store) ListHeldOrders(ctx context.Context, cashierID string, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.Status != domain.OrderStatusHanged {
			continue
		}
		if cashierID != "" && order.CashierID != cashierID {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListPayments(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.payments[orderID]
	out := make([]domain.PaymentRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *Store) CreateReturn(ctx context.Context, record domain.ReturnRecord, newOrderStatus string) (*domain.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[record.OrderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, record.OrderID)
	}

	// Re-check outstanding quantities before any write so an oversized
	// return aborts whole rather than half-applied.
	requested := make(map[string]decimal.Decimal, len(record.Lines))
	for _, rl := range record.Lines {
		requested[rl.OrderLineID] = requested[rl.OrderLineID].Add(rl.Quantity)
	}
	for i := range order.Lines {
		qty, ok := requested[order.Lines[i].ID]
		if !ok {
			continue
		}
		if order.Lines[i].ReturnedQuantity.Add(qty).Cmp(order.Lines[i].Quantity) > 0 {
			return nil, fmt.Errorf("%w: line %s return exceeds outstanding quantity", store.ErrInvalidState, order.Lines[i].ID)
		}
	}

	dayKey := record.CreatedAt.Format("20060102")
	s.returnSeq[dayKey]++
	record.ReturnNo = xid.ReturnNo(record.CreatedAt, s.returnSeq[dayKey])

	for _, rl := range record.Lines {
		for i := range order.Lines {
			if order.Lines[i].ID != rl.OrderLineID {
				continue
			}
			order.Lines[i].ReturnedQuantity = order.Lines[i].ReturnedQuantity.Add(rl.Quantity)
			if order.Lines[i].ReturnedQuantity.Cmp(order.Lines[i].Quantity) >= 0 {
				order.Lines[i].IsReturned = true
			}
			break
		}
		if rl.Disposition == domain.DispositionToStock {
			if inv, ok := s.inventory[rl.GoodsID]; ok {
				inv.WarehouseQty = inv.WarehouseQty.Add(rl.Quantity)
				touchInventory(&inv)
				s.inventory[rl.GoodsID] = inv
			}
		}
	}
	order.Status = newOrderStatus
	s.orders[order.ID] = order

	if order.MemberID != "" {
		if member, ok := s.members[order.MemberID]; ok {
			deduct := record.PointsDeducted
			if deduct > member.TotalPoints {
				deduct = member.TotalPoints
			}
			member.TotalPoints -= deduct
			member.TotalConsume = member.TotalConsume.Sub(record.RefundAmount)
			if member.TotalConsume.Sign() < 0 {
				member.TotalConsume = decimal.Zero
			}
			s.members[order.MemberID] = member
		}
	}

	refundType := domain.PayTypeCash
	for _, p := range s.payments[order.ID] {
		if p.TransactionType == domain.TxTypePay {
			refundType = p.PaymentType
			break
		}
	}
	s.payments[order.ID] = append(s.payments[order.ID], domain.PaymentRecord{
		ID:              xid.New("pay"),
		OrderID:         order.ID,
		PaymentType:     refundType,
		Amount:          record.RefundAmount,
		TransactionType: domain.TxTypeRefund,
		PaidAt:          record.CreatedAt,
	})

	s.returns[record.ID] = cloneReturn(record)
	out := cloneReturn(record)
	return &out, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.returns[id]
	if !ok {
		return nil, fmt.Errorf("%w: return %s", store.ErrNotFound, id)
	}
	out := cloneReturn(record)
	return &out, nil
}

func (s *Store) ListReturns(ctx context.Context, from, to time.Time, orderID string, limit int) ([]domain.ReturnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.ReturnRecord, 0)
	for _, record := range s.returns {
		if orderID != "" && record.OrderID != orderID {
			continue
		}
		if !from.IsZero() && record.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !record.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloneReturn(record))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", store.ErrNotFound, id)
	}
	out := member
	return &out, nil
}

func (s *Store) GetMemberByCardNo(ctx context.Context, cardNo string) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCardNo[cardNo]
	if !ok {
		return nil, fmt.Errorf("%w: card %s", store.ErrNotFound, cardNo)
	}
	out := s.members[id]
	return &out, nil
}

func (s *Store) CreateMember(ctx context.Context, member domain.Member) (*domain.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCardNo[member.CardNo]; exists {
		return nil, fmt.Errorf("%w: card %s already exists", store.ErrInvalidInput, member.CardNo)
	}
	s.members[member.ID] = member
	s.byCardNo[member.CardNo] = member.ID
	out := member
	return &out, nil
}

func (s *Store) ListTierRules(ctx context.Context) ([]domain.TierRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.TierRule, 0, len(s.tiers))
	for _, rule := range s.tiers {
		result = append(result, rule)
	}
	sort.Slice(result, func(i, j int) bool {
		return domain.TierRank(result[i].TierCode) < domain.TierRank(result[j].TierCode)
	})
	return result, nil
}

func (s *Store) UpdateTierRule(ctx context.Context, rule domain.TierRule) (*domain.TierRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tiers[rule.TierCode]
	if !ok {
		return nil, fmt.Errorf("%w: tier %s", store.ErrNotFound, rule.TierCode)
	}
	if rule.TierName == "" {
		rule.TierName = existing.TierName
	}
	s.tiers[rule.TierCode] = rule
	out := rule
	return &out, nil
}

func (s *Store) EvaluateMemberTier(ctx context.Context, memberID string) (*domain.TierChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[memberID]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", store.ErrNotFound, memberID)
	}
	best := domain.TierNormal
	for code, rule := range s.tiers {
		if member.TotalConsume.Cmp(rule.MinConsume) >= 0 && member.TotalPoints >= rule.MinPoints {
			if domain.TierRank(code) > domain.TierRank(best) {
				best = code
			}
		}
	}
	change := domain.TierChange{OldTier: member.TierCode, NewTier: best}
	if best != member.TierCode {
		change.Changed = true
		member.TierCode = best
		s.members[memberID] = member
	}
	return &change, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("%w: user %s already exists", store.ErrInvalidInput, user.Username)
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Lines = make([]domain.OrderLine, len(order.Lines))
	copy(out.Lines, order.Lines)
	if order.CompletedAt != nil {
		at := *order.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

func cloneReturn(record domain.ReturnRecord) domain.ReturnRecord {
	out := record
	out.Lines = make([]domain.ReturnLine, len(record.Lines))
	copy(out.Lines, record.Lines)
	return out
}
