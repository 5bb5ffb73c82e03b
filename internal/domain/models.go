package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. A held order moves hanged -> completed via resume, or
// hanged -> cancelled. A completed order only moves forward into the
// return states; cancellation of a completed order is routed to the
// returns flow instead.
const (
	OrderStatusHanged       = "hanged"
	OrderStatusPendingPay   = "pending_pay"
	OrderStatusCompleted    = "completed"
	OrderStatusCancelled    = "cancelled"
	OrderStatusPartReturned = "part_returned"
	OrderStatusFullReturned = "full_returned"
)

const (
	ReturnTypeFull = "full"
	ReturnTypePart = "part"
)

// Goods disposition after a return: quality-issue returns are parked for
// inspection, everything else goes straight back to the warehouse.
const (
	DispositionToStock        = "to_stock"
	DispositionPendingInspect = "pending_inspect"
)

const ReturnReasonQualityIssue = "quality_issue"

const (
	StockStatusSufficient    = "sufficient"
	StockStatusWarning       = "warning"
	StockStatusStockShortage = "stock_shortage"
	StockStatusShelfShortage = "shelf_shortage"
)

const (
	TierNormal = "normal"
	TierSilver = "silver"
	TierGold   = "gold"
)

const (
	MemberStatusActive   = "active"
	MemberStatusDisabled = "disabled"
)

const (
	ShelfStatusOn  = "on_shelf"
	ShelfStatusOff = "off_shelf"
)

const (
	PayTypeCash     = "cash"
	PayTypeBankCard = "bank_card"
	PayTypeWeChat   = "wechat"
	PayTypeAlipay   = "alipay"
)

const (
	TxTypePay    = "pay"
	TxTypeRefund = "refund"
)

type Goods struct {
	ID          string          `json:"id"`
	Barcode     string          `json:"barcode"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Unit        string          `json:"unit"`
	IsWeighted  bool            `json:"is_weighted"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	ShelfStatus string          `json:"shelf_status"`
	CreatedAt   time.Time       `json:"created_at"`
}

type GoodsCreateRequest struct {
	Barcode      string          `json:"barcode"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Unit         string          `json:"unit"`
	IsWeighted   bool            `json:"is_weighted"`
	Price        decimal.Decimal `json:"price"`
	Discount     decimal.Decimal `json:"discount"`
	StockWarning decimal.Decimal `json:"stock_warning"`
}

// Order is one checkout transaction. Amounts are denormalized at settle
// time; later price changes never touch a written order.
type Order struct {
	ID             string          `json:"id"`
	OrderNo        string          `json:"order_no"`
	MemberID       string          `json:"member_id,omitempty"`
	CashierID      string          `json:"cashier_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ActualAmount   decimal.Decimal `json:"actual_amount"`
	PayMethod      string          `json:"pay_method,omitempty"`
	PointsEarned   int64           `json:"points_earned"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Lines          []OrderLine     `json:"lines"`
}

// OrderLine snapshots name, barcode, price and discount at sale time.
// ReturnedQuantity accumulates across partial returns and never exceeds
// Quantity; IsReturned is true exactly when the line is fully returned.
type OrderLine struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	GoodsID          string          `json:"goods_id"`
	GoodsName        string          `json:"goods_name"`
	Barcode          string          `json:"barcode"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Quantity         decimal.Decimal `json:"quantity"`
	Discount         decimal.Decimal `json:"discount"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
	IsReturned       bool            `json:"is_returned"`
}

// Returnable is the quantity still eligible for return on this line.
func (l OrderLine) Returnable() decimal.Decimal {
	return l.Quantity.Sub(l.ReturnedQuantity)
}

type PaymentRecord struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	PaymentType     string          `json:"payment_type"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transaction_type"`
	PaidAt          time.Time       `json:"paid_at"`
}

// CartLine is what the register sends: a scanned barcode and a quantity,
// fractional for weighted goods.
type CartLine struct {
	Barcode  string          `json:"barcode"`
	Quantity decimal.Decimal `json:"quantity"`
}

type CreateOrderRequest struct {
	CashierID string     `json:"cashier_id"`
	MemberID  string     `json:"member_id,omitempty"`
	PayMethod string     `json:"pay_method"`
	Items     []CartLine `json:"items"`
}

type HangOrderRequest struct {
	CashierID string     `json:"cashier_id"`
	MemberID  string     `json:"member_id,omitempty"`
	Items     []CartLine `json:"items"`
}

type ResumeOrderRequest struct {
	OrderID   string `json:"order_id"`
	CashierID string `json:"cashier_id"`
	PayMethod string `json:"pay_method"`
}

// ReturnRecord is an append-only audit row; it is never mutated after the
// transaction that created it commits.
type ReturnRecord struct {
	ID             string          `json:"id"`
	ReturnNo       string          `json:"return_no"`
	OrderID        string          `json:"order_id"`
	Type           string          `json:"type"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	PointsDeducted int64           `json:"points_deducted"`
	Reason         string          `json:"reason"`
	Detail         string          `json:"detail,omitempty"`
	OperatorID     string          `json:"operator_id"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []ReturnLine    `json:"lines"`
}

type ReturnLine struct {
	ID           string          `json:"id"`
	ReturnID     string          `json:"return_id"`
	OrderLineID  string          `json:"order_line_id"`
	GoodsID      string          `json:"goods_id"`
	GoodsName    string          `json:"goods_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Disposition  string          `json:"disposition"`
}

type PartReturnItem struct {
	OrderLineID string          `json:"order_line_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type FullReturnRequest struct {
	OrderID    string `json:"order_id"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail,omitempty"`
	OperatorID string `json:"operator_id"`
}

type PartReturnRequest struct {
	OrderID    string           `json:"order_id"`
	Items      []PartReturnItem `json:"items"`
	Reason     string           `json:"reason"`
	Detail     string           `json:"detail,omitempty"`
	OperatorID string           `json:"operator_id"`
}

// ReturnResult is what both return flows hand back to the register.
type ReturnResult struct {
	Record     ReturnRecord `json:"record"`
	TierChange TierChange   `json:"tier_change"`
}

// InventoryRecord tracks the two stock buckets per item. Shelf quantity
// is the sellable pool decremented at sale time; warehouse quantity is
// the replenishment pool restored on return. Status is derived from the
// quantities, never trusted as stored truth.
type InventoryRecord struct {
	GoodsID      string          `json:"goods_id"`
	WarehouseQty decimal.Decimal `json:"warehouse_qty"`
	ShelfQty     decimal.Decimal `json:"shelf_qty"`
	StockWarning decimal.Decimal `json:"stock_warning"`
	ShelfWarning decimal.Decimal `json:"shelf_warning"`
	Status       string          `json:"status"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DeriveStockStatus recomputes inventory status from the current
// quantities and thresholds.
func DeriveStockStatus(warehouseQty, shelfQty, stockWarning, shelfWarning decimal.Decimal) string {
	switch {
	case warehouseQty.Sign() <= 0:
		return StockStatusStockShortage
	case shelfQty.Sign() <= 0:
		return StockStatusShelfShortage
	case warehouseQty.Cmp(stockWarning) <= 0 || shelfQty.Cmp(shelfWarning) <= 0:
		return StockStatusWarning
	default:
		return StockStatusSufficient
	}
}

// InventoryAlert is one row of a warning scan, joined with the goods
// name for whatever notifier polls it.
type InventoryAlert struct {
	GoodsID   string          `json:"goods_id"`
	GoodsName string          `json:"goods_name"`
	Barcode   string          `json:"barcode"`
	Quantity  decimal.Decimal `json:"quantity"`
	Threshold decimal.Decimal `json:"threshold"`
	Status    string          `json:"status"`
}

type MoveToShelfRequest struct {
	GoodsID  string          `json:"goods_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type ThresholdUpdateRequest struct {
	GoodsID      string          `json:"goods_id"`
	StockWarning decimal.Decimal `json:"stock_warning"`
	ShelfWarning decimal.Decimal `json:"shelf_warning"`
}

type Member struct {
	ID           string          `json:"id"`
	CardNo       string          `json:"card_no"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone,omitempty"`
	TierCode     string          `json:"tier_code"`
	TotalConsume decimal.Decimal `json:"total_consume"`
	TotalPoints  int64           `json:"total_points"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

type TierRule struct {
	TierCode     string          `json:"tier_code"`
	TierName     string          `json:"tier_name"`
	MinConsume   decimal.Decimal `json:"min_consume"`
	MinPoints    int64           `json:"min_points"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	PointsRate   decimal.Decimal `json:"points_rate"`
}

type TierRuleUpdateRequest struct {
	TierCode     string          `json:"tier_code"`
	MinConsume   decimal.Decimal `json:"min_consume"`
	MinPoints    int64           `json:"min_points"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	PointsRate   decimal.Decimal `json:"points_rate"`
}

// TierRank orders tiers for promotion and demotion checks:
// normal < silver < gold. Unknown codes rank lowest.
func TierRank(code string) int {
	switch code {
	case TierSilver:
		return 1
	case TierGold:
		return 2
	default:
		return 0
	}
}

// MemberDiscount is the resolved rate bundle the register applies.
type MemberDiscount struct {
	MemberID     string          `json:"member_id"`
	TierCode     string          `json:"tier_code"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	PointsRate   decimal.Decimal `json:"points_rate"`
}

type TierChange struct {
	Changed bool   `json:"changed"`
	OldTier string `json:"old_tier,omitempty"`
	NewTier string `json:"new_tier,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
