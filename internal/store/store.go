package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"minimart/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrMemberDisabled      = errors.New("member disabled")
	ErrReturnWindowExpired = errors.New("return window expired")
	ErrGoodsNotReturnable  = errors.New("goods not returnable")
	ErrNoValidReturnItems  = errors.New("no valid return items")
)

// Repository is the persistence boundary. Implementations must make each
// mutating method atomic: either the full write-set lands or none of it.
type Repository interface {
	CreateGoods(ctx context.Context, goods domain.Goods, inventory domain.InventoryRecord) (*domain.Goods, error)
	GetGoodsByID(ctx context.Context, id string) (*domain.Goods, error)
	GetGoodsByBarcode(ctx context.Context, barcode string) (*domain.Goods, error)
	GetGoodsByBarcodes(ctx context.Context, barcodes []string) (map[string]domain.Goods, error)
	ListGoods(ctx context.Context, category string, keyword string, limit int) ([]domain.Goods, error)

	GetInventory(ctx context.Context, goodsID string) (*domain.InventoryRecord, error)
	GetInventoryMap(ctx context.Context, goodsIDs []string) (map[string]domain.InventoryRecord, error)
	ReceiveStock(ctx context.Context, goodsID string, quantity decimal.Decimal) (*domain.InventoryRecord, error)
	MoveToShelf(ctx context.Context, goodsID string, quantity decimal.Decimal) (*domain.InventoryRecord, error)
	SetWarningThresholds(ctx context.Context, goodsID string, stockWarning, shelfWarning decimal.Decimal) (*domain.InventoryRecord, error)
	ListStockWarnings(ctx context.Context, limit int) ([]domain.InventoryAlert, error)
	ListShelfWarnings(ctx context.Context, limit int) ([]domain.InventoryAlert, error)
	ListShortages(ctx context.Context, limit int) ([]domain.InventoryAlert, error)

	// SettleOrder writes the order, its lines and the payment record,
	// deducts shelf stock, and applies the member accrual when the order
	// carries a member, all in one transaction.
	SettleOrder(ctx context.Context, order domain.Order, payment domain.PaymentRecord) (*domain.Order, error)
	HangOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	// ResumeOrder settles a previously hanged order: the caller passes the
	// recomputed order (same ID, fresh lines and totals) and the payment.
	ResumeOrder(ctx context.Context, order domain.Order, payment domain.PaymentRecord) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error)
	ListHeldOrders(ctx context.Context, cashierID string, limit int) ([]domain.Order, error)
	ListPayments(ctx context.Context, orderID string) ([]domain.PaymentRecord, error)

	// CreateReturn assigns the return number, writes the record and its
	// lines, advances order-line returned quantities and the order status,
	// restores warehouse stock for to_stock lines, deducts member points
	// (clamped at zero) and writes the refund payment record, all in one
	// transaction. The passed record carries an empty ReturnNo.
	CreateReturn(ctx context.Context, record domain.ReturnRecord, newOrderStatus string) (*domain.ReturnRecord, error)
	GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error)
	ListReturns(ctx context.Context, from, to time.Time, orderID string, limit int) ([]domain.ReturnRecord, error)

	GetMember(ctx context.Context, id string) (*domain.Member, error)
	GetMemberByCardNo(ctx context.Context, cardNo string) (*domain.Member, error)
	CreateMember(ctx context.Context, member domain.Member) (*domain.Member, error)
	ListTierRules(ctx context.Context) ([]domain.TierRule, error)
	UpdateTierRule(ctx context.Context, rule domain.TierRule) (*domain.TierRule, error)
	// EvaluateMemberTier re-reads the member's lifetime totals and moves
	// them to the highest tier whose thresholds are both met.
	EvaluateMemberTier(ctx context.Context, memberID string) (*domain.TierChange, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
