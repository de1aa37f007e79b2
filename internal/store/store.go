package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/backend/internal/domain"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
)

// InsufficientStockError names the variant whose stock could not cover a mutation.
type InsufficientStockError struct {
	VariantID int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for variant %d", e.VariantID)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the storage surface of the ledger. Every mutation goes
// through WithinTx; fn's writes are committed together or not at all.
type Repository interface {
	Reader
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

type Reader interface {
	GetStockItem(ctx context.Context, tenantID int64, key domain.StockKey) (*domain.StockItem, error)
	ListStockItems(ctx context.Context, tenantID int64, storeID int64) ([]domain.StockItem, error)
	ListStockMoves(ctx context.Context, tenantID int64, filter domain.StockMoveFilter) ([]domain.StockMove, error)
	GetSale(ctx context.Context, tenantID int64, saleID int64) (*domain.Sale, error)
	ListSales(ctx context.Context, tenantID int64, filter domain.SaleFilter) ([]domain.Sale, error)
	GetRegisterSession(ctx context.Context, tenantID int64, sessionID int64) (*domain.RegisterSession, error)
	GetOpenRegisterSession(ctx context.Context, tenantID int64, storeID int64) (*domain.RegisterSession, error)
	ListSuppliers(ctx context.Context, tenantID int64) ([]domain.Supplier, error)
	GetPurchaseOrder(ctx context.Context, tenantID int64, purchaseOrderID int64) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, tenantID int64, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error)
}

// Tx is one open unit of work. Lock* methods take a write lock on the row
// for the rest of the unit and return ErrNotFound when it does not exist.
type Tx interface {
	LockStockItem(ctx context.Context, tenantID int64, key domain.StockKey) (*domain.StockItem, error)
	CreateStockItem(ctx context.Context, tenantID int64, key domain.StockKey, at time.Time) (*domain.StockItem, error)
	UpdateStockItem(ctx context.Context, item domain.StockItem) error
	AppendStockMove(ctx context.Context, move domain.StockMove) (*domain.StockMove, error)

	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	InsertSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error)
	InsertPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	LockSale(ctx context.Context, tenantID int64, saleID int64) (*domain.Sale, error)
	UpdateSaleStatus(ctx context.Context, tenantID int64, saleID int64, status domain.SaleStatus, at time.Time) error
	InsertReturn(ctx context.Context, ret domain.Return) (*domain.Return, error)

	InsertRegisterSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error)
	LockRegisterSession(ctx context.Context, tenantID int64, sessionID int64) (*domain.RegisterSession, error)
	SumSessionPayments(ctx context.Context, tenantID int64, sessionID int64, method domain.PaymentMethod) (decimal.Decimal, error)
	CloseRegisterSession(ctx context.Context, session domain.RegisterSession) error

	GetSupplier(ctx context.Context, tenantID int64, supplierID int64) (*domain.Supplier, error)
	InsertSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	InsertPurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	LockPurchaseOrder(ctx context.Context, tenantID int64, purchaseOrderID int64) (*domain.PurchaseOrder, error)
	UpdatePurchaseOrderItemReceived(ctx context.Context, itemID int64, receivedQty int) error
	UpdatePurchaseOrderStatus(ctx context.Context, tenantID int64, purchaseOrderID int64, status domain.PurchaseOrderStatus, receivedDate *time.Time, at time.Time) error
}
