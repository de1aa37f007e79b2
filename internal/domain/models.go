package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type MoveReason string

const (
	MoveReasonAdjustment MoveReason = "ADJUSTMENT"
	MoveReasonTransfer   MoveReason = "TRANSFER"
	MoveReasonSale       MoveReason = "SALE"
	MoveReasonPurchase   MoveReason = "PURCHASE"
	MoveReasonReturn     MoveReason = "RETURN"
)

func (r MoveReason) Valid() bool {
	switch r {
	case MoveReasonAdjustment, MoveReasonTransfer, MoveReasonSale, MoveReasonPurchase, MoveReasonReturn:
		return true
	default:
		return false
	}
}

type SaleStatus string

const (
	SaleStatusPaid          SaleStatus = "PAID"
	SaleStatusRefunded      SaleStatus = "REFUNDED"
	SaleStatusPartialRefund SaleStatus = "PARTIAL_REFUND"
)

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentCard         PaymentMethod = "CARD"
	PaymentQR           PaymentMethod = "QR"
	PaymentVoucher      PaymentMethod = "VOUCHER"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentQR, PaymentVoucher, PaymentBankTransfer:
		return true
	default:
		return false
	}
}

type PurchaseOrderStatus string

const (
	POStatusDraft     PurchaseOrderStatus = "DRAFT"
	POStatusSent      PurchaseOrderStatus = "SENT"
	POStatusReceived  PurchaseOrderStatus = "RECEIVED"
	POStatusCancelled PurchaseOrderStatus = "CANCELLED"
)

func (s PurchaseOrderStatus) Valid() bool {
	switch s {
	case POStatusDraft, POStatusSent, POStatusReceived, POStatusCancelled:
		return true
	default:
		return false
	}
}

// StockKey identifies one stock item row within a tenant.
type StockKey struct {
	VariantID int64 `json:"variant_id"`
	StoreID   int64 `json:"store_id"`
}

type StockItem struct {
	ID           int64     `json:"id" db:"id"`
	TenantID     int64     `json:"tenant_id" db:"tenant_id"`
	VariantID    int64     `json:"variant_id" db:"variant_id"`
	StoreID      int64     `json:"store_id" db:"store_id"`
	QtyOnHand    int       `json:"qty_on_hand" db:"qty_on_hand"`
	QtyReserved  int       `json:"qty_reserved" db:"qty_reserved"`
	QtyAvailable int       `json:"qty_available" db:"qty_available"`
	ReorderPoint int       `json:"reorder_point" db:"reorder_point"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

func (s StockItem) Key() StockKey {
	return StockKey{VariantID: s.VariantID, StoreID: s.StoreID}
}

// ApplyOnHandDelta shifts on-hand and keeps available consistent with reserved.
func (s *StockItem) ApplyOnHandDelta(delta int, at time.Time) {
	s.QtyOnHand += delta
	s.QtyAvailable = s.QtyOnHand - s.QtyReserved
	s.UpdatedAt = at
}

type StockMove struct {
	ID                int64      `json:"id" db:"id"`
	TenantID          int64      `json:"tenant_id" db:"tenant_id"`
	VariantID         int64      `json:"variant_id" db:"variant_id"`
	FromStoreID       *int64     `json:"from_store_id,omitempty" db:"from_store_id"`
	ToStoreID         *int64     `json:"to_store_id,omitempty" db:"to_store_id"`
	Qty               int        `json:"qty" db:"qty"`
	Reason            MoveReason `json:"reason" db:"reason"`
	Reference         string     `json:"reference,omitempty" db:"reference"`
	PerformedByUserID int64      `json:"performed_by_user_id" db:"performed_by_user_id"`
	Notes             string     `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

type StockMoveFilter struct {
	VariantID int64
	StoreID   int64
	Reason    MoveReason
	Limit     int
}

type Sale struct {
	ID                int64           `json:"id" db:"id"`
	TenantID          int64           `json:"tenant_id" db:"tenant_id"`
	StoreID           int64           `json:"store_id" db:"store_id"`
	RegisterSessionID int64           `json:"register_session_id" db:"register_session_id"`
	CashierID         int64           `json:"cashier_id" db:"cashier_id"`
	CustomerID        *int64          `json:"customer_id,omitempty" db:"customer_id"`
	Status            SaleStatus      `json:"status" db:"status"`
	Subtotal          decimal.Decimal `json:"subtotal" db:"subtotal"`
	TaxTotal          decimal.Decimal `json:"tax_total" db:"tax_total"`
	DiscountTotal     decimal.Decimal `json:"discount_total" db:"discount_total"`
	GrandTotal        decimal.Decimal `json:"grand_total" db:"grand_total"`
	Notes             string          `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	Items             []SaleItem      `json:"items" db:"-"`
	Payments          []Payment       `json:"payments" db:"-"`
	Returns           []Return        `json:"returns,omitempty" db:"-"`
}

type SaleItem struct {
	ID        int64           `json:"id" db:"id"`
	SaleID    int64           `json:"sale_id" db:"sale_id"`
	VariantID int64           `json:"variant_id" db:"variant_id"`
	Qty       int             `json:"qty" db:"qty"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Discount  decimal.Decimal `json:"discount" db:"discount"`
	Tax       decimal.Decimal `json:"tax" db:"tax"`
	LineTotal decimal.Decimal `json:"line_total" db:"line_total"`
}

type Payment struct {
	ID          int64           `json:"id" db:"id"`
	SaleID      int64           `json:"sale_id" db:"sale_id"`
	Method      PaymentMethod   `json:"method" db:"method"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	ExternalRef string          `json:"external_ref,omitempty" db:"external_ref"`
	Notes       string          `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

type SaleFilter struct {
	StoreID    int64
	CustomerID int64
	From       *time.Time
	To         *time.Time
	Limit      int
}

type Return struct {
	ID                int64           `json:"id" db:"id"`
	TenantID          int64           `json:"tenant_id" db:"tenant_id"`
	SaleID            int64           `json:"sale_id" db:"sale_id"`
	ProcessedByUserID int64           `json:"processed_by_user_id" db:"processed_by_user_id"`
	Reason            string          `json:"reason" db:"reason"`
	RefundMethod      PaymentMethod   `json:"refund_method" db:"refund_method"`
	RefundAmount      decimal.Decimal `json:"refund_amount" db:"refund_amount"`
	Notes             string          `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

type RegisterSession struct {
	ID             int64               `json:"id" db:"id"`
	TenantID       int64               `json:"tenant_id" db:"tenant_id"`
	StoreID        int64               `json:"store_id" db:"store_id"`
	OpenedByUserID int64               `json:"opened_by_user_id" db:"opened_by_user_id"`
	ClosedByUserID *int64              `json:"closed_by_user_id,omitempty" db:"closed_by_user_id"`
	OpeningFloat   decimal.Decimal     `json:"opening_float" db:"opening_float"`
	ExpectedCash   decimal.NullDecimal `json:"expected_cash" db:"expected_cash"`
	ActualCash     decimal.NullDecimal `json:"actual_cash" db:"actual_cash"`
	Discrepancy    decimal.NullDecimal `json:"discrepancy" db:"discrepancy"`
	Notes          string              `json:"notes,omitempty" db:"notes"`
	OpenedAt       time.Time           `json:"opened_at" db:"opened_at"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty" db:"closed_at"`
}

func (r RegisterSession) IsOpen() bool {
	return r.ClosedAt == nil
}

type Supplier struct {
	ID        int64     `json:"id" db:"id"`
	TenantID  int64     `json:"tenant_id" db:"tenant_id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email,omitempty" db:"email"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type PurchaseOrder struct {
	ID           int64               `json:"id" db:"id"`
	TenantID     int64               `json:"tenant_id" db:"tenant_id"`
	SupplierID   int64               `json:"supplier_id" db:"supplier_id"`
	StoreID      int64               `json:"store_id" db:"store_id"`
	PONumber     string              `json:"po_number" db:"po_number"`
	Status       PurchaseOrderStatus `json:"status" db:"status"`
	Subtotal     decimal.Decimal     `json:"subtotal" db:"subtotal"`
	TaxTotal     decimal.Decimal     `json:"tax_total" db:"tax_total"`
	ShippingCost decimal.Decimal     `json:"shipping_cost" db:"shipping_cost"`
	GrandTotal   decimal.Decimal     `json:"grand_total" db:"grand_total"`
	ExpectedDate *time.Time          `json:"expected_date,omitempty" db:"expected_date"`
	ReceivedDate *time.Time          `json:"received_date,omitempty" db:"received_date"`
	Notes        string              `json:"notes,omitempty" db:"notes"`
	CreatedByID  int64               `json:"created_by_user_id" db:"created_by_user_id"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at" db:"updated_at"`
	Items        []PurchaseOrderItem `json:"items" db:"-"`
}

// FullyReceived reports whether every line has received at least its ordered qty.
func (p PurchaseOrder) FullyReceived() bool {
	for _, item := range p.Items {
		if item.ReceivedQty < item.Qty {
			return false
		}
	}
	return len(p.Items) > 0
}

type PurchaseOrderItem struct {
	ID              int64           `json:"id" db:"id"`
	PurchaseOrderID int64           `json:"purchase_order_id" db:"purchase_order_id"`
	VariantID       int64           `json:"variant_id" db:"variant_id"`
	Qty             int             `json:"qty" db:"qty"`
	Cost            decimal.Decimal `json:"cost" db:"cost"`
	Discount        decimal.Decimal `json:"discount" db:"discount"`
	LineTotal       decimal.Decimal `json:"line_total" db:"line_total"`
	ReceivedQty     int             `json:"received_qty" db:"received_qty"`
}

type PurchaseOrderFilter struct {
	StoreID int64
	Status  PurchaseOrderStatus
	Limit   int
}
