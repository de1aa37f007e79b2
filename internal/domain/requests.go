package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type StockAdjustRequest struct {
	VariantID int64  `json:"variant_id" validate:"gt=0"`
	StoreID   int64  `json:"store_id" validate:"gt=0"`
	Qty       int    `json:"qty" validate:"ne=0"`
	Reason    string `json:"reason" validate:"max=255"`
	Notes     string `json:"notes"`
}

type StockTransferRequest struct {
	VariantID   int64  `json:"variant_id" validate:"gt=0"`
	FromStoreID int64  `json:"from_store_id" validate:"gt=0"`
	ToStoreID   int64  `json:"to_store_id" validate:"gt=0,nefield=FromStoreID"`
	Qty         int    `json:"qty" validate:"gt=0"`
	Notes       string `json:"notes"`
}

type ReorderPointRequest struct {
	VariantID    int64 `json:"variant_id" validate:"gt=0"`
	StoreID      int64 `json:"store_id" validate:"gt=0"`
	ReorderPoint int   `json:"reorder_point" validate:"gte=0"`
}

type SaleItemInput struct {
	VariantID int64           `json:"variant_id" validate:"gt=0"`
	Qty       int             `json:"qty" validate:"gt=0"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
}

type PaymentInput struct {
	Method      PaymentMethod   `json:"method" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	ExternalRef string          `json:"external_ref"`
	Notes       string          `json:"notes"`
}

type CreateSaleRequest struct {
	StoreID           int64           `json:"store_id" validate:"gt=0"`
	RegisterSessionID int64           `json:"register_session_id" validate:"gt=0"`
	CustomerID        *int64          `json:"customer_id" validate:"omitempty,gt=0"`
	Items             []SaleItemInput `json:"items" validate:"min=1,dive"`
	Payments          []PaymentInput  `json:"payments" validate:"min=1,dive"`
	Notes             string          `json:"notes"`
}

type RefundSaleRequest struct {
	SaleID       int64           `json:"sale_id" validate:"gt=0"`
	Reason       string          `json:"reason" validate:"required"`
	RefundMethod PaymentMethod   `json:"refund_method" validate:"required"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Notes        string          `json:"notes"`
	ManagerPIN   string          `json:"manager_pin,omitempty"`
}

type OpenRegisterRequest struct {
	StoreID      int64           `json:"store_id" validate:"gt=0"`
	OpeningFloat decimal.Decimal `json:"opening_float"`
}

type CloseRegisterRequest struct {
	SessionID  int64           `json:"session_id" validate:"gt=0"`
	ActualCash decimal.Decimal `json:"actual_cash"`
	Notes      string          `json:"notes"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=64"`
}

type PurchaseOrderItemInput struct {
	VariantID int64           `json:"variant_id" validate:"gt=0"`
	Qty       int             `json:"qty" validate:"gt=0"`
	Cost      decimal.Decimal `json:"cost"`
	Discount  decimal.Decimal `json:"discount"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID   int64                    `json:"supplier_id" validate:"gt=0"`
	StoreID      int64                    `json:"store_id" validate:"gt=0"`
	PONumber     string                   `json:"po_number" validate:"max=64"`
	TaxTotal     decimal.Decimal          `json:"tax_total"`
	ShippingCost decimal.Decimal          `json:"shipping_cost"`
	ExpectedDate *time.Time               `json:"expected_date"`
	Notes        string                   `json:"notes"`
	Items        []PurchaseOrderItemInput `json:"items" validate:"min=1,dive"`
}

type PurchaseOrderStatusRequest struct {
	Status PurchaseOrderStatus `json:"status" validate:"required"`
}

type ReceivedItemInput struct {
	ItemID      int64 `json:"item_id" validate:"gt=0"`
	ReceivedQty int   `json:"received_qty" validate:"gt=0"`
}

type PurchaseOrderReceiveRequest struct {
	Items []ReceivedItemInput `json:"items" validate:"min=1,dive"`
}

type StockListResponse struct {
	Items []StockItem `json:"items"`
}

type StockMoveListResponse struct {
	Moves []StockMove `json:"moves"`
}

type TransferResponse struct {
	From StockItem `json:"from"`
	To   StockItem `json:"to"`
	Move StockMove `json:"move"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type RefundResponse struct {
	Return Return     `json:"return"`
	Status SaleStatus `json:"status"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}
