package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockStockItem(ctx context.Context, tenantID int64, key domain.StockKey) (*domain.StockItem, error) {
	var item domain.StockItem
	err := t.tx.GetContext(ctx, &item, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE tenant_id = $1 AND variant_id = $2 AND store_id = $3
		FOR UPDATE
	`, tenantID, key.VariantID, key.StoreID)
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// CreateStockItem inserts a zero row unless a concurrent unit already did,
// then locks whichever row won.
func (t *pgTx) CreateStockItem(ctx context.Context, tenantID int64, key domain.StockKey, at time.Time) (*domain.StockItem, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_items (tenant_id, variant_id, store_id, qty_on_hand, qty_reserved, qty_available, reorder_point, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, 0, $4)
		ON CONFLICT (tenant_id, variant_id, store_id) DO NOTHING
	`, tenantID, key.VariantID, key.StoreID, at); err != nil {
		return nil, err
	}
	return t.LockStockItem(ctx, tenantID, key)
}

func (t *pgTx) UpdateStockItem(ctx context.Context, item domain.StockItem) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE stock_items
		SET qty_on_hand = $3, qty_reserved = $4, qty_available = $5, reorder_point = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2
	`, item.TenantID, item.ID, item.QtyOnHand, item.QtyReserved, item.QtyAvailable, item.ReorderPoint, item.UpdatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: stock item %d violates quantity constraints", store.ErrValidation, item.ID)
		}
		return err
	}
	return expectOneRow(result, store.ErrNotFound)
}

func (t *pgTx) AppendStockMove(ctx context.Context, move domain.StockMove) (*domain.StockMove, error) {
	err := t.tx.GetContext(ctx, &move.ID, `
		INSERT INTO stock_moves (tenant_id, variant_id, from_store_id, to_store_id, qty, reason, reference, performed_by_user_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, move.TenantID, move.VariantID, nullID(move.FromStoreID), nullID(move.ToStoreID), move.Qty,
		string(move.Reason), move.Reference, move.PerformedByUserID, move.Notes, move.CreatedAt)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: invalid stock move", store.ErrValidation)
		}
		return nil, err
	}
	return &move, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	err := t.tx.GetContext(ctx, &sale.ID, `
		INSERT INTO sales (
			tenant_id, store_id, register_session_id, cashier_id, customer_id, status,
			subtotal, tax_total, discount_total, grand_total, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, sale.TenantID, sale.StoreID, sale.RegisterSessionID, sale.CashierID, nullID(sale.CustomerID), string(sale.Status),
		sale.Subtotal, sale.TaxTotal, sale.DiscountTotal, sale.GrandTotal, sale.Notes, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sale.Items = nil
	sale.Payments = nil
	sale.Returns = nil
	return &sale, nil
}

func (t *pgTx) InsertSaleItem(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	err := t.tx.GetContext(ctx, &item.ID, `
		INSERT INTO sale_items (sale_id, variant_id, qty, price, discount, tax, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, item.SaleID, item.VariantID, item.Qty, item.Price, item.Discount, item.Tax, item.LineTotal)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	err := t.tx.GetContext(ctx, &payment.ID, `
		INSERT INTO payments (sale_id, method, amount, external_ref, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, payment.SaleID, string(payment.Method), payment.Amount, payment.ExternalRef, payment.Notes, payment.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (t *pgTx) LockSale(ctx context.Context, tenantID int64, saleID int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := t.tx.GetContext(ctx, &sale, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, saleID)
	if err != nil {
		return nil, notFound(err)
	}
	sales := []domain.Sale{sale}
	if err := hydrateSales(ctx, t.tx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (t *pgTx) UpdateSaleStatus(ctx context.Context, tenantID int64, saleID int64, status domain.SaleStatus, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE sales SET status = $3, updated_at = $4
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID, string(status), at)
	if err != nil {
		return err
	}
	return expectOneRow(result, store.ErrNotFound)
}

func (t *pgTx) InsertReturn(ctx context.Context, ret domain.Return) (*domain.Return, error) {
	err := t.tx.GetContext(ctx, &ret.ID, `
		INSERT INTO returns (tenant_id, sale_id, processed_by_user_id, reason, refund_method, refund_amount, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, ret.TenantID, ret.SaleID, ret.ProcessedByUserID, ret.Reason, string(ret.RefundMethod), ret.RefundAmount, ret.Notes, ret.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ret, nil
}

// InsertRegisterSession relies on the partial unique index over open
// sessions; a second open session for the store is a conflict.
func (t *pgTx) InsertRegisterSession(ctx context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
	err := t.tx.GetContext(ctx, &session.ID, `
		INSERT INTO register_sessions (tenant_id, store_id, opened_by_user_id, opening_float, notes, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, session.TenantID, session.StoreID, session.OpenedByUserID, session.OpeningFloat, session.Notes, session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	session.ClosedAt = nil
	return &session, nil
}

func (t *pgTx) LockRegisterSession(ctx context.Context, tenantID int64, sessionID int64) (*domain.RegisterSession, error) {
	var session domain.RegisterSession
	err := t.tx.GetContext(ctx, &session, `
		SELECT `+sessionColumns+`
		FROM register_sessions
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, sessionID)
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (t *pgTx) SumSessionPayments(ctx context.Context, tenantID int64, sessionID int64, method domain.PaymentMethod) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(p.amount), 0)
		FROM payments p
		JOIN sales s ON s.id = p.sale_id
		WHERE s.tenant_id = $1 AND s.register_session_id = $2 AND p.method = $3
	`, tenantID, sessionID, string(method))
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (t *pgTx) CloseRegisterSession(ctx context.Context, session domain.RegisterSession) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE register_sessions
		SET closed_at = $3, closed_by_user_id = $4, expected_cash = $5, actual_cash = $6, discrepancy = $7, notes = $8
		WHERE tenant_id = $1 AND id = $2 AND closed_at IS NULL
	`, session.TenantID, session.ID, nullTime(session.ClosedAt), nullID(session.ClosedByUserID),
		session.ExpectedCash, session.ActualCash, session.Discrepancy, session.Notes)
	if err != nil {
		return err
	}
	return expectOneRow(result, store.ErrConflict)
}

func (t *pgTx) GetSupplier(ctx context.Context, tenantID int64, supplierID int64) (*domain.Supplier, error) {
	var supplier domain.Supplier
	err := t.tx.GetContext(ctx, &supplier, `
		SELECT `+supplierColumns+`
		FROM suppliers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, supplierID)
	if err != nil {
		return nil, notFound(err)
	}
	return &supplier, nil
}

func (t *pgTx) InsertSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	err := t.tx.GetContext(ctx, &supplier.ID, `
		INSERT INTO suppliers (tenant_id, name, email, phone, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, supplier.TenantID, supplier.Name, supplier.Email, supplier.Phone, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &supplier, nil
}

func (t *pgTx) InsertPurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	err := t.tx.GetContext(ctx, &po.ID, `
		INSERT INTO purchase_orders (
			tenant_id, supplier_id, store_id, po_number, status, subtotal, tax_total, shipping_cost, grand_total,
			expected_date, notes, created_by_user_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, po.TenantID, po.SupplierID, po.StoreID, po.PONumber, string(po.Status), po.Subtotal, po.TaxTotal, po.ShippingCost,
		po.GrandTotal, nullTime(po.ExpectedDate), po.Notes, po.CreatedByID, po.CreatedAt, po.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
	for _, item := range po.Items {
		item.PurchaseOrderID = po.ID
		err := t.tx.GetContext(ctx, &item.ID, `
			INSERT INTO purchase_order_items (purchase_order_id, variant_id, qty, cost, discount, line_total, received_qty)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, item.PurchaseOrderID, item.VariantID, item.Qty, item.Cost, item.Discount, item.LineTotal, item.ReceivedQty)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	po.Items = items
	return &po, nil
}

func (t *pgTx) LockPurchaseOrder(ctx context.Context, tenantID int64, purchaseOrderID int64) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	err := t.tx.GetContext(ctx, &po, `
		SELECT `+poColumns+`
		FROM purchase_orders
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, purchaseOrderID)
	if err != nil {
		return nil, notFound(err)
	}
	pos := []domain.PurchaseOrder{po}
	if err := hydratePurchaseOrders(ctx, t.tx, pos); err != nil {
		return nil, err
	}
	return &pos[0], nil
}

func (t *pgTx) UpdatePurchaseOrderItemReceived(ctx context.Context, itemID int64, receivedQty int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE purchase_order_items SET received_qty = $2
		WHERE id = $1
	`, itemID, receivedQty)
	if err != nil {
		return err
	}
	return expectOneRow(result, store.ErrNotFound)
}

func (t *pgTx) UpdatePurchaseOrderStatus(ctx context.Context, tenantID int64, purchaseOrderID int64, status domain.PurchaseOrderStatus, receivedDate *time.Time, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $3, received_date = COALESCE($4::timestamptz, received_date), updated_at = $5
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, purchaseOrderID, string(status), nullTime(receivedDate), at)
	if err != nil {
		return err
	}
	return expectOneRow(result, store.ErrNotFound)
}

func expectOneRow(result interface{ RowsAffected() (int64, error) }, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missing
	}
	return nil
}
