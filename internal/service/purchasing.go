package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/xid"
)

func (s *Service) CreateSupplier(ctx context.Context, actor domain.ActorContext, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := s.checkRequest(actor, req); err != nil {
		return domain.Supplier{}, err
	}

	var created domain.Supplier
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		supplier, err := tx.InsertSupplier(ctx, domain.Supplier{
			TenantID:  actor.TenantID,
			Name:      req.Name,
			Email:     req.Email,
			Phone:     req.Phone,
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		created = *supplier
		return nil
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(actor, "supplier_create", "supplier", created.ID, zap.String("name", created.Name))
	return created, nil
}

func (s *Service) ListSuppliers(ctx context.Context, actor domain.ActorContext) ([]domain.Supplier, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return nil, err
	}
	return s.repo.ListSuppliers(ctx, actor.TenantID)
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, actor domain.ActorContext, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	req.PONumber = strings.TrimSpace(req.PONumber)
	if err := s.checkRequest(actor, req); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if err := checkMoney("tax_total", req.TaxTotal); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if err := checkMoney("shipping_cost", req.ShippingCost); err != nil {
		return domain.PurchaseOrder{}, err
	}

	subtotal := decimal.Zero
	items := make([]domain.PurchaseOrderItem, 0, len(req.Items))
	for i, input := range req.Items {
		if err := checkMoney(fmt.Sprintf("items[%d].cost", i), input.Cost); err != nil {
			return domain.PurchaseOrder{}, err
		}
		if err := checkMoney(fmt.Sprintf("items[%d].discount", i), input.Discount); err != nil {
			return domain.PurchaseOrder{}, err
		}
		lineTotal := input.Cost.Mul(decimal.NewFromInt(int64(input.Qty))).Sub(input.Discount)
		if lineTotal.IsNegative() {
			return domain.PurchaseOrder{}, fmt.Errorf("%w: items[%d].discount exceeds line cost", store.ErrValidation, i)
		}
		subtotal = subtotal.Add(lineTotal)
		items = append(items, domain.PurchaseOrderItem{
			VariantID: input.VariantID,
			Qty:       input.Qty,
			Cost:      input.Cost,
			Discount:  input.Discount,
			LineTotal: lineTotal,
		})
	}

	now := s.now()
	number := req.PONumber
	if number == "" {
		number = xid.PONumber(now)
	}

	var created domain.PurchaseOrder
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetSupplier(ctx, actor.TenantID, req.SupplierID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: supplier %d", store.ErrNotFound, req.SupplierID)
			}
			return err
		}

		po, err := tx.InsertPurchaseOrder(ctx, domain.PurchaseOrder{
			TenantID:     actor.TenantID,
			SupplierID:   req.SupplierID,
			StoreID:      req.StoreID,
			PONumber:     number,
			Status:       domain.POStatusDraft,
			Subtotal:     subtotal,
			TaxTotal:     req.TaxTotal,
			ShippingCost: req.ShippingCost,
			GrandTotal:   subtotal.Add(req.ShippingCost).Add(req.TaxTotal),
			ExpectedDate: req.ExpectedDate,
			Notes:        req.Notes,
			CreatedByID:  actor.UserID,
			CreatedAt:    now,
			UpdatedAt:    now,
			Items:        items,
		})
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: po number %s already exists", store.ErrConflict, number)
		}
		if err != nil {
			return err
		}
		created = *po
		return nil
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(actor, "purchase_order_create", "purchase_order", created.ID,
		zap.String("po_number", created.PONumber),
		zap.Int64("supplier_id", created.SupplierID),
		zap.String("grand_total", created.GrandTotal.StringFixed(2)),
	)
	return created, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, actor domain.ActorContext, purchaseOrderID int64) (domain.PurchaseOrder, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return domain.PurchaseOrder{}, err
	}
	po, err := s.repo.GetPurchaseOrder(ctx, actor.TenantID, purchaseOrderID)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, actor domain.ActorContext, filter domain.PurchaseOrderFilter) (domain.PurchaseOrderListResponse, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.PurchaseOrderListResponse{}, fmt.Errorf("%w: unknown status %q", store.ErrValidation, filter.Status)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	pos, err := s.repo.ListPurchaseOrders(ctx, actor.TenantID, filter)
	if err != nil {
		return domain.PurchaseOrderListResponse{}, err
	}
	return domain.PurchaseOrderListResponse{PurchaseOrders: pos}, nil
}

var purchaseOrderTransitions = map[domain.PurchaseOrderStatus][]domain.PurchaseOrderStatus{
	domain.POStatusDraft: {domain.POStatusSent, domain.POStatusCancelled},
	domain.POStatusSent:  {domain.POStatusCancelled},
}

func canTransition(from domain.PurchaseOrderStatus, to domain.PurchaseOrderStatus) bool {
	for _, allowed := range purchaseOrderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UpdatePurchaseOrderStatus moves an order along DRAFT -> SENT and into
// CANCELLED. RECEIVED is only reached through ReceivePurchaseOrder.
func (s *Service) UpdatePurchaseOrderStatus(ctx context.Context, actor domain.ActorContext, purchaseOrderID int64, req domain.PurchaseOrderStatusRequest) (domain.PurchaseOrder, error) {
	if err := s.checkRequest(actor, req); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if !req.Status.Valid() {
		return domain.PurchaseOrder{}, fmt.Errorf("%w: unknown status %q", store.ErrValidation, req.Status)
	}
	if req.Status == domain.POStatusReceived {
		return domain.PurchaseOrder{}, fmt.Errorf("%w: orders are marked received by receiving items", store.ErrValidation)
	}

	var updated domain.PurchaseOrder
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		po, err := tx.LockPurchaseOrder(ctx, actor.TenantID, purchaseOrderID)
		if err != nil {
			return err
		}
		if !canTransition(po.Status, req.Status) {
			return fmt.Errorf("%w: cannot move purchase order from %s to %s", store.ErrConflict, po.Status, req.Status)
		}
		now := s.now()
		if err := tx.UpdatePurchaseOrderStatus(ctx, actor.TenantID, po.ID, req.Status, nil, now); err != nil {
			return err
		}
		po.Status = req.Status
		po.UpdatedAt = now
		updated = *po
		return nil
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.logAudit(actor, "purchase_order_status", "purchase_order", updated.ID, zap.String("status", string(updated.Status)))
	return updated, nil
}

// ReceivePurchaseOrder books received quantities into the order's store.
// Lines are applied in request order and a line may not exceed its ordered qty.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, actor domain.ActorContext, purchaseOrderID int64, req domain.PurchaseOrderReceiveRequest) (domain.PurchaseOrder, error) {
	if err := s.checkRequest(actor, req); err != nil {
		return domain.PurchaseOrder{}, err
	}

	var (
		received domain.PurchaseOrder
		touched  []domain.StockKey
	)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		po, err := tx.LockPurchaseOrder(ctx, actor.TenantID, purchaseOrderID)
		if err != nil {
			return err
		}
		switch po.Status {
		case domain.POStatusCancelled:
			return fmt.Errorf("%w: purchase order %s is cancelled", store.ErrConflict, po.PONumber)
		case domain.POStatusReceived:
			return fmt.Errorf("%w: purchase order %s is already received", store.ErrConflict, po.PONumber)
		}

		lines := make(map[int64]*domain.PurchaseOrderItem, len(po.Items))
		for i := range po.Items {
			lines[po.Items[i].ID] = &po.Items[i]
		}

		m := s.newMutation(tx, actor)
		reference := "PO-" + po.PONumber
		for _, input := range req.Items {
			line, ok := lines[input.ItemID]
			if !ok {
				return fmt.Errorf("%w: Item %d not found in PO", store.ErrNotFound, input.ItemID)
			}
			total := line.ReceivedQty + input.ReceivedQty
			if total > line.Qty {
				return fmt.Errorf("%w: item %d would receive %d of %d ordered", store.ErrValidation, line.ID, total, line.Qty)
			}
			if err := tx.UpdatePurchaseOrderItemReceived(ctx, line.ID, total); err != nil {
				return err
			}
			line.ReceivedQty = total

			key := domain.StockKey{VariantID: line.VariantID, StoreID: po.StoreID}
			if _, err := m.receive(ctx, key, input.ReceivedQty, domain.MoveReasonPurchase, reference); err != nil {
				return err
			}
		}

		status := domain.POStatusSent
		var receivedDate *time.Time
		if po.FullyReceived() {
			status = domain.POStatusReceived
			at := m.at
			receivedDate = &at
		}
		if err := tx.UpdatePurchaseOrderStatus(ctx, actor.TenantID, po.ID, status, receivedDate, m.at); err != nil {
			return err
		}
		po.Status = status
		if receivedDate != nil {
			po.ReceivedDate = receivedDate
		}
		po.UpdatedAt = m.at

		received = *po
		touched = m.touched
		return nil
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	s.invalidateLevels(ctx, actor.TenantID, touched)
	s.logAudit(actor, "purchase_order_receive", "purchase_order", received.ID,
		zap.String("po_number", received.PONumber),
		zap.String("status", string(received.Status)),
		zap.Int("lines", len(req.Items)),
	)
	return received, nil
}
