package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// RefundSale settles a refund against a paid sale. Only a full refund puts
// the sold quantities back on hand.
func (s *Service) RefundSale(ctx context.Context, actor domain.ActorContext, req domain.RefundSaleRequest) (domain.RefundResponse, error) {
	if err := s.checkRequest(actor, req); err != nil {
		return domain.RefundResponse{}, err
	}
	if !req.RefundMethod.Valid() {
		return domain.RefundResponse{}, fmt.Errorf("%w: refund_method %q is not supported", store.ErrValidation, req.RefundMethod)
	}
	if !req.RefundAmount.IsPositive() {
		return domain.RefundResponse{}, fmt.Errorf("%w: refund_amount must be positive", store.ErrValidation)
	}
	if err := checkMoney("refund_amount", req.RefundAmount); err != nil {
		return domain.RefundResponse{}, err
	}

	var (
		resp    domain.RefundResponse
		touched []domain.StockKey
	)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, actor.TenantID, req.SaleID)
		if err != nil {
			return err
		}
		switch sale.Status {
		case domain.SaleStatusRefunded:
			return fmt.Errorf("%w: sale %d is already refunded", store.ErrConflict, sale.ID)
		case domain.SaleStatusPartialRefund:
			return fmt.Errorf("%w: sale %d is already partially refunded", store.ErrConflict, sale.ID)
		}
		if req.RefundAmount.GreaterThan(sale.GrandTotal.Add(moneyTolerance)) {
			return fmt.Errorf("%w: refund amount exceeds sale total", store.ErrValidation)
		}
		full := req.RefundAmount.GreaterThanOrEqual(sale.GrandTotal.Sub(moneyTolerance))

		m := s.newMutation(tx, actor)
		ret, err := tx.InsertReturn(ctx, domain.Return{
			TenantID:          actor.TenantID,
			SaleID:            sale.ID,
			ProcessedByUserID: actor.UserID,
			Reason:            req.Reason,
			RefundMethod:      req.RefundMethod,
			RefundAmount:      req.RefundAmount,
			Notes:             req.Notes,
			CreatedAt:         m.at,
		})
		if err != nil {
			return err
		}

		status := domain.SaleStatusPartialRefund
		if full {
			status = domain.SaleStatusRefunded
		}
		if err := tx.UpdateSaleStatus(ctx, actor.TenantID, sale.ID, status, m.at); err != nil {
			return err
		}

		if full {
			reference := fmt.Sprintf("SALE-%d", sale.ID)
			for _, item := range sale.Items {
				key := domain.StockKey{VariantID: item.VariantID, StoreID: sale.StoreID}
				if _, err := m.restore(ctx, key, item.Qty, reference); err != nil {
					return err
				}
			}
		}

		resp = domain.RefundResponse{Return: *ret, Status: status}
		touched = m.touched
		return nil
	})
	if err != nil {
		return domain.RefundResponse{}, err
	}

	s.invalidateLevels(ctx, actor.TenantID, touched)
	s.logAudit(actor, "sale_refund", "sale", req.SaleID,
		zap.Int64("return_id", resp.Return.ID),
		zap.String("status", string(resp.Status)),
		zap.String("refund_amount", req.RefundAmount.StringFixed(2)),
	)
	return resp, nil
}
