package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

type saleTotals struct {
	subtotal      decimal.Decimal
	discountTotal decimal.Decimal
	taxTotal      decimal.Decimal
	grandTotal    decimal.Decimal
}

func computeSaleTotals(items []domain.SaleItemInput) saleTotals {
	totals := saleTotals{
		subtotal:      decimal.Zero,
		discountTotal: decimal.Zero,
		taxTotal:      decimal.Zero,
	}
	for _, item := range items {
		totals.subtotal = totals.subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Qty))))
		totals.discountTotal = totals.discountTotal.Add(item.Discount)
		totals.taxTotal = totals.taxTotal.Add(item.Tax)
	}
	totals.grandTotal = totals.subtotal.Sub(totals.discountTotal).Add(totals.taxTotal)
	return totals
}

func saleLineTotal(item domain.SaleItemInput) decimal.Decimal {
	return item.Price.Mul(decimal.NewFromInt(int64(item.Qty))).Sub(item.Discount).Add(item.Tax)
}

func validateSaleInput(req domain.CreateSaleRequest) error {
	for i, item := range req.Items {
		if err := checkMoney(fmt.Sprintf("items[%d].price", i), item.Price); err != nil {
			return err
		}
		if err := checkMoney(fmt.Sprintf("items[%d].discount", i), item.Discount); err != nil {
			return err
		}
		if err := checkMoney(fmt.Sprintf("items[%d].tax", i), item.Tax); err != nil {
			return err
		}
		if item.Discount.GreaterThan(item.Price.Mul(decimal.NewFromInt(int64(item.Qty)))) {
			return fmt.Errorf("%w: items[%d].discount exceeds line amount", store.ErrValidation, i)
		}
	}
	for i, payment := range req.Payments {
		if !payment.Method.Valid() {
			return fmt.Errorf("%w: payments[%d].method %q is not supported", store.ErrValidation, i, payment.Method)
		}
		if err := checkMoney(fmt.Sprintf("payments[%d].amount", i), payment.Amount); err != nil {
			return err
		}
	}
	return nil
}

// CreateSale records a sale against an open register session and consumes
// stock for every line. Any line short of stock fails the whole sale.
func (s *Service) CreateSale(ctx context.Context, actor domain.ActorContext, req domain.CreateSaleRequest) (domain.Sale, error) {
	if err := s.checkRequest(actor, req); err != nil {
		return domain.Sale{}, err
	}
	if err := validateSaleInput(req); err != nil {
		return domain.Sale{}, err
	}

	totals := computeSaleTotals(req.Items)
	paid := decimal.Zero
	for _, payment := range req.Payments {
		paid = paid.Add(payment.Amount)
	}
	if paid.Sub(totals.grandTotal).Abs().GreaterThan(moneyTolerance) {
		return domain.Sale{}, fmt.Errorf("%w: payment mismatch", store.ErrValidation)
	}

	var (
		created domain.Sale
		touched []domain.StockKey
	)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		session, err := tx.LockRegisterSession(ctx, actor.TenantID, req.RegisterSessionID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: register session %d", store.ErrNotFound, req.RegisterSessionID)
		}
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return fmt.Errorf("%w: register session %d is closed", store.ErrConflict, session.ID)
		}
		if session.StoreID != req.StoreID {
			return fmt.Errorf("%w: register session %d belongs to another store", store.ErrValidation, session.ID)
		}

		m := s.newMutation(tx, actor)
		sale, err := tx.InsertSale(ctx, domain.Sale{
			TenantID:          actor.TenantID,
			StoreID:           req.StoreID,
			RegisterSessionID: session.ID,
			CashierID:         actor.UserID,
			CustomerID:        req.CustomerID,
			Status:            domain.SaleStatusPaid,
			Subtotal:          totals.subtotal,
			TaxTotal:          totals.taxTotal,
			DiscountTotal:     totals.discountTotal,
			GrandTotal:        totals.grandTotal,
			Notes:             req.Notes,
			CreatedAt:         m.at,
			UpdatedAt:         m.at,
		})
		if err != nil {
			return err
		}

		reference := fmt.Sprintf("SALE-%d", sale.ID)
		sale.Items = make([]domain.SaleItem, 0, len(req.Items))
		for _, input := range req.Items {
			item, err := tx.InsertSaleItem(ctx, domain.SaleItem{
				SaleID:    sale.ID,
				VariantID: input.VariantID,
				Qty:       input.Qty,
				Price:     input.Price,
				Discount:  input.Discount,
				Tax:       input.Tax,
				LineTotal: saleLineTotal(input),
			})
			if err != nil {
				return err
			}
			key := domain.StockKey{VariantID: input.VariantID, StoreID: req.StoreID}
			if _, err := m.consume(ctx, key, input.Qty, reference); err != nil {
				return err
			}
			sale.Items = append(sale.Items, *item)
		}

		sale.Payments = make([]domain.Payment, 0, len(req.Payments))
		for _, input := range req.Payments {
			payment, err := tx.InsertPayment(ctx, domain.Payment{
				SaleID:      sale.ID,
				Method:      input.Method,
				Amount:      input.Amount,
				ExternalRef: input.ExternalRef,
				Notes:       input.Notes,
				CreatedAt:   m.at,
			})
			if err != nil {
				return err
			}
			sale.Payments = append(sale.Payments, *payment)
		}

		created = *sale
		touched = m.touched
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateLevels(ctx, actor.TenantID, touched)
	s.logAudit(actor, "sale_create", "sale", created.ID,
		zap.Int64("store_id", created.StoreID),
		zap.Int64("register_session_id", created.RegisterSessionID),
		zap.String("grand_total", created.GrandTotal.StringFixed(2)),
		zap.Int("lines", len(created.Items)),
	)
	return created, nil
}

func (s *Service) GetSale(ctx context.Context, actor domain.ActorContext, saleID int64) (domain.Sale, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, actor.TenantID, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, actor domain.ActorContext, filter domain.SaleFilter) (domain.SaleListResponse, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return domain.SaleListResponse{}, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.SaleListResponse{}, fmt.Errorf("%w: to must not be before from", store.ErrValidation)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	sales, err := s.repo.ListSales(ctx, actor.TenantID, filter)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}
