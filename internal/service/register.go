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

func (s *Service) OpenRegister(ctx context.Context, actor domain.ActorContext, req domain.OpenRegisterRequest) (domain.RegisterSession, error) {
	if err := s.checkRequest(actor, req); err != nil {
		return domain.RegisterSession{}, err
	}
	if err := checkMoney("opening_float", req.OpeningFloat); err != nil {
		return domain.RegisterSession{}, err
	}

	var opened domain.RegisterSession
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		session, err := tx.InsertRegisterSession(ctx, domain.RegisterSession{
			TenantID:       actor.TenantID,
			StoreID:        req.StoreID,
			OpenedByUserID: actor.UserID,
			OpeningFloat:   req.OpeningFloat,
			OpenedAt:       s.now(),
		})
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: register already open for store %d", store.ErrConflict, req.StoreID)
		}
		if err != nil {
			return err
		}
		opened = *session
		return nil
	})
	if err != nil {
		return domain.RegisterSession{}, err
	}

	s.logAudit(actor, "register_open", "register_session", opened.ID,
		zap.Int64("store_id", opened.StoreID),
		zap.String("opening_float", opened.OpeningFloat.StringFixed(2)),
	)
	return opened, nil
}

// CloseRegister reconciles counted cash against the opening float plus
// cash taken by the session's sales.
func (s *Service) CloseRegister(ctx context.Context, actor domain.ActorContext, req domain.CloseRegisterRequest) (domain.RegisterSession, error) {
	if err := s.checkRequest(actor, req); err != nil {
		return domain.RegisterSession{}, err
	}
	if err := checkMoney("actual_cash", req.ActualCash); err != nil {
		return domain.RegisterSession{}, err
	}

	var closed domain.RegisterSession
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		session, err := tx.LockRegisterSession(ctx, actor.TenantID, req.SessionID)
		if err != nil {
			return err
		}
		if !session.IsOpen() {
			return fmt.Errorf("%w: register session %d is already closed", store.ErrConflict, session.ID)
		}

		cashSales, err := tx.SumSessionPayments(ctx, actor.TenantID, session.ID, domain.PaymentCash)
		if err != nil {
			return err
		}
		expected := session.OpeningFloat.Add(cashSales)
		closedAt := s.now()
		closedBy := actor.UserID

		session.ClosedAt = &closedAt
		session.ClosedByUserID = &closedBy
		session.ExpectedCash = decimal.NewNullDecimal(expected)
		session.ActualCash = decimal.NewNullDecimal(req.ActualCash)
		session.Discrepancy = decimal.NewNullDecimal(req.ActualCash.Sub(expected))
		session.Notes = req.Notes
		if err := tx.CloseRegisterSession(ctx, *session); err != nil {
			return err
		}
		closed = *session
		return nil
	})
	if err != nil {
		return domain.RegisterSession{}, err
	}

	s.logAudit(actor, "register_close", "register_session", closed.ID,
		zap.String("expected_cash", closed.ExpectedCash.Decimal.StringFixed(2)),
		zap.String("actual_cash", closed.ActualCash.Decimal.StringFixed(2)),
		zap.String("discrepancy", closed.Discrepancy.Decimal.StringFixed(2)),
	)
	return closed, nil
}

func (s *Service) GetCurrentSession(ctx context.Context, actor domain.ActorContext, storeID int64) (domain.RegisterSession, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return domain.RegisterSession{}, err
	}
	if storeID < 1 {
		return domain.RegisterSession{}, fmt.Errorf("%w: store_id is required", store.ErrValidation)
	}
	session, err := s.repo.GetOpenRegisterSession(ctx, actor.TenantID, storeID)
	if err != nil {
		return domain.RegisterSession{}, err
	}
	return *session, nil
}
