package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

var errBoom = errors.New("boom")

func TestWithinTxDiscardsWritesOnError(t *testing.T) {
	repo := New()
	ctx := context.Background()
	key := domain.StockKey{VariantID: 1, StoreID: 1}
	now := time.Now().UTC()

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		item, err := tx.CreateStockItem(ctx, 1, key, now)
		require.NoError(t, err)
		item.ApplyOnHandDelta(5, now)
		require.NoError(t, tx.UpdateStockItem(ctx, *item))
		_, err = tx.AppendStockMove(ctx, domain.StockMove{TenantID: 1, VariantID: 1, Qty: 5, Reason: domain.MoveReasonAdjustment})
		require.NoError(t, err)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = repo.GetStockItem(ctx, 1, key)
	require.ErrorIs(t, err, store.ErrNotFound)
	moves, err := repo.ListStockMoves(ctx, 1, domain.StockMoveFilter{})
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	repo := New()
	ctx := context.Background()
	key := domain.StockKey{VariantID: 1, StoreID: 1}
	now := time.Now().UTC()

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		item, err := tx.CreateStockItem(ctx, 1, key, now)
		if err != nil {
			return err
		}
		item.ApplyOnHandDelta(3, now)
		return tx.UpdateStockItem(ctx, *item)
	})
	require.NoError(t, err)

	item, err := repo.GetStockItem(ctx, 1, key)
	require.NoError(t, err)
	assert.Equal(t, 3, item.QtyOnHand)
	assert.Equal(t, 3, item.QtyAvailable)
}

func TestUpdateStockItemRejectsInconsistentAvailable(t *testing.T) {
	repo := New()
	ctx := context.Background()
	key := domain.StockKey{VariantID: 1, StoreID: 1}

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		item, err := tx.CreateStockItem(ctx, 1, key, time.Now())
		if err != nil {
			return err
		}
		item.QtyOnHand = 4
		return tx.UpdateStockItem(ctx, *item)
	})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestWithinTxHonoursCancelledContext(t *testing.T) {
	repo := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestRegisterSessionOpenIndex(t *testing.T) {
	repo := New()
	ctx := context.Background()

	var first *domain.RegisterSession
	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		first, err = tx.InsertRegisterSession(ctx, domain.RegisterSession{TenantID: 1, StoreID: 1, OpeningFloat: decimal.Zero})
		return err
	}))

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertRegisterSession(ctx, domain.RegisterSession{TenantID: 1, StoreID: 1})
		return err
	})
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertRegisterSession(ctx, domain.RegisterSession{TenantID: 2, StoreID: 1})
		return err
	}))

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		session, err := tx.LockRegisterSession(ctx, 1, first.ID)
		if err != nil {
			return err
		}
		closedAt := time.Now()
		session.ClosedAt = &closedAt
		return tx.CloseRegisterSession(ctx, *session)
	}))

	_, err = repo.GetOpenRegisterSession(ctx, 1, 1)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSumSessionPaymentsByMethod(t *testing.T) {
	repo := New()
	ctx := context.Background()

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.InsertSale(ctx, domain.Sale{TenantID: 1, StoreID: 1, RegisterSessionID: 9, Status: domain.SaleStatusPaid})
		if err != nil {
			return err
		}
		for _, p := range []domain.Payment{
			{SaleID: sale.ID, Method: domain.PaymentCash, Amount: decimal.RequireFromString("12.50")},
			{SaleID: sale.ID, Method: domain.PaymentCard, Amount: decimal.RequireFromString("40")},
			{SaleID: sale.ID, Method: domain.PaymentCash, Amount: decimal.RequireFromString("7.50")},
		} {
			if _, err := tx.InsertPayment(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		total, err := tx.SumSessionPayments(ctx, 1, 9, domain.PaymentCash)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(20).Equal(total), total.String())
		return nil
	}))
}

func TestSeededStoreHasOpeningStock(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	items, err := repo.ListStockItems(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, item.QtyOnHand, item.QtyAvailable)
	}

	moves, err := repo.ListStockMoves(ctx, 1, domain.StockMoveFilter{StoreID: 2})
	require.NoError(t, err)
	assert.Len(t, moves, 1)

	suppliers, err := repo.ListSuppliers(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, suppliers, 1)
}
