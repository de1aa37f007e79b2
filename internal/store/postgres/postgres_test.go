package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(sqlx.NewDb(db, "pgx")), mock
}

func stockItemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "variant_id", "store_id", "qty_on_hand", "qty_reserved", "qty_available", "reorder_point", "updated_at",
	})
}

func TestWithinTxCommitsLockedUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM stock_items\s+WHERE tenant_id = \$1 AND variant_id = \$2 AND store_id = \$3\s+FOR UPDATE`).
		WithArgs(int64(1), int64(10), int64(2)).
		WillReturnRows(stockItemRows().AddRow(5, 1, 10, 2, 4, 0, 4, 1, now))
	mock.ExpectExec(`UPDATE stock_items`).
		WithArgs(int64(1), int64(5), 6, 0, 6, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		item, err := tx.LockStockItem(ctx, 1, domain.StockKey{VariantID: 10, StoreID: 2})
		if err != nil {
			return err
		}
		item.ApplyOnHandDelta(2, now)
		return tx.UpdateStockItem(ctx, *item)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSerializationFailureIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return nil
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestLockStockItemMissingIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM stock_items`).WillReturnRows(stockItemRows())
	mock.ExpectRollback()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockStockItem(ctx, 1, domain.StockKey{VariantID: 10, StoreID: 2})
		return err
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateStockItemInsertsThenLocks(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO stock_items.*ON CONFLICT \(tenant_id, variant_id, store_id\) DO NOTHING`).
		WithArgs(int64(1), int64(10), int64(2), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(stockItemRows().AddRow(9, 1, 10, 2, 3, 0, 3, 0, now))
	mock.ExpectCommit()

	var created *domain.StockItem
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.CreateStockItem(ctx, 1, domain.StockKey{VariantID: 10, StoreID: 2}, now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), created.ID)
	assert.Equal(t, 3, created.QtyOnHand, "a row created concurrently is returned as-is")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRegisterSessionUniqueViolationIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO register_sessions`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertRegisterSession(ctx, domain.RegisterSession{TenantID: 1, StoreID: 1, OpeningFloat: decimal.Zero})
		return err
	})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseRegisterSessionAlreadyClosedIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	closedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)UPDATE register_sessions.*closed_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CloseRegisterSession(ctx, domain.RegisterSession{ID: 3, TenantID: 1, ClosedAt: &closedAt})
	})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSumSessionPaymentsScansDecimal(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(p.amount\), 0\)`).
		WithArgs(int64(1), int64(4), "CASH").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("125.50"))
	mock.ExpectCommit()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		total, err := tx.SumSessionPayments(ctx, 1, 4, domain.PaymentCash)
		if err != nil {
			return err
		}
		assert.True(t, decimal.RequireFromString("125.5").Equal(total), total.String())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStockMovesBuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM stock_moves WHERE tenant_id = \$1 AND variant_id = \$2 AND \(from_store_id = \$3 OR to_store_id = \$3\) AND reason = \$4 ORDER BY id DESC LIMIT 5`).
		WithArgs(int64(1), int64(10), int64(2), "SALE").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "variant_id", "from_store_id", "to_store_id", "qty", "reason", "reference", "performed_by_user_id", "notes", "created_at",
		}).AddRow(7, 1, 10, 2, nil, 3, "SALE", "SALE-4", 9, "", time.Now()))

	moves, err := s.ListStockMoves(context.Background(), 1, domain.StockMoveFilter{
		VariantID: 10,
		StoreID:   2,
		Reason:    domain.MoveReasonSale,
		Limit:     5,
	})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	require.NotNil(t, moves[0].FromStoreID)
	assert.Equal(t, int64(2), *moves[0].FromStoreID)
	assert.Nil(t, moves[0].ToStoreID)
	assert.Equal(t, domain.MoveReasonSale, moves[0].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/ledger?sslmode=disable", migrationURL("postgres://u:p@db:5432/ledger?sslmode=disable"))
	assert.Equal(t, "pgx5://db/ledger", migrationURL("postgresql://db/ledger"))
	assert.Equal(t, "pgx5://db/ledger", migrationURL("pgx5://db/ledger"))
}
