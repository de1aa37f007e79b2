package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

const (
	stockItemColumns = `id, tenant_id, variant_id, store_id, qty_on_hand, qty_reserved, qty_available, reorder_point, updated_at`
	stockMoveColumns = `id, tenant_id, variant_id, from_store_id, to_store_id, qty, reason, reference, performed_by_user_id, notes, created_at`
	saleColumns      = `id, tenant_id, store_id, register_session_id, cashier_id, customer_id, status, subtotal, tax_total, discount_total, grand_total, notes, created_at, updated_at`
	saleItemColumns  = `id, sale_id, variant_id, qty, price, discount, tax, line_total`
	paymentColumns   = `id, sale_id, method, amount, external_ref, notes, created_at`
	returnColumns    = `id, tenant_id, sale_id, processed_by_user_id, reason, refund_method, refund_amount, notes, created_at`
	sessionColumns   = `id, tenant_id, store_id, opened_by_user_id, closed_by_user_id, opening_float, expected_cash, actual_cash, discrepancy, notes, opened_at, closed_at`
	supplierColumns  = `id, tenant_id, name, email, phone, created_at`
	poColumns        = `id, tenant_id, supplier_id, store_id, po_number, status, subtotal, tax_total, shipping_cost, grand_total, expected_date, received_date, notes, created_by_user_id, created_at, updated_at`
	poItemColumns    = `id, purchase_order_id, variant_id, qty, cost, discount, line_total, received_qty`
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 30
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 8
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in one serializable transaction. Serialization failures
// and deadlocks come back as store.ErrConflict; nothing is retried.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

func (s *Store) GetStockItem(ctx context.Context, tenantID int64, key domain.StockKey) (*domain.StockItem, error) {
	var item domain.StockItem
	err := s.db.GetContext(ctx, &item, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE tenant_id = $1 AND variant_id = $2 AND store_id = $3
	`, tenantID, key.VariantID, key.StoreID)
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *Store) ListStockItems(ctx context.Context, tenantID int64, storeID int64) ([]domain.StockItem, error) {
	items := make([]domain.StockItem, 0, 64)
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE tenant_id = $1 AND store_id = $2
		ORDER BY variant_id
	`, tenantID, storeID)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListStockMoves(ctx context.Context, tenantID int64, filter domain.StockMoveFilter) ([]domain.StockMove, error) {
	where := conditions{}
	where.add("tenant_id = $%d", tenantID)
	if filter.VariantID > 0 {
		where.add("variant_id = $%d", filter.VariantID)
	}
	if filter.StoreID > 0 {
		where.add("(from_store_id = $%[1]d OR to_store_id = $%[1]d)", filter.StoreID)
	}
	if filter.Reason != "" {
		where.add("reason = $%d", string(filter.Reason))
	}

	query := `SELECT ` + stockMoveColumns + ` FROM stock_moves` + where.sql() + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	moves := make([]domain.StockMove, 0, 32)
	if err := s.db.SelectContext(ctx, &moves, query, where.args...); err != nil {
		return nil, err
	}
	return moves, nil
}

func (s *Store) GetSale(ctx context.Context, tenantID int64, saleID int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.GetContext(ctx, &sale, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, saleID)
	if err != nil {
		return nil, notFound(err)
	}
	sales := []domain.Sale{sale}
	if err := hydrateSales(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, tenantID int64, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := conditions{}
	where.add("tenant_id = $%d", tenantID)
	if filter.StoreID > 0 {
		where.add("store_id = $%d", filter.StoreID)
	}
	if filter.CustomerID > 0 {
		where.add("customer_id = $%d", filter.CustomerID)
	}
	if filter.From != nil {
		where.add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		where.add("created_at <= $%d", *filter.To)
	}

	query := `SELECT ` + saleColumns + ` FROM sales` + where.sql() + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	sales := make([]domain.Sale, 0, 32)
	if err := s.db.SelectContext(ctx, &sales, query, where.args...); err != nil {
		return nil, err
	}
	if err := hydrateSales(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetRegisterSession(ctx context.Context, tenantID int64, sessionID int64) (*domain.RegisterSession, error) {
	var session domain.RegisterSession
	err := s.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+`
		FROM register_sessions
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, sessionID)
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (s *Store) GetOpenRegisterSession(ctx context.Context, tenantID int64, storeID int64) (*domain.RegisterSession, error) {
	var session domain.RegisterSession
	err := s.db.GetContext(ctx, &session, `
		SELECT `+sessionColumns+`
		FROM register_sessions
		WHERE tenant_id = $1 AND store_id = $2 AND closed_at IS NULL
	`, tenantID, storeID)
	if err != nil {
		return nil, notFound(err)
	}
	return &session, nil
}

func (s *Store) ListSuppliers(ctx context.Context, tenantID int64) ([]domain.Supplier, error) {
	suppliers := make([]domain.Supplier, 0, 16)
	err := s.db.SelectContext(ctx, &suppliers, `
		SELECT `+supplierColumns+`
		FROM suppliers
		WHERE tenant_id = $1
		ORDER BY lower(name), id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) GetPurchaseOrder(ctx context.Context, tenantID int64, purchaseOrderID int64) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	err := s.db.GetContext(ctx, &po, `
		SELECT `+poColumns+`
		FROM purchase_orders
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, purchaseOrderID)
	if err != nil {
		return nil, notFound(err)
	}
	pos := []domain.PurchaseOrder{po}
	if err := hydratePurchaseOrders(ctx, s.db, pos); err != nil {
		return nil, err
	}
	return &pos[0], nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, tenantID int64, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error) {
	where := conditions{}
	where.add("tenant_id = $%d", tenantID)
	if filter.StoreID > 0 {
		where.add("store_id = $%d", filter.StoreID)
	}
	if filter.Status != "" {
		where.add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + poColumns + ` FROM purchase_orders` + where.sql() + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	pos := make([]domain.PurchaseOrder, 0, 16)
	if err := s.db.SelectContext(ctx, &pos, query, where.args...); err != nil {
		return nil, err
	}
	if err := hydratePurchaseOrders(ctx, s.db, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// hydrateSales loads items, payments and returns for every sale in place.
func hydrateSales(ctx context.Context, q sqlx.QueryerContext, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(sales))
	index := make(map[int64]int, len(sales))
	for i := range sales {
		ids = append(ids, sales[i].ID)
		index[sales[i].ID] = i
		sales[i].Items = []domain.SaleItem{}
		sales[i].Payments = []domain.Payment{}
	}

	var items []domain.SaleItem
	if err := selectIn(ctx, q, &items, `SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id IN (?) ORDER BY id`, ids); err != nil {
		return err
	}
	for _, item := range items {
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, item)
	}

	var payments []domain.Payment
	if err := selectIn(ctx, q, &payments, `SELECT `+paymentColumns+` FROM payments WHERE sale_id IN (?) ORDER BY id`, ids); err != nil {
		return err
	}
	for _, payment := range payments {
		i := index[payment.SaleID]
		sales[i].Payments = append(sales[i].Payments, payment)
	}

	var returns []domain.Return
	if err := selectIn(ctx, q, &returns, `SELECT `+returnColumns+` FROM returns WHERE sale_id IN (?) ORDER BY id`, ids); err != nil {
		return err
	}
	for _, ret := range returns {
		i := index[ret.SaleID]
		sales[i].Returns = append(sales[i].Returns, ret)
	}
	return nil
}

func hydratePurchaseOrders(ctx context.Context, q sqlx.QueryerContext, pos []domain.PurchaseOrder) error {
	if len(pos) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(pos))
	index := make(map[int64]int, len(pos))
	for i := range pos {
		ids = append(ids, pos[i].ID)
		index[pos[i].ID] = i
		pos[i].Items = []domain.PurchaseOrderItem{}
	}

	var items []domain.PurchaseOrderItem
	if err := selectIn(ctx, q, &items, `SELECT `+poItemColumns+` FROM purchase_order_items WHERE purchase_order_id IN (?) ORDER BY id`, ids); err != nil {
		return err
	}
	for _, item := range items {
		i := index[item.PurchaseOrderID]
		pos[i].Items = append(pos[i].Items, item)
	}
	return nil
}

func selectIn(ctx context.Context, q sqlx.QueryerContext, dest any, query string, ids []int64) error {
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q, dest, sqlx.Rebind(sqlx.DOLLAR, query), args...)
}

// conditions accumulates a WHERE clause with positional placeholders.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(clause, len(c.args)))
}

func (c *conditions) sql() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isCheckViolation(err error) bool {
	return pgCode(err) == "23514"
}

func mapTxError(err error) error {
	switch pgCode(err) {
	case "40001", "40P01":
		return fmt.Errorf("%w: concurrent update, resubmit the request", store.ErrConflict)
	default:
		return err
	}
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullID(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
