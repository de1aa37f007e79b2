package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

type stockKey struct {
	tenantID  int64
	variantID int64
	storeID   int64
}

type storeScope struct {
	tenantID int64
	storeID  int64
}

type poNumberKey struct {
	tenantID int64
	number   string
}

// state is the whole dataset. A unit of work runs against a clone and
// replaces the live state on commit.
type state struct {
	nextID             map[string]int64
	stock              map[stockKey]domain.StockItem
	moves              []domain.StockMove
	sales              map[int64]domain.Sale
	saleItems          map[int64][]domain.SaleItem
	payments           map[int64][]domain.Payment
	returns            map[int64][]domain.Return
	sessions           map[int64]domain.RegisterSession
	openSessionByStore map[storeScope]int64
	suppliers          map[int64]domain.Supplier
	purchaseOrders     map[int64]domain.PurchaseOrder
	poItems            map[int64][]domain.PurchaseOrderItem
	poItemOwner        map[int64]int64
	poNumbers          map[poNumberKey]int64
}

func newState() *state {
	return &state{
		nextID:             make(map[string]int64),
		stock:              make(map[stockKey]domain.StockItem),
		sales:              make(map[int64]domain.Sale),
		saleItems:          make(map[int64][]domain.SaleItem),
		payments:           make(map[int64][]domain.Payment),
		returns:            make(map[int64][]domain.Return),
		sessions:           make(map[int64]domain.RegisterSession),
		openSessionByStore: make(map[storeScope]int64),
		suppliers:          make(map[int64]domain.Supplier),
		purchaseOrders:     make(map[int64]domain.PurchaseOrder),
		poItems:            make(map[int64][]domain.PurchaseOrderItem),
		poItemOwner:        make(map[int64]int64),
		poNumbers:          make(map[poNumberKey]int64),
	}
}

func (st *state) clone() *state {
	return &state{
		nextID:             maps.Clone(st.nextID),
		stock:              maps.Clone(st.stock),
		moves:              slices.Clip(st.moves),
		sales:              maps.Clone(st.sales),
		saleItems:          cloneSliceMap(st.saleItems),
		payments:           cloneSliceMap(st.payments),
		returns:            cloneSliceMap(st.returns),
		sessions:           maps.Clone(st.sessions),
		openSessionByStore: maps.Clone(st.openSessionByStore),
		suppliers:          maps.Clone(st.suppliers),
		purchaseOrders:     maps.Clone(st.purchaseOrders),
		poItems:            cloneSliceMap(st.poItems),
		poItemOwner:        maps.Clone(st.poItemOwner),
		poNumbers:          maps.Clone(st.poNumbers),
	}
}

func cloneSliceMap[T any](src map[int64][]T) map[int64][]T {
	dst := make(map[int64][]T, len(src))
	for k, v := range src {
		dst[k] = slices.Clone(v)
	}
	return dst
}

func (st *state) next(sequence string) int64 {
	st.nextID[sequence]++
	return st.nextID[sequence]
}

type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// NewSeeded returns a store with one demo tenant: two stores, a supplier and
// some opening stock, for running the server without Postgres.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	st := s.st

	supplierID := st.next("supplier")
	st.suppliers[supplierID] = domain.Supplier{
		ID:        supplierID,
		TenantID:  1,
		Name:      "Demo Supplier",
		CreatedAt: now,
	}

	seed := []struct {
		variantID int64
		storeID   int64
		qty       int
		reorder   int
	}{
		{101, 1, 40, 10},
		{102, 1, 25, 10},
		{103, 1, 8, 12},
		{101, 2, 15, 5},
	}
	for _, row := range seed {
		item := domain.StockItem{
			ID:           st.next("stock_item"),
			TenantID:     1,
			VariantID:    row.variantID,
			StoreID:      row.storeID,
			ReorderPoint: row.reorder,
		}
		item.ApplyOnHandDelta(row.qty, now)
		st.stock[stockKey{1, row.variantID, row.storeID}] = item

		to := row.storeID
		st.moves = append(st.moves, domain.StockMove{
			ID:                st.next("stock_move"),
			TenantID:          1,
			VariantID:         row.variantID,
			ToStoreID:         &to,
			Qty:               row.qty,
			Reason:            domain.MoveReasonAdjustment,
			Reference:         "opening stock",
			PerformedByUserID: 1,
			CreatedAt:         now,
		})
	}
	return s
}

func (s *Store) Close() error {
	return nil
}

// WithinTx serializes all writers. fn must not call WithinTx again.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetStockItem(_ context.Context, tenantID int64, key domain.StockKey) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.st.stock[stockKey{tenantID, key.VariantID, key.StoreID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) ListStockItems(_ context.Context, tenantID int64, storeID int64) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.StockItem, 0, 32)
	for key, item := range s.st.stock {
		if key.tenantID != tenantID || key.storeID != storeID {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].VariantID < items[j].VariantID
	})
	return items, nil
}

func (s *Store) ListStockMoves(_ context.Context, tenantID int64, filter domain.StockMoveFilter) ([]domain.StockMove, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	moves := make([]domain.StockMove, 0, 32)
	for i := len(s.st.moves) - 1; i >= 0; i-- {
		move := s.st.moves[i]
		if move.TenantID != tenantID {
			continue
		}
		if filter.VariantID > 0 && move.VariantID != filter.VariantID {
			continue
		}
		if filter.StoreID > 0 && !touchesStore(move, filter.StoreID) {
			continue
		}
		if filter.Reason != "" && move.Reason != filter.Reason {
			continue
		}
		moves = append(moves, move)
		if filter.Limit > 0 && len(moves) >= filter.Limit {
			break
		}
	}
	return moves, nil
}

func touchesStore(move domain.StockMove, storeID int64) bool {
	return (move.FromStoreID != nil && *move.FromStoreID == storeID) ||
		(move.ToStoreID != nil && *move.ToStoreID == storeID)
}

func (s *Store) GetSale(_ context.Context, tenantID int64, saleID int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.st.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	full := s.st.hydrateSale(sale)
	return &full, nil
}

func (st *state) hydrateSale(sale domain.Sale) domain.Sale {
	sale.Items = slices.Clone(st.saleItems[sale.ID])
	sale.Payments = slices.Clone(st.payments[sale.ID])
	sale.Returns = slices.Clone(st.returns[sale.ID])
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	if sale.Payments == nil {
		sale.Payments = []domain.Payment{}
	}
	return sale
}

func (s *Store) ListSales(_ context.Context, tenantID int64, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.st.sales {
		if sale.TenantID != tenantID {
			continue
		}
		if filter.StoreID > 0 && sale.StoreID != filter.StoreID {
			continue
		}
		if filter.CustomerID > 0 && (sale.CustomerID == nil || *sale.CustomerID != filter.CustomerID) {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && sale.CreatedAt.After(*filter.To) {
			continue
		}
		sales = append(sales, s.st.hydrateSale(sale))
	}
	sort.Slice(sales, func(i, j int) bool {
		return sales[i].ID > sales[j].ID
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) GetRegisterSession(_ context.Context, tenantID int64, sessionID int64) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.st.sessions[sessionID]
	if !ok || session.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (s *Store) GetOpenRegisterSession(_ context.Context, tenantID int64, storeID int64) (*domain.RegisterSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.st.openSessionByStore[storeScope{tenantID, storeID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	session := s.st.sessions[id]
	return &session, nil
}

func (s *Store) ListSuppliers(_ context.Context, tenantID int64) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.st.suppliers))
	for _, supplier := range s.st.suppliers {
		if supplier.TenantID == tenantID {
			suppliers = append(suppliers, supplier)
		}
	}
	sort.Slice(suppliers, func(i, j int) bool {
		return strings.ToLower(suppliers[i].Name) < strings.ToLower(suppliers[j].Name)
	})
	return suppliers, nil
}

func (s *Store) GetPurchaseOrder(_ context.Context, tenantID int64, purchaseOrderID int64) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, ok := s.st.purchaseOrders[purchaseOrderID]
	if !ok || po.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	po.Items = slices.Clone(s.st.poItems[po.ID])
	return &po, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, tenantID int64, filter domain.PurchaseOrderFilter) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos := make([]domain.PurchaseOrder, 0, 16)
	for _, po := range s.st.purchaseOrders {
		if po.TenantID != tenantID {
			continue
		}
		if filter.StoreID > 0 && po.StoreID != filter.StoreID {
			continue
		}
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		po.Items = slices.Clone(s.st.poItems[po.ID])
		pos = append(pos, po)
	}
	sort.Slice(pos, func(i, j int) bool {
		return pos[i].ID > pos[j].ID
	})
	if filter.Limit > 0 && len(pos) > filter.Limit {
		pos = pos[:filter.Limit]
	}
	return pos, nil
}

type memTx struct {
	st *state
}

func (t *memTx) LockStockItem(_ context.Context, tenantID int64, key domain.StockKey) (*domain.StockItem, error) {
	item, ok := t.st.stock[stockKey{tenantID, key.VariantID, key.StoreID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (t *memTx) CreateStockItem(_ context.Context, tenantID int64, key domain.StockKey, at time.Time) (*domain.StockItem, error) {
	k := stockKey{tenantID, key.VariantID, key.StoreID}
	if existing, ok := t.st.stock[k]; ok {
		return &existing, nil
	}
	item := domain.StockItem{
		ID:        t.st.next("stock_item"),
		TenantID:  tenantID,
		VariantID: key.VariantID,
		StoreID:   key.StoreID,
		UpdatedAt: at,
	}
	t.st.stock[k] = item
	return &item, nil
}

func (t *memTx) UpdateStockItem(_ context.Context, item domain.StockItem) error {
	k := stockKey{item.TenantID, item.VariantID, item.StoreID}
	if _, ok := t.st.stock[k]; !ok {
		return store.ErrNotFound
	}
	if item.QtyReserved < 0 || item.QtyAvailable != item.QtyOnHand-item.QtyReserved {
		return store.ErrValidation
	}
	t.st.stock[k] = item
	return nil
}

func (t *memTx) AppendStockMove(_ context.Context, move domain.StockMove) (*domain.StockMove, error) {
	if move.Qty < 1 {
		return nil, store.ErrValidation
	}
	move.ID = t.st.next("stock_move")
	t.st.moves = append(t.st.moves, move)
	return &move, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	sale.ID = t.st.next("sale")
	sale.Items = nil
	sale.Payments = nil
	sale.Returns = nil
	t.st.sales[sale.ID] = sale
	return &sale, nil
}

func (t *memTx) InsertSaleItem(_ context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	if _, ok := t.st.sales[item.SaleID]; !ok {
		return nil, store.ErrNotFound
	}
	item.ID = t.st.next("sale_item")
	t.st.saleItems[item.SaleID] = append(t.st.saleItems[item.SaleID], item)
	return &item, nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	if _, ok := t.st.sales[payment.SaleID]; !ok {
		return nil, store.ErrNotFound
	}
	payment.ID = t.st.next("payment")
	t.st.payments[payment.SaleID] = append(t.st.payments[payment.SaleID], payment)
	return &payment, nil
}

func (t *memTx) LockSale(_ context.Context, tenantID int64, saleID int64) (*domain.Sale, error) {
	sale, ok := t.st.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	full := t.st.hydrateSale(sale)
	return &full, nil
}

func (t *memTx) UpdateSaleStatus(_ context.Context, tenantID int64, saleID int64, status domain.SaleStatus, at time.Time) error {
	sale, ok := t.st.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return store.ErrNotFound
	}
	sale.Status = status
	sale.UpdatedAt = at
	t.st.sales[saleID] = sale
	return nil
}

func (t *memTx) InsertReturn(_ context.Context, ret domain.Return) (*domain.Return, error) {
	if _, ok := t.st.sales[ret.SaleID]; !ok {
		return nil, store.ErrNotFound
	}
	ret.ID = t.st.next("return")
	t.st.returns[ret.SaleID] = append(t.st.returns[ret.SaleID], ret)
	return &ret, nil
}

func (t *memTx) InsertRegisterSession(_ context.Context, session domain.RegisterSession) (*domain.RegisterSession, error) {
	scope := storeScope{session.TenantID, session.StoreID}
	if _, open := t.st.openSessionByStore[scope]; open {
		return nil, store.ErrConflict
	}
	session.ID = t.st.next("register_session")
	session.ClosedAt = nil
	t.st.sessions[session.ID] = session
	t.st.openSessionByStore[scope] = session.ID
	return &session, nil
}

func (t *memTx) LockRegisterSession(_ context.Context, tenantID int64, sessionID int64) (*domain.RegisterSession, error) {
	session, ok := t.st.sessions[sessionID]
	if !ok || session.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (t *memTx) SumSessionPayments(_ context.Context, tenantID int64, sessionID int64, method domain.PaymentMethod) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, sale := range t.st.sales {
		if sale.TenantID != tenantID || sale.RegisterSessionID != sessionID {
			continue
		}
		for _, payment := range t.st.payments[sale.ID] {
			if payment.Method == method {
				total = total.Add(payment.Amount)
			}
		}
	}
	return total, nil
}

func (t *memTx) CloseRegisterSession(_ context.Context, session domain.RegisterSession) error {
	current, ok := t.st.sessions[session.ID]
	if !ok || current.TenantID != session.TenantID {
		return store.ErrNotFound
	}
	if !current.IsOpen() {
		return store.ErrConflict
	}
	t.st.sessions[session.ID] = session
	delete(t.st.openSessionByStore, storeScope{current.TenantID, current.StoreID})
	return nil
}

func (t *memTx) GetSupplier(_ context.Context, tenantID int64, supplierID int64) (*domain.Supplier, error) {
	supplier, ok := t.st.suppliers[supplierID]
	if !ok || supplier.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (t *memTx) InsertSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	supplier.ID = t.st.next("supplier")
	t.st.suppliers[supplier.ID] = supplier
	return &supplier, nil
}

func (t *memTx) InsertPurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	numberKey := poNumberKey{po.TenantID, po.PONumber}
	if _, taken := t.st.poNumbers[numberKey]; taken {
		return nil, store.ErrConflict
	}

	po.ID = t.st.next("purchase_order")
	items := make([]domain.PurchaseOrderItem, 0, len(po.Items))
	for _, item := range po.Items {
		item.ID = t.st.next("purchase_order_item")
		item.PurchaseOrderID = po.ID
		items = append(items, item)
		t.st.poItemOwner[item.ID] = po.ID
	}
	po.Items = nil
	t.st.purchaseOrders[po.ID] = po
	t.st.poItems[po.ID] = items
	t.st.poNumbers[numberKey] = po.ID

	po.Items = slices.Clone(items)
	return &po, nil
}

func (t *memTx) LockPurchaseOrder(_ context.Context, tenantID int64, purchaseOrderID int64) (*domain.PurchaseOrder, error) {
	po, ok := t.st.purchaseOrders[purchaseOrderID]
	if !ok || po.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	po.Items = slices.Clone(t.st.poItems[po.ID])
	return &po, nil
}

func (t *memTx) UpdatePurchaseOrderItemReceived(_ context.Context, itemID int64, receivedQty int) error {
	poID, ok := t.st.poItemOwner[itemID]
	if !ok {
		return store.ErrNotFound
	}
	items := t.st.poItems[poID]
	for i := range items {
		if items[i].ID == itemID {
			items[i].ReceivedQty = receivedQty
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *memTx) UpdatePurchaseOrderStatus(_ context.Context, tenantID int64, purchaseOrderID int64, status domain.PurchaseOrderStatus, receivedDate *time.Time, at time.Time) error {
	po, ok := t.st.purchaseOrders[purchaseOrderID]
	if !ok || po.TenantID != tenantID {
		return store.ErrNotFound
	}
	po.Status = status
	if receivedDate != nil {
		received := *receivedDate
		po.ReceivedDate = &received
	}
	po.UpdatedAt = at
	t.st.purchaseOrders[purchaseOrderID] = po
	return nil
}
