package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// mutation applies stock changes inside one open unit of work. Every on-hand
// change it makes is paired with exactly one stock move.
type mutation struct {
	tx      store.Tx
	actor   domain.ActorContext
	at      time.Time
	touched []domain.StockKey
}

func (s *Service) newMutation(tx store.Tx, actor domain.ActorContext) *mutation {
	return &mutation{tx: tx, actor: actor, at: s.now()}
}

// getOrCreateStockItem locks the row for key, creating a zero row first if
// the pair has never held stock.
func (m *mutation) getOrCreateStockItem(ctx context.Context, key domain.StockKey) (*domain.StockItem, error) {
	item, err := m.tx.LockStockItem(ctx, m.actor.TenantID, key)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return m.tx.CreateStockItem(ctx, m.actor.TenantID, key, m.at)
}

func (m *mutation) apply(ctx context.Context, item *domain.StockItem, delta int) error {
	item.ApplyOnHandDelta(delta, m.at)
	if err := m.tx.UpdateStockItem(ctx, *item); err != nil {
		return err
	}
	m.touched = append(m.touched, item.Key())
	return nil
}

func (m *mutation) record(ctx context.Context, move domain.StockMove) (*domain.StockMove, error) {
	move.TenantID = m.actor.TenantID
	move.PerformedByUserID = m.actor.UserID
	move.CreatedAt = m.at
	return m.tx.AppendStockMove(ctx, move)
}

// adjust applies a signed correction. Negative results are allowed.
func (m *mutation) adjust(ctx context.Context, key domain.StockKey, qty int, reason string, notes string) (*domain.StockItem, *domain.StockMove, error) {
	item, err := m.getOrCreateStockItem(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if err := m.apply(ctx, item, qty); err != nil {
		return nil, nil, err
	}

	move := domain.StockMove{
		VariantID: key.VariantID,
		Qty:       abs(qty),
		Reason:    domain.MoveReasonAdjustment,
		Reference: reason,
		Notes:     notes,
	}
	storeID := key.StoreID
	if qty > 0 {
		move.ToStoreID = &storeID
	} else {
		move.FromStoreID = &storeID
	}
	recorded, err := m.record(ctx, move)
	if err != nil {
		return nil, nil, err
	}
	return item, recorded, nil
}

// transfer moves available stock between two stores of the same tenant.
// Rows are locked in ascending store order.
func (m *mutation) transfer(ctx context.Context, variantID int64, fromStoreID int64, toStoreID int64, qty int, notes string) (*domain.StockItem, *domain.StockItem, *domain.StockMove, error) {
	fromKey := domain.StockKey{VariantID: variantID, StoreID: fromStoreID}
	toKey := domain.StockKey{VariantID: variantID, StoreID: toStoreID}

	var source, dest *domain.StockItem
	lockSource := func() error {
		item, err := m.tx.LockStockItem(ctx, m.actor.TenantID, fromKey)
		if errors.Is(err, store.ErrNotFound) {
			return &store.InsufficientStockError{VariantID: variantID}
		}
		source = item
		return err
	}
	lockDest := func() error {
		item, err := m.getOrCreateStockItem(ctx, toKey)
		dest = item
		return err
	}

	steps := []func() error{lockSource, lockDest}
	if toStoreID < fromStoreID {
		steps = []func() error{lockDest, lockSource}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, nil, nil, err
		}
	}

	if source.QtyAvailable < qty {
		return nil, nil, nil, &store.InsufficientStockError{VariantID: variantID}
	}
	if err := m.apply(ctx, source, -qty); err != nil {
		return nil, nil, nil, err
	}
	if err := m.apply(ctx, dest, qty); err != nil {
		return nil, nil, nil, err
	}

	move, err := m.record(ctx, domain.StockMove{
		VariantID:   variantID,
		FromStoreID: &fromStoreID,
		ToStoreID:   &toStoreID,
		Qty:         qty,
		Reason:      domain.MoveReasonTransfer,
		Notes:       notes,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return source, dest, move, nil
}

func (m *mutation) receive(ctx context.Context, key domain.StockKey, qty int, reason domain.MoveReason, reference string) (*domain.StockItem, error) {
	if qty < 1 {
		return nil, fmt.Errorf("%w: received qty must be positive", store.ErrValidation)
	}
	item, err := m.getOrCreateStockItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := m.apply(ctx, item, qty); err != nil {
		return nil, err
	}

	storeID := key.StoreID
	if _, err := m.record(ctx, domain.StockMove{
		VariantID: key.VariantID,
		ToStoreID: &storeID,
		Qty:       qty,
		Reason:    reason,
		Reference: reference,
	}); err != nil {
		return nil, err
	}
	return item, nil
}

// consume deducts sold units. A missing row counts as zero stock.
func (m *mutation) consume(ctx context.Context, key domain.StockKey, qty int, reference string) (*domain.StockItem, error) {
	item, err := m.tx.LockStockItem(ctx, m.actor.TenantID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &store.InsufficientStockError{VariantID: key.VariantID}
	}
	if err != nil {
		return nil, err
	}
	if item.QtyOnHand-qty < 0 {
		return nil, &store.InsufficientStockError{VariantID: key.VariantID}
	}
	if err := m.apply(ctx, item, -qty); err != nil {
		return nil, err
	}

	storeID := key.StoreID
	if _, err := m.record(ctx, domain.StockMove{
		VariantID:   key.VariantID,
		FromStoreID: &storeID,
		Qty:         qty,
		Reason:      domain.MoveReasonSale,
		Reference:   reference,
	}); err != nil {
		return nil, err
	}
	return item, nil
}

func (m *mutation) restore(ctx context.Context, key domain.StockKey, qty int, reference string) (*domain.StockItem, error) {
	return m.receive(ctx, key, qty, domain.MoveReasonReturn, reference)
}

func (s *Service) AdjustStock(ctx context.Context, actor domain.ActorContext, req domain.StockAdjustRequest) (domain.StockItem, error) {
	if err := s.checkRequest(actor, req); err != nil {
		return domain.StockItem{}, err
	}

	var (
		item    domain.StockItem
		move    domain.StockMove
		touched []domain.StockKey
	)
	key := domain.StockKey{VariantID: req.VariantID, StoreID: req.StoreID}
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		m := s.newMutation(tx, actor)
		adjusted, recorded, err := m.adjust(ctx, key, req.Qty, req.Reason, req.Notes)
		if err != nil {
			return err
		}
		item, move, touched = *adjusted, *recorded, m.touched
		return nil
	})
	if err != nil {
		return domain.StockItem{}, err
	}

	s.invalidateLevels(ctx, actor.TenantID, touched)
	s.logAudit(actor, "stock_adjust", "stock_move", move.ID,
		zap.Int64("variant_id", req.VariantID),
		zap.Int64("store_id", req.StoreID),
		zap.Int("qty", req.Qty),
		zap.Int("qty_on_hand", item.QtyOnHand),
	)
	return item, nil
}

func (s *Service) TransferStock(ctx context.Context, actor domain.ActorContext, req domain.StockTransferRequest) (domain.TransferResponse, error) {
	if req.FromStoreID == req.ToStoreID {
		return domain.TransferResponse{}, fmt.Errorf("%w: source and destination store must differ", store.ErrValidation)
	}
	if err := s.checkRequest(actor, req); err != nil {
		return domain.TransferResponse{}, err
	}

	var (
		resp    domain.TransferResponse
		touched []domain.StockKey
	)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		m := s.newMutation(tx, actor)
		source, dest, move, err := m.transfer(ctx, req.VariantID, req.FromStoreID, req.ToStoreID, req.Qty, req.Notes)
		if err != nil {
			return err
		}
		resp = domain.TransferResponse{From: *source, To: *dest, Move: *move}
		touched = m.touched
		return nil
	})
	if err != nil {
		return domain.TransferResponse{}, err
	}

	s.invalidateLevels(ctx, actor.TenantID, touched)
	s.logAudit(actor, "stock_transfer", "stock_move", resp.Move.ID,
		zap.Int64("variant_id", req.VariantID),
		zap.Int64("from_store_id", req.FromStoreID),
		zap.Int64("to_store_id", req.ToStoreID),
		zap.Int("qty", req.Qty),
	)
	return resp, nil
}

// SetReorderPoint changes the low-stock threshold. On-hand is untouched, so
// no stock move is written.
func (s *Service) SetReorderPoint(ctx context.Context, actor domain.ActorContext, req domain.ReorderPointRequest) (domain.StockItem, error) {
	if err := s.checkRequest(actor, req); err != nil {
		return domain.StockItem{}, err
	}

	var item domain.StockItem
	key := domain.StockKey{VariantID: req.VariantID, StoreID: req.StoreID}
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		m := s.newMutation(tx, actor)
		locked, err := m.getOrCreateStockItem(ctx, key)
		if err != nil {
			return err
		}
		locked.ReorderPoint = req.ReorderPoint
		locked.UpdatedAt = m.at
		if err := tx.UpdateStockItem(ctx, *locked); err != nil {
			return err
		}
		item = *locked
		return nil
	})
	if err != nil {
		return domain.StockItem{}, err
	}

	s.invalidateLevels(ctx, actor.TenantID, []domain.StockKey{key})
	s.logAudit(actor, "reorder_point_set", "stock_item", item.ID, zap.Int("reorder_point", req.ReorderPoint))
	return item, nil
}

func (s *Service) GetStockLevel(ctx context.Context, actor domain.ActorContext, variantID int64, storeID int64) (domain.StockItem, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return domain.StockItem{}, err
	}
	if variantID < 1 || storeID < 1 {
		return domain.StockItem{}, fmt.Errorf("%w: variant_id and store_id are required", store.ErrValidation)
	}

	key := domain.StockKey{VariantID: variantID, StoreID: storeID}
	if cached, found, err := s.levels.Get(ctx, actor.TenantID, key); err != nil {
		s.log.Warn("stock level cache read failed", zap.Error(err))
	} else if found {
		return *cached, nil
	}

	// The generation is taken before the read so a commit landing in between
	// makes the fill below a no-op.
	generation, genErr := s.levels.Generation(ctx, actor.TenantID, key)
	if genErr != nil {
		s.log.Warn("stock level cache generation read failed", zap.Error(genErr))
	}

	item, err := s.repo.GetStockItem(ctx, actor.TenantID, key)
	if err != nil {
		return domain.StockItem{}, err
	}
	if genErr == nil {
		if err := s.levels.Set(ctx, *item, generation, s.cacheTTL); err != nil {
			s.log.Warn("stock level cache write failed", zap.Error(err))
		}
	}
	return *item, nil
}

func (s *Service) ListStockByStore(ctx context.Context, actor domain.ActorContext, storeID int64) (domain.StockListResponse, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return domain.StockListResponse{}, err
	}
	if storeID < 1 {
		return domain.StockListResponse{}, fmt.Errorf("%w: store_id is required", store.ErrValidation)
	}

	items, err := s.repo.ListStockItems(ctx, actor.TenantID, storeID)
	if err != nil {
		return domain.StockListResponse{}, err
	}
	return domain.StockListResponse{Items: items}, nil
}

// ListLowStock returns rows whose available qty is at or below threshold, or
// at or below their own reorder point when threshold is nil.
func (s *Service) ListLowStock(ctx context.Context, actor domain.ActorContext, storeID int64, threshold *int) (domain.StockListResponse, error) {
	all, err := s.ListStockByStore(ctx, actor, storeID)
	if err != nil {
		return domain.StockListResponse{}, err
	}

	low := make([]domain.StockItem, 0, len(all.Items))
	for _, item := range all.Items {
		limit := item.ReorderPoint
		if threshold != nil {
			limit = *threshold
		}
		if item.QtyAvailable <= limit {
			low = append(low, item)
		}
	}
	return domain.StockListResponse{Items: low}, nil
}

func (s *Service) ListStockMoves(ctx context.Context, actor domain.ActorContext, filter domain.StockMoveFilter) (domain.StockMoveListResponse, error) {
	if err := s.checkRequest(actor, nil); err != nil {
		return domain.StockMoveListResponse{}, err
	}
	if filter.Reason != "" && !filter.Reason.Valid() {
		return domain.StockMoveListResponse{}, fmt.Errorf("%w: unknown reason %q", store.ErrValidation, filter.Reason)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	moves, err := s.repo.ListStockMoves(ctx, actor.TenantID, filter)
	if err != nil {
		return domain.StockMoveListResponse{}, err
	}
	return domain.StockMoveListResponse{Moves: moves}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
