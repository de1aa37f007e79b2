package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/store"
	"stockledger/backend/internal/xid"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	requestIDHeader  = "X-Request-ID"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	pinLimiter    *attemptLimiter
	log           *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		log:           logger.Named("http"),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)

	mux.HandleFunc("/api/v1/stock", a.requireAuth(a.handleStockLevel))
	mux.HandleFunc("/api/v1/stock/adjust", a.requireAuth(a.handleStockAdjust))
	mux.HandleFunc("/api/v1/stock/transfer", a.requireAuth(a.handleStockTransfer))
	mux.HandleFunc("/api/v1/stock/reorder-point", a.requireAuth(a.handleReorderPoint))
	mux.HandleFunc("/api/v1/stock/moves", a.requireAuth(a.handleStockMoves))
	mux.HandleFunc("/api/v1/stores/{storeID}/stock", a.requireAuth(a.handleStoreStock))
	mux.HandleFunc("/api/v1/stores/{storeID}/stock/low", a.requireAuth(a.handleLowStock))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales))
	mux.HandleFunc("/api/v1/sales/{saleID}", a.requireAuth(a.handleSale))
	mux.HandleFunc("/api/v1/sales/{saleID}/refund", a.requireAuth(a.handleSaleRefund))

	mux.HandleFunc("/api/v1/registers/open", a.requireAuth(a.handleRegisterOpen))
	mux.HandleFunc("/api/v1/registers/close", a.requireAuth(a.handleRegisterClose))
	mux.HandleFunc("/api/v1/registers/current", a.requireAuth(a.handleRegisterCurrent))

	mux.HandleFunc("/api/v1/suppliers", a.requireAuth(a.handleSuppliers))
	mux.HandleFunc("/api/v1/purchase-orders", a.requireAuth(a.handlePurchaseOrders))
	mux.HandleFunc("/api/v1/purchase-orders/{poID}", a.requireAuth(a.handlePurchaseOrder))
	mux.HandleFunc("/api/v1/purchase-orders/{poID}/status", a.requireAuth(a.handlePurchaseOrderStatus))
	mux.HandleFunc("/api/v1/purchase-orders/{poID}/receive", a.requireAuth(a.handlePurchaseOrderReceive))

	return a.withMiddleware(mux)
}

type actorKey struct{}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	}
}

// authorize returns the request's actor when it holds perm and writes a 403
// otherwise.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, perm domain.Permission) (domain.ActorContext, bool) {
	actor, ok := r.Context().Value(actorKey{}).(domain.ActorContext)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return domain.ActorContext{}, false
	}
	if !actor.Can(perm) {
		writeError(w, http.StatusForbidden, fmt.Errorf("permission %s required", perm))
		return domain.ActorContext{}, false
	}
	return actor, true
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleStockLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermInventoryRead)
	if !ok {
		return
	}

	query := r.URL.Query()
	variantID, err := parseID(query.Get("variant_id"), "variant_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	storeID, err := parseID(query.Get("store_id"), "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.GetStockLevel(r.Context(), actor, variantID, storeID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleStockAdjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermInventoryAdjust)
	if !ok {
		return
	}

	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.AdjustStock(r.Context(), actor, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleStockTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermInventoryTransfer)
	if !ok {
		return
	}

	var req domain.StockTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.TransferStock(r.Context(), actor, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReorderPoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermInventoryAdjust)
	if !ok {
		return
	}

	var req domain.ReorderPointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.SetReorderPoint(r.Context(), actor, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleStockMoves(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermInventoryRead)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := domain.StockMoveFilter{
		Reason: domain.MoveReason(strings.ToUpper(strings.TrimSpace(query.Get("reason")))),
		Limit:  parsePositiveLimit(query.Get("limit"), defaultListLimit, maxListLimit),
	}
	var err error
	if filter.VariantID, err = parseOptionalID(query.Get("variant_id"), "variant_id"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.StoreID, err = parseOptionalID(query.Get("store_id"), "store_id"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ListStockMoves(r.Context(), actor, filter)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStoreStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermInventoryRead)
	if !ok {
		return
	}
	storeID, err := parseID(r.PathValue("storeID"), "store id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.ListStockByStore(r.Context(), actor, storeID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermInventoryRead)
	if !ok {
		return
	}
	storeID, err := parseID(r.PathValue("storeID"), "store id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var threshold *int
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, errors.New("threshold must be a non-negative integer"))
			return
		}
		threshold = &parsed
	}

	resp, err := a.service.ListLowStock(r.Context(), actor, storeID, threshold)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		actor, ok := a.authorize(w, r, domain.PermSaleCreate)
		if !ok {
			return
		}
		var req domain.CreateSaleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		sale, err := a.service.CreateSale(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
	case http.MethodGet:
		actor, ok := a.authorize(w, r, domain.PermSaleRead)
		if !ok {
			return
		}
		filter, err := parseSaleFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		resp, err := a.service.ListSales(r.Context(), actor, filter)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

func parseSaleFilter(r *http.Request) (domain.SaleFilter, error) {
	query := r.URL.Query()
	filter := domain.SaleFilter{
		Limit: parsePositiveLimit(query.Get("limit"), defaultListLimit, maxListLimit),
	}
	var err error
	if filter.StoreID, err = parseOptionalID(query.Get("store_id"), "store_id"); err != nil {
		return domain.SaleFilter{}, err
	}
	if filter.CustomerID, err = parseOptionalID(query.Get("customer_id"), "customer_id"); err != nil {
		return domain.SaleFilter{}, err
	}
	if filter.From, err = parseOptionalTime(query.Get("from"), "from"); err != nil {
		return domain.SaleFilter{}, err
	}
	if filter.To, err = parseOptionalTime(query.Get("to"), "to"); err != nil {
		return domain.SaleFilter{}, err
	}
	return filter, nil
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermSaleRead)
	if !ok {
		return
	}
	saleID, err := parseID(r.PathValue("saleID"), "sale id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.GetSale(r.Context(), actor, saleID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleSaleRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermSaleRefund)
	if !ok {
		return
	}
	saleID, err := parseID(r.PathValue("saleID"), "sale id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req domain.RefundSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SaleID != 0 && req.SaleID != saleID {
		writeError(w, http.StatusBadRequest, errors.New("sale_id does not match path"))
		return
	}
	req.SaleID = saleID

	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("manager approval required"))
		return
	}

	resp, err := a.service.RefundSale(r.Context(), actor, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegisterOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermRegisterOpen)
	if !ok {
		return
	}

	var req domain.OpenRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := a.service.OpenRegister(r.Context(), actor, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (a *API) handleRegisterClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermRegisterClose)
	if !ok {
		return
	}

	var req domain.CloseRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := a.service.CloseRegister(r.Context(), actor, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleRegisterCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermRegisterRead)
	if !ok {
		return
	}
	storeID, err := parseID(r.URL.Query().Get("store_id"), "store_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := a.service.GetCurrentSession(r.Context(), actor, storeID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		actor, ok := a.authorize(w, r, domain.PermSupplierCreate)
		if !ok {
			return
		}
		var req domain.SupplierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		supplier, err := a.service.CreateSupplier(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
	case http.MethodGet:
		actor, ok := a.authorize(w, r, domain.PermSupplierRead)
		if !ok {
			return
		}
		suppliers, err := a.service.ListSuppliers(r.Context(), actor)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		actor, ok := a.authorize(w, r, domain.PermPORead)
		if !ok {
			return
		}
		query := r.URL.Query()
		filter := domain.PurchaseOrderFilter{
			Status: domain.PurchaseOrderStatus(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
			Limit:  parsePositiveLimit(query.Get("limit"), defaultListLimit, maxListLimit),
		}
		storeID, err := parseOptionalID(query.Get("store_id"), "store_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		filter.StoreID = storeID

		resp, err := a.service.ListPurchaseOrders(r.Context(), actor, filter)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		actor, ok := a.authorize(w, r, domain.PermPOCreate)
		if !ok {
			return
		}
		var req domain.PurchaseOrderCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		po, err := a.service.CreatePurchaseOrder(r.Context(), actor, req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"purchase_order": po})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handlePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermPORead)
	if !ok {
		return
	}
	poID, err := parseID(r.PathValue("poID"), "purchase order id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	po, err := a.service.GetPurchaseOrder(r.Context(), actor, poID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handlePurchaseOrderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermPOUpdate)
	if !ok {
		return
	}
	poID, err := parseID(r.PathValue("poID"), "purchase order id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req domain.PurchaseOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	po, err := a.service.UpdatePurchaseOrderStatus(r.Context(), actor, poID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handlePurchaseOrderReceive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := a.authorize(w, r, domain.PermPOReceive)
	if !ok {
		return
	}
	poID, err := parseID(r.PathValue("poID"), "purchase order id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req domain.PurchaseOrderReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	po, err := a.service.ReceivePurchaseOrder(r.Context(), actor, poID, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = xid.New("req")
		}
		w.Header().Set(requestIDHeader, requestID)

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func parseID(raw string, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

func parseOptionalID(raw string, name string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return parseID(raw, name)
}

func parseOptionalTime(raw string, name string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// errorStatus maps the store's error kinds onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= 500 {
		a.log.Error("internal error",
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, err)
		return
	}

	var shortage *store.InsufficientStockError
	if errors.As(err, &shortage) {
		writeJSON(w, status, map[string]any{
			"error":      err.Error(),
			"variant_id": shortage.VariantID,
		})
		return
	}
	writeError(w, status, err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; callers log the cause.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
