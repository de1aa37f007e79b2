package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/store/memory"
)

const (
	testSecret     = "test-secret-key-with-32-characters!"
	testManagerPIN = "482913"
)

// newTestAPI builds a full API over the seeded in-memory store, a real
// AuthManager and a real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, 0, zap.NewNop())
	auth := NewAuthManager(testSecret, time.Hour, testManagerPIN)

	return New(svc, auth, "*", zap.NewNop())
}

func decimalOf(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("decimal %q: %v", value, err)
	}
	return d
}

func tokenFor(t *testing.T, api *API, perms ...domain.Permission) string {
	t.Helper()
	token, _, err := api.auth.IssueToken(domain.ActorContext{TenantID: 1, UserID: 7, Permissions: perms})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func adminToken(t *testing.T, api *API) string {
	return tokenFor(t, api, domain.PermManageAll)
}

func doRequest(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func openRegister(t *testing.T, api *API, token string, storeID int64) domain.RegisterSession {
	t.Helper()
	rec := doRequest(t, api, http.MethodPost, "/api/v1/registers/open", token, map[string]any{
		"store_id":      storeID,
		"opening_float": "100.00",
	})
	expectStatus(t, rec, http.StatusCreated)

	var body struct {
		Session domain.RegisterSession `json:"session"`
	}
	decodeBody(t, rec, &body)
	return body.Session
}

func createSale(t *testing.T, api *API, token string, sessionID int64, variantID int64, qty int) *httptest.ResponseRecorder {
	t.Helper()
	return doRequest(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"store_id":            1,
		"register_session_id": sessionID,
		"items": []map[string]any{
			{"variant_id": variantID, "qty": qty, "price": "10.00"},
		},
		"payments": []map[string]any{
			{"method": "CASH", "amount": fmt.Sprintf("%d.00", qty*10)},
		},
	})
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	api := newTestAPI(t)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/stores/1/stock", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stores/1/stock", "not-a-jwt", nil)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestPermissionIsCheckedPerRoute(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, domain.PermInventoryRead)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/stores/1/stock", token, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = doRequest(t, api, http.MethodPost, "/api/v1/stock/adjust", token, domain.StockAdjustRequest{
		VariantID: 101, StoreID: 1, Qty: 5, Reason: "recount",
	})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestStockAdjustAndRead(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)

	rec := doRequest(t, api, http.MethodPost, "/api/v1/stock/adjust", token, domain.StockAdjustRequest{
		VariantID: 101, StoreID: 1, Qty: -4, Reason: "damaged",
	})
	expectStatus(t, rec, http.StatusOK)

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stock?variant_id=101&store_id=1", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var level struct {
		Item domain.StockItem `json:"item"`
	}
	decodeBody(t, rec, &level)
	if level.Item.QtyOnHand != 36 || level.Item.QtyAvailable != 36 {
		t.Fatalf("expected 36 on hand after adjustment, got %+v", level.Item)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stock/moves?variant_id=101&reason=adjustment", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var moves domain.StockMoveListResponse
	decodeBody(t, rec, &moves)
	outbound := 0
	for _, move := range moves.Moves {
		if move.FromStoreID != nil && *move.FromStoreID == 1 && move.Qty == 4 {
			outbound++
		}
	}
	if outbound != 1 {
		t.Fatalf("expected one outbound adjustment move, got %+v", moves.Moves)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stock?variant_id=999&store_id=1", token, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestStockAdjustValidation(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)

	rec := doRequest(t, api, http.MethodPost, "/api/v1/stock/adjust", token, domain.StockAdjustRequest{
		VariantID: 101, StoreID: 1, Qty: 0,
	})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doRequest(t, api, http.MethodPost, "/api/v1/stock/adjust", token, map[string]any{
		"variant_id": 101, "store_id": 1, "qty": 1, "unexpected": true,
	})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestStockTransferEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)

	rec := doRequest(t, api, http.MethodPost, "/api/v1/stock/transfer", token, domain.StockTransferRequest{
		VariantID: 101, FromStoreID: 2, ToStoreID: 1, Qty: 5,
	})
	expectStatus(t, rec, http.StatusOK)

	var resp domain.TransferResponse
	decodeBody(t, rec, &resp)
	if resp.From.QtyOnHand != 10 || resp.To.QtyOnHand != 45 {
		t.Fatalf("unexpected transfer result from=%d to=%d", resp.From.QtyOnHand, resp.To.QtyOnHand)
	}

	rec = doRequest(t, api, http.MethodPost, "/api/v1/stock/transfer", token, domain.StockTransferRequest{
		VariantID: 101, FromStoreID: 2, ToStoreID: 1, Qty: 50,
	})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
}

func TestLowStockEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/stores/1/stock/low", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var resp domain.StockListResponse
	decodeBody(t, rec, &resp)
	if len(resp.Items) != 1 || resp.Items[0].VariantID != 103 {
		t.Fatalf("expected only variant 103 below its reorder point, got %+v", resp.Items)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stores/1/stock/low?threshold=30", token, nil)
	expectStatus(t, rec, http.StatusOK)
	resp = domain.StockListResponse{}
	decodeBody(t, rec, &resp)
	if len(resp.Items) != 2 {
		t.Fatalf("expected two items at or below 30, got %+v", resp.Items)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stores/1/stock/low?threshold=-1", token, nil)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestSaleLifecycle(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)
	session := openRegister(t, api, token, 1)

	rec := createSale(t, api, token, session.ID, 103, 3)
	expectStatus(t, rec, http.StatusCreated)
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	if created.Sale.Status != domain.SaleStatusPaid || !created.Sale.GrandTotal.Equal(decimalOf(t, "30")) {
		t.Fatalf("unexpected sale %+v", created.Sale)
	}

	rec = doRequest(t, api, http.MethodGet, fmt.Sprintf("/api/v1/sales/%d", created.Sale.ID), token, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = createSale(t, api, token, session.ID, 103, 6)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	var shortage map[string]any
	decodeBody(t, rec, &shortage)
	if shortage["variant_id"] != float64(103) {
		t.Fatalf("expected variant_id 103 in error body, got %v", shortage)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/sales?store_id=1", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var list domain.SaleListResponse
	decodeBody(t, rec, &list)
	if len(list.Sales) != 1 {
		t.Fatalf("expected 1 sale, got %d", len(list.Sales))
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/sales?from=yesterday", token, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doRequest(t, api, http.MethodPost, "/api/v1/registers/close", token, domain.CloseRegisterRequest{
		SessionID: session.ID, ActualCash: decimalOf(t, "130.00"),
	})
	expectStatus(t, rec, http.StatusOK)
	var closed struct {
		Session domain.RegisterSession `json:"session"`
	}
	decodeBody(t, rec, &closed)
	if !closed.Session.Discrepancy.Valid || !closed.Session.Discrepancy.Decimal.IsZero() {
		t.Fatalf("expected zero discrepancy, got %+v", closed.Session.Discrepancy)
	}

	rec = createSale(t, api, token, session.ID, 101, 1)
	expectStatus(t, rec, http.StatusConflict)
}

func TestRegisterEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/registers/current?store_id=1", token, nil)
	expectStatus(t, rec, http.StatusNotFound)

	session := openRegister(t, api, token, 1)

	rec = doRequest(t, api, http.MethodPost, "/api/v1/registers/open", token, map[string]any{
		"store_id": 1, "opening_float": "0",
	})
	expectStatus(t, rec, http.StatusConflict)

	rec = doRequest(t, api, http.MethodGet, "/api/v1/registers/current?store_id=1", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var current struct {
		Session domain.RegisterSession `json:"session"`
	}
	decodeBody(t, rec, &current)
	if current.Session.ID != session.ID {
		t.Fatalf("expected current session %d, got %d", session.ID, current.Session.ID)
	}
}

func TestRefundRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)
	session := openRegister(t, api, token, 1)

	rec := createSale(t, api, token, session.ID, 102, 2)
	expectStatus(t, rec, http.StatusCreated)
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	path := fmt.Sprintf("/api/v1/sales/%d/refund", created.Sale.ID)

	refund := map[string]any{
		"reason":        "customer changed mind",
		"refund_method": "CASH",
		"refund_amount": "20.00",
		"manager_pin":   "000000",
	}
	rec = doRequest(t, api, http.MethodPost, path, token, refund)
	expectStatus(t, rec, http.StatusForbidden)

	refund["manager_pin"] = testManagerPIN
	rec = doRequest(t, api, http.MethodPost, path, token, refund)
	expectStatus(t, rec, http.StatusOK)
	var resp domain.RefundResponse
	decodeBody(t, rec, &resp)
	if resp.Status != domain.SaleStatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", resp.Status)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stock?variant_id=102&store_id=1", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var level struct {
		Item domain.StockItem `json:"item"`
	}
	decodeBody(t, rec, &level)
	if level.Item.QtyOnHand != 25 {
		t.Fatalf("expected stock restored to 25, got %d", level.Item.QtyOnHand)
	}

	rec = doRequest(t, api, http.MethodPost, path, token, refund)
	expectStatus(t, rec, http.StatusConflict)
}

func TestRefundRequiresPermission(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, domain.PermSaleCreate, domain.PermSaleRead)

	rec := doRequest(t, api, http.MethodPost, "/api/v1/sales/1/refund", token, map[string]any{
		"reason": "x", "refund_method": "CASH", "refund_amount": "1", "manager_pin": testManagerPIN,
	})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestPurchaseOrderFlow(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)

	rec := doRequest(t, api, http.MethodPost, "/api/v1/suppliers", token, domain.SupplierCreateRequest{Name: "Northwind"})
	expectStatus(t, rec, http.StatusCreated)
	var supplierBody struct {
		Supplier domain.Supplier `json:"supplier"`
	}
	decodeBody(t, rec, &supplierBody)

	rec = doRequest(t, api, http.MethodPost, "/api/v1/purchase-orders", token, map[string]any{
		"supplier_id": supplierBody.Supplier.ID,
		"store_id":    1,
		"items": []map[string]any{
			{"variant_id": 103, "qty": 10, "cost": "2.50"},
		},
	})
	expectStatus(t, rec, http.StatusCreated)
	var created struct {
		PurchaseOrder domain.PurchaseOrder `json:"purchase_order"`
	}
	decodeBody(t, rec, &created)
	po := created.PurchaseOrder
	if po.Status != domain.POStatusDraft || len(po.Items) != 1 {
		t.Fatalf("unexpected purchase order %+v", po)
	}

	rec = doRequest(t, api, http.MethodPost, fmt.Sprintf("/api/v1/purchase-orders/%d/status", po.ID), token, map[string]any{"status": "SENT"})
	expectStatus(t, rec, http.StatusOK)

	rec = doRequest(t, api, http.MethodPost, fmt.Sprintf("/api/v1/purchase-orders/%d/receive", po.ID), token, map[string]any{
		"items": []map[string]any{{"item_id": po.Items[0].ID, "received_qty": 10}},
	})
	expectStatus(t, rec, http.StatusOK)
	var received struct {
		PurchaseOrder domain.PurchaseOrder `json:"purchase_order"`
	}
	decodeBody(t, rec, &received)
	if received.PurchaseOrder.Status != domain.POStatusReceived {
		t.Fatalf("expected RECEIVED, got %s", received.PurchaseOrder.Status)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stock?variant_id=103&store_id=1", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var level struct {
		Item domain.StockItem `json:"item"`
	}
	decodeBody(t, rec, &level)
	if level.Item.QtyOnHand != 18 {
		t.Fatalf("expected 18 on hand after receipt, got %d", level.Item.QtyOnHand)
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/purchase-orders?status=received", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var list domain.PurchaseOrderListResponse
	decodeBody(t, rec, &list)
	if len(list.PurchaseOrders) != 1 {
		t.Fatalf("expected 1 received purchase order, got %d", len(list.PurchaseOrders))
	}

	rec = doRequest(t, api, http.MethodGet, "/api/v1/purchase-orders/abc", token, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doRequest(t, api, http.MethodGet, "/api/v1/purchase-orders/999", token, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)

	rec := doRequest(t, api, http.MethodDelete, "/api/v1/sales", token, nil)
	expectStatus(t, rec, http.StatusMethodNotAllowed)
}

func TestStockMovesRejectsUnknownReason(t *testing.T) {
	api := newTestAPI(t)
	token := adminToken(t, api)

	rec := doRequest(t, api, http.MethodGet, "/api/v1/stock/moves?reason=shrinkage", token, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doRequest(t, api, http.MethodGet, "/api/v1/stock/moves?reason=sale", token, nil)
	expectStatus(t, rec, http.StatusOK)
}
