package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradehub/backend/internal/blob"
	"tradehub/backend/internal/cache"
	"tradehub/backend/internal/domain"
	"tradehub/backend/internal/insight"
	"tradehub/backend/internal/service"
	"tradehub/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, insight.NewLocalGenerator(), cache.NoopInsightCache{}, blob.NewMemoryStore(), 10*time.Minute, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, svc)

	return New(svc, auth, "*")
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"email":    "admin@tradehub.local",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in response")
	}
	if body.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %s", body.Role)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"email":    "admin@tradehub.local",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// doJSON fires an authenticated JSON request through the full middleware
// stack, including the CSRF token for mutating methods.
func doJSON(t *testing.T, api *API, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPriceItemsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/price-items", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestPriceItemsListIncludesBreakdown(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/price-items", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		PriceItems []domain.PriceItemView `json:"price_items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.PriceItems) == 0 {
		t.Fatalf("expected seeded price items")
	}
	if !body.PriceItems[0].Breakdown.FinalCost.IsPositive() {
		t.Fatalf("expected cost breakdown on listed items: %+v", body.PriceItems[0].Breakdown)
	}
}

func TestReconciliationForbiddenForRetailer(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsRetailer(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/inventory/reconciliation", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for retailer, got %d", rec.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	retailerToken := loginAsRetailer(t, api)
	adminToken := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/purchase-orders", retailerToken, domain.OrderCreateRequest{
		Lines: []domain.OrderLineRequest{{Model: "55UQ7500", Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Order domain.PurchaseOrder `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	orderID := created.Order.ID

	// Shipping a REQUESTED order jumps the lifecycle and must conflict.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/purchase-orders/"+orderID+"/ship", adminToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("illegal jump: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/purchase-orders/"+orderID+"/approve", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/purchase-orders/consolidate", adminToken, domain.ConsolidateRequest{
		Selections: []domain.ConsolidateSelection{{OrderID: orderID}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("consolidate: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	priceItemID := created.Order.Lines[0].PriceItemID
	rec = doJSON(t, api, http.MethodPost, "/api/v1/purchase-orders/"+orderID+"/receive", adminToken, domain.ReceiveOrderRequest{
		BrandInvoiceID: "LG-INV-42",
		Lines:          []domain.ReceiveLine{{PriceItemID: priceItemID, SerialsText: "SN-A\nSN-B"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("receive: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// The retailer now sees both units in stock.
	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/groups", retailerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("inventory groups: expected 200, got %d", rec.Code)
	}
	var groups struct {
		Groups []domain.InventoryGroup `json:"groups"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&groups); err != nil {
		t.Fatalf("decode groups: %v", err)
	}
	if len(groups.Groups) != 1 || groups.Groups[0].UnitCount != 2 {
		t.Fatalf("expected one group with 2 units, got %+v", groups.Groups)
	}
}

func TestSaleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	adminToken := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/purchase-orders", adminToken, domain.OrderCreateRequest{
		Lines: []domain.OrderLineRequest{{Model: "55UQ7500", Qty: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Order domain.PurchaseOrder `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode order: %v", err)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/purchase-orders/consolidate", adminToken, domain.ConsolidateRequest{
		Selections: []domain.ConsolidateSelection{{OrderID: created.Order.ID}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("consolidate: %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/purchase-orders/"+created.Order.ID+"/receive", adminToken, domain.ReceiveOrderRequest{
		BrandInvoiceID: "LG-INV-77",
		Lines:          []domain.ReceiveLine{{PriceItemID: created.Order.Lines[0].PriceItemID, SerialsText: "SN-SALE-1"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("receive: %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/groups", adminToken, nil)
	var groups struct {
		Groups []domain.InventoryGroup `json:"groups"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&groups); err != nil {
		t.Fatalf("decode groups: %v", err)
	}
	unitID := groups.Groups[0].Units[0].ID

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", adminToken, map[string]any{
		"customer_name": "Walk In",
		"payment_mode":  domain.PaymentUPI,
		"lines":         []map[string]any{{"unit_id": unitID, "selling_price": "52000"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if sale.Sale.InvoiceNumber == "" || sale.Sale.Total.String() != "52000" {
		t.Fatalf("unexpected sale payload: %+v", sale.Sale)
	}
}

func TestInsightReportOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/insights/reports", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/insights/reports", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Reports []domain.InsightReport `json:"reports"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if len(body.Reports) != 1 || body.Reports[0].Summary == "" {
		t.Fatalf("expected one stored report, got %+v", body.Reports)
	}
}

func TestSignupFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	adminToken := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/users/allowed", adminToken, domain.AllowedUserCreateRequest{
		Email:      "newstaff@sharma.local",
		Role:       domain.RoleRetailer,
		RetailerID: "ret-sharma",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("allow-list add: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	payload, _ := json.Marshal(map[string]string{
		"email":    "newstaff@sharma.local",
		"name":     "New Staff",
		"password": "longenough1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signup", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec2 := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec2, req)

	if rec2.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (body: %s)", rec2.Code, rec2.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec2.Body).Decode(&resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if resp.Role != domain.RoleRetailer || resp.RetailerID != "ret-sharma" {
		t.Fatalf("signup response missing allow-list grants: %+v", resp)
	}
}

func loginAsRetailer(t *testing.T, api *API) string {
	t.Helper()
	return loginAs(t, api, "owner@sharma.local", "retailer123")
}

func TestUsersListingAdminOnly(t *testing.T) {
	api := newTestAPI(t)

	admin := loginAsAdmin(t, api)
	rec := doJSON(t, api, http.MethodGet, "/api/v1/users", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Users []domain.User `json:"users"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Users) < 2 {
		t.Fatalf("expected seeded users, got %d", len(body.Users))
	}
	for _, user := range body.Users {
		if user.PasswordHash != "" {
			t.Fatalf("password hash leaked for %s", user.Email)
		}
	}

	retailer := loginAsRetailer(t, api)
	rec = doJSON(t, api, http.MethodGet, "/api/v1/users", retailer, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for retailer, got %d", rec.Code)
	}
}

func TestInventoryGroupsRejectUnknownSortKey(t *testing.T) {
	api := newTestAPI(t)

	admin := loginAsAdmin(t, api)
	rec := doJSON(t, api, http.MethodGet, "/api/v1/inventory/groups?sort=colour", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown sort key, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/groups?sort=unit_cost&dir=desc", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid sort, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
