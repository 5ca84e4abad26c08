package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pantrylab/pantryd/internal/pantry"
)

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

type rawRequest struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	return doRawRequest(t, server, rawRequest{method: r.method, path: r.path, headers: r.headers, body: bodyBytes})
}

func doRawRequest(t *testing.T, server http.Handler, r rawRequest) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(r.body))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(pantry.NewStore(), NewHub())
}

func joinViaHTTP(t *testing.T, server *Server, workspaceID string) string {
	t.Helper()
	resp := doRequest(t, server, request{method: http.MethodPost, path: "/workspace/" + workspaceID + "/join"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on join, got %d (%s)", resp.Code, resp.Body.String())
	}
	var join pantry.JoinResponse
	if err := json.NewDecoder(resp.Body).Decode(&join); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if join.ClientToken == "" || !join.CanAccess {
		t.Fatalf("unexpected join response: %+v", join)
	}
	return join.ClientToken
}

func authHeaders(workspaceID, token string) map[string]string {
	return map[string]string{
		"X-Workspace-Id": workspaceID,
		"X-Client-Token": token,
	}
}

func TestHealth(t *testing.T) {
	server := newTestServer(t)
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	server := newTestServer(t)
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/products"})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (%s)", resp.Code, resp.Body.String())
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] == nil {
		t.Fatalf("expected error key in payload, got %v", payload)
	}
}

func TestBadTokenForbidden(t *testing.T) {
	server := newTestServer(t)
	joinViaHTTP(t, server, "ws1")

	resp := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/products",
		headers: authHeaders("ws1", "bogus"),
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestUnknownWorkspaceNotFound(t *testing.T) {
	server := newTestServer(t)
	resp := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/products",
		headers: authHeaders("ghost", "tok"),
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestJoinFullWorkspace(t *testing.T) {
	store := pantry.NewStoreWithOptions(pantry.StoreOptions{MaxClients: 1})
	server := NewServer(store, NewHub())
	joinViaHTTP(t, server, "ws1")

	resp := doRequest(t, server, request{method: http.MethodPost, path: "/workspace/ws1/join"})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when full, got %d (%s)", resp.Code, resp.Body.String())
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if access, ok := payload["can_access"].(bool); !ok || access {
		t.Fatalf("expected can_access=false, got %v", payload)
	}
}

func TestWorkspaceMismatchForbidden(t *testing.T) {
	server := newTestServer(t)
	token := joinViaHTTP(t, server, "ws1")

	resp := doRequest(t, server, request{
		method:  http.MethodGet,
		path:    "/workspace/ws2/state",
		headers: authHeaders("ws1", token),
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on workspace mismatch, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestCredentialsViaQueryParams(t *testing.T) {
	server := newTestServer(t)
	token := joinViaHTTP(t, server, "ws1")

	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/products?workspace_id=ws1&client_token=" + token,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with query credentials, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestProductLifecycle(t *testing.T) {
	server := newTestServer(t)
	token := joinViaHTTP(t, server, "ws1")
	headers := authHeaders("ws1", token)

	createResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/products",
		headers: headers,
		body:    map[string]any{"name": "Milk", "category": "dairy"},
	})
	if createResp.Code != http.StatusCreated {
		t.Fatalf("expected 201 on create, got %d (%s)", createResp.Code, createResp.Body.String())
	}
	var product pantry.Product
	if err := json.NewDecoder(createResp.Body).Decode(&product); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if product.ID == "" || product.Category != "Dairy" {
		t.Fatalf("unexpected product: %+v", product)
	}

	patchResp := doRequest(t, server, request{
		method:  http.MethodPatch,
		path:    "/products/" + product.ID,
		headers: headers,
		body:    map[string]any{"in_stock": true},
	})
	if patchResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on patch, got %d (%s)", patchResp.Code, patchResp.Body.String())
	}
	var patched pantry.Product
	if err := json.NewDecoder(patchResp.Body).Decode(&patched); err != nil {
		t.Fatalf("decode patched product: %v", err)
	}
	if !patched.InStock || patched.Name != "Milk" {
		t.Fatalf("unexpected patched product: %+v", patched)
	}

	listResp := doRequest(t, server, request{method: http.MethodGet, path: "/products", headers: headers})
	if listResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on list, got %d", listResp.Code)
	}
	var listing struct {
		Products []pantry.Product `json:"products"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(listing.Products))
	}

	deleteResp := doRequest(t, server, request{
		method:  http.MethodDelete,
		path:    "/products/" + product.ID,
		headers: headers,
	})
	if deleteResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d (%s)", deleteResp.Code, deleteResp.Body.String())
	}

	missingResp := doRequest(t, server, request{
		method:  http.MethodDelete,
		path:    "/products/" + product.ID,
		headers: headers,
	})
	if missingResp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on repeat delete, got %d", missingResp.Code)
	}
}

func TestProductValidationRejected(t *testing.T) {
	server := newTestServer(t)
	token := joinViaHTTP(t, server, "ws1")
	headers := authHeaders("ws1", token)

	cases := []map[string]any{
		{},                           // name missing
		{"name": ""},                 // name empty
		{"name": "Milk", "oops": 1},  // unknown field
		{"name": "Milk", "unit": 42}, // wrong type
	}
	for i, body := range cases {
		resp := doRequest(t, server, request{method: http.MethodPost, path: "/products", headers: headers, body: body})
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d (%s)", i, resp.Code, resp.Body.String())
		}
	}

	malformed := doRawRequest(t, server, rawRequest{
		method:  http.MethodPost,
		path:    "/products",
		headers: headers,
		body:    []byte("{not json"),
	})
	if malformed.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", malformed.Code)
	}
}

func TestRecipeLifecycleHTTP(t *testing.T) {
	server := newTestServer(t)
	token := joinViaHTTP(t, server, "ws1")
	headers := authHeaders("ws1", token)

	createResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/recipes",
		headers: headers,
		body:    map[string]any{"name": "Omelette", "product_ids": []any{"p1"}},
	})
	if createResp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", createResp.Code, createResp.Body.String())
	}
	var recipe pantry.Recipe
	if err := json.NewDecoder(createResp.Body).Decode(&recipe); err != nil {
		t.Fatalf("decode recipe: %v", err)
	}

	patchResp := doRequest(t, server, request{
		method:  http.MethodPatch,
		path:    "/recipes/" + recipe.ID,
		headers: headers,
		body:    map[string]any{"notes": "whisk first"},
	})
	if patchResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", patchResp.Code, patchResp.Body.String())
	}

	deleteResp := doRequest(t, server, request{
		method:  http.MethodDelete,
		path:    "/recipes/" + recipe.ID,
		headers: headers,
	})
	if deleteResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", deleteResp.Code)
	}
}

func TestBaseBasketAndInitBasket(t *testing.T) {
	server := newTestServer(t)
	token := joinViaHTTP(t, server, "ws1")
	headers := authHeaders("ws1", token)

	putResp := doRawRequest(t, server, rawRequest{
		method:  http.MethodPut,
		path:    "/workspace/ws1/base-basket",
		headers: headers,
		body:    []byte(`[{"name": "Milk", "category": "dairy"}, {"name": "Bread", "category": "bakery"}]`),
	})
	if putResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on put, got %d (%s)", putResp.Code, putResp.Body.String())
	}

	getResp := doRequest(t, server, request{method: http.MethodGet, path: "/workspace/ws1/base-basket", headers: headers})
	if getResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", getResp.Code)
	}
	var basket struct {
		BaseBasket []pantry.BasketEntry `json:"base_basket"`
	}
	if err := json.NewDecoder(getResp.Body).Decode(&basket); err != nil {
		t.Fatalf("decode basket: %v", err)
	}
	if len(basket.BaseBasket) != 2 || basket.BaseBasket[0].Category != "Dairy" {
		t.Fatalf("unexpected basket: %+v", basket.BaseBasket)
	}

	initResp := doRequest(t, server, request{method: http.MethodPost, path: "/workspace/ws1/init-basket", headers: headers})
	if initResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on init, got %d (%s)", initResp.Code, initResp.Body.String())
	}
	var seeded struct {
		Added []pantry.Product `json:"added"`
	}
	if err := json.NewDecoder(initResp.Body).Decode(&seeded); err != nil {
		t.Fatalf("decode init response: %v", err)
	}
	if len(seeded.Added) != 2 {
		t.Fatalf("expected 2 seeded products, got %d", len(seeded.Added))
	}

	repeatResp := doRequest(t, server, request{method: http.MethodPost, path: "/workspace/ws1/init-basket", headers: headers})
	if repeatResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat init, got %d", repeatResp.Code)
	}
	var repeat struct {
		Added []pantry.Product `json:"added"`
	}
	if err := json.NewDecoder(repeatResp.Body).Decode(&repeat); err != nil {
		t.Fatalf("decode repeat response: %v", err)
	}
	if len(repeat.Added) != 0 {
		t.Fatalf("repeat init should add nothing, got %d", len(repeat.Added))
	}

	badPut := doRawRequest(t, server, rawRequest{
		method:  http.MethodPut,
		path:    "/workspace/ws1/base-basket",
		headers: headers,
		body:    []byte(`{"name": "not an array"}`),
	})
	if badPut.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-array body, got %d", badPut.Code)
	}
}

func TestPriceEndpoints(t *testing.T) {
	server := newTestServer(t)
	token := joinViaHTTP(t, server, "ws1")
	headers := authHeaders("ws1", token)

	setResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/prices",
		headers: headers,
		body:    map[string]any{"product_name": "Milk", "price": 50, "store_id": "store1"},
	})
	if setResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on set, got %d (%s)", setResp.Code, setResp.Body.String())
	}
	if resp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/prices",
		headers: headers,
		body:    map[string]any{"product_name": "Milk", "price": 40, "store_id": "store2"},
	}); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on second set, got %d", resp.Code)
	}

	getResp := doRequest(t, server, request{method: http.MethodGet, path: "/prices/milk", headers: headers})
	if getResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d (%s)", getResp.Code, getResp.Body.String())
	}
	var record pantry.PriceRecord
	if err := json.NewDecoder(getResp.Body).Decode(&record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.BestPrice == nil || *record.BestPrice != 40 || record.BestStore == nil || *record.BestStore != "store2" {
		t.Fatalf("unexpected best price: %+v", record)
	}

	queryResp := doRequest(t, server, request{method: http.MethodGet, path: "/prices?q=milk", headers: headers})
	if queryResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on query, got %d", queryResp.Code)
	}
	var listing struct {
		Prices map[string]pantry.PriceRecord `json:"prices"`
	}
	if err := json.NewDecoder(queryResp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Prices) != 1 {
		t.Fatalf("expected 1 matching record, got %d", len(listing.Prices))
	}

	deleteResp := doRequest(t, server, request{
		method:  http.MethodDelete,
		path:    "/prices/milk?store_id=store2",
		headers: headers,
	})
	if deleteResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d (%s)", deleteResp.Code, deleteResp.Body.String())
	}
	afterResp := doRequest(t, server, request{method: http.MethodGet, path: "/prices/milk", headers: headers})
	var after pantry.PriceRecord
	if err := json.NewDecoder(afterResp.Body).Decode(&after); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if after.BestPrice == nil || *after.BestPrice != 50 {
		t.Fatalf("best price should revert to 50, got %v", after.BestPrice)
	}

	unknownStore := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/prices",
		headers: headers,
		body:    map[string]any{"product_name": "Milk", "price": 10, "store_id": "nonexistent"},
	})
	if unknownStore.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown store, got %d (%s)", unknownStore.Code, unknownStore.Body.String())
	}
	badPrice := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/prices",
		headers: headers,
		body:    map[string]any{"product_name": "Milk", "price": 0},
	})
	if badPrice.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero price, got %d", badPrice.Code)
	}
}

func TestCategoriesAndStoresPublic(t *testing.T) {
	server := newTestServer(t)

	catResp := doRequest(t, server, request{method: http.MethodGet, path: "/categories"})
	if catResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on categories, got %d", catResp.Code)
	}
	var categories struct {
		Categories []pantry.Category `json:"categories"`
	}
	if err := json.NewDecoder(catResp.Body).Decode(&categories); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(categories.Categories) == 0 {
		t.Fatalf("expected non-empty category list")
	}

	storeResp := doRequest(t, server, request{method: http.MethodGet, path: "/stores"})
	if storeResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on stores, got %d", storeResp.Code)
	}
	var stores struct {
		Stores []pantry.RetailStore `json:"stores"`
	}
	if err := json.NewDecoder(storeResp.Body).Decode(&stores); err != nil {
		t.Fatalf("decode stores: %v", err)
	}
	if len(stores.Stores) != 3 {
		t.Fatalf("expected 3 built-in stores, got %d", len(stores.Stores))
	}
}

func TestExportRoundTrip(t *testing.T) {
	server := newTestServer(t)
	token := joinViaHTTP(t, server, "ws1")
	headers := authHeaders("ws1", token)

	createResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/products",
		headers: headers,
		body:    map[string]any{"name": "Milk", "category": "dairy"},
	})
	var product pantry.Product
	if err := json.NewDecoder(createResp.Body).Decode(&product); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/prices",
		headers: headers,
		body:    map[string]any{"product_name": "Milk", "price": 50},
	})
	doRequest(t, server, request{
		method:  http.MethodDelete,
		path:    "/products/" + product.ID,
		headers: headers,
	})

	exportResp := doRequest(t, server, request{method: http.MethodGet, path: "/export/json", headers: headers})
	if exportResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on export, got %d (%s)", exportResp.Code, exportResp.Body.String())
	}
	var export pantry.WorkspaceExport
	if err := json.NewDecoder(exportResp.Body).Decode(&export); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(export.Products) != 0 {
		t.Fatalf("deleted product should not appear in the export, got %+v", export.Products)
	}
	// Prices outlive the product they describe.
	if _, ok := export.Prices["milk"]; !ok {
		t.Fatalf("expected milk price in export, got %v", export.Prices)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(t)
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/nope"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	store := pantry.NewStore()
	server := NewServerWithConfig(store, NewHub(), ServerConfig{MaxBodyBytes: 64})
	token := joinViaHTTP(t, server, "ws1")

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'a'
	}
	resp := doRawRequest(t, server, rawRequest{
		method:  http.MethodPost,
		path:    "/products",
		headers: authHeaders("ws1", token),
		body:    append([]byte(`{"name": "`), append(big, []byte(`"}`)...)...),
	})
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%s)", resp.Code, resp.Body.String())
	}
}
