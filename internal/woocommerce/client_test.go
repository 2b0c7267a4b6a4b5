package woocommerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"varmatrix/internal/model"
)

// fakeStore is a minimal WooCommerce REST v3 backend.
type fakeStore struct {
	t *testing.T

	mu          sync.Mutex
	product     WooProduct
	variations  []WooVariation
	orders      []WooOrder
	nextID      int64
	rejectAttr  string // option value whose create is rejected
	batchStatus int    // non-zero forces the batch endpoint to fail
	batchCalls  int
	resyncs     int
	requests    []string
}

func newFakeStore(t *testing.T) *fakeStore {
	return &fakeStore{
		t:      t,
		nextID: 1000,
		product: WooProduct{
			ID:   12,
			Name: "Hoodie",
			Type: "variable",
			Attributes: []WooProductAttribute{
				{ID: 3, Name: "Color", Variation: true, Options: []string{"Red", "Blue"}},
				{ID: 0, Name: "Size", Variation: true, Options: []string{"S", "M"}},
			},
		},
		variations: []WooVariation{
			{ID: 40, Status: "publish", Attributes: []WooVariationAttribute{{ID: 3, Name: "Color", Option: "Red"}, {Name: "Size", Option: "S"}}},
		},
	}
}

func (f *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key, secret, ok := r.BasicAuth()
			if !ok || key != "ck_test" || secret != "cs_test" {
				writeWooError(w, http.StatusUnauthorized, "woocommerce_rest_cannot_view", "Sorry, you cannot list resources.")
				return
			}
			f.mu.Lock()
			f.requests = append(f.requests, r.Method+" "+r.URL.Path)
			f.mu.Unlock()
			next(w, r)
		}
	}

	mux.HandleFunc("GET /wp-json/wc/v3/products/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != strconv.FormatInt(f.product.ID, 10) {
			writeWooError(w, http.StatusNotFound, "woocommerce_rest_product_invalid_id", "Invalid ID.")
			return
		}
		writeJSON(w, f.product)
	}))

	mux.HandleFunc("PUT /wp-json/wc/v3/products/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.resyncs++
		f.mu.Unlock()
		writeJSON(w, f.product)
	}))

	mux.HandleFunc("GET /wp-json/wc/v3/products/attributes/{id}/terms", auth(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []WooAttributeTerm{{ID: 1, Name: "Red", Slug: "red"}, {ID: 2, Name: "Blue", Slug: "blue"}})
	}))

	// "/products/attributes/{id}" and "/products/{id}/variations" overlap as
	// ServeMux patterns, so both are served here.
	mux.HandleFunc("GET /wp-json/wc/v3/products/{a}/{b}", auth(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.PathValue("a") == "attributes":
			writeJSON(w, WooAttribute{ID: 3, Name: "Color", Slug: "pa_color"})
		case r.PathValue("b") == "variations":
			f.mu.Lock()
			defer f.mu.Unlock()
			paginate(w, r, f.variations)
		default:
			http.NotFound(w, r)
		}
	}))

	mux.HandleFunc("POST /wp-json/wc/v3/products/{id}/variations", auth(func(w http.ResponseWriter, r *http.Request) {
		var req WooVariationCreate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeWooError(w, http.StatusBadRequest, "rest_invalid_json", err.Error())
			return
		}
		v, ok := f.create(req)
		if !ok {
			writeWooError(w, http.StatusBadRequest, "woocommerce_rest_invalid_option", "Invalid option.")
			return
		}
		writeJSON(w, v)
	}))

	mux.HandleFunc("DELETE /wp-json/wc/v3/products/{id}/variations/{vid}", auth(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("force") != "true" {
			writeWooError(w, http.StatusNotImplemented, "woocommerce_rest_trash_not_supported", "Variations do not support trashing.")
			return
		}
		id, _ := strconv.ParseInt(r.PathValue("vid"), 10, 64)
		if !f.delete(id) {
			writeWooError(w, http.StatusNotFound, "woocommerce_rest_product_variation_invalid_id", "Invalid ID.")
			return
		}
		writeJSON(w, WooVariation{ID: id})
	}))

	mux.HandleFunc("POST /wp-json/wc/v3/products/{id}/variations/batch", auth(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.batchCalls++
		status := f.batchStatus
		f.mu.Unlock()
		if status != 0 {
			writeWooError(w, status, "blocked", "batch blocked")
			return
		}

		var req WooBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeWooError(w, http.StatusBadRequest, "rest_invalid_json", err.Error())
			return
		}

		var resp WooBatchResponse
		for _, c := range req.Create {
			if v, ok := f.create(c); ok {
				resp.Create = append(resp.Create, WooBatchResult{ID: v.ID})
			} else {
				resp.Create = append(resp.Create, WooBatchResult{Error: &WooErrorResponse{Code: "woocommerce_rest_invalid_option", Message: "Invalid option."}})
			}
		}
		for _, id := range req.Delete {
			if f.delete(id) {
				resp.Delete = append(resp.Delete, WooBatchResult{ID: id})
			} else {
				resp.Delete = append(resp.Delete, WooBatchResult{Error: &WooErrorResponse{Code: "woocommerce_rest_product_variation_invalid_id", Message: "Invalid ID."}})
			}
		}
		writeJSON(w, resp)
	}))

	mux.HandleFunc("GET /wp-json/wc/v3/orders", auth(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != "processing,completed" {
			f.t.Errorf("orders status filter = %q", r.URL.Query().Get("status"))
		}
		paginate(w, r, f.orders)
	}))

	return mux
}

func (f *fakeStore) create(req WooVariationCreate) (WooVariation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range req.Attributes {
		if f.rejectAttr != "" && a.Option == f.rejectAttr {
			return WooVariation{}, false
		}
	}
	f.nextID++
	v := WooVariation{ID: f.nextID, Status: req.Status, Attributes: req.Attributes}
	f.variations = append(f.variations, v)
	return v, true
}

func (f *fakeStore) delete(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.variations {
		if v.ID == id {
			f.variations = append(f.variations[:i], f.variations[i+1:]...)
			return true
		}
	}
	return false
}

// paginate serves one page of items and the X-WP-TotalPages header.
func paginate[T any](w http.ResponseWriter, r *http.Request, items []T) {
	size, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if size <= 0 {
		size = 10
	}
	if page <= 0 {
		page = 1
	}
	pages := (len(items) + size - 1) / size
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(pages))
	w.Header().Set("X-WP-Total", strconv.Itoa(len(items)))

	start := (page - 1) * size
	if start > len(items) {
		start = len(items)
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	writeJSON(w, items[start:end])
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeWooError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"code":%q,"message":%q,"data":{"status":%d}}`, code, msg, status)
}

func newTestClient(t *testing.T, store *fakeStore, strategy BatchStrategy) *Client {
	t.Helper()
	srv := httptest.NewServer(store.handler())
	t.Cleanup(srv.Close)

	client, err := New(Config{
		StoreURL:      srv.URL + "/",
		APIKey:        "ck_test",
		APISecret:     "cs_test",
		BatchStrategy: strategy,
		Transport:     srv.Client().Transport,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{APIKey: "k", APISecret: "s"}},
		{"missing key", Config{StoreURL: "https://x", APISecret: "s"}},
		{"unknown strategy", Config{StoreURL: "https://x", APIKey: "k", APISecret: "s", BatchStrategy: "parallel"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	c, err := New(Config{StoreURL: "https://x/", APIKey: "k", APISecret: "s"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.batchStrategy != BatchStrategyMulti {
		t.Errorf("default strategy = %s, want multi", c.batchStrategy)
	}
	if c.storeURL != "https://x" {
		t.Errorf("storeURL = %s, trailing slash should be trimmed", c.storeURL)
	}
}

func TestFetchProductData(t *testing.T) {
	store := newFakeStore(t)
	client := newTestClient(t, store, BatchStrategyMulti)

	data, err := client.FetchProductData(t.Context(), 12)
	if err != nil {
		t.Fatalf("FetchProductData() error = %v", err)
	}

	if data.Name != "Hoodie" {
		t.Errorf("name = %q", data.Name)
	}
	if len(data.Attributes) != 2 || data.Attributes[0].Name != "pa_color" || data.Attributes[1].Name != "size" {
		t.Fatalf("attributes = %+v", data.Attributes)
	}
	if len(data.Variations) != 1 {
		t.Fatalf("variations = %+v", data.Variations)
	}
	v := data.Variations[0]
	if v.Attributes["pa_color"] != "red" || v.Attributes["size"] != "s" {
		t.Errorf("variation attributes = %v", v.Attributes)
	}
}

func TestFetchProductData_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*fakeStore)
		id      int64
		wantErr error
	}{
		{"not found", nil, 99, model.ErrNotFound},
		{"simple product", func(f *fakeStore) { f.product.Type = "simple" }, 12, model.ErrWrongProductType},
		{"no variation attributes", func(f *fakeStore) {
			for i := range f.product.Attributes {
				f.product.Attributes[i].Variation = false
			}
		}, 12, model.ErrNoVariableAttributes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(t)
			if tt.mutate != nil {
				tt.mutate(store)
			}
			client := newTestClient(t, store, BatchStrategyMulti)

			_, err := client.FetchProductData(t.Context(), tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchProductData_BadCredentials(t *testing.T) {
	store := newFakeStore(t)
	srv := httptest.NewServer(store.handler())
	defer srv.Close()

	client, _ := New(Config{StoreURL: srv.URL, APIKey: "ck_wrong", APISecret: "cs_wrong", Transport: srv.Client().Transport})
	_, err := client.FetchProductData(t.Context(), 12)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Errorf("error = %v, want 401 APIError", err)
	}
}

func TestSubmitChangeSet_Strategies(t *testing.T) {
	for _, strategy := range []BatchStrategy{BatchStrategyMulti, BatchStrategySequential} {
		t.Run(string(strategy), func(t *testing.T) {
			store := newFakeStore(t)
			client := newTestClient(t, store, strategy)

			cs := model.ChangeSet{
				Create: []model.VariationDraft{{Attributes: map[string]string{"pa_color": "blue", "size": "m"}}},
				Delete: []int64{40},
			}
			result, err := client.SubmitChangeSet(t.Context(), 12, cs)
			if err != nil {
				t.Fatalf("SubmitChangeSet() error = %v", err)
			}

			if len(result.Created) != 1 || result.Created[0] != 1001 {
				t.Errorf("created = %v, want [1001]", result.Created)
			}
			if len(result.Deleted) != 1 || result.Deleted[0] != 40 {
				t.Errorf("deleted = %v, want [40]", result.Deleted)
			}
			if result.Partial() {
				t.Errorf("unexpected failures: %+v", result.Failures)
			}
			if store.resyncs != 1 {
				t.Errorf("resyncs = %d, want 1", store.resyncs)
			}

			if len(store.variations) != 1 {
				t.Fatalf("store variations = %+v", store.variations)
			}
			created := store.variations[0]
			if created.Status != "publish" {
				t.Errorf("status = %q, want publish", created.Status)
			}
			if created.Attributes[0] != (WooVariationAttribute{ID: 3, Option: "Blue"}) {
				t.Errorf("color attribute = %+v", created.Attributes[0])
			}
			if created.Attributes[1] != (WooVariationAttribute{Name: "Size", Option: "M"}) {
				t.Errorf("size attribute = %+v", created.Attributes[1])
			}

			if strategy == BatchStrategySequential && store.batchCalls != 0 {
				t.Errorf("sequential strategy used batch endpoint %d times", store.batchCalls)
			}
			if strategy == BatchStrategyMulti && store.batchCalls != 1 {
				t.Errorf("batch calls = %d, want 1", store.batchCalls)
			}
		})
	}
}

func TestSubmitChangeSet_PartialFailure(t *testing.T) {
	for _, strategy := range []BatchStrategy{BatchStrategyMulti, BatchStrategySequential} {
		t.Run(string(strategy), func(t *testing.T) {
			store := newFakeStore(t)
			store.rejectAttr = "M"
			client := newTestClient(t, store, strategy)

			cs := model.ChangeSet{
				Create: []model.VariationDraft{
					{Attributes: map[string]string{"pa_color": "blue", "size": "m"}},
					{Attributes: map[string]string{"pa_color": "blue", "size": "s"}},
				},
				Delete: []int64{40, 555},
			}
			result, err := client.SubmitChangeSet(t.Context(), 12, cs)
			if err != nil {
				t.Fatalf("SubmitChangeSet() error = %v", err)
			}

			if len(result.Created) != 1 {
				t.Errorf("created = %v, want one", result.Created)
			}
			if len(result.Deleted) != 1 || result.Deleted[0] != 40 {
				t.Errorf("deleted = %v, want [40]", result.Deleted)
			}
			if len(result.Failures) != 2 {
				t.Fatalf("failures = %+v, want 2", result.Failures)
			}
			if f := result.Failures[0]; f.Operation != model.OperationCreate || f.Attributes["size"] != "m" {
				t.Errorf("create failure = %+v", f)
			}
			if f := result.Failures[1]; f.Operation != model.OperationDelete || f.VariationID != 555 {
				t.Errorf("delete failure = %+v", f)
			}
			if store.resyncs != 1 {
				t.Errorf("resyncs = %d, want 1 after partial success", store.resyncs)
			}
		})
	}
}

func TestSubmitChangeSet_BatchRejected(t *testing.T) {
	store := newFakeStore(t)
	store.batchStatus = http.StatusForbidden
	client := newTestClient(t, store, BatchStrategyMulti)

	_, err := client.SubmitChangeSet(t.Context(), 12, model.ChangeSet{Delete: []int64{40}})
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("error = %v, want unauthorized", err)
	}
	if store.resyncs != 0 {
		t.Error("nothing applied, product must not be re-saved")
	}
}

func TestSubmitChangeSet_Empty(t *testing.T) {
	store := newFakeStore(t)
	client := newTestClient(t, store, BatchStrategyMulti)

	result, err := client.SubmitChangeSet(t.Context(), 12, model.ChangeSet{})
	if err != nil {
		t.Fatalf("SubmitChangeSet() error = %v", err)
	}
	if len(result.Created) != 0 || len(result.Deleted) != 0 {
		t.Errorf("result = %+v", result)
	}
	if len(store.requests) != 0 {
		t.Errorf("empty change set must not reach the store, got %v", store.requests)
	}
}

func TestSubmitChangeSet_RejectsUnknownAttributes(t *testing.T) {
	tests := []struct {
		name  string
		draft map[string]string
	}{
		{"unknown attribute", map[string]string{"pa_bogus": "x"}},
		{"unknown attribute beside known", map[string]string{"pa_color": "red", "pa_bogus": "x"}},
		{"unknown taxonomy term", map[string]string{"pa_color": "not-a-term", "size": "m"}},
		{"unknown custom option", map[string]string{"pa_color": "red", "size": "xxl"}},
		{"no attributes", map[string]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(t)
			client := newTestClient(t, store, BatchStrategyMulti)

			cs := model.ChangeSet{
				Create: []model.VariationDraft{
					{Attributes: map[string]string{"pa_color": "blue", "size": "m"}},
					{Attributes: tt.draft},
				},
				Delete: []int64{40},
			}
			_, err := client.SubmitChangeSet(t.Context(), 12, cs)
			if !errors.Is(err, model.ErrInvalidRequest) {
				t.Fatalf("error = %v, want invalid request", err)
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != "VALIDATION_ERROR" {
				t.Errorf("error = %#v, want VALIDATION_ERROR", err)
			}

			for _, r := range store.requests {
				if !strings.HasPrefix(r, "GET ") {
					t.Errorf("write reached the store: %s", r)
				}
			}
			if store.batchCalls != 0 || store.resyncs != 0 {
				t.Errorf("batch calls = %d, resyncs = %d, want none", store.batchCalls, store.resyncs)
			}
			if len(store.variations) != 1 || store.variations[0].ID != 40 {
				t.Errorf("store variations = %+v, want untouched", store.variations)
			}
		})
	}
}

func TestFetchOrderOverview(t *testing.T) {
	store := newFakeStore(t)
	meta := func(k, v string) WooItemMeta { return WooItemMeta{Key: k, Value: rawString(v)} }
	store.orders = []WooOrder{
		{
			ID: 1, Number: "1", Status: "processing", DateCreatedGMT: "2024-01-01T10:00:00",
			Billing: WooBilling{FirstName: "Ann"},
			LineItems: []WooLineItem{
				{ProductID: 12, VariationID: 40, Quantity: 2, MetaData: []WooItemMeta{meta("pa_color", "red"), meta("size", "s")}},
				{ProductID: 77, Quantity: 1},
			},
		},
		{
			ID: 2, Number: "2", Status: "completed", DateCreatedGMT: "2024-01-02T10:00:00",
			Billing: WooBilling{Email: "bob@example.com"},
			LineItems: []WooLineItem{
				{ProductID: 12, VariationID: 40, Quantity: 0},
			},
		},
	}
	client := newTestClient(t, store, BatchStrategyMulti)

	data, err := client.FetchOrderOverview(t.Context(), 12)
	if err != nil {
		t.Fatalf("FetchOrderOverview() error = %v", err)
	}

	if len(data.Items) != 2 {
		t.Fatalf("items = %+v, want 2 (foreign product skipped)", data.Items)
	}
	first, second := data.Items[0], data.Items[1]
	if first.Customer != "Ann" || first.Quantity != 2 || first.Attributes["pa_color"].Name != "Red" {
		t.Errorf("first = %+v", first)
	}
	if second.Customer != "bob@example.com" || second.StatusLabel != "Completed" {
		t.Errorf("second = %+v", second)
	}
	if second.Attributes["size"].Slug != "s" {
		t.Errorf("second item should fall back to variation attributes, got %+v", second.Attributes)
	}
}

func TestListAll_Paginates(t *testing.T) {
	store := newFakeStore(t)
	for i := 0; i < 250; i++ {
		store.variations = append(store.variations, WooVariation{ID: int64(100 + i)})
	}
	client := newTestClient(t, store, BatchStrategyMulti)

	got, err := listAll[WooVariation](t.Context(), client, "/products/12/variations", nil)
	if err != nil {
		t.Fatalf("listAll() error = %v", err)
	}
	if len(got) != 251 {
		t.Errorf("len = %d, want 251", len(got))
	}

	pages := 0
	for _, r := range store.requests {
		if r == "GET /wp-json/wc/v3/products/12/variations" {
			pages++
		}
	}
	if pages != 3 {
		t.Errorf("pages fetched = %d, want 3", pages)
	}
}

func TestParseErrorResponse(t *testing.T) {
	c := &Client{}
	tests := []struct {
		status int
		body   string
		want   error
		code   int
	}{
		{404, `{"code":"woocommerce_rest_product_invalid_id"}`, model.ErrNotFound, 404},
		{401, `{}`, model.ErrUnauthorized, 401},
		{403, `{}`, model.ErrUnauthorized, 401},
		{400, `{"message":"bad option"}`, model.ErrInvalidRequest, 400},
		{429, `{}`, model.ErrRateLimited, 429},
		{500, `not json`, model.ErrUpstreamError, 502},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			err := c.parseErrorResponse(tt.status, []byte(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var apiErr *model.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", apiErr.StatusCode, tt.code)
			}
		})
	}
}
