package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/metrics"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/service"
)

type fakeService struct {
	CreateProductFn  func(in service.NewProduct) (int64, error)
	ListProductsFn   func() ([]service.ProductDTO, error)
	UpdateStockFn    func(productID int64, newStock int) error
	SaveAccountFn    func(userID, name, email string) error
	GetAccountFn     func(userID string) (models.Account, error)
	AddToCartFn      func(userID string, item models.LineItem) error
	RemoveFromCartFn func(userID, itemRef string) error
	GetCartFn        func(userID string) ([]service.CartDTO, float64, error)
	CheckoutFn       func(userID string, items []models.LineItem, summary json.RawMessage) (service.OrderDTO, error)
	GetOrderFn       func(userID string, orderID int64) (service.OrderDTO, error)
	ListOrdersFn     func(userID string) ([]models.OrderRef, error)
}

func (f *fakeService) CreateProduct(_ context.Context, in service.NewProduct) (int64, error) {
	return f.CreateProductFn(in)
}
func (f *fakeService) ListProducts(context.Context) ([]service.ProductDTO, error) {
	return f.ListProductsFn()
}
func (f *fakeService) UpdateStock(_ context.Context, productID int64, newStock int) error {
	return f.UpdateStockFn(productID, newStock)
}
func (f *fakeService) SaveAccount(_ context.Context, userID, name, email string) error {
	return f.SaveAccountFn(userID, name, email)
}
func (f *fakeService) GetAccount(_ context.Context, userID string) (models.Account, error) {
	return f.GetAccountFn(userID)
}
func (f *fakeService) AddToCart(_ context.Context, userID string, item models.LineItem) error {
	return f.AddToCartFn(userID, item)
}
func (f *fakeService) RemoveFromCart(_ context.Context, userID, itemRef string) error {
	return f.RemoveFromCartFn(userID, itemRef)
}
func (f *fakeService) GetCart(_ context.Context, userID string) ([]service.CartDTO, float64, error) {
	return f.GetCartFn(userID)
}
func (f *fakeService) Checkout(_ context.Context, userID string, items []models.LineItem, summary json.RawMessage) (service.OrderDTO, error) {
	return f.CheckoutFn(userID, items, summary)
}
func (f *fakeService) GetOrder(_ context.Context, userID string, orderID int64) (service.OrderDTO, error) {
	return f.GetOrderFn(userID, orderID)
}
func (f *fakeService) ListOrders(_ context.Context, userID string) ([]models.OrderRef, error) {
	return f.ListOrdersFn(userID)
}

type memIdempotency struct {
	mu       sync.Mutex
	keys     map[string]bool
	err      error
	released []string
}

func (m *memIdempotency) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	seen := m.keys[key]
	m.keys[key] = true
	return seen, nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(svc service.ServiceInterface, opts ...Option) *mux.Router {
	r := mux.NewRouter()
	NewHandler(quietLogger(), svc, opts...).RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path, user, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestIdentityRequired(t *testing.T) {
	r := newRouter(&fakeService{})

	for _, tc := range []struct{ method, path string }{
		{"GET", "/cart/list"},
		{"POST", "/cart/add"},
		{"POST", "/checkout/order"},
		{"GET", "/orders"},
		{"GET", "/orders/1"},
		{"GET", "/account"},
	} {
		rec := do(t, r, tc.method, tc.path, "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
		assert.Equal(t, "UNAUTHORIZED", errBody(t, rec)["code"], tc.path)
	}
}

func TestCreateProduct(t *testing.T) {
	var got service.NewProduct
	r := newRouter(&fakeService{CreateProductFn: func(in service.NewProduct) (int64, error) {
		got = in
		return 9, nil
	}})

	rec := do(t, r, "POST", "/products", "", `{"name":"Rice","code":"SKU-R","price":1.5,"stock":20}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":9}`, rec.Body.String())
	assert.Equal(t, service.NewProduct{Name: "Rice", Code: "SKU-R", Price: 1.5, Stock: 20}, got)

	rec = do(t, r, "POST", "/products", "", `{"price":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, r, "POST", "/products", "", `{"name":"x","stock":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, r, "POST", "/products", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStockNotFound(t *testing.T) {
	r := newRouter(&fakeService{UpdateStockFn: func(int64, int) error { return sql.ErrNoRows }})

	rec := do(t, r, "POST", "/products/stock", "", `{"product_id":4,"new_stock":2}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errBody(t, rec)["code"])
}

func TestAddToCartDecodesLegacyFields(t *testing.T) {
	var got models.LineItem
	var gotUser string
	r := newRouter(&fakeService{AddToCartFn: func(userID string, item models.LineItem) error {
		gotUser, got = userID, item
		return nil
	}})

	rec := do(t, r, "POST", "/cart/add", "buyer-1", `{"product_id":12,"qty":"3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "buyer-1", gotUser)
	assert.Equal(t, models.LineItem{ItemRef: "12", Quantity: 3}, got)

	rec = do(t, r, "POST", "/cart/add", "buyer-1", `{"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCart(t *testing.T) {
	r := newRouter(&fakeService{GetCartFn: func(userID string) ([]service.CartDTO, float64, error) {
		return []service.CartDTO{{ItemRef: "1", ProductID: 1, Name: "Rice", Quantity: 2, Price: 1.5}}, 3, nil
	}})

	rec := do(t, r, "GET", "/cart/list", "buyer-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID string            `json:"user_id"`
		Items  []service.CartDTO `json:"items"`
		Total  float64           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "buyer-1", body.UserID)
	assert.Len(t, body.Items, 1)
	assert.Equal(t, 3.0, body.Total)
}

func TestCheckoutForwardsItemsAndSummary(t *testing.T) {
	var (
		gotItems   []models.LineItem
		gotSummary json.RawMessage
	)
	r := newRouter(&fakeService{CheckoutFn: func(userID string, items []models.LineItem, summary json.RawMessage) (service.OrderDTO, error) {
		gotItems, gotSummary = items, summary
		return service.OrderDTO{ID: 5, UserID: userID, Items: items, Summary: summary, Status: "confirmed", Attempts: 1}, nil
	}})

	body := `{"items":[{"item_ref":"P1","quantity":2},{"product_id":7,"count":1}],"summary":{"total":"9.90","payment_method":"card"}}`
	rec := do(t, r, "POST", "/checkout/order", "buyer-1", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []models.LineItem{{ItemRef: "P1", Quantity: 2}, {ItemRef: "7", Quantity: 1}}, gotItems)
	assert.JSONEq(t, `{"total":"9.90","payment_method":"card"}`, string(gotSummary))

	var ord service.OrderDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ord))
	assert.Equal(t, int64(5), ord.ID)
	assert.Equal(t, "confirmed", ord.Status)
}

func TestCheckoutWithoutItemsUsesCart(t *testing.T) {
	called := false
	r := newRouter(&fakeService{CheckoutFn: func(_ string, items []models.LineItem, _ json.RawMessage) (service.OrderDTO, error) {
		called = true
		assert.Nil(t, items)
		return service.OrderDTO{ID: 1}, nil
	}})

	rec := do(t, r, "POST", "/checkout/order", "buyer-1", `{"summary":{"total":"1"}}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, called)
}

func TestCheckoutErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty cart", models.ErrEmptyCart, http.StatusBadRequest, "EMPTY_CART"},
		{"missing summary", models.ErrMissingSummary, http.StatusBadRequest, "MISSING_SUMMARY"},
		{"invalid quantity", &models.InvalidQuantityError{ItemRef: "P1"}, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"not found", &models.NotFoundError{ItemRef: "ghost"}, http.StatusNotFound, "NOT_FOUND"},
		{"insufficient stock", &models.InsufficientStockError{Name: "P1", Available: 5, Requested: 10}, http.StatusConflict, "INSUFFICIENT_STOCK"},
		{"retries exhausted", &models.RetriesExhaustedError{Attempts: 3, Last: &models.TxError{Op: "commit", Retryable: true, Err: errors.New("40001")}}, http.StatusServiceUnavailable, "RETRIES_EXHAUSTED"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "UNKNOWN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(&fakeService{CheckoutFn: func(string, []models.LineItem, json.RawMessage) (service.OrderDTO, error) {
				return service.OrderDTO{}, tc.err
			}})
			rec := do(t, r, "POST", "/checkout/order", "buyer-1", `{"items":[],"summary":{}}`)
			assert.Equal(t, tc.status, rec.Code)
			body := errBody(t, rec)
			assert.Equal(t, tc.code, body["code"])
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestCheckoutIdempotencyKey(t *testing.T) {
	calls := 0
	fail := false
	idem := &memIdempotency{}
	r := newRouter(&fakeService{CheckoutFn: func(string, []models.LineItem, json.RawMessage) (service.OrderDTO, error) {
		calls++
		if fail {
			return service.OrderDTO{}, &models.InsufficientStockError{Name: "P1", Available: 0, Requested: 1}
		}
		return service.OrderDTO{ID: int64(calls)}, nil
	}}, WithIdempotency(idem))

	body := `{"items":[{"item_ref":"P1","quantity":1}],"summary":{}}`
	rec := do(t, r, "POST", "/checkout/order", "buyer-1", body, IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, r, "POST", "/checkout/order", "buyer-1", body, IdempotencyHeader, "k-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE_REQUEST", errBody(t, rec)["code"])
	assert.Equal(t, 1, calls)

	// same key from another buyer is independent
	rec = do(t, r, "POST", "/checkout/order", "buyer-2", body, IdempotencyHeader, "k-1")
	assert.Equal(t, http.StatusCreated, rec.Code)

	// a failed checkout gives its key back
	fail = true
	rec = do(t, r, "POST", "/checkout/order", "buyer-1", body, IdempotencyHeader, "k-2")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, []string{idempotencyKey("buyer-1", "k-2")}, idem.released)
	fail = false
	rec = do(t, r, "POST", "/checkout/order", "buyer-1", body, IdempotencyHeader, "k-2")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCheckoutIdempotencyFailsOpen(t *testing.T) {
	calls := 0
	r := newRouter(&fakeService{CheckoutFn: func(string, []models.LineItem, json.RawMessage) (service.OrderDTO, error) {
		calls++
		return service.OrderDTO{ID: 1}, nil
	}}, WithIdempotency(&memIdempotency{err: errors.New("redis down")}))

	rec := do(t, r, "POST", "/checkout/order", "buyer-1", `{"summary":{}}`, IdempotencyHeader, "k-1")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestGetOrder(t *testing.T) {
	r := newRouter(&fakeService{GetOrderFn: func(userID string, orderID int64) (service.OrderDTO, error) {
		if orderID != 7 {
			return service.OrderDTO{}, models.ErrOrderNotFound
		}
		return service.OrderDTO{ID: 7, UserID: userID}, nil
	}})

	rec := do(t, r, "GET", "/orders/7", "buyer-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, "GET", "/orders/8", "buyer-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// non-numeric ids do not match the route
	rec = do(t, r, "GET", "/orders/abc", "buyer-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveAccount(t *testing.T) {
	var got []string
	r := newRouter(&fakeService{SaveAccountFn: func(userID, name, email string) error {
		got = []string{userID, name, email}
		return nil
	}})

	rec := do(t, r, "POST", "/account", "buyer-1", `{"name":"Ana","email":"ana@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"buyer-1", "Ana", "ana@example.com"}, got)

	rec = do(t, r, "POST", "/account", "buyer-1", `{"email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDAndHealthz(t *testing.T) {
	r := newRouter(&fakeService{})

	rec := do(t, r, "GET", "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(t, r, "GET", "/healthz", "", "", RequestIDHeader, "req-1")
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
}

func TestRoutesRecordMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewServerMetrics(reg)
	r := newRouter(&fakeService{ListProductsFn: func() ([]service.ProductDTO, error) { return nil, nil }}, WithMetrics(m))

	do(t, r, "GET", "/products/list", "", "")
	do(t, r, "GET", "/cart/list", "", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("list_products", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("cart_list", "401")))
}

func TestLineItemDecoding(t *testing.T) {
	cases := []struct {
		in   string
		want models.LineItem
	}{
		{`{"item_ref":"P1","quantity":2}`, models.LineItem{ItemRef: "P1", Quantity: 2}},
		{`{"item_ref":"P1","quantity":"4"}`, models.LineItem{ItemRef: "P1", Quantity: 4}},
		{`{"product_id":3,"qty":1}`, models.LineItem{ItemRef: "3", Quantity: 1}},
		{`{"product_id":"SKU-3","amount":5}`, models.LineItem{ItemRef: "SKU-3", Quantity: 5}},
		// canonical field wins over aliases
		{`{"item_ref":"P1","quantity":2,"qty":9}`, models.LineItem{ItemRef: "P1", Quantity: 2}},
		{`{"item_ref":"P1","qty":3,"count":9}`, models.LineItem{ItemRef: "P1", Quantity: 3}},
		{`{"item_ref":"P1","quantity":null,"count":6}`, models.LineItem{ItemRef: "P1", Quantity: 6}},
		// item_ref wins over product_id
		{`{"item_ref":"P1","product_id":2,"quantity":1}`, models.LineItem{ItemRef: "P1", Quantity: 1}},
		// not a whole number
		{`{"item_ref":"P1","quantity":1.5}`, models.LineItem{ItemRef: "P1"}},
		{`{"item_ref":"P1","quantity":"two"}`, models.LineItem{ItemRef: "P1"}},
		{`{"item_ref":"P1","quantity":true}`, models.LineItem{ItemRef: "P1"}},
		{`{"item_ref":"P1"}`, models.LineItem{ItemRef: "P1"}},
		{`{"item_ref":"P1","quantity":-2}`, models.LineItem{ItemRef: "P1", Quantity: -2}},
	}
	for _, tc := range cases {
		var it lineItem
		require.NoError(t, json.Unmarshal([]byte(tc.in), &it), tc.in)
		assert.Equal(t, tc.want, models.LineItem(it), tc.in)
	}

	var it lineItem
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &it))
	assert.Nil(t, toLineItems(nil))
	assert.Equal(t, []models.LineItem{}, toLineItems([]lineItem{}))
}
