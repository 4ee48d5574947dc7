package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/metrics"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/service"
)

const (
	// UserHeader is set by the auth layer in front of the service.
	UserHeader      = "X-User-ID"
	RequestIDHeader = "X-Request-ID"

	codeDuplicate    models.ErrorCode = "DUPLICATE_REQUEST"
	codeBadRequest   models.ErrorCode = "BAD_REQUEST"
	codeUnauthorized models.ErrorCode = "UNAUTHORIZED"
)

// Handler is the HTTP layer that talks to service.Service
type Handler struct {
	log     *slog.Logger
	svc     service.ServiceInterface
	idem    Idempotency
	metrics *metrics.ServerMetrics
}

type Option func(*Handler)

// WithIdempotency enables the Idempotency-Key guard on checkout.
func WithIdempotency(i Idempotency) Option {
	return func(h *Handler) { h.idem = i }
}

func WithMetrics(m *metrics.ServerMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler returns a Handler instance
func NewHandler(log *slog.Logger, s service.ServiceInterface, opts ...Option) *Handler {
	h := &Handler{log: log, svc: s}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all routes on the provided router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(requestID)

	// Products
	r.Handle("/products", h.route("create_product", h.CreateProduct)).Methods("POST")
	r.Handle("/products/list", h.route("list_products", h.ListProducts)).Methods("GET")
	r.Handle("/products/stock", h.route("update_stock", h.UpdateStock)).Methods("POST")

	// Account
	r.Handle("/account", h.route("save_account", h.authed(h.SaveAccount))).Methods("POST")
	r.Handle("/account", h.route("get_account", h.authed(h.GetAccount))).Methods("GET")

	// Cart
	r.Handle("/cart/add", h.route("cart_add", h.authed(h.AddToCart))).Methods("POST")
	r.Handle("/cart/remove", h.route("cart_remove", h.authed(h.RemoveFromCart))).Methods("POST")
	r.Handle("/cart/list", h.route("cart_list", h.authed(h.ListCart))).Methods("GET")

	// Checkout and orders
	r.Handle("/checkout/order", h.route("checkout", h.authed(h.Checkout))).Methods("POST")
	r.Handle("/orders", h.route("list_orders", h.authed(h.ListOrders))).Methods("GET")
	r.Handle("/orders/{id:[0-9]+}", h.route("get_order", h.authed(h.GetOrder))).Methods("GET")

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
}

func (h *Handler) route(name string, fn http.HandlerFunc) http.Handler {
	if h.metrics == nil {
		return fn
	}
	return h.metrics.Wrap(name, fn)
}

type ctxKey struct{}

// authed rejects requests without a buyer identity.
func (h *Handler) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeErr(w, http.StatusUnauthorized, codeUnauthorized, UserHeader+" header required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// --- request / response shapes ---
type createProductReq struct {
	Name        string  `json:"name"`
	Code        string  `json:"code,omitempty"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
}

type updateStockReq struct {
	ProductID int64 `json:"product_id"`
	NewStock  int   `json:"new_stock"`
}

type saveAccountReq struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type checkoutReq struct {
	Items   []lineItem      `json:"items"`
	Summary json.RawMessage `json:"summary"`
}

// --- helpers ---
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code models.ErrorCode, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": string(code)})
}

// statusFor maps a service error onto an HTTP status and machine code.
func statusFor(err error) (int, models.ErrorCode) {
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, models.CodeNotFound
	}
	code := models.Code(err)
	switch code {
	case models.CodeEmptyCart, models.CodeMissingSummary, models.CodeInvalidQuantity:
		return http.StatusBadRequest, code
	case models.CodeNotFound:
		return http.StatusNotFound, code
	case models.CodeInsufficientStock:
		return http.StatusConflict, code
	case models.CodeRetriesExhausted, models.CodeTransientTx:
		return http.StatusServiceUnavailable, code
	}
	return http.StatusInternalServerError, code
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", r.URL.Path, "code", code, "err", err)
	}
	writeErr(w, status, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "invalid json")
		return false
	}
	return true
}

// --- Handler ---

// CreateProduct handles POST /products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductReq
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "name is required")
		return
	}
	if req.Price < 0 {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "price must be >= 0")
		return
	}
	if req.Stock < 0 {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "stock must be >= 0")
		return
	}

	id, err := h.svc.CreateProduct(r.Context(), service.NewProduct(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// ListProducts handles GET /products/list
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListProducts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// UpdateStock handles POST /products/stock
// body: { "product_id": 1, "new_stock": 20 }
func (h *Handler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req updateStockReq
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == 0 {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "product_id required")
		return
	}
	if req.NewStock < 0 {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "new_stock must be >= 0")
		return
	}
	if err := h.svc.UpdateStock(r.Context(), req.ProductID, req.NewStock); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SaveAccount handles POST /account
// body: { "name": "...", "email": "..." }
func (h *Handler) SaveAccount(w http.ResponseWriter, r *http.Request) {
	var req saveAccountReq
	if !decode(w, r, &req) {
		return
	}
	if req.Email != "" && !strings.Contains(req.Email, "@") {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "invalid email")
		return
	}
	if err := h.svc.SaveAccount(r.Context(), userID(r), req.Name, req.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// GetAccount handles GET /account
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.GetAccount(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// AddToCart handles POST /cart/add
// body: { "item_ref": "1", "quantity": 2 }
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req lineItem
	if !decode(w, r, &req) {
		return
	}
	if req.ItemRef == "" {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "item_ref is required")
		return
	}
	if err := h.svc.AddToCart(r.Context(), userID(r), models.LineItem(req)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// RemoveFromCart handles POST /cart/remove
// body: { "item_ref": "1" }
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	var req lineItem
	if !decode(w, r, &req) {
		return
	}
	if req.ItemRef == "" {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "item_ref is required")
		return
	}
	if err := h.svc.RemoveFromCart(r.Context(), userID(r), req.ItemRef); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// ListCart handles GET /cart/list
func (h *Handler) ListCart(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	items, total, err := h.svc.GetCart(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user_id": uid, "items": items, "total": total})
}

// Checkout handles POST /checkout/order
// body: { "items": [{"item_ref": "1", "quantity": 2}], "summary": {...} }
// Without items the stored cart is checked out.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decode(w, r, &req) {
		return
	}
	uid := userID(r)

	claimed := ""
	if key := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); key != "" && h.idem != nil {
		k := idempotencyKey(uid, key)
		seen, err := h.idem.Seen(r.Context(), k)
		switch {
		case err != nil:
			h.log.Warn("idempotency check failed; continuing", "buyer_id", uid, "err", err)
		case seen:
			writeErr(w, http.StatusConflict, codeDuplicate, "duplicate request")
			return
		default:
			claimed = k
		}
	}

	ord, err := h.svc.Checkout(r.Context(), uid, toLineItems(req.Items), req.Summary)
	if err != nil {
		if claimed != "" {
			if rerr := h.idem.Release(context.WithoutCancel(r.Context()), claimed); rerr != nil {
				h.log.Warn("release idempotency key", "buyer_id", uid, "err", rerr)
			}
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ord)
}

// ListOrders handles GET /orders
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	refs, err := h.svc.ListOrders(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

// GetOrder handles GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, codeBadRequest, "invalid order id")
		return
	}
	ord, err := h.svc.GetOrder(r.Context(), userID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
