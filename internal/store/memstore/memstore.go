// Package memstore is an in-process store.Store. Checkout sessions are fully
// serialized: a session holds the store's single transaction slot from
// BeginCheckout until Commit or Rollback, and its writes stay buffered until
// Commit applies them in one step.
package memstore

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/store"
)

type product struct {
	row store.ProductRow
}

type account struct {
	name, email string
}

type Store struct {
	// slot is the transaction slot; every writer holds it.
	slot chan struct{}

	mu          sync.RWMutex
	products    map[int64]*product
	nextProduct int64
	accounts    map[string]*account
	carts       map[string][]store.CartRow
	orders      map[int64]models.Order
	nextOrder   int64
	history     map[string][]models.OrderRef

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		slot:     make(chan struct{}, 1),
		products: map[int64]*product{},
		accounts: map[string]*account{},
		carts:    map[string][]store.CartRow{},
		orders:   map[int64]models.Order{},
		history:  map[string][]models.OrderRef{},
		now:      time.Now,
	}
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() { <-s.slot }

func (s *Store) Close() error { return nil }

func (s *Store) CreateProduct(ctx context.Context, p store.ProductRow) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	if p.Stock < 0 {
		return 0, errors.New("stock cannot be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Code.Valid {
		for _, existing := range s.products {
			if existing.row.Code.Valid && existing.row.Code.String == p.Code.String {
				return 0, errors.New("product code already exists")
			}
		}
	}
	s.nextProduct++
	p.ID = s.nextProduct
	p.CreatedAt = s.now()
	s.products[p.ID] = &product{row: p}
	return p.ID, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]store.ProductRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ProductRow, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p.row)
	}
	slices.SortFunc(out, func(a, b store.ProductRow) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) UpdateStock(ctx context.Context, productID int64, newStock int) error {
	if newStock < 0 {
		return errors.New("stock cannot be negative")
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return sql.ErrNoRows
	}
	p.row.Stock = newStock
	return nil
}

func (s *Store) GetStock(ctx context.Context, productID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return p.row.Stock, nil
}

func (s *Store) UpsertAccount(ctx context.Context, acc models.Account) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = &account{name: acc.Name, email: acc.Email}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	if !ok {
		return models.Account{}, models.ErrAccountNotFound
	}
	acc := models.Account{ID: userID, Name: a.name, Email: a.email, Cart: []models.LineItem{}}
	for _, c := range s.carts[userID] {
		acc.Cart = append(acc.Cart, models.LineItem{ItemRef: c.ItemRef, Quantity: c.Quantity})
	}
	acc.Orders = slices.Clone(s.history[userID])
	if acc.Orders == nil {
		acc.Orders = []models.OrderRef{}
	}
	return acc, nil
}

func (s *Store) AddToCart(ctx context.Context, userID string, item models.LineItem) error {
	if item.Quantity <= 0 {
		return &models.InvalidQuantityError{ItemRef: item.ItemRef, Quantity: item.Quantity}
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.resolveLocked(item.ItemRef); err != nil {
		return err
	}
	if _, ok := s.accounts[userID]; !ok {
		s.accounts[userID] = &account{}
	}
	cart := s.carts[userID]
	for i := range cart {
		if cart[i].ItemRef == item.ItemRef {
			cart[i].Quantity += item.Quantity
			return nil
		}
	}
	s.carts[userID] = append(cart, store.CartRow{ItemRef: item.ItemRef, Quantity: item.Quantity, AddedAt: s.now()})
	return nil
}

func (s *Store) RemoveFromCart(ctx context.Context, userID, itemRef string) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	cart := s.carts[userID]
	for i := range cart {
		if cart[i].ItemRef == itemRef {
			s.carts[userID] = slices.Delete(cart, i, i+1)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *Store) GetCart(ctx context.Context, userID string) ([]store.CartRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.carts[userID])
	if out == nil {
		out = []store.CartRow{}
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return models.Order{}, models.ErrOrderNotFound
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, userID string) ([]models.OrderRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.history[userID])
	if out == nil {
		out = []models.OrderRef{}
	}
	return out, nil
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// resolveLocked mirrors the Postgres lookup order: primary key, then code,
// then name with the lowest id. Callers hold mu.
func (s *Store) resolveLocked(ref string) (models.StockRecord, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		if p, ok := s.products[id]; ok {
			return stockRecord(p.row), nil
		}
	}
	var byName *product
	for _, p := range s.products {
		if p.row.Code.Valid && p.row.Code.String == ref {
			return stockRecord(p.row), nil
		}
		if p.row.Name == ref && (byName == nil || p.row.ID < byName.row.ID) {
			byName = p
		}
	}
	if byName != nil {
		return stockRecord(byName.row), nil
	}
	return models.StockRecord{}, &models.NotFoundError{ItemRef: ref}
}

func stockRecord(p store.ProductRow) models.StockRecord {
	return models.StockRecord{ID: p.ID, Name: p.Name, Code: p.Code.String, Stock: p.Stock}
}

func (s *Store) BeginCheckout(ctx context.Context) (store.CheckoutSession, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, &models.TxError{Op: "begin", Err: err}
	}
	return &session{s: s, stock: map[int64]int{}}, nil
}

type session struct {
	s    *Store
	done bool

	stock  map[int64]int
	orders []models.Order
	attach *attachment
}

type attachment struct {
	buyerID string
	ref     models.OrderRef
}

var errSessionDone = errors.New("session already finished")

func (t *session) ResolveItem(ctx context.Context, itemRef string) (models.StockRecord, error) {
	if t.done {
		return models.StockRecord{}, &models.TxError{Op: "resolve item", Err: errSessionDone}
	}
	t.s.mu.RLock()
	rec, err := t.s.resolveLocked(itemRef)
	t.s.mu.RUnlock()
	if err != nil {
		return models.StockRecord{}, err
	}
	if staged, ok := t.stock[rec.ID]; ok {
		rec.Stock = staged
	}
	return rec, nil
}

func (t *session) DecrementStock(ctx context.Context, rec models.StockRecord, qty int) (models.StockRecord, error) {
	if t.done {
		return models.StockRecord{}, &models.TxError{Op: "decrement stock", Err: errSessionDone}
	}
	current, ok := t.stock[rec.ID]
	if !ok {
		t.s.mu.RLock()
		p, exists := t.s.products[rec.ID]
		if exists {
			current = p.row.Stock
		}
		t.s.mu.RUnlock()
		if !exists {
			return models.StockRecord{}, &models.NotFoundError{ItemRef: strconv.FormatInt(rec.ID, 10)}
		}
	}
	if current < qty {
		return models.StockRecord{}, &models.InsufficientStockError{Name: rec.Name, Available: current, Requested: qty}
	}
	t.stock[rec.ID] = current - qty
	rec.Stock = current - qty
	return rec, nil
}

func (t *session) CreateOrder(ctx context.Context, buyerID string, items []models.LineItem, summary json.RawMessage) (models.Order, error) {
	if t.done {
		return models.Order{}, &models.TxError{Op: "insert order", Err: errSessionDone}
	}
	t.s.mu.Lock()
	t.s.nextOrder++
	id := t.s.nextOrder
	t.s.mu.Unlock()

	o := models.Order{
		ID:        id,
		BuyerID:   buyerID,
		Items:     slices.Clone(items),
		Summary:   slices.Clone(summary),
		Status:    models.StatusConfirmed,
		CreatedAt: t.s.now().UTC(),
	}
	t.orders = append(t.orders, o)
	return o, nil
}

func (t *session) AttachOrder(ctx context.Context, buyerID string, order models.Order) (models.Account, bool, error) {
	if t.done {
		return models.Account{}, false, &models.TxError{Op: "attach order", Err: errSessionDone}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.accounts[buyerID]
	if !ok {
		return models.Account{ID: buyerID}, false, nil
	}
	t.attach = &attachment{buyerID: buyerID, ref: order.Ref()}
	orders := append(slices.Clone(t.s.history[buyerID]), order.Ref())
	return models.Account{ID: buyerID, Name: a.name, Email: a.email, Cart: []models.LineItem{}, Orders: orders}, true, nil
}

func (t *session) Commit() error {
	if t.done {
		return &models.TxError{Op: "commit", Err: errSessionDone}
	}
	t.done = true
	defer t.s.release()

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stock := range t.stock {
		if p, ok := s.products[id]; ok {
			p.row.Stock = stock
		}
	}
	for _, o := range t.orders {
		s.orders[o.ID] = o
	}
	if t.attach != nil {
		s.history[t.attach.buyerID] = append(s.history[t.attach.buyerID], t.attach.ref)
		delete(s.carts, t.attach.buyerID)
	}
	return nil
}

func (t *session) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.release()
	return nil
}
