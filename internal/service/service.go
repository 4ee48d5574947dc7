package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/checkout"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/store"
)

var errUserRequired = errors.New("user_id required")

type Service struct {
	store    store.Store
	checkout Checkouter
}

func NewService(s store.Store, c Checkouter) *Service {
	return &Service{store: s, checkout: c}
}

type NewProduct struct {
	Name        string
	Code        string
	Description string
	Price       float64
	Stock       int
}

func (s *Service) CreateProduct(ctx context.Context, in NewProduct) (int64, error) {
	if in.Name == "" {
		return 0, errors.New("name required")
	}
	if in.Price < 0 {
		return 0, errors.New("price must be >= 0")
	}
	if in.Stock < 0 {
		return 0, errors.New("stock must be >= 0")
	}
	return s.store.CreateProduct(ctx, store.ProductRow{
		Name:        in.Name,
		Code:        nullString(in.Code),
		Description: nullString(in.Description),
		Price:       in.Price,
		Stock:       in.Stock,
	})
}

func (s *Service) ListProducts(ctx context.Context) ([]ProductDTO, error) {
	rows, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProductDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, productDTO(r))
	}
	return out, nil
}

func (s *Service) UpdateStock(ctx context.Context, productID int64, newStock int) error {
	if newStock < 0 {
		return errors.New("stock cannot be negative")
	}
	return s.store.UpdateStock(ctx, productID, newStock)
}

func (s *Service) SaveAccount(ctx context.Context, userID, name, email string) error {
	if userID == "" {
		return errUserRequired
	}
	if email != "" && !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	return s.store.UpsertAccount(ctx, models.Account{ID: userID, Name: name, Email: email})
}

func (s *Service) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	if userID == "" {
		return models.Account{}, errUserRequired
	}
	return s.store.GetAccount(ctx, userID)
}

func (s *Service) AddToCart(ctx context.Context, userID string, item models.LineItem) error {
	if userID == "" {
		return errUserRequired
	}
	if item.ItemRef == "" {
		return errors.New("item_ref required")
	}
	if item.Quantity <= 0 {
		return &models.InvalidQuantityError{ItemRef: item.ItemRef, Quantity: item.Quantity}
	}
	return s.store.AddToCart(ctx, userID, item)
}

func (s *Service) RemoveFromCart(ctx context.Context, userID, itemRef string) error {
	if userID == "" {
		return errUserRequired
	}
	return s.store.RemoveFromCart(ctx, userID, itemRef)
}

// GetCart prices the cart against the current catalog.
func (s *Service) GetCart(ctx context.Context, userID string) ([]CartDTO, float64, error) {
	if userID == "" {
		return nil, 0, errUserRequired
	}
	rows, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	// need product prices; for simplicity, call ListProducts and match refs
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total float64
	out := make([]CartDTO, 0, len(rows))
	for _, r := range rows {
		p, ok := matchProduct(products, r.ItemRef)
		if !ok {
			return nil, 0, &models.NotFoundError{ItemRef: r.ItemRef}
		}
		out = append(out, CartDTO{ItemRef: r.ItemRef, ProductID: p.ID, Name: p.Name, Quantity: r.Quantity, Price: p.Price})
		total += p.Price * float64(r.Quantity)
	}
	return out, total, nil
}

// Checkout places an order for items, or for the stored cart when items is
// nil.
func (s *Service) Checkout(ctx context.Context, userID string, items []models.LineItem, summary json.RawMessage) (OrderDTO, error) {
	if userID == "" {
		return OrderDTO{}, errUserRequired
	}
	if items == nil {
		rows, err := s.store.GetCart(ctx, userID)
		if err != nil {
			return OrderDTO{}, err
		}
		items = make([]models.LineItem, 0, len(rows))
		for _, r := range rows {
			items = append(items, models.LineItem{ItemRef: r.ItemRef, Quantity: r.Quantity})
		}
	}

	res, err := s.checkout.Checkout(ctx, checkout.Request{BuyerID: userID, Items: items, Summary: summary})
	if err != nil {
		return OrderDTO{}, err
	}
	od := orderDTO(res.Order)
	od.Attempts = res.Attempts
	return od, nil
}

// GetOrder returns one of the buyer's orders; other buyers' orders read as
// not found.
func (s *Service) GetOrder(ctx context.Context, userID string, orderID int64) (OrderDTO, error) {
	if userID == "" {
		return OrderDTO{}, errUserRequired
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return OrderDTO{}, err
	}
	if o.BuyerID != userID {
		return OrderDTO{}, models.ErrOrderNotFound
	}
	return orderDTO(o), nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]models.OrderRef, error) {
	if userID == "" {
		return nil, errUserRequired
	}
	return s.store.ListOrders(ctx, userID)
}

// matchProduct applies the checkout lookup order to an in-memory catalog.
func matchProduct(products []store.ProductRow, ref string) (store.ProductRow, bool) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		for _, p := range products {
			if p.ID == id {
				return p, true
			}
		}
	}
	for _, p := range products {
		if p.Code.Valid && p.Code.String == ref {
			return p, true
		}
	}
	for _, p := range products {
		if p.Name == ref {
			return p, true
		}
	}
	return store.ProductRow{}, false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func productDTO(r store.ProductRow) ProductDTO {
	return ProductDTO{
		ID:          r.ID,
		Name:        r.Name,
		Code:        r.Code.String,
		Description: r.Description.String,
		Price:       r.Price,
		Stock:       r.Stock,
		CreatedAt:   r.CreatedAt,
	}
}

func orderDTO(o models.Order) OrderDTO {
	return OrderDTO{
		ID:        o.ID,
		UserID:    o.BuyerID,
		Items:     o.Items,
		Summary:   o.Summary,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
	}
}

// DTOs
type ProductDTO struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code,omitempty"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
}

type CartDTO struct {
	ItemRef   string  `json:"item_ref"`
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type OrderDTO struct {
	ID        int64             `json:"id"`
	UserID    string            `json:"user_id"`
	Items     []models.LineItem `json:"items"`
	Summary   json.RawMessage   `json:"summary"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	Attempts  int               `json:"attempts,omitempty"`
}
