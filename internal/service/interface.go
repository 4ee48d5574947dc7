package service

import (
	"context"
	"encoding/json"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/checkout"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

type ServiceInterface interface {
	CreateProduct(ctx context.Context, in NewProduct) (int64, error)
	ListProducts(ctx context.Context) ([]ProductDTO, error)
	UpdateStock(ctx context.Context, productID int64, newStock int) error

	SaveAccount(ctx context.Context, userID, name, email string) error
	GetAccount(ctx context.Context, userID string) (models.Account, error)

	AddToCart(ctx context.Context, userID string, item models.LineItem) error
	RemoveFromCart(ctx context.Context, userID, itemRef string) error
	GetCart(ctx context.Context, userID string) ([]CartDTO, float64, error)

	Checkout(ctx context.Context, userID string, items []models.LineItem, summary json.RawMessage) (OrderDTO, error)
	GetOrder(ctx context.Context, userID string, orderID int64) (OrderDTO, error)
	ListOrders(ctx context.Context, userID string) ([]models.OrderRef, error)
}

// Checkouter is the checkout engine as seen by the service.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (checkout.Result, error)
}
