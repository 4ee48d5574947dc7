package models

import (
	"encoding/json"
	"time"
)

// OrderStatus is the lifecycle state of an order. Checkout only ever writes
// StatusConfirmed; later transitions belong to fulfilment flows.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusShipped   OrderStatus = "shipped"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// LineItem is one entry of a checkout request. ItemRef is either a product
// primary key or a fallback descriptor (product code or name).
type LineItem struct {
	ItemRef  string `json:"item_ref"`
	Quantity int    `json:"quantity"`
}

type Order struct {
	ID        int64           `json:"id"`
	BuyerID   string          `json:"buyer_id"`
	Items     []LineItem      `json:"items"`
	Summary   json.RawMessage `json:"summary"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// OrderRef is the denormalized entry kept in an account's order history.
type OrderRef struct {
	OrderID   int64           `json:"order_id"`
	CreatedAt time.Time       `json:"created_at"`
	Summary   json.RawMessage `json:"summary"`
}

// Ref returns the history entry for o.
func (o Order) Ref() OrderRef {
	return OrderRef{OrderID: o.ID, CreatedAt: o.CreatedAt, Summary: o.Summary}
}
