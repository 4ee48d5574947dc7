package store

import (
	"context"
	"encoding/json"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

// POST /products        - create a product
// GET  /products/list   - list products
// POST /products/stock  - set absolute stock
// POST /cart/add        - add a line to the buyer's cart
// POST /cart/remove     - drop a line from the buyer's cart
// GET  /cart/list       - list the buyer's cart
// POST /checkout/order  - checkout through CheckoutStore
// GET  /orders, /orders/{id}

type Store interface {
	CreateProduct(ctx context.Context, p ProductRow) (int64, error)
	ListProducts(ctx context.Context) ([]ProductRow, error)
	UpdateStock(ctx context.Context, productID int64, newStock int) error
	GetStock(ctx context.Context, productID int64) (int, error)

	UpsertAccount(ctx context.Context, acc models.Account) error
	GetAccount(ctx context.Context, userID string) (models.Account, error)

	AddToCart(ctx context.Context, userID string, item models.LineItem) error
	RemoveFromCart(ctx context.Context, userID, itemRef string) error
	GetCart(ctx context.Context, userID string) ([]CartRow, error)

	GetOrder(ctx context.Context, orderID int64) (models.Order, error)
	ListOrders(ctx context.Context, userID string) ([]models.OrderRef, error)

	CheckoutStore

	Close() error
}

// CheckoutStore opens the session every checkout attempt runs in.
type CheckoutStore interface {
	BeginCheckout(ctx context.Context) (CheckoutSession, error)
}

// CheckoutSession is one transaction. Every read and write of a checkout
// attempt goes through it, and nothing is visible to other sessions until
// Commit returns nil. Adapters return *models.TxError for infrastructure
// failures and the models business errors unwrapped.
type CheckoutSession interface {
	// ResolveItem maps an item reference to exactly one stock record.
	ResolveItem(ctx context.Context, itemRef string) (models.StockRecord, error)
	// DecrementStock re-checks sufficiency at write time and persists
	// stock-qty, returning the updated record.
	DecrementStock(ctx context.Context, rec models.StockRecord, qty int) (models.StockRecord, error)
	// CreateOrder persists a confirmed order carrying items verbatim.
	CreateOrder(ctx context.Context, buyerID string, items []models.LineItem, summary json.RawMessage) (models.Order, error)
	// AttachOrder appends the order to the buyer's history and empties the
	// cart. found is false, with a nil error, when the account does not exist.
	AttachOrder(ctx context.Context, buyerID string, order models.Order) (acc models.Account, found bool, err error)

	Commit() error
	Rollback() error
}
