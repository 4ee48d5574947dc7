package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

//go:embed migrations.sql
var migrationSQL string

// ProductRow, CartRow etc are simple structs representing DB rows
type ProductRow struct {
	ID          int64
	Name        string
	Code        sql.NullString
	Description sql.NullString
	Price       float64
	Stock       int
	CreatedAt   time.Time
}

type CartRow struct {
	ItemRef  string
	Quantity int
	AddedAt  time.Time
}

// PostgresStore is a Store backed by Postgres and has in-process locks
type PostgresStore struct {
	DB *sql.DB

	// per-user mutexes to avoid concurrent goroutines in this process
	// racing on the same cart. Keys are user_id -> *sync.Mutex
	locks sync.Map // map[string]*sync.Mutex
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	DB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := DB.PingContext(ctx); err != nil {
		_ = DB.Close()
		return nil, err
	}
	return &PostgresStore{DB: DB}, nil
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// helper: acquire per-user lock (process-local). Returns unlock func.
func (s *PostgresStore) lockForUser(userID string) func() {
	m := &sync.Mutex{}
	actual, _ := s.locks.LoadOrStore(userID, m)
	mtx := actual.(*sync.Mutex)
	mtx.Lock()
	return mtx.Unlock
}

// CreateProduct inserts a product and returns its id
func (s *PostgresStore) CreateProduct(ctx context.Context, p ProductRow) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO products (name, code, description, price, stock) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.Name, p.Code, p.Description, p.Price, p.Stock,
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]ProductRow, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, code, description, price, stock, created_at FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ProductRow{}
	for rows.Next() {
		var p ProductRow
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &p.Description, &p.Price, &p.Stock, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertAccount creates the account or refreshes its contact details.
func (s *PostgresStore) UpsertAccount(ctx context.Context, acc models.Account) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, name, email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email
	`, acc.ID, acc.Name, acc.Email)
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	acc := models.Account{ID: userID}
	err := s.DB.QueryRowContext(ctx, `SELECT name, email FROM users WHERE id = $1`, userID).Scan(&acc.Name, &acc.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, models.ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return models.Account{}, err
	}
	acc.Cart = make([]models.LineItem, 0, len(cart))
	for _, c := range cart {
		acc.Cart = append(acc.Cart, models.LineItem{ItemRef: c.ItemRef, Quantity: c.Quantity})
	}
	if acc.Orders, err = s.ListOrders(ctx, userID); err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

// AddToCart records a cart line. The item must resolve to a product, but no
// stock is reserved: stock only moves at checkout.
func (s *PostgresStore) AddToCart(ctx context.Context, userID string, item models.LineItem) error {
	if item.Quantity <= 0 {
		return &models.InvalidQuantityError{ItemRef: item.ItemRef, Quantity: item.Quantity}
	}

	// process-local lock to avoid concurrent goroutines in same process
	unlock := s.lockForUser(userID)
	defer unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// ensure account exists
	if _, err := tx.ExecContext(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return err
	}

	if _, err := resolveItem(ctx, tx, item.ItemRef, false); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, item_ref, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, item_ref)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
	`, userID, item.ItemRef, item.Quantity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresStore) RemoveFromCart(ctx context.Context, userID, itemRef string) error {
	unlock := s.lockForUser(userID)
	defer unlock()

	res, err := s.DB.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id=$1 AND item_ref=$2`, userID, itemRef)
	if err != nil {
		return err
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetCart(ctx context.Context, userID string) ([]CartRow, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT item_ref, quantity, added_at FROM cart_items WHERE user_id=$1 ORDER BY added_at, item_ref`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []CartRow{}
	for rows.Next() {
		var c CartRow
		if err := rows.Scan(&c.ItemRef, &c.Quantity, &c.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID int64) (models.Order, error) {
	o := models.Order{ID: orderID}
	var summary []byte
	err := s.DB.QueryRowContext(ctx, `SELECT buyer_id, summary, status, created_at FROM orders WHERE id = $1`, orderID).
		Scan(&o.BuyerID, &summary, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, models.ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, err
	}
	o.Summary = json.RawMessage(summary)

	rows, err := s.DB.QueryContext(ctx, `SELECT item_ref, quantity FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return models.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it models.LineItem
		if err := rows.Scan(&it.ItemRef, &it.Quantity); err != nil {
			return models.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// ListOrders returns the account's order history, oldest first.
func (s *PostgresStore) ListOrders(ctx context.Context, userID string) ([]models.OrderRef, error) {
	return listOrderRefs(ctx, s.DB, userID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func listOrderRefs(ctx context.Context, q queryer, userID string) ([]models.OrderRef, error) {
	rows, err := q.QueryContext(ctx, `SELECT order_id, created_at, summary FROM account_orders WHERE user_id = $1 ORDER BY created_at, order_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.OrderRef{}
	for rows.Next() {
		var (
			ref     models.OrderRef
			summary []byte
		)
		if err := rows.Scan(&ref.OrderID, &ref.CreatedAt, &summary); err != nil {
			return nil, err
		}
		ref.Summary = json.RawMessage(summary)
		out = append(out, ref)
	}
	return out, rows.Err()
}
