package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

// BeginCheckout opens a serializable transaction. Rows the session resolves
// are additionally locked FOR UPDATE, so concurrent attempts on the same
// product either wait for the lock or fail with a serialization error.
func (s *PostgresStore) BeginCheckout(ctx context.Context) (CheckoutSession, error) {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, classify("begin", err)
	}
	return &pgSession{tx: tx}, nil
}

type pgSession struct {
	tx *sql.Tx
}

func (p *pgSession) ResolveItem(ctx context.Context, itemRef string) (models.StockRecord, error) {
	return resolveItem(ctx, p.tx, itemRef, true)
}

func (p *pgSession) DecrementStock(ctx context.Context, rec models.StockRecord, qty int) (models.StockRecord, error) {
	return decrementStock(ctx, p.tx, rec, qty)
}

func (p *pgSession) CreateOrder(ctx context.Context, buyerID string, items []models.LineItem, summary json.RawMessage) (models.Order, error) {
	o := models.Order{
		BuyerID: buyerID,
		Items:   items,
		Summary: summary,
		Status:  models.StatusConfirmed,
	}
	// JSONB takes the text form; []byte would be sent as bytea
	if err := p.tx.QueryRowContext(ctx,
		`INSERT INTO orders (buyer_id, summary, status) VALUES ($1, $2, $3) RETURNING id, created_at`,
		buyerID, string(summary), string(o.Status),
	).Scan(&o.ID, &o.CreatedAt); err != nil {
		return models.Order{}, classify("insert order", err)
	}

	stmt, err := p.tx.PrepareContext(ctx, `INSERT INTO order_items (order_id, position, item_ref, quantity) VALUES ($1,$2,$3,$4)`)
	if err != nil {
		return models.Order{}, classify("prepare order items", err)
	}
	defer stmt.Close()

	for i, it := range items {
		if _, err := stmt.ExecContext(ctx, o.ID, i, it.ItemRef, it.Quantity); err != nil {
			return models.Order{}, classify("insert order item", err)
		}
	}
	return o, nil
}

func (p *pgSession) AttachOrder(ctx context.Context, buyerID string, order models.Order) (models.Account, bool, error) {
	acc := models.Account{ID: buyerID}
	err := p.tx.QueryRowContext(ctx, `SELECT name, email FROM users WHERE id = $1 FOR UPDATE`, buyerID).Scan(&acc.Name, &acc.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return acc, false, nil
	}
	if err != nil {
		return models.Account{}, false, classify("lock account", err)
	}

	if _, err := p.tx.ExecContext(ctx,
		`INSERT INTO account_orders (user_id, order_id, created_at, summary) VALUES ($1, $2, $3, $4)`,
		buyerID, order.ID, order.CreatedAt, string(order.Summary),
	); err != nil {
		return models.Account{}, false, classify("append order ref", err)
	}
	if _, err := p.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, buyerID); err != nil {
		return models.Account{}, false, classify("clear cart", err)
	}

	refs, err := listOrderRefs(ctx, p.tx, buyerID)
	if err != nil {
		return models.Account{}, false, classify("read order refs", err)
	}
	acc.Cart = []models.LineItem{}
	acc.Orders = refs
	return acc, true, nil
}

func (p *pgSession) Commit() error {
	return classifyCommit(p.tx.Commit())
}

// Rollback is safe to call after Commit.
func (p *pgSession) Rollback() error {
	err := p.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
