package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

// UpdateStock sets the absolute stock for a product (admin operation).
func (s *PostgresStore) UpdateStock(ctx context.Context, productID int64, newStock int) error {
	if newStock < 0 {
		return errors.New("stock cannot be negative")
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE products SET stock=$1 WHERE id=$2`, newStock, productID)
	if err != nil {
		return err
	}
	ra, _ := res.RowsAffected()
	if ra == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetStock returns current stock for a product.
func (s *PostgresStore) GetStock(ctx context.Context, productID int64) (int, error) {
	var stock int
	if err := s.DB.QueryRowContext(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock); err != nil {
		return 0, err
	}
	return stock, nil
}

const (
	selectByID = `SELECT id, name, COALESCE(code, ''), stock FROM products WHERE id = $1`
	// code match wins over name match; among names the oldest product wins
	selectByDescriptor = `SELECT id, name, COALESCE(code, ''), stock FROM products
		WHERE code = $1 OR name = $1
		ORDER BY COALESCE(code = $1, false) DESC, id
		LIMIT 1`
	forUpdate = ` FOR UPDATE`
)

// parseKey reports whether ref is syntactically a product primary key.
func parseKey(ref string) (int64, bool) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// resolveItem looks ref up by primary key, then by code or name. With lock
// set the matched row stays locked until the surrounding transaction ends.
func resolveItem(ctx context.Context, q queryer, ref string, lock bool) (models.StockRecord, error) {
	suffix := ""
	if lock {
		suffix = forUpdate
	}
	var rec models.StockRecord
	if id, ok := parseKey(ref); ok {
		err := q.QueryRowContext(ctx, selectByID+suffix, id).Scan(&rec.ID, &rec.Name, &rec.Code, &rec.Stock)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.StockRecord{}, classify("resolve item", err)
		}
	}
	err := q.QueryRowContext(ctx, selectByDescriptor+suffix, ref).Scan(&rec.ID, &rec.Name, &rec.Code, &rec.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StockRecord{}, &models.NotFoundError{ItemRef: ref}
	}
	if err != nil {
		return models.StockRecord{}, classify("resolve item", err)
	}
	return rec, nil
}

// decrementStock writes stock-qty only if the row still holds at least qty.
func decrementStock(ctx context.Context, q queryer, rec models.StockRecord, qty int) (models.StockRecord, error) {
	var remaining int
	err := q.QueryRowContext(ctx,
		`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1 RETURNING stock`,
		qty, rec.ID,
	).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		var available int
		if err := q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, rec.ID).Scan(&available); err != nil {
			return models.StockRecord{}, classify("read stock", err)
		}
		return models.StockRecord{}, &models.InsufficientStockError{Name: rec.Name, Available: available, Requested: qty}
	}
	if err != nil {
		return models.StockRecord{}, classify("decrement stock", err)
	}
	rec.Stock = remaining
	return rec, nil
}
