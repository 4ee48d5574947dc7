// Package checkout runs the all-or-nothing checkout: every line item is
// resolved and its stock decremented, the order is created and attached to
// the buyer's account, and the whole attempt commits as one transaction.
// Attempts that fail with a transient transaction error are restarted in a
// fresh session, up to a fixed bound.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/store"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 100 * time.Millisecond
)

// Attempt outcomes reported to Metrics.
const (
	OutcomeCommitted = "committed"
	OutcomeRetryable = "retryable"
	OutcomeFatal     = "fatal"
)

// Notifier receives committed orders. Dispatch must not block the caller.
type Notifier interface {
	Dispatch(order models.Order, contact models.Contact)
}

type Metrics interface {
	Attempt(outcome string)
	Finished(code models.ErrorCode, attempts int, elapsed time.Duration)
}

type Request struct {
	BuyerID string
	Items   []models.LineItem
	Summary json.RawMessage
}

// Result is a committed checkout.
type Result struct {
	Order models.Order
	// Account is the buyer's state after commit; zero apart from ID when
	// AccountFound is false.
	Account      models.Account
	AccountFound bool
	Attempts     int
}

type Coordinator struct {
	log         *slog.Logger
	store       store.CheckoutStore
	notifier    Notifier
	metrics     Metrics
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Coordinator)

// WithMaxAttempts bounds the attempts per checkout; values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff sets the linear backoff base: attempt n waits n*d before retry.
func WithBackoff(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

func NewCoordinator(log *slog.Logger, st store.CheckoutStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		log:         log,
		store:       st,
		metrics:     nopMetrics{},
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Checkout places an order for req.Items. It returns the committed order, or
// a single terminal error: a models business error on first occurrence, or
// *models.RetriesExhaustedError once every attempt failed transiently.
func (c *Coordinator) Checkout(ctx context.Context, req Request) (Result, error) {
	log := c.log.With("buyer_id", req.BuyerID, "items", len(req.Items))
	start := time.Now()

	if len(req.Items) == 0 {
		return c.reject(log, models.ErrEmptyCart)
	}
	if s := bytes.TrimSpace(req.Summary); len(s) == 0 || bytes.Equal(s, []byte("null")) {
		return c.reject(log, models.ErrMissingSummary)
	}
	req.Items = slices.Clone(req.Items)

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		log.Debug("checkout attempting", "attempt", attempt)

		res, err := c.attempt(ctx, req)
		if err == nil {
			res.Attempts = attempt
			c.metrics.Attempt(OutcomeCommitted)
			c.metrics.Finished("", attempt, time.Since(start))
			log.Info("checkout committed", "attempt", attempt, "order_id", res.Order.ID)
			c.notify(log, res)
			return res, nil
		}

		lastErr = err
		if !models.IsRetryable(err) {
			c.metrics.Attempt(OutcomeFatal)
			c.metrics.Finished(models.Code(err), attempt, time.Since(start))
			log.Warn("checkout failed", "attempt", attempt, "code", models.Code(err), "err", err)
			return Result{}, err
		}
		c.metrics.Attempt(OutcomeRetryable)
		if attempt == c.maxAttempts {
			break
		}

		wait := c.backoff * time.Duration(attempt)
		log.Warn("checkout retrying", "attempt", attempt, "backoff", wait, "err", err)
		if err := c.sleep(ctx, wait); err != nil {
			c.metrics.Finished(models.CodeUnknown, attempt, time.Since(start))
			return Result{}, fmt.Errorf("checkout backoff: %w", err)
		}
	}

	exhausted := &models.RetriesExhaustedError{Attempts: c.maxAttempts, Last: lastErr}
	c.metrics.Finished(models.CodeRetriesExhausted, c.maxAttempts, time.Since(start))
	log.Error("checkout failed", "attempt", c.maxAttempts, "code", models.CodeRetriesExhausted, "err", lastErr)
	return Result{}, exhausted
}

func (c *Coordinator) reject(log *slog.Logger, err error) (Result, error) {
	c.metrics.Finished(models.Code(err), 0, 0)
	log.Warn("checkout rejected", "code", models.Code(err), "err", err)
	return Result{}, err
}

// attempt runs one session. Stock is decremented for every item before the
// order exists, so a failing item never leaves an order behind; any error
// rolls the whole session back.
func (c *Coordinator) attempt(ctx context.Context, req Request) (res Result, err error) {
	tx, err := c.store.BeginCheckout(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			c.log.Error("checkout rollback failed", "buyer_id", req.BuyerID, "err", rbErr)
		}
	}()

	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return Result{}, &models.InvalidQuantityError{ItemRef: item.ItemRef, Quantity: item.Quantity}
		}
		rec, err := tx.ResolveItem(ctx, item.ItemRef)
		if err != nil {
			return Result{}, err
		}
		if _, err := tx.DecrementStock(ctx, rec, item.Quantity); err != nil {
			return Result{}, err
		}
	}

	order, err := tx.CreateOrder(ctx, req.BuyerID, req.Items, req.Summary)
	if err != nil {
		return Result{}, err
	}

	acc, found, err := tx.AttachOrder(ctx, req.BuyerID, order)
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return Result{Order: order, Account: acc, AccountFound: found}, nil
}

// notify hands the committed order over by value. The order stands whether or
// not the account exists; the account's history is only a denormalized copy.
func (c *Coordinator) notify(log *slog.Logger, res Result) {
	if !res.AccountFound {
		log.Warn("account missing; order kept, history not updated", "order_id", res.Order.ID)
		return
	}
	if c.notifier == nil {
		return
	}
	c.notifier.Dispatch(res.Order, res.Account.Contact())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopMetrics struct{}

func (nopMetrics) Attempt(string)                                {}
func (nopMetrics) Finished(models.ErrorCode, int, time.Duration) {}
