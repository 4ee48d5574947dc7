// Package notify delivers order confirmations outside the checkout path.
// Committed orders are queued by value and drained by a small worker pool;
// delivery failures are logged and dropped, never retried or reported back.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, order models.Order, contact models.Contact) error
}

type message struct {
	order   models.Order
	contact models.Contact
}

type Dispatcher struct {
	log     *slog.Logger
	sender  Sender
	timeout time.Duration
	queue   chan message

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines draining a queue of queueSize.
func NewDispatcher(log *slog.Logger, sender Sender, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	d := &Dispatcher{
		log:     log,
		sender:  sender,
		timeout: timeout,
		queue:   make(chan message, queueSize),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Dispatch enqueues without blocking. A full queue or a closed dispatcher
// drops the message.
func (d *Dispatcher) Dispatch(order models.Order, contact models.Contact) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("notification dropped: dispatcher closed", "order_id", order.ID)
		return
	}
	select {
	case d.queue <- message{order: order, contact: contact}:
	default:
		d.log.Error("notification dropped: queue full", "order_id", order.ID, "buyer_id", contact.BuyerID)
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for m := range d.queue {
		d.deliver(m)
	}
}

func (d *Dispatcher) deliver(m message) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification sender panicked", "order_id", m.order.ID, "panic", r)
		}
	}()

	if err := d.sender.Send(ctx, m.order, m.contact); err != nil {
		d.log.Error("notification failed", "order_id", m.order.ID, "buyer_id", m.contact.BuyerID, "err", err)
		return
	}
	d.log.Info("notification sent", "order_id", m.order.ID, "buyer_id", m.contact.BuyerID)
}

// LogSender writes the confirmation as a log line. Used when no broker is
// configured.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, order models.Order, contact models.Contact) error {
	s.Log.Info("order confirmation",
		"order_id", order.ID,
		"buyer_id", contact.BuyerID,
		"email", contact.Email,
		"items", len(order.Items),
		"created_at", order.CreatedAt,
	)
	return nil
}
