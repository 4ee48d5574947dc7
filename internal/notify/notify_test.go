package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSender struct {
	mu    sync.Mutex
	sent  []int64
	fail  bool
	block chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, o models.Order, c models.Contact) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, o.ID)
	return nil
}

func (f *fakeSender) sentIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.sent...)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	s := &fakeSender{}
	d := NewDispatcher(discard(), s, 2, 10, time.Second)

	for i := int64(1); i <= 5; i++ {
		d.Dispatch(models.Order{ID: i}, models.Contact{BuyerID: "u1"})
	}
	d.Close()

	assert.ElementsMatch(t, []int64{1, 2, 3, 4, 5}, s.sentIDs())

	// after Close messages are dropped rather than panicking on a closed channel
	d.Dispatch(models.Order{ID: 6}, models.Contact{})
	d.Close()
	assert.Len(t, s.sentIDs(), 5)
}

func TestDispatchNeverBlocks(t *testing.T) {
	s := &fakeSender{block: make(chan struct{})}
	d := NewDispatcher(discard(), s, 1, 1, time.Second)

	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 10; i++ {
			d.Dispatch(models.Order{ID: i}, models.Contact{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on a stalled sender")
	}
	close(s.block)
	d.Close()
	assert.NotEmpty(t, s.sentIDs())
	assert.Less(t, len(s.sentIDs()), 10, "overflow is dropped")
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	s := &fakeSender{fail: true}
	d := NewDispatcher(discard(), s, 1, 4, time.Second)
	d.Dispatch(models.Order{ID: 1}, models.Contact{})
	d.Close()
	assert.Empty(t, s.sentIDs())
}

type panicSender struct{}

func (panicSender) Send(context.Context, models.Order, models.Contact) error { panic("boom") }

func TestDispatcherSurvivesPanickingSender(t *testing.T) {
	d := NewDispatcher(discard(), panicSender{}, 1, 4, time.Second)
	d.Dispatch(models.Order{ID: 1}, models.Contact{})
	d.Dispatch(models.Order{ID: 2}, models.Contact{})
	d.Close()
}

type recordingProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *recordingProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestKafkaSenderPublishesOrderConfirmed(t *testing.T) {
	p := &recordingProducer{}
	s := NewKafkaSender(p, "order.events")
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := s.Send(context.Background(), models.Order{
		ID:        42,
		BuyerID:   "u1",
		Items:     []models.LineItem{{ItemRef: "P1", Quantity: 2}},
		Summary:   json.RawMessage(`{"total":"10.00"}`),
		Status:    models.StatusConfirmed,
		CreatedAt: created,
	}, models.Contact{BuyerID: "u1", Email: "u1@example.com"})
	require.NoError(t, err)
	require.Len(t, p.msgs, 1)

	msg := p.msgs[0]
	assert.Equal(t, "order.events", msg.Topic)
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, EventOrderConfirmed, string(msg.Headers[0].Value))

	var ev OrderConfirmed
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, int64(42), ev.OrderID)
	assert.Equal(t, "u1@example.com", ev.Email)
	assert.Equal(t, "confirmed", ev.Status)
	assert.NotEmpty(t, ev.EventID)
	assert.JSONEq(t, `{"total":"10.00"}`, string(ev.Summary))
	assert.True(t, created.Equal(ev.CreatedAt))
}

func TestKafkaSenderWrapsPublishError(t *testing.T) {
	p := &recordingProducer{err: errors.New("leader not available")}
	err := NewKafkaSender(p, "order.events").Send(context.Background(), models.Order{ID: 1}, models.Contact{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish order.confirmed")
}
