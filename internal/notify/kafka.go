package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/StevenEgasJ/SupermarketTatylu-sub000/internal/models"
)

const EventOrderConfirmed = "order.confirmed"

type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OrderConfirmed is the event a mailer consumes to send the invoice email.
type OrderConfirmed struct {
	EventID   string            `json:"event_id"`
	Type      string            `json:"type"`
	OrderID   int64             `json:"order_id"`
	BuyerID   string            `json:"buyer_id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Items     []models.LineItem `json:"items"`
	Summary   json.RawMessage   `json:"summary"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// KafkaSender publishes OrderConfirmed events keyed by order id.
type KafkaSender struct {
	producer Producer
	topic    string
}

func NewKafkaSender(producer Producer, topic string) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic}
}

// NewWriter returns a writer without a default topic; every message names
// its own.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
}

func (s *KafkaSender) Send(ctx context.Context, order models.Order, contact models.Contact) error {
	event := OrderConfirmed{
		EventID:   uuid.NewString(),
		Type:      EventOrderConfirmed,
		OrderID:   order.ID,
		BuyerID:   contact.BuyerID,
		Name:      contact.Name,
		Email:     contact.Email,
		Items:     order.Items,
		Summary:   order.Summary,
		Status:    string(order.Status),
		CreatedAt: order.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", EventOrderConfirmed, err)
	}

	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(strconv.FormatInt(order.ID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOrderConfirmed)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	if err := s.producer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", EventOrderConfirmed, err)
	}
	return nil
}
