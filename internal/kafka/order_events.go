package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"festival-ticketing/internal/models"
)

// Publisher is the subset of Producer the event streams need.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// OrderEventStream publishes lifecycle events keyed by order id.
type OrderEventStream struct {
	pub   Publisher
	topic string
}

func NewOrderEventStream(pub Publisher, topic string) *OrderEventStream {
	return &OrderEventStream{pub: pub, topic: topic}
}

func (s *OrderEventStream) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return s.pub.Publish(ctx, s.topic, event.OrderID, value)
}
