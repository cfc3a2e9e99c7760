package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer relays order events from the topic into this process. Every
// replica joins with its own group so each one sees every event.
type Consumer struct {
	reader MessageReader
	logger *logger.Logger
}

// NewConsumer creates a consumer that starts at the newest offset; buyers
// only care about events raised while they are connected.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
	})
	return NewConsumerWithReader(reader, log)
}

func NewConsumerWithReader(reader MessageReader, log *logger.Logger) *Consumer {
	return &Consumer{reader: reader, logger: log}
}

// Run consumes until ctx is cancelled. Undecodable messages are committed
// and skipped.
func (c *Consumer) Run(ctx context.Context, handler func(models.OrderEvent)) error {
	c.logger.Info("KAFKA", "Order event consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var event models.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal order event at offset %d: %v", msg.Offset, err))
		} else {
			c.logger.LogKafka("CONSUME", msg.Topic, fmt.Sprintf("%s %s", event.Type, event.OrderNumber))
			handler(event)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Commit failed at offset %d: %v", msg.Offset, err))
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
