package kafka

import (
	"context"
	"fmt"
	"time"

	"festival-ticketing/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Producer writes keyed messages to any topic over a single writer.
type Producer struct {
	Writer *kafka.Writer
	logger *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
	}
	return &Producer{Writer: writer, logger: log}
}

// Publish sends value under key. Messages with the same key keep their order.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		p.logger.Error("KAFKA", fmt.Sprintf("Publish to %s failed for key %s: %v", topic, key, err))
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.LogKafka("PUBLISH", topic, key)
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// LogPublisher stands in for Kafka when it is disabled. Messages are only
// logged.
type LogPublisher struct {
	logger *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{logger: log}
}

func (p *LogPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.logger.LogKafka("SKIPPED", topic, fmt.Sprintf("%s (%d bytes)", key, len(value)))
	return nil
}
