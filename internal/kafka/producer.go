package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/metrics"
)

// Producer publishes session events to the events topic, keyed by game id
type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	recorder *metrics.Recorder
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewProducerConfig returns the sarama settings used for the events feed
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 100 * time.Millisecond
	cfg.Producer.Flush.Messages = 100
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return cfg
}

// NewProducer connects an async producer to the configured brokers
func NewProducer(cfg *config.KafkaConfig, recorder *metrics.Recorder, logger *slog.Logger) (*Producer, error) {
	p, err := sarama.NewAsyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewProducerWithClient(p, cfg.EventsTopic, recorder, logger), nil
}

// NewProducerWithClient wraps an existing async producer
func NewProducerWithClient(p sarama.AsyncProducer, topic string, recorder *metrics.Recorder, logger *slog.Logger) *Producer {
	pr := &Producer{
		producer: p,
		topic:    topic,
		recorder: recorder,
		logger:   logger,
	}

	pr.wg.Add(2)
	go func() {
		defer pr.wg.Done()
		for range p.Successes() {
		}
	}()
	go func() {
		defer pr.wg.Done()
		for err := range p.Errors() {
			pr.recorder.RecordPublishError("kafka")
			pr.logger.Error("failed to publish event", "topic", pr.topic, "error", err)
		}
	}()
	return pr
}

// Publish queues events for delivery. Delivery failures are logged and
// counted asynchronously.
func (p *Producer) Publish(ctx context.Context, feed []domain.FeedEvent) error {
	for _, fe := range feed {
		data, err := json.Marshal(fe)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", fe.Event.ID, err)
		}

		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(fe.GameID),
			Value: sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event_type"), Value: []byte(fe.Event.Type)},
			},
		}

		select {
		case p.producer.Input() <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close flushes pending messages and shuts the producer down
func (p *Producer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}
