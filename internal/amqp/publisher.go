// Package amqp publishes session events to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/domain"
	"github.com/waterpolo-stats/internal/metrics"
)

// Channel is the subset of *amqp.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends every event to the exchange with routing key game.<id>.<type>
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
	recorder *metrics.Recorder
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewPublisher dials the broker and declares the topic exchange
func NewPublisher(cfg *config.AMQPConfig, recorder *metrics.Recorder, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 60 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	p, err := NewPublisherWithChannel(ch, cfg.Exchange, recorder, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn

	go func() {
		if closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1)); closeErr != nil {
			logger.Error("AMQP connection closed", "error", closeErr)
		}
	}()

	logger.Info("connected to AMQP", "exchange", cfg.Exchange)
	return p, nil
}

// NewPublisherWithChannel declares the exchange on ch and publishes through it
func NewPublisherWithChannel(ch Channel, exchange string, recorder *metrics.Recorder, logger *slog.Logger) (*Publisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		channel:  ch,
		exchange: exchange,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// RoutingKey returns the topic routing key for an event of gameID
func RoutingKey(gameID string, t domain.EventType) string {
	// Dots separate topic words
	id := strings.ReplaceAll(gameID, ".", "_")
	return "game." + id + "." + string(t)
}

// Publish sends the feed events in order. The first failure stops the batch.
func (p *Publisher) Publish(ctx context.Context, feed []domain.FeedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, fe := range feed {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := json.Marshal(fe)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", fe.Event.ID, err)
		}
		err = p.channel.Publish(p.exchange, RoutingKey(fe.GameID, fe.Event.Type), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fe.Event.ID,
			Timestamp:    fe.Event.Timestamp,
			Body:         body,
		})
		if err != nil {
			p.recorder.RecordPublishError("amqp")
			return fmt.Errorf("publish event %s: %w", fe.Event.ID, err)
		}
	}
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
