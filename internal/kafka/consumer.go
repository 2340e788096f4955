package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/waterpolo-stats/internal/config"
	"github.com/waterpolo-stats/internal/domain"
)

// CommandHandler applies scorekeeper commands
type CommandHandler interface {
	ApplyCommand(ctx context.Context, cmd domain.Command) error
}

// Consumer consumes scorekeeper commands from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       CommandHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler CommandHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start joins the consumer group and blocks until the first session is set up
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.CommandsTopic,
		"group_id", c.config.GroupID,
	)

	ready := make(chan bool)
	c.wg.Add(2)
	go c.consumeLoop(ready)
	go c.drainErrors()

	select {
	case <-ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
	}
	return nil
}

// consumeLoop rejoins the group after every rebalance until the consumer
// stops. ready is closed by the first session that reaches Setup.
func (c *Consumer) consumeLoop(ready chan bool) {
	defer c.wg.Done()
	topics := []string{c.config.CommandsTopic}
	for {
		handler := &consumerGroupHandler{consumer: c, ready: ready}
		err := c.consumerGroup.Consume(c.ctx, topics, handler)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			c.logger.Error("consume session ended", "error", err, "retry_in", c.config.RetryDelay)
			if !c.wait(c.ctx, c.config.RetryDelay) {
				return
			}
		case c.ctx.Err() != nil:
			return
		}
		select {
		case <-ready:
			ready = make(chan bool)
		default:
		}
	}
}

func (c *Consumer) drainErrors() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case err, ok := <-c.consumerGroup.Errors():
			if !ok {
				return
			}
			c.logger.Error("consumer group error", "error", err)
		}
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// apply runs a batch in arrival order. Commands for one game share a
// partition, so their relative order is the order they were produced in.
func (c *Consumer) apply(batch []domain.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := 0
	for _, cmd := range batch {
		if err := c.applyWithRetry(ctx, cmd); err != nil {
			failed++
			c.logger.Warn("command rejected",
				"game_id", cmd.GameID,
				"command", cmd.Command,
				"error", err,
			)
		}
	}
	c.logger.Debug("processed batch", "batch_size", len(batch), "failed", failed)
}

// applyWithRetry retries commands that failed for reasons outside the game
// itself, such as a store outage. A rejected command is never retried.
func (c *Consumer) applyWithRetry(ctx context.Context, cmd domain.Command) error {
	attempts := max(c.config.RetryAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.handler.ApplyCommand(ctx, cmd); err == nil || rejected(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		c.logger.Debug("retrying command",
			"game_id", cmd.GameID,
			"command", cmd.Command,
			"attempt", attempt,
			"error", err,
		)
		if !c.wait(ctx, c.config.RetryDelay) {
			return errors.Join(err, ctx.Err())
		}
	}
	return err
}

// wait sleeps for d, reporting false when ctx ends first
func (c *Consumer) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func rejected(err error) bool {
	return domain.IsConflictError(err) ||
		domain.IsNotFoundError(err) ||
		errors.Is(err, domain.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrUnknownPlayer)
}

// decode parses a command message, reporting false for messages to skip
func (c *Consumer) decode(message *sarama.ConsumerMessage) (domain.Command, bool) {
	var cmd domain.Command
	if err := json.Unmarshal(message.Value, &cmd); err != nil {
		c.logger.Warn("failed to unmarshal message",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return cmd, false
	}
	if cmd.GameID == "" && len(message.Key) > 0 {
		cmd.GameID = string(message.Key)
	}
	if cmd.GameID == "" || cmd.Command == "" {
		c.logger.Warn("invalid command",
			"game_id", cmd.GameID,
			"command", cmd.Command,
		)
		return cmd, false
	}
	return cmd, true
}

// consumerGroupHandler feeds one group session into the consumer
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup signals Start that the first session has joined
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim collects commands from one partition and applies them when
// the batch fills up or the batch timeout fires, whichever comes first.
// Pending commands are applied before the claim is released.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	size, timeout := h.consumer.config.BatchSize, h.consumer.config.BatchTimeout
	pending := make([]domain.Command, 0, size)
	flushTimer := time.NewTimer(timeout)
	defer flushTimer.Stop()

	flush := func() {
		if len(pending) > 0 {
			h.consumer.apply(pending)
			pending = pending[:0]
		}
		flushTimer.Reset(timeout)
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil
		case <-flushTimer.C:
			flush()
		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			if cmd, valid := h.consumer.decode(message); valid {
				pending = append(pending, cmd)
			}
			session.MarkMessage(message, "")
			if len(pending) >= size {
				flush()
			}
		}
	}
}
