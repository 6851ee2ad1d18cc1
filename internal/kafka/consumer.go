package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Shopify/sarama"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
	"github.com/Cubikon/Smart-Heating-Control/internal/logger"
	"github.com/Cubikon/Smart-Heating-Control/internal/models"
)

// Source tags updates that arrived over Kafka
const Source = "kafka"

const (
	initialRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

// MessageProcessor is a function that processes batches of state updates
type MessageProcessor func([]models.StateUpdate) error

// Consumer represents a Kafka consumer of sensor state updates
type Consumer struct {
	id         string
	config     config.KafkaConfig
	consumer   sarama.ConsumerGroup
	processor  MessageProcessor
	log        *logger.Logger
	msgBuffer  []models.StateUpdate
	bufferLock sync.Mutex
	lastFlush  time.Time

	retryBackoff time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(id string, cfg config.KafkaConfig, processor MessageProcessor, log *logger.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	// Only current states matter; history from before start-up is stale.
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		id:        id,
		config:    cfg,
		consumer:  client,
		processor: processor,
		log:       log.Component("kafka").With("consumer", id),
		msgBuffer: make([]models.StateUpdate, 0, cfg.BatchSize),
		lastFlush: time.Now(),

		retryBackoff: initialRetryBackoff,
	}, nil
}

// Consume starts consuming messages from Kafka until ctx is cancelled. Broker
// and session errors are logged and the group session is retried with backoff.
func (c *Consumer) Consume(ctx context.Context) error {
	defer c.consumer.Close()

	go func() {
		for err := range c.consumer.Errors() {
			c.log.Warn("consumer error", "error", err)
		}
	}()

	handler := &consumerGroupHandler{
		consumer: c,
		ctx:      ctx,
	}

	flushTicker := time.NewTicker(c.config.BatchTimeout)
	defer flushTicker.Stop()

	go func() {
		for {
			select {
			case <-flushTicker.C:
				c.flushBuffer()
			case <-ctx.Done():
				c.flushBuffer()
				return
			}
		}
	}()

	backoff := c.retryBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := c.consumer.Consume(ctx, []string{c.config.Topic}, handler)
		if err == nil {
			// rebalance; join the next session
			backoff = c.retryBackoff
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}

		c.log.Warn("consumer session failed, retrying", "error", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles d up to maxRetryBackoff
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}

// addMessage adds an update to the buffer and flushes if needed
func (c *Consumer) addMessage(update models.StateUpdate) {
	c.bufferLock.Lock()
	defer c.bufferLock.Unlock()

	c.msgBuffer = append(c.msgBuffer, update)

	if len(c.msgBuffer) >= c.config.BatchSize {
		c.flushBufferLocked()
	}
}

// flushBuffer flushes the message buffer
func (c *Consumer) flushBuffer() {
	c.bufferLock.Lock()
	defer c.bufferLock.Unlock()

	c.flushBufferLocked()
}

// flushBufferLocked hands the buffered updates to the processor while holding the lock
func (c *Consumer) flushBufferLocked() {
	if len(c.msgBuffer) == 0 {
		return
	}

	updates := make([]models.StateUpdate, len(c.msgBuffer))
	copy(updates, c.msgBuffer)

	c.msgBuffer = c.msgBuffer[:0]
	c.lastFlush = time.Now()

	if err := c.processor(updates); err != nil {
		c.log.Warn("error processing state updates", "count", len(updates), "error", err)
	}
}

// decodeUpdate parses one Kafka message value
func decodeUpdate(value []byte, received time.Time) (models.StateUpdate, error) {
	var update models.StateUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		return update, err
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = received
	}
	update.Source = Source
	return update, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ctx      context.Context
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if h.ctx.Err() != nil {
			return h.ctx.Err()
		}

		update, err := decodeUpdate(message.Value, message.Timestamp)
		if err != nil {
			h.consumer.log.Warn("error unmarshalling state update", "offset", message.Offset, "error", err)
			session.MarkMessage(message, "")
			continue
		}

		h.consumer.addMessage(update)
		session.MarkMessage(message, "")
	}
	return nil
}
