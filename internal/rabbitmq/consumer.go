package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes incoming messages
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// AckMode defines how deliveries are acknowledged
type AckMode int

const (
	// AckOnSuccess acks after the handler returns nil and nacks with requeue
	// otherwise (at-least-once)
	AckOnSuccess AckMode = iota
	// AckOnReceipt lets the broker consider a message acknowledged as soon as
	// it is sent (at-most-once)
	AckOnReceipt
	// AckNone never acknowledges; the broker requeues everything still
	// unacknowledged when the channel closes
	AckNone
)

func (m AckMode) String() string {
	switch m {
	case AckOnSuccess:
		return "success"
	case AckOnReceipt:
		return "receipt"
	case AckNone:
		return "none"
	default:
		return fmt.Sprintf("AckMode(%d)", int(m))
	}
}

// ParseAckMode parses "success", "receipt" or "none"
func ParseAckMode(s string) (AckMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "":
		return AckOnSuccess, nil
	case "receipt", "auto":
		return AckOnReceipt, nil
	case "none":
		return AckNone, nil
	default:
		return 0, fmt.Errorf("%w: unknown ack mode %q", ErrInvalidConfiguration, s)
	}
}

// Consumer consumes a single queue on a single channel and dispatches
// deliveries to a handler one at a time, in the order the broker sends them.
type Consumer struct {
	ackMode        AckMode
	exclusive      bool
	consumerTag    string
	handlerTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	ch       Channel
	queue    string
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	stopping bool
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithAckMode sets the acknowledgment mode
func WithAckMode(mode AckMode) ConsumerOption {
	return func(c *Consumer) {
		c.ackMode = mode
	}
}

// WithExclusive sets exclusive consumer mode
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) ConsumerOption {
	return func(c *Consumer) {
		c.consumerTag = tag
	}
}

// WithHandlerTimeout bounds the context passed to each handler call
func WithHandlerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.handlerTimeout = timeout
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a new consumer
func NewConsumer(options ...ConsumerOption) *Consumer {
	c := &Consumer{
		ackMode:        AckOnSuccess,
		handlerTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.consumerTag == "" {
		c.consumerTag = "ctag-" + uuid.New().String()
	}

	return c
}

// ConsumerTag returns the tag registered with the broker
func (c *Consumer) ConsumerTag() string {
	return c.consumerTag
}

// Subscribe registers the consumer on ch and returns once the broker has
// accepted it. Deliveries are handled on a background goroutine until ctx is
// cancelled, Stop is called or the broker cancels the consumer.
func (c *Consumer) Subscribe(ctx context.Context, ch Channel, queue string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return c.consumerError(queue, "subscribe", ErrConsumerActive)
	}
	if handler == nil {
		return c.consumerError(queue, "subscribe", ErrInvalidConfiguration)
	}

	deliveries, err := ch.Consume(
		queue,
		c.consumerTag,
		c.ackMode == AckOnReceipt,
		c.exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return c.consumerError(queue, "subscribe", err)
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	c.ch = ch
	c.queue = queue
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.processMessages(consumerCtx, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", c.consumerTag,
		"ackMode", c.ackMode.String(),
	)

	return nil
}

// Done is closed when the dispatch goroutine exits. It is nil before Subscribe.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err reports why consumption ended. It is ErrConsumerCancelled (wrapped) when
// the broker closed the delivery stream and nil after a local stop.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// processMessages handles incoming messages
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	defer func() {
		c.logger.Info("consumer stopped", "queue", c.queue)
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.mu.Lock()
				if !c.stopping && ctx.Err() == nil {
					c.err = c.consumerError(c.queue, "consume", ErrConsumerCancelled)
					c.logger.Warn("delivery channel closed by broker", "queue", c.queue)
				}
				c.mu.Unlock()
				return
			}

			if err := c.handleMessage(ctx, delivery, handler); err != nil {
				c.logger.Error("failed to handle message",
					"error", err,
					"queue", c.queue,
					"deliveryTag", delivery.DeliveryTag,
					"messageId", delivery.MessageId,
				)
			}
		}
	}
}

// handleMessage processes a single message
func (c *Consumer) handleMessage(ctx context.Context, delivery amqp.Delivery, handler MessageHandler) error {
	msgCtx := ctx
	if c.handlerTimeout > 0 {
		var cancel context.CancelFunc
		msgCtx, cancel = context.WithTimeout(ctx, c.handlerTimeout)
		defer cancel()
	}

	err := safeHandle(msgCtx, delivery, handler)

	if c.ackMode != AckOnSuccess {
		return err
	}

	if err != nil {
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message",
				"error", nackErr,
				"originalError", err,
			)
		}
		return err
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("failed to ack message", "error", ackErr)
	}
	return nil
}

// safeHandle turns a handler panic into an error
func safeHandle(ctx context.Context, delivery amqp.Delivery, handler MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, delivery)
}

// Stop cancels the consumer on the broker and waits for the dispatch goroutine
// to exit. Stopping a consumer that never subscribed is a no-op.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if c.done == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	ch, cancel, done := c.ch, c.cancel, c.done
	c.mu.Unlock()

	cancel()

	var err error
	if !ch.IsClosed() {
		if cancelErr := ch.Cancel(c.consumerTag, false); cancelErr != nil {
			err = c.consumerError(c.queue, "cancel", cancelErr)
		}
	}

	<-done
	return err
}

func (c *Consumer) consumerError(queue, op string, err error) error {
	return &ConsumerError{
		Queue:       queue,
		ConsumerTag: c.consumerTag,
		Op:          op,
		Err:         err,
		Timestamp:   time.Now(),
	}
}
