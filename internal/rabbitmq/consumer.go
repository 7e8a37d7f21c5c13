package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer delivers queue messages as raw payload bytes on a Go
// channel. When the consume stream dies with the connection, the loop
// reopens it once the ConnectionManager has redialed, so the delivery
// channel stays open across broker restarts.
type Consumer struct {
	manager       *ConnectionManager
	prefetchCount int
	reopenDelay   time.Duration
	logger        *slog.Logger
}

// ConsumerOption configures the consumer.
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the per-stream unacknowledged message cap.
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		c.prefetchCount = count
	}
}

// WithReopenDelay sets the pause between attempts to reopen a lost
// consume stream.
func WithReopenDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.reopenDelay = delay
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer backed by manager.
func NewConsumer(manager *ConnectionManager, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		manager:       manager,
		prefetchCount: 32,
		reopenDelay:   time.Second,
		logger:        slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Consume starts delivering messages from queue on the returned
// channel. The first stream is opened synchronously so setup problems
// surface here; after that the loop survives connection loss by
// reopening the stream. Deliveries are acknowledged once handed off.
// The channel closes when ctx is done.
func (c *Consumer) Consume(ctx context.Context, queue string) (<-chan []byte, error) {
	ch, deliveries, err := c.open(queue)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go c.run(ctx, queue, ch, deliveries, out)
	return out, nil
}

// open sets up a dedicated channel and consume stream for queue.
func (c *Consumer) open(queue string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	conn, err := c.manager.GetConnection()
	if err != nil {
		return nil, nil, &ConsumeError{Queue: queue, Op: "open", Err: err, Timestamp: time.Now()}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, &ConsumeError{Queue: queue, Op: "open", Err: err, Timestamp: time.Now()}
	}

	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, nil, &ConsumeError{Queue: queue, Op: "qos", Err: err, Timestamp: time.Now()}
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, &ConsumeError{Queue: queue, Op: "consume", Err: err, Timestamp: time.Now()}
	}

	return ch, deliveries, nil
}

func (c *Consumer) run(ctx context.Context, queue string, ch *amqp.Channel, deliveries <-chan amqp.Delivery, out chan<- []byte) {
	defer close(out)

	for {
		streamLost := c.forward(ctx, queue, deliveries, out)
		ch.Close()
		if !streamLost {
			return
		}

		c.logger.Warn("consume stream lost", "queue", queue)
		ch, deliveries = c.reopen(ctx, queue)
		if ch == nil {
			return
		}
		c.logger.Info("consume stream reopened", "queue", queue)
	}
}

// forward copies deliveries to out until the stream closes (true) or
// ctx is done (false). Each payload is acked after the handoff; a
// payload stranded by shutdown is requeued.
func (c *Consumer) forward(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, out chan<- []byte) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-deliveries:
			if !ok {
				return true
			}
			select {
			case out <- d.Body:
				if err := d.Ack(false); err != nil {
					c.logger.Warn("ack failed, message may be redelivered", "queue", queue, "error", err)
				}
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return false
			}
		}
	}
}

// reopen retries the consume setup until it works or ctx is done. The
// ConnectionManager redials in the background, so failures here are
// expected while the broker is still away.
func (c *Consumer) reopen(ctx context.Context, queue string) (*amqp.Channel, <-chan amqp.Delivery) {
	for {
		select {
		case <-time.After(c.reopenDelay):
		case <-ctx.Done():
			return nil, nil
		}

		ch, deliveries, err := c.open(queue)
		if err != nil {
			c.logger.Debug("consume stream not yet recoverable", "queue", queue, "error", err)
			continue
		}
		return ch, deliveries
	}
}
