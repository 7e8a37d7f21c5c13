package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends payloads to queues on the default exchange and waits
// for the broker's publisher confirm. A failed send is retried a
// bounded number of times with linear backoff; this is delivery
// robustness on a flaky channel, not application-level re-issue.
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
	maxAttempts    int
	retryDelay     time.Duration
	logger         *slog.Logger
}

// PublisherOption configures the publisher.
type PublisherOption func(*Publisher)

// WithConfirmTimeout bounds the wait for a broker confirm per attempt.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithMaxAttempts sets the total number of send attempts per publish.
func WithMaxAttempts(attempts int) PublisherOption {
	return func(p *Publisher) {
		p.maxAttempts = attempts
	}
}

// WithRetryDelay sets the base delay between send attempts.
func WithRetryDelay(delay time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.retryDelay = delay
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher on top of pool.
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
		maxAttempts:    3,
		retryDelay:     500 * time.Millisecond,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends body to queue via the default exchange and returns once
// the broker has confirmed it.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte) error {
	if queue == "" {
		return fmt.Errorf("%w: queue name is empty", ErrInvalidConfiguration)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * p.retryDelay):
			case <-ctx.Done():
				return &PublishError{Queue: queue, Attempts: attempts, Err: ctx.Err(), Timestamp: time.Now()}
			}
		}

		attempts = attempt
		err := p.publishOnce(ctx, queue, msg)
		if err == nil {
			if attempt > 1 {
				p.logger.Info("publish succeeded after retry", "queue", queue, "attempt", attempt)
			}
			return nil
		}

		lastErr = err
		if IsFatal(err) {
			break
		}
		p.logger.Warn("publish attempt failed", "queue", queue, "attempt", attempt, "error", err)
	}

	return &PublishError{Queue: queue, Attempts: attempts, Err: lastErr, Timestamp: time.Now()}
}

// publishOnce performs one confirmed send on a pooled channel.
func (p *Publisher) publishOnce(ctx context.Context, queue string, msg amqp.Publishing) error {
	pc, err := p.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer p.pool.Put(pc)

	if err := pc.ConfirmMode(); err != nil {
		return &ChannelError{Op: "confirm mode", Err: err, Timestamp: time.Now()}
	}

	confirmCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	confirm, err := pc.PublishWithDeferredConfirmWithContext(confirmCtx, "", queue, false, false, msg)
	if err != nil {
		return fmt.Errorf("basic.publish to %q: %w", queue, err)
	}

	acked, err := confirm.WaitContext(confirmCtx)
	if err != nil {
		if confirmCtx.Err() != nil && ctx.Err() == nil {
			return ErrConfirmTimeout
		}
		return err
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}
