// Package rabbitmq adapts RabbitMQ to the messaging.Broker surface.
// Topics map to durable queues on the default exchange (routing key =
// queue name = topic), Publish is a confirmed send, and Subscribe is a
// consume stream that survives broker restarts.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scholardex/scholardex-go/internal/rabbitmq"
	"github.com/scholardex/scholardex-go/messaging"
)

// Transport implements messaging.Broker over AMQP.
type Transport struct {
	manager   *rabbitmq.ConnectionManager
	pool      *rabbitmq.ChannelPool
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	topology  *rabbitmq.TopologyManager
	logger    *slog.Logger

	mu       sync.Mutex
	declared map[string]bool
	cancels  []context.CancelFunc
	closed   bool
}

// TransportConfig holds configuration for the transport.
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	PoolOptions       []rabbitmq.ChannelPoolOption
	PublisherOptions  []rabbitmq.PublisherOption
	ConsumerOptions   []rabbitmq.ConsumerOption
	Logger            *slog.Logger
}

// TransportOption configures the transport.
type TransportOption func(*TransportConfig)

// WithConnectionOptions sets connection manager options.
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPoolOptions sets channel pool options.
func WithPoolOptions(opts ...rabbitmq.ChannelPoolOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PoolOptions = append(cfg.PoolOptions, opts...)
	}
}

// WithPublisherOptions sets publisher options.
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithConsumerOptions sets consumer options.
func WithConsumerOptions(opts ...rabbitmq.ConsumerOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConsumerOptions = append(cfg.ConsumerOptions, opts...)
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// NewTransport dials the broker at url and assembles the transport.
// The dial is bounded by ctx.
func NewTransport(ctx context.Context, url string, options ...TransportOption) (*Transport, error) {
	cfg := &TransportConfig{Logger: slog.Default()}
	for _, opt := range options {
		opt(cfg)
	}

	manager := rabbitmq.NewConnectionManager(url, cfg.ConnectionOptions...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	pool, err := rabbitmq.NewChannelPool(manager, cfg.PoolOptions...)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("create channel pool: %w", err)
	}

	t := &Transport{
		manager:   manager,
		pool:      pool,
		publisher: rabbitmq.NewPublisher(pool, cfg.PublisherOptions...),
		consumer:  rabbitmq.NewConsumer(manager, cfg.ConsumerOptions...),
		topology:  rabbitmq.NewTopologyManager(pool),
		logger:    cfg.Logger,
		declared:  make(map[string]bool),
	}
	manager.AddStateListener(t)

	return t, nil
}

var _ messaging.Broker = (*Transport)(nil)

// Publish sends payload to the queue backing topic and waits for the
// broker confirm.
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.ensureTopic(ctx, topic); err != nil {
		return err
	}
	return t.publisher.Publish(ctx, topic, payload)
}

// Subscribe opens a consume stream for topic. The returned channel
// stays open across broker reconnects and closes when ctx is done or
// the transport is closed.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	if err := t.ensureTopic(ctx, topic); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	payloads, err := t.consumer.Consume(subCtx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return nil, messaging.ErrClosed
	}
	t.cancels = append(t.cancels, cancel)
	t.mu.Unlock()

	t.logger.Debug("subscribed to topic", "topic", topic)
	return payloads, nil
}

// DeclareTopics declares the backing queues for every topic up front.
func (t *Transport) DeclareTopics(ctx context.Context, topics ...string) error {
	for _, topic := range topics {
		if err := t.ensureTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// QueueDepth reports the backlog of the queue backing topic.
func (t *Transport) QueueDepth(ctx context.Context, topic string) (int, error) {
	return t.topology.QueueDepth(ctx, topic)
}

// IsConnected reports whether the broker connection is usable.
func (t *Transport) IsConnected() bool {
	return t.manager.IsConnected()
}

// Close cancels all subscriptions and releases the pool and the
// connection. Further operations return messaging.ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return messaging.ErrClosed
	}
	t.closed = true
	cancels := t.cancels
	t.cancels = nil
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if err := t.pool.Close(); err != nil {
		t.logger.Warn("close channel pool", "error", err)
	}
	return t.manager.Close()
}

// OnConnected implements rabbitmq.ConnectionStateListener. Known
// queues are redeclared after a reconnect in case the broker came back
// without its prior state.
func (t *Transport) OnConnected() {
	t.mu.Lock()
	topics := make([]string, 0, len(t.declared))
	for topic := range t.declared {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	if len(topics) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := t.topology.DeclareQueues(ctx, topics...); err != nil {
		t.logger.Error("redeclare queues after reconnect", "error", err)
	}
}

// OnDisconnected implements rabbitmq.ConnectionStateListener.
// Consumers reopen their own streams once the redial succeeds.
func (t *Transport) OnDisconnected(err error) {}

// OnReconnecting implements rabbitmq.ConnectionStateListener.
func (t *Transport) OnReconnecting(attempt int) {}

// ensureTopic declares the backing queue once per topic.
func (t *Transport) ensureTopic(ctx context.Context, topic string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return messaging.ErrClosed
	}
	if t.declared[topic] {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	// Declared outside the lock; a duplicate declaration is harmless.
	if err := t.topology.DeclareQueue(ctx, topic); err != nil {
		return err
	}

	t.mu.Lock()
	t.declared[topic] = true
	t.mu.Unlock()
	return nil
}
