// Package scholardex gives synchronous callers a typed request and
// response surface over the asynchronous indexing backend. A Client
// owns a broker connection and the correlation machinery; each call
// publishes one request and blocks until the paired response arrives
// or the deadline passes.
package scholardex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scholardex/scholardex-go/bridge"
	"github.com/scholardex/scholardex-go/contracts"
	"github.com/scholardex/scholardex-go/messaging"
	rabbitmqTransport "github.com/scholardex/scholardex-go/transports/rabbitmq"
)

// Client is the main entry point, one method per request kind.
type Client struct {
	broker messaging.Broker
	bridge *bridge.Bridge
}

type clientConfig struct {
	logger           *slog.Logger
	timeout          time.Duration
	bindings         []bridge.Binding
	transportOptions []rabbitmqTransport.TransportOption
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithResponseTimeout sets the default deadline applied to every call.
func WithResponseTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = timeout
	}
}

// WithBindings overrides the topic names used per kind.
func WithBindings(bindings []bridge.Binding) ClientOption {
	return func(cfg *clientConfig) {
		cfg.bindings = bindings
	}
}

// WithTransportOptions forwards options to the RabbitMQ transport.
// NewClientWithBroker ignores them.
func WithTransportOptions(options ...rabbitmqTransport.TransportOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transportOptions = append(cfg.transportOptions, options...)
	}
}

// NewClient dials RabbitMQ at url, declares every bound topic, and
// starts the response listeners. ctx bounds the dial and declarations
// only; the client runs until Close.
func NewClient(ctx context.Context, url string, options ...ClientOption) (*Client, error) {
	cfg := newClientConfig(options)

	transportOptions := append([]rabbitmqTransport.TransportOption{
		rabbitmqTransport.WithTransportLogger(cfg.logger),
	}, cfg.transportOptions...)

	transport, err := rabbitmqTransport.NewTransport(ctx, url, transportOptions...)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	topics := make([]string, 0, len(cfg.bindings)*2)
	for _, binding := range cfg.bindings {
		topics = append(topics, binding.RequestTopic, binding.ResponseTopic)
	}
	if err := transport.DeclareTopics(ctx, topics...); err != nil {
		transport.Close()
		return nil, fmt.Errorf("declare topics: %w", err)
	}

	client, err := newClient(transport, cfg)
	if err != nil {
		transport.Close()
		return nil, err
	}
	return client, nil
}

// NewClientWithBroker assembles a client over an existing broker. The
// topics in the bindings must already exist on the broker. Close
// closes the broker.
func NewClientWithBroker(broker messaging.Broker, options ...ClientOption) (*Client, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	return newClient(broker, newClientConfig(options))
}

func newClient(broker messaging.Broker, cfg *clientConfig) (*Client, error) {
	b, err := bridge.New(broker,
		bridge.WithBindings(cfg.bindings),
		bridge.WithDefaultTimeout(cfg.timeout),
		bridge.WithLogger(cfg.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge: %w", err)
	}

	// Listener lifetime is bound to Close, not to the setup context,
	// which is usually a short startup timeout.
	if err := b.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start bridge: %w", err)
	}

	return &Client{broker: broker, bridge: b}, nil
}

func newClientConfig(options []ClientOption) *clientConfig {
	cfg := &clientConfig{
		logger:   slog.Default(),
		timeout:  bridge.DefaultTimeout,
		bindings: bridge.DefaultBindings(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// IndexPapers asks the backend to crawl the scholar profile at
// scholarURL and index every paper it links. The ack carries the
// correlation id of the accepted run.
func (c *Client) IndexPapers(ctx context.Context, scholarURL string) (*contracts.SearchAck, error) {
	if strings.TrimSpace(scholarURL) == "" {
		return nil, fmt.Errorf("scholar url cannot be empty")
	}
	return bridge.Request[*contracts.SearchAck](ctx, c.bridge, contracts.NewSearchRequest(scholarURL), 0)
}

// SearchTerm queries the inverted index for one term.
func (c *Client) SearchTerm(ctx context.Context, term string) (*contracts.TermSearchResult, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("term cannot be empty")
	}
	return bridge.Request[*contracts.TermSearchResult](ctx, c.bridge, contracts.NewTermSearchRequest(term), 0)
}

// TopTerms returns the n terms with the highest total frequency
// across the corpus.
func (c *Client) TopTerms(ctx context.Context, n int) (*contracts.TopNResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive, got %d", n)
	}
	return bridge.Request[*contracts.TopNResult](ctx, c.bridge, contracts.NewTopNRequest(n), 0)
}

// PendingCount reports how many calls are waiting on responses.
func (c *Client) PendingCount() int {
	return c.bridge.PendingCount()
}

// Close stops the response listeners and closes the broker. In-flight
// calls still finish by resolution or timeout.
func (c *Client) Close() error {
	c.bridge.Close()
	return c.broker.Close()
}
