package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scholardex/scholardex-go/contracts"
	"github.com/scholardex/scholardex-go/messaging"
)

// Binding names the topic pair one kind travels over.
type Binding struct {
	Kind          contracts.Kind
	RequestTopic  string
	ResponseTopic string
}

// DefaultBindings returns the production topic names for every kind.
func DefaultBindings() []Binding {
	return []Binding{
		{Kind: contracts.KindSearch, RequestTopic: "search-request", ResponseTopic: "search-response"},
		{Kind: contracts.KindSearchTerm, RequestTopic: "search-term-request", ResponseTopic: "search-term-response"},
		{Kind: contracts.KindTopN, RequestTopic: "topn-request", ResponseTopic: "topn-response"},
	}
}

// Option configures the bridge.
type Option func(*Config)

// Config holds configuration for the bridge.
type Config struct {
	Bindings       []Binding
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// WithBindings overrides the topic pairs.
func WithBindings(bindings []Binding) Option {
	return func(c *Config) {
		c.Bindings = bindings
	}
}

// WithDefaultTimeout sets the response deadline used when a submission
// does not override it.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.DefaultTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Bridge owns the correlation registry, the request dispatcher, and
// one response listener per kind.
type Bridge struct {
	broker     messaging.Broker
	registry   *Registry
	dispatcher *Dispatcher
	bindings   []Binding
	logger     *slog.Logger

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	listeners []*ResponseListener
}

// New creates a bridge over the given broker. Listeners do not consume
// until Start.
func New(broker messaging.Broker, opts ...Option) (*Bridge, error) {
	if broker == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}

	config := &Config{
		Bindings:       DefaultBindings(),
		DefaultTimeout: DefaultTimeout,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(config)
	}

	if err := validateBindings(config.Bindings); err != nil {
		return nil, err
	}

	requestTopics := make(map[contracts.Kind]string, len(config.Bindings))
	for _, binding := range config.Bindings {
		requestTopics[binding.Kind] = binding.RequestTopic
	}

	registry := NewRegistry()
	dispatcher, err := NewDispatcher(broker, registry, requestTopics, config.DefaultTimeout, config.Logger)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		broker:     broker,
		registry:   registry,
		dispatcher: dispatcher,
		bindings:   config.Bindings,
		logger:     config.Logger,
	}, nil
}

func validateBindings(bindings []Binding) error {
	if len(bindings) == 0 {
		return fmt.Errorf("bindings cannot be empty")
	}
	seen := make(map[contracts.Kind]bool, len(bindings))
	for _, binding := range bindings {
		if !binding.Kind.Valid() {
			return fmt.Errorf("unknown kind %q in bindings", string(binding.Kind))
		}
		if seen[binding.Kind] {
			return fmt.Errorf("duplicate binding for kind %s", binding.Kind)
		}
		seen[binding.Kind] = true
		if binding.RequestTopic == "" || binding.ResponseTopic == "" {
			return fmt.Errorf("binding for kind %s has an empty topic", binding.Kind)
		}
	}
	return nil
}

// Start subscribes a listener to every response topic. Subscriptions
// are live when Start returns.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("bridge already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	listeners := make([]*ResponseListener, 0, len(b.bindings))
	for _, binding := range b.bindings {
		listener := NewResponseListener(binding.Kind, binding.ResponseTopic, b.registry, b.broker, b.logger)
		if err := listener.Start(runCtx); err != nil {
			cancel()
			for _, l := range listeners {
				l.Wait()
			}
			return err
		}
		listeners = append(listeners, listener)
	}

	b.cancel = cancel
	b.listeners = listeners
	b.started = true
	b.logger.Info("bridge started", "listeners", len(listeners))
	return nil
}

// Submit publishes req and waits for its response. A timeout of zero
// or less uses the configured default.
func (b *Bridge) Submit(ctx context.Context, req contracts.Request, timeout time.Duration) (contracts.Response, error) {
	return b.dispatcher.Submit(ctx, req, timeout)
}

// PendingCount returns the number of in-flight requests.
func (b *Bridge) PendingCount() int {
	return b.registry.Len()
}

// Close stops the listeners and waits for them to exit. In-flight
// submissions still finish by resolution or timeout.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.cancel()
	for _, listener := range b.listeners {
		listener.Wait()
	}
	b.started = false
	b.logger.Info("bridge stopped")
	return nil
}

// Request dispatches req through the bridge and returns the response
// as the concrete type T.
func Request[T contracts.Response](ctx context.Context, b *Bridge, req contracts.Request, timeout time.Duration) (T, error) {
	var zero T

	resp, err := b.Submit(ctx, req, timeout)
	if err != nil {
		return zero, err
	}

	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: got %T, want %T", resp, zero)
	}
	return typed, nil
}
