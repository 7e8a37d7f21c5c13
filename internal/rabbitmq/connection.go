package rabbitmq

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStateListener receives connection state change notifications.
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager owns the AMQP connection and redials it when the
// broker goes away. Consumers and the channel pool always fetch the
// current connection through GetConnection instead of holding one.
type ConnectionManager struct {
	url            string
	dialTimeout    time.Duration
	reconnectDelay time.Duration
	maxReconnects  int
	logger         *slog.Logger

	mu        sync.RWMutex
	conn      *amqp.Connection
	connected bool

	listenersMu sync.RWMutex
	listeners   []ConnectionStateListener

	done      chan struct{}
	closeOnce sync.Once
}

// ConnectionOption configures the ConnectionManager.
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithDialTimeout bounds a single dial attempt.
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithReconnectDelay sets the base delay between reconnection attempts.
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxReconnects caps reconnection attempts per disconnection.
// Values below 1 mean retry forever.
func WithMaxReconnects(attempts int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxReconnects = attempts
	}
}

// NewConnectionManager creates a manager for the given broker URL. No
// connection is made until Connect.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dialTimeout:    30 * time.Second,
		reconnectDelay: 5 * time.Second,
		maxReconnects:  -1,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the initial connection and starts the close
// watcher. Calling Connect on a connected manager is a no-op.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.connected {
		return nil
	}
	select {
	case <-cm.done:
		return ErrConnectionClosed
	default:
	}

	conn, err := cm.dial(ctx)
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Attempts:  1,
			Timestamp: time.Now(),
		}
	}

	notify := cm.adopt(conn)
	cm.logger.Info("connected to broker", "url", SanitizeURL(cm.url))
	cm.notifyConnected()
	go cm.watch(notify)

	return nil
}

// GetConnection returns the live connection or an error while the
// manager is between connections.
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.connected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// IsConnected reports whether a usable connection is available.
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connected && cm.conn != nil && !cm.conn.IsClosed()
}

// Close shuts the manager down. Safe to call more than once and before
// Connect.
func (cm *ConnectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.done)

		cm.mu.Lock()
		conn := cm.conn
		cm.conn = nil
		cm.connected = false
		cm.mu.Unlock()

		if conn != nil && !conn.IsClosed() {
			err = conn.Close()
		}
		cm.logger.Info("connection manager closed")
	})
	return err
}

// AddStateListener registers a listener for state change notifications.
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// dial opens one AMQP connection, honoring ctx and the configured dial
// timeout. amqp.Dial has no context support, so the dial runs in its
// own goroutine and a connection that lands after the deadline is
// closed rather than leaked.
func (cm *ConnectionManager) dial(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	results := make(chan dialResult, 1)
	go func() {
		conn, err := amqp.Dial(cm.url)
		results <- dialResult{conn: conn, err: err}
	}()

	select {
	case res := <-results:
		return res.conn, res.err
	case <-dialCtx.Done():
		go func() {
			if res := <-results; res.conn != nil {
				res.conn.Close()
			}
		}()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrConnectionTimeout
	}
}

// adopt installs conn as the current connection and registers the close
// notification channel. Callers must hold cm.mu.
func (cm *ConnectionManager) adopt(conn *amqp.Connection) chan *amqp.Error {
	cm.conn = conn
	cm.connected = true
	notify := make(chan *amqp.Error, 1)
	conn.NotifyClose(notify)
	return notify
}

// watch waits for the current connection to die and hands off to the
// reconnect loop. Each adopted connection gets its own watcher.
func (cm *ConnectionManager) watch(notify chan *amqp.Error) {
	select {
	case <-cm.done:
		return
	case amqpErr, ok := <-notify:
		select {
		case <-cm.done:
			return
		default:
		}

		var cause error
		if ok && amqpErr != nil {
			cause = amqpErr
			cm.logger.Error("broker connection lost", "error", amqpErr)
		}

		cm.mu.Lock()
		cm.conn = nil
		cm.connected = false
		cm.mu.Unlock()

		cm.notifyDisconnected(cause)
		cm.reconnect()
	}
}

// reconnect redials until it succeeds, the attempt budget runs out, or
// the manager is closed.
func (cm *ConnectionManager) reconnect() {
	start := time.Now()

	for attempt := 1; ; attempt++ {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.maxReconnects > 0 && attempt > cm.maxReconnects {
			err := &ConnectionError{
				Op:        "reconnect",
				URL:       SanitizeURL(cm.url),
				Err:       ErrMaxRetriesExceeded,
				Attempts:  attempt - 1,
				Timestamp: time.Now(),
			}
			cm.logger.Error("giving up on reconnection",
				"attempts", attempt-1,
				"elapsed", time.Since(start))
			cm.notifyDisconnected(err)
			return
		}

		cm.notifyReconnecting(attempt)

		if attempt > 1 {
			delay := cm.backoff(attempt - 1)
			cm.logger.Info("waiting before reconnect attempt",
				"attempt", attempt,
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-cm.done:
				return
			}
		}

		conn, err := cm.dial(context.Background())
		if err != nil {
			cm.logger.Warn("reconnect attempt failed",
				"attempt", attempt,
				"error", err)
			continue
		}

		cm.mu.Lock()
		select {
		case <-cm.done:
			// Close raced the successful dial.
			cm.mu.Unlock()
			conn.Close()
			return
		default:
		}
		notify := cm.adopt(conn)
		cm.mu.Unlock()

		cm.logger.Info("reconnected to broker",
			"attempts", attempt,
			"elapsed", time.Since(start))
		cm.notifyConnected()
		go cm.watch(notify)
		return
	}
}

// backoff grows the reconnect delay exponentially, capped at five
// minutes, with ±25% jitter so a fleet of clients does not redial in
// lockstep.
func (cm *ConnectionManager) backoff(failures int) time.Duration {
	const maxDelay = 5 * time.Minute

	delay := cm.reconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for i := 1; i < failures && delay < maxDelay; i++ {
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(delay / 2)))
	return delay - delay/4 + jitter
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, listener := range cm.listeners {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, listener := range cm.listeners {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, listener := range cm.listeners {
		go listener.OnReconnecting(attempt)
	}
}
