package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool maintains a bounded set of AMQP channels shared by the
// publisher and topology operations. Channels are opened lazily,
// checked for liveness on the way out, and reaped after sitting idle.
type ChannelPool struct {
	manager        *ConnectionManager
	maxSize        int
	acquireTimeout time.Duration
	idleTimeout    time.Duration

	mu     sync.Mutex
	active int
	closed bool

	idle chan *PooledChannel
	stop chan struct{}
}

// PooledChannel is an AMQP channel owned by a pool.
type PooledChannel struct {
	*amqp.Channel
	confirming bool
	lastUsed   time.Time
}

// ConfirmMode puts the underlying channel into publisher-confirm mode.
// The broker treats a repeated confirm.select as a no-op, but tracking
// it locally saves a round trip per publish on a reused channel.
func (pc *PooledChannel) ConfirmMode() error {
	if pc.confirming {
		return nil
	}
	if err := pc.Confirm(false); err != nil {
		return err
	}
	pc.confirming = true
	return nil
}

// ChannelPoolOption configures the channel pool.
type ChannelPoolOption func(*ChannelPool)

// WithMaxChannels sets the maximum number of channels the pool opens.
func WithMaxChannels(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = size
	}
}

// WithAcquireTimeout bounds how long Get waits for a channel when the
// pool is at capacity.
func WithAcquireTimeout(timeout time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.acquireTimeout = timeout
	}
}

// WithIdleTimeout sets how long an unused channel may linger before the
// reaper closes it.
func WithIdleTimeout(timeout time.Duration) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.idleTimeout = timeout
	}
}

// NewChannelPool creates an empty pool backed by manager. Channels are
// not opened until first use.
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, fmt.Errorf("%w: connection manager is nil", ErrInvalidConfiguration)
	}

	cp := &ChannelPool{
		manager:        manager,
		maxSize:        10,
		acquireTimeout: 5 * time.Second,
		idleTimeout:    5 * time.Minute,
		stop:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cp)
	}

	if cp.maxSize < 1 {
		return nil, fmt.Errorf("%w: max channels must be at least 1", ErrInvalidConfiguration)
	}

	cp.idle = make(chan *PooledChannel, cp.maxSize)
	go cp.reapLoop()

	return cp, nil
}

// Get returns a live channel, opening one if the pool is under its cap.
// At capacity it waits for a channel to come back, bounded by ctx and
// the acquire timeout.
func (cp *ChannelPool) Get(ctx context.Context) (*PooledChannel, error) {
	for {
		cp.mu.Lock()
		if cp.closed {
			cp.mu.Unlock()
			return nil, ErrChannelPoolClosed
		}

		select {
		case pc := <-cp.idle:
			cp.mu.Unlock()
			if pc.IsClosed() {
				cp.discard(pc)
				continue
			}
			pc.lastUsed = time.Now()
			return pc, nil
		default:
		}

		if cp.active < cp.maxSize {
			// Reserve the slot before the dial so concurrent Gets
			// cannot overshoot the cap.
			cp.active++
			cp.mu.Unlock()

			pc, err := cp.open()
			if err != nil {
				cp.mu.Lock()
				cp.active--
				cp.mu.Unlock()
				return nil, err
			}
			return pc, nil
		}
		cp.mu.Unlock()

		select {
		case pc := <-cp.idle:
			if pc.IsClosed() {
				cp.discard(pc)
				continue
			}
			pc.lastUsed = time.Now()
			return pc, nil
		case <-ctx.Done():
			return nil, &ChannelError{Op: "acquire", Err: ctx.Err(), Timestamp: time.Now()}
		case <-time.After(cp.acquireTimeout):
			return nil, &ChannelError{Op: "acquire", Err: ErrChannelPoolExhausted, Timestamp: time.Now()}
		case <-cp.stop:
			return nil, ErrChannelPoolClosed
		}
	}
}

// Put returns a channel to the pool. Dead channels and returns after
// Close are discarded.
func (cp *ChannelPool) Put(pc *PooledChannel) {
	if pc == nil {
		return
	}

	cp.mu.Lock()
	closed := cp.closed
	cp.mu.Unlock()

	if closed || pc.IsClosed() {
		cp.discard(pc)
		return
	}

	pc.lastUsed = time.Now()
	select {
	case cp.idle <- pc:
	default:
		cp.discard(pc)
	}
}

// Execute borrows a channel, runs fn with it, and returns it.
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) error {
	pc, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(pc)
	return fn(pc.Channel)
}

// Size returns the number of channels the pool currently owns,
// including checked-out ones.
func (cp *ChannelPool) Size() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.active
}

// Close stops the reaper, releases idle channels, and fails all
// pending and future Gets. Checked-out channels are closed as they
// come back through Put.
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	close(cp.stop)

	for {
		select {
		case pc := <-cp.idle:
			cp.discard(pc)
		default:
			return nil
		}
	}
}

// open dials a fresh channel on the current connection. The caller has
// already reserved an active slot.
func (cp *ChannelPool) open() (*PooledChannel, error) {
	conn, err := cp.manager.GetConnection()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}
	return &PooledChannel{Channel: ch, lastUsed: time.Now()}, nil
}

// discard closes a channel and gives its slot back.
func (cp *ChannelPool) discard(pc *PooledChannel) {
	pc.Channel.Close()
	cp.mu.Lock()
	cp.active--
	cp.mu.Unlock()
}

func (cp *ChannelPool) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-cp.stop:
			return
		case <-ticker.C:
			cp.reapIdle(time.Now().Add(-cp.idleTimeout))
		}
	}
}

// reapIdle closes idle channels last used before cutoff.
func (cp *ChannelPool) reapIdle(cutoff time.Time) {
	var keep []*PooledChannel
	for {
		select {
		case pc := <-cp.idle:
			if pc.IsClosed() || pc.lastUsed.Before(cutoff) {
				cp.discard(pc)
			} else {
				keep = append(keep, pc)
			}
		default:
			for _, pc := range keep {
				select {
				case cp.idle <- pc:
				default:
					cp.discard(pc)
				}
			}
			return
		}
	}
}
