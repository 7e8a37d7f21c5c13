package messaging

import (
	"context"
	"sync"
)

// InMemoryBroker is a channel-based broker for a single process. It is
// suitable for tests and local development. Messages are not persisted
// and are dropped when a topic has no subscribers.
type InMemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]*memSubscription
	closed bool
}

// memSubscription pumps enqueued payloads to one receive channel. Only
// the pump goroutine sends on out, so closing it on shutdown cannot
// race a publisher.
type memSubscription struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	queue [][]byte
	wake  chan struct{}
	out   chan []byte
	done  chan struct{}
}

// NewInMemoryBroker creates an empty in-memory broker.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		subs: make(map[string][]*memSubscription),
	}
}

// Publish delivers payload to every current subscriber of topic. A
// topic with no subscribers drops the payload.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subs := b.subs[topic]
	if len(subs) == 0 {
		return nil
	}

	// One shared copy so subscribers never see later mutations of the
	// caller's slice.
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		sub.enqueue(payloadCopy)
	}
	return nil
}

// Subscribe registers a new receive channel for topic. The channel
// closes when ctx is done or the broker is closed.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memSubscription{
		ctx:    subCtx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		out:    make(chan []byte),
		done:   make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	go sub.run()
	go func() {
		<-subCtx.Done()
		b.removeSubscription(topic, sub)
		close(sub.done)
	}()

	return sub.out, nil
}

// Close cancels every subscription and rejects further operations.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	var all []*memSubscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*memSubscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.cancel()
	}
	return nil
}

func (b *InMemoryBroker) removeSubscription(topic string, target *memSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, sub := range subs {
		if sub == target {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// enqueue appends one payload and nudges the pump. The queue is
// unbounded; a subscriber that stops receiving only grows its own
// backlog.
func (s *memSubscription) enqueue(payload []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memSubscription) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) > 0 {
			payload := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- payload:
			case <-s.done:
				return
			}
			s.mu.Lock()
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}
