package messaging

import (
	"context"
	"errors"
)

// ErrClosed is returned for operations on a closed broker.
var ErrClosed = errors.New("messaging: broker is closed")

// Publisher delivers opaque payloads to named topics.
type Publisher interface {
	// Publish sends one payload to the topic. Delivery is
	// fire-and-forget: a topic with no consumers drops the payload.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Subscriber hands out receive channels for named topics.
type Subscriber interface {
	// Subscribe returns a channel producing every payload published to
	// the topic from now on. Receiving blocks while nothing is
	// pending. The channel stays open across transport reconnects and
	// closes only when ctx is done or the broker is closed.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	// Close releases any resources held by the subscriber.
	Close() error
}

// Broker combines both halves of a transport.
type Broker interface {
	Publisher
	Subscriber
}
