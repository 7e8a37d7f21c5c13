package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TopologyManager declares the queues the topic transport publishes to
// and consumes from. Topics map to durable queues on the default
// exchange, so a declaration is all the routing setup a topic needs.
type TopologyManager struct {
	pool *ChannelPool
}

// NewTopologyManager creates a topology manager on top of pool.
func NewTopologyManager(pool *ChannelPool) *TopologyManager {
	return &TopologyManager{pool: pool}
}

// DeclareQueue declares name as a durable, non-exclusive queue.
// Redeclaring an existing queue with the same attributes is a no-op on
// the broker.
func (tm *TopologyManager) DeclareQueue(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: queue name is empty", ErrInvalidConfiguration)
	}

	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(name, true, false, false, false, nil)
		return err
	})
	if err != nil {
		return &TopologyError{Op: "declare", Queue: name, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// DeclareQueues declares every named queue, stopping at the first
// failure.
func (tm *TopologyManager) DeclareQueues(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := tm.DeclareQueue(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// QueueDepth reports the number of messages waiting in a queue.
func (tm *TopologyManager) QueueDepth(ctx context.Context, name string) (int, error) {
	var depth int
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueInspect(name)
		if err != nil {
			return err
		}
		depth = q.Messages
		return nil
	})
	if err != nil {
		return 0, &TopologyError{Op: "inspect", Queue: name, Err: err, Timestamp: time.Now()}
	}
	return depth, nil
}

// DeleteQueue removes a queue and whatever it still holds.
func (tm *TopologyManager) DeleteQueue(ctx context.Context, name string) error {
	err := tm.pool.Execute(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDelete(name, false, false, false)
		return err
	})
	if err != nil {
		return &TopologyError{Op: "delete", Queue: name, Err: err, Timestamp: time.Now()}
	}
	return nil
}
