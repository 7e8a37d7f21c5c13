package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scholardex/scholardex-go/contracts"
	"github.com/scholardex/scholardex-go/messaging"
)

// ResponseListener consumes one response topic for the lifetime of the
// bridge and resolves pending requests as their responses arrive.
// Payloads that fail to decode are logged and dropped; payloads whose
// correlation id has no pending request are dropped silently. Neither
// stops the loop.
type ResponseListener struct {
	kind       contracts.Kind
	topic      string
	registry   *Registry
	subscriber messaging.Subscriber
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewResponseListener creates a listener for one kind's response topic.
func NewResponseListener(kind contracts.Kind, topic string, registry *Registry, subscriber messaging.Subscriber, logger *slog.Logger) *ResponseListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseListener{
		kind:       kind,
		topic:      topic,
		registry:   registry,
		subscriber: subscriber,
		logger:     logger,
	}
}

// Start subscribes to the topic and launches the consume loop. The
// subscription is live when Start returns.
func (l *ResponseListener) Start(ctx context.Context) error {
	payloads, err := l.subscriber.Subscribe(ctx, l.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", l.topic, err)
	}

	l.logger.Info("response listener started",
		"topic", l.topic,
		"kind", l.kind.String())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.consume(ctx, payloads)
	}()
	return nil
}

// Wait blocks until the consume loop has exited.
func (l *ResponseListener) Wait() {
	l.wg.Wait()
}

func (l *ResponseListener) consume(ctx context.Context, payloads <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("response listener stopped", "topic", l.topic)
			return
		case payload, ok := <-payloads:
			if !ok {
				if ctx.Err() == nil {
					l.logger.Error("subscription closed unexpectedly", "topic", l.topic)
				}
				return
			}
			l.handlePayload(payload)
		}
	}
}

func (l *ResponseListener) handlePayload(payload []byte) {
	resp, err := contracts.DecodeResponse(l.kind, payload)
	if err != nil {
		decodeFailures.WithLabelValues(l.kind.String()).Inc()
		l.logger.Warn("discarding undecodable response",
			"topic", l.topic,
			"error", err)
		return
	}

	correlationID := resp.GetCorrelationID()
	if !l.registry.Resolve(correlationID, resp) {
		// Timed out, already resolved, or never ours. Dropping is the
		// contract.
		unknownResponses.WithLabelValues(l.kind.String()).Inc()
		l.logger.Debug("no pending request for response",
			"topic", l.topic,
			"correlationId", correlationID)
		return
	}

	l.logger.Debug("response resolved",
		"topic", l.topic,
		"correlationId", correlationID)
}
