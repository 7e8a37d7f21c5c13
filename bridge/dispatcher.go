package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/scholardex/scholardex-go/contracts"
	"github.com/scholardex/scholardex-go/messaging"
)

// DefaultTimeout is the response deadline used when a submission does
// not override it.
const DefaultTimeout = 120 * time.Second

// Dispatcher publishes requests and blocks callers until the paired
// response arrives or the deadline passes. It never retries: a failed
// publish surfaces immediately as a ConnectionError and an unanswered
// request surfaces as a TimeoutError.
type Dispatcher struct {
	publisher messaging.Publisher
	registry  *Registry
	topics    map[contracts.Kind]string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher publishing on the given per-kind
// request topics.
func NewDispatcher(publisher messaging.Publisher, registry *Registry, topics map[contracts.Kind]string, timeout time.Duration, logger *slog.Logger) (*Dispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("topics cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		publisher: publisher,
		registry:  registry,
		topics:    topics,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Submit publishes req and waits for its response. A timeout of zero
// or less uses the dispatcher default. Submit returns exactly once per
// call: the response, a ConnectionError when the publish failed, a
// TimeoutError when the deadline expired unanswered, or the context
// error when the caller gave up first. A response racing the deadline
// wins whenever it lands before the expiry bookkeeping does.
func (d *Dispatcher) Submit(ctx context.Context, req contracts.Request, timeout time.Duration) (contracts.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	kind := req.Kind()
	topic, bound := d.topics[kind]
	if !bound {
		return nil, fmt.Errorf("no request topic bound for kind %s", kind)
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	correlationID := uuid.New().String()
	req.SetCorrelationID(correlationID)

	pending, err := d.registry.Register(correlationID, kind)
	if err != nil {
		return nil, err
	}

	payload, err := contracts.EncodeRequest(req)
	if err != nil {
		d.registry.Remove(correlationID)
		return nil, err
	}

	start := time.Now()
	requestsSubmitted.WithLabelValues(kind.String()).Inc()

	if err := d.publisher.Publish(ctx, topic, payload); err != nil {
		d.registry.Remove(correlationID)
		d.logger.Error("failed to publish request",
			"topic", topic,
			"correlationId", correlationID,
			"error", err)
		return nil, &contracts.ConnectionError{Op: "publish " + topic, Err: err}
	}

	d.logger.Debug("request published",
		"topic", topic,
		"correlationId", correlationID,
		"kind", kind.String())

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pending.Done():
		return d.deliver(pending, kind, start)

	case <-timer.C:
		timeoutErr := &contracts.TimeoutError{Kind: kind, CorrelationID: correlationID, Timeout: timeout}
		if d.registry.Expire(correlationID, timeoutErr) {
			requestTimeouts.WithLabelValues(kind.String()).Inc()
			d.logger.Warn("request timed out",
				"topic", topic,
				"correlationId", correlationID,
				"timeout", timeout)
			return nil, timeoutErr
		}
		// The response won the race; it is readable momentarily.
		<-pending.Done()
		return d.deliver(pending, kind, start)

	case <-ctx.Done():
		if d.registry.Expire(correlationID, ctx.Err()) {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		<-pending.Done()
		return d.deliver(pending, kind, start)
	}
}

func (d *Dispatcher) deliver(pending *PendingRequest, kind contracts.Kind, start time.Time) (contracts.Response, error) {
	resp, err := pending.Result()
	if err != nil {
		return nil, err
	}
	responsesResolved.WithLabelValues(kind.String()).Inc()
	requestDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	return resp, nil
}
