package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// Connection errors
	ErrConnectionClosed   = errors.New("rabbitmq: connection is closed")
	ErrConnectionNotReady = errors.New("rabbitmq: connection not ready")
	ErrConnectionTimeout  = errors.New("rabbitmq: connection timeout")
	ErrMaxRetriesExceeded = errors.New("rabbitmq: maximum reconnection attempts exceeded")

	// Channel pool errors
	ErrChannelPoolClosed    = errors.New("rabbitmq: channel pool is closed")
	ErrChannelPoolExhausted = errors.New("rabbitmq: channel pool exhausted")

	// Publisher errors
	ErrPublishNacked  = errors.New("rabbitmq: publish nacked by broker")
	ErrConfirmTimeout = errors.New("rabbitmq: timed out waiting for publisher confirm")

	// General errors
	ErrInvalidConfiguration = errors.New("rabbitmq: invalid configuration")
)

// ConnectionError reports a failed dial or a lost connection.
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Broker URL (credentials stripped)
	Err       error     // Underlying error
	Attempts  int       // Number of attempts made
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq connection error: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError reports a channel acquisition or setup failure.
type ChannelError struct {
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rabbitmq channel error: %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// PublishError reports a publish that failed after all send attempts.
type PublishError struct {
	Queue     string    // Target queue
	Attempts  int       // Send attempts made
	Err       error     // Last underlying error
	Timestamp time.Time // When the error occurred
}

func (e *PublishError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq publish error: queue %s after %d attempts: %v", e.Queue, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq publish error: queue %s: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ConsumeError reports a failure setting up or running a consume stream.
type ConsumeError struct {
	Queue     string    // Source queue
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConsumeError) Error() string {
	return fmt.Sprintf("rabbitmq consume error: %s on queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *ConsumeError) Unwrap() error {
	return e.Err
}

// TopologyError reports a failed queue declaration, inspection, or removal.
type TopologyError struct {
	Op        string    // Operation that failed
	Queue     string    // Queue name
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: %s queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the operation behind err is worth
// repeating. Configuration problems, exhausted retry budgets, and a
// caller that already gave up are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrMaxRetriesExceeded),
		errors.Is(err, ErrChannelPoolClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// IsFatal reports whether err should stop further attempts.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// SanitizeURL masks the password in a broker URL so it is safe to log.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
