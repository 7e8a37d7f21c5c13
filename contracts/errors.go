package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the bridge.
var (
	// ErrDuplicateCorrelation reports an attempt to register a
	// correlation id that is already live. Ids are fresh UUIDs, so
	// hitting this means a caller bug rather than bad luck.
	ErrDuplicateCorrelation = errors.New("contracts: duplicate correlation id")

	// ErrResponseTimeout is the match target for TimeoutError.
	ErrResponseTimeout = errors.New("contracts: response timeout")
)

// ConnectionError reports a failure to reach the broker while
// publishing a request.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection error during %s", e.Op)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that no response arrived within the configured
// window. errors.Is(err, ErrResponseTimeout) matches it.
type TimeoutError struct {
	Kind          Kind
	CorrelationID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request %s timed out after %s", e.Kind, e.CorrelationID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrResponseTimeout
}

// DecodeError reports a response payload that could not be parsed as
// the type paired with its topic. Listeners log and drop these; they
// are never returned to submitters.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s response: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
