package bridge

import (
	"sync/atomic"
	"time"

	"github.com/scholardex/scholardex-go/contracts"
)

// RequestState is the lifecycle position of a pending request.
type RequestState int32

const (
	// StateCreated is the zero state before registration.
	StateCreated RequestState = iota

	// StateWaiting means the request is registered and a caller may be
	// blocked on it.
	StateWaiting

	// StateResolved means the paired response arrived first.
	StateResolved

	// StateTimedOut means the deadline fired first.
	StateTimedOut
)

func (s RequestState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWaiting:
		return "waiting"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// PendingRequest tracks one in-flight request from registration to a
// terminal state. Every terminal transition goes through a single
// compare-and-set on the state word, so the result and error slots are
// written by exactly one winner, exactly once. The done channel closes
// after the winning slot is written; readers wait on Done and then
// read Result.
type PendingRequest struct {
	id        string
	kind      contracts.Kind
	createdAt time.Time

	state atomic.Int32
	done  chan struct{}

	result contracts.Response
	err    error
}

func newPendingRequest(id string, kind contracts.Kind) *PendingRequest {
	return &PendingRequest{
		id:        id,
		kind:      kind,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the correlation id.
func (p *PendingRequest) ID() string {
	return p.id
}

// Kind returns the request kind.
func (p *PendingRequest) Kind() contracts.Kind {
	return p.kind
}

// CreatedAt returns the registration time.
func (p *PendingRequest) CreatedAt() time.Time {
	return p.createdAt
}

// State returns the current lifecycle state.
func (p *PendingRequest) State() RequestState {
	return RequestState(p.state.Load())
}

// Done returns a channel closed once the request reaches a terminal
// state and its outcome is readable.
func (p *PendingRequest) Done() <-chan struct{} {
	return p.done
}

// Result returns the terminal outcome. It is meaningful only after
// Done is closed.
func (p *PendingRequest) Result() (contracts.Response, error) {
	return p.result, p.err
}

// markWaiting moves created -> waiting at registration time.
func (p *PendingRequest) markWaiting() bool {
	return p.state.CompareAndSwap(int32(StateCreated), int32(StateWaiting))
}

// resolve completes the request with a response. It returns false when
// another transition already won.
func (p *PendingRequest) resolve(resp contracts.Response) bool {
	if !p.state.CompareAndSwap(int32(StateWaiting), int32(StateResolved)) {
		return false
	}
	p.result = resp
	close(p.done)
	return true
}

// expire completes the request with a terminal error. It returns false
// when another transition already won.
func (p *PendingRequest) expire(cause error) bool {
	if !p.state.CompareAndSwap(int32(StateWaiting), int32(StateTimedOut)) {
		return false
	}
	p.err = cause
	close(p.done)
	return true
}
