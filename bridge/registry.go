package bridge

import (
	"fmt"
	"sync"

	"github.com/scholardex/scholardex-go/contracts"
)

// Registry holds every in-flight request keyed by correlation id. At
// most one live entry exists per id; entries leave the map when they
// reach a terminal state or are removed after a failed publish.
type Registry struct {
	mu      sync.RWMutex
	pending map[string]*PendingRequest
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*PendingRequest),
	}
}

// Register creates a pending request in the waiting state and inserts
// it. An id that is already live returns ErrDuplicateCorrelation.
func (r *Registry) Register(id string, kind contracts.Kind) (*PendingRequest, error) {
	if id == "" {
		return nil, fmt.Errorf("correlation id cannot be empty")
	}

	pending := newPendingRequest(id, kind)
	pending.markWaiting()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[id]; exists {
		return nil, contracts.ErrDuplicateCorrelation
	}
	r.pending[id] = pending
	requestsInFlight.Inc()
	return pending, nil
}

// Resolve completes the request registered under id with resp and
// removes it. It returns false when the id is unknown or the request
// already reached a terminal state; the caller drops such payloads.
func (r *Registry) Resolve(id string, resp contracts.Response) bool {
	r.mu.RLock()
	pending, exists := r.pending[id]
	r.mu.RUnlock()

	if !exists || !pending.resolve(resp) {
		return false
	}
	r.remove(id)
	return true
}

// Expire completes the request registered under id with cause and
// removes it. It returns false when the id is unknown or a response
// already won; the caller then reads the stored result instead.
func (r *Registry) Expire(id string, cause error) bool {
	r.mu.RLock()
	pending, exists := r.pending[id]
	r.mu.RUnlock()

	if !exists || !pending.expire(cause) {
		return false
	}
	r.remove(id)
	return true
}

// Remove drops id regardless of state. It is the cleanup path when a
// publish fails before any wait begins, and is idempotent.
func (r *Registry) Remove(id string) {
	r.remove(id)
}

// Len returns the number of in-flight requests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[id]; exists {
		delete(r.pending, id)
		requestsInFlight.Dec()
	}
}
