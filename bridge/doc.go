// Package bridge provides synchronous request-response over the
// asynchronous topic pairs of the search backend.
//
// Callers submit a typed request and block until the response carrying
// the same correlation id arrives or a deadline passes. Underneath,
// requests are published to per-kind request topics and responses are
// consumed from the paired response topics by long-lived listeners.
//
// The moving parts:
//   - Registry: in-flight requests keyed by correlation id
//   - PendingRequest: one request's state machine, completed by a
//     single atomic compare-and-set
//   - ResponseListener: one consume loop per response topic
//   - Dispatcher: publish, then wait for resolution or deadline
//
// Basic usage:
//
//	b, err := bridge.New(broker)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//
//	resp, err := b.Submit(ctx, contracts.NewTermSearchRequest("entropy"), 0)
//
// A response that arrives after the deadline fired but before the
// expiry bookkeeping completed still wins: the caller gets the result,
// not a spurious timeout. Responses for ids nobody is waiting on are
// dropped silently. The bridge never retries a request; retry policy
// belongs to callers.
package bridge
