// Package contracts defines the messages exchanged with the search
// backend and the errors the bridge surfaces to callers.
//
// Every message on the wire is a flat JSON object carrying a
// correlation_id. The backend copies the id of a request into the
// paired response, which is how the bridge pairs them back up. The
// request and response sets are closed: Request and Response carry
// unexported marker methods, and DecodeResponse switches exhaustively
// over Kind, so adding a kind is a compile-surfaced change rather than
// a runtime discovery.
package contracts
