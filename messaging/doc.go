// Package messaging defines the transport surface the bridge runs on:
// opaque []byte payloads published to and received from named topics.
//
// The interfaces are deliberately dumb. Encoding, correlation, and
// pairing live above them in the bridge; connection management and
// delivery guarantees live below them in the transport:
//   - Publisher: fire-and-forget delivery of one payload to a topic
//   - Subscriber: an endless receive channel per topic
//   - Broker: both halves combined
//
// InMemoryBroker implements the same surface for tests and local
// development, and transports/rabbitmq implements it against a real
// broker.
package messaging
