// Package rabbitmq provides the AMQP building blocks for the topic
// transport: a connection manager with automatic reconnection, a
// bounded channel pool, a confirming publisher with bounded send
// retry, a self-healing consumer, and queue topology declaration.
//
// Nothing in this package knows about message kinds or correlation
// ids; it moves opaque payloads between queues and the caller.
package rabbitmq
