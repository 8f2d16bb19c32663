// Package rabbitmq wraps the amqp091 client for a single-queue consumer.
//
// This package includes:
//   - ConnectionManager: opens and closes the broker connection (no reconnection)
//   - ChannelManager: opens and closes the one channel used by the process
//   - DeclareQueue: idempotent queue declaration
//   - Consumer: registers a consumer and dispatches deliveries in broker order
//
// Every failure is reported as a typed error (ConnectionError, ChannelError,
// QueueError, ConsumerError, ShutdownError) that unwraps to the underlying
// amqp error or one of the package sentinels.
package rabbitmq
