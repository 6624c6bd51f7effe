// Package rabbitmq is the AMQP plumbing under the rabbitmq transport.
//
//   - ConnectionManager owns one connection and reconnects with backoff
//   - Link wraps one channel: queue declarations, consuming and publishing
//
// Errors carry the failed operation and unwrap to the sentinels in errors.go.
package rabbitmq
