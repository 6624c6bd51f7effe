package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Link is one AMQP channel used by a single bridge session or server.
// Publishes are serialized; amqp091 channels are not meant for concurrent
// publishing.
type Link struct {
	ch        *amqp.Channel
	publishMu sync.Mutex
	closeOnce sync.Once
}

// OpenLink opens a channel on the manager's current connection
func OpenLink(cm *ConnectionManager) (*Link, error) {
	ch, err := cm.Channel()
	if err != nil {
		return nil, err
	}
	return &Link{ch: ch}, nil
}

// DeclareReplyQueue declares an exclusive, auto-delete queue that lives as
// long as the connection. An empty name lets the broker pick one.
func (l *Link) DeclareReplyQueue(name string) (string, error) {
	q, err := l.ch.QueueDeclare(name, false, true, true, false, nil)
	if err != nil {
		return "", &ChannelError{Op: "declare reply queue", Queue: name, Err: err}
	}
	return q.Name, nil
}

// DeclareServiceQueue declares the non-exclusive queue a server consumes
func (l *Link) DeclareServiceQueue(name string) error {
	if name == "" {
		return &ChannelError{Op: "declare service queue", Err: fmt.Errorf("%w: empty queue name", ErrInvalidConfiguration)}
	}
	if _, err := l.ch.QueueDeclare(name, false, true, false, false, nil); err != nil {
		return &ChannelError{Op: "declare service queue", Queue: name, Err: err}
	}
	return nil
}

// Consume starts an auto-ack consumer on queue
func (l *Link) Consume(queue string, exclusive bool) (<-chan amqp.Delivery, error) {
	deliveries, err := l.ch.Consume(queue, "", true, exclusive, false, false, nil)
	if err != nil {
		return nil, &ChannelError{Op: "consume", Queue: queue, Err: err}
	}
	return deliveries, nil
}

// Qos limits unacknowledged deliveries in flight
func (l *Link) Qos(prefetch int) error {
	if err := l.ch.Qos(prefetch, 0, false); err != nil {
		return &ChannelError{Op: "qos", Err: err}
	}
	return nil
}

// Publish sends msg to queue through the default exchange
func (l *Link) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()

	if l.ch.IsClosed() {
		return &PublishError{RoutingKey: queue, Err: ErrChannelClosed}
	}
	if err := l.ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return &PublishError{RoutingKey: queue, Err: err}
	}
	return nil
}

// NotifyClose reports when the channel goes away
func (l *Link) NotifyClose() <-chan *amqp.Error {
	return l.ch.NotifyClose(make(chan *amqp.Error, 1))
}

// Close closes the channel
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if !l.ch.IsClosed() {
			err = l.ch.Close()
		}
	})
	return err
}
