package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/glimte/rpcbridge/contracts"
	"github.com/glimte/rpcbridge/internal/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// QueuePrefix prefixes every service queue name
	QueuePrefix = "rpcbridge."

	// AttachType marks the message that asks a server for a ready-signal
	AttachType = "rpcbridge.attach"

	frameContentType = "application/json"
)

// ServiceQueue returns the queue a server for service consumes
func ServiceQueue(service string) string {
	return QueuePrefix + service
}

// ReplyQueue returns a fresh name for a session's reply queue
func ReplyQueue() string {
	return QueuePrefix + "reply." + uuid.NewString()
}

// ParseBridgeURL splits a bridge URL into the broker URL and the service
// named by the bridge-mode parameter
func ParseBridgeURL(bridgeURL, queryParam string) (brokerURL, service string, err error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", "", fmt.Errorf("%w: unsupported scheme %q for amqp transport", rabbitmq.ErrInvalidConfiguration, u.Scheme)
	}

	q := u.Query()
	service = q.Get(queryParam)
	if service == "" {
		return "", "", fmt.Errorf("%w: bridge URL has no %s parameter", rabbitmq.ErrInvalidConfiguration, queryParam)
	}
	q.Del(queryParam)
	u.RawQuery = q.Encode()

	return u.String(), service, nil
}

// Launcher attaches to remote contexts served over AMQP
type Launcher struct {
	queryParam  string
	connOptions []rabbitmq.ConnectionOption
	logger      *slog.Logger
}

// LauncherOption configures the launcher
type LauncherOption func(*Launcher)

// WithQueryParam names the bridge-mode parameter; defaults to "page"
func WithQueryParam(param string) LauncherOption {
	return func(l *Launcher) {
		l.queryParam = param
	}
}

// WithConnectionOptions sets connection options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) LauncherOption {
	return func(l *Launcher) {
		l.connOptions = append(l.connOptions, opts...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// NewLauncher creates an AMQP launcher
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{
		queryParam: "page",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch implements bridge.Launcher
func (l *Launcher) Launch(ctx context.Context, bridgeURL string, inbound func(contracts.Envelope)) (contracts.Endpoint, error) {
	brokerURL, service, err := ParseBridgeURL(bridgeURL, l.queryParam)
	if err != nil {
		return nil, err
	}

	// The session owns its connection; reconnecting would orphan the
	// exclusive reply queue.
	opts := append([]rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(l.logger),
		rabbitmq.WithMaxRetries(0),
	}, l.connOptions...)
	cm := rabbitmq.NewConnectionManager(brokerURL, opts...)
	if err := cm.Connect(ctx); err != nil {
		return nil, err
	}

	link, err := rabbitmq.OpenLink(cm)
	if err != nil {
		cm.Close()
		return nil, err
	}

	replyQueue, err := link.DeclareReplyQueue(ReplyQueue())
	if err != nil {
		cm.Close()
		return nil, err
	}
	deliveries, err := link.Consume(replyQueue, true)
	if err != nil {
		cm.Close()
		return nil, err
	}

	s := &Session{
		cm:         cm,
		link:       link,
		origin:     contracts.OriginOf(bridgeURL),
		replyQueue: replyQueue,
		logger:     l.logger,
	}
	s.service = &Peer{session: s, queue: ServiceQueue(service)}

	go s.readLoop(deliveries, inbound)

	err = link.Publish(ctx, s.service.queue, amqp.Publishing{
		Type:    AttachType,
		ReplyTo: replyQueue,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	l.logger.Debug("attached to remote context",
		"url", cm.URL(),
		"service", s.service.queue,
		"replyQueue", replyQueue)
	return s.service, nil
}

// Session is the calling side's AMQP connection, channel and reply queue
type Session struct {
	cm         *rabbitmq.ConnectionManager
	link       *rabbitmq.Link
	origin     string
	replyQueue string
	service    *Peer
	logger     *slog.Logger
}

// ReplyQueue returns the queue responses arrive on
func (s *Session) ReplyQueue() string {
	return s.replyQueue
}

func (s *Session) readLoop(deliveries <-chan amqp.Delivery, inbound func(contracts.Envelope)) {
	for d := range deliveries {
		env := contracts.Envelope{Data: d.Body, Origin: s.origin}
		if d.ReplyTo != "" {
			env.Source = s.peer(d.ReplyTo)
		}
		inbound(env)
	}
	s.logger.Debug("reply queue consumer stopped", "replyQueue", s.replyQueue)
}

func (s *Session) peer(queue string) *Peer {
	if queue == s.service.queue {
		return s.service
	}
	return &Peer{session: s, queue: queue}
}

// Close tears the channel and connection down
func (s *Session) Close() error {
	s.link.Close()
	return s.cm.Close()
}

// Peer is a queue frames can be posted to
type Peer struct {
	session *Session
	queue   string
}

// Queue returns the queue name
func (p *Peer) Queue() string {
	return p.queue
}

// Post implements contracts.Endpoint
func (p *Peer) Post(ctx context.Context, targetOrigin string, data []byte) error {
	if !contracts.OriginMatches(targetOrigin, p.session.origin) {
		return &contracts.OriginError{Want: targetOrigin, Have: p.session.origin}
	}
	return p.session.link.Publish(ctx, p.queue, amqp.Publishing{
		ContentType: frameContentType,
		ReplyTo:     p.session.replyQueue,
		Body:        data,
	})
}

// Close closes the session the peer belongs to
func (p *Peer) Close() error {
	return p.session.Close()
}
