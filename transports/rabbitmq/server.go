package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/rpcbridge/internal/rabbitmq"
	"github.com/glimte/rpcbridge/remote"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Server answers bridge sessions from the service queue of one service
type Server struct {
	cm        *rabbitmq.ConnectionManager
	service   string
	responder *remote.Responder
	prefetch  int
	retry     time.Duration
	logger    *slog.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithPrefetch limits requests handled concurrently
func WithPrefetch(prefetch int) ServerOption {
	return func(s *Server) {
		s.prefetch = prefetch
	}
}

// WithResubscribeDelay sets the pause before consuming again after the
// channel is lost
func WithResubscribeDelay(delay time.Duration) ServerOption {
	return func(s *Server) {
		s.retry = delay
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server for service on an already configured
// connection manager
func NewServer(cm *rabbitmq.ConnectionManager, service string, responder *remote.Responder, opts ...ServerOption) (*Server, error) {
	if cm == nil {
		return nil, fmt.Errorf("connection manager cannot be nil")
	}
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if responder == nil {
		return nil, fmt.Errorf("responder cannot be nil")
	}

	s := &Server{
		cm:        cm,
		service:   service,
		responder: responder,
		prefetch:  16,
		retry:     time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Queue returns the service queue name
func (s *Server) Queue() string {
	return ServiceQueue(s.service)
}

// Serve consumes the service queue until ctx ends, subscribing again
// whenever the channel or connection is lost
func (s *Server) Serve(ctx context.Context) error {
	if err := s.cm.Connect(ctx); err != nil {
		return err
	}

	for {
		err := s.serveOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-s.cm.Done():
			return rabbitmq.ErrConnectionClosed
		default:
		}

		if err != nil && errors.Is(err, rabbitmq.ErrInvalidConfiguration) {
			return err
		}
		s.logger.Warn("service queue consumer stopped; resubscribing",
			"queue", s.Queue(),
			"error", err,
			"delay", s.retry)

		timer := time.NewTimer(s.retry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	link, err := rabbitmq.OpenLink(s.cm)
	if err != nil {
		return err
	}
	defer link.Close()

	if err := link.DeclareServiceQueue(s.Queue()); err != nil {
		return err
	}
	if err := link.Qos(s.prefetch); err != nil {
		return err
	}
	deliveries, err := link.Consume(s.Queue(), false)
	if err != nil {
		return err
	}

	s.logger.Info("serving remote context", "queue", s.Queue(), "url", s.cm.URL())

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return rabbitmq.ErrChannelClosed
			}
			if d.ReplyTo == "" {
				s.logger.Debug("dropping message without reply queue", "queue", s.Queue())
				continue
			}

			if d.Type == AttachType {
				s.reply(ctx, link, d.ReplyTo, remote.ReadySignal())
				s.logger.Info("remote context attached", "replyQueue", d.ReplyTo)
				continue
			}

			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				if reply, ok := s.responder.Handle(ctx, d.Body); ok {
					s.reply(ctx, link, d.ReplyTo, reply)
				}
			}(d)
		}
	}
}

func (s *Server) reply(ctx context.Context, link *rabbitmq.Link, replyTo string, data []byte) {
	err := link.Publish(ctx, replyTo, amqp.Publishing{
		ContentType: frameContentType,
		ReplyTo:     s.Queue(),
		Body:        data,
	})
	if err != nil {
		s.logger.Error("failed to publish reply", "replyQueue", replyTo, "error", err)
	}
}
