package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/glimte/rpcbridge/remote"
	gws "github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Server hosts a remote context for every WebSocket connection it accepts
type Server struct {
	responder  *remote.Responder
	upgrader   gws.Upgrader
	queryParam string
	queryValue string
	logger     *slog.Logger
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithBridgeQuery only accepts connections whose URL carries param=value
func WithBridgeQuery(param, value string) ServerOption {
	return func(s *Server) {
		s.queryParam = param
		s.queryValue = value
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCheckOrigin replaces the upgrader's origin check. The default accepts
// every origin.
func WithCheckOrigin(check func(r *http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = check
	}
}

// NewServer creates a server answering with responder
func NewServer(responder *remote.Responder, opts ...ServerOption) *Server {
	s := &Server{
		responder: responder,
		upgrader: gws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.queryParam != "" && r.URL.Query().Get(s.queryParam) != s.queryValue {
		http.Error(w, "bridge mode not requested", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := &session{conn: conn, logger: s.logger}
	defer sess.close()

	if err := sess.write(remote.ReadySignal()); err != nil {
		s.logger.Warn("failed to send ready-signal", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Info("remote context attached", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				s.logger.Debug("remote context detached", "remote", r.RemoteAddr, "error", err)
			}
			return
		}

		sess.wg.Add(1)
		go func() {
			defer sess.wg.Done()
			reply, ok := s.responder.Handle(ctx, data)
			if !ok {
				return
			}
			if err := sess.write(reply); err != nil {
				s.logger.Warn("failed to write response", "remote", r.RemoteAddr, "error", err)
			}
		}()
	}
}

type session struct {
	conn   *gws.Conn
	logger *slog.Logger
	mu     sync.Mutex
	wg     sync.WaitGroup
}

func (s *session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(gws.TextMessage, data)
}

func (s *session) close() {
	s.wg.Wait()
	_ = s.conn.Close()
}
