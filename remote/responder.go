package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/glimte/rpcbridge/contracts"
)

// Handler serves one remote method
type Handler interface {
	Serve(ctx context.Context, args []json.RawMessage) (any, error)
}

// HandlerFunc is a function that implements Handler
type HandlerFunc func(ctx context.Context, args []json.RawMessage) (any, error)

// Serve implements Handler
func (f HandlerFunc) Serve(ctx context.Context, args []json.RawMessage) (any, error) {
	return f(ctx, args)
}

// Responder dispatches request frames to method handlers
type Responder struct {
	handlers map[string]Handler
	logger   *slog.Logger
	mu       sync.RWMutex
}

// ResponderOption configures a responder
type ResponderOption func(*Responder)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ResponderOption {
	return func(r *Responder) {
		r.logger = logger
	}
}

// NewResponder creates a responder with no methods
func NewResponder(opts ...ResponderOption) *Responder {
	r := &Responder{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a handler for method
func (r *Responder) Register(method string, handler Handler) error {
	if method == "" {
		return fmt.Errorf("method cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[method]; exists {
		return fmt.Errorf("handler already registered for method: %s", method)
	}
	r.handlers[method] = handler
	r.logger.Debug("registered remote method", "method", method)
	return nil
}

// RegisterFunc adds a function handler for method
func (r *Responder) RegisterFunc(method string, fn func(ctx context.Context, args []json.RawMessage) (any, error)) error {
	if fn == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	return r.Register(method, HandlerFunc(fn))
}

// Methods returns the registered method names, sorted
func (r *Responder) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for method := range r.handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// ReadySignal returns the encoded ready-signal frame
func ReadySignal() []byte {
	data, _ := contracts.Encode(contracts.NewReadySignal())
	return data
}

// Handle answers one inbound frame. Anything other than a request frame is
// not for the remote side and yields ok=false.
func (r *Responder) Handle(ctx context.Context, data []byte) (reply []byte, ok bool) {
	frame, err := contracts.Decode(data)
	if err != nil {
		r.logger.Debug("ignoring unrecognized frame", "error", err)
		return nil, false
	}

	req, isRequest := frame.(*contracts.Request)
	if !isRequest {
		return nil, false
	}

	resp := r.Serve(ctx, req)
	reply, err = contracts.Encode(resp)
	if err != nil {
		r.logger.Error("failed to encode response", "id", req.ID, "method", req.Method, "error", err)
		reply, _ = contracts.Encode(contracts.NewErrorResponse(req.ID, err.Error()))
	}
	return reply, true
}

// Serve runs the handler for req and builds its response
func (r *Responder) Serve(ctx context.Context, req *contracts.Request) *contracts.Response {
	start := time.Now()

	r.mu.RLock()
	handler, exists := r.handlers[req.Method]
	r.mu.RUnlock()

	if !exists {
		r.logger.Warn("no handler for method", "id", req.ID, "method", req.Method)
		return contracts.NewErrorResponse(req.ID, fmt.Sprintf("unknown method: %s", req.Method))
	}

	result, err := r.call(ctx, handler, req)
	if err != nil {
		r.logger.Info("remote method failed",
			"id", req.ID,
			"method", req.Method,
			"error", err,
			"duration", time.Since(start))
		return contracts.NewErrorResponse(req.ID, err.Error())
	}

	resp, err := contracts.NewSuccessResponse(req.ID, result)
	if err != nil {
		r.logger.Error("failed to encode result", "id", req.ID, "method", req.Method, "error", err)
		return contracts.NewErrorResponse(req.ID, err.Error())
	}

	r.logger.Debug("remote method served",
		"id", req.ID,
		"method", req.Method,
		"duration", time.Since(start))
	return resp
}

func (r *Responder) call(ctx context.Context, handler Handler, req *contracts.Request) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("remote method panicked", "id", req.ID, "method", req.Method, "panic", p)
			err = fmt.Errorf("%s panicked: %v", req.Method, p)
		}
	}()
	return handler.Serve(ctx, req.Args)
}

// DecodeArgs unmarshals positional arguments into targets. Missing trailing
// arguments leave their targets untouched.
func DecodeArgs(args []json.RawMessage, targets ...any) error {
	if len(args) > len(targets) {
		return fmt.Errorf("expected at most %d arguments, got %d", len(targets), len(args))
	}
	for i, raw := range args {
		if err := json.Unmarshal(raw, targets[i]); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}
