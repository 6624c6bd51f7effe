package bridge

import (
	"log/slog"

	"github.com/glimte/rpcbridge/contracts"
)

// ReadyHandler completes the handshake from a ready-signal envelope
type ReadyHandler interface {
	HandleReady(env contracts.Envelope) bool
}

// ResponseHandler settles the request a response frame belongs to
type ResponseHandler interface {
	HandleResponse(resp *contracts.Response) bool
}

// Router is the single inbound listener. The channel is shared, so frames
// it does not understand are dropped, never reported as errors.
type Router struct {
	ready     ReadyHandler
	responses ResponseHandler
	logger    *slog.Logger
}

// NewRouter creates a router dispatching to ready and responses
func NewRouter(ready ReadyHandler, responses ResponseHandler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ready:     ready,
		responses: responses,
		logger:    logger,
	}
}

// Route classifies one inbound envelope and dispatches it
func (r *Router) Route(env contracts.Envelope) {
	frame, err := contracts.Decode(env.Data)
	if err != nil {
		r.logger.Debug("dropping unrecognized frame", "origin", env.Origin, "error", err)
		return
	}

	switch f := frame.(type) {
	case *contracts.ReadySignal:
		r.ready.HandleReady(env)

	case *contracts.Response:
		if !r.responses.HandleResponse(f) {
			r.logger.Debug("dropping response for unknown request", "id", f.ID, "origin", env.Origin)
		}

	case *contracts.Request:
		// Our own requests echoed back on a broadcast medium.
		r.logger.Debug("dropping request frame", "id", f.ID, "method", f.Method, "origin", env.Origin)
	}
}
