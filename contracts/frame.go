package contracts

import (
	"encoding/json"
	"fmt"
)

// FrameType tags every frame on the wire
type FrameType string

const (
	FrameTypeReady    FrameType = "ready-signal"
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
)

// ReadySignal is emitted once by the remote context after it has initialized
type ReadySignal struct {
	Type FrameType `json:"type"`
}

// Request asks the remote context to run a named method
type Request struct {
	Type   FrameType         `json:"type"`
	ID     string            `json:"id"`
	Method string            `json:"method"`
	Args   []json.RawMessage `json:"args"`
}

// Response settles the request with the same ID
type Response struct {
	Type   FrameType       `json:"type"`
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewReadySignal creates a ready-signal frame
func NewReadySignal() *ReadySignal {
	return &ReadySignal{Type: FrameTypeReady}
}

// NewRequest creates a request frame, encoding each argument as JSON.
// A nil or empty argument list is sent as an empty array.
func NewRequest(id, method string, args ...any) (*Request, error) {
	if id == "" {
		return nil, fmt.Errorf("request id is required")
	}
	if method == "" {
		return nil, fmt.Errorf("request method is required")
	}

	encoded := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode argument %d of %s: %w", i, method, err)
		}
		encoded = append(encoded, raw)
	}

	return &Request{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Args:   encoded,
	}, nil
}

// NewSuccessResponse creates an ok response carrying result
func NewSuccessResponse(id string, result any) (*Response, error) {
	resp := &Response{Type: FrameTypeResponse, ID: id, OK: true}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result of %s: %w", id, err)
		}
		resp.Result = raw
	}
	return resp, nil
}

// NewErrorResponse creates a failed response carrying message
func NewErrorResponse(id, message string) *Response {
	return &Response{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    false,
		Error: message,
	}
}

// Encode serializes a frame for a transport
func Encode(frame any) ([]byte, error) {
	switch frame.(type) {
	case *ReadySignal, *Request, *Response:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, frame)
	}
	return json.Marshal(frame)
}

// Decode classifies a raw payload and returns *ReadySignal, *Request or
// *Response. Anything else yields ErrUnknownFrame or ErrMalformedFrame.
func Decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}

	var probe struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &FrameError{Op: "probe", Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}

	switch probe.Type {
	case FrameTypeReady:
		return &ReadySignal{Type: FrameTypeReady}, nil

	case FrameTypeRequest:
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, &FrameError{Type: probe.Type, Op: "decode", Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
		}
		if req.ID == "" || req.Method == "" {
			return nil, &FrameError{Type: probe.Type, ID: req.ID, Op: "validate", Err: ErrMalformedFrame}
		}
		if req.Args == nil {
			req.Args = []json.RawMessage{}
		}
		return &req, nil

	case FrameTypeResponse:
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, &FrameError{Type: probe.Type, Op: "decode", Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
		}
		if resp.ID == "" {
			return nil, &FrameError{Type: probe.Type, Op: "validate", Err: ErrMalformedFrame}
		}
		return &resp, nil

	default:
		return nil, &FrameError{Type: probe.Type, Op: "classify", Err: ErrUnknownFrame}
	}
}
