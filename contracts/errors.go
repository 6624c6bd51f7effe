package contracts

import (
	"errors"
	"fmt"
)

var (
	// Frame errors
	ErrUnknownFrame   = errors.New("contracts: unknown frame type")
	ErrMalformedFrame = errors.New("contracts: malformed frame")

	// Endpoint errors
	ErrOriginMismatch = errors.New("contracts: target origin does not match endpoint")
	ErrEndpointClosed = errors.New("contracts: endpoint is closed")
)

// FrameError describes a payload that could not be turned into a frame
type FrameError struct {
	Type FrameType // Type tag, if one was found
	ID   string    // Frame id, if one was found
	Op   string    // Decoding step that failed
	Err  error     // Underlying error
}

func (e *FrameError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("frame error: %s failed: %v", e.Op, e.Err)
	}
	if e.ID != "" {
		return fmt.Sprintf("frame error: %s failed for %s frame %s: %v", e.Op, e.Type, e.ID, e.Err)
	}
	return fmt.Sprintf("frame error: %s failed for %s frame: %v", e.Op, e.Type, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// OriginError is returned by an endpoint asked to deliver to a foreign origin
type OriginError struct {
	Want string // Origin the caller addressed
	Have string // Origin the endpoint actually serves
}

func (e *OriginError) Error() string {
	return fmt.Sprintf("endpoint origin %q does not match target origin %q", e.Have, e.Want)
}

func (e *OriginError) Unwrap() error {
	return ErrOriginMismatch
}

// IsRetryable reports false so retry policies never re-send to the wrong origin
func (e *OriginError) IsRetryable() bool {
	return false
}
