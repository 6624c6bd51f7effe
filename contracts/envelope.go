package contracts

import (
	"context"
	"net/url"
)

// AnyOrigin addresses an endpoint without checking its origin
const AnyOrigin = "*"

// Endpoint is a delivery target inside the remote context
type Endpoint interface {
	// Post sends a raw frame. Implementations reject a targetOrigin that
	// does not match their own with an error wrapping ErrOriginMismatch.
	Post(ctx context.Context, targetOrigin string, data []byte) error
}

// Envelope is one inbound delivery handed from a transport to the router
type Envelope struct {
	Data   []byte   // Raw frame bytes
	Origin string   // Origin of the sender, as reported by the transport
	Source Endpoint // Endpoint that can reach the sender, if known
}

// OriginOf returns scheme://host for rawURL, or "" when it has none
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// OriginMatches reports whether an endpoint serving have may receive a post
// addressed to want
func OriginMatches(want, have string) bool {
	return want == "" || want == AnyOrigin || want == have
}
