package wsproto

import "github.com/sandpiper-labs/wsproto/internal/httpmsg"

// ClientOptions configures a client-side Connection and the opening request
// that Connect builds.
type ClientOptions struct {
	// Origin, if set, is sent as the Origin header.
	Origin string
	// Extensions are offered, in order, in the opening request.
	Extensions []ClientExtensionFactory
	// Subprotocols are offered, in preference order, as Sec-WebSocket-Protocol.
	Subprotocols []string
	// ExtraHeaders are merged into the request after the generated headers,
	// overriding any header of the same name (including User-Agent).
	ExtraHeaders *httpmsg.Headers
	// UserAgent overrides the default User-Agent header value.
	UserAgent string
	// MaxSize caps the reassembled size of a single message. Zero means
	// DefaultMaxSize.
	MaxSize int
}

// ServerOptions configures a server-side Connection and the response that
// Accept builds.
type ServerOptions struct {
	// Extensions are considered, in order, against each client offer.
	Extensions []ServerExtensionFactory
	// Subprotocols are the ones this server supports, in preference order.
	Subprotocols []string
	// MaxSize caps the reassembled size of a single message. Zero means
	// DefaultMaxSize.
	MaxSize int
}
