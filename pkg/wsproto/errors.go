package wsproto

import (
	"fmt"
	"strconv"
)

// ProtocolError reports a violation of RFC 6455 framing rules detected while
// parsing: a reserved opcode, a masking-direction mismatch, a fragmented
// control frame, and so on. The Connection fails with close code 1002 for it
// unless Code is already set to something more specific (e.g. 1007 for bad
// UTF-8).
type ProtocolError struct {
	Code   CloseCode
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wsproto: protocol error: %s", e.Reason)
}

// PayloadTooBigError reports a frame whose declared payload length exceeds
// the configured ClientOptions.MaxSize or ServerOptions.MaxSize. A
// reassembled message that grows past MaxSize fails the connection with close
// code 1009 without producing this error.
type PayloadTooBigError struct {
	Size uint64
	Max  int
}

func (e *PayloadTooBigError) Error() string {
	return fmt.Sprintf("wsproto: payload of %d bytes exceeds max_size %d", e.Size, e.Max)
}

// InvalidStateError reports a call made while the Connection is not in a
// state that permits it: sending on a closed connection, calling Connect
// twice, and the like.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("wsproto: invalid state: %s", e.Reason)
}

// InvalidURIError reports a ws(s):// URI that failed to parse or used an
// unsupported scheme.
type InvalidURIError struct {
	URI    string
	Reason string
}

func (e *InvalidURIError) Error() string {
	return fmt.Sprintf("wsproto: invalid URI %q: %s", e.URI, e.Reason)
}

// HandshakeErrorKind classifies why an opening handshake was rejected.
type HandshakeErrorKind int

const (
	InvalidUpgrade HandshakeErrorKind = iota
	InvalidConnection
	InvalidHeaderKind
	InvalidHeaderFormat
	InvalidHeaderValueKind
	InvalidStatusKind
	NegotiationErrorKind
)

func (k HandshakeErrorKind) String() string {
	switch k {
	case InvalidUpgrade:
		return "invalid upgrade"
	case InvalidConnection:
		return "invalid connection"
	case InvalidHeaderKind:
		return "invalid header"
	case InvalidHeaderFormat:
		return "invalid header format"
	case InvalidHeaderValueKind:
		return "invalid header value"
	case InvalidStatusKind:
		return "invalid status"
	case NegotiationErrorKind:
		return "negotiation error"
	default:
		return "handshake error"
	}
}

// HandshakeError reports a failure to validate an opening handshake
// request or response. It satisfies error; callers that need the structured
// detail use errors.As.
type HandshakeError struct {
	Kind       HandshakeErrorKind
	Reason     string
	StatusCode int
	HeaderName string
}

func (e *HandshakeError) Error() string {
	if e.HeaderName != "" {
		return fmt.Sprintf("wsproto: %s (%s): %s", e.Kind, e.HeaderName, e.Reason)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("wsproto: %s (status %d): %s", e.Kind, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("wsproto: %s: %s", e.Kind, e.Reason)
}

// ConnectionClosedError is delivered once a Connection reaches CLOSED. It
// records both sides of the close handshake, if present, and which side the
// Connection observed first.
type ConnectionClosedError struct {
	Sent         *CloseInfo
	Rcvd         *CloseInfo
	RcvdThenSent bool
}

func (e *ConnectionClosedError) Error() string {
	format := func(ci *CloseInfo, verb string) string {
		if ci == nil {
			return fmt.Sprintf("%s no close frame", verb)
		}
		if ci.Reason != "" {
			return fmt.Sprintf("%s %s %s", verb, ci.Code, strconv.Quote(ci.Reason))
		}
		return fmt.Sprintf("%s %s", verb, ci.Code)
	}
	first, second := format(e.Sent, "sent"), format(e.Rcvd, "received")
	if e.RcvdThenSent {
		first, second = format(e.Rcvd, "received"), format(e.Sent, "sent")
	}
	return fmt.Sprintf("connection closed: %s; then %s", first, second)
}

// OK reports whether both sides of the close handshake used a code that
// signals a normal closure (1000, or no code at all).
func (e *ConnectionClosedError) OK() bool {
	normal := func(ci *CloseInfo) bool {
		return ci == nil || ci.Code == CloseNormalClosure
	}
	return normal(e.Sent) && normal(e.Rcvd)
}
