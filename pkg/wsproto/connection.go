// Package wsproto is a sans-I/O implementation of the WebSocket protocol
// (RFC 6455): it parses and builds handshake messages and frames but never
// touches a socket itself. A Connection is driven by feeding it inbound
// bytes and an EOF signal, and by calling its Send* methods; both directions
// hand back the bytes the caller is responsible for writing to the wire.
// pkg/wsadapter wires a Connection to a net.Conn.
package wsproto

import (
	"errors"

	"github.com/sandpiper-labs/wsproto/internal/bufpipe"
	"github.com/sandpiper-labs/wsproto/internal/httpmsg"
)

// Side identifies which end of the connection this Connection represents.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

func (s Side) String() string {
	if s == ClientSide {
		return "client"
	}
	return "server"
}

// State is a Connection's position in the RFC 6455 §4/§7 lifecycle.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// handshakeSubstate tracks progress through the opening handshake. It only
// matters while State is StateConnecting.
type handshakeSubstate int

const (
	hsUnstarted handshakeSubstate = iota
	hsAwaitingRequest
	hsAwaitingResponse
	hsHeadersReceived
	hsValidated
	hsRejected
)

// Event is implemented by every value Connection.ReceiveData can deliver.
type Event interface{ isEvent() }

// RequestEvent carries a parsed opening handshake request (server side).
type RequestEvent struct{ Request *httpmsg.Request }

func (RequestEvent) isEvent() {}

// ResponseEvent carries a parsed opening handshake response (client side).
// Err is non-nil when the response failed validation; the handshake is then
// rejected but the Connection does not panic or otherwise raise.
type ResponseEvent struct {
	Response *httpmsg.Response
	Err      error
}

func (ResponseEvent) isEvent() {}

// MessageEvent carries one fully reassembled application message.
type MessageEvent struct {
	Kind MessageKind
	Data []byte
}

func (MessageEvent) isEvent() {}

// PingEvent carries an inbound ping's payload. The engine has already queued
// the matching pong in the outbound bytes returned alongside this event.
type PingEvent struct{ Payload []byte }

func (PingEvent) isEvent() {}

// PongEvent carries an inbound pong's payload.
type PongEvent struct{ Payload []byte }

func (PongEvent) isEvent() {}

// ClosedEvent is delivered at most once, by ReceiveData, when a close frame
// is received or a protocol violation in the data phase forces closure.
// ReceiveEOF, a direct call to Fail, and a malformed opening handshake
// message move the Connection to CLOSED without delivering one.
type ClosedEvent struct{ Err *ConnectionClosedError }

func (ClosedEvent) isEvent() {}

// Connection is a sans-I/O WebSocket protocol engine for one side of one
// connection. The zero value is not usable; construct one with
// NewClientConnection or NewServerConnection.
type Connection struct {
	side  Side
	state State
	hsSub handshakeSubstate

	maxSize int
	reader  *bufpipe.Pipe

	extensions  []Extension
	subprotocol string

	closeSent         *CloseInfo
	closeRcvd         *CloseInfo
	closeRcvdThenSent bool

	// receive-side fragment reassembly
	fragmenting bool
	fragKind    MessageKind
	fragBuf     []byte
	fragUTF8    *utf8Validator

	// send-side fragmentation bookkeeping
	sendFragmenting bool

	handshakeDelivered bool

	// client-only
	clientKey          string
	clientExtFactories []ClientExtensionFactory
	clientSubprotocols []string
	origin             string
	extraHeaders       *httpmsg.Headers
	userAgent          string

	// server-only
	serverExtFactories []ServerExtensionFactory
	serverSubprotocols []string
}

// NewClientConnection returns a CONNECTING client-side Connection.
func NewClientConnection(opts ClientOptions) *Connection {
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	return &Connection{
		side:               ClientSide,
		state:              StateConnecting,
		hsSub:              hsUnstarted,
		maxSize:            maxSize,
		reader:             bufpipe.New(),
		clientExtFactories: opts.Extensions,
		clientSubprotocols: opts.Subprotocols,
		origin:             opts.Origin,
		extraHeaders:       opts.ExtraHeaders,
		userAgent:          opts.UserAgent,
	}
}

// NewServerConnection returns a CONNECTING server-side Connection.
func NewServerConnection(opts ServerOptions) *Connection {
	maxSize := opts.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	return &Connection{
		side:               ServerSide,
		state:              StateConnecting,
		hsSub:              hsAwaitingRequest,
		maxSize:            maxSize,
		reader:             bufpipe.New(),
		serverExtFactories: opts.Extensions,
		serverSubprotocols: opts.Subprotocols,
	}
}

// State reports the Connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// Subprotocol reports the negotiated subprotocol, or "" if none was.
func (c *Connection) Subprotocol() string { return c.subprotocol }

// Extensions reports the negotiated extensions, in negotiation order.
func (c *Connection) Extensions() []Extension { return c.extensions }

// SendRequest serializes an opening handshake request built by Connect.
func (c *Connection) SendRequest(req *httpmsg.Request) []byte {
	return req.Serialize()
}

// SendResponse serializes an opening handshake response built by Accept.
// Per RFC 6455 §4.2.2, a server transitions to OPEN at the moment it sends
// (not merely builds) a successful 101 response.
func (c *Connection) SendResponse(resp *httpmsg.Response) []byte {
	data := resp.Serialize()
	if c.side == ServerSide && c.hsSub == hsValidated && resp.StatusCode == 101 {
		c.state = StateOpen
	}
	return data
}

// ReceiveData feeds inbound bytes to the Connection and drains as many
// complete handshake messages and frames as are now available, returning
// the events produced and any bytes the Connection wants written back (close
// echoes, pong replies, protocol-error closes).
func (c *Connection) ReceiveData(data []byte) ([]Event, []byte) {
	c.reader.Write(data)
	var events []Event
	var outbound []byte
	for {
		var (
			ev   Event
			out  []byte
			done bool
		)
		switch {
		case c.state == StateConnecting:
			ev, out, done = c.stepHandshake()
		case c.state == StateClosed:
			done = true
		default:
			ev, out, done = c.stepFrame()
		}
		outbound = append(outbound, out...)
		if ev != nil {
			events = append(events, ev)
		}
		if done {
			break
		}
	}
	return events, outbound
}

// ReceiveEOF signals that the transport will deliver no further bytes. If
// the peer never sent a close frame, the Connection is forced to CLOSED with
// an abnormal closure recorded on the receive side (RFC 6455 §7.1.5 treats
// this the same as code 1006).
func (c *Connection) ReceiveEOF() []byte {
	c.reader.CloseWrite()
	if c.state == StateClosed {
		return nil
	}
	if c.closeRcvd == nil {
		c.closeRcvd = &CloseInfo{Code: CloseAbnormalClosure}
	}
	c.state = StateClosed
	return nil
}

func isNeedMore(err error) bool {
	return errors.Is(err, bufpipe.ErrNeedMore) || errors.Is(err, bufpipe.ErrClosed)
}

// stepHandshake attempts to parse the single opening-handshake message this
// side expects (a Request for a server, a Response for a client). It reports
// done=false only when a client's response was accepted and the Connection
// is now OPEN, so that frames buffered behind the response are parsed in the
// same ReceiveData call; otherwise there is nothing more to parse yet.
func (c *Connection) stepHandshake() (Event, []byte, bool) {
	if c.handshakeDelivered {
		return nil, nil, true
	}
	cur := c.reader.Cursor()
	switch c.side {
	case ServerSide:
		req, err := httpmsg.ParseRequest(cur)
		if err != nil {
			if isNeedMore(err) {
				return nil, nil, true
			}
			c.state = StateClosed
			return nil, nil, true
		}
		cur.Commit()
		c.handshakeDelivered = true
		c.hsSub = hsHeadersReceived
		return RequestEvent{Request: req}, nil, true
	default: // ClientSide
		resp, err := httpmsg.ParseResponse(cur)
		if err != nil {
			if isNeedMore(err) {
				return nil, nil, true
			}
			c.state = StateClosed
			return nil, nil, true
		}
		cur.Commit()
		c.handshakeDelivered = true
		hsErr := c.validateClientResponse(resp)
		if hsErr == nil {
			c.state = StateOpen
			c.hsSub = hsValidated
		} else {
			c.hsSub = hsRejected
		}
		var reportErr error
		if hsErr != nil {
			reportErr = hsErr
		}
		return ResponseEvent{Response: resp, Err: reportErr}, nil, c.state != StateOpen
	}
}

// stepFrame parses and dispatches a single frame. It reports done=true once
// no complete frame is buffered or the Connection has closed.
func (c *Connection) stepFrame() (Event, []byte, bool) {
	if c.state == StateClosed {
		return nil, nil, true
	}
	cur := c.reader.Cursor()
	lim := frameLimits{
		maxSize:      c.maxSize,
		expectMasked: c.side == ServerSide,
		rsvAllowed:   c.rsvAllowed,
	}
	f, err := parseFrame(cur, lim)
	if err != nil {
		if isNeedMore(err) {
			return nil, nil, true
		}
		return c.protocolFailFromParse(err)
	}
	cur.Commit()

	f, err = c.decodeThroughExtensions(f)
	if err != nil {
		return c.protocolFail(err)
	}
	ev, out, _ := c.handleInboundFrame(f)
	return ev, out, c.state == StateClosed
}

func (c *Connection) protocolFailFromParse(err error) (Event, []byte, bool) {
	var tooBig *PayloadTooBigError
	if errors.As(err, &tooBig) {
		return c.failWithCode(CloseMessageTooBig, err.Error())
	}
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Code != 0 {
		return c.failWithCode(perr.Code, perr.Reason)
	}
	return c.failWithCode(CloseProtocolErrorCode, err.Error())
}

func (c *Connection) protocolFail(err error) (Event, []byte, bool) {
	var perr *ProtocolError
	if errors.As(err, &perr) && perr.Code != 0 {
		return c.failWithCode(perr.Code, perr.Reason)
	}
	if errors.Is(err, errInvalidUTF8) {
		return c.failWithCode(CloseInvalidFramePayloadData, "invalid UTF-8 in text message")
	}
	return c.failWithCode(CloseProtocolErrorCode, err.Error())
}

func (c *Connection) decodeThroughExtensions(f Frame) (Frame, error) {
	for i := len(c.extensions) - 1; i >= 0; i-- {
		ext := c.extensions[i]
		if !extensionOwnsOpcode(ext, f.Opcode) {
			continue
		}
		var err error
		f, err = ext.Decode(f, c.maxSize)
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

func extensionOwnsOpcode(ext Extension, op Opcode) bool {
	opcodes := ext.Opcodes()
	if len(opcodes) == 0 {
		return true
	}
	for _, o := range opcodes {
		if o == op {
			return true
		}
	}
	return false
}

// rsvAllowed reports whether the given RSV bits may legally be set on a
// frame with the given opcode, given the currently negotiated extensions.
func (c *Connection) rsvAllowed(rsv1, rsv2, rsv3 bool, op Opcode) bool {
	owns := func(bit bool, get func(Extension) bool) bool {
		if !bit {
			return true
		}
		for _, ext := range c.extensions {
			if get(ext) && extensionOwnsOpcode(ext, op) {
				return true
			}
		}
		return false
	}
	return owns(rsv1, func(e Extension) bool { r1, _, _ := e.RSV(); return r1 }) &&
		owns(rsv2, func(e Extension) bool { _, r2, _ := e.RSV(); return r2 }) &&
		owns(rsv3, func(e Extension) bool { _, _, r3 := e.RSV(); return r3 })
}

func (c *Connection) handleInboundFrame(f Frame) (Event, []byte, bool) {
	switch f.Opcode {
	case OpClose:
		return c.handleInboundClose(f)
	case OpPing:
		pongBytes, err := c.sendFrame(Frame{FIN: true, Opcode: OpPong, Payload: f.Payload})
		if err != nil {
			return c.failWithCode(CloseInternalError, err.Error())
		}
		return PingEvent{Payload: f.Payload}, pongBytes, true
	case OpPong:
		return PongEvent{Payload: f.Payload}, nil, true
	default:
		return c.handleDataFrame(f)
	}
}

func (c *Connection) handleInboundClose(f Frame) (Event, []byte, bool) {
	info, err := decodeClosePayload(f.Payload)
	if err != nil {
		return c.protocolFail(err)
	}
	if c.closeRcvd == nil {
		if info != nil {
			c.closeRcvd = info
		} else {
			c.closeRcvd = &CloseInfo{Code: CloseNoStatusReceived}
		}
	}

	var out []byte
	if c.closeSent == nil {
		echoCode, echoReason := CloseNormalClosure, ""
		if info != nil {
			echoCode, echoReason = info.Code, info.Reason
		}
		frameBytes, err := c.buildCloseFrame(echoCode, echoReason)
		if err == nil {
			c.closeSent = &CloseInfo{Code: echoCode, Reason: echoReason}
			out = frameBytes
		}
		c.closeRcvdThenSent = true
	}
	c.state = StateClosed
	return ClosedEvent{Err: c.closedError()}, out, true
}

func (c *Connection) handleDataFrame(f Frame) (Event, []byte, bool) {
	if f.Opcode == OpContinuation {
		if !c.fragmenting {
			return c.protocolFail(&ProtocolError{Reason: "unexpected continuation frame"})
		}
	} else {
		if c.fragmenting {
			return c.protocolFail(&ProtocolError{Reason: "expected continuation frame"})
		}
		c.fragmenting = true
		c.fragKind = messageKindFor(f.Opcode)
		c.fragBuf = nil
		if c.fragKind == KindText {
			c.fragUTF8 = &utf8Validator{}
		} else {
			c.fragUTF8 = nil
		}
	}

	c.fragBuf = append(c.fragBuf, f.Payload...)
	if len(c.fragBuf) > c.maxSize {
		return c.failWithCode(CloseMessageTooBig, "reassembled message exceeds max_size")
	}
	if c.fragKind == KindText {
		if err := c.fragUTF8.push(f.Payload, f.FIN); err != nil {
			return c.failWithCode(CloseInvalidFramePayloadData, "invalid UTF-8 in text message")
		}
	}
	if !f.FIN {
		return nil, nil, true
	}

	data := c.fragBuf
	kind := c.fragKind
	c.fragmenting = false
	c.fragBuf = nil
	c.fragUTF8 = nil
	return MessageEvent{Kind: kind, Data: data}, nil, true
}

func (c *Connection) closedError() *ConnectionClosedError {
	return &ConnectionClosedError{Sent: c.closeSent, Rcvd: c.closeRcvd, RcvdThenSent: c.closeRcvdThenSent}
}

func (c *Connection) sendFrame(f Frame) ([]byte, error) {
	for _, ext := range c.extensions {
		if !extensionOwnsOpcode(ext, f.Opcode) {
			continue
		}
		var err error
		f, err = ext.Encode(f)
		if err != nil {
			return nil, err
		}
	}
	return f.serialize(c.side == ClientSide)
}

func (c *Connection) buildCloseFrame(code CloseCode, reason string) ([]byte, error) {
	payload, err := encodeClosePayload(code, reason)
	if err != nil {
		return nil, err
	}
	return c.sendFrame(Frame{FIN: true, Opcode: OpClose, Payload: payload})
}

// failWithCode unilaterally closes the connection: it builds and returns a
// close frame carrying code/reason (unless one was already sent) and
// transitions to CLOSED immediately, without waiting for the peer's close
// frame.
func (c *Connection) failWithCode(code CloseCode, reason string) (Event, []byte, bool) {
	out := c.Fail(code, reason)
	return ClosedEvent{Err: c.closedError()}, out, true
}

// Fail forces the Connection to CLOSED, sending a close frame with the
// given code/reason if one has not already been sent. It is exported so an
// adapter can also call it directly on a fatal transport error.
func (c *Connection) Fail(code CloseCode, reason string) []byte {
	if c.state == StateClosed {
		return nil
	}
	var out []byte
	if c.closeSent == nil {
		frameBytes, err := c.buildCloseFrame(code, reason)
		if err == nil {
			out = frameBytes
			c.closeSent = &CloseInfo{Code: code, Reason: reason}
		}
	}
	c.state = StateClosed
	return out
}

// SendText sends a TEXT frame, or the first frame of a fragmented TEXT
// message when fin is false.
func (c *Connection) SendText(data []byte, fin bool) ([]byte, error) {
	return c.sendData(OpText, data, fin)
}

// SendBinary sends a BINARY frame, or the first frame of a fragmented
// BINARY message when fin is false.
func (c *Connection) SendBinary(data []byte, fin bool) ([]byte, error) {
	return c.sendData(OpBinary, data, fin)
}

func (c *Connection) sendData(op Opcode, data []byte, fin bool) ([]byte, error) {
	if c.state != StateOpen {
		return nil, &InvalidStateError{Reason: "connection is not open"}
	}
	if c.sendFragmenting {
		return nil, &InvalidStateError{Reason: "a fragmented message is already in progress"}
	}
	if !fin {
		c.sendFragmenting = true
	}
	return c.sendFrame(Frame{FIN: fin, Opcode: op, Payload: data})
}

// SendContinuation sends the next fragment of a message previously started
// with SendText or SendBinary with fin=false.
func (c *Connection) SendContinuation(data []byte, fin bool) ([]byte, error) {
	if c.state != StateOpen {
		return nil, &InvalidStateError{Reason: "connection is not open"}
	}
	if !c.sendFragmenting {
		return nil, &InvalidStateError{Reason: "send_continuation without an unfinished message"}
	}
	out, err := c.sendFrame(Frame{FIN: fin, Opcode: OpContinuation, Payload: data})
	if err == nil && fin {
		c.sendFragmenting = false
	}
	return out, err
}

// SendPing sends a ping control frame.
func (c *Connection) SendPing(data []byte) ([]byte, error) {
	return c.sendControl(OpPing, data)
}

// SendPong sends a pong control frame. The engine already auto-sends a pong
// in reply to an inbound ping; this is for unsolicited (heartbeat) pongs.
func (c *Connection) SendPong(data []byte) ([]byte, error) {
	return c.sendControl(OpPong, data)
}

func (c *Connection) sendControl(op Opcode, data []byte) ([]byte, error) {
	if len(data) > MaxControlFramePayload {
		return nil, &InvalidStateError{Reason: "control frame payload exceeds 125 bytes"}
	}
	if c.state != StateOpen && c.state != StateClosing {
		return nil, &InvalidStateError{Reason: "connection is not open"}
	}
	return c.sendFrame(Frame{FIN: true, Opcode: op, Payload: data})
}

// SendClose starts the closing handshake. code defaults to
// CloseNormalClosure when zero.
func (c *Connection) SendClose(code CloseCode, reason string) ([]byte, error) {
	if c.state != StateOpen {
		return nil, &InvalidStateError{Reason: "connection is not open"}
	}
	if code == 0 {
		code = CloseNormalClosure
	}
	if !code.ValidForSend() {
		return nil, &InvalidStateError{Reason: "close code is not valid to send"}
	}
	out, err := c.buildCloseFrame(code, reason)
	if err != nil {
		return nil, err
	}
	c.closeSent = &CloseInfo{Code: code, Reason: reason}
	c.state = StateClosing
	return out, nil
}
