package wsproto

import (
	"encoding/base64"
	"strings"

	"github.com/sandpiper-labs/wsproto/internal/httpmsg"
)

// Accept validates req against RFC 6455 §4.2.1 and, if it passes, builds the
// 101 response and negotiates subprotocol and extensions. On failure it
// returns a 400 response alongside the HandshakeError describing why;
// callers are expected to send that response and then close the transport.
func (c *Connection) Accept(req *httpmsg.Request) (*httpmsg.Response, error) {
	if c.side != ServerSide {
		return nil, &InvalidStateError{Reason: "Accept called on a non-server connection"}
	}
	if hsErr := c.validateServerRequest(req); hsErr != nil {
		resp := &httpmsg.Response{StatusCode: 400, ReasonPhrase: "Bad Request", Headers: httpmsg.NewHeaders()}
		c.hsSub = hsRejected
		return resp, hsErr
	}

	key, _ := req.Headers.Get("Sec-WebSocket-Key")
	h := httpmsg.NewHeaders()
	h.Add("Upgrade", "websocket")
	h.Add("Connection", "Upgrade")
	h.Add("Sec-WebSocket-Accept", expectedAccept(key))

	if proto, ok := c.negotiateSubprotocol(req); ok {
		h.Add("Sec-WebSocket-Protocol", proto)
		c.subprotocol = proto
	}

	exts, respValues := c.negotiateServerExtensions(req)
	c.extensions = exts
	for _, v := range respValues {
		h.Add("Sec-WebSocket-Extensions", v)
	}

	c.hsSub = hsValidated
	return &httpmsg.Response{StatusCode: 101, ReasonPhrase: "Switching Protocols", Headers: h}, nil
}

func (c *Connection) validateServerRequest(req *httpmsg.Request) *HandshakeError {
	if req.Method != "GET" {
		return &HandshakeError{Kind: InvalidUpgrade, Reason: "method must be GET"}
	}
	if !req.Headers.HasToken("Upgrade", "websocket") {
		return &HandshakeError{Kind: InvalidUpgrade, HeaderName: "Upgrade", Reason: "missing or invalid value"}
	}
	if !req.Headers.HasToken("Connection", "upgrade") {
		return &HandshakeError{Kind: InvalidConnection, HeaderName: "Connection", Reason: "missing Upgrade token"}
	}
	if req.Headers.Count("Sec-WebSocket-Key") != 1 {
		return &HandshakeError{Kind: InvalidHeaderKind, HeaderName: "Sec-WebSocket-Key", Reason: "must appear exactly once"}
	}
	key, _ := req.Headers.Get("Sec-WebSocket-Key")
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil || len(raw) != 16 {
		return &HandshakeError{Kind: InvalidHeaderValueKind, HeaderName: "Sec-WebSocket-Key", Reason: "does not decode to 16 bytes"}
	}
	if v, ok := req.Headers.Get("Sec-WebSocket-Version"); !ok || v != "13" {
		return &HandshakeError{Kind: InvalidHeaderValueKind, HeaderName: "Sec-WebSocket-Version", Reason: "must be 13"}
	}
	return nil
}

func (c *Connection) negotiateSubprotocol(req *httpmsg.Request) (string, bool) {
	values := req.Headers.Values("Sec-WebSocket-Protocol")
	if len(values) == 0 {
		return "", false
	}
	var offered []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			offered = append(offered, strings.TrimSpace(p))
		}
	}
	for _, want := range c.serverSubprotocols {
		if containsString(offered, want) {
			return want, true
		}
	}
	return "", false
}

func (c *Connection) negotiateServerExtensions(req *httpmsg.Request) ([]Extension, []string) {
	values := req.Headers.Values("Sec-WebSocket-Extensions")
	if len(values) == 0 {
		return nil, nil
	}
	offers, err := parseExtensionHeader(values)
	if err != nil {
		return nil, nil
	}
	var exts []Extension
	var respValues []string
	for _, entry := range offers {
		for _, factory := range c.serverExtFactories {
			if factory.Name() != entry.name {
				continue
			}
			respParams, ext, ok := factory.ProcessOfferParams(entry.params)
			if ok {
				exts = append(exts, ext)
				respValues = append(respValues, formatExtensionHeader(factory.Name(), respParams))
				break
			}
		}
	}
	return exts, respValues
}
