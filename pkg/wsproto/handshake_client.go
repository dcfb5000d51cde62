package wsproto

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/sandpiper-labs/wsproto/internal/httpmsg"
)

// websocketGUID is the fixed string RFC 6455 §1.3 concatenates with the
// client's nonce to derive Sec-WebSocket-Accept.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const defaultUserAgent = "wsproto/1.0"

// Connect parses rawURI (ws:// or wss://) and builds the opening handshake
// request. Userinfo present in the URI is sent as HTTP Basic Auth, matching
// the behavior of the library this engine's opening-handshake semantics are
// modeled on.
func (c *Connection) Connect(rawURI string) (*httpmsg.Request, error) {
	if c.side != ClientSide {
		return nil, &InvalidStateError{Reason: "Connect called on a non-client connection"}
	}
	if c.hsSub != hsUnstarted {
		return nil, &InvalidStateError{Reason: "Connect already called"}
	}

	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, &InvalidURIError{URI: rawURI, Reason: err.Error()}
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return nil, &InvalidURIError{URI: rawURI, Reason: "scheme must be ws or wss"}
	}

	hostname := u.Hostname()
	if hostname == "" {
		return nil, &InvalidURIError{URI: rawURI, Reason: "missing host"}
	}
	defaultPort := "80"
	if scheme == "wss" {
		defaultPort = "443"
	}
	hostHeader := hostname
	if port := u.Port(); port != "" && port != defaultPort {
		hostHeader = hostname + ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	key, err := newNonce()
	if err != nil {
		return nil, err
	}
	c.clientKey = key

	h := httpmsg.NewHeaders()
	h.Add("Host", hostHeader)
	h.Add("Upgrade", "websocket")
	h.Add("Connection", "Upgrade")
	h.Add("Sec-WebSocket-Key", key)
	h.Add("Sec-WebSocket-Version", "13")
	ua := c.userAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	h.Add("User-Agent", ua)
	if c.origin != "" {
		h.Add("Origin", c.origin)
	}
	if len(c.clientSubprotocols) > 0 {
		h.Add("Sec-WebSocket-Protocol", strings.Join(c.clientSubprotocols, ", "))
	}
	for _, factory := range c.clientExtFactories {
		h.Add("Sec-WebSocket-Extensions", formatExtensionHeader(factory.Name(), factory.OfferParams()))
	}
	if u.User != nil {
		username := u.User.Username()
		password, _ := u.User.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		h.Add("Authorization", "Basic "+cred)
	}
	if c.extraHeaders != nil {
		c.extraHeaders.Each(func(name, value string) {
			h.Set(name, value)
		})
	}

	c.hsSub = hsAwaitingResponse
	return &httpmsg.Request{Method: "GET", Path: path, Headers: h}, nil
}

// newNonce is a var so tests can substitute a fixed key; production code
// never reassigns it.
var newNonce = func() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("wsproto: generate Sec-WebSocket-Key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// expectedAccept derives the Sec-WebSocket-Accept value a server must
// return for the given client key, per RFC 6455 §1.3.
func expectedAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// validateClientResponse checks a server's handshake response against RFC
// 6455 §4.1 and negotiates subprotocol/extensions from it.
func (c *Connection) validateClientResponse(resp *httpmsg.Response) error {
	if resp.StatusCode != 101 {
		return &HandshakeError{Kind: InvalidStatusKind, StatusCode: resp.StatusCode, Reason: "expected status 101"}
	}
	upgrade, ok := resp.Headers.Get("Upgrade")
	if !ok || !strings.EqualFold(strings.TrimSpace(upgrade), "websocket") {
		return &HandshakeError{Kind: InvalidUpgrade, HeaderName: "Upgrade", Reason: "missing or invalid value"}
	}
	if !resp.Headers.HasToken("Connection", "upgrade") {
		return &HandshakeError{Kind: InvalidConnection, HeaderName: "Connection", Reason: "missing Upgrade token"}
	}
	if resp.Headers.Count("Sec-WebSocket-Accept") != 1 {
		return &HandshakeError{Kind: InvalidHeaderKind, HeaderName: "Sec-WebSocket-Accept", Reason: "must appear exactly once"}
	}
	accept, _ := resp.Headers.Get("Sec-WebSocket-Accept")
	if accept != expectedAccept(c.clientKey) {
		return &HandshakeError{Kind: InvalidHeaderValueKind, HeaderName: "Sec-WebSocket-Accept", Reason: "does not match the expected digest"}
	}

	if resp.Headers.Count("Sec-WebSocket-Protocol") > 1 {
		return &HandshakeError{Kind: InvalidHeaderKind, HeaderName: "Sec-WebSocket-Protocol", Reason: "must appear at most once"}
	}
	if proto, ok := resp.Headers.Get("Sec-WebSocket-Protocol"); ok {
		if !containsString(c.clientSubprotocols, proto) {
			return &HandshakeError{Kind: NegotiationErrorKind, Reason: fmt.Sprintf("server chose unoffered subprotocol %q", proto)}
		}
		c.subprotocol = proto
	}

	if values := resp.Headers.Values("Sec-WebSocket-Extensions"); len(values) > 0 {
		offers, err := parseExtensionHeader(values)
		if err != nil {
			return &HandshakeError{Kind: InvalidHeaderFormat, HeaderName: "Sec-WebSocket-Extensions", Reason: err.Error()}
		}
		exts := make([]Extension, 0, len(offers))
		for _, entry := range offers {
			ext, hsErr := c.acceptClientExtension(entry, exts)
			if hsErr != nil {
				return hsErr
			}
			exts = append(exts, ext)
		}
		c.extensions = exts
	}
	return nil
}

func (c *Connection) acceptClientExtension(entry extOffer, accepted []Extension) (Extension, error) {
	for _, factory := range c.clientExtFactories {
		if factory.Name() != entry.name {
			continue
		}
		ext, err := factory.ProcessResponseParams(entry.params, accepted)
		if err == nil {
			return ext, nil
		}
	}
	return nil, &HandshakeError{
		Kind:   NegotiationErrorKind,
		Reason: fmt.Sprintf("unsupported extension: name = %s, params = %s", entry.name, formatParamsRepr(entry.params)),
	}
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
