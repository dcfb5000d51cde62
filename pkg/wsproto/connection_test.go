package wsproto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandpiper-labs/wsproto/internal/httpmsg"
)

func buildResponseWithExtensions(t *testing.T, key, extValue string) *httpmsg.Response {
	t.Helper()
	h := httpmsg.NewHeaders()
	h.Add("Upgrade", "websocket")
	h.Add("Connection", "Upgrade")
	h.Add("Sec-WebSocket-Accept", expectedAccept(key))
	if extValue != "" {
		h.Add("Sec-WebSocket-Extensions", extValue)
	}
	return &httpmsg.Response{StatusCode: 101, ReasonPhrase: "Switching Protocols", Headers: h}
}

// TestScenario1ClientOpeningRequest is spec.md §8 scenario 1.
func TestScenario1ClientOpeningRequest(t *testing.T) {
	orig := newNonce
	defer func() { newNonce = orig }()
	newNonce = func() (string, error) { return "KEY", nil }

	c := NewClientConnection(ClientOptions{UserAgent: "UA"})
	req, err := c.Connect("wss://example.com/test")
	require.NoError(t, err)

	want := "GET /test HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: KEY\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"User-Agent: UA\r\n\r\n"
	require.Equal(t, want, string(c.SendRequest(req)))
}

// TestScenario2AcceptResponse is spec.md §8 scenario 2.
func TestScenario2AcceptResponse(t *testing.T) {
	orig := newNonce
	defer func() { newNonce = orig }()
	newNonce = func() (string, error) { return "KEY", nil }

	c := NewClientConnection(ClientOptions{})
	req, err := c.Connect("ws://example.com/")
	require.NoError(t, err)
	c.SendRequest(req)

	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + expectedAccept("KEY") + "\r\n\r\n"

	events, out := c.ReceiveData([]byte(raw))
	require.Empty(t, out)
	require.Equal(t, StateOpen, c.State())
	require.Len(t, events, 1)
	ev, ok := events[0].(ResponseEvent)
	require.True(t, ok)
	require.NoError(t, ev.Err)
}

// TestScenario3RejectResponseWithBody is spec.md §8 scenario 3.
func TestScenario3RejectResponseWithBody(t *testing.T) {
	c := NewClientConnection(ClientOptions{})
	_, err := c.Connect("ws://example.com/")
	require.NoError(t, err)

	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 13\r\n\r\nSorry folks.\n"
	events, _ := c.ReceiveData([]byte(raw))
	require.Equal(t, StateConnecting, c.State())
	require.Len(t, events, 1)
	ev := events[0].(ResponseEvent)
	require.Error(t, ev.Err)
	require.Equal(t, []byte("Sorry folks.\n"), ev.Response.Body)
}

// TestScenario4MissingConnectionHeader is spec.md §8 scenario 4.
func TestScenario4MissingConnectionHeader(t *testing.T) {
	orig := newNonce
	defer func() { newNonce = orig }()
	newNonce = func() (string, error) { return "KEY", nil }

	c := NewClientConnection(ClientOptions{})
	_, err := c.Connect("ws://example.com/")
	require.NoError(t, err)

	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Accept: " + expectedAccept("KEY") + "\r\n\r\n"
	events, _ := c.ReceiveData([]byte(raw))
	require.Equal(t, StateConnecting, c.State())

	ev := events[0].(ResponseEvent)
	var he *HandshakeError
	require.ErrorAs(t, ev.Err, &he)
	require.Equal(t, InvalidConnection, he.Kind)
}

// TestScenario6CloseExchange is spec.md §8 scenario 6: both peers call
// send_close and each converges to CLOSED, naming whichever side it
// observed first.
func TestScenario6CloseExchange(t *testing.T) {
	client := openConnectionPair(t)
	server := client.peer

	clientOut, err := client.conn.SendClose(CloseNormalClosure, "")
	require.NoError(t, err)
	serverOut, err := server.conn.SendClose(CloseNormalClosure, "")
	require.NoError(t, err)

	clientEvents, moreFromClient := client.conn.ReceiveData(serverOut)
	require.Empty(t, moreFromClient)
	serverEvents, moreFromServer := server.conn.ReceiveData(clientOut)
	require.Empty(t, moreFromServer)

	require.Equal(t, StateClosed, client.conn.State())
	require.Equal(t, StateClosed, server.conn.State())

	clientClosed := clientEvents[len(clientEvents)-1].(ClosedEvent)
	serverClosed := serverEvents[len(serverEvents)-1].(ClosedEvent)
	require.True(t, clientClosed.Err.OK())
	require.True(t, serverClosed.Err.OK())
	// Each side already had closeSent set by its own send_close before the
	// peer's frame arrived, so from each side's point of view it sent first.
	require.False(t, clientClosed.Err.RcvdThenSent)
	require.False(t, serverClosed.Err.RcvdThenSent)
}

// TestScenario6LiteralCloseText is the "peer that received first" half of
// spec.md §8 scenario 6, asserted against the literal rendered string the
// scenario pins rather than just .OK()/.RcvdThenSent.
func TestScenario6LiteralCloseText(t *testing.T) {
	pair := openConnectionPair(t)

	out, err := pair.peer.conn.SendClose(CloseNormalClosure, "")
	require.NoError(t, err)

	events, echoOut := pair.conn.ReceiveData(out)
	require.NotEmpty(t, echoOut)

	closed := events[len(events)-1].(ClosedEvent)
	require.True(t, closed.Err.RcvdThenSent)
	require.Equal(t, "connection closed: received 1000 (OK); then sent 1000 (OK)", closed.Err.Error())
}

func TestCloseOrderingRcvdThenSent(t *testing.T) {
	pair := openConnectionPair(t)

	out, err := pair.peer.conn.SendClose(CloseGoingAway, "bye")
	require.NoError(t, err)

	events, echoOut := pair.conn.ReceiveData(out)
	require.NotEmpty(t, echoOut)
	closed := events[len(events)-1].(ClosedEvent)
	require.True(t, closed.Err.RcvdThenSent)
	require.Contains(t, closed.Err.Error(), "received")
}

// connPair wires a client and server Connection together through a
// completed handshake, for data-phase tests.
type connPair struct {
	conn *Connection
	peer *connPair
}

func openConnectionPair(t *testing.T) *connPair {
	t.Helper()
	orig := newNonce
	defer func() { newNonce = orig }()
	// The server checks that the key decodes to 16 bytes, so "KEY" will not do.
	newNonce = func() (string, error) { return "dGhlIHNhbXBsZSBub25jZQ==", nil }

	client := NewClientConnection(ClientOptions{})
	req, err := client.Connect("ws://example.com/chat")
	require.NoError(t, err)
	reqBytes := client.SendRequest(req)

	server := NewServerConnection(ServerOptions{})
	events, _ := server.ReceiveData(reqBytes)
	gotReq := events[0].(RequestEvent).Request

	resp, err := server.Accept(gotReq)
	require.NoError(t, err)
	respBytes := server.SendResponse(resp)
	require.Equal(t, StateOpen, server.State())

	events, out := client.ReceiveData(respBytes)
	require.Empty(t, out)
	require.Equal(t, StateOpen, client.State())
	require.NoError(t, events[0].(ResponseEvent).Err)

	cp := &connPair{conn: client}
	sp := &connPair{conn: server}
	cp.peer = sp
	sp.peer = cp
	return cp
}

func TestMaskingDirectionByRole(t *testing.T) {
	pair := openConnectionPair(t)

	clientBytes, err := pair.conn.SendText([]byte("hi"), true)
	require.NoError(t, err)
	require.NotZero(t, clientBytes[1]&0x80, "client frames must be masked")

	serverBytes, err := pair.peer.conn.SendText([]byte("hi"), true)
	require.NoError(t, err)
	require.Zero(t, serverBytes[1]&0x80, "server frames must be unmasked")
}

func TestFragmentationWithInterleavedControlFrame(t *testing.T) {
	pair := openConnectionPair(t)

	first, err := pair.peer.conn.SendText([]byte("hello "), false)
	require.NoError(t, err)
	ping, err := pair.peer.conn.SendPing([]byte("ping"))
	require.NoError(t, err)
	second, err := pair.peer.conn.SendContinuation([]byte("world"), true)
	require.NoError(t, err)

	events, out := pair.conn.ReceiveData(append(append(first, ping...), second...))
	require.NotEmpty(t, out) // the auto-pong reply

	var pingSeen, msgSeen bool
	for _, ev := range events {
		switch e := ev.(type) {
		case PingEvent:
			pingSeen = true
			require.Equal(t, "ping", string(e.Payload))
		case MessageEvent:
			msgSeen = true
			require.Equal(t, KindText, e.Kind)
			require.Equal(t, "hello world", string(e.Data))
		}
	}
	require.True(t, pingSeen)
	require.True(t, msgSeen)
}

func TestMaxSizeProducesClose1009BeforeMessageEvent(t *testing.T) {
	orig := newNonce
	defer func() { newNonce = orig }()
	newNonce = func() (string, error) { return "dGhlIHNhbXBsZSBub25jZQ==", nil }

	client := NewClientConnection(ClientOptions{})
	req, _ := client.Connect("ws://example.com/")
	reqBytes := client.SendRequest(req)

	server := NewServerConnection(ServerOptions{MaxSize: 10})
	events, _ := server.ReceiveData(reqBytes)
	gotReq := events[0].(RequestEvent).Request
	resp, _ := server.Accept(gotReq)
	server.SendResponse(resp)

	respBytes := buildResponseWithExtensions(t, "dGhlIHNhbXBsZSBub25jZQ==", "")
	client.ReceiveData(respBytes.Serialize())

	frameBytes, err := client.SendText(make([]byte, 50), true)
	require.NoError(t, err)

	events, out := server.ReceiveData(frameBytes)
	require.NotEmpty(t, out)
	require.Equal(t, StateClosed, server.State())

	closed := events[len(events)-1].(ClosedEvent)
	require.Equal(t, CloseMessageTooBig, closed.Err.Sent.Code)
	for _, ev := range events {
		if _, ok := ev.(MessageEvent); ok {
			t.Fatal("must not deliver a MessageEvent once max_size is exceeded")
		}
	}
}

func TestSendOnClosedConnectionIsInvalidState(t *testing.T) {
	pair := openConnectionPair(t)
	pair.conn.Fail(CloseInternalError, "boom")

	_, err := pair.conn.SendText([]byte("x"), true)
	var ise *InvalidStateError
	require.ErrorAs(t, err, &ise)
}
