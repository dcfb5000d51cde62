// Package wsadapter drives a *wsproto.Connection over a net.Conn: it owns
// the blocking Read/Write calls and the read buffer the sans-I/O engine in
// pkg/wsproto never touches itself.
package wsadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandpiper-labs/wsproto/pkg/wsproto"
)

// Conn pairs a live net.Conn with the protocol engine driving it.
type Conn struct {
	nc     net.Conn
	engine *wsproto.Connection
	log    zerolog.Logger
}

// DialContext opens a TCP connection to the host in rawURI, performs the
// WebSocket opening handshake as a client, and returns a ready Conn.
func DialContext(ctx context.Context, rawURI string, opts wsproto.ClientOptions, log zerolog.Logger) (*Conn, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("wsadapter: parse %q: %w", rawURI, err)
	}
	addr := u.Host
	if u.Port() == "" {
		if u.Scheme == "wss" {
			addr = net.JoinHostPort(u.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wsadapter: dial %s: %w", addr, err)
	}

	engine := wsproto.NewClientConnection(opts)
	c := &Conn{nc: nc, engine: engine, log: log.With().Str("role", "client").Str("uri", rawURI).Logger()}

	req, err := engine.Connect(rawURI)
	if err != nil {
		nc.Close()
		return nil, err
	}
	if _, err := nc.Write(engine.SendRequest(req)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("wsadapter: write request: %w", err)
	}
	c.log.Debug().Msg("opening request sent")

	if err := c.awaitHandshake(ctx, func(ev wsproto.Event) (bool, error) {
		re, ok := ev.(wsproto.ResponseEvent)
		if !ok {
			return false, nil
		}
		if re.Err != nil {
			return true, fmt.Errorf("wsadapter: handshake rejected: %w", re.Err)
		}
		return true, nil
	}); err != nil {
		nc.Close()
		return nil, err
	}

	c.log.Info().Str("subprotocol", engine.Subprotocol()).Msg("connection open")
	return c, nil
}

// Accept performs the WebSocket opening handshake as a server over an
// already-accepted net.Conn (e.g. from net.Listener.Accept).
func Accept(nc net.Conn, opts wsproto.ServerOptions, log zerolog.Logger) (*Conn, error) {
	engine := wsproto.NewServerConnection(opts)
	c := &Conn{nc: nc, engine: engine, log: log.With().Str("role", "server").Str("remote", nc.RemoteAddr().String()).Logger()}

	var handshakeErr error
	err := c.awaitHandshake(context.Background(), func(ev wsproto.Event) (bool, error) {
		re, ok := ev.(wsproto.RequestEvent)
		if !ok {
			return false, nil
		}
		resp, acceptErr := engine.Accept(re.Request)
		if _, werr := nc.Write(engine.SendResponse(resp)); werr != nil {
			return true, fmt.Errorf("wsadapter: write response: %w", werr)
		}
		handshakeErr = acceptErr
		return true, nil
	})
	if err != nil {
		nc.Close()
		return nil, err
	}
	if handshakeErr != nil {
		nc.Close()
		return nil, fmt.Errorf("wsadapter: request rejected: %w", handshakeErr)
	}

	c.log.Info().Str("subprotocol", engine.Subprotocol()).Msg("connection open")
	return c, nil
}

// awaitHandshake pumps inbound bytes until handle reports it has seen the
// event it was waiting for.
func (c *Conn) awaitHandshake(ctx context.Context, handle func(wsproto.Event) (bool, error)) error {
	for {
		events, err := c.pump(ctx)
		if err != nil {
			return err
		}
		for _, ev := range events {
			done, err := handle(ev)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// pump blocks on a single Read, feeds the bytes to the engine, writes back
// whatever outbound bytes the engine produced, and returns the resulting
// events. Grounded on the read-then-drain-leftover pattern used by
// connection-oriented WebSocket servers that buffer partial frames between
// reads.
func (c *Conn) pump(ctx context.Context) ([]wsproto.Event, error) {
	if dl, ok := ctx.Deadline(); ok {
		c.nc.SetReadDeadline(dl)
	} else {
		c.nc.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, 4096)
	n, err := c.nc.Read(buf)
	if n > 0 {
		events, out := c.engine.ReceiveData(buf[:n])
		if len(out) > 0 {
			if _, werr := c.nc.Write(out); werr != nil {
				return events, fmt.Errorf("wsadapter: write: %w", werr)
			}
		}
		if err == nil {
			return events, nil
		}
	}
	if errors.Is(err, io.EOF) {
		c.engine.ReceiveEOF()
		return nil, io.EOF
	}
	return nil, fmt.Errorf("wsadapter: read: %w", err)
}

// ReadMessage blocks until a full application message, a close, or an error
// is available, transparently replying to pings and logging pongs.
func (c *Conn) ReadMessage(ctx context.Context) (wsproto.MessageKind, []byte, error) {
	for {
		events, err := c.pump(ctx)
		if err != nil {
			return 0, nil, err
		}
		for _, ev := range events {
			switch e := ev.(type) {
			case wsproto.MessageEvent:
				return e.Kind, e.Data, nil
			case wsproto.ClosedEvent:
				c.log.Debug().Str("close", e.Err.Error()).Msg("connection closed")
				return 0, nil, e.Err
			case wsproto.PingEvent:
				c.log.Debug().Int("payload_len", len(e.Payload)).Msg("ping received, pong queued")
			case wsproto.PongEvent:
				c.log.Debug().Int("payload_len", len(e.Payload)).Msg("pong received")
			}
		}
	}
}

// WriteText sends a single unfragmented TEXT message.
func (c *Conn) WriteText(data []byte) error {
	out, err := c.engine.SendText(data, true)
	if err != nil {
		return err
	}
	_, err = c.nc.Write(out)
	return err
}

// WriteBinary sends a single unfragmented BINARY message.
func (c *Conn) WriteBinary(data []byte) error {
	out, err := c.engine.SendBinary(data, true)
	if err != nil {
		return err
	}
	_, err = c.nc.Write(out)
	return err
}

// Ping sends a ping control frame.
func (c *Conn) Ping(data []byte) error {
	out, err := c.engine.SendPing(data)
	if err != nil {
		return err
	}
	_, err = c.nc.Write(out)
	return err
}

// Close starts the closing handshake and closes the transport once the
// close frame has been written. It neither waits for nor reads the peer's
// close frame.
func (c *Conn) Close(code wsproto.CloseCode, reason string) error {
	out, err := c.engine.SendClose(code, reason)
	if err != nil {
		return err
	}
	if _, werr := c.nc.Write(out); werr != nil {
		c.nc.Close()
		return werr
	}
	return c.nc.Close()
}

// Engine exposes the underlying protocol engine for callers that need
// direct access to its state (State, Subprotocol, Extensions).
func (c *Conn) Engine() *wsproto.Connection { return c.engine }
