package httpmsg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/sandpiper-labs/wsproto/internal/bufpipe"
)

func TestParseRequestRoundTrip(t *testing.T) {
	raw := "GET /test HTTP/1.1\r\nHost: example.com\r\nUpgrade: websocket\r\n\r\n"
	p := bufpipe.New()
	p.Write([]byte(raw))

	c := p.Cursor()
	req, err := ParseRequest(c)
	require.NoError(t, err)
	c.Commit()

	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/test", req.Path)
	host, ok := req.Headers.Get("Host")
	require.True(t, ok)
	require.Equal(t, "example.com", host)

	require.Equal(t, raw, string(req.Serialize()))
	require.Equal(t, 0, p.Len())
}

func TestParseRequestNeedsMoreBytes(t *testing.T) {
	p := bufpipe.New()
	p.Write([]byte("GET /test HTTP/1.1\r\nHost: exa"))

	c := p.Cursor()
	_, err := ParseRequest(c)
	require.ErrorIs(t, err, bufpipe.ErrNeedMore)
	// Nothing committed, buffer is untouched for a future retry.
	require.Equal(t, 29, p.Len())
}

func TestParseResponseWithBody(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 13\r\n\r\nSorry folks.\n"
	p := bufpipe.New()
	p.Write([]byte(raw))

	resp, err := ParseResponse(p.Cursor())
	require.NoError(t, err)
	require.Equal(t, 404, resp.StatusCode)
	require.Equal(t, "Not Found", resp.ReasonPhrase)
	require.Equal(t, []byte("Sorry folks.\n"), resp.Body)
}

func TestParseResponseDuplicateHeadersPreserveOrder(t *testing.T) {
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Sec-WebSocket-Extensions: x-op; op=this\r\n" +
		"Sec-WebSocket-Extensions: x-op; op=that\r\n\r\n"
	p := bufpipe.New()
	p.Write([]byte(raw))

	resp, err := ParseResponse(p.Cursor())
	require.NoError(t, err)

	got := resp.Headers.Values("Sec-WebSocket-Extensions")
	want := []string{"x-op; op=this", "x-op; op=that"}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("extension header order mismatch (-want +got):\n%s", diff)
	}
}

func TestParseHeaderFieldsRejectsMalformedLine(t *testing.T) {
	p := bufpipe.New()
	p.Write([]byte("GET / HTTP/1.1\r\nnotaheader\r\n\r\n"))

	_, err := ParseRequest(p.Cursor())
	require.ErrorIs(t, err, ErrMalformedHeaderLine)
}

func TestParseHeaderFieldsRejectsTooMany(t *testing.T) {
	p := bufpipe.New()
	p.Write([]byte("GET / HTTP/1.1\r\n"))
	for i := 0; i < 257; i++ {
		p.Write([]byte("X-Test: 1\r\n"))
	}
	p.Write([]byte("\r\n"))

	_, err := ParseRequest(p.Cursor())
	require.ErrorIs(t, err, ErrTooManyHeaderFields)
}

func TestHeadersHasToken(t *testing.T) {
	h := NewHeaders()
	h.Add("Connection", "keep-alive, Upgrade")
	require.True(t, h.HasToken("Connection", "upgrade"))
	require.False(t, h.HasToken("Connection", "close"))
}
