// Package deflate is a permessage-deflate-shaped demonstration of the
// pkg/wsproto.Extension hook. It negotiates the "permessage-deflate" name
// and its standard parameters, and claims RSV1 on data frames exactly as
// RFC 7692 specifies, but its Encode/Decode are no-ops: compressing the
// payload with compress/flate or klauspost/compress is deliberately left
// unimplemented, since shipping a compression codec is out of scope here.
package deflate

import (
	"github.com/sandpiper-labs/wsproto/pkg/wsproto"
)

const extensionName = "permessage-deflate"

// Extension is the negotiated, connection-scoped deflate extension. A real
// implementation would hold a flate.Writer/flate.Reader pair (and, if
// *_no_context_takeover was not negotiated, reset them per message) here.
type Extension struct {
	serverNoContextTakeover bool
	clientNoContextTakeover bool
}

func (e *Extension) Name() string { return extensionName }

// RSV reports that this extension owns RSV1, per RFC 7692 §6.
func (e *Extension) RSV() (rsv1, rsv2, rsv3 bool) { return true, false, false }

// Opcodes reports that only data frames carry the compressed bit.
func (e *Extension) Opcodes() []wsproto.Opcode {
	return []wsproto.Opcode{wsproto.OpText, wsproto.OpBinary}
}

// Decode would inflate f.Payload here when RSV1 is set; it passes the frame
// through unchanged, since no codec is wired in.
func (e *Extension) Decode(f wsproto.Frame, _ int) (wsproto.Frame, error) {
	return f, nil
}

// Encode would set RSV1 and deflate f.Payload here; it passes the frame
// through unchanged, leaving RSV1 clear.
func (e *Extension) Encode(f wsproto.Frame) (wsproto.Frame, error) {
	return f, nil
}

// ClientFactory offers "permessage-deflate" in the opening request.
type ClientFactory struct {
	// NoContextTakeover requests *_no_context_takeover for both directions.
	NoContextTakeover bool
}

func (f *ClientFactory) Name() string { return extensionName }

func (f *ClientFactory) OfferParams() []wsproto.Param {
	if !f.NoContextTakeover {
		return nil
	}
	return []wsproto.Param{
		{Name: "client_no_context_takeover"},
		{Name: "server_no_context_takeover"},
	}
}

func (f *ClientFactory) ProcessResponseParams(params []wsproto.Param, _ []wsproto.Extension) (wsproto.Extension, error) {
	ext := &Extension{}
	for _, p := range params {
		switch p.Name {
		case "client_no_context_takeover":
			ext.clientNoContextTakeover = true
		case "server_no_context_takeover":
			ext.serverNoContextTakeover = true
		case "client_max_window_bits", "server_max_window_bits":
			// Accepted but not acted on: no codec is wired in to honor a
			// window-size limit.
		default:
			return nil, &wsproto.HandshakeError{
				Kind:   wsproto.NegotiationErrorKind,
				Reason: "unrecognized permessage-deflate parameter " + p.Name,
			}
		}
	}
	return ext, nil
}

// ServerFactory accepts any client offer of "permessage-deflate" and echoes
// it back unchanged.
type ServerFactory struct{}

func (f *ServerFactory) Name() string { return extensionName }

func (f *ServerFactory) ProcessOfferParams(params []wsproto.Param) ([]wsproto.Param, wsproto.Extension, bool) {
	ext := &Extension{}
	for _, p := range params {
		switch p.Name {
		case "client_no_context_takeover":
			ext.clientNoContextTakeover = true
		case "server_no_context_takeover":
			ext.serverNoContextTakeover = true
		}
	}
	return params, ext, true
}
