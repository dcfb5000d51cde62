package wsproto

import (
	"fmt"
	"strconv"
	"strings"
)

// Param is one `name` or `name=value` token within a Sec-WebSocket-Extensions
// entry. An empty Value means the parameter is a bare flag.
type Param struct {
	Name  string
	Value string
}

// Extension transforms frames on behalf of a negotiated extension, such as a
// compression scheme. It owns a subset of the RSV bits and/or a subset of
// opcodes for the lifetime of the Connection; Decode/Encode must leave any
// frame outside that subset unchanged.
type Extension interface {
	Name() string
	// RSV reports which reserved bits this extension sets on frames it owns.
	RSV() (rsv1, rsv2, rsv3 bool)
	// Opcodes lists which opcodes this extension applies to; an empty slice
	// means all opcodes.
	Opcodes() []Opcode
	// Decode runs on an inbound frame after parsing, outermost extension
	// first (reverse of negotiation order).
	Decode(f Frame, maxSize int) (Frame, error)
	// Encode runs on an outbound frame before serialization, in negotiation
	// order.
	Encode(f Frame) (Frame, error)
}

// ClientExtensionFactory offers a parameter set in the opening request and,
// if the server's response accepts it, builds the negotiated Extension.
type ClientExtensionFactory interface {
	Name() string
	OfferParams() []Param
	// ProcessResponseParams inspects the server's response entry for this
	// extension name and either returns the negotiated Extension or an
	// error explaining why the response cannot be accepted.
	ProcessResponseParams(params []Param, accepted []Extension) (Extension, error)
}

// ServerExtensionFactory inspects a client's offered parameter set and
// decides whether to accept it.
type ServerExtensionFactory interface {
	Name() string
	// ProcessOfferParams returns the parameters to echo in the response and
	// the negotiated Extension when ok is true. When ok is false, the
	// server silently omits this extension from the response.
	ProcessOfferParams(params []Param) (respParams []Param, ext Extension, ok bool)
}

// extOffer is one extension entry parsed out of one or more
// Sec-WebSocket-Extensions header values.
type extOffer struct {
	name   string
	params []Param
}

// parseExtensionHeader flattens every value of a (possibly repeated)
// Sec-WebSocket-Extensions header into an ordered list of entries, splitting
// on top-level commas within each value and then on semicolons within each
// entry. It does not handle quoted-string escaping, which this module's
// extensions do not need.
func parseExtensionHeader(values []string) ([]extOffer, error) {
	var offers []extOffer
	for _, v := range values {
		for _, piece := range strings.Split(v, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			parts := strings.Split(piece, ";")
			name := strings.TrimSpace(parts[0])
			if name == "" {
				return nil, fmt.Errorf("wsproto: empty extension name in %q", piece)
			}
			var params []Param
			for _, p := range parts[1:] {
				p = strings.TrimSpace(p)
				if p == "" {
					continue
				}
				if eq := strings.IndexByte(p, '='); eq >= 0 {
					params = append(params, Param{
						Name:  strings.TrimSpace(p[:eq]),
						Value: strings.Trim(strings.TrimSpace(p[eq+1:]), `"`),
					})
				} else {
					params = append(params, Param{Name: p})
				}
			}
			offers = append(offers, extOffer{name: name, params: params})
		}
	}
	return offers, nil
}

// formatExtensionHeader renders name and params back into a single
// Sec-WebSocket-Extensions header value.
func formatExtensionHeader(name string, params []Param) string {
	var b strings.Builder
	b.WriteString(name)
	for _, p := range params {
		b.WriteString("; ")
		b.WriteString(p.Name)
		if p.Value != "" {
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

// formatParamsRepr renders params for inclusion in a NegotiationError
// message.
func formatParamsRepr(params []Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = strconv.Quote(p.Name) + "=" + strconv.Quote(p.Value)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
