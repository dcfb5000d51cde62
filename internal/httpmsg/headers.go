// Package httpmsg implements just enough of HTTP/1.1 to parse and serialize
// the opening-handshake request/response pair: request and status lines, a
// case-insensitive multi-valued header map, and a Content-Length-driven body
// read. It is not a general HTTP library — no chunked encoding, no trailers,
// no persistent-connection reuse.
package httpmsg

import "strings"

// Headers is a case-insensitive, ordered, multi-valued header map. Multiple
// fields with the same name (e.g. repeated Sec-WebSocket-Extensions) are
// preserved in the order they were added; serialization writes them back in
// that same order.
type Headers struct {
	entries []headerEntry
}

type headerEntry struct {
	name  string
	value string
}

// NewHeaders returns an empty Headers map.
func NewHeaders() *Headers {
	return &Headers{}
}

// Add appends a value under name without removing any existing values.
func (h *Headers) Add(name, value string) {
	h.entries = append(h.entries, headerEntry{name: name, value: value})
}

// Set removes all existing values for name and adds value as the sole one.
func (h *Headers) Set(name, value string) {
	lname := strings.ToLower(name)
	kept := h.entries[:0:0]
	for _, e := range h.entries {
		if strings.ToLower(e.name) != lname {
			kept = append(kept, e)
		}
	}
	h.entries = kept
	h.Add(name, value)
}

// Get returns the first value for name, case-insensitively.
func (h *Headers) Get(name string) (string, bool) {
	lname := strings.ToLower(name)
	for _, e := range h.entries {
		if strings.ToLower(e.name) == lname {
			return e.value, true
		}
	}
	return "", false
}

// Values returns every value for name, in insertion order.
func (h *Headers) Values(name string) []string {
	lname := strings.ToLower(name)
	var out []string
	for _, e := range h.entries {
		if strings.ToLower(e.name) == lname {
			out = append(out, e.value)
		}
	}
	return out
}

// Count reports how many times name appears.
func (h *Headers) Count(name string) int {
	n := 0
	lname := strings.ToLower(name)
	for _, e := range h.entries {
		if strings.ToLower(e.name) == lname {
			n++
		}
	}
	return n
}

// Each calls fn for every header in insertion order.
func (h *Headers) Each(fn func(name, value string)) {
	for _, e := range h.entries {
		fn(e.name, e.value)
	}
}

// HasToken reports whether name's values, split on commas and trimmed,
// contain token (case-insensitively) — the test used for Connection:
// Upgrade and Upgrade: websocket.
func (h *Headers) HasToken(name, token string) bool {
	token = strings.ToLower(token)
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.ToLower(strings.TrimSpace(part)) == token {
				return true
			}
		}
	}
	return false
}
