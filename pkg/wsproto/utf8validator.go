package wsproto

import (
	"errors"
	"unicode/utf8"
)

var errInvalidUTF8 = errors.New("wsproto: invalid UTF-8")

// utf8Validator checks a text message's payload for valid UTF-8 across
// fragment boundaries, per RFC 6455 §5.6. A multi-byte rune can be split
// across two TEXT/CONTINUATION frames; leftover holds the still-incomplete
// tail of the previous push until either it is completed or the message
// ends with it unterminated, which is itself a validation failure.
type utf8Validator struct {
	leftover []byte
}

// push validates data, the payload of the next fragment of the in-progress
// message. final is true for the fragment whose frame had FIN set: at that
// point no bytes may remain buffered as an incomplete sequence.
func (v *utf8Validator) push(data []byte, final bool) error {
	buf := data
	if len(v.leftover) > 0 {
		buf = append(append([]byte(nil), v.leftover...), data...)
		v.leftover = nil
	}

	i := 0
	for i < len(buf) {
		if utf8.FullRune(buf[i:]) {
			r, size := utf8.DecodeRune(buf[i:])
			if r == utf8.RuneError && size == 1 {
				return errInvalidUTF8
			}
			i += size
			continue
		}
		// buf[i:] is a valid-but-truncated prefix of a multi-byte rune.
		if final {
			return errInvalidUTF8
		}
		v.leftover = append([]byte(nil), buf[i:]...)
		return nil
	}
	if final && len(v.leftover) > 0 {
		return errInvalidUTF8
	}
	return nil
}
