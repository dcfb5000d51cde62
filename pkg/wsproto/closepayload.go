package wsproto

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// encodeClosePayload builds the payload of a close frame: a 2-byte code
// followed by an optional UTF-8 reason, per RFC 6455 §5.5.1. The combined
// payload must fit in a control frame (<=125 bytes), so reason is capped at
// 123 bytes.
func encodeClosePayload(code CloseCode, reason string) ([]byte, error) {
	if len(reason) > MaxControlFramePayload-2 {
		return nil, &InvalidStateError{Reason: "close reason exceeds 123 bytes"}
	}
	if !utf8.ValidString(reason) {
		return nil, &InvalidStateError{Reason: "close reason is not valid UTF-8"}
	}
	b := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(b, uint16(code))
	copy(b[2:], reason)
	return b, nil
}

// decodeClosePayload parses a close frame's payload. A nil, nil result means
// the frame carried no code or reason at all, which RFC 6455 §7.1.5 treats
// the same as CloseNoStatusReceived.
func decodeClosePayload(payload []byte) (*CloseInfo, error) {
	switch len(payload) {
	case 0:
		return nil, nil
	case 1:
		return nil, &ProtocolError{Reason: "close frame payload of length 1"}
	}
	code := CloseCode(binary.BigEndian.Uint16(payload[:2]))
	reason := string(payload[2:])
	if !utf8.ValidString(reason) {
		return nil, &ProtocolError{Code: CloseInvalidFramePayloadData, Reason: "close reason is not valid UTF-8"}
	}
	if !code.ValidReceived() {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid close code %d", uint16(code))}
	}
	return &CloseInfo{Code: code, Reason: reason}, nil
}
