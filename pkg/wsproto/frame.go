package wsproto

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sandpiper-labs/wsproto/internal/bufpipe"
)

// MaxControlFramePayload is the largest payload RFC 6455 §5.5 allows a
// control frame (close, ping, pong) to carry.
const MaxControlFramePayload = 125

// DefaultMaxSize is the default ceiling on a single message's total
// reassembled payload size, applied when ClientOptions.MaxSize or
// ServerOptions.MaxSize is zero.
const DefaultMaxSize = 1 << 20 // 1 MiB

// Frame is one RFC 6455 §5.2 WebSocket frame, already unmasked.
type Frame struct {
	FIN     bool
	RSV1    bool
	RSV2    bool
	RSV3    bool
	Opcode  Opcode
	Payload []byte
}

// frameLimits bundles the role- and negotiation-dependent constraints that
// parseFrame must enforce: the masking direction, the maximum payload size,
// and which RSV bits an active extension currently owns for a given opcode.
type frameLimits struct {
	maxSize      int
	expectMasked bool
	rsvAllowed   func(rsv1, rsv2, rsv3 bool, op Opcode) bool
}

// parseFrame reads one frame from c. It returns bufpipe.ErrNeedMore/ErrClosed
// unchanged when c runs out of buffered bytes, so the caller can retry once
// ReceiveData has fed more bytes to the underlying Pipe.
func parseFrame(c *bufpipe.Cursor, lim frameLimits) (Frame, error) {
	b0, err := c.Byte()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	f.FIN = b0&0x80 != 0
	f.RSV1 = b0&0x40 != 0
	f.RSV2 = b0&0x20 != 0
	f.RSV3 = b0&0x10 != 0
	f.Opcode = Opcode(b0 & 0x0f)

	if f.Opcode.IsReserved() {
		return Frame{}, &ProtocolError{Reason: fmt.Sprintf("reserved opcode %#x", byte(f.Opcode))}
	}
	if (f.RSV1 || f.RSV2 || f.RSV3) && (lim.rsvAllowed == nil || !lim.rsvAllowed(f.RSV1, f.RSV2, f.RSV3, f.Opcode)) {
		return Frame{}, &ProtocolError{Reason: "reserved bit set without an owning extension"}
	}

	b1, err := c.Byte()
	if err != nil {
		return Frame{}, err
	}
	masked := b1&0x80 != 0
	if masked != lim.expectMasked {
		if lim.expectMasked {
			return Frame{}, &ProtocolError{Reason: "received unmasked frame, masking is required"}
		}
		return Frame{}, &ProtocolError{Reason: "received masked frame, masking is forbidden"}
	}

	length := uint64(b1 & 0x7f)
	switch length {
	case 126:
		b, err := c.Need(2)
		if err != nil {
			return Frame{}, err
		}
		length = uint64(binary.BigEndian.Uint16(b))
	case 127:
		b, err := c.Need(8)
		if err != nil {
			return Frame{}, err
		}
		length = binary.BigEndian.Uint64(b)
	}

	if f.Opcode.IsControl() {
		if !f.FIN {
			return Frame{}, &ProtocolError{Reason: "fragmented control frame"}
		}
		if length > MaxControlFramePayload {
			return Frame{}, &ProtocolError{Reason: "control frame payload exceeds 125 bytes"}
		}
	}
	if lim.maxSize > 0 && length > uint64(lim.maxSize) {
		return Frame{}, &PayloadTooBigError{Size: length, Max: lim.maxSize}
	}

	var maskKey []byte
	if masked {
		maskKey, err = c.Need(4)
		if err != nil {
			return Frame{}, err
		}
	}
	raw, err := c.Need(int(length))
	if err != nil {
		return Frame{}, err
	}
	payload := append([]byte(nil), raw...)
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	f.Payload = payload
	return f, nil
}

// serialize encodes f per RFC 6455 §5.2. mask is true for frames sent by a
// client, which must generate a fresh random masking key per frame.
func (f Frame) serialize(mask bool) ([]byte, error) {
	length := len(f.Payload)

	headerLen := 2
	switch {
	case length > 0xffff:
		headerLen += 8
	case length > 125:
		headerLen += 2
	}
	if mask {
		headerLen += 4
	}
	out := make([]byte, headerLen, headerLen+length)

	b0 := byte(f.Opcode)
	if f.FIN {
		b0 |= 0x80
	}
	if f.RSV1 {
		b0 |= 0x40
	}
	if f.RSV2 {
		b0 |= 0x20
	}
	if f.RSV3 {
		b0 |= 0x10
	}
	out[0] = b0

	b1 := byte(0)
	if mask {
		b1 |= 0x80
	}
	i := 2
	switch {
	case length > 0xffff:
		out[1] = b1 | 127
		binary.BigEndian.PutUint64(out[2:10], uint64(length))
		i = 10
	case length > 125:
		out[1] = b1 | 126
		binary.BigEndian.PutUint16(out[2:4], uint16(length))
		i = 4
	default:
		out[1] = b1 | byte(length)
	}

	if !mask {
		return append(out, f.Payload...), nil
	}

	var key [4]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("wsproto: generate masking key: %w", err)
	}
	copy(out[i:i+4], key[:])
	masked := make([]byte, length)
	for j, b := range f.Payload {
		masked[j] = b ^ key[j%4]
	}
	return append(out, masked...), nil
}
