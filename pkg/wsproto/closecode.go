package wsproto

import "fmt"

// CloseCode is the two-byte status code carried in a close frame's payload,
// per RFC 6455 §7.4.
type CloseCode uint16

// Codes defined by RFC 6455 §7.4.1. 1005, 1006, and 1015 are sentinel values
// that must never appear on the wire; they describe a closure observed
// locally without a close frame.
const (
	CloseNormalClosure           CloseCode = 1000
	CloseGoingAway               CloseCode = 1001
	CloseProtocolErrorCode       CloseCode = 1002
	CloseUnsupportedData         CloseCode = 1003
	CloseNoStatusReceived        CloseCode = 1005
	CloseAbnormalClosure         CloseCode = 1006
	CloseInvalidFramePayloadData CloseCode = 1007
	ClosePolicyViolation         CloseCode = 1008
	CloseMessageTooBig           CloseCode = 1009
	CloseMandatoryExtension      CloseCode = 1010
	CloseInternalError           CloseCode = 1011
	CloseServiceRestart          CloseCode = 1012
	CloseTryAgainLater           CloseCode = 1013
	CloseTLSHandshake            CloseCode = 1015
)

var closeCodeText = map[CloseCode]string{
	CloseNormalClosure:           "OK",
	CloseGoingAway:               "going away",
	CloseProtocolErrorCode:       "protocol error",
	CloseUnsupportedData:         "unsupported data",
	CloseNoStatusReceived:        "no status received",
	CloseAbnormalClosure:         "abnormal closure",
	CloseInvalidFramePayloadData: "invalid frame payload data",
	ClosePolicyViolation:         "policy violation",
	CloseMessageTooBig:           "message too big",
	CloseMandatoryExtension:      "mandatory extension",
	CloseInternalError:           "internal error",
	CloseServiceRestart:          "service restart",
	CloseTryAgainLater:           "try again later",
	CloseTLSHandshake:            "TLS handshake",
}

func (c CloseCode) String() string {
	if s, ok := closeCodeText[c]; ok {
		return fmt.Sprintf("%d (%s)", uint16(c), s)
	}
	return fmt.Sprintf("%d", uint16(c))
}

// sentinelCloseCodes are never valid on the wire in either direction.
func (c CloseCode) isSentinel() bool {
	return c == CloseNoStatusReceived || c == CloseAbnormalClosure || c == CloseTLSHandshake
}

var sendableCloseCodes = map[CloseCode]bool{
	CloseNormalClosure:           true,
	CloseGoingAway:               true,
	CloseProtocolErrorCode:       true,
	CloseUnsupportedData:         true,
	CloseInvalidFramePayloadData: true,
	ClosePolicyViolation:         true,
	CloseMessageTooBig:           true,
	CloseMandatoryExtension:      true,
	CloseInternalError:           true,
	CloseServiceRestart:          true,
	CloseTryAgainLater:           true,
}

// ValidForSend reports whether an endpoint may put c on the wire in a close
// frame: the registered codes above, plus the private-use range 3000-4999.
func (c CloseCode) ValidForSend() bool {
	if c >= 3000 && c <= 4999 {
		return true
	}
	return sendableCloseCodes[c]
}

// ValidReceived reports whether a code read from the wire is acceptable:
// anywhere in 1000-4999 except the three sentinel values.
func (c CloseCode) ValidReceived() bool {
	if c.isSentinel() {
		return false
	}
	return c >= 1000 && c <= 4999
}

// CloseInfo records a close code and optional UTF-8 reason, either sent or
// received, per RFC 6455 §5.5.1.
type CloseInfo struct {
	Code   CloseCode
	Reason string
}
