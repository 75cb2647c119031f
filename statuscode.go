package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StatusCode represents a WebSocket status code.
// https://tools.ietf.org/html/rfc6455#section-7.4
type StatusCode int

// These codes were retrieved from:
// https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number
const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusProtocolError   StatusCode = 1002
	StatusUnsupportedData StatusCode = 1003

	// 1004 is reserved and so not exported.
	statusReserved StatusCode = 1004

	// StatusNoStatusRcvd cannot be sent in a close frame.
	// It is reserved for when a close frame is received without
	// an explicit status.
	StatusNoStatusRcvd StatusCode = 1005

	// StatusAbnormalClosure cannot be sent in a close frame. It is
	// synthesized when a connection is torn down without one.
	StatusAbnormalClosure StatusCode = 1006

	StatusInvalidFramePayloadData StatusCode = 1007
	StatusPolicyViolation         StatusCode = 1008
	StatusMessageTooBig           StatusCode = 1009
	StatusMandatoryExtension      StatusCode = 1010
	StatusInternalError           StatusCode = 1011
	StatusServiceRestart          StatusCode = 1012
	StatusTryAgainLater           StatusCode = 1013
	StatusBadGateway              StatusCode = 1014

	// StatusTLSHandshake cannot be sent in a close frame as it is
	// only meaningful before the connection exists.
	StatusTLSHandshake StatusCode = 1015
)

// CloseError is returned when the peer closes the connection with a
// close frame. Its fields echo the frame's status code and reason.
//
// Use errors.As or the CloseStatus helper to check for it.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (ce CloseError) Error() string {
	return fmt.Sprintf("status = %v and reason = %q", ce.Code, ce.Reason)
}

// CloseStatus is a convenience wrapper around errors.As to grab
// the status code from a CloseError. If the passed error is nil
// or not a CloseError, the returned StatusCode will be -1.
func CloseStatus(err error) StatusCode {
	var ce CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

// validWireCloseCode reports whether code is legal in a received close
// frame. 1004-1006 never legally appear on the wire from a conforming
// sender but decode all the same; anything outside 1000-1015 is a
// protocol error.
func validWireCloseCode(code StatusCode) bool {
	return code >= StatusNormalClosure && code <= StatusTLSHandshake
}

// validSendCloseCode reports whether code may be sent in a close
// frame. The synthetic codes 1004-1006 are receive only.
func validSendCloseCode(code StatusCode) bool {
	switch code {
	case statusReserved, StatusNoStatusRcvd, StatusAbnormalClosure:
		return false
	}
	return validWireCloseCode(code)
}

// parseClosePayload extracts the status code from the leading two
// bytes of a close frame payload, returning the remaining reason
// bytes. A close frame must carry its code.
func parseClosePayload(p []byte) (StatusCode, []byte, error) {
	if len(p) < 2 {
		return 0, nil, fmt.Errorf("%w: close frame payload %q too small to contain the status code", ErrInvalidFrame, p)
	}

	code := StatusCode(binary.BigEndian.Uint16(p))
	if !validWireCloseCode(code) {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidCloseCode, code)
	}

	return code, p[2:], nil
}

const maxCloseReason = maxControlPayload - 2

// closeFrame builds a close frame for code and reason, validating
// both before the frame reaches encode.
func closeFrame(code StatusCode, reason string) (Frame, error) {
	if len(reason) > maxCloseReason {
		return Frame{}, fmt.Errorf("reason string max is %v but got %q with length %v", maxCloseReason, reason, len(reason))
	}
	if !validSendCloseCode(code) {
		return Frame{}, fmt.Errorf("%w: status code %v cannot be sent", ErrInvalidCloseCode, code)
	}

	return Frame{
		Fin:       true,
		Opcode:    OpClose,
		CloseCode: code,
		Payload:   []byte(reason),
	}, nil
}
