package websocket

import (
	"errors"
)

// Frame decoding and connection errors. Every frame error is fatal to
// the connection it occurred on: the wire position cannot be
// resynchronized after a structural violation, so the connection is
// torn down and the error propagated to the caller.
//
// Use errors.Is to check for them as they will be wrapped with detail.
var (
	// ErrInvalidFrame means a frame had a reserved bit set or a close
	// frame was missing its status code.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrInvalidOpcode means a frame carried an opcode outside the
	// defined and unassigned ranges.
	ErrInvalidOpcode = errors.New("invalid opcode")

	// ErrInvalidCloseCode means a close frame carried a status code
	// outside the legal wire set.
	ErrInvalidCloseCode = errors.New("invalid close code")

	// ErrFragmentedControlFrame means a control frame did not have
	// its fin bit set.
	ErrFragmentedControlFrame = errors.New("fragmented control frame")

	// ErrInvalidControlFrame means a control frame carried a payload
	// longer than 125 bytes.
	ErrInvalidControlFrame = errors.New("invalid control frame")

	// ErrReadLimitExceeded means a frame declared a payload larger
	// than the connection's read limit. See Conn.SetReadLimit.
	ErrReadLimitExceeded = errors.New("read limit exceeded")

	// ErrClosed is returned by operations on a connection whose close
	// handshake has completed or whose transport has been torn down.
	// It wraps the close cause, if any.
	ErrClosed = errors.New("websocket closed")
)

// HandshakeError means the opening handshake failed before any frame
// traffic: a required header was missing or mismatched, or the
// Sec-WebSocket-Accept derivation did not check out.
type HandshakeError struct {
	Reason string
}

func (e HandshakeError) Error() string {
	return "websocket handshake failed: " + e.Reason
}
