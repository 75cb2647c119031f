package websocket

import (
	"context"
	"errors"
	"fmt"

	"subway.dev/websocket/internal/errd"
)

// Read reads exactly one frame from the connection and returns it as
// a Message. Ping, pong and unassigned frames surface like data
// frames; reply to pings with Pong. Fragmented messages are not
// reassembled, continuation fragments surface with OpContinuation.
//
// A close frame is not returned as a Message. The connection echoes a
// close frame with the same code, tears down the transport and Read
// returns the CloseError, distinguishing a clean remote close from a
// protocol violation. Every other error also closed the connection by
// the time Read returns.
//
// Only one goroutine may call Read at a time.
func (c *Conn) Read(ctx context.Context) (_ Message, err error) {
	defer errd.Wrap(&err, "failed to read")

	if c.isClosed() {
		return Message{}, c.closeErr
	}

	err = c.readMu.Lock(ctx)
	if err != nil {
		return Message{}, err
	}
	defer c.readMu.Unlock()

	f, err := c.readFrame(ctx)
	if err != nil {
		return Message{}, err
	}

	if f.Opcode == OpClose {
		return Message{}, c.handleReceivedClose(f)
	}

	return Message{frame: f}, nil
}

// handleReceivedClose runs the receiving half of the close handshake:
// echo a close frame with the same code, then tear down.
func (c *Conn) handleReceivedClose(f Frame) error {
	ce := CloseError{
		Code:   f.CloseCode,
		Reason: string(f.Payload),
	}
	err := fmt.Errorf("received close frame: %w", ce)
	c.setState(StateClosing)
	c.setCloseErr(err)
	c.readCloseFrameErr = err

	c.echoClose(ce.Code)
	c.close(err)
	return err
}

// echoClose writes the close frame acknowledging the peer's, unless
// this side already sent one. Best effort: the transport may already
// be gone.
func (c *Conn) echoClose(code StatusCode) {
	c.closeMu.Lock()
	wrote := c.wroteClose
	c.wroteClose = true
	c.closeMu.Unlock()
	if wrote {
		return
	}

	if !validSendCloseCode(code) {
		code = StatusNormalClosure
	}
	f, err := closeFrame(code, "")
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeErrorTimeout)
	defer cancel()
	c.writeFrame(ctx, f)
}

// defaultReadLimit bounds how much memory a peer can force the
// connection to allocate for a single frame payload.
const defaultReadLimit = 32768

// SetReadLimit sets the maximum number of payload bytes to accept in a
// single frame, 32768 by default. A frame declaring a larger payload
// is rejected before any of it is read and the connection is closed
// with StatusMessageTooBig.
func (c *Conn) SetReadLimit(n int64) {
	c.readLimit.Store(n)
}

// readFrame brackets the blocking decode with the read timeout so ctx
// expiry or transport teardown resolves a suspended read. Decoding is
// a bounded sequence of reads, never an unbounded loop.
func (c *Conn) readFrame(ctx context.Context) (Frame, error) {
	select {
	case <-c.closed:
		return Frame{}, c.closeErr
	case c.readTimeout <- ctx:
	}

	f, err := readFrame(c.br, c.readLimit.Load())
	if err != nil {
		select {
		case <-c.closed:
			return Frame{}, c.closeErr
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		default:
		}

		if errors.Is(err, ErrReadLimitExceeded) {
			c.writeError(StatusMessageTooBig, err)
			return Frame{}, err
		}
		if isProtocolViolation(err) {
			c.writeError(StatusProtocolError, err)
			return Frame{}, err
		}

		c.close(err)
		return Frame{}, err
	}

	select {
	case <-c.closed:
		return Frame{}, c.closeErr
	case c.readTimeout <- context.Background():
	}

	return f, nil
}

func isProtocolViolation(err error) bool {
	return errors.Is(err, ErrInvalidFrame) ||
		errors.Is(err, ErrInvalidOpcode) ||
		errors.Is(err, ErrInvalidCloseCode) ||
		errors.Is(err, ErrFragmentedControlFrame) ||
		errors.Is(err, ErrInvalidControlFrame)
}
