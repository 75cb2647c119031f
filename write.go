package websocket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subway.dev/websocket/internal/errd"
)

// Write writes one unfragmented message of the given type to the
// connection. A client role connection masks the frame with a fresh
// random key.
//
// Only one goroutine may call Write, Ping, Pong or Close at a time.
func (c *Conn) Write(ctx context.Context, typ MessageType, p []byte) error {
	err := c.writeFrame(ctx, Frame{
		Fin:     true,
		Opcode:  Opcode(typ),
		Payload: p,
	})
	if err != nil {
		return fmt.Errorf("failed to write msg: %w", err)
	}
	return nil
}

// Ping sends a ping frame to the peer. It does not wait for a pong;
// the pong surfaces from Read as a Message with OpPong.
func (c *Conn) Ping(ctx context.Context, p []byte) error {
	err := c.writeFrame(ctx, Frame{
		Fin:     true,
		Opcode:  OpPing,
		Payload: p,
	})
	if err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

// Pong sends a pong frame to the peer, normally echoing the payload
// of a received ping.
func (c *Conn) Pong(ctx context.Context, p []byte) error {
	err := c.writeFrame(ctx, Frame{
		Fin:     true,
		Opcode:  OpPong,
		Payload: p,
	})
	if err != nil {
		return fmt.Errorf("failed to pong: %w", err)
	}
	return nil
}

// writeFrame verifies, encodes and writes one frame. Verification
// happens before encode so encode itself never fails.
func (c *Conn) writeFrame(ctx context.Context, f Frame) (err error) {
	err = f.verify()
	if err != nil {
		return err
	}

	err = c.writeMu.Lock(ctx)
	if err != nil {
		return err
	}
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return c.closeErr
	}
	if c.State() == StateClosing && f.Opcode != OpClose {
		return fmt.Errorf("%w: close handshake in progress", ErrClosed)
	}

	select {
	case <-c.closed:
		return c.closeErr
	case c.writeTimeout <- ctx:
	}

	_, err = c.bw.Write(f.encode(c.role == RoleClient))
	if err == nil {
		err = c.bw.Flush()
	}
	if err != nil {
		select {
		case <-c.closed:
			return c.closeErr
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.close(fmt.Errorf("failed to write frame: %w", err))
		return err
	}

	select {
	case <-c.closed:
		return c.closeErr
	case c.writeTimeout <- context.Background():
	}

	return nil
}

// Close performs the WebSocket close handshake with the given status
// code and reason.
//
// It writes a close frame and then waits up to 10s for the peer to
// echo one, discarding any data messages received meanwhile. The code
// must be in the sendable set; 1004-1006 are synthetic and rejected.
//
// The connection can only be closed once; additional calls are
// no-ops.
func (c *Conn) Close(code StatusCode, reason string) (err error) {
	defer errd.Wrap(&err, "failed to close WebSocket")

	err = c.writeClose(code, reason)
	if err != nil && CloseStatus(err) == -1 && !errors.Is(err, errAlreadyWroteClose) {
		return err
	}

	err = c.waitCloseHandshake()
	if CloseStatus(err) == -1 && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

var errAlreadyWroteClose = errors.New("already wrote close")

func (c *Conn) writeClose(code StatusCode, reason string) error {
	// Validate before latching wroteClose so a rejected code leaves
	// the connection fully open and a later Close or close echo still
	// sends its frame.
	f, err := closeFrame(code, reason)
	if err != nil {
		return err
	}

	c.closeMu.Lock()
	wrote := c.wroteClose
	c.wroteClose = true
	c.closeMu.Unlock()
	if wrote {
		return errAlreadyWroteClose
	}

	ce := CloseError{
		Code:   code,
		Reason: reason,
	}
	c.setCloseErr(fmt.Errorf("sent close frame: %w", ce))
	c.setState(StateClosing)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	return c.writeFrame(ctx, f)
}

// waitCloseHandshake reads until the echoed close frame arrives,
// discarding data frames, then tears the transport down. close runs
// even on the error paths so no outstanding read is left unresolved.
func (c *Conn) waitCloseHandshake() error {
	defer c.close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	err := c.readMu.Lock(ctx)
	if err != nil {
		return err
	}
	defer c.readMu.Unlock()

	if c.readCloseFrameErr != nil {
		return c.readCloseFrameErr
	}

	for {
		f, err := c.readFrame(ctx)
		if err != nil {
			return err
		}

		if f.Opcode == OpClose {
			ce := CloseError{
				Code:   f.CloseCode,
				Reason: string(f.Payload),
			}
			err = fmt.Errorf("received close frame: %w", ce)
			c.setCloseErr(err)
			c.readCloseFrameErr = err
			return err
		}
	}
}

const writeErrorTimeout = time.Second * 5

// writeError is the abort path for protocol violations: best effort
// send a close frame describing the violation, then tear down. One
// connection's failure never affects another.
func (c *Conn) writeError(code StatusCode, err error) {
	c.setCloseErr(err)

	reason := err.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}

	c.closeMu.Lock()
	wrote := c.wroteClose
	c.wroteClose = true
	c.closeMu.Unlock()

	if !wrote {
		f, ferr := closeFrame(code, reason)
		if ferr == nil {
			c.setState(StateClosing)
			ctx, cancel := context.WithTimeout(context.Background(), writeErrorTimeout)
			defer cancel()
			c.writeFrame(ctx, f)
		}
	}

	c.close(err)
}
