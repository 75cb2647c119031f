// Package wsecho implements a WebSocket echo loop for tests and
// examples.
package wsecho

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"subway.dev/websocket"
)

// Loop echoes every message received from c until the close handshake
// completes, the context expires or an error occurs. Pings are
// answered with pongs, pongs are dropped. Reads are rate limited so a
// hostile peer cannot monopolize the server.
//
// A clean remote close returns nil; a protocol violation is logged
// and returned, closing only the offending connection.
func Loop(ctx context.Context, c *websocket.Conn, l *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	c.SetReadLimit(1 << 20)
	limiter := rate.NewLimiter(rate.Every(time.Millisecond*100), 10)

	for {
		err := limiter.Wait(ctx)
		if err != nil {
			return err
		}

		msg, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				l.Info("connection closed by peer",
					zap.Int("code", int(websocket.CloseStatus(err))),
				)
				return nil
			}
			l.Warn("closing connection", zap.Error(err))
			return err
		}

		switch msg.Opcode() {
		case websocket.OpPing:
			err = c.Pong(ctx, msg.Bytes())
		case websocket.OpPong:
			continue
		default:
			err = c.Write(ctx, msg.Type(), msg.Bytes())
		}
		if err != nil {
			l.Warn("failed to echo message", zap.Error(err))
			return err
		}
	}
}
