// Package wsjson provides helpers for JSON messages.
package wsjson

import (
	"context"
	"encoding/json"
	"fmt"

	"subway.dev/websocket"
)

// Read reads a json message from c into v.
func Read(ctx context.Context, c *websocket.Conn, v interface{}) error {
	err := read(ctx, c, v)
	if err != nil {
		return fmt.Errorf("failed to read json: %w", err)
	}
	return nil
}

func read(ctx context.Context, c *websocket.Conn, v interface{}) error {
	msg, err := c.Read(ctx)
	if err != nil {
		return err
	}

	if msg.Opcode() != websocket.OpText {
		return fmt.Errorf("unexpected frame type for json (expected %v): %v", websocket.OpText, msg.Opcode())
	}

	return msg.JSON(v)
}

// Write writes the json message v to c.
func Write(ctx context.Context, c *websocket.Conn, v interface{}) error {
	err := write(ctx, c, v)
	if err != nil {
		return fmt.Errorf("failed to write json: %w", err)
	}
	return nil
}

func write(ctx context.Context, c *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal json: %w", err)
	}

	return c.Write(ctx, websocket.MessageText, b)
}
