package websocket

import (
	"encoding/json"
	"fmt"
)

// MessageType represents the type of a WebSocket data message.
// See https://tools.ietf.org/html/rfc6455#section-5.6
type MessageType int

// MessageType constants.
const (
	// MessageText is for UTF-8 encoded text messages like JSON.
	MessageText MessageType = MessageType(OpText)
	// MessageBinary is for binary messages like protobufs.
	MessageBinary MessageType = MessageType(OpBinary)
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "MessageText"
	case MessageBinary:
		return "MessageBinary"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Message is a view over a single decoded frame. Read returns one per
// frame; fragmented messages are not reassembled, a continuation
// fragment surfaces with OpContinuation.
type Message struct {
	frame Frame
}

// Opcode returns the opcode of the underlying frame.
func (m Message) Opcode() Opcode {
	return m.frame.Opcode
}

// Type returns the data message type. It is only meaningful when
// Opcode is OpText or OpBinary.
func (m Message) Type() MessageType {
	return MessageType(m.frame.Opcode)
}

// Fin reports whether the frame finishes its logical message.
func (m Message) Fin() bool {
	return m.frame.Fin
}

// IsControl reports whether the underlying frame is a control frame.
func (m Message) IsControl() bool {
	return m.frame.Opcode.IsControl()
}

// Bytes returns the unmasked payload.
func (m Message) Bytes() []byte {
	return m.frame.Payload
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.frame.Payload)
}

// JSON unmarshals the payload into v.
func (m Message) JSON(v interface{}) error {
	err := json.Unmarshal(m.frame.Payload, v)
	if err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}
