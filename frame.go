package websocket

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"

	"subway.dev/websocket/internal/errd"
)

// Opcode represents a WebSocket opcode.
type Opcode int

// https://tools.ietf.org/html/rfc6455#section-11.8.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode names a control frame.
// Control frames must not be fragmented and their payloads are
// capped at 125 bytes.
func (o Opcode) IsControl() bool {
	return o > 0x7
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "OpContinuation"
	case OpText:
		return "OpText"
	case OpBinary:
		return "OpBinary"
	case OpClose:
		return "OpClose"
	case OpPing:
		return "OpPing"
	case OpPong:
		return "OpPong"
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}

// validOpcodes is the legal wire table. The unassigned values 0x4-0x7
// and 0xB-0xF decode and round-trip without any semantic meaning.
var validOpcodes = [16]bool{
	OpContinuation: true,
	OpText:         true,
	OpBinary:       true,
	0x4:            true,
	0x5:            true,
	0x6:            true,
	0x7:            true,
	OpClose:        true,
	OpPing:         true,
	OpPong:         true,
	0xB:            true,
	0xC:            true,
	0xD:            true,
	0xE:            true,
	0xF:            true,
}

// maxControlPayload is the maximum length of a control frame payload.
// See https://tools.ietf.org/html/rfc6455#section-5.5.
const maxControlPayload = 125

// Frame represents a single WebSocket frame with its payload already
// unmasked. For close frames the leading two wire bytes are extracted
// into CloseCode and are not part of Payload.
// See https://tools.ietf.org/html/rfc6455#section-5.2.
type Frame struct {
	Fin  bool
	Rsv1 bool
	Rsv2 bool
	Rsv3 bool

	Opcode  Opcode
	Payload []byte

	// CloseCode is set only on close frames.
	CloseCode StatusCode
}

// verify checks the structural invariants that encode assumes.
// It must be called before encode as encode never fails.
func (f Frame) verify() error {
	if f.Rsv1 || f.Rsv2 || f.Rsv3 {
		return fmt.Errorf("%w: reserved bits set: %v:%v:%v", ErrInvalidFrame, f.Rsv1, f.Rsv2, f.Rsv3)
	}

	if f.Opcode < 0 || f.Opcode > 0xF || !validOpcodes[f.Opcode] {
		return fmt.Errorf("%w: %v", ErrInvalidOpcode, f.Opcode)
	}

	if f.CloseCode != 0 && f.Opcode != OpClose {
		return fmt.Errorf("%w: close code set on %v frame", ErrInvalidFrame, f.Opcode)
	}
	if f.Opcode == OpClose && f.CloseCode == 0 {
		return fmt.Errorf("%w: close frame without close code", ErrInvalidFrame)
	}

	if f.Opcode.IsControl() {
		if !f.Fin {
			return fmt.Errorf("%w: %v frame without fin", ErrFragmentedControlFrame, f.Opcode)
		}

		length := len(f.Payload)
		if f.CloseCode != 0 {
			length += 2
		}
		if length > maxControlPayload {
			return fmt.Errorf("%w: payload length %v exceeds %v bytes", ErrInvalidControlFrame, length, maxControlPayload)
		}
	}

	return nil
}

// encode serializes the frame, masking the payload with a fresh random
// key if masked is set. The frame must have been verified beforehand;
// encode is a pure serializer and never fails.
func (f Frame) encode(masked bool) []byte {
	p := f.Payload
	if f.CloseCode != 0 {
		cp := make([]byte, 2+len(p))
		binary.BigEndian.PutUint16(cp, uint16(f.CloseCode))
		copy(cp[2:], p)
		p = cp
	}

	b := make([]byte, 2, 14+len(p))

	if f.Fin {
		b[0] |= 1 << 7
	}
	if f.Rsv1 {
		b[0] |= 1 << 6
	}
	if f.Rsv2 {
		b[0] |= 1 << 5
	}
	if f.Rsv3 {
		b[0] |= 1 << 4
	}
	b[0] |= byte(f.Opcode)

	if masked {
		b[1] |= 1 << 7
	}

	length := len(p)
	switch {
	case length < 126:
		b[1] |= byte(length)
	case length <= math.MaxUint16:
		b[1] |= 126
		b = binary.BigEndian.AppendUint16(b, uint16(length))
	default:
		b[1] |= 127
		b = binary.BigEndian.AppendUint64(b, uint64(length))
	}

	if masked {
		var key [4]byte
		if _, err := rand.Read(key[:]); err != nil {
			panic(fmt.Sprintf("websocket: failed to generate mask key: %v", err))
		}
		b = append(b, key[:]...)

		mp := make([]byte, len(p))
		copy(mp, p)
		mask(binary.LittleEndian.Uint32(key[:]), mp)
		p = mp
	}

	return append(b, p...)
}

// readFrame reads one frame from r. It is a bounded sequence of at
// most four reads: the two byte header, the optional extended length,
// the optional mask key and then the payload. The payload is unmasked
// in place and validated against the frame invariants.
//
// A frame declaring a payload larger than limit is rejected before any
// of the payload is read or allocated.
func readFrame(r *bufio.Reader, limit int64) (_ Frame, err error) {
	defer errd.Wrap(&err, "failed to read frame")

	var head [2]byte
	_, err = io.ReadFull(r, head[:])
	if err != nil {
		return Frame{}, err
	}

	var f Frame
	f.Fin = head[0]&(1<<7) != 0
	f.Rsv1 = head[0]&(1<<6) != 0
	f.Rsv2 = head[0]&(1<<5) != 0
	f.Rsv3 = head[0]&(1<<4) != 0
	f.Opcode = Opcode(head[0] & 0xF)

	masked := head[1]&(1<<7) != 0

	payloadLength := int64(head[1] &^ (1 << 7))
	switch payloadLength {
	case 126:
		var pl uint16
		err = binary.Read(r, binary.BigEndian, &pl)
		payloadLength = int64(pl)
	case 127:
		err = binary.Read(r, binary.BigEndian, &payloadLength)
	}
	if err != nil {
		return Frame{}, err
	}
	if payloadLength < 0 {
		return Frame{}, fmt.Errorf("%w: negative payload length %v", ErrInvalidFrame, payloadLength)
	}
	if payloadLength > limit {
		return Frame{}, fmt.Errorf("%w: payload length %v exceeds %v bytes", ErrReadLimitExceeded, payloadLength, limit)
	}

	var key uint32
	if masked {
		err = binary.Read(r, binary.LittleEndian, &key)
		if err != nil {
			return Frame{}, err
		}
	}

	f.Payload = make([]byte, payloadLength)
	_, err = io.ReadFull(r, f.Payload)
	if err != nil {
		return Frame{}, err
	}
	if masked {
		mask(key, f.Payload)
	}

	if !validOpcodes[f.Opcode] {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidOpcode, f.Opcode)
	}
	if f.Rsv1 || f.Rsv2 || f.Rsv3 {
		return Frame{}, fmt.Errorf("%w: reserved bits set: %v:%v:%v", ErrInvalidFrame, f.Rsv1, f.Rsv2, f.Rsv3)
	}

	if f.Opcode == OpClose {
		f.CloseCode, f.Payload, err = parseClosePayload(f.Payload)
		if err != nil {
			return Frame{}, err
		}
	}

	if f.Opcode.IsControl() {
		if !f.Fin {
			return Frame{}, fmt.Errorf("%w: received %v frame without fin", ErrFragmentedControlFrame, f.Opcode)
		}
		if len(f.Payload) > maxControlPayload {
			return Frame{}, fmt.Errorf("%w: payload length %v exceeds %v bytes", ErrInvalidControlFrame, len(f.Payload), maxControlPayload)
		}
	}

	return f, nil
}

// mask applies the WebSocket masking algorithm to p with the given key.
// See https://tools.ietf.org/html/rfc6455#section-5.3
//
// The returned value is the correctly rotated key to continue
// masking the next part of the message.
//
// It is optimized for LittleEndian and expects the key
// to be in little endian.
//
// See https://github.com/golang/go/issues/31586
func mask(key uint32, b []byte) uint32 {
	if len(b) >= 8 {
		key64 := uint64(key)<<32 | uint64(key)

		for len(b) >= 8 {
			v := binary.LittleEndian.Uint64(b)
			binary.LittleEndian.PutUint64(b, v^key64)
			b = b[8:]
		}
	}

	for len(b) >= 4 {
		v := binary.LittleEndian.Uint32(b)
		binary.LittleEndian.PutUint32(b, v^key)
		b = b[4:]
	}

	for i := range b {
		b[i] ^= byte(key)
		key = bits.RotateLeft32(key, -8)
	}

	return key
}
