package websocket

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math/bits"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/gobwas/ws"

	"subway.dev/websocket/internal/test/assert"
	"subway.dev/websocket/internal/test/xrand"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	lengths := []int{
		0,
		1,
		125,
		126,
		65535,
		65536,
	}

	for _, opcode := range []Opcode{OpContinuation, OpText, OpBinary} {
		for _, fin := range []bool{true, false} {
			for _, n := range lengths {
				for _, masked := range []bool{true, false} {
					opcode := opcode
					fin := fin
					n := n
					masked := masked
					name := opcode.String() + "/fin=" + strconv.FormatBool(fin) +
						"/len=" + strconv.Itoa(n) + "/masked=" + strconv.FormatBool(masked)
					t.Run(name, func(t *testing.T) {
						t.Parallel()

						f := Frame{
							Fin:     fin,
							Opcode:  opcode,
							Payload: xrand.Bytes(n),
						}
						assert.Success(t, f.verify())
						testFrameRoundTrip(t, f, masked)
					})
				}
			}
		}
	}
}

func testFrameRoundTrip(t *testing.T, f Frame, masked bool) {
	t.Helper()

	b := f.encode(masked)
	f2, err := readFrame(bufio.NewReader(bytes.NewReader(b)), 1<<20)
	assert.Success(t, err)
	assert.Equal(t, "decoded frame", f, f2)
}

func TestFrameRoundTripFuzz(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < 5000; i++ {
		opcode := Opcode(r.Intn(16))
		if !validOpcodes[opcode] || opcode.IsControl() {
			continue
		}

		f := Frame{
			Fin:     r.Intn(2) == 0,
			Opcode:  opcode,
			Payload: xrand.Bytes(r.Intn(300)),
		}
		testFrameRoundTrip(t, f, r.Intn(2) == 0)
	}
}

func TestFrameLengthBoundaries(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		length     int
		headerSize int
	}{
		{124, 2},
		{125, 2},
		{126, 4},
		{127, 4},
		{65534, 4},
		{65535, 4},
		{65536, 10},
		{65537, 10},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(strconv.Itoa(tc.length), func(t *testing.T) {
			t.Parallel()

			f := Frame{
				Fin:     true,
				Opcode:  OpBinary,
				Payload: make([]byte, tc.length),
			}
			b := f.encode(false)
			assert.Equal(t, "encoded size", tc.headerSize+tc.length, len(b))

			switch tc.headerSize {
			case 2:
				assert.Equal(t, "length byte", byte(tc.length), b[1])
			case 4:
				assert.Equal(t, "length marker", byte(126), b[1])
				assert.Equal(t, "extended length", uint16(tc.length), binary.BigEndian.Uint16(b[2:]))
			case 10:
				assert.Equal(t, "length marker", byte(127), b[1])
				assert.Equal(t, "extended length", uint64(tc.length), binary.BigEndian.Uint64(b[2:]))
			}

			gobwasHeader(t, f, b)
		})
	}
}

// gobwasHeader cross-checks the header bytes of an unmasked frame
// against github.com/gobwas/ws.
func gobwasHeader(t *testing.T, f Frame, encoded []byte) {
	t.Helper()

	buf := &bytes.Buffer{}
	err := ws.WriteHeader(buf, ws.Header{
		Fin:    f.Fin,
		OpCode: ws.OpCode(f.Opcode),
		Length: int64(len(f.Payload)),
	})
	assert.Success(t, err)
	assert.Equal(t, "header bytes", buf.Bytes(), encoded[:len(encoded)-len(f.Payload)])
}

func TestFrameValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		f    Frame
		exp  error
	}{
		{
			name: "fragmentedPing",
			f:    Frame{Fin: false, Opcode: OpPing},
			exp:  ErrFragmentedControlFrame,
		},
		{
			name: "fragmentedPong",
			f:    Frame{Fin: false, Opcode: OpPong},
			exp:  ErrFragmentedControlFrame,
		},
		{
			name: "fragmentedClose",
			f:    Frame{Fin: false, Opcode: OpClose, CloseCode: StatusNormalClosure},
			exp:  ErrFragmentedControlFrame,
		},
		{
			name: "controlTooLarge",
			f:    Frame{Fin: true, Opcode: OpPing, Payload: make([]byte, 126)},
			exp:  ErrInvalidControlFrame,
		},
		{
			name: "closePayloadTooLarge",
			f:    Frame{Fin: true, Opcode: OpClose, CloseCode: StatusNormalClosure, Payload: make([]byte, 124)},
			exp:  ErrInvalidControlFrame,
		},
		{
			name: "rsv1",
			f:    Frame{Fin: true, Rsv1: true, Opcode: OpBinary},
			exp:  ErrInvalidFrame,
		},
		{
			name: "closeCodeOnDataFrame",
			f:    Frame{Fin: true, Opcode: OpText, CloseCode: StatusNormalClosure},
			exp:  ErrInvalidFrame,
		},
		{
			name: "closeWithoutCode",
			f:    Frame{Fin: true, Opcode: OpClose},
			exp:  ErrInvalidFrame,
		},
		{
			name: "invalidOpcode",
			f:    Frame{Fin: true, Opcode: 0x3},
			exp:  ErrInvalidOpcode,
		},
		{
			name: "unassignedOpcode",
			f:    Frame{Fin: true, Opcode: 0x7},
			exp:  nil,
		},
		{
			name: "maxControl",
			f:    Frame{Fin: true, Opcode: OpPing, Payload: make([]byte, 125)},
			exp:  nil,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.f.verify()
			if tc.exp == nil {
				assert.Success(t, err)
				return
			}
			assert.ErrorIs(t, tc.exp, err)
		})
	}
}

func TestReadFrameRejection(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		b    []byte
		exp  error
	}{
		{
			// rsv1 bit set on a binary frame.
			name: "rsv1",
			b:    []byte{0x80 | 0x40 | byte(OpBinary), 0x0},
			exp:  ErrInvalidFrame,
		},
		{
			// rsv2 bit set on a text frame.
			name: "rsv2",
			b:    []byte{0x80 | 0x20 | byte(OpText), 0x0},
			exp:  ErrInvalidFrame,
		},
		{
			name: "invalidOpcode",
			b:    []byte{0x80 | 0x3, 0x0},
			exp:  ErrInvalidOpcode,
		},
		{
			name: "fragmentedPing",
			b:    []byte{byte(OpPing), 0x2, 'h', 'i'},
			exp:  ErrFragmentedControlFrame,
		},
		{
			name: "fragmentedClose",
			b:    append([]byte{byte(OpClose), 0x2}, 0x03, 0xE8),
			exp:  ErrFragmentedControlFrame,
		},
		{
			// a ping with the 126 extended length marker.
			name: "controlTooLarge",
			b:    append([]byte{0x80 | byte(OpPing), 126, 0x0, 126}, make([]byte, 126)...),
			exp:  ErrInvalidControlFrame,
		},
		{
			name: "closeWithoutCode",
			b:    []byte{0x80 | byte(OpClose), 0x0},
			exp:  ErrInvalidFrame,
		},
		{
			name: "closeWithOneByteCode",
			b:    []byte{0x80 | byte(OpClose), 0x1, 0x03},
			exp:  ErrInvalidFrame,
		},
		{
			// close code 9999.
			name: "invalidCloseCode",
			b:    []byte{0x80 | byte(OpClose), 0x2, 0x27, 0x0F},
			exp:  ErrInvalidCloseCode,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := readFrame(bufio.NewReader(bytes.NewReader(tc.b)), defaultReadLimit)
			assert.ErrorIs(t, tc.exp, err)
		})
	}
}

func TestReadFrameCloseCode(t *testing.T) {
	t.Parallel()

	b := []byte{0x80 | byte(OpClose), 0x5, 0x03, 0xE8, 'b', 'y', 'e'}
	f, err := readFrame(bufio.NewReader(bytes.NewReader(b)), defaultReadLimit)
	assert.Success(t, err)
	assert.Equal(t, "close code", StatusNormalClosure, f.CloseCode)
	assert.Equal(t, "reason", "bye", string(f.Payload))
}

func TestReadFrameLimit(t *testing.T) {
	t.Parallel()

	t.Run("declaredTooLarge", func(t *testing.T) {
		t.Parallel()

		// Header declaring a 1 TiB payload with no payload bytes at
		// all; rejection must happen before any allocation.
		b := []byte{0x80 | byte(OpBinary), 127}
		b = binary.BigEndian.AppendUint64(b, 1<<40)

		_, err := readFrame(bufio.NewReader(bytes.NewReader(b)), defaultReadLimit)
		assert.ErrorIs(t, ErrReadLimitExceeded, err)
	})

	t.Run("atLimit", func(t *testing.T) {
		t.Parallel()

		b := Frame{Fin: true, Opcode: OpBinary, Payload: xrand.Bytes(8)}.encode(false)

		_, err := readFrame(bufio.NewReader(bytes.NewReader(b)), 8)
		assert.Success(t, err)

		_, err = readFrame(bufio.NewReader(bytes.NewReader(b)), 7)
		assert.ErrorIs(t, ErrReadLimitExceeded, err)
	})
}

func Test_mask(t *testing.T) {
	t.Parallel()

	key := []byte{0xa, 0xb, 0xc, 0xff}
	key32 := binary.LittleEndian.Uint32(key)
	p := []byte{0xa, 0xb, 0xc, 0xf2, 0xc}
	gotKey32 := mask(key32, p)

	expP := []byte{0, 0, 0, 0x0d, 0x6}
	assert.Equal(t, "p", expP, p)

	expKey32 := bits.RotateLeft32(key32, -8)
	assert.Equal(t, "key32", expKey32, gotKey32)
}

func TestMaskBijection(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 3, 4, 7, 8, 53, 1024} {
		key := xrand.Uint32()
		p := xrand.Bytes(n)

		masked := make([]byte, n)
		copy(masked, p)
		mask(key, masked)
		mask(key, masked)

		assert.Equal(t, "unmask(mask(p))", p, masked)
	}
}
