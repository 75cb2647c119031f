package websocket

import (
	"strconv"
	"testing"

	"subway.dev/websocket/internal/test/assert"
)

func TestValidWireCloseCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		code  StatusCode
		valid bool
	}{
		{999, false},
		{StatusNormalClosure, true},
		{StatusProtocolError, true},
		{statusReserved, true},
		{StatusNoStatusRcvd, true},
		{StatusAbnormalClosure, true},
		{StatusTLSHandshake, true},
		{1016, false},
		{2999, false},
		{3000, false},
		{4999, false},
		{9999, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(strconv.Itoa(int(tc.code)), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "valid wire close code", tc.valid, validWireCloseCode(tc.code))
		})
	}
}

func TestValidSendCloseCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		code  StatusCode
		valid bool
	}{
		{StatusNormalClosure, true},
		{StatusGoingAway, true},
		{StatusUnsupportedData, true},
		{statusReserved, false},
		{StatusNoStatusRcvd, false},
		{StatusAbnormalClosure, false},
		{StatusInvalidFramePayloadData, true},
		{StatusBadGateway, true},
		{StatusTLSHandshake, true},
		{1016, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(strconv.Itoa(int(tc.code)), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "valid send close code", tc.valid, validSendCloseCode(tc.code))
		})
	}
}

func TestParseClosePayload(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		p      []byte
		code   StatusCode
		reason string
		exp    error
	}{
		{
			name: "empty",
			p:    nil,
			exp:  ErrInvalidFrame,
		},
		{
			name: "tooSmall",
			p:    []byte{0x03},
			exp:  ErrInvalidFrame,
		},
		{
			name: "normal",
			p:    []byte{0x03, 0xE8},
			code: StatusNormalClosure,
		},
		{
			name:   "withReason",
			p:      []byte{0x03, 0xE9, 'b', 'r', 'b'},
			code:   StatusGoingAway,
			reason: "brb",
		},
		{
			name: "invalidCode",
			p:    []byte{0x27, 0x0F},
			exp:  ErrInvalidCloseCode,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			code, reason, err := parseClosePayload(tc.p)
			if tc.exp != nil {
				assert.ErrorIs(t, tc.exp, err)
				return
			}
			assert.Success(t, err)
			assert.Equal(t, "code", tc.code, code)
			assert.Equal(t, "reason", tc.reason, string(reason))
		})
	}
}

func TestCloseFrame(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		f, err := closeFrame(StatusNormalClosure, "meow")
		assert.Success(t, err)
		assert.Success(t, f.verify())
		assert.Equal(t, "close code", StatusNormalClosure, f.CloseCode)
		assert.Equal(t, "reason", "meow", string(f.Payload))
	})

	t.Run("reasonTooLong", func(t *testing.T) {
		t.Parallel()

		_, err := closeFrame(StatusNormalClosure, string(make([]byte, maxCloseReason+1)))
		assert.Error(t, err)
	})

	t.Run("syntheticCode", func(t *testing.T) {
		t.Parallel()

		_, err := closeFrame(StatusNoStatusRcvd, "")
		assert.ErrorIs(t, ErrInvalidCloseCode, err)
	})
}
