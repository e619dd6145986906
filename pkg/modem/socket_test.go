package modem

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSocket(t *testing.T) {
	m, port := newTestModem()
	port.script("1", "OK")

	handle, err := m.CreateSocket(56830, true)
	require.NoError(t, err)
	assert.Equal(t, 1, handle)
	assert.Equal(t, []string{"AT+NSOCR=DGRAM,17,56830,1"}, port.commands())
}

func TestCreateSocketUnparseableHandle(t *testing.T) {
	m, port := newTestModem()
	port.script("abc", "OK")

	_, err := m.CreateSocket(0, false)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, []string{"AT+NSOCR=DGRAM,17,0,0"}, port.commands())
}

func TestSendToHexEncodesUppercase(t *testing.T) {
	m, port := newTestModem()
	port.script("1,3", "OK")

	n, err := m.SendTo(1, "10.0.0.1", 5683, []byte{0xab, 0x01, 0xff})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"AT+NSOST=1,10.0.0.1,5683,3,AB01FF"}, port.commands())
}

func TestSendToWithFlags(t *testing.T) {
	m, port := newTestModem()
	port.script("0,2", "OK")

	_, err := m.SendToWithFlags(0, "10.0.0.1", 5683, FlagReleaseAfterReplied, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"AT+NSOSTF=0,10.0.0.1,5683,0x400,2,6869"}, port.commands())
}

func TestSendToShortWrite(t *testing.T) {
	m, port := newTestModem()
	port.script("1,2", "OK")

	n, err := m.SendTo(1, "10.0.0.1", 5683, []byte("abcd"))
	assert.ErrorIs(t, err, ErrShortWrite)
	assert.Equal(t, 2, n)
}

func TestSendToRejectsOversizedPayload(t *testing.T) {
	m, port := newTestModem()
	_, err := m.SendTo(1, "10.0.0.1", 5683, make([]byte, MaxDatagramSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, port.commands())
}

func TestSendToModemError(t *testing.T) {
	m, port := newTestModem()
	port.script("ERROR")

	_, err := m.SendTo(1, "10.0.0.1", 5683, []byte("x"))
	assert.ErrorIs(t, err, ErrModem)
}

func TestReceiveNothingPending(t *testing.T) {
	m, port := newTestModem()
	port.script("OK")

	dg, err := m.Receive(1, 512)
	require.NoError(t, err)
	assert.Nil(t, dg)
	assert.Equal(t, []string{"AT+NSORF=1,32"}, port.commands())
}

// chunkRecord builds one NSORF response line.
func chunkRecord(data []byte, remaining int) string {
	return strings.Join([]string{
		"1", "52.220.84.189", "5683",
		strconv.Itoa(len(data)),
		strings.ToUpper(hex.EncodeToString(data)),
		strconv.Itoa(remaining),
	}, ",")
}

func TestReceiveReassemblesChunks(t *testing.T) {
	payload := make([]byte, 128)
	for i := range payload {
		payload[i] = byte(i)
	}

	m, port := newTestModem()
	remaining := []int{96, 64, 32, 0}
	for i, r := range remaining {
		port.script(chunkRecord(payload[i*32:(i+1)*32], r), "OK")
	}

	dg, err := m.Receive(1, 512)
	require.NoError(t, err)
	require.NotNil(t, dg)

	assert.Equal(t, payload, dg.Data)
	assert.False(t, dg.Truncated)
	assert.Equal(t, "52.220.84.189", dg.RemoteAddr.Text)
	assert.Equal(t, uint32(52)<<24|220<<16|84<<8|189, dg.RemoteAddr.Value)
	assert.Equal(t, uint16(5683), dg.RemotePort)
	assert.Len(t, port.commands(), 4)
}

func TestReceiveStopsWritingAtCapacity(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5a}, 64)

	m, port := newTestModem()
	port.script(chunkRecord(payload[:32], 32), "OK")
	port.script(chunkRecord(payload[32:], 0), "OK")

	dg, err := m.Receive(1, 40)
	require.NoError(t, err)
	require.NotNil(t, dg)

	assert.Len(t, dg.Data, 40)
	assert.True(t, dg.Truncated)
	// Both chunks are still drained from the modem.
	assert.Len(t, port.commands(), 2)
}

func TestReceiveMalformedChunk(t *testing.T) {
	tests := []struct {
		name   string
		record string
	}{
		{"too few fields", "1,52.220.84.189,5683,2,ABCD"},
		{"length mismatch", "1,52.220.84.189,5683,3,ABCD,0"},
		{"bad hex", "1,52.220.84.189,5683,2,ZZZZ,0"},
		{"bad port", "1,52.220.84.189,port,2,ABCD,0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, port := newTestModem()
			port.script(tt.record, "OK")

			dg, err := m.Receive(1, 512)
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Nil(t, dg)
		})
	}
}

func TestReceiveMissingOKAfterChunk(t *testing.T) {
	m, port := newTestModem()
	port.script(chunkRecord([]byte("ab"), 0))

	_, err := m.Receive(1, 512)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCloseSocket(t *testing.T) {
	m, port := newTestModem()
	port.script("OK")

	require.NoError(t, m.CloseSocket(2))
	assert.Equal(t, []string{"AT+NSOCL=2"}, port.commands())
}
