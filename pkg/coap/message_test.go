package coap

import (
	"bytes"
	"testing"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	token := []byte{0x1f, 0x2e, 0x3d, 0x4c}
	original := &Message{
		Type:      message.Confirmable,
		Code:      codes.POST,
		MessageID: 0x1234,
		Token:     token,
		Path:      "/api/v1/T1/telemetry",
		Payload:   []byte(`{"x":1}`),
	}

	data, err := Encode(original)
	require.NoError(t, err)
	assert.Equal(t, byte(Version<<6|0<<4|len(token)), data[0], "version/type/token length byte")
	assert.Equal(t, byte(codes.POST), data[1])

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, original.Type, decoded.Type)
	assert.Equal(t, original.Code, decoded.Code)
	assert.Equal(t, original.MessageID, decoded.MessageID)
	assert.Equal(t, token, decoded.Token)
	assert.Equal(t, original.Path, decoded.Path)
	assert.Equal(t, original.Payload, decoded.Payload)
	assert.Nil(t, decoded.Observe)
}

func TestEncodeDecodeObserveAndQuery(t *testing.T) {
	obs := uint32(0)
	original := &Message{
		Type:      message.Confirmable,
		Code:      codes.GET,
		MessageID: 7,
		Token:     []byte{0xaa, 0xbb, 0xcc, 0xdd},
		Path:      "/api/v1/secret/attributes",
		Queries:   []string{"sharedKeys=a,b"},
		Observe:   &obs,
	}

	data, err := Encode(original)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	require.NotNil(t, decoded.Observe)
	assert.Equal(t, uint32(0), *decoded.Observe)
	assert.Equal(t, []string{"sharedKeys=a,b"}, decoded.Queries)
	assert.Nil(t, decoded.Payload)
}

func TestEncodeEmptyMessageIsHeaderOnly(t *testing.T) {
	data, err := Encode(&Message{Type: message.Acknowledgement, Code: codes.Empty, MessageID: 0xBEEF})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x00, 0xBE, 0xEF}, data)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0x40, 0x01}},
		{"wrong version", []byte{0x80, 0x01, 0x00, 0x01}},
		{"token too long", []byte{0x49, 0x01, 0x00, 0x01, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"empty with token", []byte{0x41, 0x00, 0x00, 0x01, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestSplitConcatenated(t *testing.T) {
	ack := []byte{0x60, 0x00, 0x00, 0x05}
	rsp, err := Encode(&Message{Type: message.NonConfirmable, Code: codes.Content, MessageID: 9, Token: []byte{1, 2, 3, 4}})
	require.NoError(t, err)

	parts := splitConcatenated(append(append([]byte{}, ack...), rsp...))
	require.Len(t, parts, 2)
	assert.Equal(t, ack, parts[0])
	assert.True(t, bytes.Equal(rsp, parts[1]))

	assert.Len(t, splitConcatenated(ack), 1)
	assert.Len(t, splitConcatenated(rsp), 1)
}

func TestMessageIDsSkipZero(t *testing.T) {
	ids := NewMessageIDs(0xFFFE)
	assert.Equal(t, uint16(0xFFFF), ids.Next())
	assert.Equal(t, uint16(1), ids.Next())
	assert.Equal(t, uint16(2), ids.Next())

	ids = NewMessageIDs(0)
	for i := 0; i < 0x20000; i++ {
		if ids.Next() == 0 {
			t.Fatalf("allocator returned 0 at iteration %d", i)
		}
	}
}

func TestTokenSource(t *testing.T) {
	src := NewTokenSource(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8}))

	first, err := src.New()
	require.NoError(t, err)
	second, err := src.New()
	require.NoError(t, err)

	assert.Equal(t, Token{1, 2, 3, 4}, first)
	assert.Equal(t, "05060708", second.String())
	assert.True(t, first.Matches([]byte{1, 2, 3, 4}))
	assert.False(t, first.Matches([]byte{1, 2, 3}))
	assert.False(t, first.IsZero())

	_, err = src.New()
	assert.Error(t, err, "exhausted reader")

	_, err = NewTokenSource(nil).New()
	assert.NoError(t, err)
}
