package coap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

// Version is the only CoAP version accepted.
const Version = 1

// headerSize is the fixed CoAP header length.
const headerSize = 4

// ErrMalformed indicates bytes that do not form a valid CoAP message.
var ErrMalformed = errors.New("coap: malformed message")

// Message is a decoded CoAP message.
type Message struct {
	Type      message.Type
	Code      codes.Code
	MessageID uint16
	Token     []byte

	// Path is the Uri-Path joined with "/" and a leading "/".
	Path string

	// Queries holds the Uri-Query options in order.
	Queries []string

	// Observe is the Observe option value, if present.
	Observe *uint32

	Payload []byte

	// Source of an inbound message.
	RemoteAddr string
	RemotePort uint16
}

// IsEmpty reports whether the message carries the Empty code.
func (m *Message) IsEmpty() bool {
	return m.Code == codes.Empty
}

func (m *Message) String() string {
	return fmt.Sprintf("%s %s mid=%d token=%x path=%s", typeName(m.Type), m.Code, m.MessageID, m.Token, m.Path)
}

// Encode serializes msg to wire bytes.
func Encode(msg *Message) ([]byte, error) {
	pm := pool.NewMessage(context.Background())
	defer pm.Reset()

	pm.SetType(msg.Type)
	pm.SetCode(msg.Code)
	pm.SetMessageID(int32(msg.MessageID))
	if len(msg.Token) > 0 {
		pm.SetToken(msg.Token)
	}
	if msg.Path != "" {
		if err := pm.SetPath(msg.Path); err != nil {
			return nil, fmt.Errorf("coap: set path %q: %w", msg.Path, err)
		}
	}
	for _, q := range msg.Queries {
		pm.AddQuery(q)
	}
	if msg.Observe != nil {
		pm.SetObserve(*msg.Observe)
	}
	if len(msg.Payload) > 0 {
		pm.SetBody(bytes.NewReader(msg.Payload))
	}

	data, err := pm.MarshalWithEncoder(coder.DefaultCoder)
	if err != nil {
		return nil, fmt.Errorf("coap: encode: %w", err)
	}
	return data, nil
}

// Decode parses one CoAP message occupying all of data.
func Decode(data []byte) (*Message, error) {
	if err := validateHeader(data); err != nil {
		return nil, err
	}

	pm := pool.NewMessage(context.Background())
	defer pm.Reset()

	if _, err := pm.UnmarshalWithDecoder(coder.DefaultCoder, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := &Message{
		Type:      pm.Type(),
		Code:      pm.Code(),
		MessageID: uint16(pm.MessageID()),
		Token:     append([]byte(nil), pm.Token()...),
	}
	if path, err := pm.Path(); err == nil && path != "" {
		msg.Path = "/" + strings.TrimPrefix(path, "/")
	}
	if queries, err := pm.Queries(); err == nil && len(queries) > 0 {
		msg.Queries = queries
	}
	if obs, err := pm.Observe(); err == nil {
		msg.Observe = &obs
	}
	if pm.Body() != nil {
		payload, err := pm.ReadBody()
		if err != nil {
			return nil, fmt.Errorf("%w: body: %v", ErrMalformed, err)
		}
		if len(payload) > 0 {
			msg.Payload = payload
		}
	}
	return msg, nil
}

// validateHeader checks the parts of the header the decoder is lenient about.
func validateHeader(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	if v := data[0] >> 6; v != Version {
		return fmt.Errorf("%w: version %d", ErrMalformed, v)
	}
	tkl := int(data[0] & 0x0f)
	if tkl > 8 {
		return fmt.Errorf("%w: token length %d", ErrMalformed, tkl)
	}
	// An empty message is exactly the header.
	if codes.Code(data[1]) == codes.Empty && (len(data) != headerSize || tkl != 0) {
		return fmt.Errorf("%w: empty message with %d bytes", ErrMalformed, len(data))
	}
	return nil
}

// splitConcatenated separates two messages that arrived in one datagram.
// Some platforms send an empty ACK and a response back to back; when the
// datagram is longer than a bare header and the header carries the Empty
// code, the first four bytes are taken as one message and the rest as a
// second. The check looks at one byte only and can misfire if a peer ever
// sends other data with this shape.
func splitConcatenated(data []byte) [][]byte {
	if len(data) > headerSize && codes.Code(data[1]) == codes.Empty {
		return [][]byte{data[:headerSize], data[headerSize:]}
	}
	return [][]byte{data}
}

// typeName returns the short CoAP name for t.
func typeName(t message.Type) string {
	switch t {
	case message.Confirmable:
		return "CON"
	case message.NonConfirmable:
		return "NON"
	case message.Acknowledgement:
		return "ACK"
	case message.Reset:
		return "RST"
	default:
		return "UNSET"
	}
}
