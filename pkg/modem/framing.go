package modem

import (
	"errors"
	"io"
	"strings"
	"time"
)

// Framing constants.
const (
	// DefaultMaxPayloadSize bounds one response record. It is large enough
	// for an NSORF chunk (32 data bytes hex-encoded plus address fields).
	DefaultMaxPayloadSize = 256

	// cmeErrorPrefix is stripped from +CME ERROR records.
	cmeErrorPrefix = "+CME ERROR: "

	readChunkSize = 64
)

// ResponseType classifies one framed response record.
type ResponseType uint8

const (
	// ResponseData is any payload other than the reserved literals.
	ResponseData ResponseType = iota
	// ResponseOK is the literal "OK".
	ResponseOK
	// ResponseError is "ERROR" or "+CME ERROR: <code>".
	ResponseError
	// ResponseTimeout means no complete record arrived in time.
	ResponseTimeout
)

// String returns the response type name.
func (t ResponseType) String() string {
	switch t {
	case ResponseData:
		return "DATA"
	case ResponseOK:
		return "OK"
	case ResponseError:
		return "ERROR"
	case ResponseTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Response is one framed modem response record.
// For a +CME ERROR record Payload holds the error code only.
type Response struct {
	Type    ResponseType
	Payload string
}

type parserState uint8

const (
	stateStartCR parserState = iota
	stateStartLF
	statePayload
	stateStopLF
)

// FrameReader extracts \r\n<payload>\r\n records from a serial byte stream.
//
// The underlying reader must not block indefinitely: a read that finds no
// data returns (0, nil) or io.EOF, as a serial port with a read timeout does.
// Bytes read past the end of a record are kept for the next call.
type FrameReader struct {
	r              io.Reader
	now            func() time.Time
	maxPayloadSize int

	pending []byte
	readBuf [readChunkSize]byte

	state   parserState
	payload []byte
}

// NewFrameReader creates a frame reader with the default payload bound.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxPayloadSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom payload bound.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxPayloadSize
	}
	return &FrameReader{
		r:              r,
		now:            time.Now,
		maxPayloadSize: maxSize,
		payload:        make([]byte, 0, maxSize),
	}
}

// SetClock replaces the time source used for the inactivity timeout.
func (fr *FrameReader) SetClock(now func() time.Time) {
	fr.now = now
}

// ReadResponse returns the next complete record.
//
// timeout is an inactivity budget: it restarts whenever a byte arrives. When
// it runs out the returned record has type ResponseTimeout and err is nil.
// err is only set when the underlying reader fails.
func (fr *FrameReader) ReadResponse(timeout time.Duration) (Response, error) {
	fr.reset()
	deadline := fr.now().Add(timeout)

	for {
		b, ok, err := fr.nextByte()
		if err != nil {
			fr.reset()
			return Response{}, err
		}
		if !ok {
			if !fr.now().Before(deadline) {
				fr.reset()
				return Response{Type: ResponseTimeout}, nil
			}
			continue
		}
		deadline = fr.now().Add(timeout)

		if rsp, done := fr.step(b); done {
			return rsp, nil
		}
	}
}

// Purge discards buffered bytes and whatever the port currently holds.
func (fr *FrameReader) Purge() error {
	fr.reset()
	fr.pending = nil
	for {
		n, err := fr.r.Read(fr.readBuf[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (fr *FrameReader) reset() {
	fr.state = stateStartCR
	fr.payload = fr.payload[:0]
}

// nextByte returns the next byte, refilling from the port when the pending
// buffer is empty. ok is false when the port has nothing to offer right now.
func (fr *FrameReader) nextByte() (b byte, ok bool, err error) {
	if len(fr.pending) == 0 {
		n, err := fr.r.Read(fr.readBuf[:])
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, false, err
		}
		if n == 0 {
			return 0, false, nil
		}
		fr.pending = fr.readBuf[:n]
	}
	b = fr.pending[0]
	fr.pending = fr.pending[1:]
	return b, true, nil
}

// step advances the state machine by one byte.
func (fr *FrameReader) step(b byte) (Response, bool) {
	switch fr.state {
	case stateStartCR:
		if b == '\r' {
			fr.state = stateStartLF
		}

	case stateStartLF:
		switch b {
		case '\n':
			fr.state = statePayload
		case '\r':
			// repeated CR
		default:
			fr.reset()
		}

	case statePayload:
		switch {
		case b == '\r' && len(fr.payload) == 0:
			// A CR before any payload byte opens a new record rather than
			// closing an empty one. This keeps the tail of an overflowed
			// record from surfacing as an empty DATA record.
			fr.state = stateStartLF
		case b == '\r':
			fr.state = stateStopLF
		case len(fr.payload) >= fr.maxPayloadSize:
			fr.reset()
		default:
			fr.payload = append(fr.payload, b)
		}

	case stateStopLF:
		if b != '\n' {
			fr.reset()
			return Response{}, false
		}
		rsp := classify(string(fr.payload))
		fr.reset()
		return rsp, true
	}
	return Response{}, false
}

func classify(payload string) Response {
	switch {
	case payload == "OK":
		return Response{Type: ResponseOK, Payload: payload}
	case payload == "ERROR":
		return Response{Type: ResponseError, Payload: payload}
	case strings.HasPrefix(payload, cmeErrorPrefix):
		return Response{Type: ResponseError, Payload: payload[len(cmeErrorPrefix):]}
	default:
		return Response{Type: ResponseData, Payload: payload}
	}
}
