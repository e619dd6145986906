package log

import (
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// A capture file is a plain concatenation of CBOR-encoded events with
// integer map keys. A device that loses power mid-write leaves a partial
// record at the tail.

// ErrTruncated marks a capture stream that ends inside a record.
var ErrTruncated = errors.New("log: capture ends with a truncated record")

// Decoder limits. The largest legitimate event carries one 512-byte
// datagram, so anything far beyond is a corrupt file, not a capture.
const (
	maxNestedLevels  = 8
	maxArrayElements = 1024
	maxMapPairs      = 64
)

var (
	encMode = mustEncMode(cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	})

	decMode = mustDecMode(cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyQuiet,
		IndefLength:      cbor.IndefLengthAllowed,
		MaxNestedLevels:  maxNestedLevels,
		MaxArrayElements: maxArrayElements,
		MaxMapPairs:      maxMapPairs,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic("log: capture encoder options: " + err.Error())
	}
	return m
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	m, err := opts.DecMode()
	if err != nil {
		panic("log: capture decoder options: " + err.Error())
	}
	return m
}

// EncodeEvent encodes one capture record.
func EncodeEvent(event Event) ([]byte, error) {
	return encMode.Marshal(event)
}

// DecodeEvent decodes one capture record. Trailing bytes are an error.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := decMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// decodeNext reads the next record from dec. It returns io.EOF at a clean
// end of stream and ErrTruncated when the stream stops inside a record.
func decodeNext(dec *cbor.Decoder) (Event, error) {
	var event Event
	err := dec.Decode(&event)
	switch {
	case err == nil:
		return event, nil
	case errors.Is(err, io.EOF):
		return Event{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Event{}, ErrTruncated
	default:
		return Event{}, err
	}
}
