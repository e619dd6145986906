package modem

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/connexthings/nbiot-go/pkg/log"
)

// Datagram limits.
const (
	// MaxDatagramSize is the largest payload AT+NSOST accepts.
	MaxDatagramSize = 512

	// ReceiveChunkSize is the number of bytes requested per AT+NSORF.
	ReceiveChunkSize = 32

	// maxReceiveChunks stops a drain from looping on a modem that never
	// reports zero remaining bytes.
	maxReceiveChunks = 64
)

// SendFlags select AT+NSOSTF release-assistance options.
type SendFlags uint16

const (
	FlagNone                SendFlags = 0
	FlagHighPriority        SendFlags = 0x100
	FlagReleaseAfterNext    SendFlags = 0x200
	FlagReleaseAfterReplied SendFlags = 0x400
)

// Datagram is one UDP payload drained from the modem.
type Datagram struct {
	Socket     int
	RemoteAddr IPv4Addr
	RemotePort uint16
	Data       []byte

	// Truncated is set when the datagram was larger than the receive
	// capacity. Data then holds the leading bytes only.
	Truncated bool
}

// CreateSocket opens a UDP socket bound to port and returns the modem's
// handle. With receive false the modem discards inbound datagrams.
func (m *Modem) CreateSocket(port uint16, receive bool) (int, error) {
	recv := 0
	if receive {
		recv = 1
	}
	cmd := fmt.Sprintf("AT+NSOCR=DGRAM,17,%d,%d", port, recv)
	data, err := m.query(cmd)
	if err != nil {
		return -1, err
	}
	handle, err := strconv.Atoi(strings.TrimSpace(data))
	if err != nil || handle < 0 {
		return -1, fmt.Errorf("%s: %w: %q", cmd, ErrMalformedResponse, data)
	}
	m.debugLog("socket created", "socket", handle, "port", port)
	return handle, nil
}

// CloseSocket closes a socket.
func (m *Modem) CloseSocket(socket int) error {
	return m.exec(fmt.Sprintf("AT+NSOCL=%d", socket))
}

// SendTo sends data to addr:port. It returns the number of bytes the modem
// accepted; when that differs from len(data) the error wraps ErrShortWrite.
func (m *Modem) SendTo(socket int, addr string, port uint16, data []byte) (int, error) {
	return m.SendToWithFlags(socket, addr, port, FlagNone, data)
}

// SendToWithFlags is SendTo with release-assistance flags. FlagNone uses
// AT+NSOST, anything else AT+NSOSTF.
func (m *Modem) SendToWithFlags(socket int, addr string, port uint16, flags SendFlags, data []byte) (int, error) {
	if len(data) > MaxDatagramSize {
		return 0, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(data), MaxDatagramSize)
	}

	var name, params string
	if flags == FlagNone {
		name = "AT+NSOST"
		params = fmt.Sprintf("%d,%s,%d,%d,", socket, addr, port, len(data))
	} else {
		name = "AT+NSOSTF"
		params = fmt.Sprintf("%d,%s,%d,0x%03X,%d,", socket, addr, port, uint16(flags), len(data))
	}
	if err := m.WriteCommand(name + "=" + params + strings.ToUpper(hex.EncodeToString(data))); err != nil {
		return 0, err
	}

	rsp, err := m.ReadSimpleData(m.config.ReadTimeout)
	if err != nil {
		return 0, annotate(name, err)
	}

	// <socket>,<length>
	_, sent, ok := strings.Cut(rsp, ",")
	if !ok {
		return 0, fmt.Errorf("%s: %w: %q", name, ErrMalformedResponse, rsp)
	}
	n, err := strconv.Atoi(strings.TrimSpace(sent))
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %q", name, ErrMalformedResponse, rsp)
	}

	m.metrics.Datagram("out", n)
	m.rec.Record(log.Event{
		Direction:  log.DirectionOut,
		Layer:      log.LayerDatagram,
		Category:   log.CategoryMessage,
		RemoteAddr: fmt.Sprintf("%s:%d", addr, port),
		Datagram:   &log.DatagramEvent{Socket: socket, Size: len(data), Data: data},
	})

	if n != len(data) {
		return n, fmt.Errorf("%s: %w: %d of %d bytes", name, ErrShortWrite, n, len(data))
	}
	return n, nil
}

// Receive drains one pending datagram in ReceiveChunkSize pieces. It returns
// (nil, nil) when nothing is waiting. Bytes beyond capacity are discarded
// and the datagram is marked Truncated.
func (m *Modem) Receive(socket int, capacity int) (*Datagram, error) {
	cmd := fmt.Sprintf("AT+NSORF=%d,%d", socket, ReceiveChunkSize)
	var dg *Datagram

	for i := 0; ; i++ {
		if i >= maxReceiveChunks {
			return nil, fmt.Errorf("%s: %w: too many chunks", cmd, ErrMalformedResponse)
		}
		if err := m.WriteCommand(cmd); err != nil {
			return nil, err
		}

		rsp, err := m.ReadResponse(m.config.ReadTimeout)
		if err != nil {
			return nil, err
		}
		if rsp.Type == ResponseOK && dg == nil {
			// Nothing buffered.
			return nil, nil
		}
		if err := expect(rsp, ResponseData, cmd); err != nil {
			return nil, annotate(cmd, err)
		}

		c, err := parseChunk(rsp.Payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
		if err := m.WaitForOK(m.config.ReadTimeout); err != nil {
			return nil, annotate(cmd, err)
		}

		if dg == nil {
			dg = &Datagram{
				Socket:     c.socket,
				RemoteAddr: NewIPv4Addr(c.addr),
				RemotePort: c.port,
				Data:       make([]byte, 0, min(capacity, MaxDatagramSize)),
			}
		}
		room := capacity - len(dg.Data)
		if room < len(c.data) {
			dg.Truncated = true
			c.data = c.data[:max(room, 0)]
		}
		dg.Data = append(dg.Data, c.data...)

		if c.remaining == 0 {
			break
		}
	}

	m.metrics.Datagram("in", len(dg.Data))
	m.rec.Record(log.Event{
		Direction:  log.DirectionIn,
		Layer:      log.LayerDatagram,
		Category:   log.CategoryMessage,
		RemoteAddr: fmt.Sprintf("%s:%d", dg.RemoteAddr, dg.RemotePort),
		Datagram: &log.DatagramEvent{
			Socket:    dg.Socket,
			Size:      len(dg.Data),
			Data:      dg.Data,
			Truncated: dg.Truncated,
		},
	})
	return dg, nil
}

type chunk struct {
	socket    int
	addr      string
	port      uint16
	data      []byte
	remaining int
}

// parseChunk parses <socket>,<ip>,<port>,<length>,<hex>,<remaining>.
func parseChunk(s string) (chunk, error) {
	f := strings.Split(s, ",")
	if len(f) != 6 {
		return chunk{}, fmt.Errorf("%w: chunk %q", ErrMalformedResponse, s)
	}

	socket, err1 := strconv.Atoi(f[0])
	port, err2 := strconv.ParseUint(f[2], 10, 16)
	length, err3 := strconv.Atoi(f[3])
	remaining, err4 := strconv.Atoi(f[5])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || length < 0 || remaining < 0 {
		return chunk{}, fmt.Errorf("%w: chunk %q", ErrMalformedResponse, s)
	}
	if len(f[4]) != 2*length {
		return chunk{}, fmt.Errorf("%w: chunk length %d does not match %d hex digits", ErrMalformedResponse, length, len(f[4]))
	}
	data, err := hex.DecodeString(f[4])
	if err != nil {
		return chunk{}, fmt.Errorf("%w: chunk data: %v", ErrMalformedResponse, err)
	}

	return chunk{
		socket:    socket,
		addr:      f[1],
		port:      uint16(port),
		data:      data,
		remaining: remaining,
	}, nil
}
