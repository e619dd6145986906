package coap

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/connexthings/nbiot-go/pkg/log"
	"github.com/connexthings/nbiot-go/pkg/metrics"
	"github.com/connexthings/nbiot-go/pkg/modem"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// DefaultReceiveBufferSize bounds one inbound datagram.
const DefaultReceiveBufferSize = 512

// ErrPingTimeout indicates no matching RST arrived before the ping timeout.
var ErrPingTimeout = errors.New("coap: ping timeout")

// Socket is the datagram transport under the endpoint. *modem.Modem
// implements it.
type Socket interface {
	SendTo(socket int, addr string, port uint16, data []byte) (int, error)
	Receive(socket int, capacity int) (*modem.Datagram, error)
}

// Config configures an Endpoint.
type Config struct {
	// RemoteAddr and RemotePort locate the platform.
	RemoteAddr string
	RemotePort uint16

	// ReceiveBufferSize bounds one inbound datagram.
	ReceiveBufferSize int

	// DuplicateWindowSize and DuplicateWindowExpiry size the duplicate window.
	DuplicateWindowSize   int
	DuplicateWindowExpiry time.Duration

	// MessageIDs overrides the randomly seeded allocator.
	MessageIDs *MessageIDs

	// Logger for operational debug output. Nil disables logging.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// Endpoint sends and receives CoAP messages over one modem socket.
//
// An Endpoint is driven from a single goroutine.
type Endpoint struct {
	sock    Socket
	socket  int
	config  Config
	ids     *MessageIDs
	dups    *DuplicateWindow
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	rec     *log.Recorder
}

// NewEndpoint creates an endpoint on the given socket handle.
func NewEndpoint(sock Socket, socket int, config Config) *Endpoint {
	if config.ReceiveBufferSize <= 0 {
		config.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	ids := config.MessageIDs
	if ids == nil {
		ids = NewRandomMessageIDs()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Endpoint{
		sock:    sock,
		socket:  socket,
		config:  config,
		ids:     ids,
		dups:    NewDuplicateWindow(config.DuplicateWindowSize, config.DuplicateWindowExpiry),
		now:     now,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
}

// SetLogger configures protocol capture. Pass nil to disable.
func (e *Endpoint) SetLogger(logger log.Logger, sessionID string) {
	e.rec = log.NewRecorder(logger, sessionID).WithClock(e.now)
}

// SetSocket switches to a new socket handle after network re-initialisation.
func (e *Endpoint) SetSocket(socket int) {
	e.socket = socket
}

// Socket returns the current socket handle.
func (e *Endpoint) Socket() int {
	return e.socket
}

// NextMessageID allocates a message ID.
func (e *Endpoint) NextMessageID() uint16 {
	return e.ids.Next()
}

// Send encodes msg and sends it to the platform.
func (e *Endpoint) Send(msg *Message) error {
	return e.sendTo(e.config.RemoteAddr, e.config.RemotePort, msg)
}

func (e *Endpoint) sendTo(addr string, port uint16, msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := e.sock.SendTo(e.socket, addr, port, data); err != nil {
		return fmt.Errorf("coap: send %s: %w", msg, err)
	}

	e.metrics.CoAPMessage("out", typeName(msg.Type))
	e.capture(log.DirectionOut, fmt.Sprintf("%s:%d", addr, port), msg)
	return nil
}

// Poll drains at most one datagram and returns the messages it carried that
// need upper-layer handling.
//
// Confirmable messages are acknowledged before anything else. Duplicates,
// bare ACKs and undecodable bytes are dropped here. A malformed modem
// response is dropped too; only transport failures are returned.
func (e *Endpoint) Poll() ([]*Message, error) {
	dg, err := e.sock.Receive(e.socket, e.config.ReceiveBufferSize)
	if err != nil {
		if errors.Is(err, modem.ErrMalformedResponse) {
			e.debugLog("dropping malformed receive", "error", err)
			e.rec.RecordError(log.LayerDatagram, "receive", err)
			return nil, nil
		}
		return nil, err
	}
	if dg == nil {
		return nil, nil
	}
	if dg.Truncated {
		e.debugLog("datagram truncated", "size", len(dg.Data))
	}

	var out []*Message
	for _, part := range splitConcatenated(dg.Data) {
		if msg := e.handle(dg, part); msg != nil {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (e *Endpoint) handle(dg *modem.Datagram, data []byte) *Message {
	remote := fmt.Sprintf("%s:%d", dg.RemoteAddr, dg.RemotePort)

	msg, err := Decode(data)
	if err != nil {
		e.metrics.Dropped()
		e.debugLog("dropping undecodable datagram", "remote", remote, "error", err)
		e.rec.RecordError(log.LayerCoAP, "decode", err)
		return nil
	}
	msg.RemoteAddr = dg.RemoteAddr.Text
	msg.RemotePort = dg.RemotePort

	e.metrics.CoAPMessage("in", typeName(msg.Type))
	e.capture(log.DirectionIn, remote, msg)

	if msg.Type == message.Confirmable {
		ack := &Message{Type: message.Acknowledgement, Code: codes.Empty, MessageID: msg.MessageID}
		if err := e.sendTo(msg.RemoteAddr, msg.RemotePort, ack); err != nil {
			e.debugLog("auto-ack failed", "mid", msg.MessageID, "error", err)
		} else {
			e.captureControl(log.DirectionOut, remote, log.ControlAck, msg.MessageID)
		}
	}

	if e.dups.Check(msg.RemoteAddr, msg.RemotePort, msg.MessageID, e.now()) {
		e.metrics.Duplicate()
		e.captureControl(log.DirectionIn, remote, log.ControlDuplicate, msg.MessageID)
		e.debugLog("duplicate dropped", "remote", remote, "mid", msg.MessageID)
		return nil
	}

	if msg.Type == message.Acknowledgement && msg.IsEmpty() {
		return nil
	}
	return msg
}

// Ping sends an empty confirmable message and waits up to timeout for the
// platform's empty RST carrying the same message ID. Other datagrams that
// arrive meanwhile are discarded.
func (e *Endpoint) Ping(timeout time.Duration) error {
	mid := e.ids.Next()
	ping := &Message{Type: message.Confirmable, Code: codes.Empty, MessageID: mid}
	if err := e.Send(ping); err != nil {
		return err
	}
	remote := fmt.Sprintf("%s:%d", e.config.RemoteAddr, e.config.RemotePort)
	e.captureControl(log.DirectionOut, remote, log.ControlPing, mid)

	deadline := e.now().Add(timeout)
	for e.now().Before(deadline) {
		dg, err := e.sock.Receive(e.socket, e.config.ReceiveBufferSize)
		if err != nil || dg == nil {
			continue
		}
		if dg.RemoteAddr.Text != e.config.RemoteAddr || dg.RemotePort != e.config.RemotePort {
			continue
		}
		msg, err := Decode(dg.Data)
		if err != nil {
			continue
		}
		if msg.Type == message.Reset && msg.IsEmpty() && msg.MessageID == mid {
			e.captureControl(log.DirectionIn, remote, log.ControlReset, mid)
			return nil
		}
		e.debugLog("ignoring datagram during ping", "mid", msg.MessageID)
	}
	return ErrPingTimeout
}

func (e *Endpoint) capture(dir log.Direction, remote string, msg *Message) {
	if e.rec == nil {
		return
	}
	e.rec.Record(log.Event{
		Direction:  dir,
		Layer:      log.LayerCoAP,
		Category:   log.CategoryMessage,
		RemoteAddr: remote,
		Message: &log.MessageEvent{
			Type:      typeName(msg.Type),
			Code:      msg.Code.String(),
			MessageID: msg.MessageID,
			Token:     msg.Token,
			Path:      msg.Path,
			Observe:   msg.Observe,
			Payload:   msg.Payload,
		},
	})
}

func (e *Endpoint) captureControl(dir log.Direction, remote string, typ log.ControlType, mid uint16) {
	e.rec.Record(log.Event{
		Direction:  dir,
		Layer:      log.LayerCoAP,
		Category:   log.CategoryControl,
		RemoteAddr: remote,
		Control:    &log.ControlEvent{Type: typ, MessageID: mid},
	})
}

func (e *Endpoint) debugLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
