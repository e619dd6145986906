package things

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/log"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Request errors.
var (
	ErrNilThing        = errors.New("nil thing")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	ErrEmptyMethod     = errors.New("empty rpc method")
)

// request describes one outgoing platform request.
type request struct {
	slot     Slot
	code     codes.Code
	resource string
	queries  []string
	observe  bool
	payload  []byte
	method   string
	rpcID    *int
	status   *int
}

// SendTelemetry uploads telemetry. body is sent as-is when it is []byte,
// json.RawMessage or string, and JSON encoded otherwise.
func (e *Engine) SendTelemetry(thing *Thing, body any) error {
	payload, err := e.encodeBody(body)
	if err != nil {
		return err
	}
	return e.send(thing, request{
		slot:     SlotTelemetry,
		code:     codes.POST,
		resource: "telemetry",
		payload:  payload,
	})
}

// ReadClientAttributes requests client attributes, all of them when no
// keys are given.
func (e *Engine) ReadClientAttributes(thing *Thing, keys ...string) error {
	return e.send(thing, request{
		slot:     SlotClientAttrRead,
		code:     codes.GET,
		resource: "attributes",
		queries:  keyQuery("clientKeys", keys),
	})
}

// WriteClientAttributes publishes client attributes.
func (e *Engine) WriteClientAttributes(thing *Thing, attrs any) error {
	payload, err := e.encodeBody(attrs)
	if err != nil {
		return err
	}
	return e.send(thing, request{
		slot:     SlotClientAttrWrite,
		code:     codes.POST,
		resource: "attributes",
		payload:  payload,
	})
}

// ReadSharedAttributes requests shared attributes, all of them when no
// keys are given.
func (e *Engine) ReadSharedAttributes(thing *Thing, keys ...string) error {
	return e.send(thing, request{
		slot:     SlotSharedAttrRead,
		code:     codes.GET,
		resource: "attributes",
		queries:  keyQuery("sharedKeys", keys),
	})
}

// ObserveSharedAttributes (re-)registers for shared attribute changes and
// restarts the renewal countdown.
func (e *Engine) ObserveSharedAttributes(thing *Thing) error {
	if thing == nil {
		return ErrNilThing
	}
	e.scheduler.Renew(thing.sharedAttr, e.now())
	return e.send(thing, request{
		slot:     SlotSharedAttrObserve,
		code:     codes.GET,
		resource: "attributes",
		observe:  true,
	})
}

// SendRPC sends an RPC request to the platform. nil params are sent as {}.
func (e *Engine) SendRPC(thing *Thing, method string, params any) error {
	if method == "" {
		return ErrEmptyMethod
	}
	if params == nil {
		params = json.RawMessage("{}")
	}
	payload, err := e.encodeBody(rpcRequestEnvelope{Method: method, Params: rawIfJSON(params)})
	if err != nil {
		return err
	}
	return e.send(thing, request{
		slot:     SlotOutgoingRPC,
		code:     codes.POST,
		resource: "rpc",
		payload:  payload,
		method:   method,
	})
}

// ObserveIncomingRPC (re-)registers for RPC requests and restarts the
// renewal countdown.
func (e *Engine) ObserveIncomingRPC(thing *Thing) error {
	if thing == nil {
		return ErrNilThing
	}
	e.scheduler.Renew(thing.incomingRPC, e.now())
	return e.send(thing, request{
		slot:     SlotIncomingRPCObserve,
		code:     codes.GET,
		resource: "rpc",
		observe:  true,
	})
}

// RespondRPC replies to incoming RPC id. The reply body is
// {"method":method,"response":{"status":status,"body":body}}.
func (e *Engine) RespondRPC(thing *Thing, id int, method string, status int, body any) error {
	payload, err := e.encodeBody(rpcResponseEnvelope{
		Method:   method,
		Response: rpcResponse{Status: status, Body: rawIfJSON(body)},
	})
	if err != nil {
		return err
	}
	e.metrics.RPCResponse(strconv.Itoa(status))
	return e.send(thing, request{
		slot:     SlotIncomingRPCResponse,
		code:     codes.POST,
		resource: "rpc/" + strconv.Itoa(id),
		payload:  payload,
		method:   method,
		rpcID:    &id,
		status:   &status,
	})
}

// send tags the request with the slot token and hands it to the transport.
func (e *Engine) send(thing *Thing, req request) error {
	if thing == nil {
		return ErrNilThing
	}

	if !req.slot.Persistent() || thing.tokens[req.slot].IsZero() {
		tok, err := e.tokens.New()
		if err != nil {
			return err
		}
		thing.tokens[req.slot] = tok
	}
	token := thing.tokens[req.slot]

	msg := &coap.Message{
		Type:      message.Confirmable,
		Code:      req.code,
		MessageID: e.transport.NextMessageID(),
		Token:     token[:],
		Path:      thing.uri(req.resource),
		Queries:   req.queries,
		Payload:   req.payload,
	}
	if req.observe {
		register := uint32(0)
		msg.Observe = &register
	}

	e.debugLog("things: request",
		"thing", thing.id,
		"op", req.slot,
		"mid", msg.MessageID,
		"token", token.String())
	e.rec.Record(log.Event{
		Direction: log.DirectionOut,
		Layer:     log.LayerThings,
		Category:  log.CategoryMessage,
		ThingID:   thing.id,
		Platform: &log.PlatformEvent{
			Kind:   req.slot.String(),
			Method: req.method,
			RPCID:  req.rpcID,
			Status: req.status,
		},
	})

	e.stats.requests++
	if err := e.transport.Send(msg); err != nil {
		e.stats.sendFails++
		return fmt.Errorf("%s: %w", strings.ToLower(req.slot.String()), err)
	}
	return nil
}

// encodeBody turns a caller value into a bounded JSON payload.
func (e *Engine) encodeBody(body any) ([]byte, error) {
	var payload []byte
	switch b := body.(type) {
	case nil:
		payload = []byte("{}")
	case []byte:
		payload = b
	case json.RawMessage:
		payload = b
	case string:
		payload = []byte(b)
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
	}
	if len(payload) > e.config.MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), e.config.MaxPayloadSize)
	}
	return payload, nil
}

// rawIfJSON embeds []byte and json.RawMessage values verbatim inside an
// envelope. Strings stay JSON strings.
func rawIfJSON(v any) any {
	switch b := v.(type) {
	case json.RawMessage:
		return b
	case []byte:
		if json.Valid(b) {
			return json.RawMessage(b)
		}
		return string(b)
	default:
		return v
	}
}

func keyQuery(name string, keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	return []string{name + "=" + strings.Join(keys, ",")}
}
