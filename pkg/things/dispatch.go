package things

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/log"
)

// dispatch correlates an inbound message with every registered thing.
// A message is matched against all things, not only the first hit.
func (e *Engine) dispatch(msg *coap.Message) {
	if len(msg.Token) != coap.TokenLength {
		return
	}

	body, ok := e.parseBody(msg.Payload)
	if !ok {
		e.stats.dropped++
		e.debugLog("things: payload dropped", "mid", msg.MessageID, "size", len(msg.Payload))
		return
	}

	for _, thing := range e.registry.things {
		slot, ok := thing.match(msg.Token)
		if !ok {
			continue
		}
		e.deliver(Event{
			Kind:    slot.event(),
			Thing:   thing,
			Body:    body,
			Message: msg,
		})
	}
}

// parseBody decodes a JSON object payload. An empty payload is {}.
func (e *Engine) parseBody(payload []byte) (map[string]any, bool) {
	if len(payload) > e.config.MaxPayloadSize {
		return nil, false
	}
	if len(payload) == 0 {
		return map[string]any{}, true
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil || body == nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return body, true
}

func (e *Engine) deliver(ev Event) {
	e.stats.events++
	e.metrics.PlatformEvent(ev.Kind.String())
	e.debugLog("things: platform event", "kind", ev.Kind, "thing", ev.Thing.id)

	pe := &log.PlatformEvent{Kind: ev.Kind.String()}
	if ev.Kind == EventIncomingRPCRequest {
		pe.Method, _ = ev.Body["method"].(string)
		if id, ok := rpcID(ev.Body["id"]); ok {
			pe.RPCID = &id
		}
	}
	e.rec.Record(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerThings,
		Category:  log.CategoryMessage,
		ThingID:   ev.Thing.id,
		Platform:  pe,
	})

	for _, h := range e.onEvent {
		h(ev)
	}

	if ev.Kind == EventIncomingRPCRequest {
		e.handleIncomingRPC(ev.Thing, ev.Body)
	}
}
