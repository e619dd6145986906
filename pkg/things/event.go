package things

import "github.com/connexthings/nbiot-go/pkg/coap"

// EventKind identifies a correlated platform event.
type EventKind uint8

const (
	// EventUndefined - no operation matched.
	EventUndefined EventKind = iota

	// EventTelemetryAck - platform answered a telemetry upload.
	EventTelemetryAck

	// EventClientAttrReadAck - client attributes read response.
	EventClientAttrReadAck

	// EventClientAttrWriteAck - client attributes write response.
	EventClientAttrWriteAck

	// EventSharedAttrReadAck - shared attributes read response.
	EventSharedAttrReadAck

	// EventSharedAttrChanged - shared attributes notification.
	EventSharedAttrChanged

	// EventOutgoingRPCAck - response to an RPC sent by the device.
	EventOutgoingRPCAck

	// EventIncomingRPCRequest - RPC request sent to the device.
	EventIncomingRPCRequest

	// EventRPCResponseAck - platform answered an RPC reply.
	EventRPCResponseAck
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventUndefined:
		return "UNDEFINED"
	case EventTelemetryAck:
		return "TELEMETRY_ACK"
	case EventClientAttrReadAck:
		return "CLIENT_ATTR_READ_ACK"
	case EventClientAttrWriteAck:
		return "CLIENT_ATTR_WRITE_ACK"
	case EventSharedAttrReadAck:
		return "SHARED_ATTR_READ_ACK"
	case EventSharedAttrChanged:
		return "SHARED_ATTR_CHANGED"
	case EventOutgoingRPCAck:
		return "OUTGOING_RPC_ACK"
	case EventIncomingRPCRequest:
		return "INCOMING_RPC_REQUEST"
	case EventRPCResponseAck:
		return "RPC_RESPONSE_ACK"
	default:
		return "UNKNOWN"
	}
}

// Event is a platform message correlated to a thing.
type Event struct {
	Kind  EventKind
	Thing *Thing

	// Body is the parsed JSON object. An empty payload yields an empty map.
	// Numbers are json.Number.
	Body map[string]any

	// Message is the CoAP message the event was derived from.
	Message *coap.Message
}

// EventHandler handles correlated platform events.
type EventHandler func(Event)

// RPCRequest is an RPC invoked on the device by the platform.
type RPCRequest struct {
	ID     int
	Method string

	// Params is the decoded "params" value, or nil.
	Params any
}

// CommandHandler handles an incoming RPC. It answers through rsp; if it
// does not, the engine replies with 400 "unsupported command".
type CommandHandler func(thing *Thing, req RPCRequest, rsp *CommandResponse)
