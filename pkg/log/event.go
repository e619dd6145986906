package log

import "time"

// Event represents a protocol capture event recorded at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one run of the device stack (UUID).
	SessionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port) for datagram and CoAP events.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// ThingID is set for events correlated to a registered thing.
	ThingID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Command     *CommandEvent     `cbor:"10,keyasint,omitempty"` // Serial layer
	Datagram    *DatagramEvent    `cbor:"11,keyasint,omitempty"` // Datagram layer
	Message     *MessageEvent     `cbor:"12,keyasint,omitempty"` // CoAP layer (decoded)
	Platform    *PlatformEvent    `cbor:"13,keyasint,omitempty"` // Things layer
	StateChange *StateChangeEvent `cbor:"14,keyasint,omitempty"`
	Control     *ControlEvent     `cbor:"15,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"16,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates data received from the modem or network.
	DirectionIn Direction = 0
	// DirectionOut indicates data sent to the modem or network.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerSerial is the AT command line layer.
	LayerSerial Layer = 0
	// LayerDatagram is the UDP socket layer on top of the modem.
	LayerDatagram Layer = 1
	// LayerCoAP is the CoAP message layer.
	LayerCoAP Layer = 2
	// LayerThings is the platform correlation layer.
	LayerThings Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerSerial:
		return "SERIAL"
	case LayerDatagram:
		return "DATAGRAM"
	case LayerCoAP:
		return "COAP"
	case LayerThings:
		return "THINGS"
	default:
		return "UNKNOWN"
	}
}

// ParseLayer returns the layer for a case-sensitive name as printed by String.
func ParseLayer(s string) (Layer, bool) {
	for l := LayerSerial; l <= LayerThings; l++ {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a command, datagram or protocol message.
	CategoryMessage Category = 0
	// CategoryControl indicates ACK/RST/ping control traffic.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// CommandEvent captures an AT command line or a framed modem response.
type CommandEvent struct {
	// Line is the command sent (without terminator) or the response payload.
	Line string `cbor:"1,keyasint"`

	// Kind is the response classification (OK, ERROR, DATA). Empty for commands.
	Kind string `cbor:"2,keyasint,omitempty"`
}

// DatagramEvent captures a UDP payload crossing the modem.
type DatagramEvent struct {
	Socket int `cbor:"1,keyasint"`

	// Size is the payload size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the raw payload (may be truncated for large datagrams).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates the payload did not fit the receive buffer.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// MessageEvent captures a decoded CoAP message.
type MessageEvent struct {
	Type      string `cbor:"1,keyasint"`
	Code      string `cbor:"2,keyasint"`
	MessageID uint16 `cbor:"3,keyasint"`
	Token     []byte `cbor:"4,keyasint,omitempty"`
	Path      string `cbor:"5,keyasint,omitempty"`

	// Observe is the observe option value, if present.
	Observe *uint32 `cbor:"6,keyasint,omitempty"`

	Payload []byte `cbor:"7,keyasint,omitempty"`
}

// PlatformEvent captures a correlated platform event or RPC action.
type PlatformEvent struct {
	// Kind names the event (e.g. TELEMETRY_ACK, INCOMING_RPC_REQUEST).
	Kind string `cbor:"1,keyasint"`

	// Method is the RPC method, if any.
	Method string `cbor:"2,keyasint,omitempty"`

	// RPCID is the platform-assigned id of an incoming RPC.
	RPCID *int `cbor:"3,keyasint,omitempty"`

	// Status is the RPC response status code, if any.
	Status *int `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures network and watchdog lifecycle events.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityNetwork indicates a modem attach/registration change.
	StateEntityNetwork StateEntity = 0
	// StateEntityWatchdog indicates a connectivity watchdog change.
	StateEntityWatchdog StateEntity = 1
	// StateEntitySubscription indicates an observe subscription change.
	StateEntitySubscription StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityNetwork:
		return "NETWORK"
	case StateEntityWatchdog:
		return "WATCHDOG"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures CoAP control traffic.
type ControlEvent struct {
	Type      ControlType `cbor:"1,keyasint"`
	MessageID uint16      `cbor:"2,keyasint"`
}

// ControlType indicates the type of control message.
type ControlType uint8

const (
	// ControlAck is an empty acknowledgement.
	ControlAck ControlType = 0
	// ControlReset is an empty reset.
	ControlReset ControlType = 1
	// ControlPing is an empty confirmable ping.
	ControlPing ControlType = 2
	// ControlDuplicate is a suppressed retransmission.
	ControlDuplicate ControlType = 3
)

// String returns the control type name.
func (c ControlType) String() string {
	switch c {
	case ControlAck:
		return "ACK"
	case ControlReset:
		return "RST"
	case ControlPing:
		return "PING"
	case ControlDuplicate:
		return "DUPLICATE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer Layer `cbor:"1,keyasint"`

	Message string `cbor:"2,keyasint"`

	// Code is the modem CME error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
