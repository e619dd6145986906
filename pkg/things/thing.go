package things

import (
	"errors"
	"fmt"
	"time"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/subscription"
)

// Registry errors.
var (
	ErrNoThings       = errors.New("no things registered")
	ErrDuplicateThing = errors.New("duplicate thing ID")
	ErrMissingAuth    = errors.New("missing auth token")
)

// Slot identifies a per-thing token slot.
type Slot uint8

// Slots in dispatch order.
const (
	SlotTelemetry Slot = iota
	SlotClientAttrRead
	SlotClientAttrWrite
	SlotSharedAttrRead
	SlotSharedAttrObserve
	SlotIncomingRPCObserve
	SlotOutgoingRPC
	SlotIncomingRPCResponse

	slotCount
)

// String returns the slot name.
func (s Slot) String() string {
	switch s {
	case SlotTelemetry:
		return "TELEMETRY"
	case SlotClientAttrRead:
		return "CLIENT_ATTR_READ"
	case SlotClientAttrWrite:
		return "CLIENT_ATTR_WRITE"
	case SlotSharedAttrRead:
		return "SHARED_ATTR_READ"
	case SlotSharedAttrObserve:
		return "SHARED_ATTR_OBSERVE"
	case SlotIncomingRPCObserve:
		return "INCOMING_RPC_OBSERVE"
	case SlotOutgoingRPC:
		return "OUTGOING_RPC"
	case SlotIncomingRPCResponse:
		return "INCOMING_RPC_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Persistent reports whether the slot keeps its token across requests.
func (s Slot) Persistent() bool {
	return s == SlotSharedAttrObserve || s == SlotIncomingRPCObserve
}

// event maps a matched slot to the event delivered to the application.
func (s Slot) event() EventKind {
	switch s {
	case SlotTelemetry:
		return EventTelemetryAck
	case SlotClientAttrRead:
		return EventClientAttrReadAck
	case SlotClientAttrWrite:
		return EventClientAttrWriteAck
	case SlotSharedAttrRead:
		return EventSharedAttrReadAck
	case SlotSharedAttrObserve:
		return EventSharedAttrChanged
	case SlotIncomingRPCObserve:
		return EventIncomingRPCRequest
	case SlotOutgoingRPC:
		return EventOutgoingRPCAck
	case SlotIncomingRPCResponse:
		return EventRPCResponseAck
	default:
		return EventUndefined
	}
}

// ThingConfig describes one thing at registration.
type ThingConfig struct {
	ID        string
	Name      string
	AuthToken string

	// Renewal intervals of the two observe registrations. 0 disables one.
	SharedAttrRenewal  time.Duration
	IncomingRPCRenewal time.Duration

	// Optional fixed observe tokens. Zero tokens are generated.
	SharedAttrToken  coap.Token
	IncomingRPCToken coap.Token
}

// Thing is a registered device identity.
type Thing struct {
	id    string
	name  string
	auth  string
	index int

	tokens [slotCount]coap.Token

	sharedAttr  *subscription.Renewal
	incomingRPC *subscription.Renewal
}

// ID returns the platform thing ID.
func (t *Thing) ID() string { return t.id }

// Name returns the display name.
func (t *Thing) Name() string { return t.name }

// AuthToken returns the access token used in request URIs.
func (t *Thing) AuthToken() string { return t.auth }

// Index returns the position of the thing in its registry.
func (t *Thing) Index() int { return t.index }

// Token returns the current token of a slot.
func (t *Thing) Token(slot Slot) coap.Token {
	return t.tokens[slot]
}

// Renewal returns the renewal timer of an observe registration.
func (t *Thing) Renewal(kind subscription.Kind) *subscription.Renewal {
	switch kind {
	case subscription.KindSharedAttributes:
		return t.sharedAttr
	case subscription.KindIncomingRPC:
		return t.incomingRPC
	default:
		return nil
	}
}

// match returns the first slot holding token, in dispatch order.
func (t *Thing) match(token []byte) (Slot, bool) {
	for s := Slot(0); s < slotCount; s++ {
		if !t.tokens[s].IsZero() && t.tokens[s].Matches(token) {
			return s, true
		}
	}
	return 0, false
}

func (t *Thing) uri(resource string) string {
	return "/api/v1/" + t.auth + "/" + resource
}

// Registry is the fixed set of things served by an engine.
type Registry struct {
	things []*Thing
	byID   map[string]*Thing
}

// NewRegistry creates a registry and generates every token that is not
// preset.
func NewRegistry(tokens *coap.TokenSource, configs ...ThingConfig) (*Registry, error) {
	if len(configs) == 0 {
		return nil, ErrNoThings
	}
	if tokens == nil {
		tokens = coap.NewTokenSource(nil)
	}

	r := &Registry{byID: make(map[string]*Thing, len(configs))}
	for i, cfg := range configs {
		if cfg.AuthToken == "" {
			return nil, fmt.Errorf("thing %q: %w", cfg.ID, ErrMissingAuth)
		}
		if _, dup := r.byID[cfg.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateThing, cfg.ID)
		}

		t := &Thing{
			id:          cfg.ID,
			name:        cfg.Name,
			auth:        cfg.AuthToken,
			index:       i,
			sharedAttr:  subscription.NewRenewal(cfg.SharedAttrRenewal),
			incomingRPC: subscription.NewRenewal(cfg.IncomingRPCRenewal),
		}
		t.tokens[SlotSharedAttrObserve] = cfg.SharedAttrToken
		t.tokens[SlotIncomingRPCObserve] = cfg.IncomingRPCToken
		for s := range t.tokens {
			if !t.tokens[s].IsZero() {
				continue
			}
			tok, err := tokens.New()
			if err != nil {
				return nil, err
			}
			t.tokens[s] = tok
		}

		r.things = append(r.things, t)
		r.byID[t.id] = t
	}
	return r, nil
}

// Things returns all things in registration order.
func (r *Registry) Things() []*Thing {
	return r.things
}

// Len returns the number of things.
func (r *Registry) Len() int {
	return len(r.things)
}

// ByID returns the thing with the given ID, or nil.
func (r *Registry) ByID(id string) *Thing {
	return r.byID[id]
}

// ByName returns the first thing with the given name, or nil.
func (r *Registry) ByName(name string) *Thing {
	for _, t := range r.things {
		if t.name == name {
			return t
		}
	}
	return nil
}
