package things

import (
	"testing"
	"time"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.ErrorIs(t, err, ErrNoThings)

	noAuth := defaultThing()
	noAuth.AuthToken = ""
	_, err = NewRegistry(nil, noAuth)
	assert.ErrorIs(t, err, ErrMissingAuth)

	_, err = NewRegistry(nil, defaultThing(), defaultThing())
	assert.ErrorIs(t, err, ErrDuplicateThing)
}

func TestRegistryLookup(t *testing.T) {
	second := defaultThing()
	second.ID, second.Name, second.AuthToken = "kitchen", "Kitchen Sensor", "T2"

	reg, err := NewRegistry(coap.NewTokenSource(&countingReader{}), defaultThing(), second)
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	assert.Same(t, reg.Things()[1], reg.ByID("kitchen"))
	assert.Same(t, reg.Things()[1], reg.ByName("Kitchen Sensor"))
	assert.Equal(t, 1, reg.ByID("kitchen").Index())
	assert.Equal(t, "T2", reg.ByName("Kitchen Sensor").AuthToken())
	assert.Nil(t, reg.ByID("missing"))
	assert.Nil(t, reg.ByName("missing"))
}

func TestRegistryTokens(t *testing.T) {
	cfg := defaultThing()
	cfg.IncomingRPCToken = coap.Token{0xDE, 0xAD, 0xBE, 0xEF}

	reg, err := NewRegistry(coap.NewTokenSource(&countingReader{}), cfg)
	require.NoError(t, err)
	thing := reg.Things()[0]

	assert.Equal(t, cfg.IncomingRPCToken, thing.Token(SlotIncomingRPCObserve), "preset token kept")

	seen := map[coap.Token]bool{}
	for s := Slot(0); s < slotCount; s++ {
		tok := thing.Token(s)
		assert.False(t, tok.IsZero(), s.String())
		assert.False(t, seen[tok], "token of %s reused", s)
		seen[tok] = true
	}
}

func TestThingRenewals(t *testing.T) {
	cfg := defaultThing()
	cfg.IncomingRPCRenewal = 0

	reg, err := NewRegistry(nil, cfg)
	require.NoError(t, err)
	thing := reg.Things()[0]

	assert.Equal(t, 15*time.Second, thing.Renewal(subscription.KindSharedAttributes).Interval)
	assert.False(t, thing.Renewal(subscription.KindIncomingRPC).Enabled())
	assert.Nil(t, thing.Renewal(subscription.Kind(9)))
}

func TestThingMatchOrder(t *testing.T) {
	thing := &Thing{}
	thing.tokens[SlotClientAttrWrite] = coap.Token{1, 2, 3, 4}
	thing.tokens[SlotOutgoingRPC] = coap.Token{1, 2, 3, 4}

	slot, ok := thing.match([]byte{1, 2, 3, 4})
	require.True(t, ok)
	assert.Equal(t, SlotClientAttrWrite, slot)

	_, ok = thing.match([]byte{0, 0, 0, 0})
	assert.False(t, ok, "unset slots never match")
}

func TestThingURI(t *testing.T) {
	thing := &Thing{auth: "A1B2"}
	assert.Equal(t, "/api/v1/A1B2/telemetry", thing.uri("telemetry"))
}

func TestSlotString(t *testing.T) {
	assert.Equal(t, "TELEMETRY", SlotTelemetry.String())
	assert.Equal(t, "INCOMING_RPC_RESPONSE", SlotIncomingRPCResponse.String())
	assert.Equal(t, "UNKNOWN", slotCount.String())
	assert.True(t, SlotSharedAttrObserve.Persistent())
	assert.False(t, SlotSharedAttrRead.Persistent())
}
