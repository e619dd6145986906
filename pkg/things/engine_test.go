package things

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/connection"
	"github.com/connexthings/nbiot-go/pkg/log"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStartOpensSession(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 1, h.endpoint.Socket())
	assert.Equal(t, "session-1", h.engine.SessionID())
	assert.Equal(t, connection.StateHealthy, h.engine.Watchdog().State())
	h.network.AssertExpectations(t)

	var ready bool
	for _, ev := range h.capture.events {
		if ev.StateChange != nil && ev.StateChange.Entity == log.StateEntityNetwork {
			ready = true
			assert.Equal(t, "session-1", ev.SessionID)
			assert.Equal(t, "READY", ev.StateChange.NewState)
		}
	}
	assert.True(t, ready, "network READY state change captured")
}

func TestStartUnrecoverable(t *testing.T) {
	platform := &fakePlatform{t: t}
	network := &mockNetwork{}
	network.On("Init", mock.Anything).Return(-1, errors.New("modem unresponsive")).Times(3)

	reg, err := NewRegistry(nil, defaultThing())
	require.NoError(t, err)
	ep := coap.NewEndpoint(platform, -1, coap.Config{RemoteAddr: platformAddr, RemotePort: platformPort})
	e := NewEngine(reg, ep, network, Config{
		Watchdog: connection.Config{MaxInitRetries: 3, InitRetryDelay: time.Millisecond},
	})

	err = e.Start(context.Background())
	assert.ErrorIs(t, err, connection.ErrNetworkUnrecoverable)
	network.AssertExpectations(t)
}

func TestSharedAttributesObserveEndToEnd(t *testing.T) {
	cfg := defaultThing()
	cfg.IncomingRPCRenewal = 0
	cfg.SharedAttrToken = coap.Token{0xAA, 0xBB, 0xCC, 0xDD}
	h := newHarness(t, cfg)

	// First tick registers the observe relation.
	h.tick(t)
	req := h.platform.lastRequest()
	assert.Equal(t, message.Confirmable, req.Type)
	assert.Equal(t, codes.GET, req.Code)
	assert.Equal(t, "/api/v1/T1/attributes", req.Path)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, req.Token)
	require.NotNil(t, req.Observe)
	assert.Equal(t, uint32(0), *req.Observe)
	assert.Equal(t, 1, h.platform.sockets[0])

	h.platform.reset()
	h.platform.deliver(notification([]byte{0xAA, 0xBB, 0xCC, 0xDD}, 42, `{"targetTemp":21}`))
	h.tick(t)

	require.Len(t, h.events, 1)
	ev := h.events[0]
	assert.Equal(t, EventSharedAttrChanged, ev.Kind)
	assert.Same(t, h.engine.ThingByID(cfg.ID), ev.Thing)
	assert.Equal(t, json.Number("21"), ev.Body["targetTemp"])

	// The confirmable notification was acknowledged.
	require.NotEmpty(t, h.platform.sent)
	ack := h.platform.sent[0]
	assert.Equal(t, message.Acknowledgement, ack.Type)
	assert.Equal(t, uint16(42), ack.MessageID)

	// Unknown token: acknowledged, but no event.
	h.platform.deliver(notification([]byte{0x11, 0x22, 0x33, 0x44}, 43, `{"targetTemp":22}`))
	h.tick(t)
	assert.Len(t, h.events, 1)
}

func TestSubscriptionMaintenance(t *testing.T) {
	h := newHarness(t)
	thing := h.engine.Registry().Things()[0]

	h.tick(t)
	h.tick(t)
	h.tick(t)

	reqs := h.platform.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/api/v1/T1/attributes", reqs[0].Path)
	assert.Equal(t, "/api/v1/T1/rpc", reqs[1].Path)
	assert.Equal(t, tokenBytes(thing.Token(SlotSharedAttrObserve)), reqs[0].Token)
	assert.Equal(t, tokenBytes(thing.Token(SlotIncomingRPCObserve)), reqs[1].Token)

	// Interval plus one second of jitter.
	h.platform.reset()
	h.clock.Advance(15 * time.Second)
	h.tick(t)
	assert.Empty(t, h.platform.requests())

	h.clock.Advance(time.Second)
	h.tick(t)
	h.tick(t)
	reqs = h.platform.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, tokenBytes(thing.Token(SlotSharedAttrObserve)), reqs[0].Token, "observe token is persistent")
	assert.Equal(t, tokenBytes(thing.Token(SlotIncomingRPCObserve)), reqs[1].Token)
}

func TestSubscriptionRoundRobinAcrossThings(t *testing.T) {
	a := defaultThing()
	a.IncomingRPCRenewal = 0
	b := defaultThing()
	b.ID, b.Name, b.AuthToken = "b", "Second", "T2"
	b.IncomingRPCRenewal = 0
	h := newHarness(t, a, b)

	for i := 0; i < 3; i++ {
		h.tick(t)
	}

	reqs := h.platform.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/api/v1/T1/attributes", reqs[0].Path)
	assert.Equal(t, "/api/v1/T2/attributes", reqs[1].Path)
}

func TestWatchdogReinitialisesNetwork(t *testing.T) {
	h := newHarness(t)
	h.disableRenewals()
	ctx := context.Background()

	// Three consecutive ping failures exhaust the interval sequence.
	h.clock.Advance(5 * time.Minute)
	require.NoError(t, h.engine.Tick(ctx))
	assert.Equal(t, 1, h.engine.Watchdog().Index())

	h.clock.Advance(time.Minute + time.Second)
	require.NoError(t, h.engine.Tick(ctx))
	assert.Equal(t, 2, h.engine.Watchdog().Index())

	h.network.On("Init", mock.Anything).Return(4, nil).Once()
	h.clock.Advance(time.Minute + time.Second)
	require.NoError(t, h.engine.Tick(ctx))

	h.network.AssertNumberOfCalls(t, "Init", 2)
	assert.Equal(t, 0, h.engine.Watchdog().Index())
	assert.Equal(t, 4, h.endpoint.Socket())
	assert.Equal(t, "session-2", h.engine.SessionID())

	// A healthy ping keeps the index at 0.
	h.platform.answerPing = true
	h.clock.Advance(5*time.Minute + time.Second)
	require.NoError(t, h.engine.Tick(ctx))

	st := h.engine.Stats()
	assert.Equal(t, 0, st.WatchdogIndex)
	assert.NoError(t, st.LastPingError)
	assert.Equal(t, connection.StateHealthy, st.WatchdogState)
}

func TestWatchdogSuccessResetsIndex(t *testing.T) {
	h := newHarness(t)
	h.disableRenewals()
	ctx := context.Background()

	h.clock.Advance(5 * time.Minute)
	require.NoError(t, h.engine.Tick(ctx))
	require.Equal(t, 1, h.engine.Watchdog().Index())

	h.platform.answerPing = true
	h.clock.Advance(time.Minute + time.Second)
	require.NoError(t, h.engine.Tick(ctx))
	assert.Equal(t, 0, h.engine.Watchdog().Index())
	h.network.AssertNumberOfCalls(t, "Init", 1)
}

func TestWatchdogUnrecoverablePropagates(t *testing.T) {
	h := newHarness(t)
	h.disableRenewals()
	ctx := context.Background()

	h.network.On("Init", mock.Anything).Return(-1, errors.New("not registered"))
	for i, d := range []time.Duration{5 * time.Minute, time.Minute + time.Second} {
		h.clock.Advance(d)
		require.NoError(t, h.engine.Tick(ctx), "tick %d", i)
	}
	h.clock.Advance(time.Minute + time.Second)
	err := h.engine.Tick(ctx)

	assert.ErrorIs(t, err, connection.ErrNetworkUnrecoverable)
	assert.Equal(t, connection.StateUnrecoverable, h.engine.Watchdog().State())
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.tick(t)

	st := h.engine.Stats()
	assert.Equal(t, "session-1", st.SessionID)
	assert.Equal(t, uint64(1), st.Requests)
	require.Len(t, st.Things, 1)
	assert.Equal(t, "Demo Thing", st.Things[0].Name)
	assert.Equal(t, 15*time.Second, st.Things[0].SharedAttr.Interval)
	assert.False(t, st.Things[0].SharedAttr.Last.IsZero())
	assert.True(t, st.Things[0].IncomingRPC.Last.IsZero())
}
