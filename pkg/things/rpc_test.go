package things

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliverRPC(h *harness, mid uint16, body string) {
	thing := h.engine.Registry().Things()[0]
	h.platform.deliver(notification(tokenBytes(thing.Token(SlotIncomingRPCObserve)), mid, body))
}

func decodeReply(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var reply map[string]any
	require.NoError(t, json.Unmarshal(payload, &reply))
	return reply
}

func TestIncomingRPCPing(t *testing.T) {
	h := newHarness(t)
	h.disableRenewals()
	called := false
	h.engine.OnCommand(func(*Thing, RPCRequest, *CommandResponse) { called = true })

	deliverRPC(h, 10, `{"id":5,"method":"ping"}`)
	h.tick(t)

	assert.False(t, called, "ping never reaches the application")
	req := h.platform.lastRequest()
	assert.Equal(t, "/api/v1/T1/rpc/5", req.Path)
	assert.JSONEq(t, `{"method":"ping","response":{"status":200,"body":"pong"}}`, string(req.Payload))
}

func TestIncomingRPCHandled(t *testing.T) {
	h := newHarness(t)
	h.disableRenewals()

	var got RPCRequest
	h.engine.OnCommand(func(thing *Thing, req RPCRequest, rsp *CommandResponse) {
		got = req
		require.NoError(t, rsp.Status(202).Send(map[string]bool{"on": true}))
		assert.ErrorIs(t, rsp.Send("again"), ErrResponseAlreadySent)
	})

	deliverRPC(h, 11, `{"id":12,"method":"setLed","params":{"on":true}}`)
	h.tick(t)

	assert.Equal(t, 12, got.ID)
	assert.Equal(t, "setLed", got.Method)
	assert.Equal(t, map[string]any{"on": true}, got.Params)

	reqs := h.platform.requests()
	require.Len(t, reqs, 1, "second Send is a no-op")
	assert.Equal(t, "/api/v1/T1/rpc/12", reqs[0].Path)
	reply := decodeReply(t, reqs[0].Payload)
	assert.Equal(t, "setLed", reply["method"])
	assert.Equal(t, map[string]any{"status": float64(202), "body": map[string]any{"on": true}}, reply["response"])
}

func TestIncomingRPCUnsupported(t *testing.T) {
	h := newHarness(t)
	h.disableRenewals()
	h.engine.OnCommand(func(*Thing, RPCRequest, *CommandResponse) {})

	deliverRPC(h, 12, `{"id":3,"method":"selfDestruct"}`)
	h.tick(t)

	req := h.platform.lastRequest()
	assert.Equal(t, "/api/v1/T1/rpc/3", req.Path)
	assert.JSONEq(t, `{"method":"selfDestruct","response":{"status":400,"body":"unsupported command"}}`, string(req.Payload))
}

func TestIncomingRPCWithoutHandler(t *testing.T) {
	h := newHarness(t)
	h.disableRenewals()

	deliverRPC(h, 13, `{"id":4,"method":"reboot"}`)
	h.tick(t)

	reply := decodeReply(t, h.platform.lastRequest().Payload)
	assert.Equal(t, float64(400), reply["response"].(map[string]any)["status"])
}

func TestIncomingRPCInvalid(t *testing.T) {
	for _, body := range []string{`{"id":1}`, `{"id":1,"method":""}`, `{"id":"x","method":"ping"}`, `{"id":-1,"method":"ping"}`} {
		t.Run(body, func(t *testing.T) {
			h := newHarness(t)
			h.disableRenewals()

			deliverRPC(h, 14, body)
			h.tick(t)

			require.Len(t, h.events, 1, "the request is still reported")
			assert.Empty(t, h.platform.requests(), "but not answered")
		})
	}
}

func TestRPCID(t *testing.T) {
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{json.Number("42"), 42, true},
		{json.Number("4.2"), 0, false},
		{float64(7), 7, true},
		{float64(7.5), 7, false},
		{nil, 0, true},
		{"7", 0, false},
	}
	for _, tt := range tests {
		got, ok := rpcID(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}
