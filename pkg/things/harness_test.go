package things

import (
	"context"
	"testing"
	"time"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/connection"
	"github.com/connexthings/nbiot-go/pkg/log"
	"github.com/connexthings/nbiot-go/pkg/modem"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	platformAddr        = "52.220.84.189"
	platformPort uint16 = 5683
)

// fakePlatform is the modem socket as seen by the CoAP endpoint. Sent
// datagrams are decoded so tests can inspect them.
type fakePlatform struct {
	t          *testing.T
	inbox      []*modem.Datagram
	sent       []*coap.Message
	sockets    []int
	answerPing bool
}

func (p *fakePlatform) SendTo(socket int, addr string, port uint16, data []byte) (int, error) {
	msg, err := coap.Decode(data)
	require.NoError(p.t, err)
	p.sent = append(p.sent, msg)
	p.sockets = append(p.sockets, socket)

	if p.answerPing && msg.Type == message.Confirmable && msg.IsEmpty() {
		p.deliver(&coap.Message{Type: message.Reset, Code: codes.Empty, MessageID: msg.MessageID})
	}
	return len(data), nil
}

func (p *fakePlatform) Receive(socket int, capacity int) (*modem.Datagram, error) {
	if len(p.inbox) == 0 {
		return nil, nil
	}
	dg := p.inbox[0]
	p.inbox = p.inbox[1:]
	return dg, nil
}

func (p *fakePlatform) deliver(msg *coap.Message) {
	data, err := coap.Encode(msg)
	require.NoError(p.t, err)
	p.inbox = append(p.inbox, &modem.Datagram{
		RemoteAddr: modem.NewIPv4Addr(platformAddr),
		RemotePort: platformPort,
		Data:       data,
	})
}

// requests returns sent messages that are not empty ACKs or pings.
func (p *fakePlatform) requests() []*coap.Message {
	var out []*coap.Message
	for _, m := range p.sent {
		if !m.IsEmpty() {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePlatform) lastRequest() *coap.Message {
	reqs := p.requests()
	require.NotEmpty(p.t, reqs)
	return reqs[len(reqs)-1]
}

func (p *fakePlatform) reset() {
	p.sent = nil
	p.sockets = nil
}

type mockNetwork struct{ mock.Mock }

func (n *mockNetwork) Init(ctx context.Context) (int, error) {
	ret := n.Called(ctx)
	return ret.Int(0), ret.Error(1)
}

// stepClock advances by step on every reading so that busy waits end.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// countingReader yields 1, 2, 3, ... so generated tokens are predictable.
type countingReader struct{ n byte }

func (r *countingReader) Read(p []byte) (int, error) {
	for i := range p {
		r.n++
		p[i] = r.n
	}
	return len(p), nil
}

type captureLogger struct{ events []log.Event }

func (c *captureLogger) Log(event log.Event) { c.events = append(c.events, event) }

type harness struct {
	engine   *Engine
	endpoint *coap.Endpoint
	platform *fakePlatform
	network  *mockNetwork
	clock    *stepClock
	capture  *captureLogger
	events   []Event
}

func defaultThing() ThingConfig {
	return ThingConfig{
		ID:                 "8d252e29-efce-40c6-809e-5d3b6666c1b6",
		Name:               "Demo Thing",
		AuthToken:          "T1",
		SharedAttrRenewal:  15 * time.Second,
		IncomingRPCRenewal: 15 * time.Second,
	}
}

// newHarness builds an engine over a real CoAP endpoint and starts it on
// socket 1. Renewal jitter is a fixed second.
func newHarness(t *testing.T, configs ...ThingConfig) *harness {
	t.Helper()
	if len(configs) == 0 {
		configs = []ThingConfig{defaultThing()}
	}

	h := &harness{
		platform: &fakePlatform{t: t},
		network:  &mockNetwork{},
		clock:    &stepClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), step: time.Millisecond},
		capture:  &captureLogger{},
	}
	tokens := coap.NewTokenSource(&countingReader{})

	reg, err := NewRegistry(tokens, configs...)
	require.NoError(t, err)

	h.endpoint = coap.NewEndpoint(h.platform, -1, coap.Config{
		RemoteAddr: platformAddr,
		RemotePort: platformPort,
		MessageIDs: coap.NewMessageIDs(1000),
		Now:        h.clock.Now,
	})

	sessions := 0
	h.engine = NewEngine(reg, h.endpoint, h.network, Config{
		Watchdog: connection.Config{
			Intervals:      []time.Duration{5 * time.Minute, time.Minute, time.Minute},
			InitRetryDelay: time.Millisecond,
		},
		Jitter:  func() time.Duration { return time.Second },
		Tokens:  tokens,
		Capture: h.capture,
		Now:     h.clock.Now,
		NewSessionID: func() string {
			sessions++
			return "session-" + string(rune('0'+sessions))
		},
	})
	h.engine.OnEvent(func(ev Event) { h.events = append(h.events, ev) })

	h.network.On("Init", mock.Anything).Return(1, nil).Once()
	require.NoError(t, h.engine.Start(context.Background()))
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Tick(context.Background()))
}

// disableRenewals stops observe maintenance so tests only see their own
// requests.
func (h *harness) disableRenewals() {
	for _, thing := range h.engine.Registry().Things() {
		thing.sharedAttr.Interval = 0
		thing.incomingRPC.Interval = 0
	}
}

func notification(token []byte, mid uint16, payload string) *coap.Message {
	obs := uint32(7)
	return &coap.Message{
		Type:      message.Confirmable,
		Code:      codes.Content,
		MessageID: mid,
		Token:     token,
		Observe:   &obs,
		Payload:   []byte(payload),
	}
}

func tokenBytes(tok coap.Token) []byte {
	return tok[:]
}
