package things

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/connection"
	"github.com/connexthings/nbiot-go/pkg/log"
	"github.com/connexthings/nbiot-go/pkg/metrics"
	"github.com/connexthings/nbiot-go/pkg/subscription"
	"github.com/google/uuid"
)

// DefaultMaxPayloadSize bounds JSON bodies in both directions.
const DefaultMaxPayloadSize = 350

// Transport carries CoAP messages to and from the platform.
// *coap.Endpoint implements it.
type Transport interface {
	Send(msg *coap.Message) error
	Poll() ([]*coap.Message, error)
	Ping(timeout time.Duration) error
	NextMessageID() uint16
	SetSocket(socket int)
}

// Network brings the modem up and returns the default socket.
// *network.Initializer implements it.
type Network interface {
	Init(ctx context.Context) (int, error)
}

// Capturer is a component that stamps protocol capture with a session ID.
type Capturer interface {
	SetLogger(logger log.Logger, sessionID string)
}

// Config holds engine configuration.
type Config struct {
	// MaxPayloadSize bounds JSON bodies. Defaults to DefaultMaxPayloadSize.
	MaxPayloadSize int

	// Watchdog configures the connectivity watchdog. Jitter, Now, Logger and
	// Metrics are taken from this Config when unset.
	Watchdog connection.Config

	// Jitter returns the delay added after observe renewals and
	// connectivity checks. Defaults to 0.5-5 s.
	Jitter func() time.Duration

	// Tokens generates request tokens. Defaults to crypto/rand.
	Tokens *coap.TokenSource

	// Logger for debug output. If nil, logging is disabled.
	Logger *slog.Logger

	// Capture receives protocol events. Capturers get the same logger
	// with the current session ID whenever a new session starts; the
	// transport is included automatically when it is a Capturer.
	Capture   log.Logger
	Capturers []Capturer

	Metrics *metrics.Metrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewSessionID generates session IDs. Defaults to uuid.NewString.
	NewSessionID func() string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxPayloadSize: DefaultMaxPayloadSize,
		Watchdog:       connection.DefaultConfig(),
	}
}

// Engine correlates platform traffic for a fixed set of things.
//
// An Engine is driven from a single goroutine: Start once, then Tick
// repeatedly. All operations must be called from that goroutine.
type Engine struct {
	registry  *Registry
	transport Transport
	network   Network
	config    Config

	tokens    *coap.TokenSource
	scheduler *subscription.Scheduler[*Thing]
	watchdog  *connection.Watchdog

	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	capturers []Capturer
	rec       *log.Recorder
	session   string

	onEvent   []EventHandler
	onCommand CommandHandler

	stats counters
}

type counters struct {
	requests  uint64
	events    uint64
	dropped   uint64
	sendFails uint64
}

// NewEngine creates an engine. Call Start before the first Tick.
func NewEngine(registry *Registry, transport Transport, network Network, config Config) *Engine {
	if config.MaxPayloadSize <= 0 {
		config.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewSessionID == nil {
		config.NewSessionID = uuid.NewString
	}
	if config.Jitter == nil {
		config.Jitter = connection.NewJitter().Next
	}
	if config.Tokens == nil {
		config.Tokens = coap.NewTokenSource(nil)
	}

	wd := config.Watchdog
	if wd.Jitter == nil {
		wd.Jitter = config.Jitter
	}
	if wd.Now == nil {
		wd.Now = config.Now
	}
	if wd.Logger == nil {
		wd.Logger = config.Logger
	}
	if wd.Metrics == nil {
		wd.Metrics = config.Metrics
	}

	e := &Engine{
		registry:  registry,
		transport: transport,
		network:   network,
		config:    config,
		tokens:    config.Tokens,
		now:       config.Now,
		logger:    config.Logger,
		metrics:   config.Metrics,
	}
	if c, ok := transport.(Capturer); ok {
		e.capturers = append(e.capturers, c)
	}
	e.capturers = append(e.capturers, config.Capturers...)

	e.scheduler = subscription.NewSchedulerWithConfig(registry.Things(), subscription.Config{
		Jitter: config.Jitter,
		Logger: config.Logger,
	})
	e.watchdog = connection.NewWatchdogWithConfig(transport, e.initNetwork, wd)
	e.watchdog.OnStateChange(e.watchdogStateChanged)

	return e
}

// OnEvent registers an event handler.
func (e *Engine) OnEvent(handler EventHandler) {
	e.onEvent = append(e.onEvent, handler)
}

// OnCommand sets the incoming RPC handler.
func (e *Engine) OnCommand(handler CommandHandler) {
	e.onCommand = handler
}

// Registry returns the registered things.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// ThingByID returns the thing with the given ID, or nil.
func (e *Engine) ThingByID(id string) *Thing {
	return e.registry.ByID(id)
}

// ThingByName returns the thing with the given name, or nil.
func (e *Engine) ThingByName(name string) *Thing {
	return e.registry.ByName(name)
}

// SessionID returns the ID of the current network session.
func (e *Engine) SessionID() string {
	return e.session
}

// Watchdog returns the connectivity watchdog.
func (e *Engine) Watchdog() *connection.Watchdog {
	return e.watchdog
}

// Start initialises the network, retrying a bounded number of times.
// It returns connection.ErrNetworkUnrecoverable when every attempt failed.
func (e *Engine) Start(ctx context.Context) error {
	return e.watchdog.Initialize(ctx)
}

// Tick drains at most one inbound datagram, renews at most one observe
// registration and runs the connectivity watchdog. The only error
// returned is connection.ErrNetworkUnrecoverable (or a context error);
// the host is expected to restart the device.
func (e *Engine) Tick(ctx context.Context) error {
	start := e.now()
	defer func() { e.metrics.ObserveTick(e.now().Sub(start)) }()

	msgs, err := e.transport.Poll()
	if err != nil {
		e.debugLog("things: poll failed", "error", err)
		e.rec.RecordError(log.LayerThings, "poll", err)
	}
	for _, msg := range msgs {
		e.dispatch(msg)
	}

	e.maintainSubscriptions()

	return e.watchdog.Tick(ctx)
}

// maintainSubscriptions renews the observe registration the scheduler
// picks for this tick, if any.
func (e *Engine) maintainSubscriptions() {
	due, ok := e.scheduler.Next(e.now())
	if !ok {
		return
	}

	thing := e.scheduler.Target(due)
	var err error
	switch due.Kind {
	case subscription.KindSharedAttributes:
		err = e.ObserveSharedAttributes(thing)
	case subscription.KindIncomingRPC:
		err = e.ObserveIncomingRPC(thing)
	}
	if err != nil {
		e.debugLog("things: observe renewal failed", "thing", thing.id, "kind", due.Kind, "error", err)
	}
}

// initNetwork is the watchdog's InitFunc. Each successful initialisation
// starts a new session and re-registers every observe relation.
func (e *Engine) initNetwork(ctx context.Context) error {
	socket, err := e.network.Init(ctx)
	if err != nil {
		e.rec.RecordError(log.LayerThings, "network init", err)
		return err
	}

	e.transport.SetSocket(socket)
	e.startSession()
	e.scheduler.ResetAll()

	e.rec.Record(log.Event{
		Layer:    log.LayerThings,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityNetwork,
			NewState: "READY",
			Reason:   "socket " + strconv.Itoa(socket),
		},
	})
	return nil
}

func (e *Engine) startSession() {
	e.session = e.config.NewSessionID()
	e.rec = log.NewRecorder(e.config.Capture, e.session)
	if e.rec != nil {
		e.rec.WithClock(e.now)
	}
	for _, c := range e.capturers {
		c.SetLogger(e.config.Capture, e.session)
	}
	e.debugLog("things: session started", "session", e.session)
}

func (e *Engine) watchdogStateChanged(oldState, newState connection.State) {
	e.debugLog("things: watchdog state", "old", oldState, "new", newState)
	e.rec.Record(log.Event{
		Layer:    log.LayerThings,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityWatchdog,
			OldState: oldState.String(),
			NewState: newState.String(),
		},
	})
}

func (e *Engine) debugLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
