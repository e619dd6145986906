package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/connexthings/nbiot-go/pkg/metrics"
)

// Watchdog errors.
var (
	ErrNetworkUnrecoverable = errors.New("network unrecoverable")
	ErrNoIntervals          = errors.New("no connectivity check intervals")
)

// Defaults of the connectivity watchdog.
const (
	DefaultPingTimeout    = 5 * time.Second
	DefaultMaxInitRetries = 5
	DefaultInitRetryDelay = 100 * time.Millisecond
)

// DefaultIntervals returns the escalating check intervals: one long interval
// while healthy, then short ones after each consecutive failure.
func DefaultIntervals() []time.Duration {
	return []time.Duration{
		5 * time.Minute,
		1 * time.Minute,
		1 * time.Minute,
		1 * time.Minute,
	}
}

// State represents the watchdog state.
type State uint8

const (
	// StateHealthy indicates the last check succeeded.
	StateHealthy State = iota

	// StateDegraded indicates one or more consecutive checks failed.
	StateDegraded

	// StateReinitializing indicates network initialisation is in progress.
	StateReinitializing

	// StateUnrecoverable indicates initialisation failed too many times.
	StateUnrecoverable
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateReinitializing:
		return "REINITIALIZING"
	case StateUnrecoverable:
		return "UNRECOVERABLE"
	default:
		return "UNKNOWN"
	}
}

// Pinger probes the platform. coap.Endpoint implements it.
type Pinger interface {
	Ping(timeout time.Duration) error
}

// InitFunc is called to (re)initialise the network.
// It should return nil on success or an error on failure.
type InitFunc func(ctx context.Context) error

// Config holds watchdog configuration.
type Config struct {
	// Intervals is the escalation sequence. Index 0 applies while healthy.
	Intervals []time.Duration

	// PingTimeout bounds a single connectivity check.
	PingTimeout time.Duration

	// MaxInitRetries bounds network initialisation attempts.
	MaxInitRetries int

	// InitRetryDelay is the pause between initialisation attempts.
	InitRetryDelay time.Duration

	// Jitter returns the delay added after every check. If nil, none.
	Jitter func() time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Logger for debug output. If nil, logging is disabled.
	Logger *slog.Logger

	// Metrics records check and initialisation outcomes. May be nil.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default watchdog configuration.
func DefaultConfig() Config {
	return Config{
		Intervals:      DefaultIntervals(),
		PingTimeout:    DefaultPingTimeout,
		MaxInitRetries: DefaultMaxInitRetries,
		InitRetryDelay: DefaultInitRetryDelay,
		Jitter:         NewJitter().Next,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Intervals) == 0 {
		return ErrNoIntervals
	}
	for i, d := range c.Intervals {
		if d <= 0 {
			return fmt.Errorf("connectivity interval %d: must be positive, got %v", i, d)
		}
	}
	return nil
}

// Watchdog checks platform connectivity on an escalating schedule and
// re-initialises the network when checks keep failing.
//
// Tick and Initialize must be called from a single goroutine. The accessors
// are safe to call from anywhere.
type Watchdog struct {
	mu sync.RWMutex

	pinger Pinger
	initFn InitFunc
	config Config

	// Current escalation index into config.Intervals
	index int

	// Reference time of the last check, including jitter
	last time.Time

	state    State
	lastPing time.Time
	lastErr  error
	inits    int

	// Callbacks
	onStateChange func(oldState, newState State)
	onCheck       func(err error, index int)
}

// NewWatchdog creates a watchdog with the default configuration.
func NewWatchdog(p Pinger, initFn InitFunc) *Watchdog {
	return NewWatchdogWithConfig(p, initFn, DefaultConfig())
}

// NewWatchdogWithConfig creates a watchdog with custom configuration.
// Zero values fall back to the defaults.
func NewWatchdogWithConfig(p Pinger, initFn InitFunc, cfg Config) *Watchdog {
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = DefaultIntervals()
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	if cfg.MaxInitRetries <= 0 {
		cfg.MaxInitRetries = DefaultMaxInitRetries
	}
	if cfg.InitRetryDelay < 0 {
		cfg.InitRetryDelay = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}

	return &Watchdog{
		pinger: p,
		initFn: initFn,
		config: cfg,
		state:  StateHealthy,
	}
}

// Start arms the watchdog. The first check runs one healthy interval later.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.index = 0
	w.last = w.config.Now()
}

// Tick runs a connectivity check if the current interval has elapsed.
// It returns ErrNetworkUnrecoverable when a triggered re-initialisation
// exhausted its retries; all other failures are handled internally.
func (w *Watchdog) Tick(ctx context.Context) error {
	w.mu.RLock()
	interval := w.config.Intervals[w.index]
	elapsed := w.config.Now().Sub(w.last)
	w.mu.RUnlock()

	if elapsed < interval {
		return nil
	}
	return w.Check(ctx)
}

// Check pings the platform immediately and applies the escalation rules.
func (w *Watchdog) Check(ctx context.Context) error {
	w.debugLog("watchdog: checking connectivity", "index", w.Index())

	pingErr := w.pinger.Ping(w.config.PingTimeout)

	w.mu.Lock()
	w.lastPing = w.config.Now()
	w.lastErr = pingErr
	if pingErr == nil {
		w.index = 0
	} else {
		w.index++
	}
	index := w.index
	reinit := index >= len(w.config.Intervals)
	if reinit {
		w.index = 0
	}
	onCheck := w.onCheck
	w.mu.Unlock()

	w.config.Metrics.WatchdogPing(pingErr == nil, index)
	if onCheck != nil {
		onCheck(pingErr, index)
	}

	var err error
	switch {
	case pingErr == nil:
		w.debugLog("watchdog: connectivity ok")
		w.setState(StateHealthy)
	case reinit:
		w.debugLog("watchdog: connectivity lost, re-initialising network", "failures", index, "error", pingErr)
		err = w.Initialize(ctx)
	default:
		w.debugLog("watchdog: connectivity lost", "failures", index, "max", len(w.config.Intervals), "error", pingErr)
		w.setState(StateDegraded)
	}

	w.mu.Lock()
	w.last = w.config.Now().Add(w.jitter())
	w.mu.Unlock()

	return err
}

// Initialize runs the bounded network initialisation loop. On success the
// escalation index is reset and the watchdog is re-armed.
func (w *Watchdog) Initialize(ctx context.Context) error {
	w.setState(StateReinitializing)

	var lastErr error
	for attempt := 1; attempt <= w.config.MaxInitRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.mu.Lock()
		w.inits++
		w.mu.Unlock()

		lastErr = w.initFn(ctx)
		w.config.Metrics.NetworkInit(lastErr == nil)
		if lastErr == nil {
			w.debugLog("watchdog: network initialised", "attempt", attempt)
			w.Start()
			w.setState(StateHealthy)
			return nil
		}

		w.debugLog("watchdog: network init failed",
			"attempt", attempt,
			"max", w.config.MaxInitRetries,
			"error", lastErr)

		if attempt < w.config.MaxInitRetries {
			if err := w.config.Sleep(ctx, w.config.InitRetryDelay); err != nil {
				return err
			}
		}
	}

	w.setState(StateUnrecoverable)
	return fmt.Errorf("%w: %d attempts: %w", ErrNetworkUnrecoverable, w.config.MaxInitRetries, lastErr)
}

// State returns the current watchdog state.
func (w *Watchdog) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Index returns the current escalation index.
func (w *Watchdog) Index() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.index
}

// NextCheck returns when the next check is due.
func (w *Watchdog) NextCheck() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last.Add(w.config.Intervals[w.index])
}

// LastPing returns the time and result of the last check.
// The time is zero if no check ran yet.
func (w *Watchdog) LastPing() (time.Time, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastPing, w.lastErr
}

// InitAttempts returns the number of network initialisation attempts.
func (w *Watchdog) InitAttempts() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.inits
}

// OnStateChange sets a callback for state changes.
func (w *Watchdog) OnStateChange(fn func(oldState, newState State)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onStateChange = fn
}

// OnCheck sets a callback invoked after every connectivity check with the
// ping result and the resulting escalation index.
func (w *Watchdog) OnCheck(fn func(err error, index int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onCheck = fn
}

func (w *Watchdog) setState(s State) {
	w.mu.Lock()
	old := w.state
	w.state = s
	fn := w.onStateChange
	w.mu.Unlock()

	if fn != nil && old != s {
		fn(old, s)
	}
}

func (w *Watchdog) jitter() time.Duration {
	if w.config.Jitter == nil {
		return 0
	}
	return w.config.Jitter()
}

func (w *Watchdog) debugLog(msg string, args ...any) {
	if w.config.Logger != nil {
		w.config.Logger.Debug(msg, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
