package subscription

import (
	"log/slog"
	"time"
)

// Default renewal jitter bounds.
const (
	DefaultJitterMin = 500 * time.Millisecond
	DefaultJitterMax = 5 * time.Second
)

// Target is anything holding observe registrations, typically a thing.
type Target interface {
	Renewal(kind Kind) *Renewal
}

// Due identifies a registration that must be sent now.
type Due struct {
	// Index of the target in the scheduler's target list.
	Index int

	// Kind of the registration.
	Kind Kind
}

// Config holds scheduler configuration.
type Config struct {
	// Jitter returns the delay added to the renewal time after each send.
	// If nil, renewals are not jittered.
	Jitter func() time.Duration

	// Logger for debug output. If nil, logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a configuration without jitter or logging.
func DefaultConfig() Config {
	return Config{}
}

// Scheduler picks at most one due observe registration per tick, visiting
// targets round-robin. It is not safe for concurrent use; it is driven from
// the tick goroutine.
type Scheduler[T Target] struct {
	targets []T
	cursor  int
	jitter  func() time.Duration
	logger  *slog.Logger
}

// NewScheduler creates a scheduler over a fixed set of targets.
func NewScheduler[T Target](targets []T) *Scheduler[T] {
	return NewSchedulerWithConfig(targets, DefaultConfig())
}

// NewSchedulerWithConfig creates a scheduler with custom configuration.
func NewSchedulerWithConfig[T Target](targets []T, cfg Config) *Scheduler[T] {
	return &Scheduler[T]{
		targets: targets,
		jitter:  cfg.Jitter,
		logger:  cfg.Logger,
	}
}

// Next returns the registration of the current target that is due at now.
// Shared attributes take precedence over incoming RPC. When neither is due
// the cursor moves to the next target and false is returned.
func (s *Scheduler[T]) Next(now time.Time) (Due, bool) {
	if len(s.targets) == 0 {
		return Due{}, false
	}
	if s.cursor >= len(s.targets) {
		s.cursor = 0
	}

	t := s.targets[s.cursor]
	for _, kind := range []Kind{KindSharedAttributes, KindIncomingRPC} {
		if t.Renewal(kind).Due(now) {
			s.debugLog("subscription: renewal due", "index", s.cursor, "kind", kind)
			return Due{Index: s.cursor, Kind: kind}, true
		}
	}

	s.cursor = (s.cursor + 1) % len(s.targets)
	return Due{}, false
}

// Target returns the target for a due registration.
func (s *Scheduler[T]) Target(d Due) T {
	return s.targets[d.Index]
}

// Renew records a send of r at now, postponed by the configured jitter.
func (s *Scheduler[T]) Renew(r *Renewal, now time.Time) {
	var j time.Duration
	if s.jitter != nil {
		j = s.jitter()
	}
	r.Renewed(now, j)
}

// ResetAll makes every enabled registration due immediately.
func (s *Scheduler[T]) ResetAll() {
	for _, t := range s.targets {
		t.Renewal(KindSharedAttributes).Reset()
		t.Renewal(KindIncomingRPC).Reset()
	}
	s.cursor = 0
}

// Cursor returns the index of the target visited on the next tick.
func (s *Scheduler[T]) Cursor() int {
	return s.cursor
}

func (s *Scheduler[T]) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
