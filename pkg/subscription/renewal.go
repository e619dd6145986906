package subscription

import "time"

// Kind identifies an observe registration of a thing.
type Kind uint8

const (
	// KindSharedAttributes observes shared attribute changes.
	KindSharedAttributes Kind = iota

	// KindIncomingRPC observes RPC requests sent to the thing.
	KindIncomingRPC
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindSharedAttributes:
		return "SHARED_ATTRIBUTES"
	case KindIncomingRPC:
		return "INCOMING_RPC"
	default:
		return "UNKNOWN"
	}
}

// State is the renewal state of an observe registration.
type State uint8

const (
	// StateDisabled means the renewal interval is 0.
	StateDisabled State = iota

	// StateDue means the registration must be (re)sent.
	StateDue

	// StateCountdown means the registration was sent and the interval has not elapsed.
	StateCountdown
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateDue:
		return "DUE"
	case StateCountdown:
		return "COUNTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Renewal tracks when an observe registration has to be re-sent.
// The zero value is a disabled renewal.
type Renewal struct {
	// Interval between renewals. 0 disables the registration.
	Interval time.Duration

	// last is the reference time of the last send, including jitter.
	// The zero time means the registration was never sent.
	last time.Time
}

// NewRenewal creates a renewal that is due immediately.
func NewRenewal(interval time.Duration) *Renewal {
	return &Renewal{Interval: interval}
}

// Enabled reports whether the registration is renewed at all.
func (r *Renewal) Enabled() bool {
	return r != nil && r.Interval > 0
}

// State returns the renewal state at now.
func (r *Renewal) State(now time.Time) State {
	switch {
	case !r.Enabled():
		return StateDisabled
	case r.last.IsZero():
		return StateDue
	case now.Sub(r.last) >= r.Interval:
		return StateDue
	default:
		return StateCountdown
	}
}

// Due reports whether the registration must be sent at now.
func (r *Renewal) Due(now time.Time) bool {
	return r.State(now) == StateDue
}

// Renewed records a send at now. The next renewal is postponed by jitter.
func (r *Renewal) Renewed(now time.Time, jitter time.Duration) {
	r.last = now.Add(jitter)
}

// Last returns the reference time of the last send, or the zero time.
func (r *Renewal) Last() time.Time {
	return r.last
}

// NextDue returns the time the registration becomes due again.
// It returns the zero time for a disabled or never sent registration.
func (r *Renewal) NextDue() time.Time {
	if !r.Enabled() || r.last.IsZero() {
		return time.Time{}
	}
	return r.last.Add(r.Interval)
}

// Reset makes the registration due immediately, e.g. after the network was
// re-initialised and the platform lost the observe relation.
func (r *Renewal) Reset() {
	if r == nil {
		return
	}
	r.last = time.Time{}
}
