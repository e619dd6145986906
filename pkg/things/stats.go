package things

import (
	"time"

	"github.com/connexthings/nbiot-go/pkg/connection"
	"github.com/connexthings/nbiot-go/pkg/subscription"
)

// Stats is a snapshot of engine state for diagnostics.
type Stats struct {
	SessionID string

	WatchdogState connection.State
	WatchdogIndex int
	NextCheck     time.Time
	LastPing      time.Time
	LastPingError error
	InitAttempts  int

	Requests     uint64
	SendFailures uint64
	Events       uint64
	Dropped      uint64

	Things []ThingStats
}

// ThingStats describes the observe registrations of one thing.
type ThingStats struct {
	ID   string
	Name string

	SharedAttr  RenewalStats
	IncomingRPC RenewalStats
}

// RenewalStats describes one observe registration.
type RenewalStats struct {
	Interval time.Duration
	State    subscription.State
	Last     time.Time
	NextDue  time.Time
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	now := e.now()
	lastPing, pingErr := e.watchdog.LastPing()

	s := Stats{
		SessionID:     e.session,
		WatchdogState: e.watchdog.State(),
		WatchdogIndex: e.watchdog.Index(),
		NextCheck:     e.watchdog.NextCheck(),
		LastPing:      lastPing,
		LastPingError: pingErr,
		InitAttempts:  e.watchdog.InitAttempts(),
		Requests:      e.stats.requests,
		SendFailures:  e.stats.sendFails,
		Events:        e.stats.events,
		Dropped:       e.stats.dropped,
	}
	for _, t := range e.registry.things {
		s.Things = append(s.Things, ThingStats{
			ID:          t.id,
			Name:        t.name,
			SharedAttr:  renewalStats(t.sharedAttr, now),
			IncomingRPC: renewalStats(t.incomingRPC, now),
		})
	}
	return s
}

func renewalStats(r *subscription.Renewal, now time.Time) RenewalStats {
	return RenewalStats{
		Interval: r.Interval,
		State:    r.State(now),
		Last:     r.Last(),
		NextDue:  r.NextDue(),
	}
}
