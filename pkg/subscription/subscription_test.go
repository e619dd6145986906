package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testThing struct {
	shared *Renewal
	rpc    *Renewal
}

func newTestThing(shared, rpc time.Duration) *testThing {
	return &testThing{shared: NewRenewal(shared), rpc: NewRenewal(rpc)}
}

func (t *testThing) Renewal(kind Kind) *Renewal {
	if kind == KindSharedAttributes {
		return t.shared
	}
	return t.rpc
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRenewalState(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		sentAt   time.Duration // offset from epoch, negative means never sent
		jitter   time.Duration
		at       time.Duration
		want     State
	}{
		{"disabled", 0, -1, 0, 0, StateDisabled},
		{"never sent", 15 * time.Second, -1, 0, 0, StateDue},
		{"countdown", 15 * time.Second, 0, 0, 14 * time.Second, StateCountdown},
		{"elapsed", 15 * time.Second, 0, 0, 15 * time.Second, StateDue},
		{"jitter postpones", 15 * time.Second, 0, 3 * time.Second, 17 * time.Second, StateCountdown},
		{"jitter elapsed", 15 * time.Second, 0, 3 * time.Second, 18 * time.Second, StateDue},
		{"inside jitter window", 15 * time.Second, 0, 3 * time.Second, time.Second, StateCountdown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRenewal(tt.interval)
			if tt.sentAt >= 0 {
				r.Renewed(epoch.Add(tt.sentAt), tt.jitter)
			}
			assert.Equal(t, tt.want, r.State(epoch.Add(tt.at)))
		})
	}
}

func TestRenewalNilIsDisabled(t *testing.T) {
	var r *Renewal
	assert.False(t, r.Enabled())
	assert.Equal(t, StateDisabled, r.State(epoch))
	r.Reset()
}

func TestRenewalResetAndNextDue(t *testing.T) {
	r := NewRenewal(10 * time.Second)
	assert.True(t, r.NextDue().IsZero())

	r.Renewed(epoch, time.Second)
	assert.Equal(t, epoch.Add(time.Second), r.Last())
	assert.Equal(t, epoch.Add(11*time.Second), r.NextDue())
	assert.False(t, r.Due(epoch.Add(5*time.Second)))

	r.Reset()
	assert.True(t, r.Due(epoch.Add(5*time.Second)))
}

func TestSchedulerSharedBeforeRPC(t *testing.T) {
	thing := newTestThing(15*time.Second, 15*time.Second)
	s := NewScheduler([]*testThing{thing})

	due, ok := s.Next(epoch)
	require.True(t, ok)
	assert.Equal(t, KindSharedAttributes, due.Kind)
	s.Renew(s.Target(due).Renewal(due.Kind), epoch)

	due, ok = s.Next(epoch)
	require.True(t, ok)
	assert.Equal(t, KindIncomingRPC, due.Kind)
	s.Renew(s.Target(due).Renewal(due.Kind), epoch)

	_, ok = s.Next(epoch.Add(time.Second))
	assert.False(t, ok)
}

func TestSchedulerRoundRobin(t *testing.T) {
	a := newTestThing(15*time.Second, 0)
	b := newTestThing(15*time.Second, 0)
	s := NewScheduler([]*testThing{a, b})

	due, ok := s.Next(epoch)
	require.True(t, ok)
	assert.Equal(t, 0, due.Index)
	s.Renew(a.shared, epoch)

	// a has nothing due: cursor advances without sending.
	_, ok = s.Next(epoch)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Cursor())

	due, ok = s.Next(epoch)
	require.True(t, ok)
	assert.Equal(t, 1, due.Index)
	assert.Same(t, b, s.Target(due))
	s.Renew(b.shared, epoch)

	_, ok = s.Next(epoch)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Cursor())
}

func TestSchedulerDisabledSubscriptionsNeverDue(t *testing.T) {
	s := NewScheduler([]*testThing{newTestThing(0, 0)})
	for i := 0; i < 3; i++ {
		_, ok := s.Next(epoch.Add(time.Duration(i) * time.Hour))
		assert.False(t, ok)
	}
}

func TestSchedulerEmpty(t *testing.T) {
	s := NewScheduler[*testThing](nil)
	_, ok := s.Next(epoch)
	assert.False(t, ok)
}

func TestSchedulerJitter(t *testing.T) {
	thing := newTestThing(15*time.Second, 0)
	s := NewSchedulerWithConfig([]*testThing{thing}, Config{
		Jitter: func() time.Duration { return 2 * time.Second },
	})

	s.Renew(thing.shared, epoch)
	assert.Equal(t, epoch.Add(2*time.Second), thing.shared.Last())
	assert.False(t, thing.shared.Due(epoch.Add(16*time.Second)))
	assert.True(t, thing.shared.Due(epoch.Add(17*time.Second)))
}

func TestSchedulerResetAll(t *testing.T) {
	a := newTestThing(15*time.Second, 15*time.Second)
	b := newTestThing(15*time.Second, 0)
	s := NewScheduler([]*testThing{a, b})
	for _, r := range []*Renewal{a.shared, a.rpc, b.shared} {
		s.Renew(r, epoch)
	}
	s.Next(epoch)
	require.Equal(t, 1, s.Cursor())

	s.ResetAll()
	assert.Equal(t, 0, s.Cursor())
	assert.True(t, a.shared.Due(epoch))
	assert.True(t, a.rpc.Due(epoch))
	assert.True(t, b.shared.Due(epoch))
	assert.False(t, b.rpc.Due(epoch))
}

func TestKindAndStateStrings(t *testing.T) {
	assert.Equal(t, "SHARED_ATTRIBUTES", KindSharedAttributes.String())
	assert.Equal(t, "INCOMING_RPC", KindIncomingRPC.String())
	assert.Equal(t, "UNKNOWN", Kind(9).String())
	assert.Equal(t, "DUE", StateDue.String())
	assert.Equal(t, "COUNTDOWN", StateCountdown.String())
	assert.Equal(t, "DISABLED", StateDisabled.String())
}
