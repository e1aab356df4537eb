// Package clock abstracts wall-clock reads so that time-dependent rules
// (cooldowns, expiry, sweeps) can be tested deterministically.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock returns the current time. Production code injects Real(); tests
// inject a *Fake.
type Clock interface {
	Now() time.Time
}

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// Fake is a manually driven Clock. Create one with NewFake.
type Fake struct {
	*clockwork.FakeClock
}

// NewFake returns a Fake frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{FakeClock: clockwork.NewFakeClockAt(start)}
}

// Set moves the fake to t. Moving backwards is allowed so tests can
// exercise clock skew.
func (f *Fake) Set(t time.Time) {
	f.Advance(t.Sub(f.Now()))
}
