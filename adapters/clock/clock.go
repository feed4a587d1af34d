// Package clock provides ports.Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/cmsodm/ports"
)

// Real returns the actual current time.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// Fake provides a controllable clock for testing.
// With a non-zero step, every call to Now advances the clock by step after
// reading it, so successive timestamps are strictly increasing.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t}
}

// NewStepping creates a fake clock that advances by step on every read.
func NewStepping(t time.Time, step time.Duration) *Fake {
	return &Fake{current: t, step: step}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.current
	f.current = f.current.Add(f.step)
	return now
}

// Set sets the fake current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake time forward by duration d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
