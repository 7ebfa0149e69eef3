// Package clock abstracts delayed callbacks so timer-driven state machines
// can be driven by hand in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a pending delayed callback.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Real schedules f with time.AfterFunc.
func Real(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake records scheduled callbacks and runs them only when told to.
type Fake struct {
	mu     sync.Mutex
	timers []*FakeTimer
}

// FakeTimer is a callback scheduled on a Fake.
type FakeTimer struct {
	Delay time.Duration

	fake    *Fake
	f       func()
	stopped bool
	fired   bool
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{}
}

// AfterFunc implements AfterFunc.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &FakeTimer{Delay: d, fake: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Stop implements Timer.
func (t *FakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Fire runs the callback if it is still pending. It reports whether the
// callback ran.
func (t *FakeTimer) Fire() bool {
	t.fake.mu.Lock()
	if t.stopped || t.fired {
		t.fake.mu.Unlock()
		return false
	}
	t.fired = true
	t.fake.mu.Unlock()
	t.f()
	return true
}

// Force runs the callback even if it was stopped, the way a real timer
// can fire concurrently with Stop.
func (t *FakeTimer) Force() {
	t.fake.mu.Lock()
	t.fired = true
	t.fake.mu.Unlock()
	t.f()
}

// Stopped reports whether Stop was called before the timer fired.
func (t *FakeTimer) Stopped() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()
	return t.stopped
}

// Pending returns the timers that have neither fired nor been stopped.
func (c *Fake) Pending() []*FakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*FakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// Scheduled returns every timer ever scheduled, in order.
func (c *Fake) Scheduled() []*FakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*FakeTimer, len(c.timers))
	copy(out, c.timers)
	return out
}

// FireAll fires every pending timer and returns how many ran.
func (c *Fake) FireAll() int {
	n := 0
	for _, t := range c.Pending() {
		if t.Fire() {
			n++
		}
	}
	return n
}
