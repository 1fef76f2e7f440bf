package testutil

import (
	"sort"
	"sync"
	"time"
)

// Clock is a manual clock for code that takes a Now func() time.Time.
// Timers created by AfterFunc fire during Advance and Set.
type Clock struct {
	mu     sync.Mutex
	t      time.Time
	timers []*ClockTimer
}

// ClockTimer is a pending call created by Clock.AfterFunc.
type ClockTimer struct {
	clock *Clock
	at    time.Time
	f     func()
}

// NewClock returns a clock set to 2026-01-01T00:00:00Z.
func NewClock() *Clock {
	return &Clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d and runs the timers that became due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	c.fire()
}

// Set moves the clock to t and runs the timers that became due.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
	c.fire()
}

// AfterFunc calls f on the goroutine that advances the clock past now+d.
func (c *Clock) AfterFunc(d time.Duration, f func()) *ClockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &ClockTimer{clock: c, at: c.t.Add(d), f: f}
	c.timers = append(c.timers, timer)
	return timer
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (t *ClockTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, pending := range c.timers {
		if pending == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// fire runs due timers in deadline order without holding the lock, so
// callbacks may create or stop timers.
func (c *Clock) fire() {
	c.mu.Lock()
	var due, rest []*ClockTimer
	for _, timer := range c.timers {
		if timer.at.After(c.t) {
			rest = append(rest, timer)
		} else {
			due = append(due, timer)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, timer := range due {
		timer.f()
	}
}
